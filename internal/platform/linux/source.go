// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package linux implements the netstack.CounterSource contract against
// the Linux proc and sys filesystems, netlink, and the ethtool ioctl
// interface.
//
// Every read is best-effort: missing files, unsupported kernel features
// and permission failures surface as wrapped netstack.ErrNotAvailable /
// netstack.ErrPermissionDenied so the engine degrades the affected
// counters to absent instead of failing the pass.
package linux

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// Source reads Linux network stack counters.
type Source struct {
	procPath string
	sysPath  string
	logger   logr.Logger

	// Injectable for tests and for platforms without the facility.
	ringStats  func(name string) (map[string]uint64, error)
	neighCount func() (int, error)
}

var _ netstack.CounterSource = (*Source)(nil)

// Option customizes a Source.
type Option func(*Source)

// WithProcPath overrides the /proc mount, useful in containers and tests.
func WithProcPath(path string) Option {
	return func(s *Source) { s.procPath = path }
}

// WithSysPath overrides the /sys mount.
func WithSysPath(path string) Option {
	return func(s *Source) { s.sysPath = path }
}

// WithRingReader replaces the ethtool-backed ring buffer reader.
func WithRingReader(fn func(name string) (map[string]uint64, error)) Option {
	return func(s *Source) { s.ringStats = fn }
}

// WithNeighCounter replaces the netlink-backed neighbour table counter.
func WithNeighCounter(fn func() (int, error)) Option {
	return func(s *Source) { s.neighCount = fn }
}

// New builds a Source. HOST_PROC and HOST_SYS environment variables
// override the default mounts for containerized runs.
func New(logger logr.Logger, opts ...Option) (*Source, error) {
	s := &Source{
		procPath:   "/proc",
		sysPath:    "/sys",
		logger:     logger.WithName("linux-source"),
		ringStats:  defaultRingReader,
		neighCount: defaultNeighCount,
	}
	if p := os.Getenv("HOST_PROC"); p != "" {
		s.procPath = p
	}
	if p := os.Getenv("HOST_SYS"); p != "" {
		s.sysPath = p
	}
	for _, opt := range opts {
		opt(s)
	}
	if !filepath.IsAbs(s.procPath) {
		return nil, fmt.Errorf("%w: proc path must be absolute, got %q", netstack.ErrConfiguration, s.procPath)
	}
	if !filepath.IsAbs(s.sysPath) {
		return nil, fmt.Errorf("%w: sys path must be absolute, got %q", netstack.ErrConfiguration, s.sysPath)
	}
	return s, nil
}

// ListInterfaces returns the interface names present in /proc/net/dev.
func (s *Source) ListInterfaces(_ context.Context) ([]string, error) {
	stats, err := s.readNetDev()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	return names, nil
}

// ReadInterfaceCounters returns the /proc/net/dev row of one interface.
func (s *Source) ReadInterfaceCounters(_ context.Context, name string) (map[string]uint64, error) {
	stats, err := s.readNetDev()
	if err != nil {
		return nil, err
	}
	counters, ok := stats[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", netstack.ErrInterfaceNotFound, name)
	}
	return counters, nil
}

// ReadProtocolCounters reads one protocol-table domain.
func (s *Source) ReadProtocolCounters(_ context.Context, domain netstack.Domain) (map[string]uint64, error) {
	switch domain {
	case netstack.DomainTCP:
		return s.readTCP()
	case netstack.DomainUDP:
		return s.readSNMP("Udp")
	case netstack.DomainIP:
		return s.readSNMP("Ip")
	case netstack.DomainARP:
		return s.readARP()
	case netstack.DomainConntrack:
		return s.readConntrack()
	case netstack.DomainSoftnet:
		return s.readSoftnet()
	case netstack.DomainSockets:
		return s.readSockstat()
	}
	return nil, fmt.Errorf("%w: unknown domain %q", netstack.ErrNotAvailable, domain)
}

// ReadSysctl reads an integer kernel parameter by dotted name,
// e.g. net.ipv4.tcp_fin_timeout → /proc/sys/net/ipv4/tcp_fin_timeout.
func (s *Source) ReadSysctl(_ context.Context, key string) (int64, error) {
	path := filepath.Join(append([]string{s.procPath, "sys"}, strings.Split(key, ".")...)...)
	return readIntFile(path)
}

// ReadRingBufferStats returns NIC ring settings via the ethtool ioctl.
func (s *Source) ReadRingBufferStats(_ context.Context, name string) (map[string]uint64, error) {
	return s.ringStats(name)
}

// classifyFSError maps filesystem failures onto the source contract.
func classifyFSError(err error) error {
	switch {
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", netstack.ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", netstack.ErrNotAvailable, err)
	}
	return fmt.Errorf("%w: %v", netstack.ErrNotAvailable, err)
}
