// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"context"
	"errors"
)

// Sentinel errors shared by counter sources and the engine.
var (
	// ErrNotAvailable means the counter domain does not exist on this
	// host: missing tool, unsupported kernel feature, absent proc file.
	ErrNotAvailable = errors.New("counter source not available")
	// ErrPermissionDenied means the read requires elevated privilege.
	ErrPermissionDenied = errors.New("permission denied reading counter source")
	// ErrInvalidInterval means the time delta between two snapshots was
	// not positive, e.g. the clock went backwards.
	ErrInvalidInterval = errors.New("non-positive interval between snapshots")
	// ErrInterfaceNotFound means the caller asked for an interface the
	// host does not have. Fatal for the invocation.
	ErrInterfaceNotFound = errors.New("interface not found")
	// ErrConfiguration marks a malformed threshold or toggle. Fatal at
	// startup.
	ErrConfiguration = errors.New("invalid configuration")
)

// CounterSource exposes point-in-time reads of named kernel counters.
// One implementation exists per platform.
//
// Every read is best-effort: a source returns ErrNotAvailable or
// ErrPermissionDenied (wrapped) rather than panicking, and the engine
// degrades the affected counters to absent. A source may shell out to
// or ioctl an external diagnostic facility but must never mutate
// kernel state.
type CounterSource interface {
	// ListInterfaces returns the names of the host's network interfaces.
	ListInterfaces(ctx context.Context) ([]string, error)

	// ReadInterfaceCounters returns the cumulative statistics of one
	// interface (rx/tx bytes, packets, errors, drops, fifo, ...).
	ReadInterfaceCounters(ctx context.Context, name string) (map[string]uint64, error)

	// ReadProtocolCounters returns the counters of one protocol-table
	// domain (tcp, udp, ip, arp, conntrack, softnet, sockets).
	ReadProtocolCounters(ctx context.Context, domain Domain) (map[string]uint64, error)

	// ReadSysctl returns the integer value of a dotted kernel parameter.
	ReadSysctl(ctx context.Context, key string) (int64, error)

	// ReadRingBufferStats returns NIC ring-buffer settings and driver
	// statistics for one interface, typically via an ethtool ioctl.
	// Absent when the facility is missing or the caller lacks privilege.
	ReadRingBufferStats(ctx context.Context, name string) (map[string]uint64, error)
}

// Ring-buffer counter names produced by ReadRingBufferStats.
const (
	CtrRingRxCurrent = "rx_current"
	CtrRingRxMax     = "rx_max"
	CtrRingTxCurrent = "tx_current"
	CtrRingTxMax     = "tx_max"
)
