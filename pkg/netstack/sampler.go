// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
)

// Sampler reads every counter the active catalog may need for a scope
// and assembles one immutable Snapshot. An individual counter or domain
// failing to read degrades to absent for that counter only; the sample
// as a whole never aborts for a per-domain failure.
type Sampler struct {
	source CounterSource
	logger logr.Logger
}

func NewSampler(source CounterSource, logger logr.Logger) *Sampler {
	return &Sampler{
		source: source,
		logger: logger.WithName("sampler"),
	}
}

// Sample captures a snapshot for the scope. sysctls is the catalog's
// union of required and optional kernel parameters.
//
// The timestamp carries Go's monotonic clock reading, so intervals
// computed between snapshots are immune to wall-clock steps.
//
// The only fatal condition is a scope naming an interface the host
// does not have (ErrInterfaceNotFound); everything else degrades.
func (s *Sampler) Sample(ctx context.Context, scope Scope, sysctls []string) (*Snapshot, error) {
	snap := &Snapshot{
		Scope:    scope,
		Taken:    time.Now(),
		Counters: make(map[CounterID]CounterValue),
	}

	interfaces, err := s.resolveInterfaces(ctx, scope)
	if err != nil {
		return nil, err
	}
	snap.Interfaces = interfaces

	for _, iface := range interfaces {
		counters, err := s.source.ReadInterfaceCounters(ctx, iface)
		if err != nil {
			if errors.Is(err, ErrInterfaceNotFound) && scope.Interface != "" {
				return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, iface)
			}
			s.logger.V(1).Info("interface counters absent", "interface", iface, "reason", err)
			continue
		}
		s.add(snap, InterfaceDomain(iface), counters)

		ring, err := s.source.ReadRingBufferStats(ctx, iface)
		if err != nil {
			s.logger.V(1).Info("ring buffer stats absent", "interface", iface, "reason", err)
			continue
		}
		s.add(snap, RingDomain(iface), ring)
	}

	for _, domain := range ProtocolDomains {
		counters, err := s.source.ReadProtocolCounters(ctx, domain)
		if err != nil {
			s.logger.V(1).Info("protocol counters absent", "domain", domain, "reason", err)
			continue
		}
		s.add(snap, domain, counters)
	}

	for _, key := range sysctls {
		v, err := s.source.ReadSysctl(ctx, key)
		if err != nil {
			s.logger.V(1).Info("sysctl absent", "key", key, "reason", err)
			continue
		}
		snap.Counters[CounterID{Domain: DomainSysctl, Name: key}] = CounterValue{Value: uint64(v)}
	}

	return snap, nil
}

func (s *Sampler) resolveInterfaces(ctx context.Context, scope Scope) ([]string, error) {
	names, err := s.source.ListInterfaces(ctx)
	if err != nil {
		if scope.Interface != "" {
			// Cannot verify existence; let the counter read decide.
			return []string{scope.Interface}, nil
		}
		s.logger.V(1).Info("interface list absent", "reason", err)
		return nil, nil
	}
	if scope.Interface == "" {
		sort.Strings(names)
		return names, nil
	}
	for _, name := range names {
		if name == scope.Interface {
			return []string{scope.Interface}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrInterfaceNotFound, scope.Interface)
}

func (s *Sampler) add(snap *Snapshot, domain Domain, counters map[string]uint64) {
	for name, value := range counters {
		snap.Counters[CounterID{Domain: domain, Name: name}] = CounterValue{
			Value: value,
			Width: counterWidth(domain, name),
		}
	}
}

// counterWidth declares the bit width of a counter so the delta engine
// can distinguish wraparound from reset. Gauges (table sizes, state
// histograms, settings) get width 0: a delta across them is
// directionless and is flagged unreliable if it happens to go negative.
func counterWidth(domain Domain, name string) uint8 {
	switch domain {
	case DomainSysctl, DomainSockets:
		return 0
	case DomainConntrack:
		if name == "count" || name == "max" {
			return 0
		}
		return 64
	case DomainARP:
		if name == "entries" || name == "neigh_count" {
			return 0
		}
		return 64
	case DomainTCP:
		if strings.HasPrefix(name, "state_") {
			return 0
		}
		return 64
	}
	if strings.HasPrefix(string(domain), domainRingPrefix) {
		return 0
	}
	return 64
}
