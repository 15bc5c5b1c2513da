// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"context"
	"fmt"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleCapturesAllDomains(t *testing.T) {
	source := newFakeSource()
	source.setInterface("eth0", map[string]uint64{CtrRxBytes: 100, CtrTxBytes: 200})
	source.setInterface("lo", map[string]uint64{CtrRxBytes: 5, CtrTxBytes: 5})
	source.setProtocol(DomainUDP, map[string]uint64{"InErrors": 3})
	source.setProtocol(DomainSockets, map[string]uint64{"tcp_time_wait": 42})
	source.sysctls["net.core.somaxconn"] = 4096
	source.rings["eth0"] = map[string]uint64{CtrRingRxCurrent: 256, CtrRingRxMax: 4096}

	sampler := NewSampler(source, logr.Discard())
	snap, err := sampler.Sample(context.Background(), Scope{}, []string{"net.core.somaxconn"})
	require.NoError(t, err)

	assert.Equal(t, []string{"eth0", "lo"}, snap.Interfaces, "sorted")
	assert.False(t, snap.Taken.IsZero())

	v, ok := snap.Lookup(CounterID{Domain: InterfaceDomain("eth0"), Name: CtrRxBytes})
	require.True(t, ok)
	assert.Equal(t, uint64(100), v)

	v, ok = snap.Lookup(CounterID{Domain: RingDomain("eth0"), Name: CtrRingRxMax})
	require.True(t, ok)
	assert.Equal(t, uint64(4096), v)

	v, ok = snap.Lookup(CounterID{Domain: DomainSockets, Name: "tcp_time_wait"})
	require.True(t, ok)
	assert.Equal(t, uint64(42), v)

	v, ok = snap.Lookup(CounterID{Domain: DomainSysctl, Name: "net.core.somaxconn"})
	require.True(t, ok)
	assert.Equal(t, uint64(4096), v)
}

func TestSampleScopeRestrictsInterfaces(t *testing.T) {
	source := newFakeSource()
	source.setInterface("eth0", map[string]uint64{CtrRxBytes: 100})
	source.setInterface("eth1", map[string]uint64{CtrRxBytes: 200})

	sampler := NewSampler(source, logr.Discard())
	snap, err := sampler.Sample(context.Background(), Scope{Interface: "eth1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"eth1"}, snap.Interfaces)
	_, ok := snap.Lookup(CounterID{Domain: InterfaceDomain("eth0"), Name: CtrRxBytes})
	assert.False(t, ok, "out-of-scope interface must not be read")
}

func TestSampleUnknownInterface(t *testing.T) {
	source := newFakeSource()
	source.setInterface("eth0", map[string]uint64{CtrRxBytes: 100})

	sampler := NewSampler(source, logr.Discard())
	_, err := sampler.Sample(context.Background(), Scope{Interface: "wg7"}, nil)
	assert.ErrorIs(t, err, ErrInterfaceNotFound)
}

func TestSampleDegradesPerDomain(t *testing.T) {
	source := newFakeSource()
	source.setInterface("eth0", map[string]uint64{CtrRxBytes: 100})
	source.setProtocol(DomainUDP, map[string]uint64{"InErrors": 3})
	// Every other protocol domain errors out; the sample still succeeds.

	sampler := NewSampler(source, logr.Discard())
	snap, err := sampler.Sample(context.Background(), Scope{}, []string{"net.missing.key"})
	require.NoError(t, err)

	_, ok := snap.Lookup(CounterID{Domain: DomainUDP, Name: "InErrors"})
	assert.True(t, ok)
	_, ok = snap.Lookup(CounterID{Domain: DomainConntrack, Name: "count"})
	assert.False(t, ok)
	_, ok = snap.Lookup(CounterID{Domain: DomainSysctl, Name: "net.missing.key"})
	assert.False(t, ok)
}

func TestSampleListFailureWithNamedScope(t *testing.T) {
	// The interface list being unreadable must not block a named scope;
	// the per-interface read decides whether the interface exists.
	source := newFakeSource()
	source.setInterface("eth0", map[string]uint64{CtrRxBytes: 100})
	source.listErr = fmt.Errorf("%w: netlink down", ErrNotAvailable)

	sampler := NewSampler(source, logr.Discard())
	snap, err := sampler.Sample(context.Background(), Scope{Interface: "eth0"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"eth0"}, snap.Interfaces)

	_, err = sampler.Sample(context.Background(), Scope{Interface: "wg7"}, nil)
	assert.ErrorIs(t, err, ErrInterfaceNotFound)
}

func TestCounterWidths(t *testing.T) {
	tests := []struct {
		domain Domain
		name   string
		want   uint8
	}{
		{InterfaceDomain("eth0"), CtrRxBytes, 64},
		{RingDomain("eth0"), CtrRingRxCurrent, 0},
		{DomainSysctl, "net.core.somaxconn", 0},
		{DomainSockets, "tcp_time_wait", 0},
		{DomainConntrack, "count", 0},
		{DomainConntrack, "insert_failed", 64},
		{DomainARP, "neigh_count", 0},
		{DomainARP, "table_fulls", 64},
		{DomainTCP, "state_established", 0},
		{DomainTCP, "RetransSegs", 64},
		{DomainSoftnet, "dropped", 64},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, counterWidth(tt.domain, tt.name),
			"%s/%s", tt.domain, tt.name)
	}
}
