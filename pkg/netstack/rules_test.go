// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// evalOn runs one rule against a hand-built snapshot and delta set,
// resolving per-interface rules against eth0.
func evalOn(t *testing.T, rule Rule, snap *Snapshot, deltas DeltaSet, cfg Config) []Finding {
	t.Helper()
	in := EvalInput{Snapshot: snap, Deltas: deltas, Config: cfg, Interface: "eth0"}
	require.True(t, satisfied(rule, in), "requirements must be satisfied for this test")
	return rule.Evaluate(in)
}

func deltaOf(raw uint64, interval time.Duration) Delta {
	return Delta{Raw: raw, Rate: float64(raw) / interval.Seconds(), Interval: interval}
}

func TestRingBufferRule(t *testing.T) {
	rule := RingBufferRule()
	fifo := CounterID{Domain: InterfaceDomain("eth0"), Name: CtrRxFIFO}
	snap := &Snapshot{Interfaces: []string{"eth0"}, Counters: map[CounterID]CounterValue{}}

	t.Run("no drops no finding", func(t *testing.T) {
		deltas := DeltaSet{fifo: deltaOf(0, 2*time.Second)}
		assert.Empty(t, evalOn(t, rule, snap, deltas, DefaultConfig()))
	})

	t.Run("drops produce warning with delta and rate", func(t *testing.T) {
		deltas := DeltaSet{fifo: deltaOf(40, 2*time.Second)}
		findings := evalOn(t, rule, snap, deltas, DefaultConfig())

		require.Len(t, findings, 1)
		f := findings[0]
		assert.Equal(t, SeverityWarning, f.Severity)
		assert.Equal(t, float64(40), f.Evidence["delta"])
		assert.Equal(t, float64(20), f.Evidence["rate"])
		assert.Contains(t, f.Recommendation, "ethtool -G eth0")
	})

	t.Run("ring sizes enrich the recommendation", func(t *testing.T) {
		withRing := &Snapshot{
			Interfaces: []string{"eth0"},
			Counters: map[CounterID]CounterValue{
				{Domain: RingDomain("eth0"), Name: CtrRingRxCurrent}: {Value: 256},
				{Domain: RingDomain("eth0"), Name: CtrRingRxMax}:     {Value: 4096},
			},
		}
		deltas := DeltaSet{fifo: deltaOf(40, 2*time.Second)}
		findings := evalOn(t, rule, withRing, deltas, DefaultConfig())

		require.Len(t, findings, 1)
		assert.Equal(t, float64(256), findings[0].Evidence["ring_rx_current"])
		assert.Equal(t, float64(4096), findings[0].Evidence["ring_rx_max"])
		assert.Contains(t, findings[0].Recommendation, "ethtool -G eth0 rx 4096")
	})
}

func TestInterfaceHealthRule(t *testing.T) {
	rule := InterfaceHealthRule()
	snap := &Snapshot{Interfaces: []string{"eth0"}, Counters: map[CounterID]CounterValue{}}

	buildDeltas := func(values map[string]uint64) DeltaSet {
		ds := make(DeltaSet)
		for _, name := range []string{
			CtrRxPackets, CtrRxErrors, CtrRxDropped, CtrRxFIFO, CtrRxFrame,
			CtrTxPackets, CtrTxErrors, CtrTxDropped, CtrTxFIFO,
		} {
			ds[CounterID{Domain: InterfaceDomain("eth0"), Name: name}] = deltaOf(values[name], time.Second)
		}
		return ds
	}

	t.Run("clean interval yields nothing", func(t *testing.T) {
		deltas := buildDeltas(map[string]uint64{CtrRxPackets: 1000, CtrTxPackets: 800})
		assert.Empty(t, evalOn(t, rule, snap, deltas, DefaultConfig()))
	})

	t.Run("severity follows the error ratio", func(t *testing.T) {
		tests := []struct {
			name    string
			packets uint64
			errors  uint64
			want    Severity
		}{
			{"trace errors", 1000000, 1, SeverityInfo},
			{"warning ratio", 10000, 20, SeverityWarning},
			{"critical ratio", 1000, 100, SeverityCritical},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				deltas := buildDeltas(map[string]uint64{
					CtrRxPackets: tt.packets,
					CtrRxErrors:  tt.errors,
				})
				findings := evalOn(t, rule, snap, deltas, DefaultConfig())
				require.Len(t, findings, 1)
				assert.Equal(t, tt.want, findings[0].Severity)
				assert.Contains(t, findings[0].Message, "RX")
			})
		}
	})

	t.Run("both directions report separately", func(t *testing.T) {
		deltas := buildDeltas(map[string]uint64{
			CtrRxPackets: 1000, CtrRxDropped: 50,
			CtrTxPackets: 1000, CtrTxFIFO: 30,
		})
		findings := evalOn(t, rule, snap, deltas, DefaultConfig())
		require.Len(t, findings, 2)
		assert.Contains(t, findings[0].Message, "RX")
		assert.Contains(t, findings[1].Message, "TX")
	})
}

func TestTCPTimeWaitRule(t *testing.T) {
	rule := TCPTimeWaitRule()

	snapshotWith := func(tw uint64, sysctls map[string]uint64) *Snapshot {
		counters := map[CounterID]CounterValue{
			{Domain: DomainSockets, Name: "tcp_time_wait"}: {Value: tw},
		}
		for k, v := range sysctls {
			counters[CounterID{Domain: DomainSysctl, Name: k}] = CounterValue{Value: v}
		}
		return &Snapshot{Counters: counters}
	}

	t.Run("absolute threshold", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(50000, nil), nil, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityWarning, findings[0].Severity)
		assert.Equal(t, map[string]float64{"tcp_time_wait": 50000}, findings[0].Evidence)
	})

	t.Run("below threshold is silent", func(t *testing.T) {
		assert.Empty(t, evalOn(t, rule, snapshotWith(500, nil), nil, DefaultConfig()))
	})

	t.Run("bucket usage ratio", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(9000, map[string]uint64{
			"net.ipv4.tcp_max_tw_buckets": 10000,
		}), nil, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityWarning, findings[0].Severity)
		assert.Contains(t, findings[0].Message, "tcp_max_tw_buckets")
	})

	t.Run("long fin timeout is informational", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(10, map[string]uint64{
			"net.ipv4.tcp_fin_timeout": 120,
		}), nil, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityInfo, findings[0].Severity)
	})
}

func TestTCPQueueRule(t *testing.T) {
	rule := TCPQueueRule()

	snapshotWith := func(synRecv, established uint64) *Snapshot {
		return &Snapshot{Counters: map[CounterID]CounterValue{
			{Domain: DomainTCP, Name: "state_syn_recv"}:    {Value: synRecv},
			{Domain: DomainTCP, Name: "state_established"}: {Value: established},
		}}
	}
	queueDeltas := func(drops, overflows uint64) DeltaSet {
		return DeltaSet{
			{Domain: DomainTCP, Name: "ListenDrops"}:     deltaOf(drops, time.Second),
			{Domain: DomainTCP, Name: "ListenOverflows"}: deltaOf(overflows, time.Second),
		}
	}

	t.Run("quiet queues", func(t *testing.T) {
		assert.Empty(t, evalOn(t, rule, snapshotWith(5, 100), queueDeltas(0, 0), DefaultConfig()))
	})

	t.Run("overflow warns", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(5, 100), queueDeltas(12, 3), DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityWarning, findings[0].Severity)
	})

	t.Run("syn asymmetry escalates to critical", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(2000, 10), queueDeltas(12, 0), DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityCritical, findings[0].Severity)
		assert.Contains(t, findings[0].Message, "SYN flood")
	})
}

func TestConntrackRule(t *testing.T) {
	rule := ConntrackRule()

	snapshotWith := func(count, max uint64, sysctls map[string]uint64) *Snapshot {
		counters := map[CounterID]CounterValue{
			{Domain: DomainConntrack, Name: "count"}: {Value: count},
			{Domain: DomainConntrack, Name: "max"}:   {Value: max},
		}
		for k, v := range sysctls {
			counters[CounterID{Domain: DomainSysctl, Name: k}] = CounterValue{Value: v}
		}
		return &Snapshot{Counters: counters}
	}

	t.Run("healthy table", func(t *testing.T) {
		assert.Empty(t, evalOn(t, rule, snapshotWith(1000, 262144, nil), nil, DefaultConfig()))
	})

	t.Run("near capacity warns", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(250000, 262144, nil), nil, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityWarning, findings[0].Severity)
	})

	t.Run("insert failures are critical", func(t *testing.T) {
		deltas := DeltaSet{
			{Domain: DomainConntrack, Name: "insert_failed"}: deltaOf(7, time.Second),
		}
		findings := evalOn(t, rule, snapshotWith(1000, 262144, nil), deltas, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityCritical, findings[0].Severity)
	})

	t.Run("week-long established timeout noted", func(t *testing.T) {
		findings := evalOn(t, rule, snapshotWith(1000, 262144, map[string]uint64{
			"net.netfilter.nf_conntrack_tcp_timeout_established": 432000,
		}), nil, DefaultConfig())
		require.Len(t, findings, 1)
		assert.Equal(t, SeverityInfo, findings[0].Severity)
	})
}

func TestARPPolicyRule(t *testing.T) {
	rule := ARPPolicyRule()

	snapshotWith := func(ignore, filter uint64) *Snapshot {
		return &Snapshot{Counters: map[CounterID]CounterValue{
			{Domain: DomainSysctl, Name: "net.ipv4.conf.all.arp_ignore"}: {Value: ignore},
			{Domain: DomainSysctl, Name: "net.ipv4.conf.all.arp_filter"}: {Value: filter},
		}}
	}

	assert.Empty(t, evalOn(t, rule, snapshotWith(0, 0), nil, DefaultConfig()))

	findings := evalOn(t, rule, snapshotWith(1, 1), nil, DefaultConfig())
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, SeverityCritical, f.Severity)
	}
}

func TestUDPDropRule(t *testing.T) {
	rule := UDPDropRule()
	snap := &Snapshot{Counters: map[CounterID]CounterValue{}}
	udpDeltas := func(inErr, rcvbuf uint64) DeltaSet {
		return DeltaSet{
			{Domain: DomainUDP, Name: "InErrors"}:     deltaOf(inErr, time.Second),
			{Domain: DomainUDP, Name: "RcvbufErrors"}: deltaOf(rcvbuf, time.Second),
		}
	}

	assert.Empty(t, evalOn(t, rule, snap, udpDeltas(0, 0), DefaultConfig()))

	findings := evalOn(t, rule, snap, udpDeltas(30, 25), DefaultConfig())
	require.Len(t, findings, 1)
	assert.Equal(t, SeverityWarning, findings[0].Severity)
	assert.Contains(t, findings[0].Recommendation, "rmem_max")
}

func TestSocketBufferRule(t *testing.T) {
	rule := SocketBufferRule()

	snapshotWith := func(rmem, wmem uint64) *Snapshot {
		return &Snapshot{Counters: map[CounterID]CounterValue{
			{Domain: DomainSysctl, Name: "net.core.rmem_max"}: {Value: rmem},
			{Domain: DomainSysctl, Name: "net.core.wmem_max"}: {Value: wmem},
		}}
	}

	assert.Empty(t, evalOn(t, rule, snapshotWith(8388608, 8388608), nil, DefaultConfig()))

	findings := evalOn(t, rule, snapshotWith(212992, 212992), nil, DefaultConfig())
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, SeverityInfo, f.Severity)
	}
}

func TestRulesArePure(t *testing.T) {
	// Evaluating the same input twice must return identical findings.
	fifo := CounterID{Domain: InterfaceDomain("eth0"), Name: CtrRxFIFO}
	snap := &Snapshot{Interfaces: []string{"eth0"}, Counters: map[CounterID]CounterValue{}}
	deltas := DeltaSet{fifo: deltaOf(40, 2*time.Second)}
	rule := RingBufferRule()

	first := evalOn(t, rule, snap, deltas, DefaultConfig())
	second := evalOn(t, rule, snap, deltas, DefaultConfig())
	assert.Equal(t, first, second)
}
