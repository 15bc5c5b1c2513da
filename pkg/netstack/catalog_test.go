// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRegisterPanics(t *testing.T) {
	c := NewCatalog(logr.Discard())
	rule := Rule{ID: "dup", Evaluate: func(EvalInput) []Finding { return nil }}
	c.Register(rule)

	assert.Panics(t, func() { c.Register(rule) }, "duplicate ID")
	assert.Panics(t, func() { c.Register(Rule{ID: "no-eval"}) }, "missing Evaluate")
	assert.Panics(t, func() { c.Register(Rule{Evaluate: rule.Evaluate}) }, "missing ID")
}

func TestCatalogOrderPreserved(t *testing.T) {
	c := NewCatalog(logr.Discard())
	for _, id := range []string{"c", "a", "b"} {
		c.Register(Rule{ID: id, Evaluate: func(EvalInput) []Finding { return nil }})
	}

	var got []string
	for _, r := range c.Rules() {
		got = append(got, r.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, got, "registration order is evaluation order")
}

func TestCatalogSysctlKeys(t *testing.T) {
	c := NewCatalog(logr.Discard())
	c.Register(Rule{
		ID:       "one",
		Requires: []CounterID{sysctlCounter("net.b"), sysctlCounter("net.a")},
		Evaluate: func(EvalInput) []Finding { return nil },
	})
	c.Register(Rule{
		ID:       "two",
		Requires: []CounterID{sysctlCounter("net.a")},
		Optional: []CounterID{sysctlCounter("net.c")},
		Evaluate: func(EvalInput) []Finding { return nil },
	})

	assert.Equal(t, []string{"net.a", "net.b", "net.c"}, c.SysctlKeys())
}

func TestEvaluateAllSkipsUnsatisfied(t *testing.T) {
	c := NewCatalog(logr.Discard())
	c.Register(Rule{
		ID:       "needs-missing-counter",
		Requires: []CounterID{{Domain: DomainConntrack, Name: "count"}},
		Evaluate: func(EvalInput) []Finding {
			t.Fatal("must not evaluate with requirements unmet")
			return nil
		},
	})
	c.Register(Rule{
		ID:             "needs-missing-delta",
		RequiresDeltas: []CounterID{{Domain: DomainUDP, Name: "InErrors"}},
		Evaluate: func(EvalInput) []Finding {
			t.Fatal("must not evaluate with no delta this cycle")
			return nil
		},
	})
	c.Register(Rule{
		ID: "always-runs",
		Evaluate: func(EvalInput) []Finding {
			return []Finding{{RuleID: "always-runs", Severity: SeverityInfo, Message: "ok"}}
		},
	})

	snap := &Snapshot{Counters: map[CounterID]CounterValue{}}
	findings, skipped := c.EvaluateAll(snap, nil, DefaultConfig())

	require.Len(t, findings, 1)
	assert.Equal(t, "always-runs", findings[0].RuleID)
	assert.Equal(t, []string{"needs-missing-counter", "needs-missing-delta"}, skipped)
}

func TestEvaluateAllPerInterfaceExpansion(t *testing.T) {
	c := NewCatalog(logr.Discard())
	c.Register(Rule{
		ID:           "per-iface",
		PerInterface: true,
		Requires:     []CounterID{ifaceCounter(CtrRxBytes)},
		Evaluate: func(in EvalInput) []Finding {
			return []Finding{{RuleID: "per-iface", Severity: SeverityInfo, Message: in.Interface}}
		},
	})

	snap := &Snapshot{
		Interfaces: []string{"eth1", "eth0", "lo"},
		Counters: map[CounterID]CounterValue{
			{Domain: InterfaceDomain("eth0"), Name: CtrRxBytes}: {Value: 1, Width: 64},
			{Domain: InterfaceDomain("lo"), Name: CtrRxBytes}:   {Value: 1, Width: 64},
		},
	}
	findings, skipped := c.EvaluateAll(snap, nil, DefaultConfig())

	// Sorted interface order, and the interface without the counter is
	// skipped individually.
	require.Len(t, findings, 2)
	assert.Equal(t, "eth0", findings[0].Message)
	assert.Equal(t, "lo", findings[1].Message)
	assert.Equal(t, []string{"per-iface(eth1)"}, skipped)
}

func TestEvaluateAllDeterministic(t *testing.T) {
	c := DefaultCatalog(logr.Discard())
	snap := &Snapshot{
		Interfaces: []string{"eth0"},
		Counters: map[CounterID]CounterValue{
			{Domain: DomainSockets, Name: "tcp_time_wait"}:            {Value: 50000},
			{Domain: DomainSysctl, Name: "net.core.rmem_max"}:         {Value: 212992},
			{Domain: DomainSysctl, Name: "net.core.wmem_max"}:         {Value: 212992},
			{Domain: DomainSysctl, Name: "net.ipv4.tcp_reordering"}:   {Value: 3},
			{Domain: DomainSysctl, Name: "net.ipv4.tcp_window_scaling"}: {Value: 1},
			{Domain: DomainSysctl, Name: "net.ipv4.tcp_sack"}:         {Value: 1},
		},
	}

	first, firstSkipped := c.EvaluateAll(snap, nil, DefaultConfig())
	second, secondSkipped := c.EvaluateAll(snap, nil, DefaultConfig())

	assert.Equal(t, first, second, "identical input must produce identical findings")
	assert.Equal(t, firstSkipped, secondSkipped)
}

func TestDefaultCatalogRegistersAllRules(t *testing.T) {
	c := DefaultCatalog(logr.Discard())
	assert.Equal(t, 13, c.Len())

	want := []string{
		"ringbuffer-drops", "interface-health", "softnet-backlog",
		"arp-policy", "arp-table", "conntrack", "ipfrag",
		"tcp-timewait", "tcp-queue", "tcp-timestamp", "tcp-baseline",
		"udp-drops", "socket-buffers",
	}
	var got []string
	for _, r := range c.Rules() {
		got = append(got, r.ID)
	}
	assert.Equal(t, want, got)
}
