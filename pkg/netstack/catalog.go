// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

// EvalInput is what a rule evaluation sees: the current snapshot, the
// deltas against the previous one (nil on the first cycle), and the
// thresholds. For per-interface rules Interface carries the concrete
// interface the wildcard requirements were resolved against.
type EvalInput struct {
	Snapshot  *Snapshot
	Deltas    DeltaSet
	Config    Config
	Interface string
}

// resolve substitutes the wildcard interface/ring domains with the
// input's concrete interface.
func (in EvalInput) resolve(id CounterID) CounterID {
	switch id.Domain {
	case DomainAnyInterface:
		id.Domain = InterfaceDomain(in.Interface)
	case DomainAnyRing:
		id.Domain = RingDomain(in.Interface)
	}
	return id
}

// Counter looks up a counter value in the current snapshot.
func (in EvalInput) Counter(id CounterID) (uint64, bool) {
	return in.Snapshot.Lookup(in.resolve(id))
}

// Delta looks up a counter's delta for this cycle.
func (in EvalInput) Delta(id CounterID) (Delta, bool) {
	d, ok := in.Deltas[in.resolve(id)]
	return d, ok
}

// Sysctl looks up an integer kernel parameter captured in the snapshot.
func (in EvalInput) Sysctl(key string) (int64, bool) {
	v, ok := in.Snapshot.Lookup(CounterID{Domain: DomainSysctl, Name: key})
	return int64(v), ok
}

// EvaluateFunc turns (snapshot, deltas, config) into zero or more
// findings. It must be pure: no side effects, identical findings for
// identical inputs.
type EvaluateFunc func(EvalInput) []Finding

// Rule is a declarative diagnostic check. Requires lists counters that
// must be present in the snapshot and RequiresDeltas counters that must
// have a delta this cycle; if any is absent the rule is skipped, which
// is a normal state, not a failure. PerInterface rules use the wildcard
// interface/ring domains and run once per interface in the snapshot.
type Rule struct {
	ID             string
	Title          string
	PerInterface   bool
	Requires       []CounterID
	RequiresDeltas []CounterID
	// Optional counters enrich a finding when present but never gate
	// the rule. Declared so the sampler knows to capture them.
	Optional []CounterID
	Evaluate EvaluateFunc
}

// Catalog is an ordered, append-only registry of rules. Registration
// order is evaluation order. Rules are never mutated after
// registration.
type Catalog struct {
	rules  []Rule
	byID   map[string]struct{}
	logger logr.Logger
}

func NewCatalog(logger logr.Logger) *Catalog {
	if logger.GetSink() == nil {
		logger = stdr.New(log.New(os.Stderr, "[netstack.catalog] ", log.LstdFlags))
	}
	return &Catalog{
		byID:   make(map[string]struct{}),
		logger: logger.WithName("catalog"),
	}
}

// Register appends a rule. It panics on a duplicate ID or a rule
// without an evaluation function: both are programming errors caught at
// startup, not runtime conditions.
func (c *Catalog) Register(r Rule) {
	if r.ID == "" || r.Evaluate == nil {
		panic(fmt.Sprintf("rule %q must have an ID and an Evaluate function", r.ID))
	}
	if _, exists := c.byID[r.ID]; exists {
		panic(fmt.Sprintf("rule %q already registered", r.ID))
	}
	c.byID[r.ID] = struct{}{}
	c.rules = append(c.rules, r)
	c.logger.V(1).Info("registered rule", "id", r.ID, "title", r.Title)
}

// Rules returns the catalog in registration order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// Len returns the number of registered rules.
func (c *Catalog) Len() int { return len(c.rules) }

// SysctlKeys returns the union of sysctl keys any rule requires, so the
// sampler knows what to capture.
func (c *Catalog) SysctlKeys() []string {
	seen := make(map[string]struct{})
	for _, r := range c.rules {
		for _, id := range r.Requires {
			if id.Domain == DomainSysctl {
				seen[id.Name] = struct{}{}
			}
		}
		for _, id := range r.Optional {
			if id.Domain == DomainSysctl {
				seen[id.Name] = struct{}{}
			}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EvaluateAll runs every rule whose requirements are satisfied, in
// registration order, and returns the findings plus the IDs of skipped
// rules. Per-interface rules are expanded over the snapshot's sorted
// interface list so evaluation stays deterministic.
func (c *Catalog) EvaluateAll(snapshot *Snapshot, deltas DeltaSet, cfg Config) ([]Finding, []string) {
	var findings []Finding
	var skipped []string

	interfaces := append([]string(nil), snapshot.Interfaces...)
	sort.Strings(interfaces)

	for _, rule := range c.rules {
		if rule.PerInterface {
			for _, iface := range interfaces {
				in := EvalInput{Snapshot: snapshot, Deltas: deltas, Config: cfg, Interface: iface}
				if !satisfied(rule, in) {
					skipped = append(skipped, rule.ID+"("+iface+")")
					continue
				}
				findings = append(findings, rule.Evaluate(in)...)
			}
			continue
		}

		in := EvalInput{Snapshot: snapshot, Deltas: deltas, Config: cfg}
		if !satisfied(rule, in) {
			skipped = append(skipped, rule.ID)
			continue
		}
		findings = append(findings, rule.Evaluate(in)...)
	}
	return findings, skipped
}

func satisfied(rule Rule, in EvalInput) bool {
	for _, id := range rule.Requires {
		if _, ok := in.Counter(id); !ok {
			return false
		}
	}
	for _, id := range rule.RequiresDeltas {
		if _, ok := in.Delta(id); !ok {
			return false
		}
	}
	return true
}

// ifaceCounter declares a per-interface requirement.
func ifaceCounter(name string) CounterID {
	return CounterID{Domain: DomainAnyInterface, Name: name}
}

func sysctlCounter(key string) CounterID {
	return CounterID{Domain: DomainSysctl, Name: key}
}
