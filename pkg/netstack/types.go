// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"fmt"
	"time"
)

// Domain groups counters by where they come from. Interface and ring
// domains are parameterized by interface name; the wildcard forms are
// only valid in rule requirement declarations and are resolved against
// the snapshot's interface list at evaluation time.
type Domain string

const (
	DomainSysctl    Domain = "sysctl"
	DomainTCP       Domain = "tcp"
	DomainUDP       Domain = "udp"
	DomainIP        Domain = "ip"
	DomainARP       Domain = "arp"
	DomainConntrack Domain = "conntrack"
	DomainSoftnet   Domain = "softnet"
	DomainSockets   Domain = "sockets"

	domainInterfacePrefix = "interface:"
	domainRingPrefix      = "ring:"

	// Wildcard domains used in per-interface rule declarations.
	DomainAnyInterface Domain = "interface:*"
	DomainAnyRing      Domain = "ring:*"
)

// InterfaceDomain returns the counter domain for a named interface.
func InterfaceDomain(name string) Domain {
	return Domain(domainInterfacePrefix + name)
}

// RingDomain returns the counter domain for a named interface's NIC
// ring-buffer statistics.
func RingDomain(name string) Domain {
	return Domain(domainRingPrefix + name)
}

// ProtocolDomains lists the protocol-table domains a sampler reads.
var ProtocolDomains = []Domain{
	DomainTCP, DomainUDP, DomainIP, DomainARP,
	DomainConntrack, DomainSoftnet, DomainSockets,
}

// CounterID identifies a counter by (domain, name),
// e.g. (interface:eth0, rx_dropped) or (sysctl, net.ipv4.tcp_fin_timeout).
type CounterID struct {
	Domain Domain
	Name   string
}

func (id CounterID) String() string {
	return fmt.Sprintf("%s/%s", id.Domain, id.Name)
}

// Counter names within an interface domain, matching the /proc/net/dev
// column layout.
const (
	CtrRxBytes      = "rx_bytes"
	CtrRxPackets    = "rx_packets"
	CtrRxErrors     = "rx_errors"
	CtrRxDropped    = "rx_dropped"
	CtrRxFIFO       = "rx_fifo"
	CtrRxFrame      = "rx_frame"
	CtrRxCompressed = "rx_compressed"
	CtrRxMulticast  = "rx_multicast"
	CtrTxBytes      = "tx_bytes"
	CtrTxPackets    = "tx_packets"
	CtrTxErrors     = "tx_errors"
	CtrTxDropped    = "tx_dropped"
	CtrTxFIFO       = "tx_fifo"
	CtrTxCollisions = "tx_collisions"
	CtrTxCarrier    = "tx_carrier"
	CtrTxCompressed = "tx_compressed"
)

// CounterValue is a point-in-time reading. Width is the declared bit
// width of the underlying counter (32 or 64); zero means unknown, which
// makes a negative delta unreliable instead of a wraparound.
type CounterValue struct {
	Value uint64
	Width uint8
}

// Scope selects what a sampling cycle covers: a single interface, or
// every interface on the host when Interface is empty. Protocol-table
// and sysctl domains are always global.
type Scope struct {
	Interface string
}

func (s Scope) String() string {
	if s.Interface == "" {
		return "all"
	}
	return s.Interface
}

// Snapshot is one internally consistent set of counter readings.
// Snapshots are never mutated after the sampler returns them; each
// cycle supersedes the previous one.
type Snapshot struct {
	Scope      Scope
	Taken      time.Time
	Interfaces []string
	Counters   map[CounterID]CounterValue
}

// Lookup returns the value of a counter if it was captured.
func (s *Snapshot) Lookup(id CounterID) (uint64, bool) {
	cv, ok := s.Counters[id]
	return cv.Value, ok
}

// Has reports whether every given counter was captured.
func (s *Snapshot) Has(ids ...CounterID) bool {
	for _, id := range ids {
		if _, ok := s.Counters[id]; !ok {
			return false
		}
	}
	return true
}

// Delta is the change of one counter between two snapshots.
type Delta struct {
	Counter  CounterID
	Raw      uint64
	Rate     float64
	Interval time.Duration
	// Unreliable marks a negative raw difference on a counter with no
	// declared width: it cannot be told apart from a reset.
	Unreliable bool
}

// DeltaSet holds the deltas of one sampling cycle.
type DeltaSet map[CounterID]Delta

// Severity grades a finding.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Finding is one diagnostic conclusion produced by a rule evaluation.
// Findings are created fresh each pass and never reused across cycles.
type Finding struct {
	RuleID         string
	Severity       Severity
	Message        string
	Recommendation string
	Evidence       map[string]float64
}

// RateFigure is the live throughput of one interface over the last
// sampling interval.
type RateFigure struct {
	Interface      string
	RxBytesPerSec  float64
	TxBytesPerSec  float64
	RxHuman        string
	TxHuman        string
}

// InterfaceTotals are the cumulative counters of one interface as of
// the current snapshot.
type InterfaceTotals struct {
	Interface string
	RxBytes   uint64
	TxBytes   uint64
	RxErrors  uint64
	TxErrors  uint64
	RxDropped uint64
	TxDropped uint64
}

// Report is the result of one diagnostic pass. It is owned by the
// caller; the engine keeps no reference to it.
type Report struct {
	Scope    Scope
	Taken    time.Time
	Interval time.Duration
	Findings []Finding
	Rates    []RateFigure
	Totals   []InterfaceTotals
	// SkippedRules lists rules whose required counters were absent this
	// cycle. Populated only when Config.Verbose is set.
	SkippedRules []string
}

// HasSeverity reports whether any finding reaches the given severity.
func (r *Report) HasSeverity(sev Severity) bool {
	for _, f := range r.Findings {
		if f.Severity == sev {
			return true
		}
	}
	return false
}
