// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import "fmt"

const (
	sysctlARPIgnore = "net.ipv4.conf.all.arp_ignore"
	sysctlARPFilter = "net.ipv4.conf.all.arp_filter"
	sysctlGCThresh3 = "net.ipv4.neigh.default.gc_thresh3"
)

// ARPPolicyRule flags arp_ignore/arp_filter values that differ from the
// expected policy. A non-default arp_ignore can make a host stop
// answering ARP on secondary addresses; arp_filter changes multi-homed
// behavior.
func ARPPolicyRule() Rule {
	return Rule{
		ID:    "arp-policy",
		Title: "ARP sysctl policy",
		Requires: []CounterID{
			sysctlCounter(sysctlARPIgnore),
			sysctlCounter(sysctlARPFilter),
		},
		Evaluate: evalARPPolicy,
	}
}

func evalARPPolicy(in EvalInput) []Finding {
	var findings []Finding
	ignore, _ := in.Sysctl(sysctlARPIgnore)
	if ignore != in.Config.ExpectedARPIgnore {
		findings = append(findings, Finding{
			RuleID:   "arp-policy",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("arp_ignore=%d differs from the expected policy value %d and may suppress ARP replies", ignore, in.Config.ExpectedARPIgnore),
			Recommendation: fmt.Sprintf("sysctl -w %s=%d and persist it in /etc/sysctl.conf",
				sysctlARPIgnore, in.Config.ExpectedARPIgnore),
			Evidence: map[string]float64{"arp_ignore": float64(ignore)},
		})
	}
	filter, _ := in.Sysctl(sysctlARPFilter)
	if filter != in.Config.ExpectedARPFilter {
		findings = append(findings, Finding{
			RuleID:   "arp-policy",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("arp_filter=%d differs from the expected policy value %d and can break multi-homed ARP", filter, in.Config.ExpectedARPFilter),
			Recommendation: fmt.Sprintf("sysctl -w %s=%d and persist it in /etc/sysctl.conf",
				sysctlARPFilter, in.Config.ExpectedARPFilter),
			Evidence: map[string]float64{"arp_filter": float64(filter)},
		})
	}
	return findings
}

// ARPTableRule watches the neighbour table: critical when the entry
// count approaches gc_thresh3 or when the kernel reported a full table
// in the interval, warning when unresolved queue entries were
// discarded.
func ARPTableRule() Rule {
	return Rule{
		ID:    "arp-table",
		Title: "ARP table pressure",
		Requires: []CounterID{
			{Domain: DomainARP, Name: "neigh_count"},
			sysctlCounter(sysctlGCThresh3),
		},
		Evaluate: evalARPTable,
	}
}

func evalARPTable(in EvalInput) []Finding {
	var findings []Finding
	count, _ := in.Counter(CounterID{Domain: DomainARP, Name: "neigh_count"})
	thresh, _ := in.Sysctl(sysctlGCThresh3)

	if thresh > 0 && float64(count) >= in.Config.ARPTableUsageRatio*float64(thresh) {
		findings = append(findings, Finding{
			RuleID:   "arp-table",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("neighbour table at %d/%d entries, overflow risk", count, thresh),
			Recommendation: "raise the garbage collection thresholds: sysctl -w net.ipv4.neigh.default.gc_thresh3=4096 " +
				"(with gc_thresh1=1024, gc_thresh2=2048) and persist them in /etc/sysctl.conf",
			Evidence: map[string]float64{
				"neigh_count": float64(count),
				"gc_thresh3":  float64(thresh),
			},
		})
	}

	if d, ok := in.Delta(CounterID{Domain: DomainARP, Name: "table_fulls"}); ok && !d.Unreliable && d.Raw > 0 {
		findings = append(findings, Finding{
			RuleID:         "arp-table",
			Severity:       SeverityCritical,
			Message:        fmt.Sprintf("neighbour table overflowed %d times in the interval (table_fulls)", d.Raw),
			Recommendation: "raise net.ipv4.neigh.default.gc_thresh3 and review whether a neighbour flood is in progress",
			Evidence:       map[string]float64{"table_fulls_delta": float64(d.Raw)},
		})
	}

	if d, ok := in.Delta(CounterID{Domain: DomainARP, Name: "unresolved_discards"}); ok && !d.Unreliable && d.Raw > 0 {
		findings = append(findings, Finding{
			RuleID:         "arp-table",
			Severity:       SeverityWarning,
			Message:        fmt.Sprintf("ARP request queue discarded %d unresolved entries in the interval", d.Raw),
			Recommendation: "raise the unresolved queue: sysctl -w net.ipv4.neigh.default.unres_qlen_bytes=65536",
			Evidence:       map[string]float64{"unresolved_discards_delta": float64(d.Raw)},
		})
	}
	return findings
}
