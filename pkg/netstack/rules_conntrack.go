// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import "fmt"

const sysctlCTEstablished = "net.netfilter.nf_conntrack_tcp_timeout_established"

// ConntrackRule watches the connection tracking table: warning when the
// entry count approaches the configured maximum, critical when the
// kernel failed to insert entries during the interval, and an
// informational note when the established-session timeout is long
// enough to pin dead sessions in the table for days.
func ConntrackRule() Rule {
	return Rule{
		ID:    "conntrack",
		Title: "Connection tracking table",
		Requires: []CounterID{
			{Domain: DomainConntrack, Name: "count"},
			{Domain: DomainConntrack, Name: "max"},
		},
		Optional: []CounterID{sysctlCounter(sysctlCTEstablished)},
		Evaluate: evalConntrack,
	}
}

func evalConntrack(in EvalInput) []Finding {
	var findings []Finding
	count, _ := in.Counter(CounterID{Domain: DomainConntrack, Name: "count"})
	max, _ := in.Counter(CounterID{Domain: DomainConntrack, Name: "max"})

	if max > 0 && float64(count) >= in.Config.ConntrackUsageRatio*float64(max) {
		findings = append(findings, Finding{
			RuleID:   "conntrack",
			Severity: SeverityWarning,
			Message: fmt.Sprintf("conntrack table at %d/%d entries (%.0f%%), new flows will be dropped when it fills",
				count, max, 100*float64(count)/float64(max)),
			Recommendation: "raise the table: sysctl -w net.netfilter.nf_conntrack_max=3276800 and shorten " +
				"net.netfilter.nf_conntrack_tcp_timeout_established; persist both in /etc/sysctl.conf",
			Evidence: map[string]float64{
				"conntrack_count": float64(count),
				"conntrack_max":   float64(max),
			},
		})
	}

	if d, ok := in.Delta(CounterID{Domain: DomainConntrack, Name: "insert_failed"}); ok && !d.Unreliable && d.Raw > 0 {
		evidence := map[string]float64{"insert_failed_delta": float64(d.Raw)}
		if drop, ok := in.Delta(CounterID{Domain: DomainConntrack, Name: "drop"}); ok && !drop.Unreliable {
			evidence["drop_delta"] = float64(drop.Raw)
		}
		findings = append(findings, Finding{
			RuleID:         "conntrack",
			Severity:       SeverityCritical,
			Message:        fmt.Sprintf("conntrack failed to insert %d entries in the interval, packets are being dropped", d.Raw),
			Recommendation: "the table is full or under races; raise net.netfilter.nf_conntrack_max and check dmesg for 'table full, dropping packet'",
			Evidence:       evidence,
		})
	}

	if timeout, ok := in.Sysctl(sysctlCTEstablished); ok && timeout > in.Config.EstablishedTimeoutMax {
		findings = append(findings, Finding{
			RuleID:   "conntrack",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("established-session conntrack timeout is %ds, dead sessions occupy the table for over a day", timeout),
			Recommendation: fmt.Sprintf("sysctl -w %s=1200 and persist it in /etc/sysctl.conf",
				sysctlCTEstablished),
			Evidence: map[string]float64{"tcp_timeout_established": float64(timeout)},
		})
	}
	return findings
}

// IPFragmentationRule warns when fragment reassembly timed out or
// failed during the interval. The current ipfrag sysctls ride along as
// evidence so the operator sees the knobs next to the symptom.
func IPFragmentationRule() Rule {
	return Rule{
		ID:    "ipfrag",
		Title: "IP fragment reassembly",
		RequiresDeltas: []CounterID{
			{Domain: DomainIP, Name: "ReasmTimeout"},
			{Domain: DomainIP, Name: "ReasmFails"},
		},
		Optional: []CounterID{
			sysctlCounter("net.ipv4.ipfrag_time"),
			sysctlCounter("net.ipv4.ipfrag_high_thresh"),
			sysctlCounter("net.ipv4.ipfrag_low_thresh"),
		},
		Evaluate: evalIPFragmentation,
	}
}

func evalIPFragmentation(in EvalInput) []Finding {
	timeouts, _ := in.Delta(CounterID{Domain: DomainIP, Name: "ReasmTimeout"})
	fails, _ := in.Delta(CounterID{Domain: DomainIP, Name: "ReasmFails"})
	if timeouts.Unreliable || fails.Unreliable {
		return nil
	}
	if timeouts.Raw == 0 && fails.Raw == 0 {
		return nil
	}

	evidence := map[string]float64{
		"reasm_timeout_delta": float64(timeouts.Raw),
		"reasm_fails_delta":   float64(fails.Raw),
	}
	for _, key := range []string{
		"net.ipv4.ipfrag_time",
		"net.ipv4.ipfrag_high_thresh",
		"net.ipv4.ipfrag_low_thresh",
	} {
		if v, ok := in.Sysctl(key); ok {
			evidence[key] = float64(v)
		}
	}
	return []Finding{{
		RuleID:   "ipfrag",
		Severity: SeverityWarning,
		Message: fmt.Sprintf("IP fragment reassembly dropped packets in the interval (%d timeouts, %d failures)",
			timeouts.Raw, fails.Raw),
		Recommendation: "raise the reassembly memory: sysctl -w net.ipv4.ipfrag_high_thresh=4194304 " +
			"net.ipv4.ipfrag_low_thresh=3145728, and keep net.ipv4.ipfrag_time at 30",
		Evidence: evidence,
	}}
}
