// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import "fmt"

const (
	sysctlMaxTWBuckets   = "net.ipv4.tcp_max_tw_buckets"
	sysctlFinTimeout     = "net.ipv4.tcp_fin_timeout"
	sysctlMaxSynBacklog  = "net.ipv4.tcp_max_syn_backlog"
	sysctlSynackRetries  = "net.ipv4.tcp_synack_retries"
	sysctlSomaxconn      = "net.core.somaxconn"
	sysctlTWRecycle      = "net.ipv4.tcp_tw_recycle"
	sysctlReordering     = "net.ipv4.tcp_reordering"
	sysctlWindowScaling  = "net.ipv4.tcp_window_scaling"
	sysctlSACK           = "net.ipv4.tcp_sack"
)

// TCPTimeWaitRule warns when the TIME-WAIT socket count crosses the
// absolute threshold or approaches tcp_max_tw_buckets. When neither
// fires but tcp_fin_timeout is above the baseline, an informational
// note is emitted instead.
func TCPTimeWaitRule() Rule {
	return Rule{
		ID:    "tcp-timewait",
		Title: "TCP TIME-WAIT pressure",
		Requires: []CounterID{
			{Domain: DomainSockets, Name: "tcp_time_wait"},
		},
		Optional: []CounterID{
			sysctlCounter(sysctlMaxTWBuckets),
			sysctlCounter(sysctlFinTimeout),
		},
		Evaluate: evalTCPTimeWait,
	}
}

func evalTCPTimeWait(in EvalInput) []Finding {
	tw, _ := in.Counter(CounterID{Domain: DomainSockets, Name: "tcp_time_wait"})
	evidence := map[string]float64{"tcp_time_wait": float64(tw)}

	trigger := tw > in.Config.TimeWaitWarn
	message := fmt.Sprintf("%d sockets in TIME-WAIT exceeds the threshold of %d", tw, in.Config.TimeWaitWarn)
	if max, ok := in.Sysctl(sysctlMaxTWBuckets); ok && max > 0 {
		evidence["tcp_max_tw_buckets"] = float64(max)
		if float64(tw) >= in.Config.TimeWaitUsageRatio*float64(max) {
			trigger = true
			message = fmt.Sprintf("%d sockets in TIME-WAIT, %.0f%% of tcp_max_tw_buckets (%d)",
				tw, 100*float64(tw)/float64(max), max)
		}
	}
	finTimeout, haveFin := in.Sysctl(sysctlFinTimeout)
	if haveFin {
		evidence["tcp_fin_timeout"] = float64(finTimeout)
	}

	if trigger {
		return []Finding{{
			RuleID:   "tcp-timewait",
			Severity: SeverityWarning,
			Message:  message,
			Recommendation: "enable reuse and shorten the FIN timeout: sysctl -w net.ipv4.tcp_tw_reuse=1 " +
				"net.ipv4.tcp_fin_timeout=15; raise net.ipv4.tcp_max_tw_buckets if the workload is legitimately " +
				"short-connection heavy, and prefer connection pooling in the application",
			Evidence: evidence,
		}}
	}
	if haveFin && finTimeout > in.Config.FinTimeoutBaseline {
		return []Finding{{
			RuleID:         "tcp-timewait",
			Severity:       SeverityInfo,
			Message:        fmt.Sprintf("tcp_fin_timeout is %ds, above the usual %ds", finTimeout, in.Config.FinTimeoutBaseline),
			Recommendation: "sysctl -w net.ipv4.tcp_fin_timeout=60 unless long FIN timeouts are intentional",
			Evidence:       evidence,
		}}
	}
	return nil
}

// TCPQueueRule warns when the SYN or accept queue overflowed during the
// interval, and escalates to critical when the SYN_RECV population is
// far out of proportion to established connections, the signature of a
// SYN flood.
func TCPQueueRule() Rule {
	return Rule{
		ID:    "tcp-queue",
		Title: "TCP listen queue overflow",
		Requires: []CounterID{
			{Domain: DomainTCP, Name: "state_syn_recv"},
			{Domain: DomainTCP, Name: "state_established"},
		},
		RequiresDeltas: []CounterID{
			{Domain: DomainTCP, Name: "ListenDrops"},
			{Domain: DomainTCP, Name: "ListenOverflows"},
		},
		Optional: []CounterID{
			sysctlCounter(sysctlMaxSynBacklog),
			sysctlCounter(sysctlSynackRetries),
			sysctlCounter(sysctlSomaxconn),
		},
		Evaluate: evalTCPQueue,
	}
}

func evalTCPQueue(in EvalInput) []Finding {
	drops, _ := in.Delta(CounterID{Domain: DomainTCP, Name: "ListenDrops"})
	overflows, _ := in.Delta(CounterID{Domain: DomainTCP, Name: "ListenOverflows"})
	if drops.Unreliable || overflows.Unreliable {
		return nil
	}
	if drops.Raw == 0 && overflows.Raw == 0 {
		return nil
	}

	synRecv, _ := in.Counter(CounterID{Domain: DomainTCP, Name: "state_syn_recv"})
	established, _ := in.Counter(CounterID{Domain: DomainTCP, Name: "state_established"})

	evidence := map[string]float64{
		"listen_drops_delta":     float64(drops.Raw),
		"listen_overflows_delta": float64(overflows.Raw),
		"syn_recv":               float64(synRecv),
		"established":            float64(established),
	}
	if backlog, ok := in.Sysctl(sysctlMaxSynBacklog); ok {
		evidence["tcp_max_syn_backlog"] = float64(backlog)
	}

	sev := SeverityWarning
	msg := fmt.Sprintf("listen queues overflowed in the interval (%d SYN drops, %d accept-queue overflows)",
		drops.Raw, overflows.Raw)
	if float64(synRecv) > in.Config.SynAsymmetryFactor*float64(maxU64(established, 1)) {
		sev = SeverityCritical
		msg = fmt.Sprintf("%s; %d half-open connections against %d established suggests a SYN flood",
			msg, synRecv, established)
	}

	return []Finding{{
		RuleID:   "tcp-queue",
		Severity: sev,
		Message:  msg,
		Recommendation: "raise the queues and harden the handshake: sysctl -w net.ipv4.tcp_max_syn_backlog=4096 " +
			"net.core.somaxconn=4096 net.ipv4.tcp_synack_retries=2 net.ipv4.tcp_syncookies=1; " +
			"also raise the application's listen() backlog",
		Evidence: evidence,
	}}
}

// TCPTimestampRule warns when PAWS rejected segments in the interval.
// On NAT'd paths tcp_tw_recycle makes the kernel reject segments whose
// timestamps do not increase monotonically per peer address.
func TCPTimestampRule() Rule {
	return Rule{
		ID:    "tcp-timestamp",
		Title: "TCP timestamp rejections",
		RequiresDeltas: []CounterID{
			{Domain: DomainTCP, Name: "PAWSPassive"},
			{Domain: DomainTCP, Name: "PAWSEstab"},
		},
		Optional: []CounterID{sysctlCounter(sysctlTWRecycle)},
		Evaluate: evalTCPTimestamp,
	}
}

func evalTCPTimestamp(in EvalInput) []Finding {
	passive, _ := in.Delta(CounterID{Domain: DomainTCP, Name: "PAWSPassive"})
	estab, _ := in.Delta(CounterID{Domain: DomainTCP, Name: "PAWSEstab"})
	if passive.Unreliable || estab.Unreliable {
		return nil
	}
	if passive.Raw == 0 && estab.Raw == 0 {
		return nil
	}

	evidence := map[string]float64{
		"paws_passive_delta": float64(passive.Raw),
		"paws_estab_delta":   float64(estab.Raw),
	}
	if recycle, ok := in.Sysctl(sysctlTWRecycle); ok {
		evidence["tcp_tw_recycle"] = float64(recycle)
	}
	return []Finding{{
		RuleID:   "tcp-timestamp",
		Severity: SeverityWarning,
		Message: fmt.Sprintf("timestamp validation rejected segments in the interval (%d passive, %d established)",
			passive.Raw, estab.Raw),
		Recommendation: "disable timestamp-based recycling on NAT'd paths: sysctl -w net.ipv4.tcp_tw_recycle=0; " +
			"keep net.ipv4.tcp_timestamps=1, timestamps matter for performance",
		Evidence: evidence,
	}}
}

// TCPBaselineRule compares reordering and congestion related sysctls to
// their recommended baselines and reports deviations as informational
// findings. No finding means the configuration matches the baseline.
func TCPBaselineRule() Rule {
	return Rule{
		ID:    "tcp-baseline",
		Title: "TCP tuning baselines",
		Requires: []CounterID{
			sysctlCounter(sysctlReordering),
			sysctlCounter(sysctlWindowScaling),
			sysctlCounter(sysctlSACK),
		},
		Evaluate: evalTCPBaseline,
	}
}

func evalTCPBaseline(in EvalInput) []Finding {
	var findings []Finding

	if reordering, _ := in.Sysctl(sysctlReordering); reordering != in.Config.ReorderingBaseline {
		findings = append(findings, Finding{
			RuleID:   "tcp-baseline",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("tcp_reordering is %d, baseline is %d; the path may be reordering segments",
				reordering, in.Config.ReorderingBaseline),
			Recommendation: "verify intermediate devices for reordering before tuning; reset with " +
				fmt.Sprintf("sysctl -w %s=%d", sysctlReordering, in.Config.ReorderingBaseline),
			Evidence: map[string]float64{"tcp_reordering": float64(reordering)},
		})
	}
	if ws, _ := in.Sysctl(sysctlWindowScaling); ws == 0 {
		findings = append(findings, Finding{
			RuleID:         "tcp-baseline",
			Severity:       SeverityInfo,
			Message:        "tcp_window_scaling is disabled, throughput is capped at 64KB windows",
			Recommendation: "sysctl -w net.ipv4.tcp_window_scaling=1",
			Evidence:       map[string]float64{"tcp_window_scaling": 0},
		})
	}
	if sack, _ := in.Sysctl(sysctlSACK); sack == 0 {
		findings = append(findings, Finding{
			RuleID:         "tcp-baseline",
			Severity:       SeverityInfo,
			Message:        "tcp_sack is disabled, loss recovery degrades to timeouts",
			Recommendation: "sysctl -w net.ipv4.tcp_sack=1",
			Evidence:       map[string]float64{"tcp_sack": 0},
		})
	}

	// Sustained retransmission pressure hints at congestion control
	// mismatch for the path; only meaningful with deltas available.
	retrans, okR := in.Delta(CounterID{Domain: DomainTCP, Name: "RetransSegs"})
	out, okO := in.Delta(CounterID{Domain: DomainTCP, Name: "OutSegs"})
	if okR && okO && !retrans.Unreliable && !out.Unreliable && out.Raw > 0 {
		ratio := float64(retrans.Raw) / float64(out.Raw)
		if ratio >= 0.01 {
			findings = append(findings, Finding{
				RuleID:   "tcp-baseline",
				Severity: SeverityInfo,
				Message: fmt.Sprintf("%.1f%% of segments were retransmissions this interval",
					100*ratio),
				Recommendation: "inspect the path for loss; consider a congestion control better suited to it " +
					"(sysctl -w net.ipv4.tcp_congestion_control=bbr)",
				Evidence: map[string]float64{
					"retrans_segs_delta": float64(retrans.Raw),
					"out_segs_delta":     float64(out.Raw),
					"retrans_ratio":      ratio,
				},
			})
		}
	}
	return findings
}
