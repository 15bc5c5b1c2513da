// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"fmt"
	"strings"
)

// RingBufferRule warns when the NIC RX ring dropped packets during the
// sampling interval (rx_fifo grew). When ethtool ring settings were
// captured, the recommendation names the current and maximum ring size.
func RingBufferRule() Rule {
	return Rule{
		ID:             "ringbuffer-drops",
		Title:          "NIC ring buffer drops",
		PerInterface:   true,
		RequiresDeltas: []CounterID{ifaceCounter(CtrRxFIFO)},
		Evaluate:       evalRingBuffer,
	}
}

func evalRingBuffer(in EvalInput) []Finding {
	d, _ := in.Delta(ifaceCounter(CtrRxFIFO))
	if d.Unreliable || d.Raw == 0 {
		return nil
	}

	evidence := map[string]float64{
		"delta": float64(d.Raw),
		"rate":  d.Rate,
	}
	rec := fmt.Sprintf("increase the RX ring size: ethtool -G %s rx 4096", in.Interface)
	cur, haveCur := in.Counter(CounterID{Domain: DomainAnyRing, Name: CtrRingRxCurrent})
	max, haveMax := in.Counter(CounterID{Domain: DomainAnyRing, Name: CtrRingRxMax})
	if haveCur && haveMax {
		evidence["ring_rx_current"] = float64(cur)
		evidence["ring_rx_max"] = float64(max)
		rec = fmt.Sprintf("increase the RX ring size from %d toward the hardware maximum: ethtool -G %s rx %d",
			cur, in.Interface, max)
	}

	return []Finding{{
		RuleID:         "ringbuffer-drops",
		Severity:       SeverityWarning,
		Message:        fmt.Sprintf("%s: NIC ring buffer dropped %d packets over %v", in.Interface, d.Raw, d.Interval),
		Recommendation: rec,
		Evidence:       evidence,
	}}
}

// InterfaceHealthRule grades per-direction error activity against the
// direction's packet delta: rates, not absolute counts, decide the
// severity. One finding per direction with non-zero error activity.
func InterfaceHealthRule() Rule {
	return Rule{
		ID:           "interface-health",
		Title:        "Interface error and drop activity",
		PerInterface: true,
		RequiresDeltas: []CounterID{
			ifaceCounter(CtrRxPackets), ifaceCounter(CtrRxErrors),
			ifaceCounter(CtrRxDropped), ifaceCounter(CtrRxFIFO), ifaceCounter(CtrRxFrame),
			ifaceCounter(CtrTxPackets), ifaceCounter(CtrTxErrors),
			ifaceCounter(CtrTxDropped), ifaceCounter(CtrTxFIFO),
		},
		Evaluate: evalInterfaceHealth,
	}
}

type directionDelta struct {
	name     string
	packets  uint64
	causes   []string
	evidence map[string]float64
	errSum   uint64
}

func evalInterfaceHealth(in EvalInput) []Finding {
	rx := directionErrors(in, "RX",
		CtrRxPackets,
		[2]string{CtrRxErrors, "check cabling and NIC health"},
		[2]string{CtrRxDropped, "memory pressure or protocol-stack backlog, compare free -m and /proc/net/softnet_stat"},
		[2]string{CtrRxFIFO, "driver overruns, increase the RX ring (ethtool -G) and check IRQ balance in /proc/interrupts"},
		[2]string{CtrRxFrame, "frame alignment errors, check physical-layer speed/duplex"},
	)
	tx := directionErrors(in, "TX",
		CtrTxPackets,
		[2]string{CtrTxErrors, "check the cable and the switch port"},
		[2]string{CtrTxDropped, "check qdisc/QoS configuration (tc)"},
		[2]string{CtrTxFIFO, "driver queue full, increase the TX ring and tune net.ipv4.tcp_wmem"},
	)

	var findings []Finding
	for _, dir := range []directionDelta{rx, tx} {
		if dir.errSum == 0 {
			continue
		}
		// Errors count against traffic that made it plus traffic that
		// did not, so a fully dead direction still ranks at 100%.
		ratio := float64(dir.errSum) / float64(maxU64(dir.packets+dir.errSum, 1))
		sev := SeverityInfo
		if ratio >= in.Config.ErrorRateCrit {
			sev = SeverityCritical
		} else if ratio >= in.Config.ErrorRateWarn {
			sev = SeverityWarning
		}
		dir.evidence["error_ratio"] = ratio
		findings = append(findings, Finding{
			RuleID:   "interface-health",
			Severity: sev,
			Message: fmt.Sprintf("%s: %d %s errors against %d packets over the interval",
				in.Interface, dir.errSum, dir.name, dir.packets),
			Recommendation: strings.Join(dir.causes, "; "),
			Evidence:       dir.evidence,
		})
	}
	return findings
}

func directionErrors(in EvalInput, name string, packetCtr string, causes ...[2]string) directionDelta {
	dir := directionDelta{name: name, evidence: map[string]float64{}}
	if d, ok := in.Delta(ifaceCounter(packetCtr)); ok && !d.Unreliable {
		dir.packets = d.Raw
	}
	for _, c := range causes {
		d, ok := in.Delta(ifaceCounter(c[0]))
		if !ok || d.Unreliable || d.Raw == 0 {
			continue
		}
		dir.errSum += d.Raw
		dir.evidence[c[0]] = float64(d.Raw)
		dir.causes = append(dir.causes, fmt.Sprintf("%s %d: %s", c[0], d.Raw, c[1]))
	}
	return dir
}

// SoftnetBacklogRule warns when CPU backlog queues dropped packets in
// the interval: the stack could not keep up with the NIC.
func SoftnetBacklogRule() Rule {
	return Rule{
		ID:    "softnet-backlog",
		Title: "Softnet backlog drops",
		RequiresDeltas: []CounterID{
			{Domain: DomainSoftnet, Name: "dropped"},
			{Domain: DomainSoftnet, Name: "processed"},
		},
		Optional: []CounterID{sysctlCounter("net.core.netdev_max_backlog")},
		Evaluate: evalSoftnetBacklog,
	}
}

func evalSoftnetBacklog(in EvalInput) []Finding {
	dropped, _ := in.Delta(CounterID{Domain: DomainSoftnet, Name: "dropped"})
	if dropped.Unreliable || dropped.Raw == 0 {
		return nil
	}
	processed, _ := in.Delta(CounterID{Domain: DomainSoftnet, Name: "processed"})

	evidence := map[string]float64{
		"softnet_dropped":   float64(dropped.Raw),
		"softnet_processed": float64(processed.Raw),
	}
	if backlog, ok := in.Sysctl("net.core.netdev_max_backlog"); ok {
		evidence["netdev_max_backlog"] = float64(backlog)
	}
	return []Finding{{
		RuleID:   "softnet-backlog",
		Severity: SeverityWarning,
		Message: fmt.Sprintf("backlog queues dropped %d packets (%d processed) over the interval",
			dropped.Raw, processed.Raw),
		Recommendation: "raise net.core.netdev_max_backlog (sysctl -w net.core.netdev_max_backlog=2000) and persist it in /etc/sysctl.conf",
		Evidence:       evidence,
	}}
}

func maxU64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
