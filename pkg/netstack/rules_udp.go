// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import "fmt"

// UDPDropRule warns when UDP receive errors grew during the interval.
// RcvbufErrors specifically means the socket buffer was full when the
// datagram arrived.
func UDPDropRule() Rule {
	return Rule{
		ID:    "udp-drops",
		Title: "UDP receive drops",
		RequiresDeltas: []CounterID{
			{Domain: DomainUDP, Name: "InErrors"},
			{Domain: DomainUDP, Name: "RcvbufErrors"},
		},
		Evaluate: evalUDPDrops,
	}
}

func evalUDPDrops(in EvalInput) []Finding {
	inErrors, _ := in.Delta(CounterID{Domain: DomainUDP, Name: "InErrors"})
	rcvbuf, _ := in.Delta(CounterID{Domain: DomainUDP, Name: "RcvbufErrors"})
	if inErrors.Unreliable || rcvbuf.Unreliable {
		return nil
	}
	if inErrors.Raw == 0 && rcvbuf.Raw == 0 {
		return nil
	}

	rec := "inspect the receiving application's drain rate"
	if rcvbuf.Raw > 0 {
		rec = "receive buffers overflowed: raise net.core.rmem_max and net.core.rmem_default, " +
			"or have the application request a larger SO_RCVBUF"
	}
	return []Finding{{
		RuleID:   "udp-drops",
		Severity: SeverityWarning,
		Message: fmt.Sprintf("UDP dropped datagrams in the interval (%d errors, %d buffer overflows)",
			inErrors.Raw, rcvbuf.Raw),
		Recommendation: rec,
		Evidence: map[string]float64{
			"in_errors_delta":     float64(inErrors.Raw),
			"rcvbuf_errors_delta": float64(rcvbuf.Raw),
		},
	}}
}

// SocketBufferRule reports socket buffer ceilings configured below the
// recommended floor. Purely informational: nothing is wrong yet, the
// host just has less headroom than bursty traffic usually needs.
func SocketBufferRule() Rule {
	return Rule{
		ID:    "socket-buffers",
		Title: "Socket buffer sizing",
		Requires: []CounterID{
			sysctlCounter("net.core.rmem_max"),
			sysctlCounter("net.core.wmem_max"),
		},
		Evaluate: evalSocketBuffers,
	}
}

func evalSocketBuffers(in EvalInput) []Finding {
	var findings []Finding
	rmem, _ := in.Sysctl("net.core.rmem_max")
	wmem, _ := in.Sysctl("net.core.wmem_max")

	if rmem < in.Config.RmemFloor {
		findings = append(findings, Finding{
			RuleID:   "socket-buffers",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("net.core.rmem_max is %d, below the recommended %d",
				rmem, in.Config.RmemFloor),
			Recommendation: fmt.Sprintf("sysctl -w net.core.rmem_max=%d", in.Config.RmemFloor),
			Evidence:       map[string]float64{"rmem_max": float64(rmem)},
		})
	}
	if wmem < in.Config.WmemFloor {
		findings = append(findings, Finding{
			RuleID:   "socket-buffers",
			Severity: SeverityInfo,
			Message: fmt.Sprintf("net.core.wmem_max is %d, below the recommended %d",
				wmem, in.Config.WmemFloor),
			Recommendation: fmt.Sprintf("sysctl -w net.core.wmem_max=%d", in.Config.WmemFloor),
			Evidence:       map[string]float64{"wmem_max": float64(wmem)},
		})
	}
	return findings
}
