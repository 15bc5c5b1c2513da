// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// buildReport assembles one cycle's findings, live rates and cumulative
// totals. Reports are independent per cycle: repeated findings are not
// deduplicated here, that is a presentation-layer policy.
func buildReport(snapshot *Snapshot, deltas DeltaSet, findings []Finding, skipped []string, cfg Config) *Report {
	report := &Report{
		Scope:    snapshot.Scope,
		Taken:    snapshot.Taken,
		Findings: findings,
	}
	if cfg.Verbose {
		report.SkippedRules = skipped
	}

	for _, iface := range snapshot.Interfaces {
		domain := InterfaceDomain(iface)
		lookup := func(name string) uint64 {
			v, _ := snapshot.Lookup(CounterID{Domain: domain, Name: name})
			return v
		}
		report.Totals = append(report.Totals, InterfaceTotals{
			Interface: iface,
			RxBytes:   lookup(CtrRxBytes),
			TxBytes:   lookup(CtrTxBytes),
			RxErrors:  lookup(CtrRxErrors),
			TxErrors:  lookup(CtrTxErrors),
			RxDropped: lookup(CtrRxDropped),
			TxDropped: lookup(CtrTxDropped),
		})

		rx, okRx := deltas[CounterID{Domain: domain, Name: CtrRxBytes}]
		tx, okTx := deltas[CounterID{Domain: domain, Name: CtrTxBytes}]
		if !okRx || !okTx || rx.Unreliable || tx.Unreliable {
			continue
		}
		report.Interval = rx.Interval
		report.Rates = append(report.Rates, RateFigure{
			Interface:     iface,
			RxBytesPerSec: rx.Rate,
			TxBytesPerSec: tx.Rate,
			RxHuman:       HumanRate(rx.Rate),
			TxHuman:       HumanRate(tx.Rate),
		})
	}
	return report
}

// HumanRate renders a bytes-per-second figure the way the continuous
// display shows it, e.g. "10 MiB/s".
func HumanRate(bytesPerSec float64) string {
	return humanize.IBytes(uint64(bytesPerSec)) + "/s"
}

// Summary is a one-line digest used by log lines and the text writer.
func (r *Report) Summary() string {
	var info, warn, crit int
	for _, f := range r.Findings {
		switch f.Severity {
		case SeverityCritical:
			crit++
		case SeverityWarning:
			warn++
		default:
			info++
		}
	}
	return fmt.Sprintf("scope=%s findings=%d (critical=%d warning=%d info=%d) interval=%s",
		r.Scope, len(r.Findings), crit, warn, info, r.Interval.Round(time.Millisecond))
}
