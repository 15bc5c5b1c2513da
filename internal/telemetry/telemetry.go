// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package telemetry counts engine activity in a private Prometheus
// registry. It instruments the monitor itself, not the host; host
// counters flow through reports.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// Publisher implements netstack.MetricsPublisher.
type Publisher struct {
	registry     *prometheus.Registry
	cycles       prometheus.Counter
	findings     *prometheus.CounterVec
	sampleErrors prometheus.Counter
	lastFindings prometheus.Gauge
}

func NewPublisher() *Publisher {
	p := &Publisher{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_cycles_total",
			Help: "Completed diagnostic passes.",
		}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monitor_findings_total",
			Help: "Findings emitted, by severity.",
		}, []string{"severity"}),
		sampleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monitor_sample_errors_total",
			Help: "Sampling cycles that failed outright.",
		}),
		lastFindings: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monitor_last_cycle_findings",
			Help: "Findings in the most recent pass.",
		}),
	}
	p.registry.MustRegister(p.cycles, p.findings, p.sampleErrors, p.lastFindings)
	return p
}

var _ netstack.MetricsPublisher = (*Publisher)(nil)

func (p *Publisher) PublishCycle(report *netstack.Report) {
	p.cycles.Inc()
	p.lastFindings.Set(float64(len(report.Findings)))
	for _, f := range report.Findings {
		p.findings.WithLabelValues(string(f.Severity)).Inc()
	}
}

func (p *Publisher) PublishSampleError() {
	p.sampleErrors.Inc()
}

// Handler exposes the registry for an optional scrape endpoint.
func (p *Publisher) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
