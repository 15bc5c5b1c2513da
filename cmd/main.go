// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JiaoTuan/monitor/internal/config"
	"github.com/JiaoTuan/monitor/internal/platform/linux"
	"github.com/JiaoTuan/monitor/internal/telemetry"
	"github.com/JiaoTuan/monitor/pkg/netstack"
)

var (
	// CLI options (alphabetical order)
	checkOnce   bool
	configPath  string
	ifaceName   string
	interval    time.Duration
	metricsAddr string
	verbose     bool
)

func main() {
	flag.BoolVar(&checkOnce, "check", false,
		"Run a single diagnostic pass and exit")
	flag.StringVar(&configPath, "config", "",
		"Path to a YAML threshold configuration file")
	flag.StringVar(&ifaceName, "interface", "",
		"Restrict interface checks to one interface")
	flag.DurationVar(&interval, "interval", 0,
		"Sampling interval in continuous mode (default 2s)")
	flag.StringVar(&metricsAddr, "metrics-addr", "",
		"Address to serve internal metrics on, e.g. :9090 (disabled when empty)")
	flag.BoolVar(&verbose, "verbose", false,
		"Log at debug level and report skipped rules")
	flag.Parse()

	logger := newLogger(verbose)

	if err := run(logger); err != nil {
		logger.Error(err, "exiting")
		switch {
		case errors.Is(err, netstack.ErrConfiguration):
			os.Exit(2)
		case errors.Is(err, netstack.ErrInterfaceNotFound):
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(logger logr.Logger) error {
	cfg := netstack.DefaultConfig()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if interval > 0 {
		cfg.Interval = interval
	}
	if verbose {
		cfg.Verbose = true
	}

	source, err := linux.New(logger)
	if err != nil {
		return err
	}

	metrics := telemetry.NewPublisher()
	engine, err := netstack.NewEngine(netstack.Options{
		Source:  source,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scope := netstack.Scope{Interface: ifaceName}

	if checkOnce {
		report, err := engine.RunOnce(ctx, scope)
		if err != nil {
			return err
		}
		printReport(os.Stdout, report)
		if report.HasSeverity(netstack.SeverityCritical) {
			os.Exit(4)
		}
		return nil
	}

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger, func(loaded netstack.Config) {
			logger.Info("configuration reloaded", "path", configPath)
			engine.SetConfig(loaded)
		})
		if err != nil {
			// Hot reload is a convenience; run with the startup config.
			logger.Error(err, "config watch unavailable")
		} else {
			defer watcher.Close()
		}
	}

	if metricsAddr != "" {
		go serveMetrics(logger, metricsAddr, metrics)
	}

	logger.Info("starting continuous monitor", "scope", scope, "interval", engine.Config().Interval)
	return engine.RunContinuous(ctx, scope, func(report *netstack.Report) {
		printReport(os.Stdout, report)
	})
}

func newLogger(verbose bool) logr.Logger {
	zc := zap.NewProductionConfig()
	zc.OutputPaths = []string{"stderr"}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zl, err := zc.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapr.NewLogger(zl)
}

func serveMetrics(logger logr.Logger, addr string, metrics *telemetry.Publisher) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info("serving metrics", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error(err, "metrics server stopped")
	}
}

var severityMark = map[netstack.Severity]string{
	netstack.SeverityInfo:     "INFO",
	netstack.SeverityWarning:  "WARN",
	netstack.SeverityCritical: "CRIT",
}

// printReport renders one pass as plain text: findings first, then live
// rates, then cumulative totals.
func printReport(w *os.File, r *netstack.Report) {
	fmt.Fprintf(w, "=== %s %s ===\n", r.Taken.Format(time.RFC3339), r.Summary())

	findings := make([]netstack.Finding, len(r.Findings))
	copy(findings, r.Findings)
	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
	})
	for _, f := range findings {
		fmt.Fprintf(w, "[%s] %s: %s\n", severityMark[f.Severity], f.RuleID, f.Message)
		if f.Recommendation != "" {
			fmt.Fprintf(w, "       -> %s\n", f.Recommendation)
		}
		if len(f.Evidence) > 0 {
			fmt.Fprintf(w, "       evidence: %s\n", formatEvidence(f.Evidence))
		}
	}

	for _, rate := range r.Rates {
		fmt.Fprintf(w, "%-12s rx %s  tx %s\n", rate.Interface, rate.RxHuman, rate.TxHuman)
	}
	for _, t := range r.Totals {
		fmt.Fprintf(w, "%-12s total rx=%d tx=%d rx_err=%d tx_err=%d rx_drop=%d tx_drop=%d\n",
			t.Interface, t.RxBytes, t.TxBytes, t.RxErrors, t.TxErrors, t.RxDropped, t.TxDropped)
	}
	if len(r.SkippedRules) > 0 {
		fmt.Fprintf(w, "skipped: %s\n", strings.Join(r.SkippedRules, ", "))
	}
}

func severityRank(s netstack.Severity) int {
	switch s {
	case netstack.SeverityCritical:
		return 2
	case netstack.SeverityWarning:
		return 1
	}
	return 0
}

func formatEvidence(ev map[string]float64) string {
	keys := make([]string, 0, len(ev))
	for k := range ev {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, ev[k]))
	}
	return strings.Join(parts, " ")
}
