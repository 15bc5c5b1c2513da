// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// MetricsPublisher receives engine activity for internal telemetry.
// Optional; a nil publisher disables it.
type MetricsPublisher interface {
	PublishCycle(report *Report)
	PublishSampleError()
}

// Options configures an Engine.
type Options struct {
	Source  CounterSource
	Catalog *Catalog // defaults to DefaultCatalog
	Config  Config
	Logger  logr.Logger
	Metrics MetricsPublisher
}

// Engine drives the sampling → delta → evaluation → report cycle, as a
// single pass or as a continuous loop. The only state it keeps between
// cycles is one previous snapshot per scope, retained for delta
// computation and discarded as soon as it is superseded.
type Engine struct {
	sampler *Sampler
	catalog *Catalog
	cfg     Config
	logger  logr.Logger
	metrics MetricsPublisher

	mu       sync.Mutex
	previous map[string]*Snapshot
}

// NewEngine validates the configuration and builds an engine. A
// configuration error here is fatal by design: it surfaces before any
// sampling begins.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("%w: counter source is required", ErrConfiguration)
	}
	if opts.Logger.GetSink() == nil {
		opts.Logger = logr.Discard()
	}

	cfg := opts.Config
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	catalog := opts.Catalog
	if catalog == nil {
		catalog = DefaultCatalog(opts.Logger)
	}

	return &Engine{
		sampler:  NewSampler(opts.Source, opts.Logger),
		catalog:  catalog,
		cfg:      cfg,
		logger:   opts.Logger.WithName("engine"),
		metrics:  opts.Metrics,
		previous: make(map[string]*Snapshot),
	}, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetConfig swaps the thresholds between cycles, used by config
// hot-reload. The new config must already be validated.
func (e *Engine) SetConfig(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// RunOnce executes one diagnostic pass for the scope: sample, compute
// deltas against the retained previous snapshot (none on the first
// pass, which is the expected startup condition), evaluate the catalog
// and aggregate the report.
//
// The pass always completes with whatever findings were derivable;
// per-counter failures have already degraded to absent inside the
// sampler. The only errors returned are ErrInterfaceNotFound and
// context cancellation.
func (e *Engine) RunOnce(ctx context.Context, scope Scope) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	snapshot, err := e.sampler.Sample(ctx, scope, e.catalog.SysctlKeys())
	if err != nil {
		if e.metrics != nil {
			e.metrics.PublishSampleError()
		}
		return nil, err
	}

	var deltas DeltaSet
	e.mu.Lock()
	prev := e.previous[scope.String()]
	e.previous[scope.String()] = snapshot
	e.mu.Unlock()

	if prev != nil {
		deltas, err = ComputeDeltas(prev, snapshot)
		if err != nil {
			// Clock anomaly: drop this cycle's deltas, keep the pass.
			e.logger.V(1).Info("deltas dropped", "scope", scope, "reason", err)
			deltas = nil
		}
	}

	findings, skipped := e.catalog.EvaluateAll(snapshot, deltas, cfg)
	report := buildReport(snapshot, deltas, findings, skipped, cfg)

	if e.metrics != nil {
		e.metrics.PublishCycle(report)
	}
	e.logger.V(1).Info("pass complete", "summary", report.Summary(), "skipped", len(skipped))
	return report, nil
}

// RunContinuous repeats diagnostic passes at the configured interval
// until ctx is cancelled, invoking onCycle with each report. The ctx is
// the cancellation handle: cancellation takes effect between cycles,
// during the sleep, and a cycle already evaluating runs to completion.
//
// The first cycle has no previous snapshot, so it carries only
// threshold-based findings; rate-based rules start on the second.
// Returns nil on cancellation; the only hard error is an unknown
// interface, which ends the loop immediately.
func (e *Engine) RunContinuous(ctx context.Context, scope Scope, onCycle func(*Report)) error {
	ticker := time.NewTicker(e.interval())
	defer ticker.Stop()

	for {
		report, err := e.RunOnce(ctx, scope)
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		case errors.Is(err, ErrInterfaceNotFound):
			return err
		case err != nil:
			e.logger.Error(err, "cycle failed", "scope", scope)
		default:
			if onCycle != nil {
				onCycle(report)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) interval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Interval
}
