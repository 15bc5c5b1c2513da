// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

package netstack

import (
	"fmt"
	"time"
)

// Config carries the thresholds and toggles the rule catalog evaluates
// against. Every threshold is configuration with a default rather than
// a hard-coded constant, so operators can tune a rule without patching
// it.
type Config struct {
	// Interval between sampling cycles in continuous mode.
	Interval time.Duration
	// Verbose reports skipped rules on the Report instead of hiding them.
	Verbose bool

	// TimeWaitWarn is the absolute TIME-WAIT socket count above which a
	// warning is emitted.
	TimeWaitWarn uint64
	// TimeWaitUsageRatio warns when current TIME-WAIT count reaches this
	// fraction of net.ipv4.tcp_max_tw_buckets.
	TimeWaitUsageRatio float64
	// FinTimeoutBaseline is the expected net.ipv4.tcp_fin_timeout; larger
	// configured values produce an informational finding.
	FinTimeoutBaseline int64

	// ConntrackUsageRatio warns when conntrack count reaches this
	// fraction of nf_conntrack_max.
	ConntrackUsageRatio float64
	// EstablishedTimeoutMax flags nf_conntrack_tcp_timeout_established
	// values above this many seconds as a session-aging hazard.
	EstablishedTimeoutMax int64

	// ErrorRateWarn and ErrorRateCrit grade per-direction interface
	// error deltas as a fraction of the direction's packet delta.
	ErrorRateWarn float64
	ErrorRateCrit float64

	// SynAsymmetryFactor escalates a queue-overflow warning to critical
	// when SYN_RECV count exceeds this multiple of established count.
	SynAsymmetryFactor float64

	// ARPTableUsageRatio flags neighbour table usage against gc_thresh3.
	ARPTableUsageRatio float64
	// ExpectedARPIgnore and ExpectedARPFilter are the policy values the
	// arp sysctls are checked against.
	ExpectedARPIgnore int64
	ExpectedARPFilter int64

	// ReorderingBaseline is the expected net.ipv4.tcp_reordering value.
	ReorderingBaseline int64

	// RmemFloor and WmemFloor are the recommended minimum socket buffer
	// ceilings (net.core.rmem_max / net.core.wmem_max).
	RmemFloor int64
	WmemFloor int64
}

// DefaultConfig returns the built-in thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:              2 * time.Second,
		TimeWaitWarn:          10000,
		TimeWaitUsageRatio:    0.8,
		FinTimeoutBaseline:    60,
		ConntrackUsageRatio:   0.8,
		EstablishedTimeoutMax: 86400,
		ErrorRateWarn:         0.001,
		ErrorRateCrit:         0.01,
		SynAsymmetryFactor:    4,
		ARPTableUsageRatio:    0.8,
		ExpectedARPIgnore:     0,
		ExpectedARPFilter:     0,
		ReorderingBaseline:    3,
		RmemFloor:             4194304,
		WmemFloor:             4194304,
	}
}

// ApplyDefaults fills zero values with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = d.Interval
	}
	if c.TimeWaitWarn == 0 {
		c.TimeWaitWarn = d.TimeWaitWarn
	}
	if c.TimeWaitUsageRatio == 0 {
		c.TimeWaitUsageRatio = d.TimeWaitUsageRatio
	}
	if c.FinTimeoutBaseline == 0 {
		c.FinTimeoutBaseline = d.FinTimeoutBaseline
	}
	if c.ConntrackUsageRatio == 0 {
		c.ConntrackUsageRatio = d.ConntrackUsageRatio
	}
	if c.EstablishedTimeoutMax == 0 {
		c.EstablishedTimeoutMax = d.EstablishedTimeoutMax
	}
	if c.ErrorRateWarn == 0 {
		c.ErrorRateWarn = d.ErrorRateWarn
	}
	if c.ErrorRateCrit == 0 {
		c.ErrorRateCrit = d.ErrorRateCrit
	}
	if c.SynAsymmetryFactor == 0 {
		c.SynAsymmetryFactor = d.SynAsymmetryFactor
	}
	if c.ARPTableUsageRatio == 0 {
		c.ARPTableUsageRatio = d.ARPTableUsageRatio
	}
	if c.ReorderingBaseline == 0 {
		c.ReorderingBaseline = d.ReorderingBaseline
	}
	if c.RmemFloor == 0 {
		c.RmemFloor = d.RmemFloor
	}
	if c.WmemFloor == 0 {
		c.WmemFloor = d.WmemFloor
	}
}

// Validate rejects malformed thresholds. A failure here is fatal at
// startup, before any sampling begins.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", ErrConfiguration, c.Interval)
	}
	for name, ratio := range map[string]float64{
		"time_wait_usage_ratio": c.TimeWaitUsageRatio,
		"conntrack_usage_ratio": c.ConntrackUsageRatio,
		"arp_table_usage_ratio": c.ARPTableUsageRatio,
	} {
		if ratio <= 0 || ratio > 1 {
			return fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrConfiguration, name, ratio)
		}
	}
	if c.ErrorRateWarn <= 0 || c.ErrorRateCrit <= 0 {
		return fmt.Errorf("%w: error rate thresholds must be positive", ErrConfiguration)
	}
	if c.ErrorRateCrit < c.ErrorRateWarn {
		return fmt.Errorf("%w: error_rate_crit (%v) below error_rate_warn (%v)",
			ErrConfiguration, c.ErrorRateCrit, c.ErrorRateWarn)
	}
	if c.SynAsymmetryFactor < 1 {
		return fmt.Errorf("%w: syn_asymmetry_factor must be >= 1, got %v",
			ErrConfiguration, c.SynAsymmetryFactor)
	}
	return nil
}
