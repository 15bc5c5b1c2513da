// Copyright (c) JiaoTuan. All rights reserved.
//
// Use of this source code is governed by an MIT-style license that can be
// found in the LICENSE file.

// Package config loads threshold configuration from a YAML file and
// watches it for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JiaoTuan/monitor/pkg/netstack"
)

// Duration wraps time.Duration so YAML accepts "2s" style values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// File is the on-disk YAML schema. Every field is optional; absent or
// zero values fall back to the built-in defaults.
type File struct {
	Interval Duration `yaml:"interval"`
	Verbose  bool     `yaml:"verbose"`

	TCP struct {
		TimeWaitWarn       uint64  `yaml:"time_wait_warn"`
		TimeWaitUsageRatio float64 `yaml:"time_wait_usage_ratio"`
		FinTimeoutBaseline int64   `yaml:"fin_timeout_baseline"`
		SynAsymmetryFactor float64 `yaml:"syn_asymmetry_factor"`
		ReorderingBaseline int64   `yaml:"reordering_baseline"`
	} `yaml:"tcp"`

	Conntrack struct {
		UsageRatio            float64 `yaml:"usage_ratio"`
		EstablishedTimeoutMax int64   `yaml:"established_timeout_max"`
	} `yaml:"conntrack"`

	Interfaces struct {
		ErrorRateWarn float64 `yaml:"error_rate_warn"`
		ErrorRateCrit float64 `yaml:"error_rate_crit"`
	} `yaml:"interfaces"`

	ARP struct {
		TableUsageRatio float64 `yaml:"table_usage_ratio"`
		ExpectedIgnore  int64   `yaml:"expected_ignore"`
		ExpectedFilter  int64   `yaml:"expected_filter"`
	} `yaml:"arp"`

	Buffers struct {
		RmemFloor int64 `yaml:"rmem_floor"`
		WmemFloor int64 `yaml:"wmem_floor"`
	} `yaml:"buffers"`
}

// Load reads and validates a YAML config file. An unreadable or
// malformed file is a configuration error, fatal at startup.
func Load(path string) (netstack.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return netstack.Config{}, fmt.Errorf("%w: read %s: %v", netstack.ErrConfiguration, path, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated engine configuration.
func Parse(data []byte) (netstack.Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return netstack.Config{}, fmt.Errorf("%w: %v", netstack.ErrConfiguration, err)
	}
	cfg := f.toConfig()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return netstack.Config{}, err
	}
	return cfg, nil
}

func (f File) toConfig() netstack.Config {
	return netstack.Config{
		Interval:              time.Duration(f.Interval),
		Verbose:               f.Verbose,
		TimeWaitWarn:          f.TCP.TimeWaitWarn,
		TimeWaitUsageRatio:    f.TCP.TimeWaitUsageRatio,
		FinTimeoutBaseline:    f.TCP.FinTimeoutBaseline,
		SynAsymmetryFactor:    f.TCP.SynAsymmetryFactor,
		ReorderingBaseline:    f.TCP.ReorderingBaseline,
		ConntrackUsageRatio:   f.Conntrack.UsageRatio,
		EstablishedTimeoutMax: f.Conntrack.EstablishedTimeoutMax,
		ErrorRateWarn:         f.Interfaces.ErrorRateWarn,
		ErrorRateCrit:         f.Interfaces.ErrorRateCrit,
		ARPTableUsageRatio:    f.ARP.TableUsageRatio,
		ExpectedARPIgnore:     f.ARP.ExpectedIgnore,
		ExpectedARPFilter:     f.ARP.ExpectedFilter,
		RmemFloor:             f.Buffers.RmemFloor,
		WmemFloor:             f.Buffers.WmemFloor,
	}
}
