// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZaparooProject/go-leia"
	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration of the leia tool. Command-line flags
// override the file.
type Config struct {
	Triggers     map[string]TriggerPreset `yaml:"triggers"`
	Port         string                   `yaml:"port"`
	APDUEncoding string                   `yaml:"apdu_encoding"`
	LogDir       string                   `yaml:"log_dir"`
	Baud         int                      `yaml:"baud"`
	Timeout      time.Duration            `yaml:"timeout"`
	ResyncDelay  time.Duration            `yaml:"resync_delay"`
	TriggerDepth int                      `yaml:"trigger_depth"`
	Retries      int                      `yaml:"retries"`
	Debug        bool                     `yaml:"debug"`
}

// TriggerPreset is a named trigger strategy that "trigger set --preset" stores.
type TriggerPreset struct {
	Points []string `yaml:"points"`
	Delay  uint32   `yaml:"delay"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	device := leia.DefaultDeviceConfig()
	return &Config{
		Timeout:      device.Timeout,
		ResyncDelay:  device.ResyncDelay,
		TriggerDepth: device.TriggerDepth,
		APDUEncoding: device.APDUEncoding.String(),
		Retries:      leia.DefaultConnectionRetries,
		Triggers: map[string]TriggerPreset{
			"simple_t0": {
				Points: pointNames(leia.TriggerAfterFirstByteSendSimpleAPDUT0()),
			},
			"fragmented_t0": {
				Points: pointNames(leia.TriggerAfterFirstByteSendFragmentedAPDUT0()),
			},
		},
	}
}

// LoadConfig reads path on top of DefaultConfig. Presets in the file are
// merged with the built-in ones.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read config file %q: %w", path, err)
	}

	builtin := cfg.Triggers
	cfg.Triggers = nil
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
	}
	for name, preset := range builtin {
		if _, ok := cfg.Triggers[name]; !ok {
			if cfg.Triggers == nil {
				cfg.Triggers = make(map[string]TriggerPreset)
			}
			cfg.Triggers[name] = preset
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values a device would reject later.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	if c.ResyncDelay < 0 {
		return fmt.Errorf("resync_delay must not be negative, got %v", c.ResyncDelay)
	}
	if c.TriggerDepth <= 0 || c.TriggerDepth > 255 {
		return fmt.Errorf("trigger_depth must be in 1..255, got %d", c.TriggerDepth)
	}
	if c.Retries < 1 {
		return fmt.Errorf("retries must be at least 1, got %d", c.Retries)
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must not be negative, got %d", c.Baud)
	}
	if _, err := leia.ParseAPDUEncoding(c.APDUEncoding); err != nil {
		return err
	}
	for name, preset := range c.Triggers {
		if _, err := preset.TriggerPoints(c.TriggerDepth); err != nil {
			return fmt.Errorf("trigger preset %q: %w", name, err)
		}
	}
	return nil
}

// DeviceOptions converts the configuration to device options.
func (c *Config) DeviceOptions() ([]leia.Option, error) {
	encoding, err := leia.ParseAPDUEncoding(c.APDUEncoding)
	if err != nil {
		return nil, err
	}
	return []leia.Option{
		leia.WithTimeout(c.Timeout),
		leia.WithResyncDelay(c.ResyncDelay),
		leia.WithTriggerDepth(c.TriggerDepth),
		leia.WithAPDUEncoding(encoding),
	}, nil
}

// Preset looks up a trigger preset by name.
func (c *Config) Preset(name string) (TriggerPreset, error) {
	preset, ok := c.Triggers[name]
	if !ok {
		names := make([]string, 0, len(c.Triggers))
		for n := range c.Triggers {
			names = append(names, n)
		}
		sort.Strings(names)
		return TriggerPreset{}, fmt.Errorf("unknown trigger preset %q (have: %s)", name, strings.Join(names, ", "))
	}
	return preset, nil
}

// TriggerPoints parses the preset's point names.
func (p TriggerPreset) TriggerPoints(depth int) ([]leia.TriggerPoint, error) {
	if len(p.Points) > depth {
		return nil, fmt.Errorf("%d points exceed trigger depth %d", len(p.Points), depth)
	}
	points := make([]leia.TriggerPoint, 0, len(p.Points))
	for _, name := range p.Points {
		point, err := ParseTriggerPoint(name)
		if err != nil {
			return nil, err
		}
		points = append(points, point)
	}
	return points, nil
}

// ParseTriggerPoint accepts a point name such as "IRQ_PUTC" (any case) or its
// numeric value.
func ParseTriggerPoint(s string) (leia.TriggerPoint, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseUint(s, 0, 8); err == nil && n != 0 {
		return leia.TriggerPoint(n), nil
	}
	for p := leia.TriggerGetATRPre; p <= leia.TriggerIRQGetc; p++ {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown trigger point %q", s)
}

func pointNames(points []leia.TriggerPoint) []string {
	names := make([]string, len(points))
	for i, p := range points {
		names[i] = p.String()
	}
	return names
}
