/*
Copyright 2020 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the sampling and rendering policy.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate for out-of-range settings.
var ErrInvalid = errors.New("invalid config")

// Threads selects which threads are sampled. Empty means all threads.
type Threads struct {
	IDs   []int64  `yaml:"ids"`
	Names []string `yaml:"names"`
}

// Empty reports whether the selector matches every thread.
func (t Threads) Empty() bool {
	return len(t.IDs) == 0 && len(t.Names) == 0
}

// Policy controls sampling and rendering. It is treated as an immutable
// value: copy it to derive a variant.
type Policy struct {
	MinCostPct          float64       `yaml:"min_cost_pct"`
	MinTotalPct         float64       `yaml:"min_total_pct"`
	MaxDepth            int           `yaml:"max_depth"`
	CollapseSingleChild bool          `yaml:"collapse_single_child"`
	ShowTotals          bool          `yaml:"show_totals"`
	RealTime            bool          `yaml:"real_time"`
	Threads             Threads       `yaml:"threads"`
	ScreenWidth         int           `yaml:"screen_width"`
	ThreadsLimit        int           `yaml:"threads_limit"`
	Interval            time.Duration `yaml:"interval"`
}

// Defaults returns the default policy.
func Defaults() Policy {
	return Policy{
		MinCostPct:  5.0,
		MinTotalPct: 5.0,
		MaxDepth:    15,
		ScreenWidth: 280,
		Interval:    100 * time.Millisecond,
	}
}

// Load reads a YAML policy from path on top of Defaults.
func Load(path string) (Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return Policy{}, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads a YAML policy from r on top of Defaults. Unknown keys are rejected.
func Decode(r io.Reader) (Policy, error) {
	p := Defaults()

	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("config: decode: %w", err)
	}

	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate checks ranges and thread name patterns.
func (p Policy) Validate() error {
	switch {
	case p.MinCostPct < 0 || p.MinCostPct > 100:
		return fmt.Errorf("config: min_cost_pct %v out of [0,100]: %w", p.MinCostPct, ErrInvalid)
	case p.MinTotalPct < 0 || p.MinTotalPct > 100:
		return fmt.Errorf("config: min_total_pct %v out of [0,100]: %w", p.MinTotalPct, ErrInvalid)
	case p.MaxDepth < 0:
		return fmt.Errorf("config: max_depth %d is negative: %w", p.MaxDepth, ErrInvalid)
	case p.ScreenWidth <= 0:
		return fmt.Errorf("config: screen_width %d must be positive: %w", p.ScreenWidth, ErrInvalid)
	case p.ThreadsLimit < 0:
		return fmt.Errorf("config: threads_limit %d is negative: %w", p.ThreadsLimit, ErrInvalid)
	case p.Interval <= 0:
		return fmt.Errorf("config: interval %s must be positive: %w", p.Interval, ErrInvalid)
	}

	if _, err := p.Threads.Patterns(); err != nil {
		return err
	}
	return nil
}

// Patterns compiles the thread name expressions. Each must match the
// whole thread name.
func (t Threads) Patterns() ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(t.Names))
	for _, n := range t.Names {
		re, err := regexp.Compile(`^(?:` + n + `)$`)
		if err != nil {
			return nil, fmt.Errorf("config: thread pattern %q: %v: %w", n, err, ErrInvalid)
		}
		res = append(res, re)
	}
	return res, nil
}
