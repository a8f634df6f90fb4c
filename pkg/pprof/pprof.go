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

// Package pprof renders call trees into a pprof protobuf.
package pprof

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/pprof/profile"
	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/render"
)

// Render encodes the self time of every node of roots as a gzipped pprof
// profile, one sample per node, labelled with its thread.
func Render(roots []*calltree.Node, p config.Policy) ([]byte, error) {
	prof := Build(roots, p)
	if len(prof.Sample) == 0 {
		return nil, render.ErrEmpty
	}

	if err := prof.CheckValid(); err != nil {
		return nil, fmt.Errorf("pprof: %w", err)
	}

	var b bytes.Buffer
	if err := prof.Write(&b); err != nil {
		return nil, fmt.Errorf("pprof: write: %w", err)
	}

	klog.V(1).Infof("pprof: %d samples, %d locations, %d functions", len(prof.Sample), len(prof.Location), len(prof.Function))
	return b.Bytes(), nil
}

// Build converts roots into a profile without encoding it.
func Build(roots []*calltree.Node, p config.Policy) *profile.Profile {
	vt := &profile.ValueType{Type: "cpu", Unit: "nanoseconds"}
	period := p.Interval.Nanoseconds()
	if p.RealTime {
		vt = &profile.ValueType{Type: "wall", Unit: "milliseconds"}
		period = p.Interval.Milliseconds()
	}

	b := &builder{
		prof: &profile.Profile{
			SampleType: []*profile.ValueType{vt},
			PeriodType: vt,
			Period:     period,
			TimeNanos:  time.Now().UnixNano(),
			Mapping:    []*profile.Mapping{{ID: 1, HasFunctions: true, HasFilenames: true, HasLineNumbers: true}},
		},
		functions: map[string]*profile.Function{},
		locations: map[string]*profile.Location{},
	}
	for _, r := range roots {
		b.thread(r)
	}
	return b.prof
}

type builder struct {
	prof      *profile.Profile
	functions map[string]*profile.Function
	locations map[string]*profile.Location
}

func (b *builder) thread(root *calltree.Node) {
	labels := map[string][]string{"thread": {root.Name()}}

	var walk func(n *calltree.Node, stack []*profile.Location)
	walk = func(n *calltree.Node, stack []*profile.Location) {
		for _, c := range n.Children() {
			path := append([]*profile.Location{b.location(c.Frame())}, stack...)
			if self := c.Self(); self > 0 {
				b.prof.Sample = append(b.prof.Sample, &profile.Sample{
					Location: path,
					Value:    []int64{int64(self)},
					Label:    labels,
				})
			}
			walk(c, path)
		}
	}
	walk(root, nil)
}

func (b *builder) location(f calltree.Frame) *profile.Location {
	lk := fmt.Sprintf("%s %s:%d", f.Name(), f.File, f.Line)
	if l, ok := b.locations[lk]; ok {
		return l
	}

	fk := f.Name() + " " + f.File
	fn, ok := b.functions[fk]
	if !ok {
		fn = &profile.Function{
			ID:         uint64(len(b.prof.Function) + 1),
			Name:       f.Name(),
			SystemName: f.Name(),
			Filename:   f.File,
		}
		b.functions[fk] = fn
		b.prof.Function = append(b.prof.Function, fn)
	}

	l := &profile.Location{
		ID:      uint64(len(b.prof.Location) + 1),
		Mapping: b.prof.Mapping[0],
		Line:    []profile.Line{{Function: fn, Line: int64(f.Line)}},
	}
	b.locations[lk] = l
	b.prof.Location = append(b.prof.Location, l)
	return l
}
