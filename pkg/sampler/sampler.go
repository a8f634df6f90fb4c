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

// Package sampler folds periodic thread stack samples into per-thread call trees.
package sampler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/framefilter"
	"github.com/google/stackjam/pkg/source"
)

// Option customizes a Sampler.
type Option func(*Sampler)

// WithFilter replaces the idle frame filter used in CPU mode.
func WithFilter(f *framefilter.Filter) Option {
	return func(s *Sampler) { s.filter = f }
}

// WithoutNoise strips framework and runtime frames before folding.
func WithoutNoise() Option {
	return func(s *Sampler) { s.stripNoise = true }
}

// Sampler owns one call tree root per sampled thread.
type Sampler struct {
	src        source.Source
	realTime   bool
	ids        map[int64]bool
	names      []*regexp.Regexp
	filter     *framefilter.Filter
	stripNoise bool

	// mu serializes Update and guards prev and detached.
	mu       sync.Mutex
	prev     map[int64]uint64
	detached bool

	rootsMu sync.RWMutex
	roots   map[int64]*calltree.Node
	order   []*calltree.Node

	total   atomic.Uint64
	updates atomic.Uint64
}

// New returns a Sampler reading from src. Only the thread selector and
// RealTime of p are used.
func New(src source.Source, p config.Policy, opts ...Option) (*Sampler, error) {
	names, err := p.Threads.Patterns()
	if err != nil {
		return nil, err
	}

	s := &Sampler{
		src:      src,
		realTime: p.RealTime,
		names:    names,
		filter:   framefilter.Default,
		prev:     map[int64]uint64{},
		roots:    map[int64]*calltree.Node{},
	}
	if len(p.Threads.IDs) > 0 {
		s.ids = map[int64]bool{}
		for _, id := range p.Threads.IDs {
			s.ids[id] = true
		}
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Sampler) selected(t source.Thread) bool {
	if s.ids == nil && len(s.names) == 0 {
		return true
	}
	if s.ids[t.ID] {
		return true
	}
	for _, re := range s.names {
		if re.MatchString(t.Name) {
			return true
		}
	}
	return false
}

// Update takes one sample of every selected thread. A source that has
// become unavailable detaches the sampler; trees gathered so far remain.
func (s *Sampler) Update() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}

	threads, err := s.src.Threads()
	if err != nil {
		if errors.Is(err, source.ErrUnavailable) {
			s.detached = true
			klog.Infof("sampler: source detached after %d updates: %v", s.updates.Load(), err)
			return
		}
		klog.Errorf("sampler: list threads: %v", err)
		return
	}

	attributed := false
	for _, t := range threads {
		if !s.selected(t) {
			continue
		}

		d, err := s.sample(t)
		if err != nil {
			// The thread re-arms if it shows up again.
			delete(s.prev, t.ID)
			klog.V(2).Infof("sampler: thread %d (%s): %v", t.ID, t.Name, err)
			continue
		}
		if d > 0 {
			attributed = true
			s.total.Add(d)
		}
	}

	if attributed {
		s.updates.Add(1)
	}
}

// sample reads one thread and folds its stack. It returns the time
// attributed, zero when the sample was dropped.
func (s *Sampler) sample(t source.Thread) (uint64, error) {
	cur, err := s.src.Counter(t.ID, s.realTime)
	if err != nil {
		return 0, err
	}
	stack, err := s.src.Stack(t.ID)
	if err != nil {
		return 0, err
	}

	last, armed := s.prev[t.ID]
	s.prev[t.ID] = cur
	if !armed || cur <= last || len(stack) == 0 {
		return 0, nil
	}
	delta := cur - last

	if !s.realTime {
		ok, err := s.src.Runnable(t.ID)
		if err != nil {
			return 0, err
		}
		if !ok || s.filter.AnyIdle(stack) {
			return 0, nil
		}
	}

	if s.stripNoise {
		stack = s.filter.StripNoise(stack)
	}

	s.root(t).Fold(stack, delta)
	return delta, nil
}

func (s *Sampler) root(t source.Thread) *calltree.Node {
	s.rootsMu.RLock()
	r, ok := s.roots[t.ID]
	s.rootsMu.RUnlock()
	if ok {
		return r
	}

	s.rootsMu.Lock()
	defer s.rootsMu.Unlock()
	if r, ok := s.roots[t.ID]; ok {
		return r
	}
	r = calltree.NewRoot(t.Name)
	s.roots[t.ID] = r
	s.order = append(s.order, r)
	return r
}

// Detached reports whether the source has gone away.
func (s *Sampler) Detached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detached
}

// TotalAttributedTime is the sum of every delta folded into a tree.
func (s *Sampler) TotalAttributedTime() uint64 {
	return s.total.Load()
}

// UpdateCount is the number of updates that attributed at least one sample.
func (s *Sampler) UpdateCount() uint64 {
	return s.updates.Load()
}

// Roots returns every thread root in creation order.
func (s *Sampler) Roots() []*calltree.Node {
	s.rootsMu.RLock()
	defer s.rootsMu.RUnlock()
	return append([]*calltree.Node(nil), s.order...)
}

// Root returns the root of a thread, if it has been sampled.
func (s *Sampler) Root(id int64) (*calltree.Node, bool) {
	s.rootsMu.RLock()
	defer s.rootsMu.RUnlock()
	r, ok := s.roots[id]
	return r, ok
}

// TopRoots returns the roots holding more than minTotalPct of the total
// attributed time, largest first, at most limit of them. A limit of zero
// or less means no limit.
func (s *Sampler) TopRoots(minTotalPct float64, limit int) []*calltree.Node {
	grand := s.TotalAttributedTime()
	if grand == 0 {
		return nil
	}

	type entry struct {
		n     *calltree.Node
		total uint64
	}

	var es []entry
	for _, r := range s.Roots() {
		t := r.Total()
		if float64(t)*100/float64(grand) > minTotalPct {
			es = append(es, entry{n: r, total: t})
		}
	}
	sort.SliceStable(es, func(i, j int) bool { return es[i].total > es[j].total })

	if limit > 0 && len(es) > limit {
		es = es[:limit]
	}

	rs := make([]*calltree.Node, len(es))
	for i, e := range es {
		rs[i] = e.n
	}
	return rs
}

// String summarizes the sampler state.
func (s *Sampler) String() string {
	return fmt.Sprintf("%d threads, %d updates, %d attributed", len(s.Roots()), s.UpdateCount(), s.TotalAttributedTime())
}
