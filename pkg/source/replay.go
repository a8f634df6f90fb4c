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

package source

import (
	"fmt"
	"time"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/stackparse"
)

// ThreadSample is one thread's state within a recorded snapshot.
type ThreadSample struct {
	Thread
	// Elapsed is the thread's cumulative time at this snapshot.
	Elapsed  time.Duration
	Stack    []calltree.Frame
	Runnable bool
}

// Snapshot is one recorded tick.
type Snapshot struct {
	Time    time.Time
	Threads []ThreadSample
}

// Replay steps through recorded snapshots, one per Advance. It is not
// safe for concurrent use.
type Replay struct {
	snaps []Snapshot
	pos   int
	index map[int64]*ThreadSample
}

// NewReplay returns a source positioned before the first snapshot.
func NewReplay(snaps []Snapshot) *Replay {
	return &Replay{snaps: snaps, pos: -1}
}

// Len returns the number of snapshots.
func (r *Replay) Len() int {
	return len(r.snaps)
}

// Advance moves to the next snapshot and reports whether there was one.
func (r *Replay) Advance() bool {
	if r.pos < len(r.snaps) {
		r.pos++
	}
	r.index = nil
	if r.pos >= len(r.snaps) {
		return false
	}

	s := &r.snaps[r.pos]
	r.index = make(map[int64]*ThreadSample, len(s.Threads))
	for i := range s.Threads {
		r.index[s.Threads[i].ID] = &s.Threads[i]
	}
	return true
}

// Duration is the time between the first and last snapshot.
func (r *Replay) Duration() time.Duration {
	if len(r.snaps) == 0 {
		return 0
	}
	return r.snaps[len(r.snaps)-1].Time.Sub(r.snaps[0].Time)
}

// Interval is the mean time between snapshots, zero with fewer than two
// snapshots.
func (r *Replay) Interval() time.Duration {
	if len(r.snaps) < 2 {
		return 0
	}
	return r.Duration() / time.Duration(len(r.snaps)-1)
}

// Threads lists the threads of the current snapshot.
func (r *Replay) Threads() ([]Thread, error) {
	if r.index == nil {
		return nil, fmt.Errorf("source: replay at %d of %d: %w", r.pos, len(r.snaps), ErrUnavailable)
	}

	s := r.snaps[r.pos]
	ts := make([]Thread, len(s.Threads))
	for i, t := range s.Threads {
		ts[i] = t.Thread
	}
	return ts, nil
}

func (r *Replay) lookup(id int64) (*ThreadSample, error) {
	t, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("source: thread %d: %w", id, ErrThreadGone)
	}
	return t, nil
}

// Counter returns the recorded cumulative time of the thread.
func (r *Replay) Counter(id int64, realTime bool) (uint64, error) {
	t, err := r.lookup(id)
	if err != nil {
		return 0, err
	}
	return counter(t.Elapsed, realTime), nil
}

// Stack returns the recorded frames of the thread.
func (r *Replay) Stack(id int64) ([]calltree.Frame, error) {
	t, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.Stack, nil
}

// Runnable returns the recorded run state of the thread.
func (r *Replay) Runnable(id int64) (bool, error) {
	t, err := r.lookup(id)
	if err != nil {
		return false, err
	}
	return t.Runnable, nil
}

// FromStacklog converts parsed stack log samples. Every goroutine's
// counter is the time since the first sample. The logging goroutine and
// those started by an ignore creator are left out.
func FromStacklog(samples []*stackparse.Sample, ignore []string) *Replay {
	snaps := make([]Snapshot, 0, len(samples))
	if len(samples) == 0 {
		return NewReplay(snaps)
	}

	start := samples[0].Time
	for _, s := range samples {
		snap := Snapshot{Time: s.Time}
		for _, g := range s.Snapshot.Goroutines {
			if g.First || stackparse.Ignored(g, ignore) {
				continue
			}
			snap.Threads = append(snap.Threads, ThreadSample{
				Thread:   Thread{ID: int64(g.ID), Name: GoroutineName(g)},
				Elapsed:  s.Time.Sub(start),
				Stack:    GoroutineFrames(g),
				Runnable: RunnableState(g.State),
			})
		}
		snaps = append(snaps, snap)
	}
	return NewReplay(snaps)
}
