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
	"sync"
	"time"

	"github.com/maruel/panicparse/v2/stack"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/stacklog"
	"github.com/google/stackjam/pkg/stackparse"
)

// Goroutines samples the goroutines of the current process. Each
// goroutine is a thread; its counter is the time elapsed since the
// source was created, so a goroutine is charged for every interval in
// which it was seen running.
type Goroutines struct {
	start  time.Time
	ignore []string

	mu   sync.Mutex
	now  time.Time
	snap map[int64]*stack.Goroutine
}

// NewGoroutines returns a live source. Goroutines started by one of the
// ignore creators are never listed.
func NewGoroutines(ignore []string) *Goroutines {
	return &Goroutines{start: time.Now(), ignore: ignore}
}

// Threads takes a goroutine dump and lists every goroutine except the caller's.
func (g *Goroutines) Threads() ([]Thread, error) {
	snap, err := stackparse.Parse(stacklog.DumpStacks())
	if err != nil {
		return nil, fmt.Errorf("source: goroutine dump: %w", err)
	}
	now := time.Now()

	m := make(map[int64]*stack.Goroutine, len(snap.Goroutines))
	var ts []Thread
	for _, gr := range snap.Goroutines {
		if gr.First || stackparse.Ignored(gr, g.ignore) {
			continue
		}
		id := int64(gr.ID)
		m[id] = gr
		ts = append(ts, Thread{ID: id, Name: GoroutineName(gr)})
	}

	g.mu.Lock()
	g.now, g.snap = now, m
	g.mu.Unlock()

	return ts, nil
}

func (g *Goroutines) lookup(id int64) (*stack.Goroutine, time.Time, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	gr, ok := g.snap[id]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("source: goroutine %d: %w", id, ErrThreadGone)
	}
	return gr, g.now, nil
}

// Counter returns the time elapsed at the last snapshot.
func (g *Goroutines) Counter(id int64, realTime bool) (uint64, error) {
	_, now, err := g.lookup(id)
	if err != nil {
		return 0, err
	}
	return counter(now.Sub(g.start), realTime), nil
}

// Stack returns the goroutine's frames at the last snapshot.
func (g *Goroutines) Stack(id int64) ([]calltree.Frame, error) {
	gr, _, err := g.lookup(id)
	if err != nil {
		return nil, err
	}
	return GoroutineFrames(gr), nil
}

// Runnable reports whether the goroutine was on or ready for a CPU.
func (g *Goroutines) Runnable(id int64) (bool, error) {
	gr, _, err := g.lookup(id)
	if err != nil {
		return false, err
	}
	return RunnableState(gr.State), nil
}

// GoroutineName names a goroutine after its id and creator.
func GoroutineName(g *stack.Goroutine) string {
	return fmt.Sprintf("goroutine %d (%s)", g.ID, stackparse.Creator(g))
}

// GoroutineFrames converts a parsed goroutine stack, innermost first.
func GoroutineFrames(g *stack.Goroutine) []calltree.Frame {
	fs := make([]calltree.Frame, 0, len(g.Stack.Calls))
	for _, c := range g.Stack.Calls {
		fs = append(fs, calltree.Frame{
			Class:  c.Func.ImportPath,
			Method: c.Func.Name,
			File:   c.RemoteSrcPath,
			Line:   c.Line,
		})
	}
	return fs
}

// RunnableState reports whether a goroutine state means it is using or
// waiting for a CPU.
func RunnableState(state string) bool {
	switch state {
	case "running", "runnable", "syscall":
		return true
	}
	return false
}
