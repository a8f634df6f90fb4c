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

// Package sourcetest provides a scripted source.Source for tests.
package sourcetest

import (
	"fmt"
	"sync"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/source"
)

type thread struct {
	name     string
	counter  uint64
	stack    []calltree.Frame
	runnable bool
	err      error
}

// Fake is a source whose threads are set directly by the test. The same
// counter value is reported in CPU and real time mode.
type Fake struct {
	mu          sync.Mutex
	order       []int64
	threads     map[int64]*thread
	unavailable bool
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{threads: map[int64]*thread{}}
}

// Set creates or replaces a thread. stack is innermost first.
func (f *Fake) Set(id int64, name string, counter uint64, runnable bool, stack ...calltree.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.threads[id]; !ok {
		f.order = append(f.order, id)
	}
	f.threads[id] = &thread{name: name, counter: counter, stack: stack, runnable: runnable}
}

// Fail makes every read of the thread return err.
func (f *Fake) Fail(id int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.threads[id]; ok {
		t.err = err
	}
}

// Remove drops the thread from the listing.
func (f *Fake) Remove(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.threads, id)
	for i, o := range f.order {
		if o == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
}

// Detach makes Threads report source.ErrUnavailable.
func (f *Fake) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable = true
}

// Threads implements source.Source.
func (f *Fake) Threads() ([]source.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.unavailable {
		return nil, source.ErrUnavailable
	}

	ts := make([]source.Thread, 0, len(f.order))
	for _, id := range f.order {
		ts = append(ts, source.Thread{ID: id, Name: f.threads[id].name})
	}
	return ts, nil
}

func (f *Fake) get(id int64) (*thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, ok := f.threads[id]
	if !ok {
		return nil, fmt.Errorf("sourcetest: %d: %w", id, source.ErrThreadGone)
	}
	if t.err != nil {
		return nil, t.err
	}
	return t, nil
}

// Counter implements source.Source.
func (f *Fake) Counter(id int64, _ bool) (uint64, error) {
	t, err := f.get(id)
	if err != nil {
		return 0, err
	}
	return t.counter, nil
}

// Stack implements source.Source.
func (f *Fake) Stack(id int64) ([]calltree.Frame, error) {
	t, err := f.get(id)
	if err != nil {
		return nil, err
	}
	return t.stack, nil
}

// Runnable implements source.Source.
func (f *Fake) Runnable(id int64) (bool, error) {
	t, err := f.get(id)
	if err != nil {
		return false, err
	}
	return t.runnable, nil
}
