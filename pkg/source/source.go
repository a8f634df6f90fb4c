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

// Package source supplies thread stacks and time counters to a sampler.
package source

import (
	"errors"
	"time"

	"github.com/google/stackjam/pkg/calltree"
)

var (
	// ErrUnavailable means the profiled process is gone. No further data will arrive.
	ErrUnavailable = errors.New("source unavailable")
	// ErrThreadGone means a single thread vanished between listing and reading.
	ErrThreadGone = errors.New("thread gone")
)

// Thread is a sampled thread of execution.
type Thread struct {
	ID   int64
	Name string
}

// Source is the boundary to whatever produces stacks: a live process, a
// recorded log, or a flight recording. Calls made for one tick see the
// snapshot taken by the preceding Threads call.
type Source interface {
	// Threads lists the live threads and takes the snapshot for this tick.
	Threads() ([]Thread, error)
	// Counter returns the thread's cumulative time: CPU nanoseconds, or
	// wall clock milliseconds when realTime is set.
	Counter(id int64, realTime bool) (uint64, error)
	// Stack returns the thread's frames, innermost first.
	Stack(id int64) ([]calltree.Frame, error)
	// Runnable reports whether the thread is actively running.
	Runnable(id int64) (bool, error)
}

func counter(elapsed time.Duration, realTime bool) uint64 {
	if elapsed < 0 {
		return 0
	}
	if realTime {
		return uint64(elapsed.Milliseconds())
	}
	return uint64(elapsed.Nanoseconds())
}
