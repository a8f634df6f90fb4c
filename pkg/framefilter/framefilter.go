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

// Package framefilter classifies stack frames as idle or as infrastructure noise.
package framefilter

import (
	"strings"

	"github.com/google/stackjam/pkg/calltree"
)

// IdleFrames are entry points where a thread is parked waiting for work
// even though the scheduler reports it as running. Matched against
// Frame.Name() by prefix.
var IdleFrames = []string{
	"sun.nio.ch.EPollArrayWrapper.epollWait",
	"sun.nio.ch.EPoll.wait",
	"sun.nio.ch.KQueue.poll",
	"sun.nio.ch.WindowsSelectorImpl$SubSelector.poll0",
	"internal/poll.runtime_pollWait",
	"runtime.gopark",
	"runtime.netpollblock",
}

// NoisePackages are framework and runtime prefixes, matched against Frame.Class.
var NoisePackages = []string{
	"org.eclipse.",
	"org.apache.",
	"java.",
	"sun.",
	"com.sun.",
	"javax.",
	"oracle.",
	"com.trilead.",
	"org.junit.",
	"org.mockito.",
	"org.hibernate.",
	"com.ibm.",
	"com.caucho.",
	"runtime",
	"internal/",
	"syscall",
}

// Filter holds an idle list and a noise list.
type Filter struct {
	idle  []string
	noise []string
}

// Default uses IdleFrames and NoisePackages.
var Default = New(IdleFrames, NoisePackages)

// New returns a Filter over copies of the given prefix lists.
func New(idle, noise []string) *Filter {
	return &Filter{
		idle:  append([]string(nil), idle...),
		noise: append([]string(nil), noise...),
	}
}

// With returns a Filter extended by extra idle and noise prefixes.
func (f *Filter) With(idle, noise []string) *Filter {
	return New(append(append([]string(nil), f.idle...), idle...), append(append([]string(nil), f.noise...), noise...))
}

// IsIdle reports whether fr is a known waiting entry point.
func (f *Filter) IsIdle(fr calltree.Frame) bool {
	return hasPrefix(fr.Name(), f.idle)
}

// AnyIdle reports whether any frame of stack is idle.
func (f *Filter) AnyIdle(stack []calltree.Frame) bool {
	for _, fr := range stack {
		if f.IsIdle(fr) {
			return true
		}
	}
	return false
}

// IsNoise reports whether fr belongs to a framework or runtime package.
func (f *Filter) IsNoise(fr calltree.Frame) bool {
	return hasPrefix(fr.Class, f.noise)
}

// StripNoise returns stack without noise frames. The result shares no
// memory with stack.
func (f *Filter) StripNoise(stack []calltree.Frame) []calltree.Frame {
	out := make([]calltree.Frame, 0, len(stack))
	for _, fr := range stack {
		if !f.IsNoise(fr) {
			out = append(out, fr)
		}
	}
	return out
}

// IsIdle reports whether fr is idle according to Default.
func IsIdle(fr calltree.Frame) bool { return Default.IsIdle(fr) }

// IsNoise reports whether fr is noise according to Default.
func IsNoise(fr calltree.Frame) bool { return Default.IsNoise(fr) }

func hasPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
