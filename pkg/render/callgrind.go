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

package render

import (
	"bytes"
	"fmt"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

// callgrindRenderer writes the callgrind format read by KCachegrind.
// Each function block lists its self cost and then one call record per
// retained child; the child's own block follows later.
type callgrindRenderer struct{}

func (callgrindRenderer) Render(b *bytes.Buffer, roots []*calltree.Node, p config.Policy, _ uint64) error {
	unit := "Nanoseconds"
	if p.RealTime {
		unit = "Milliseconds"
	}
	fmt.Fprintf(b, "events: %s\n\n", unit)

	p.CollapseSingleChild = false
	for _, r := range roots {
		fmt.Fprintf(b, "# thread: %s\n", r.Name())
		walk(r, p, func(e entry) bool {
			if e.depth == 0 {
				return true
			}
			callgrindBlock(b, e, p)
			return true
		})
	}
	return nil
}

func callgrindBlock(b *bytes.Buffer, e entry, p config.Policy) {
	f := e.node.Frame()
	fmt.Fprintf(b, "fl=%s\nfn=%s\n%d %d\n", sourceFile(f), e.node.Name(), f.Line, e.node.Self())

	if e.depth < p.MaxDepth {
		for _, c := range e.children {
			cf := c.Frame()
			fmt.Fprintf(b, "cfl=%s\ncfn=%s\ncalls=%d %d\n%d %d\n", sourceFile(cf), c.Name(), c.Calls(), cf.Line, f.Line, c.Total())
		}
	}
	b.WriteByte('\n')
}

// sourceFile falls back to the declaring type when no file was reported.
func sourceFile(f calltree.Frame) string {
	switch {
	case f.File != "":
		return f.File
	case f.Class != "":
		return f.Class
	}
	return "(unknown)"
}
