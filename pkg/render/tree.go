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
	"strings"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

const (
	padding     = 4
	branch      = ` \_ `
	outWidth    = 20
	totalsWidth = 30
	skipMarker  = "[...skipping...]"
)

type treeRenderer struct{}

func (treeRenderer) Render(b *bytes.Buffer, roots []*calltree.Node, p config.Policy, total uint64) error {
	for i, r := range roots {
		if i > 0 {
			b.WriteByte('\n')
		}
		walk(r, p, func(e entry) bool {
			return treeLine(b, e, p, total)
		})
	}
	return nil
}

func indent(depth int) string {
	if depth == 0 {
		return ""
	}
	return strings.Repeat(" ", (depth-1)*padding) + branch
}

func treeLine(b *bytes.Buffer, e entry, p config.Policy, total uint64) bool {
	width := p.ScreenWidth - (padding*e.depth + len(branch)) - outWidth
	if p.ShowTotals {
		width -= totalsWidth
	}
	if width <= 0 {
		return false
	}

	if e.elided {
		if e.marker {
			fmt.Fprintf(b, "%s%s\n", indent(e.depth), skipMarker)
		}
		return true
	}

	fmt.Fprintf(b, "%s%.*s (%.1f%% | %.1f%% self)", indent(e.depth), width, e.node.Name(),
		pct(e.total, e.parentTotal), pct(e.node.Self(), e.parentTotal))
	if p.ShowTotals {
		fmt.Fprintf(b, " (%.1f%% thread | %.1f%% process)", pct(e.total, e.threadTotal), pct(e.total, total))
	}
	b.WriteByte('\n')
	return true
}
