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

// Package render writes call trees as text, JSON, folded flame graph
// lines or callgrind.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

// ErrEmpty is returned when there is no sampled time to render.
var ErrEmpty = errors.New("render: empty profile")

// Kind selects an output format.
type Kind int

const (
	Tree Kind = iota
	JSON
	Flame
	Callgrind
)

var kindNames = []string{"tree", "json", "flame", "callgrind"}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a format name to its Kind.
func ParseKind(s string) (Kind, error) {
	for i, n := range kindNames {
		if strings.EqualFold(s, n) {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("render: unknown format %q (want one of %s)", s, strings.Join(kindNames, ", "))
}

// Renderer writes a set of thread roots. total is the process wide
// attributed time used for process percentages.
type Renderer interface {
	Render(b *bytes.Buffer, roots []*calltree.Node, p config.Policy, total uint64) error
}

// For returns the renderer of a kind.
func For(k Kind) (Renderer, error) {
	switch k {
	case Tree:
		return treeRenderer{}, nil
	case JSON:
		return jsonRenderer{}, nil
	case Flame:
		return flameRenderer{}, nil
	case Callgrind:
		return callgrindRenderer{}, nil
	}
	return nil, fmt.Errorf("render: unknown kind %d", int(k))
}

// Render writes roots in format k to w. Nothing is written and ErrEmpty
// is returned when no time has been attributed.
func Render(w io.Writer, k Kind, roots []*calltree.Node, p config.Policy, total uint64) error {
	bs, err := Bytes(k, roots, p, total)
	if err != nil {
		return err
	}
	if _, err := w.Write(bs); err != nil {
		return fmt.Errorf("render: write %s: %w", k, err)
	}
	return nil
}

// Bytes renders into memory.
func Bytes(k Kind, roots []*calltree.Node, p config.Policy, total uint64) ([]byte, error) {
	r, err := For(k)
	if err != nil {
		return nil, err
	}

	live := NonEmpty(roots)
	if total == 0 || len(live) == 0 {
		return nil, ErrEmpty
	}

	var b bytes.Buffer
	if err := r.Render(&b, live, p, total); err != nil {
		return nil, fmt.Errorf("render: %s: %w", k, err)
	}
	return b.Bytes(), nil
}

// NonEmpty returns the roots that carry any time.
func NonEmpty(roots []*calltree.Node) []*calltree.Node {
	var live []*calltree.Node
	for _, r := range roots {
		if r != nil && r.Total() > 0 {
			live = append(live, r)
		}
	}
	return live
}

// entry is one node position produced by walk.
type entry struct {
	node     *calltree.Node
	depth    int
	total    uint64
	children []*calltree.Node

	parentTotal uint64
	threadTotal uint64

	// elided nodes are collapsed into a run; only the first, the marker,
	// is displayed.
	elided bool
	marker bool
}

func pct(v, of uint64) float64 {
	if of == 0 {
		return 0
	}
	return float64(v) * 100 / float64(of)
}

// walk visits root and its retained descendants depth first, largest
// child first. Children must exceed p.MinCostPct of their parent. Nodes
// deeper than p.MaxDepth are not visited. With p.CollapseSingleChild, a
// node below the root that passes all of its time to its only child is
// elided: the first node of such a run takes a depth level for its
// marker, the rest take none. emit returns false to prune a subtree.
func walk(root *calltree.Node, p config.Policy, emit func(e entry) bool) {
	t := root.Total()
	visit(root, t, t, 0, false, p, emit)
}

func visit(n *calltree.Node, parentTotal, threadTotal uint64, depth int, inRun bool, p config.Policy, emit func(e entry) bool) {
	if depth > p.MaxDepth {
		return
	}

	total := n.Total()
	children := n.SortedChildren(p.MinCostPct, total)
	elide := p.CollapseSingleChild && depth > 0 && total == parentTotal && len(children) == 1 && n.Self() == 0

	e := entry{
		node:        n,
		depth:       depth,
		total:       total,
		children:    children,
		parentTotal: parentTotal,
		threadTotal: threadTotal,
		elided:      elide,
		marker:      elide && !inRun,
	}
	if !emit(e) {
		return
	}

	next := depth + 1
	if elide && inRun {
		next = depth
	}
	for _, c := range children {
		visit(c, total, threadTotal, next, elide, p, emit)
	}
}
