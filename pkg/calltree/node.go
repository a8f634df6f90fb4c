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

package calltree

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Node is a call tree node. Counters and child insertion are safe for
// concurrent use; readers see monotonically increasing values.
type Node struct {
	name  string
	frame Frame
	root  bool
	seq   uint64

	self         atomic.Uint64
	intermediate atomic.Uint64
	calls        atomic.Uint64

	children sync.Map // Key -> *Node
	nextSeq  atomic.Uint64
}

// NewRoot returns an empty tree root for a thread.
func NewRoot(name string) *Node {
	return &Node{name: name, root: true}
}

// Name is the thread name for a root, or the frame symbol otherwise.
func (n *Node) Name() string {
	return n.name
}

// Frame returns the first frame observed for this node. Zero for roots.
func (n *Node) Frame() Frame {
	return n.frame
}

// IsRoot reports whether n is a thread root.
func (n *Node) IsRoot() bool {
	return n.root
}

// Self returns the time this frame was the innermost frame of a sample.
func (n *Node) Self() uint64 {
	return n.self.Load()
}

// Intermediate returns the time this frame was an ancestor of the sampled frame.
func (n *Node) Intermediate() uint64 {
	return n.intermediate.Load()
}

// Total returns Self + Intermediate.
func (n *Node) Total() uint64 {
	return n.self.Load() + n.intermediate.Load()
}

// Calls returns how many sample deltas touched this node.
func (n *Node) Calls() uint64 {
	return n.calls.Load()
}

// AddSelf attributes d as self time and counts a call.
func (n *Node) AddSelf(d uint64) {
	n.self.Add(d)
	n.calls.Add(1)
}

// AddIntermediate attributes d as intermediate time and counts a call.
func (n *Node) AddIntermediate(d uint64) {
	n.intermediate.Add(d)
	n.calls.Add(1)
}

// Child returns the child for f's key, inserting an empty one if absent.
func (n *Node) Child(f Frame) *Node {
	k := f.Key()
	if c, ok := n.children.Load(k); ok {
		return c.(*Node)
	}

	c := &Node{name: f.Name(), frame: f, seq: n.nextSeq.Add(1)}
	actual, _ := n.children.LoadOrStore(k, c)
	return actual.(*Node)
}

// Children returns every child in insertion order.
func (n *Node) Children() []*Node {
	var cs []*Node
	n.children.Range(func(_, v interface{}) bool {
		cs = append(cs, v.(*Node))
		return true
	})
	sort.Slice(cs, func(i, j int) bool { return cs[i].seq < cs[j].seq })
	return cs
}

// SortedChildren returns the children whose share of total exceeds
// minCostPct, largest first. Ties keep insertion order.
func (n *Node) SortedChildren(minCostPct float64, total uint64) []*Node {
	if total == 0 {
		return nil
	}

	type entry struct {
		n     *Node
		total uint64
	}

	var es []entry
	for _, c := range n.Children() {
		t := c.Total()
		if float64(t)*100/float64(total) > minCostPct {
			es = append(es, entry{n: c, total: t})
		}
	}

	sort.SliceStable(es, func(i, j int) bool { return es[i].total > es[j].total })

	cs := make([]*Node, len(es))
	for i, e := range es {
		cs[i] = e.n
	}
	return cs
}

// Equal reports whether n and o carry the same name and times.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	return n.name == o.name && n.Intermediate() == o.Intermediate() && n.Self() == o.Self()
}

// Fold attributes delta to stack, which is ordered innermost frame first.
// The root's own bucket always receives the delta and a call.
func (n *Node) Fold(stack []Frame, delta uint64) {
	n.AddIntermediate(delta)

	cur := n
	for i := len(stack) - 1; i >= 0; i-- {
		cur = cur.Child(stack[i])
		if i == 0 {
			cur.AddSelf(delta)
		} else {
			cur.AddIntermediate(delta)
		}
	}
}

// Walk visits n and its descendants depth first, children in insertion
// order. Returning false from fn skips the node's subtree.
func (n *Node) Walk(fn func(n *Node, depth int) bool) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(n *Node, depth int) bool, depth int) {
	if !fn(n, depth) {
		return
	}
	for _, c := range n.Children() {
		c.walk(fn, depth+1)
	}
}
