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
	"strconv"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

// flameRenderer writes folded stacks. Every node with self time gets a
// line, whatever the cost and depth limits.
type flameRenderer struct{}

func (flameRenderer) Render(b *bytes.Buffer, roots []*calltree.Node, _ config.Policy, _ uint64) error {
	for _, r := range roots {
		folded(b, r.Name(), r)
	}
	return nil
}

func folded(b *bytes.Buffer, prefix string, n *calltree.Node) {
	for _, c := range n.Children() {
		folded(b, prefix+";"+c.Name(), c)
	}
	if self := n.Self(); self != 0 {
		b.WriteString(prefix)
		b.WriteByte(' ')
		b.WriteString(strconv.FormatUint(self, 10))
		b.WriteByte('\n')
	}
}
