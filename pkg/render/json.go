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
	"strconv"

	"github.com/goccy/go-json"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

// Record is a jsTree node.
type Record struct {
	ID     string `json:"id"`
	Parent string `json:"parent"`
	Text   string `json:"text"`
}

type jsonRenderer struct{}

func (jsonRenderer) Render(b *bytes.Buffer, roots []*calltree.Node, p config.Policy, total uint64) error {
	var recs []Record
	for i, r := range roots {
		recs = appendRecords(recs, i, r, p, total)
	}

	b.WriteString("[\n")
	for i, rec := range recs {
		if i > 0 {
			b.WriteString(",\n")
		}
		bs, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		b.Write(bs)
	}
	b.WriteString("\n]\n")
	return nil
}

// Records returns the jsTree records of roots.
func Records(roots []*calltree.Node, p config.Policy, total uint64) []Record {
	var recs []Record
	for i, r := range NonEmpty(roots) {
		recs = appendRecords(recs, i, r, p, total)
	}
	return recs
}

// appendRecords adds the records of one thread. Ids are the parent id
// followed by the child's position, so "#_0_2" is the third child of
// the first thread.
func appendRecords(recs []Record, n int, root *calltree.Node, p config.Policy, total uint64) []Record {
	ids := map[int]string{}
	next := map[int]int{}

	walk(root, p, func(e entry) bool {
		if e.elided && !e.marker {
			return true
		}

		parent, idx := "#", n
		if e.depth > 0 {
			parent = ids[e.depth-1]
			idx = next[e.depth-1]
			next[e.depth-1]++
		}
		id := parent + "_" + strconv.Itoa(idx)
		ids[e.depth] = id
		next[e.depth] = 0

		text := skipMarker
		if !e.marker {
			text = fmt.Sprintf("%s (%.1f%% | %.1f%% self)", e.node.Name(), pct(e.total, e.parentTotal), pct(e.node.Self(), e.parentTotal))
			if p.ShowTotals {
				text += fmt.Sprintf(" (%.1f%% thread | %.1f%% process) %d calls", pct(e.total, e.threadTotal), pct(e.total, total), e.node.Calls())
			}
		}

		recs = append(recs, Record{ID: id, Parent: parent, Text: text})
		return true
	})
	return recs
}
