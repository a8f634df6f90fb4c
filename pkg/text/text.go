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

// Package text renders a flat summary of the hottest methods.
package text

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/sampler"
)

// MethodStat is the self time of one method summed over every thread.
type MethodStat struct {
	Name string
	Self uint64
}

// Top returns the n methods with the most self time, largest first.
func Top(roots []*calltree.Node, n int) []MethodStat {
	sums := map[calltree.Key]*MethodStat{}
	var order []calltree.Key

	for _, r := range roots {
		r.Walk(func(nd *calltree.Node, _ int) bool {
			if nd.IsRoot() || nd.Self() == 0 {
				return true
			}
			k := nd.Frame().Key()
			st, ok := sums[k]
			if !ok {
				st = &MethodStat{Name: nd.Name()}
				sums[k] = st
				order = append(order, k)
			}
			st.Self += nd.Self()
			return true
		})
	}

	stats := make([]MethodStat, 0, len(order))
	for _, k := range order {
		stats = append(stats, *sums[k])
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Self > stats[j].Self })

	if n > 0 && len(stats) > n {
		stats = stats[:n]
	}
	return stats
}

// Summary outputs the top methods of a sampler with their share of the
// attributed time and the wall time that share represents, given the
// sampling interval.
func Summary(s *sampler.Sampler, interval time.Duration, n int) string {
	var sb strings.Builder

	total := s.TotalAttributedTime()
	sb.WriteString(fmt.Sprintf(" %d updates over %s, %d threads\n\n", s.UpdateCount(), time.Duration(s.UpdateCount())*interval, len(s.Roots())))
	if total == 0 {
		return sb.String()
	}

	wall := time.Duration(s.UpdateCount()) * interval
	for _, st := range Top(s.Roots(), n) {
		ratio := float64(st.Self) / float64(total)
		sb.WriteString(fmt.Sprintf(" %6.2f%% (%9.2fs) %s()\n", ratio*100, ratio*wall.Seconds(), shorten(st.Name, 56)))
	}

	return sb.String()
}

func shorten(name string, size int) string {
	if len(name) <= size {
		return name
	}
	return "..." + name[len(name)-size+3:]
}
