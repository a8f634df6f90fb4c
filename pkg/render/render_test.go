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
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
)

var (
	run    = calltree.Frame{Class: "com.example.Worker", Method: "run", File: "Worker.java", Line: 10}
	work   = calltree.Frame{Class: "com.example.Worker", Method: "work", File: "Worker.java", Line: 20}
	encode = calltree.Frame{Class: "com.example.Codec", Method: "encode", File: "Codec.java", Line: 30}
	parse  = calltree.Frame{Class: "com.example.Parser", Method: "parse", Line: 40}
)

// sample returns worker: run 100 -> work 60 -> encode 60, run -> parse 40.
func sample() *calltree.Node {
	r := calltree.NewRoot("worker")
	r.Fold([]calltree.Frame{encode, work, run}, 60)
	r.Fold([]calltree.Frame{parse, run}, 40)
	return r
}

// forked returns worker: run 100 -> work 100 -> encode 60, parse 40.
func forked() *calltree.Node {
	r := calltree.NewRoot("worker")
	r.Fold([]calltree.Frame{encode, work, run}, 60)
	r.Fold([]calltree.Frame{parse, work, run}, 40)
	return r
}

func chain(names ...string) *calltree.Node {
	r := calltree.NewRoot("worker")
	var st []calltree.Frame
	for i := len(names) - 1; i >= 0; i-- {
		st = append(st, calltree.Frame{Class: "c", Method: names[i]})
	}
	r.Fold(st, 10)
	return r
}

func lines(s string) []string {
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

func mustBytes(t *testing.T, k Kind, roots []*calltree.Node, p config.Policy, total uint64) string {
	t.Helper()
	bs, err := Bytes(k, roots, p, total)
	if err != nil {
		t.Fatalf("Bytes(%s) = %v", k, err)
	}
	return string(bs)
}

func TestTree(t *testing.T) {
	got := mustBytes(t, Tree, []*calltree.Node{sample()}, config.Defaults(), 100)
	want := []string{
		`worker (100.0% | 0.0% self)`,
		` \_ com.example.Worker.run (100.0% | 0.0% self)`,
		`     \_ com.example.Worker.work (60.0% | 0.0% self)`,
		`         \_ com.example.Codec.encode (100.0% | 100.0% self)`,
		`     \_ com.example.Parser.parse (40.0% | 40.0% self)`,
	}
	if diff := cmp.Diff(want, lines(got)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeShowTotals(t *testing.T) {
	p := config.Defaults()
	p.ShowTotals = true
	p.MaxDepth = 0

	got := mustBytes(t, Tree, []*calltree.Node{sample()}, p, 200)
	want := []string{`worker (100.0% | 0.0% self) (100.0% thread | 50.0% process)`}
	if diff := cmp.Diff(want, lines(got)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeMinCost(t *testing.T) {
	p := config.Defaults()
	p.MinCostPct = 50

	got := mustBytes(t, Tree, []*calltree.Node{sample()}, p, 100)
	if strings.Contains(got, "parse") {
		t.Errorf("child at 40%% of its parent should be filtered at min cost 50:\n%s", got)
	}
	if !strings.Contains(got, "encode") {
		t.Errorf("child at 100%% of its parent is missing:\n%s", got)
	}
}

func TestTreeWidth(t *testing.T) {
	p := config.Defaults()
	p.ScreenWidth = 30

	got := mustBytes(t, Tree, []*calltree.Node{sample()}, p, 100)
	want := []string{
		`worker (100.0% | 0.0% self)`,
		` \_ co (100.0% | 0.0% self)`,
	}
	if diff := cmp.Diff(want, lines(got)); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestTreeCollapse(t *testing.T) {
	p := config.Defaults()
	p.CollapseSingleChild = true

	tests := []struct {
		name string
		root *calltree.Node
		want []string
	}{
		{
			name: "one elided node",
			root: chain("x", "y"),
			want: []string{
				`worker (100.0% | 0.0% self)`,
				` \_ [...skipping...]`,
				`     \_ c.y (100.0% | 100.0% self)`,
			},
		},
		{
			name: "run of elided nodes",
			root: chain("a", "b", "c", "d"),
			want: []string{
				`worker (100.0% | 0.0% self)`,
				` \_ [...skipping...]`,
				`     \_ c.d (100.0% | 100.0% self)`,
			},
		},
		{
			name: "branching node kept",
			root: forked(),
			want: []string{
				`worker (100.0% | 0.0% self)`,
				` \_ [...skipping...]`,
				`     \_ com.example.Worker.work (100.0% | 0.0% self)`,
				`         \_ com.example.Codec.encode (60.0% | 60.0% self)`,
				`         \_ com.example.Parser.parse (40.0% | 40.0% self)`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustBytes(t, Tree, []*calltree.Node{tt.root}, p, tt.root.Total())
			if diff := cmp.Diff(tt.want, lines(got)); diff != "" {
				t.Errorf("tree mismatch (-want +got):\n%s", diff)
			}
			if n := strings.Count(got, skipMarker); n != 1 {
				t.Errorf("got %d skip markers, want 1", n)
			}
		})
	}
}

// An elided run costs one level of depth however long it is.
func TestCollapseDepth(t *testing.T) {
	root := chain("a", "b", "c", "d", "e", "leaf")

	p := config.Defaults()
	p.MaxDepth = 2
	got := mustBytes(t, Tree, []*calltree.Node{root}, p, root.Total())
	if diff := cmp.Diff([]string{
		`worker (100.0% | 0.0% self)`,
		` \_ c.a (100.0% | 0.0% self)`,
		`     \_ c.b (100.0% | 0.0% self)`,
	}, lines(got)); diff != "" {
		t.Errorf("uncollapsed tree mismatch (-want +got):\n%s", diff)
	}

	p.CollapseSingleChild = true
	got = mustBytes(t, Tree, []*calltree.Node{root}, p, root.Total())
	if diff := cmp.Diff([]string{
		`worker (100.0% | 0.0% self)`,
		` \_ [...skipping...]`,
		`     \_ c.leaf (100.0% | 100.0% self)`,
	}, lines(got)); diff != "" {
		t.Errorf("collapsed tree mismatch (-want +got):\n%s", diff)
	}
}

func TestJSON(t *testing.T) {
	p := config.Defaults()
	p.CollapseSingleChild = true
	roots := []*calltree.Node{sample(), chain("x", "y")}

	bs, err := Bytes(JSON, roots, p, 110)
	if err != nil {
		t.Fatalf("Bytes(JSON) = %v", err)
	}

	var got []Record
	if err := json.Unmarshal(bs, &got); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, bs)
	}

	want := []Record{
		{ID: "#_0", Parent: "#", Text: "worker (100.0% | 0.0% self)"},
		{ID: "#_0_0", Parent: "#_0", Text: "com.example.Worker.run (100.0% | 0.0% self)"},
		{ID: "#_0_0_0", Parent: "#_0_0", Text: "com.example.Worker.work (60.0% | 0.0% self)"},
		{ID: "#_0_0_0_0", Parent: "#_0_0_0", Text: "com.example.Codec.encode (100.0% | 100.0% self)"},
		{ID: "#_0_0_1", Parent: "#_0_0", Text: "com.example.Parser.parse (40.0% | 40.0% self)"},
		{ID: "#_1", Parent: "#", Text: "worker (100.0% | 0.0% self)"},
		{ID: "#_1_0", Parent: "#_1", Text: skipMarker},
		{ID: "#_1_0_0", Parent: "#_1_0", Text: "c.y (100.0% | 100.0% self)"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("JSON mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, Records(roots, p, 110)); diff != "" {
		t.Errorf("Records() mismatch (-want +got):\n%s", diff)
	}
}

func TestJSONShowTotals(t *testing.T) {
	p := config.Defaults()
	p.ShowTotals = true
	p.MaxDepth = 0

	recs := Records([]*calltree.Node{sample()}, p, 400)
	want := "worker (100.0% | 0.0% self) (100.0% thread | 25.0% process) 2 calls"
	if len(recs) != 1 || recs[0].Text != want {
		t.Errorf("Records() = %+v, want one record %q", recs, want)
	}
}

func TestFlame(t *testing.T) {
	r := calltree.NewRoot("worker")
	r.Fold([]calltree.Frame{encode, work, run}, 5)
	// A leaf that never had self time.
	r.Child(run).Child(parse).AddIntermediate(3)

	got := mustBytes(t, Flame, []*calltree.Node{r}, config.Defaults(), 8)
	want := []string{"worker;com.example.Worker.run;com.example.Worker.work;com.example.Codec.encode 5"}
	if diff := cmp.Diff(want, lines(got)); diff != "" {
		t.Errorf("flame mismatch (-want +got):\n%s", diff)
	}
}

func TestFlameIgnoresLimits(t *testing.T) {
	r := calltree.NewRoot("worker")
	r.Fold([]calltree.Frame{encode, work, run}, 999)
	r.Fold([]calltree.Frame{parse, run}, 1)

	p := config.Defaults()
	p.MaxDepth = 1
	got := mustBytes(t, Flame, []*calltree.Node{r}, p, r.Total())
	want := []string{
		"worker;com.example.Worker.run;com.example.Worker.work;com.example.Codec.encode 999",
		"worker;com.example.Worker.run;com.example.Parser.parse 1",
	}
	if diff := cmp.Diff(want, lines(got)); diff != "" {
		t.Errorf("flame mismatch (-want +got):\n%s", diff)
	}
}

func TestCallgrind(t *testing.T) {
	got := mustBytes(t, Callgrind, []*calltree.Node{sample()}, config.Defaults(), 100)
	want := `events: Nanoseconds

# thread: worker
fl=Worker.java
fn=com.example.Worker.run
10 0
cfl=Worker.java
cfn=com.example.Worker.work
calls=1 20
10 60
cfl=com.example.Parser
cfn=com.example.Parser.parse
calls=1 40
10 40

fl=Worker.java
fn=com.example.Worker.work
20 0
cfl=Codec.java
cfn=com.example.Codec.encode
calls=1 30
20 60

fl=Codec.java
fn=com.example.Codec.encode
30 60

fl=com.example.Parser
fn=com.example.Parser.parse
40 40

`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("callgrind mismatch (-want +got):\n%s", diff)
	}
}

func TestCallgrindRealTime(t *testing.T) {
	p := config.Defaults()
	p.RealTime = true
	got := mustBytes(t, Callgrind, []*calltree.Node{sample()}, p, 100)
	if !strings.HasPrefix(got, "events: Milliseconds\n") {
		t.Errorf("callgrind header = %q", lines(got)[0])
	}
}

func TestEmpty(t *testing.T) {
	for _, k := range []Kind{Tree, JSON, Flame, Callgrind} {
		t.Run(k.String(), func(t *testing.T) {
			var b bytes.Buffer
			err := Render(&b, k, []*calltree.Node{sample()}, config.Defaults(), 0)
			if !errors.Is(err, ErrEmpty) {
				t.Errorf("Render(total=0) = %v, want ErrEmpty", err)
			}
			if err := Render(&b, k, []*calltree.Node{calltree.NewRoot("idle")}, config.Defaults(), 10); !errors.Is(err, ErrEmpty) {
				t.Errorf("Render(empty root) = %v, want ErrEmpty", err)
			}
			if b.Len() != 0 {
				t.Errorf("empty render wrote %q", b.String())
			}
		})
	}
}

var errDiskFull = errors.New("disk full")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errDiskFull }

func TestWriteError(t *testing.T) {
	err := Render(failingWriter{}, Tree, []*calltree.Node{sample()}, config.Defaults(), 100)
	if !errors.Is(err, errDiskFull) {
		t.Errorf("Render() = %v, want wrapped errDiskFull", err)
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range []Kind{Tree, JSON, Flame, Callgrind} {
		got, err := ParseKind(strings.ToUpper(k.String()))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v; want %v", k.String(), got, err, k)
		}
	}
	if _, err := ParseKind("svg"); err == nil {
		t.Errorf("ParseKind(svg) = nil error")
	}
}
