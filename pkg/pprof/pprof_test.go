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

package pprof

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/pprof/profile"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/render"
)

var (
	run    = calltree.Frame{Class: "main", Method: "run", File: "/src/main.go", Line: 10}
	work   = calltree.Frame{Class: "main", Method: "work", File: "/src/main.go", Line: 20}
	encode = calltree.Frame{Class: "encoding/json", Method: "Marshal", File: "/go/src/encoding/json/encode.go", Line: 30}
)

func TestRender(t *testing.T) {
	a := calltree.NewRoot("worker-a")
	a.Fold([]calltree.Frame{encode, work, run}, 600)
	a.Fold([]calltree.Frame{work, run}, 100)
	b := calltree.NewRoot("worker-b")
	b.Fold([]calltree.Frame{encode, run}, 300)

	p := config.Defaults()
	p.Interval = 10 * time.Millisecond

	bs, err := Render([]*calltree.Node{a, b}, p)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}

	prof, err := profile.ParseData(bs)
	if err != nil {
		t.Fatalf("ParseData() = %v", err)
	}

	if got := prof.SampleType[0]; got.Type != "cpu" || got.Unit != "nanoseconds" {
		t.Errorf("SampleType = %s/%s, want cpu/nanoseconds", got.Type, got.Unit)
	}
	if prof.Period != int64(10*time.Millisecond) {
		t.Errorf("Period = %d, want %d", prof.Period, int64(10*time.Millisecond))
	}

	type stackValue struct {
		Thread string
		Stack  []string
		Value  int64
	}
	var got []stackValue
	for _, s := range prof.Sample {
		var names []string
		for _, l := range s.Location {
			names = append(names, l.Line[0].Function.Name)
		}
		got = append(got, stackValue{Thread: s.Label["thread"][0], Stack: names, Value: s.Value[0]})
	}

	want := []stackValue{
		{"worker-a", []string{"main.work", "main.run"}, 100},
		{"worker-a", []string{"encoding/json.Marshal", "main.work", "main.run"}, 600},
		{"worker-b", []string{"encoding/json.Marshal", "main.run"}, 300},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}

	if len(prof.Function) != 3 {
		t.Errorf("got %d functions, want 3 deduplicated", len(prof.Function))
	}
	if len(prof.Location) != 3 {
		t.Errorf("got %d locations, want 3 deduplicated", len(prof.Location))
	}
}

func TestRenderRealTime(t *testing.T) {
	r := calltree.NewRoot("main")
	r.Fold([]calltree.Frame{run}, 5)

	p := config.Defaults()
	p.RealTime = true

	bs, err := Render([]*calltree.Node{r}, p)
	if err != nil {
		t.Fatalf("Render() = %v", err)
	}
	prof, err := profile.ParseData(bs)
	if err != nil {
		t.Fatalf("ParseData() = %v", err)
	}
	if got := prof.SampleType[0]; got.Type != "wall" || got.Unit != "milliseconds" {
		t.Errorf("SampleType = %s/%s, want wall/milliseconds", got.Type, got.Unit)
	}
}

func TestRenderEmpty(t *testing.T) {
	if _, err := Render([]*calltree.Node{calltree.NewRoot("idle")}, config.Defaults()); !errors.Is(err, render.ErrEmpty) {
		t.Errorf("Render(empty) = %v, want render.ErrEmpty", err)
	}
}

func TestBuildIsValid(t *testing.T) {
	r := calltree.NewRoot("main")
	r.Fold([]calltree.Frame{encode, work, run}, 7)
	r.Fold([]calltree.Frame{encode, run}, 3)

	prof := Build([]*calltree.Node{r}, config.Defaults())
	if err := prof.CheckValid(); err != nil {
		t.Fatalf("CheckValid() = %v", err)
	}
	for _, l := range prof.Location {
		if l.Mapping == nil || l.Mapping.ID != 1 {
			t.Errorf("location %d mapping = %v, want mapping 1", l.ID, l.Mapping)
		}
	}
	if got := prof.Sample[0].Label["thread"]; len(got) != 1 || got[0] != "main" {
		t.Errorf("thread label = %v, want [main]", got)
	}
}
