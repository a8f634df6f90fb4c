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

package text

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/sampler"
	"github.com/google/stackjam/pkg/source/sourcetest"
)

var (
	run    = calltree.Frame{Class: "com.example.Worker", Method: "run"}
	encode = calltree.Frame{Class: "com.example.Codec", Method: "encode"}
	parse  = calltree.Frame{Class: "com.example.Parser", Method: "parse"}
)

func TestTop(t *testing.T) {
	a := calltree.NewRoot("a")
	a.Fold([]calltree.Frame{encode, run}, 30)
	a.Fold([]calltree.Frame{parse, run}, 10)
	b := calltree.NewRoot("b")
	b.Fold([]calltree.Frame{encode}, 20)
	b.Fold([]calltree.Frame{run}, 5)

	want := []MethodStat{
		{"com.example.Codec.encode", 50},
		{"com.example.Parser.parse", 10},
	}
	if diff := cmp.Diff(want, Top([]*calltree.Node{a, b}, 2)); diff != "" {
		t.Errorf("Top() mismatch (-want +got):\n%s", diff)
	}
	if got := len(Top([]*calltree.Node{a, b}, 0)); got != 3 {
		t.Errorf("len(Top(0)) = %d, want 3", got)
	}
}

func TestSummary(t *testing.T) {
	src := sourcetest.New()
	s, err := sampler.New(src, config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i <= 10; i++ {
		src.Set(1, "w", uint64(i*100), true, encode, run)
		s.Update()
	}

	got := Summary(s, 100*time.Millisecond, 20)
	want := " 10 updates over 1s, 1 threads\n\n 100.00% (     1.00s) com.example.Codec.encode()\n"
	if got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}
}

func TestShorten(t *testing.T) {
	long := "com.example." + strings.Repeat("x", 60) + ".method"
	got := shorten(long, 56)
	if len(got) != 56 || !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, ".method") {
		t.Errorf("shorten() = %q", got)
	}
	if shorten("a.b", 56) != "a.b" {
		t.Errorf("short names must be kept")
	}
}
