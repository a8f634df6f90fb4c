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

// Package stackparse turns stacklogs into goroutine snapshots for analysis
package stackparse

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/panicparse/v2/stack"
	"k8s.io/klog/v2"
)

// SuggestedIgnore are goroutine creators that we recommend ignoring.
var SuggestedIgnore = []string{
	"signal.init.0",
	"trace.Start",
	"stacklog.newStackLog",
	"klog.init.0",
	"localbinary.(*Plugin).AttachStream",
	"rpc.(*DefaultRPCClientDriverFactory).NewRPCClientDriver",
	"http.(*http2Transport).newClientConn",
}

// Sample is every goroutine stack of a process at a point in time.
type Sample struct {
	Time     time.Time
	Snapshot *stack.Snapshot
}

// Read parses a stack log input.
func Read(r io.Reader) ([]*Sample, error) {
	inStack := false
	t := time.Time{}
	sd := &bytes.Buffer{}
	samples := []*Sample{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()

		if !inStack {
			if line == "" {
				continue
			}

			ns, err := strconv.ParseInt(line, 10, 64)
			if err != nil {
				return samples, fmt.Errorf("stackparse: sample %d timestamp: %w", len(samples), err)
			}

			t = time.Unix(0, ns)
			inStack = true

			continue
		}

		if strings.HasPrefix(line, "-") {
			inStack = false

			snap, err := Parse(sd.Bytes())
			if err != nil {
				return samples, fmt.Errorf("stackparse: sample %d: %w", len(samples), err)
			}

			sd.Reset()
			samples = append(samples, &Sample{Time: t, Snapshot: snap})

			continue
		}

		sd.WriteString(line)
		sd.WriteByte('\n')
	}

	if err := scanner.Err(); err != nil {
		return samples, err
	}

	if inStack {
		klog.Warningf("stackparse: dropping truncated sample at %s", t)
	}

	return samples, nil
}

// Parse parses a single runtime.Stack dump. An empty dump yields an empty snapshot.
func Parse(dump []byte) (*stack.Snapshot, error) {
	snap, _, err := stack.ScanSnapshot(bytes.NewReader(dump), io.Discard, stack.DefaultOpts())
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	if snap == nil {
		snap = &stack.Snapshot{}
	}

	return snap, nil
}

// PkgDotName returns the short "package.Function" form of f.
func PkgDotName(f stack.Func) string {
	if f.DirName == "" {
		return f.Name
	}

	return f.DirName + "." + f.Name
}

// Creator returns the function that started g, or "main". The
// " in goroutine N" suffix of Go 1.21+ dumps is dropped.
func Creator(g *stack.Goroutine) string {
	if len(g.CreatedBy.Calls) == 0 {
		return "main"
	}

	c, _, _ := strings.Cut(PkgDotName(g.CreatedBy.Calls[0].Func), " in goroutine ")
	return c
}

// Ignored reports whether g was created by one of the ignore creators.
func Ignored(g *stack.Goroutine, ignore []string) bool {
	if len(g.CreatedBy.Calls) == 0 {
		return false
	}

	c := Creator(g)
	for _, i := range ignore {
		if c == i {
			return true
		}
	}

	return false
}
