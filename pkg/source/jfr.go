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

package source

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/grafana/jfr-parser/parser"
	"github.com/grafana/jfr-parser/parser/types"
	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/calltree"
)

// JFROptions selects which flight recorder events are replayed.
type JFROptions struct {
	// Period is the sampling interval the recording was made with. Each
	// event charges its thread one period.
	Period time.Duration
	// Wall replays wall clock samples instead of execution samples.
	Wall bool
}

// NewJFR replays a Java Flight Recorder file. Every sampled thread is
// armed by a leading empty snapshot, then each event becomes a tick of
// its own for the sampled thread.
func NewJFR(buf []byte, o JFROptions) (*Replay, error) {
	if o.Period <= 0 {
		o.Period = 10 * time.Millisecond
	}

	p := parser.NewParser(buf, parser.Options{})

	var events []ThreadSample
	names := map[int64]string{}

	for {
		typ, err := p.ParseEvent()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("source: jfr: %w", err)
		}

		var (
			stRef types.StackTraceRef
			thRef types.ThreadRef
		)

		switch {
		case !o.Wall && typ == p.TypeMap.T_EXECUTION_SAMPLE:
			stRef = p.ExecutionSample.StackTrace
			thRef = p.ExecutionSample.SampledThread
		case o.Wall && typ == p.TypeMap.T_WALL_CLOCK_SAMPLE:
			stRef = p.WallClockSample.StackTrace
			thRef = p.WallClockSample.SampledThread
		default:
			continue
		}

		st := p.GetStacktrace(stRef)
		if st == nil {
			continue
		}

		frames := make([]calltree.Frame, 0, len(st.Frames))
		for _, f := range st.Frames {
			frames = append(frames, jfrFrame(p, f))
		}

		id := int64(thRef)
		if _, ok := names[id]; !ok {
			names[id] = jfrThreadName(p, thRef, id)
		}

		events = append(events, ThreadSample{
			Thread:   Thread{ID: id, Name: names[id]},
			Stack:    frames,
			Runnable: !o.Wall,
		})
	}

	klog.V(1).Infof("jfr: %d events from %d threads", len(events), len(names))
	return NewReplay(eventSnapshots(events, o.Period)), nil
}

// eventSnapshots turns sampled events into replay ticks. The first
// snapshot arms every thread seen, then every event is a tick of its own
// that charges its thread one period.
func eventSnapshots(events []ThreadSample, period time.Duration) []Snapshot {
	var (
		start   time.Time
		arm     = Snapshot{Time: start}
		seen    = map[int64]bool{}
		elapsed = map[int64]time.Duration{}
	)
	for _, e := range events {
		if !seen[e.Thread.ID] {
			seen[e.Thread.ID] = true
			arm.Threads = append(arm.Threads, ThreadSample{Thread: e.Thread})
		}
	}

	snaps := make([]Snapshot, 0, len(events)+1)
	snaps = append(snaps, arm)
	for i, e := range events {
		elapsed[e.Thread.ID] += period
		e.Elapsed = elapsed[e.Thread.ID]
		snaps = append(snaps, Snapshot{
			Time:    start.Add(time.Duration(i+1) * period),
			Threads: []ThreadSample{e},
		})
	}
	return snaps
}

func jfrFrame(p *parser.Parser, sf types.StackFrame) calltree.Frame {
	method := p.GetMethod(sf.Method)
	if method == nil {
		return javaFrame("", "", sf.LineNumber)
	}

	class := ""
	if c := p.GetClass(method.Type); c != nil {
		class = p.GetSymbolString(c.Name)
	}
	return javaFrame(class, p.GetSymbolString(method.Name), sf.LineNumber)
}

// javaFrame converts a JVM internal class name such as "java/lang/Thread"
// to its dotted form.
func javaFrame(class, method string, line uint32) calltree.Frame {
	if method == "" {
		method = "<unknown>"
	}
	return calltree.Frame{
		Class:  strings.ReplaceAll(class, "/", "."),
		Method: method,
		Line:   int(line),
	}
}

func jfrThreadName(p *parser.Parser, ref types.ThreadRef, id int64) string {
	var javaName, osName string
	if idx, ok := p.Threads.IDMap[ref]; ok {
		t := &p.Threads.Thread[idx]
		javaName, osName = t.JavaName, t.OsName
	}
	return threadName(javaName, osName, id)
}

func threadName(javaName, osName string, id int64) string {
	switch {
	case javaName != "":
		return javaName
	case osName != "":
		return osName
	}
	return fmt.Sprintf("thread-%d", id)
}
