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

// stackjam replays a stack log or a Java Flight Recording through the
// sampler and renders the resulting call trees.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/pprof"
	"github.com/google/stackjam/pkg/render"
	"github.com/google/stackjam/pkg/sampler"
	"github.com/google/stackjam/pkg/sink"
	"github.com/google/stackjam/pkg/source"
	"github.com/google/stackjam/pkg/stackparse"
	"github.com/google/stackjam/pkg/stacklog"
	"github.com/google/stackjam/pkg/text"
	"github.com/google/stackjam/pkg/web"
)

var (
	format       = pflag.String("format", "tree", "Output format: tree, json, flame, callgrind or pprof")
	outPath      = pflag.String("out", "-", "Path to write output to (.lz4 and .gz are compressed)")
	configPath   = pflag.String("config", "", "YAML policy file")
	minCost      = pflag.Float64("min-cost", 5, "Hide children below this percentage of their parent")
	minTotal     = pflag.Float64("min-total", 5, "Hide threads below this percentage of the process")
	maxDepth     = pflag.Int("max-depth", 15, "Maximum tree depth")
	collapse     = pflag.Bool("collapse", false, "Elide single-child frames that pass on all of their time")
	showTotals   = pflag.Bool("show-totals", false, "Also print thread and process percentages")
	realTime     = pflag.Bool("real-time", false, "Attribute wall clock time, including blocked threads")
	threadNames  = pflag.StringSlice("threads", nil, "Regular expressions of thread names to include (default: all)")
	threadIDs    = pflag.Int64Slice("thread-ids", nil, "Thread or goroutine ids to include (default: all)")
	threadsLimit = pflag.Int("threads-limit", 0, "Maximum number of threads to render (0: no limit)")
	hideNoise    = pflag.Bool("hide-noise", false, "Drop framework and runtime frames before folding")
	jfrPeriod    = pflag.Duration("jfr-period", 10*time.Millisecond, "Sampling interval the JFR recording was made with")
	httpEndpoint = pflag.String("http", "", "HTTP endpoint to serve the trees at")
	openBrowser  = pflag.Bool("browser", false, "Open a browser on the --http endpoint")
	summary      = pflag.Int("summary", 0, "Print this many of the hottest methods to stderr")
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	if len(pflag.Args()) != 1 {
		fmt.Fprintln(os.Stderr, "usage: stackjam [flags] <stack.log|recording.jfr>")
		pflag.PrintDefaults()
		os.Exit(64) // EX_USAGE
	}

	s := stacklog.MustStartFromEnv("STACKLOG_PATH")
	err := run(pflag.Args()[0])
	if serr := s.Stop(); serr != nil {
		klog.Errorf("stacklog: %v", serr)
	}

	if errors.Is(err, render.ErrEmpty) {
		klog.Exitf("no time was attributed; try --real-time")
	}
	if err != nil {
		klog.Exit(err)
	}
}

func run(in string) error {
	p, err := policy()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	rep, err := load(in, p)
	if err != nil {
		return fmt.Errorf("load %s: %w", in, err)
	}

	var opts []sampler.Option
	if *hideNoise {
		opts = append(opts, sampler.WithoutNoise())
	}
	smp, err := sampler.New(rep, p, opts...)
	if err != nil {
		return fmt.Errorf("sampler: %w", err)
	}

	for rep.Advance() {
		smp.Update()
	}
	klog.Infof("replayed %d snapshots over %s: %s", rep.Len(), rep.Duration(), smp)

	// Summaries, the web view and pprof periods use the recorded interval.
	if iv := rep.Interval(); iv > 0 {
		p.Interval = iv
	}

	if *summary > 0 {
		fmt.Fprint(os.Stderr, text.Summary(smp, p.Interval, *summary))
	}

	if *httpEndpoint != "" {
		return serve(smp, p)
	}

	if err := output(smp, p); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	return nil
}

// policy loads --config and applies the flags that were set explicitly.
func policy() (config.Policy, error) {
	p := config.Defaults()
	if *configPath != "" {
		var err error
		if p, err = config.Load(*configPath); err != nil {
			return p, err
		}
	}

	set := pflag.CommandLine.Changed
	if set("min-cost") {
		p.MinCostPct = *minCost
	}
	if set("min-total") {
		p.MinTotalPct = *minTotal
	}
	if set("max-depth") {
		p.MaxDepth = *maxDepth
	}
	if set("collapse") {
		p.CollapseSingleChild = *collapse
	}
	if set("show-totals") {
		p.ShowTotals = *showTotals
	}
	if set("real-time") {
		p.RealTime = *realTime
	}
	if set("threads") {
		p.Threads.Names = *threadNames
	}
	if set("thread-ids") {
		p.Threads.IDs = *threadIDs
	}
	if set("threads-limit") {
		p.ThreadsLimit = *threadsLimit
	}

	return p, p.Validate()
}

func load(path string, p config.Policy) (*source.Replay, error) {
	if strings.HasSuffix(path, ".jfr") || strings.HasSuffix(path, ".jfr.gz") {
		bs, err := sink.ReadAll(path)
		if err != nil {
			return nil, err
		}
		return source.NewJFR(bs, source.JFROptions{Period: *jfrPeriod, Wall: p.RealTime})
	}

	r, err := sink.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	samples, err := stackparse.Read(r)
	if err != nil {
		return nil, err
	}
	return source.FromStacklog(samples, stackparse.SuggestedIgnore), nil
}

func output(smp *sampler.Sampler, p config.Policy) error {
	roots := smp.TopRoots(p.MinTotalPct, p.ThreadsLimit)

	var (
		bs  []byte
		err error
	)
	if *format == "pprof" {
		bs, err = pprof.Render(roots, p)
	} else {
		k, kerr := render.ParseKind(*format)
		if kerr != nil {
			return kerr
		}
		bs, err = render.Bytes(k, roots, p, smp.TotalAttributedTime())
	}
	if err != nil {
		return err
	}

	w, err := sink.Create(*outPath)
	if err != nil {
		return err
	}
	if _, err := w.Write(bs); err != nil {
		w.Close()
		return fmt.Errorf("write: %w", err)
	}
	return w.Close()
}

func serve(smp *sampler.Sampler, p config.Policy) error {
	if *openBrowser {
		url := "http://" + *httpEndpoint
		if strings.HasPrefix(*httpEndpoint, ":") {
			url = "http://localhost" + *httpEndpoint
		}
		go func() {
			time.Sleep(250 * time.Millisecond)
			browser.Stdout = io.Discard
			if err := browser.OpenURL(url); err != nil {
				klog.Errorf("open browser: %v", err)
			}
		}()
	}

	if err := web.Serve(*httpEndpoint, web.Handler(smp, p)); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
