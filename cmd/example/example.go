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

// example profiles its own goroutines while doing a mix of busy and idle work.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"runtime/trace"
	"time"

	"github.com/pkg/profile"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/render"
	"github.com/google/stackjam/pkg/sampler"
	"github.com/google/stackjam/pkg/source"
	"github.com/google/stackjam/pkg/stacklog"
	"github.com/google/stackjam/pkg/stackparse"
	"github.com/google/stackjam/pkg/text"
)

var (
	interval  = pflag.Duration("interval", 10*time.Millisecond, "Sampling interval")
	traceDir  = pflag.String("trace", "", "Directory to write a runtime trace to")
	stackPath = pflag.String("stacklog", "", "Also record a stack log to this path")
	kind      = pflag.String("format", "tree", "Output format: tree, json, flame or callgrind")
)

func main() {
	klog.InitFlags(nil)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	if *traceDir != "" {
		p := profile.Start(profile.TraceProfile, profile.ProfilePath(*traceDir), profile.NoShutdownHook)
		defer p.Stop()
	}

	if *stackPath != "" {
		s, err := stacklog.Start(stacklog.Config{Path: *stackPath, Poll: *interval})
		if err != nil {
			klog.Exitf("unable to log stacks: %v", err)
		}
		defer func() {
			if err := s.Stop(); err != nil {
				klog.Errorf("stacklog: %v", err)
			}
		}()
	}

	k, err := render.ParseKind(*kind)
	if err != nil {
		klog.Exit(err)
	}

	pol := config.Defaults()
	pol.Interval = *interval
	smp, err := sampler.New(source.NewGoroutines(stackparse.SuggestedIgnore), pol)
	if err != nil {
		klog.Exit(err)
	}
	loop := smp.Start(pol.Interval)

	ctx := context.Background()
	fmt.Fprintln(os.Stderr, "start")
	goToSleep(ctx)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(time.Second)
		fmt.Fprintln(os.Stderr, "errgroup end")
		return nil
	})
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			calcPI()
			return nil
		})
	}
	fmt.Fprintln(os.Stderr, "wait")
	waitPlease(&g)
	fmt.Fprintln(os.Stderr, "end")

	loop.Stop()
	if err := render.Render(os.Stdout, k, smp.TopRoots(pol.MinTotalPct, pol.ThreadsLimit), pol, smp.TotalAttributedTime()); err != nil {
		klog.Errorf("render: %v (%s)", err, smp)
	}
	fmt.Fprint(os.Stderr, text.Summary(smp, pol.Interval, 10))
}

func calcPI() {
	for i := 0; i < 20; i++ {
		cosVal := float64(-1)
		for n := 4; n < 50000000; n *= 2 {
			cosVal = math.Sqrt(0.5 * (cosVal + 1.0))
			math.Pow(0.5-0.5*cosVal, 0.5)
		}
	}
}

func goToSleep(ctx context.Context) {
	_, task := trace.NewTask(ctx, "Sleep task")
	time.Sleep(500 * time.Millisecond)
	task.End()
}

func waitPlease(eg *errgroup.Group) {
	if err := eg.Wait(); err != nil {
		klog.Errorf("wait: %v", err)
	}
}
