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

// Package stacklog periodically records every goroutine stack of the
// current process to a file that stackparse can read back.
package stacklog

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/sink"
)

// Config defines how to configure a stack logger
type Config struct {
	// Path is the output file. A ".lz4" or ".gz" suffix compresses it.
	Path string
	Poll time.Duration
}

// Start begins logging stacks to an output file
func Start(c Config) (*StackLog, error) {
	if c.Poll == 0 {
		c.Poll = 125 * time.Millisecond
	}
	if c.Path == "" {
		c.Path = "stack.log"
	}

	w, err := sink.Create(c.Path)
	if err != nil {
		return nil, fmt.Errorf("stacklog: %w", err)
	}

	klog.Infof("Logging stacks to %s, sampling every %s", c.Path, c.Poll)

	s := newStackLog(w, c.Poll)
	s.path = c.Path
	return s, nil
}

// MustStartFromEnv starts a logger writing to the path named by the env
// variable. When the variable is unset the returned logger does nothing.
func MustStartFromEnv(env string) *StackLog {
	path := os.Getenv(env)
	if path == "" {
		return &StackLog{}
	}

	s, err := Start(Config{Path: path})
	if err != nil {
		klog.Fatalf("stacklog from $%s: %v", env, err)
	}
	return s
}

// StackLog controls the stack logger
type StackLog struct {
	ticker *time.Ticker
	w      io.WriteCloser
	path   string
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu      sync.Mutex
	samples int
	err     error
}

func newStackLog(w io.WriteCloser, poll time.Duration) *StackLog {
	s := &StackLog{
		ticker: time.NewTicker(poll),
		w:      w,
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

// loop writes one sample per tick until Stop is called
func (s *StackLog) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case t := <-s.ticker.C:
			if err := WriteSample(s.w, t, DumpStacks()); err != nil {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				klog.Errorf("stacklog: %v", err)
				return
			}
			s.mu.Lock()
			s.samples++
			s.mu.Unlock()
		}
	}
}

// WriteSample writes one stack log record.
func WriteSample(w io.Writer, t time.Time, dump []byte) error {
	if _, err := fmt.Fprintf(w, "%d\n", t.UnixNano()); err != nil {
		return err
	}
	if _, err := w.Write(dump); err != nil {
		return err
	}
	if len(dump) > 0 && dump[len(dump)-1] != '\n' {
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte("-\n"))
	return err
}

// DumpStacks returns a formatted stack trace of goroutines, using a large enough buffer to capture the entire trace
func DumpStacks() []byte {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

// Samples returns how many samples have been written.
func (s *StackLog) Samples() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// Stop stops logging stacks and closes the output.
func (s *StackLog) Stop() error {
	if s.ticker == nil {
		return nil
	}

	var err error
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
		s.wg.Wait()
		err = s.w.Close()
		s.mu.Lock()
		if s.err != nil {
			err = s.err
		}
		s.mu.Unlock()
		klog.Infof("stacklog: disabled. stored %d samples to %s", s.Samples(), s.path)
	})
	return err
}
