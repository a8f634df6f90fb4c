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

// Package sink opens output and input streams for profiles and stack logs.
// Paths ending in ".lz4" or ".gz" are compressed transparently.
package sink

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// Stdout is the path that selects standard output or input.
const Stdout = "-"

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// stacked closes the compressor before the file underneath it.
type stacked struct {
	io.Writer
	closers []io.Closer
}

func (s *stacked) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Create opens path for writing. "" and "-" write to stdout.
func Create(path string) (io.WriteCloser, error) {
	if path == "" || path == Stdout {
		return nopCloser{os.Stdout}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}

	return Wrap(path, f)
}

// Wrap adds the compression implied by path's suffix on top of w.
// Closing the result closes w.
func Wrap(path string, w io.WriteCloser) (io.WriteCloser, error) {
	switch {
	case strings.HasSuffix(path, ".lz4"):
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			w.Close()
			return nil, fmt.Errorf("sink: lz4: %w", err)
		}
		return &stacked{Writer: zw, closers: []io.Closer{zw, w}}, nil
	case strings.HasSuffix(path, ".gz"):
		zw := gzip.NewWriter(w)
		return &stacked{Writer: zw, closers: []io.Closer{zw, w}}, nil
	default:
		return w, nil
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// Open opens path for reading, decompressing by suffix. "-" reads stdin.
func Open(path string) (io.ReadCloser, error) {
	if path == Stdout {
		return io.NopCloser(os.Stdin), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sink: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".lz4"):
		return readCloser{Reader: lz4.NewReader(f), Closer: f}, nil
	case strings.HasSuffix(path, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("sink: gzip: %w", err)
		}
		return readCloser{Reader: zr, Closer: f}, nil
	default:
		return f, nil
	}
}

// ReadAll reads the whole of path.
func ReadAll(path string) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	bs, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sink: read %s: %w", path, err)
	}
	return bs, nil
}
