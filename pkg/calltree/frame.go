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

// Package calltree accumulates sampled stacks into weighted call trees.
package calltree

// Frame is a single stack frame as reported by a data source.
type Frame struct {
	// Class is the declaring type: a Java class or a Go import path.
	Class  string
	Method string
	// File and Line are optional.
	File string
	Line int
}

// Key identifies a frame within a tree. Frames with the same key are merged.
type Key struct {
	Class  string
	Method string
}

// Key returns the merge identity of f.
func (f Frame) Key() Key {
	return Key{Class: f.Class, Method: f.Method}
}

// Name returns the human readable symbol, e.g. "net/http.(*Server).Serve".
func (f Frame) Name() string {
	if f.Class == "" {
		return f.Method
	}
	return f.Class + "." + f.Method
}
