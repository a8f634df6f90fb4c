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

package web

import (
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"

	"k8s.io/klog/v2"

	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/pprof"
	"github.com/google/stackjam/pkg/render"
	"github.com/google/stackjam/pkg/sampler"
	"github.com/google/stackjam/pkg/text"
)

type server struct {
	s    *sampler.Sampler
	p    config.Policy
	page *template.Template
}

// Handler serves the HTML page at "/" and every output format of the
// sampler's trees: /tree, /json, /flame, /callgrind and /pprof, plus
// the hottest methods at /top (?n= sets how many). The
// query parameters min_cost, min_total, max_depth, collapse and totals
// override the policy for one request.
func Handler(s *sampler.Sampler, p config.Policy) http.Handler {
	srv := &server{s: s, p: p, page: newPageTemplate(newPalette())}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.index)
	mux.HandleFunc("/tree", srv.format(render.Tree, "text/plain; charset=utf-8"))
	mux.HandleFunc("/json", srv.format(render.JSON, "application/json"))
	mux.HandleFunc("/flame", srv.format(render.Flame, "text/plain; charset=utf-8"))
	mux.HandleFunc("/callgrind", srv.format(render.Callgrind, "text/plain; charset=utf-8"))
	mux.HandleFunc("/pprof", srv.pprof)
	mux.HandleFunc("/top", srv.top)
	return mux
}

// Serve starts up an HTTP server at a given endpoint.
func Serve(endpoint string, h http.Handler) error {
	klog.Infof("Listening at %s ...", endpoint)
	return http.ListenAndServe(endpoint, h)
}

func (srv *server) index(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	p, err := policy(srv.p, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderPage(w, srv.page, srv.s, p); err != nil {
		klog.Errorf("render page: %v", err)
		http.Error(w, fmt.Sprintf("render failed: %v", err), http.StatusInternalServerError)
	}
}

func (srv *server) format(k render.Kind, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := policy(srv.p, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		bs, err := render.Bytes(k, srv.s.TopRoots(p.MinTotalPct, p.ThreadsLimit), p, srv.s.TotalAttributedTime())
		srv.reply(w, contentType, bs, err)
	}
}

func (srv *server) pprof(w http.ResponseWriter, r *http.Request) {
	p, err := policy(srv.p, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	bs, err := pprof.Render(srv.s.TopRoots(p.MinTotalPct, p.ThreadsLimit), p)
	if err == nil {
		w.Header().Set("Content-Disposition", `attachment; filename="stackjam.pb"`)
	}
	srv.reply(w, "application/octet-stream", bs, err)
}

func (srv *server) top(w http.ResponseWriter, r *http.Request) {
	n := 20
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		if n, err = strconv.Atoi(v); err != nil {
			http.Error(w, fmt.Sprintf("n: %v", err), http.StatusBadRequest)
			return
		}
	}

	var err error
	if srv.s.TotalAttributedTime() == 0 {
		err = render.ErrEmpty
	}
	srv.reply(w, "text/plain; charset=utf-8", []byte(text.Summary(srv.s, srv.p.Interval, n)), err)
}

func (srv *server) reply(w http.ResponseWriter, contentType string, bs []byte, err error) {
	switch {
	case errors.Is(err, render.ErrEmpty):
		w.WriteHeader(http.StatusNoContent)
	case err != nil:
		klog.Errorf("render: %v", err)
		http.Error(w, fmt.Sprintf("render failed: %v", err), http.StatusInternalServerError)
	default:
		w.Header().Set("Content-Type", contentType)
		if _, err := w.Write(bs); err != nil {
			klog.V(1).Infof("write response: %v", err)
		}
	}
}

// policy applies the request's overrides to a copy of p.
func policy(p config.Policy, r *http.Request) (config.Policy, error) {
	q := r.URL.Query()

	floats := map[string]*float64{"min_cost": &p.MinCostPct, "min_total": &p.MinTotalPct}
	for k, dst := range floats {
		if v := q.Get(k); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return p, fmt.Errorf("%s: %w", k, err)
			}
			*dst = f
		}
	}

	if v := q.Get("max_depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("max_depth: %w", err)
		}
		p.MaxDepth = d
	}

	bools := map[string]*bool{"collapse": &p.CollapseSingleChild, "totals": &p.ShowTotals}
	for k, dst := range bools {
		if v := q.Get(k); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return p, fmt.Errorf("%s: %w", k, err)
			}
			*dst = b
		}
	}

	return p, p.Validate()
}
