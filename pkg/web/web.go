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

// Package web serves call trees over HTTP.
package web

import (
	"fmt"
	"html/template"
	"image/color"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/colornames"

	"github.com/google/stackjam/pkg/calltree"
	"github.com/google/stackjam/pkg/config"
	"github.com/google/stackjam/pkg/sampler"
)

const pageTemplate = `<html>
  <head>
    <title>stackjam</title>
    <link rel="stylesheet" href="https://cdnjs.cloudflare.com/ajax/libs/jstree/3.3.16/themes/default/style.min.css" />
    <script src="https://cdnjs.cloudflare.com/ajax/libs/jquery/3.7.1/jquery.min.js"></script>
    <script src="https://cdnjs.cloudflare.com/ajax/libs/jstree/3.3.16/jstree.min.js"></script>
    <script type="text/javascript">
      $(function () {
        $('#tree').jstree({ 'core': { 'data': { 'url': 'json', 'dataType': 'json' } } });
      });
    </script>
    <style>
      td.swatch { width: 1em; }
    </style>
  </head>
  <body>
    <h1>stackjam: {{ len .Threads }} threads, {{ .Updates }} updates{{ if .Detached }} (detached){{ end }}</h1>
    <p>
      <a href="tree">tree</a> |
      <a href="json">json</a> |
      <a href="flame">flame</a> |
      <a href="callgrind">callgrind</a> |
      <a href="pprof">pprof</a> |
      <a href="top">top</a>
    </p>
    <table>
      {{ range .Threads }}
      <tr>
        <td class="swatch" style="background-color: {{ Color .Name }}"></td>
        <td>{{ .Name }}</td>
        <td>{{ Percent .Total $.Total }}</td>
      </tr>
      {{ end }}
    </table>
    <div id="tree"></div>
  </body>
</html>
`

// palette assigns a stable color to every thread name.
type palette struct {
	mu     sync.Mutex
	colors map[string]color.RGBA
	chosen map[string]bool
}

func newPalette() *palette {
	return &palette{colors: map[string]color.RGBA{}, chosen: map[string]bool{}}
}

func (p *palette) color(thread string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.colors[thread]
	if !ok {
		c = p.pick(thread)
		p.colors[thread] = c
	}

	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

func (p *palette) pick(thread string) color.RGBA {
	// gimmick: prefer a color named with the thread's first letter
	first := strings.ToLower(thread + " ")[0]
	for _, name := range colornames.Names {
		if strings.Contains(name, "white") || p.chosen[name] || name[0] != first {
			continue
		}
		p.chosen[name] = true
		return colornames.Map[name]
	}

	// Giveup
	for _, name := range colornames.Names {
		if strings.Contains(name, "white") || p.chosen[name] {
			continue
		}
		p.chosen[name] = true
		return colornames.Map[name]
	}

	return colornames.Gray
}

type page struct {
	Threads  []*calltree.Node
	Total    uint64
	Updates  uint64
	Detached bool
}

func percent(v, total uint64) string {
	if total == 0 {
		return "0.0%"
	}
	return fmt.Sprintf("%.1f%%", float64(v)*100/float64(total))
}

func newPageTemplate(pal *palette) *template.Template {
	fmap := template.FuncMap{
		"Color":   func(thread string) template.CSS { return template.CSS(pal.color(thread)) },
		"Percent": percent,
	}
	return template.Must(template.New("page").Funcs(fmap).Parse(pageTemplate))
}

// Render renders the HTML page for a sampler.
func Render(w io.Writer, s *sampler.Sampler, p config.Policy) error {
	return renderPage(w, newPageTemplate(newPalette()), s, p)
}

func renderPage(w io.Writer, t *template.Template, s *sampler.Sampler, p config.Policy) error {
	pg := page{
		Threads:  s.TopRoots(p.MinTotalPct, p.ThreadsLimit),
		Total:    s.TotalAttributedTime(),
		Updates:  s.UpdateCount(),
		Detached: s.Detached(),
	}

	if err := t.Execute(w, pg); err != nil {
		return fmt.Errorf("execute template: %w", err)
	}

	return nil
}
