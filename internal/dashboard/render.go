package dashboard

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/shiran1989/magshimim-cyber-homework/pkg/client"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/theme"
)

//go:embed templates/*.html
var templateFS embed.FS

// pages are rendered as layout.html wrapping the page's "content" block.
var pages = []string{"index.html", "pattern.html", "graph.html"}

type renderer struct {
	templates map[string]*template.Template
}

func newRenderer(p *theme.Palette) *renderer {
	funcs := template.FuncMap{
		"phaseColor":    p.PhaseColor,
		"platformColor": p.PlatformColor,
		"relColor":      p.RelationshipColor,
		"riskColor":     p.RiskColor,
		"contrast":      theme.ContrastText,
		"join":          strings.Join,
		"inc":           func(i int) int { return i + 1 },
		"strokeWidth":   func(strength float64) string { return fmt.Sprintf("%.2f", strength*3) },
	}

	r := &renderer{templates: make(map[string]*template.Template, len(pages))}
	for _, page := range pages {
		r.templates[page] = template.Must(
			template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+page),
		)
	}
	return r
}

func (r *renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("unknown template %s", name)
	}
	return tmpl.ExecuteTemplate(w, "layout.html", data)
}

// panel is one independently loaded part of a page. Err is shown as an
// inline banner in place of the panel.
type panel[T any] struct {
	Data T
	Err  string
}

func loaded[T any](data T, err error) panel[T] {
	if err != nil {
		return panel[T]{Data: data, Err: err.Error()}
	}
	return panel[T]{Data: data}
}

type pageLink struct {
	Label   string
	URL     string
	Current bool
}

// pageLinks returns links around the current zero-based page, at most two on
// each side, plus first and last.
func pageLinks(base url.Values, page, totalPages int) []pageLink {
	if totalPages <= 1 {
		return nil
	}
	var links []pageLink
	add := func(p int) {
		q := url.Values{}
		for k, v := range base {
			q[k] = v
		}
		q.Set("page", fmt.Sprint(p))
		links = append(links, pageLink{Label: fmt.Sprint(p + 1), URL: "/?" + q.Encode(), Current: p == page})
	}

	add(0)
	lo, hi := max(page-2, 1), min(page+2, totalPages-2)
	if lo > 1 {
		links = append(links, pageLink{Label: "…"})
	}
	for p := lo; p <= hi; p++ {
		add(p)
	}
	if hi < totalPages-2 {
		links = append(links, pageLink{Label: "…"})
	}
	add(totalPages - 1)
	return links
}

func isNotFound(err error) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
