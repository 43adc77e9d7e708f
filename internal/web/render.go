// Package web renders the HTML views from embedded templates.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

// Page is the envelope every view receives: chrome fields plus the
// view-specific payload under Data.
type Page struct {
	Title     string
	ActiveTab string
	Username  string
	Error     string
	Data      any
}

type Renderer struct {
	templates map[string]*template.Template
}

var pageNames = []string{
	"login", "register", "dashboard", "prospects", "prospect_detail",
	"planning", "calendar", "profile", "error",
}

func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"formatDate": func(v any) string {
			switch t := v.(type) {
			case time.Time:
				return t.Format("2006-01-02")
			case *time.Time:
				if t != nil {
					return t.Format("2006-01-02")
				}
			}
			return ""
		},
	}

	templates := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		tmpl, err := template.New("layout.html").Funcs(funcMap).ParseFS(
			templateFS, "templates/layout.html", "templates/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		templates[name] = tmpl
	}
	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(w io.Writer, name string, page Page) error {
	tmpl, ok := r.templates[name]
	if !ok {
		return fmt.Errorf("unknown template %q", name)
	}
	if err := tmpl.ExecuteTemplate(w, "layout.html", page); err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}
	return nil
}
