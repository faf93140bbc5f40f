// Package render turns a panel view model into HTML.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"

	"movierecommender/panel/internal/panel"
)

//go:embed templates/*.html
var templateFS embed.FS

type Renderer struct {
	tmpl *template.Template
}

func New() (*Renderer, error) {
	tmpl, err := template.New("panel").Funcs(template.FuncMap{
		"selectedHeading":   func() string { return panel.SelectedHeading },
		"resultsHeading":    func() string { return panel.ResultsHeading },
		"similarityCaption": func() string { return panel.SimilarityCaption },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// MustNew is New for package-level initialisation; the templates are embedded
// so a parse failure is a programming error.
func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Page writes the full document including the live fragment.
func (r *Renderer) Page(w io.Writer, view panel.View) error {
	if err := r.tmpl.ExecuteTemplate(w, "page", view); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

// Fragment renders only the part of the page that changes with state.
func (r *Renderer) Fragment(view panel.View) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "live", view); err != nil {
		return "", fmt.Errorf("render fragment: %w", err)
	}
	return buf.String(), nil
}
