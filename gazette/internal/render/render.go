// Package render turns matched documents into notification bodies: sanitized
// HTML for the backend, Markdown for text channels, and a terminal table.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/kozlony/gazette/internal/matcher"
	"github.com/hazyhaar/kozlony/gazette/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

// DocumentView is one document in a notification. Windows is the sample
// shown, Total the number of matches before the sample was cut.
type DocumentView struct {
	Doc     *store.Document
	Windows []matcher.Window
	Total   int
}

// Renderer renders notification content. Safe for concurrent use.
type Renderer struct {
	tmpl   *template.Template
	policy *bluemonday.Policy
	md     *htmltomarkdown.Converter
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.New("kozlony").Funcs(template.FuncMap{
		"date": func(t time.Time) string { return t.Format("2006. 01. 02.") },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("render: parse templates: %w", err)
	}

	policy := bluemonday.UGCPolicy()
	policy.AllowElements("mark")
	policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("div")

	return &Renderer{
		tmpl:   tmpl,
		policy: policy,
		md: htmltomarkdown.NewConverter(
			htmltomarkdown.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}, nil
}

// HTML renders views and sanitizes the result. No views render to "".
func (r *Renderer) HTML(views []DocumentView) (string, error) {
	if len(views) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, "content", views); err != nil {
		return "", fmt.Errorf("render: execute: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}

// Markdown converts rendered HTML to Markdown.
func (r *Renderer) Markdown(html string) (string, error) {
	if html == "" {
		return "", nil
	}
	md, err := r.md.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("render: markdown: %w", err)
	}
	return md, nil
}
