package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("draft").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(draftTemplate))

// TemplateData holds data for draft template rendering
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Author      string
	UpdatedAt   time.Time
	Mode        string
	Version     string
	Sources     []TemplateSource
}

// TemplateSource is one memo the draft was derived from.
type TemplateSource struct {
	ID      string
	Content string
	Context string
}

// RenderDocumentHTML renders the draft template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const draftTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: "Noto Sans", "Apple SD Gothic Neo", Arial, sans-serif; line-height: 1.7; max-width: 760px; margin: 2rem auto; color: #222; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    hr { border: 0; border-top: 1px solid #ccc; margin: 2rem 0; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .source { background: #f6f6f4; padding: 0.75rem 1rem; margin: 1rem 0; border-left: 3px solid #999; white-space: pre-wrap; }
    .source .context { color: #666; font-size: 0.85em; margin-top: 0.5rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}}{{if not .UpdatedAt.IsZero}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}{{end}}{{if .Mode}} | {{.Mode | lower}}{{end}}{{if .Version}} | {{.Version}}{{end}}</div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Sources}}
  <h2>Source memos</h2>
  {{range .Sources}}<div class="source">{{.Content}}{{if .Context}}<div class="context">{{.Context}}</div>{{end}}</div>
  {{end}}
  {{end}}
</body>
</html>`
