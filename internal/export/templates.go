package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(reportTemplateHTML))

// TemplateData holds everything the report template renders.
type TemplateData struct {
	Title       string
	FileName    string
	Status      string
	Owner       string
	UpdatedAt   time.Time
	Annotations []AnnotationInfo
	Comments    []CommentInfo
	Versions    []VersionInfo
	Workflows   []WorkflowInfo
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const reportTemplateHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    h2 { margin-top: 2rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    table { width: 100%; border-collapse: collapse; margin: 1rem 0; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #ddd; }
    th { background: #f5f5f5; }
    .thread { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .reply { margin: 0.5rem 0 0 1.5rem; padding-left: 0.75rem; border-left: 2px solid #bbb; }
    .status { text-transform: uppercase; font-size: 0.8em; color: #666; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">
    {{if .FileName}}{{.FileName}} | {{end}}{{.Owner}} | {{.Status}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}
  </div>

  {{if .Annotations}}
  <h2>Annotations</h2>
  <table>
    <tr><th>Page</th><th>Type</th><th>Content</th><th>Status</th><th>Author</th></tr>
    {{range .Annotations}}
    <tr>
      <td>{{.PageNumber}}</td>
      <td>{{lower .Type}}</td>
      <td>{{.Content}}</td>
      <td class="status">{{.Status}}</td>
      <td>{{.Author}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}
  <div class="thread">
    <div><strong>{{.Author}}</strong> <span class="status">{{.Status}}</span> {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
    <div>{{.Content}}</div>
    {{range .Replies}}
    <div class="reply"><strong>{{.Author}}</strong>: {{.Body}}</div>
    {{end}}
  </div>
  {{end}}
  {{end}}

  {{if .Versions}}
  <h2>Version History</h2>
  <table>
    <tr><th>Version</th><th>Comment</th><th>Author</th><th>Created</th></tr>
    {{range .Versions}}
    <tr>
      <td>v{{.Version}}{{if .IsLatest}} (latest){{end}}</td>
      <td>{{.Comment}}</td>
      <td>{{.Author}}</td>
      <td>{{formatDate .CreatedAt "Jan 2, 2006"}}</td>
    </tr>
    {{end}}
  </table>
  {{end}}

  {{if .Workflows}}
  <h2>Approvals</h2>
  {{range .Workflows}}
  <div class="thread">
    <div><strong>{{lower .Type}}</strong> <span class="status">{{.Status}}</span> {{formatDate .CreatedAt "Jan 2, 2006"}}</div>
    <table>
      <tr><th>Step</th><th>Status</th><th>Approvals</th></tr>
      {{range .Steps}}
      <tr>
        <td>{{.Name}}</td>
        <td class="status">{{.Status}}</td>
        <td>{{.CurrentApprovals}}/{{.RequiredApprovals}}</td>
      </tr>
      {{end}}
    </table>
  </div>
  {{end}}
  {{end}}
</body>
</html>`
