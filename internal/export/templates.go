package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"join":  strings.Join,
		"formatDate": func(t time.Time, layout string) string {
			if t.IsZero() {
				return ""
			}
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to built-in template if file not found
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// renderReportHTML renders the report template. All snapshot text is
// escaped.
func renderReportHTML(v view) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body>
  <h1>{{.Title}}</h1>
  <p>{{.DrugName}} | {{.ReportType}}</p>
  {{if .ShowHighlights}}{{range .Citations}}<blockquote class="highlight-{{.Color}}">{{.Text}}</blockquote>{{range .Annotations}}<p>{{.}}</p>{{end}}{{end}}{{end}}
  {{if .ShowNotes}}{{range .Notes}}<p>{{.Content}}</p>{{end}}{{end}}
  <p>Total Highlights: {{.Summary.TotalHighlights}}</p>
</body>
</html>`
