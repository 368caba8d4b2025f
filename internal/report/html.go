package report

import (
	"html/template"
	"io"

	"github.com/pavelanni/essayexam/internal/model"
)

var documentTmpl = template.Must(template.New("document").Funcs(template.FuncMap{
	"inc":       func(i int) int { return i + 1 },
	"score":     formatScore,
	"timestamp": model.FormatTimestamp,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Labels.Title}}</title>
<style>
body { font-family: Arial, sans-serif; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; }
th { background: #eee; }
</style>
</head>
<body>
<h1>{{.Labels.Title}}{{with .Export.Subject}} - {{.}}{{end}}</h1>
<p>{{.Labels.GeneratedAt}}: {{timestamp .Export.GeneratedAt}}</p>
<table>
<thead>
<tr><th>{{.Labels.No}}</th><th>{{.Labels.Name}}</th><th>{{.Labels.NISN}}</th><th>{{.Labels.Subject}}</th><th>{{.Labels.Score}}</th><th>{{.Labels.Submitted}}</th></tr>
</thead>
<tbody>
{{- range $i, $r := .Export.Results}}
<tr><td>{{inc $i}}</td><td>{{$r.StudentName}}</td><td>{{$r.StudentNISN}}</td><td>{{$r.Subject}}</td><td>{{score $r.Score}}</td><td>{{$r.SubmissionTime}}</td></tr>
{{- end}}
</tbody>
</table>
{{- if .Export.Results}}
<p><strong>{{.Labels.Average}}: {{score .Export.Average}}</strong></p>
{{- end}}
</body>
</html>
`))

// WriteHTML writes the results as a standalone HTML document.
func WriteHTML(w io.Writer, exp model.ExamExport, labels Labels) error {
	return documentTmpl.Execute(w, struct {
		Export model.ExamExport
		Labels Labels
	}{exp, labels})
}
