package session

import (
	"bytes"
	"html/template"
)

var diagnosticTmpl = template.Must(template.New("diagnostic").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
<p>{{.Hint}}</p>
<pre>{{.Error}}</pre>
</body>
</html>
`))

// DiagnosticPage renders the fallback document shown instead of the normal
// UI when readiness fails. The error text is HTML-escaped.
func DiagnosticPage(err error) string {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	var buf bytes.Buffer
	_ = diagnosticTmpl.Execute(&buf, struct{ Title, Hint, Error string }{
		Title: "Local services did not start",
		Hint:  "The application backend did not become ready. Check the service logs, then restart the app.",
		Error: msg,
	})
	return buf.String()
}
