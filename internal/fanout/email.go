package fanout

import (
	"bytes"
	"fmt"
	"html/template"
)

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #222;">
  <h2>{{.Title}}</h2>
  <p>{{.Body}}</p>
  {{- if .State}}
  <p style="color: #666;">Status: <strong>{{.State}}</strong></p>
  {{- end}}
</body>
</html>
`))

// renderEmail builds the HTML body for an email-eligible event. Event text is
// escaped by html/template.
func renderEmail(ev StateChangeEvent) (string, error) {
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, struct {
		Title, Body, State string
	}{ev.Title, ev.Body, ev.NewState})
	if err != nil {
		return "", fmt.Errorf("render email: %w", err)
	}
	return buf.String(), nil
}
