package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

var layout = template.Must(template.New("layout").Parse(`<!doctype html>
<html>
<body style="font-family:Helvetica,Arial,sans-serif;color:#1f2937;max-width:560px;margin:0 auto;padding:24px">
{{template "body" .}}
<p style="color:#6b7280;font-size:12px;margin-top:32px">{{.Product}}</p>
</body>
</html>`))

var bodies = map[string]string{
	"welcome": `{{define "body"}}
<h1 style="font-size:20px">Welcome{{if .Name}}, {{.Name}}{{end}}!</h1>
<p>Your account is ready and we added <strong>{{.Credits}}</strong> free credits so you can try your first extractions.</p>
<p>Each uploaded PDF uses one credit. <a href="{{.AppURL}}">Upload your first document</a>.</p>
{{end}}`,
	"low_credits": `{{define "body"}}
<h1 style="font-size:20px">You're running low on credits</h1>
<p>You have <strong>{{.Credits}}</strong> credit{{if ne .Credits 1}}s{{end}} left.</p>
<p><a href="{{.AppURL}}">Buy more credits or upgrade your plan</a> to keep extracting documents.</p>
{{end}}`,
	"purchase": `{{define "body"}}
<h1 style="font-size:20px">Thanks for your purchase</h1>
<p>We added <strong>{{.Added}}</strong> credits to your account. Your balance is now <strong>{{.Credits}}</strong>.</p>
<p><a href="{{.AppURL}}">Back to your documents</a></p>
{{end}}`,
}

var subjects = map[string]string{
	"welcome":     "Welcome to %s",
	"low_credits": "Your %s credits are running low",
	"purchase":    "Your %s credit purchase",
}

// TemplateData is the shared view model for every message.
type TemplateData struct {
	Product string
	AppURL  string
	Name    string
	Credits int
	Added   int
}

var templates = parseTemplates()

func parseTemplates() map[string]*template.Template {
	out := make(map[string]*template.Template, len(bodies))
	for name, body := range bodies {
		t := template.Must(layout.Clone())
		out[name] = template.Must(t.Parse(body))
	}
	return out
}

// Render builds the named message for the recipient.
func Render(name, to string, data TemplateData) (Message, error) {
	t, ok := templates[name]
	if !ok {
		return Message{}, fmt.Errorf("unknown email template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", name, err)
	}
	return Message{
		To:      to,
		ToName:  data.Name,
		Subject: fmt.Sprintf(subjects[name], data.Product),
		HTML:    buf.String(),
		Text:    plainText(name, data),
	}, nil
}

func plainText(name string, d TemplateData) string {
	var b strings.Builder
	switch name {
	case "welcome":
		fmt.Fprintf(&b, "Welcome to %s! We added %d free credits to your account.\n", d.Product, d.Credits)
	case "low_credits":
		fmt.Fprintf(&b, "You have %d credits left. Top up to keep extracting documents.\n", d.Credits)
	case "purchase":
		fmt.Fprintf(&b, "We added %d credits. Your balance is now %d.\n", d.Added, d.Credits)
	}
	if d.AppURL != "" {
		b.WriteString(d.AppURL + "\n")
	}
	return b.String()
}
