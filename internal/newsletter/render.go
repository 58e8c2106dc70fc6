package newsletter

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"eventletter/internal/email"
	"eventletter/internal/models"
)

const subject = "Upcoming events for you"

var bodyTmpl = template.Must(template.New("newsletter").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`<h1>Hello!</h1>
<p>We found {{len .Events}} events matching your interests.</p>
<ul>
{{- range .Events}}
<li><a href="{{.URL}}">{{.Title}}</a>{{if .Dates}} ({{join .Dates ", "}}){{end}}</li>
{{- end}}
</ul>
`))

// Render produces the newsletter message for one subscriber.
func Render(sub models.Subscriber, events []models.Event) (email.Message, error) {
	var body bytes.Buffer

	data := struct {
		Subscriber models.Subscriber
		Events     []models.Event
	}{sub, events}

	if err := bodyTmpl.Execute(&body, data); err != nil {
		return email.Message{}, fmt.Errorf("template execution error: %w", err)
	}

	return email.Message{
		To:      sub.Email,
		Subject: subject,
		HTML:    body.String(),
	}, nil
}
