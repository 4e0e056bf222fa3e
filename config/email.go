package config

import (
	"bytes"
	"fmt"
	"html/template"
)

// EmailStrings are the rendered bodies of a sign-in email.
type EmailStrings struct {
	Text string
	HTML string
}

// EmailStringsFunc renders a sign-in email for the link url.
// serviceName may be empty.
type EmailStringsFunc func(url, serviceName string) EmailStrings

var signInHTML = template.Must(template.New("signin").Parse(`<p>{{if .ServiceName}}Sign in to {{.ServiceName}}{{else}}Sign in{{end}}</p>
<p><a href="{{.URL}}">Click here to sign in</a></p>
<p>If you did not request this email, you can ignore it.</p>
`))

// DefaultEmailStrings is the default for Options.CreateSignInEmailStrings.
func DefaultEmailStrings(url, serviceName string) EmailStrings {
	text := fmt.Sprintf("Sign in at %s", url)
	if serviceName != "" {
		text = fmt.Sprintf("Sign in to %s at %s", serviceName, url)
	}

	var html bytes.Buffer
	if err := signInHTML.Execute(&html, struct{ URL, ServiceName string }{url, serviceName}); err != nil {
		return EmailStrings{Text: text}
	}
	return EmailStrings{Text: text, HTML: html.String()}
}
