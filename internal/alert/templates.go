package alert

import (
	"bytes"
	"html/template"
	"time"

	"token-warden/internal/notify"
	"token-warden/internal/store"
)

// Urgent alerts render red, routine ones green. Both carry the
// authorization link so the operator can act from the email itself.
var alertTemplate = template.Must(template.New("alert").Parse(`<!DOCTYPE html>
<html>
<head>
    <style>
        body { font-family: Arial, sans-serif; background-color: #f4f4f4; padding: 20px; }
        .container { max-width: 600px; margin: 0 auto; background-color: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 5px rgba(0,0,0,0.1); }
        .header { color: {{if .Urgent}}#b91c1c{{else}}#15803d{{end}}; margin-bottom: 20px; }
        .banner { padding: 12px; border-radius: 5px; background-color: {{if .Urgent}}#fee2e2{{else}}#dcfce7{{end}}; color: {{if .Urgent}}#b91c1c{{else}}#15803d{{end}}; font-weight: bold; }
        .button { display: inline-block; padding: 12px 24px; background-color: {{if .Urgent}}#b91c1c{{else}}#15803d{{end}}; color: white; text-decoration: none; border-radius: 5px; margin: 20px 0; }
        .footer { color: #666; font-size: 14px; margin-top: 30px; }
    </style>
</head>
<body>
    <div class="container">
        <h2 class="header">{{.Title}}</h2>
        <p class="banner">{{.Banner}}</p>
        {{if .TokenMissing}}
        <p>The service has no valid API credential and cannot reach the provider. All integration traffic is failing until a new authorization is completed.</p>
        {{else}}
        <p>The stored API credential expires in <strong>{{.DaysRemaining}} day(s)</strong>{{if .ExpiresAt}}, on {{.ExpiresAt}}{{end}}.</p>
        {{end}}
        <p>Renew it now:</p>
        <a href="{{.AuthorizeURL}}" class="button">Authorize</a>
        <p>Or copy and paste this link into your browser:</p>
        <p><code>{{.AuthorizeURL}}</code></p>
        <p class="footer">This message was sent automatically by the token warden.</p>
    </div>
</body>
</html>
`))

type templateData struct {
	Urgent        bool
	TokenMissing  bool
	Title         string
	Banner        string
	DaysRemaining int
	ExpiresAt     string
	AuthorizeURL  string
}

func renderHTML(a notify.Alert, authorizeURL string) (string, error) {
	data := templateData{
		Urgent:        a.Type == store.NotificationEmergency,
		TokenMissing:  a.TokenMissing,
		DaysRemaining: a.DaysRemaining,
		AuthorizeURL:  authorizeURL,
	}
	if !a.ExpiresAt.IsZero() {
		data.ExpiresAt = a.ExpiresAt.Format(time.RFC1123)
	}

	switch {
	case a.TokenMissing:
		data.Title = "Authorization required"
		data.Banner = "URGENT: no valid credential"
	case data.Urgent:
		data.Title = "Credential about to expire"
		data.Banner = "URGENT: action required today"
	default:
		data.Title = "Credential expiring soon"
		data.Banner = "Routine reminder"
	}

	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
