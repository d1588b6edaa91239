package alert

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"token-warden/internal/common/logging"
	"token-warden/internal/config"
	"token-warden/internal/notify"
	"token-warden/internal/store"
)

// EmailChannel sends expiry alerts over SMTP as multipart plain+HTML
// messages. STARTTLS is the default; implicit SSL is supported for
// providers that require it.
type EmailChannel struct {
	config *config.Config
	logger logging.Logger
}

func NewEmailChannel(cfg *config.Config, logger logging.Logger) *EmailChannel {
	return &EmailChannel{
		config: cfg,
		logger: logger.WithFields(logging.Field{Key: "channel", Value: "email"}),
	}
}

func (e *EmailChannel) Send(ctx context.Context, a notify.Alert) error {
	if !e.config.SMTPEnabled() || e.config.AlertEmailTo == "" {
		return fmt.Errorf("email channel is not configured")
	}

	subject := subjectFor(a)
	plainBody := plainBodyFor(a, e.config.AuthorizeURL())
	htmlBody, err := renderHTML(a, e.config.AuthorizeURL())
	if err != nil {
		return fmt.Errorf("failed to render alert email: %w", err)
	}

	return e.send(e.config.AlertEmailTo, subject, plainBody, htmlBody)
}

func subjectFor(a notify.Alert) string {
	switch {
	case a.TokenMissing:
		return "[URGENT] No valid API credential - authorization required"
	case a.Type == store.NotificationEmergency:
		return fmt.Sprintf("[URGENT] API credential expires in %d day(s)", a.DaysRemaining)
	default:
		return fmt.Sprintf("API credential expires in %d days", a.DaysRemaining)
	}
}

func plainBodyFor(a notify.Alert, authorizeURL string) string {
	var b strings.Builder
	if a.TokenMissing {
		b.WriteString("The service has no valid API credential and cannot reach the provider.\n\n")
	} else {
		fmt.Fprintf(&b, "The stored API credential expires in %d day(s)", a.DaysRemaining)
		if !a.ExpiresAt.IsZero() {
			fmt.Fprintf(&b, ", on %s", a.ExpiresAt.Format(time.RFC1123))
		}
		b.WriteString(".\n\n")
	}
	b.WriteString("Renew it by visiting:\n")
	b.WriteString(authorizeURL)
	b.WriteString("\n")
	return b.String()
}

func (e *EmailChannel) send(to, subject, plainBody, htmlBody string) error {
	from := e.config.SMTPFrom
	if e.config.SMTPFromName != "" {
		from = fmt.Sprintf("%s <%s>", e.config.SMTPFromName, e.config.SMTPFrom)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: multipart/alternative; boundary=\"boundary123\"\r\n")
	msg.WriteString("\r\n")

	msg.WriteString("--boundary123\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(plainBody + "\r\n")

	msg.WriteString("--boundary123\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(htmlBody + "\r\n")
	msg.WriteString("--boundary123--")

	var auth smtp.Auth
	if e.config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", e.config.SMTPUsername, e.config.SMTPPassword, e.config.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%s", e.config.SMTPHost, e.config.SMTPPort)

	if e.config.SMTPUseSSL {
		return e.sendWithSSL(addr, auth, e.config.SMTPFrom, []string{to}, msg.Bytes())
	}
	return smtp.SendMail(addr, auth, e.config.SMTPFrom, []string{to}, msg.Bytes())
}

// sendWithSSL handles providers that expect implicit TLS rather than
// STARTTLS.
func (e *EmailChannel) sendWithSSL(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	host := e.config.SMTPHost
	port, _ := strconv.Atoi(e.config.SMTPPort)

	conn, err := tls.Dial("tcp", fmt.Sprintf("%s:%d", host, port), &tls.Config{ServerName: host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(msg); err != nil {
		return err
	}
	if err = w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
