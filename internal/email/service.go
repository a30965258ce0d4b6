// Package email delivers document invitation mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"
)

// Config holds SMTP configuration.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends mail. With an empty Host it is a configured-off no-op that
// reports itself as such.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart message with an HTML body and a plain
// fallback.
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-inkwell"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// InvitationData feeds the invitation mail template.
type InvitationData struct {
	AppName       string
	Inviter       string
	DocumentTitle string
	InviteURL     string
}

// SendInvitationEmail mails an editor invitation. The registration URL gets
// the invitation code attached as a query parameter so the frontend can
// forward it during sign-up.
func (s *Service) SendInvitationEmail(to, inviter, documentTitle, registrationURL, code string) error {
	data := InvitationData{
		AppName:       "Inkwell",
		Inviter:       inviter,
		DocumentTitle: documentTitle,
		InviteURL:     InviteURL(registrationURL, code),
	}

	subject := fmt.Sprintf("%s invited you to edit \"%s\"", inviter, documentTitle)
	html, err := renderTemplate(invitationEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render invitation template: %w", err)
	}

	return s.SendHTMLEmail([]string{to}, subject, html)
}

// InviteURL appends the invitation code to the registration page URL.
func InviteURL(registrationURL, code string) string {
	parsed, err := url.Parse(registrationURL)
	if err != nil {
		return registrationURL
	}
	query := parsed.Query()
	query.Set("invitation_code", code)
	parsed.RawQuery = query.Encode()
	return parsed.String()
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const invitationEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You have been invited to a document</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #36594c; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #36594c; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #36594c; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>{{.Inviter}} invited you to co-edit a document</h2>

    <p>{{.Inviter}} wants you to join them as an editor of
    &ldquo;{{.DocumentTitle}}&rdquo;. Create an account with the link below
    and you will be added to the document automatically.</p>

    <p>
        <a href="{{.InviteURL}}" class="button">Accept invitation</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.InviteURL}}</p>

    <p>This invitation expires in 7 days.</p>

    <div class="footer">
        <p>If you were not expecting this invitation, you can safely ignore this email.</p>
    </div>
</body>
</html>`
