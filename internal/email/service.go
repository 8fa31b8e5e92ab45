// Package email sends report share notifications via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"

	"labelscope/api/internal/util"
)

var (
	ErrNotConfigured    = errors.New("email not configured")
	ErrInvalidRecipient = errors.New("invalid recipient")
)

const maxRecipients = 20

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// ParseRecipients validates and de-duplicates addresses, keeping order.
func ParseRecipients(raw []string) ([]string, error) {
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		addr, err := mail.ParseAddress(strings.TrimSpace(r))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRecipient, r)
		}
		key := strings.ToLower(addr.Address)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, addr.Address)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one recipient is required", ErrInvalidRecipient)
	}
	if len(out) > maxRecipients {
		return nil, fmt.Errorf("%w: at most %d recipients", ErrInvalidRecipient, maxRecipients)
	}
	return out, nil
}

// SendHTMLEmail sends a multipart plain text and HTML email.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = (&mail.Address{Name: s.config.FromName, Address: s.config.From}).String()
	}

	boundary := util.NewID("part")

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", headerSafe(subject)))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// ShareData fills the share notification.
type ShareData struct {
	AppName     string
	SenderName  string
	Message     string
	ReportTitle string
	ReportType  string
	Drugs       string
	Highlights  int
	Notes       int
	DownloadURL string
}

// SendReportShare emails a share notification for one report.
func (s *Service) SendReportShare(to []string, data ShareData) error {
	if data.AppName == "" {
		data.AppName = "Label Workspace"
	}
	if data.SenderName == "" {
		data.SenderName = "A colleague"
	}
	html, err := renderTemplate(shareEmailTemplate, data)
	if err != nil {
		return fmt.Errorf("render share template: %w", err)
	}
	subject := fmt.Sprintf("%s shared \"%s\" with you", data.SenderName, data.ReportTitle)
	return s.SendHTMLEmail(to, subject, shareText(data), html)
}

func shareText(d ShareData) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s shared the report \"%s\" with you.\r\n\r\n", d.SenderName, d.ReportTitle)
	if d.Message != "" {
		fmt.Fprintf(&b, "%s\r\n\r\n", d.Message)
	}
	fmt.Fprintf(&b, "Report type: %s\r\nDrugs: %s\r\nHighlights: %d\r\nNotes: %d\r\n", d.ReportType, d.Drugs, d.Highlights, d.Notes)
	if d.DownloadURL != "" {
		fmt.Fprintf(&b, "\r\nDownload: %s\r\n", d.DownloadURL)
	}
	return b.String()
}

func headerSafe(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const shareEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.ReportTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .message { background: #f6f8fa; padding: 12px; border-radius: 4px; margin: 20px 0; white-space: pre-wrap; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>{{.SenderName}} shared the report <strong>{{.ReportTitle}}</strong> with you.</p>

    {{if .Message}}<div class="message">{{.Message}}</div>{{end}}

    <table>
        <tr><td>Report type</td><td>{{.ReportType}}</td></tr>
        <tr><td>Drugs</td><td>{{.Drugs}}</td></tr>
        <tr><td>Highlights</td><td>{{.Highlights}}</td></tr>
        <tr><td>Notes</td><td>{{.Notes}}</td></tr>
    </table>

    {{if .DownloadURL}}<p><a href="{{.DownloadURL}}" class="button">Download report</a></p>{{end}}

    <div class="footer">
        <p>Label content is sourced from FDA drug labels. Verify against the current label before relying on it.</p>
    </div>
</body>
</html>`
