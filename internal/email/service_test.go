package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestParseRecipients(t *testing.T) {
	got, err := ParseRecipients([]string{"a@example.com", " Bob <b@example.com> ", "A@example.com"})
	if err != nil {
		t.Fatalf("ParseRecipients() error = %v", err)
	}
	if strings.Join(got, ",") != "a@example.com,b@example.com" {
		t.Fatalf("unexpected recipients %v", got)
	}

	for _, bad := range [][]string{nil, {"not an address"}, make([]string, 0)} {
		if _, err := ParseRecipients(bad); !errors.Is(err, ErrInvalidRecipient) {
			t.Errorf("ParseRecipients(%v) error = %v, want ErrInvalidRecipient", bad, err)
		}
	}
}

func TestSendReportShare(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com", FromName: "Label Workspace"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := svc.SendReportShare([]string{"a@example.com"}, ShareData{
		SenderName:  "Dana",
		Message:     "See the <boxed> warning",
		ReportTitle: "Lisinopril review",
		ReportType:  "analysis",
		Drugs:       "Lisinopril",
		Highlights:  2,
		Notes:       1,
		DownloadURL: "https://blob.example.com/r.pdf",
	})
	if err != nil {
		t.Fatalf("SendReportShare() error = %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "noreply@example.com" || len(gotTo) != 1 {
		t.Fatalf("unexpected envelope %s %s %v", gotAddr, gotFrom, gotTo)
	}

	msg := string(gotMsg)
	for _, want := range []string{
		"To: a@example.com\r\n",
		`From: "Label Workspace" <noreply@example.com>`,
		"Subject: Dana shared \"Lisinopril review\" with you\r\n",
		"Highlights: 2",
		"See the &lt;boxed&gt; warning",
		`href="https://blob.example.com/r.pdf"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendReportShareEncodesSubject(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"})

	var gotMsg []byte
	svc.send = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	err := svc.SendReportShare([]string{"a@example.com"}, ShareData{SenderName: "Zoë", ReportTitle: "Review"})
	if err != nil {
		t.Fatalf("SendReportShare() error = %v", err)
	}
	msg := string(gotMsg)
	if !strings.Contains(msg, "Subject: =?utf-8?q?Zo=C3=AB_shared_") {
		t.Errorf("subject not Q-encoded: %q", msg)
	}
	if !strings.Contains(msg, "From: noreply@example.com\r\n") {
		t.Errorf("plain From header expected without a display name")
	}
}

func TestSendWithoutConfig(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendReportShare([]string{"a@example.com"}, ShareData{}); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestHeaderSafe(t *testing.T) {
	if got := headerSafe("a\r\nBcc: x@example.com"); strings.ContainsAny(got, "\r\n") {
		t.Fatalf("header still contains line breaks: %q", got)
	}
}

func TestRenderShareTemplate(t *testing.T) {
	html, err := renderTemplate(shareEmailTemplate, ShareData{AppName: "Label Workspace", ReportTitle: "R", SenderName: "Dana"})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}
	if !strings.Contains(html, "Dana shared the report <strong>R</strong>") {
		t.Error("template should contain sender and title")
	}
	if strings.Contains(html, "Download report") {
		t.Error("download button should be omitted without a URL")
	}
}
