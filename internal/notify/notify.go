// Package notify renders and delivers recipient notifications.
package notify

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/proposalgate/proposalgate/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Drivers accepted by New.
const (
	DriverNone = "none"
	DriverLog  = "log"
	DriverSMTP = "smtp"
)

// Message is a rendered notification.
type Message struct {
	To      model.Recipient
	Subject string
	HTML    string
}

// Renderer renders named templates from the embedded template set. Each
// template file defines a "subject" and a "body" block.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	r := &Renderer{templates: make(map[string]*template.Template, len(entries))}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), ".html")
		t, err := template.ParseFS(templateFS, "templates/"+e.Name())
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		r.templates[name] = t
	}
	return r, nil
}

// Render produces the message for template name.
func (r *Renderer) Render(name string, to model.Recipient, vars map[string]any) (*Message, error) {
	t, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", name)
	}
	var subject, body bytes.Buffer
	if err := t.ExecuteTemplate(&subject, "subject", vars); err != nil {
		return nil, fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.ExecuteTemplate(&body, "body", vars); err != nil {
		return nil, fmt.Errorf("render %s body: %w", name, err)
	}
	return &Message{
		To:      to,
		Subject: strings.TrimSpace(subject.String()),
		HTML:    body.String(),
	}, nil
}

// LogSender renders messages and writes them to the log instead of sending
// them. It is the development default.
type LogSender struct {
	renderer *Renderer
	logger   *slog.Logger
}

// NewLogSender returns a LogSender.
func NewLogSender(logger *slog.Logger) (*LogSender, error) {
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{renderer: r, logger: logger}, nil
}

func (s *LogSender) Send(ctx context.Context, to model.Recipient, name string, vars map[string]any) error {
	msg, err := s.renderer.Render(name, to, vars)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "notification",
		"to", to.Email,
		"subject", msg.Subject,
		"template", name,
		"url", vars["URL"],
	)
	return nil
}

// Options configures New.
type Options struct {
	Driver   string
	SMTPAddr string
	Username string
	Password string
	From     string
}

// Sender is implemented by LogSender and SMTPSender.
type Sender interface {
	Send(ctx context.Context, to model.Recipient, template string, vars map[string]any) error
}

// New returns the sender selected by opts. DriverNone yields a nil Sender.
func New(opts Options, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverNone:
		return nil, nil
	case DriverLog, "":
		s, err := NewLogSender(logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case DriverSMTP:
		s, err := NewSMTPSender(opts)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported notify driver %q", opts.Driver)
	}
}
