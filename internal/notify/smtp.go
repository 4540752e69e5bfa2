package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"time"

	"github.com/proposalgate/proposalgate/internal/model"
)

// SMTPSender delivers rendered messages through an SMTP relay. PLAIN auth is
// used when a username is configured.
type SMTPSender struct {
	renderer *Renderer
	addr     string
	host     string
	auth     smtp.Auth
	from     mail.Address

	// sendMail is smtp.SendMail; replaced in tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPSender validates opts and returns an SMTPSender.
func NewSMTPSender(opts Options) (*SMTPSender, error) {
	if opts.SMTPAddr == "" {
		return nil, errors.New("smtp address is required")
	}
	host, _, err := net.SplitHostPort(opts.SMTPAddr)
	if err != nil {
		return nil, fmt.Errorf("parse smtp address: %w", err)
	}
	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, fmt.Errorf("parse from address: %w", err)
	}
	r, err := NewRenderer()
	if err != nil {
		return nil, err
	}
	s := &SMTPSender{
		renderer: r,
		addr:     opts.SMTPAddr,
		host:     host,
		from:     *from,
		sendMail: smtp.SendMail,
	}
	if opts.Username != "" {
		s.auth = smtp.PlainAuth("", opts.Username, opts.Password, host)
	}
	return s, nil
}

// Send renders and delivers the message. smtp.SendMail does not take a
// context, so cancellation is honoured by abandoning the wait.
func (s *SMTPSender) Send(ctx context.Context, to model.Recipient, name string, vars map[string]any) error {
	msg, err := s.renderer.Render(name, to, vars)
	if err != nil {
		return err
	}
	raw := s.compose(msg, time.Now())

	done := make(chan error, 1)
	go func() {
		done <- s.sendMail(s.addr, s.auth, s.from.Address, []string{to.Email}, raw)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("send mail: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send mail: %w", ctx.Err())
	}
}

func (s *SMTPSender) compose(msg *Message, now time.Time) []byte {
	to := mail.Address{Name: msg.To.Name, Address: msg.To.Email}
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", now.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}
