package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailSender delivers through the SMTP server in the "email" system config. STARTTLS is used when the server
// offers it.
type EmailSender struct {
	settings Settings
	logger   *slog.Logger
	sendMail sendMailFunc
	now      func() time.Time
}

func NewEmailSender(settings Settings, logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{settings: settings, logger: logger, sendMail: smtp.SendMail, now: time.Now}
}

func (s *EmailSender) Send(ctx context.Context, msg Message) error {
	cfg, err := s.settings.Email(ctx)
	if err != nil {
		return fmt.Errorf("load email settings: %w", err)
	}
	if !cfg.Enabled || cfg.Host == "" {
		return ErrChannelUnavailable
	}
	if len(msg.To) == 0 {
		return ErrNoRecipients
	}

	port := cfg.Port
	if port == 0 {
		port = 25
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	from := mail.Address{Name: cfg.FromName, Address: cfg.From}
	body := s.compose(from, msg)

	// smtp.SendMail has no context; the send finishes in the background if ctx ends first.
	done := make(chan error, 1)
	go func() { done <- s.sendMail(addr, auth, cfg.From, msg.To, body) }()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send to %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *EmailSender) compose(from mail.Address, msg Message) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", s.now().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	b.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.Bytes()
}

// TestEmail sends a fixed message right away and returns the SMTP result.
func (s *EmailSender) TestEmail(ctx context.Context, to string) error {
	s.logger.Info("sending test email", "to", to)
	return s.Send(ctx, Message{
		Channel: ChannelEmail,
		To:      []string{to},
		Subject: "Test email",
		Body:    "This is a test message. Your email settings work.",
		Ref:     "test",
	})
}
