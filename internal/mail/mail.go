// Package mail sends support emails over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	gomail "gopkg.in/mail.v2"
)

// ErrNoRecipients rejects messages without recipients.
var ErrNoRecipients = errors.New("mail: no recipients")

// Attachment is a file carried by a message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// Message is an outgoing email. Either body may be empty.
type Message struct {
	Subject     string            `json:"subject"`
	Sender      string            `json:"sender"`
	Recipients  []string          `json:"recipients"`
	TextBody    string            `json:"text_body"`
	HTMLBody    string            `json:"html_body"`
	Headers     map[string]string `json:"headers"`
	Attachments []Attachment      `json:"attachments"`
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
}

// Config holds SMTP settings.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	UseTLS   bool
	Sender   string
	Timeout  time.Duration
}

// Mailer sends messages through an SMTP server.
type Mailer struct {
	dialer *gomail.Dialer
	sender string
	logger zerolog.Logger
}

// New creates a mailer for cfg.
func New(cfg Config, logger zerolog.Logger) *Mailer {
	d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	if cfg.UseTLS {
		d.StartTLSPolicy = gomail.MandatoryStartTLS
		d.TLSConfig = &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}
	} else {
		d.StartTLSPolicy = gomail.NoStartTLS
	}
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return &Mailer{
		dialer: d,
		sender: cfg.Sender,
		logger: logger.With().Str("component", "mail").Logger(),
	}
}

// Send delivers msg, using the configured sender when msg has none.
func (m *Mailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.Sender == "" {
		msg.Sender = m.sender
	}
	gm, err := Build(msg)
	if err != nil {
		return err
	}
	if err := m.dialer.DialAndSend(gm); err != nil {
		return fmt.Errorf("send %q: %w", msg.Subject, err)
	}
	m.logger.Info().Str("subject", msg.Subject).Strs("recipients", msg.Recipients).Msg("email sent")
	return nil
}

// Build turns msg into a MIME message.
func Build(msg *Message) (*gomail.Message, error) {
	if len(msg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", msg.Sender)
	gm.SetHeader("To", msg.Recipients...)
	gm.SetHeader("Subject", msg.Subject)
	for k, v := range msg.Headers {
		gm.SetHeader(k, v)
	}

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		gm.SetBody("text/plain", msg.TextBody)
		gm.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		gm.SetBody("text/html", msg.HTMLBody)
	default:
		gm.SetBody("text/plain", msg.TextBody)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		gm.Attach(a.Filename, settings...)
	}
	return gm, nil
}
