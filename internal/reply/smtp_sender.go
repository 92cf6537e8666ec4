package reply

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"task-mail-intake-go/internal/config"
)

// SMTPSender delivers replies over SMTP with an app password, dialing a
// fresh implicit-TLS connection per send. Polling services send rarely
// enough that holding a connection open buys nothing.
type SMTPSender struct {
	host     string
	port     int
	from     string
	password string
}

// NewSMTPSender creates an SMTP sender.
func NewSMTPSender(cfg *config.ReplyConfig, mailbox *config.MailboxConfig) *SMTPSender {
	return &SMTPSender{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.From,
		password: mailbox.IMAPPassword,
	}
}

// Send dials, authenticates, and submits the reply.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: s.host})
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	client := smtp.NewClient(conn)
	defer client.Close()

	auth := sasl.NewPlainClient("", s.from, s.password)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth failed: %w", err)
	}

	if err := client.Mail(s.from, nil); err != nil {
		return fmt.Errorf("SMTP MAIL failed: %w", err)
	}
	if err := client.Rcpt(to, nil); err != nil {
		return fmt.Errorf("SMTP RCPT failed: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA failed: %w", err)
	}
	if _, err := writer.Write([]byte(composeMessage(s.from, to, subject, body))); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish message: %w", err)
	}

	if err := client.Quit(); err != nil {
		return fmt.Errorf("SMTP QUIT failed: %w", err)
	}
	return nil
}

// Close is a no-op; connections are per send.
func (s *SMTPSender) Close() error {
	return nil
}
