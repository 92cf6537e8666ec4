package reply

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"task-mail-intake-go/internal/config"
)

// GmailSender delivers replies through the Gmail API.
type GmailSender struct {
	service   *gmail.Service
	userEmail string
}

// NewGmailSender creates a Gmail API sender from OAuth2 credentials.
func NewGmailSender(cfg *config.MailboxConfig) (*GmailSender, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailSender{service: service, userEmail: cfg.UserEmail}, nil
}

// Send assembles and sends the reply, retrying on rate-limit errors.
func (s *GmailSender) Send(ctx context.Context, to, subject, body string) error {
	raw := composeMessage(s.userEmail, to, subject, body)
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		_, err := s.service.Users.Messages.Send(s.userEmail, message).Context(ctx).Do()
		if err == nil {
			logrus.Infof("Sent reply to %s: %s", to, subject)
			return nil
		}

		lastErr = err
		logrus.Warnf("Failed to send reply (attempt %d/%d): %v", attempt, 3, err)

		if strings.Contains(err.Error(), "quota") || strings.Contains(err.Error(), "rate") {
			waitTime := time.Duration(attempt*attempt) * time.Second
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		} else {
			break
		}
	}

	return fmt.Errorf("failed to send reply after retries: %w", lastErr)
}

// Close is a no-op for the Gmail API.
func (s *GmailSender) Close() error {
	return nil
}

// composeMessage assembles an RFC 2822 message.
func composeMessage(from, to, subject, body string) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("From: %s\r\n", from))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", time.Now().Format(time.RFC1123Z)))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 7bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return b.String()
}
