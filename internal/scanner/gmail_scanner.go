package scanner

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"task-mail-intake-go/internal/config"
	"task-mail-intake-go/internal/models"
)

// GmailScanner reads candidate messages through the Gmail API. It implements
// Mutator by clearing the UNREAD label, or trashing the message when
// configured to delete after commit.
type GmailScanner struct {
	service     *gmail.Service
	userEmail   string
	deleteAfter bool
}

// NewGmailScanner creates a Gmail API scanner from OAuth2 credentials.
func NewGmailScanner(cfg *config.MailboxConfig) (*GmailScanner, error) {
	ctx := context.Background()

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: cfg.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}

	return &GmailScanner{
		service:     service,
		userEmail:   cfg.UserEmail,
		deleteAfter: cfg.DeleteAfterCommit,
	}, nil
}

// Scan lists messages received since the watermark.
func (s *GmailScanner) Scan(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	query := fmt.Sprintf("after:%d", since.Unix())

	response, err := s.service.Users.Messages.List(s.userEmail).Q(query).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	var result []models.InboundMessage
	for _, ref := range response.Messages {
		full, err := s.service.Users.Messages.Get(s.userEmail, ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", ref.Id, err)
			continue
		}

		inbound, err := s.parseMessage(full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", ref.Id, err)
			continue
		}
		if inbound.ArrivalTime.Before(since) {
			continue
		}
		result = append(result, inbound)
	}

	return result, nil
}

// parseMessage converts a Gmail API message into an InboundMessage.
func (s *GmailScanner) parseMessage(msg *gmail.Message) (models.InboundMessage, error) {
	inbound := models.InboundMessage{
		ID:          msg.Id,
		Folder:      "INBOX",
		ArrivalTime: time.UnixMilli(msg.InternalDate),
	}

	for _, header := range msg.Payload.Headers {
		switch header.Name {
		case "Subject":
			inbound.Subject = header.Value
		case "From":
			inbound.Sender = header.Value
		}
	}

	if err := s.parseBody(msg.Payload, &inbound); err != nil {
		return inbound, err
	}

	return inbound, nil
}

// parseBody recursively walks the message parts for text content.
func (s *GmailScanner) parseBody(part *gmail.MessagePart, inbound *models.InboundMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		switch part.MimeType {
		case "text/plain":
			inbound.Body = string(data)
		case "text/html":
			inbound.HTMLBody = string(data)
		}
	}

	for _, subPart := range part.Parts {
		if err := s.parseBody(subPart, inbound); err != nil {
			return err
		}
	}

	return nil
}

// MarkHandled clears the UNREAD label, or trashes the message when the
// scanner is configured to delete after commit.
func (s *GmailScanner) MarkHandled(ctx context.Context, msg models.InboundMessage) error {
	if s.deleteAfter {
		if _, err := s.service.Users.Messages.Trash(s.userEmail, msg.ID).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to trash message %s: %w", msg.ID, err)
		}
		return nil
	}

	request := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
	if _, err := s.service.Users.Messages.Modify(s.userEmail, msg.ID, request).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to modify message %s: %w", msg.ID, err)
	}
	return nil
}

// Close is a no-op for the Gmail API.
func (s *GmailScanner) Close() error {
	return nil
}
