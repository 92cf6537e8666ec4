package scanner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/config"
	"task-mail-intake-go/internal/models"
)

// IMAPScanner reads candidate messages over IMAP. It also implements Mutator
// for post-commit cleanup (\Seen, optionally \Deleted + expunge).
type IMAPScanner struct {
	client      *client.Client
	folder      string
	deleteAfter bool
}

// NewIMAPScanner connects and logs in to the IMAP server.
func NewIMAPScanner(cfg *config.MailboxConfig) (*IMAPScanner, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", cfg.IMAPHost, cfg.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(cfg.IMAPUser, cfg.IMAPPassword); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "INBOX"
	}

	return &IMAPScanner{
		client:      c,
		folder:      folder,
		deleteAfter: cfg.DeleteAfterCommit,
	}, nil
}

// Scan returns messages that arrived since the watermark. IMAP SINCE has
// day granularity, so the server may return messages older than the
// watermark; they are filtered on internal date here. Peek fetches keep the
// scan read-only.
func (s *IMAPScanner) Scan(ctx context.Context, since time.Time) ([]models.InboundMessage, error) {
	if _, err := s.client.Select(s.folder, false); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", s.folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = since

	ids, err := s.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, len(ids))
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var result []models.InboundMessage
	for msg := range messages {
		inbound, err := s.parseMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		if inbound.ArrivalTime.Before(since) {
			continue
		}
		result = append(result, inbound)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// parseMessage converts an IMAP message into an InboundMessage.
func (s *IMAPScanner) parseMessage(msg *imap.Message, section *imap.BodySectionName) (models.InboundMessage, error) {
	inbound := models.InboundMessage{
		Folder:      s.folder,
		UID:         msg.Uid,
		ArrivalTime: msg.InternalDate,
	}

	if msg.Envelope != nil {
		inbound.ID = strings.Trim(msg.Envelope.MessageId, "<>")
		inbound.Subject = msg.Envelope.Subject
		if len(msg.Envelope.From) > 0 {
			inbound.Sender = msg.Envelope.From[0].Address()
		}
		if inbound.ArrivalTime.IsZero() {
			inbound.ArrivalTime = msg.Envelope.Date
		}
	}

	if err := s.parseBody(msg, section, &inbound); err != nil {
		return inbound, err
	}

	return inbound, nil
}

// parseBody extracts the text and HTML parts of the message body.
func (s *IMAPScanner) parseBody(msg *imap.Message, section *imap.BodySectionName, inbound *models.InboundMessage) error {
	r := msg.GetBody(section)
	if r == nil {
		return nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(p.Body)
			if err != nil {
				return fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := p.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") {
				inbound.Body = string(content)
			} else if strings.Contains(contentType, "text/html") {
				inbound.HTMLBody = string(content)
			}
		}
		return nil
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	contentType := entity.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		inbound.HTMLBody = string(content)
	} else {
		inbound.Body = string(content)
	}
	return nil
}

// MarkHandled flags the message \Seen, and \Deleted + expunges when the
// scanner is configured to delete after commit.
func (s *IMAPScanner) MarkHandled(ctx context.Context, msg models.InboundMessage) error {
	if msg.UID == 0 {
		return fmt.Errorf("message %s has no UID", msg.MessageID())
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(msg.UID)

	flags := []interface{}{imap.SeenFlag}
	if s.deleteAfter {
		flags = append(flags, imap.DeletedFlag)
	}

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := s.client.UidStore(seqset, item, flags, nil); err != nil {
		return fmt.Errorf("failed to store flags: %w", err)
	}

	if s.deleteAfter {
		if err := s.client.Expunge(nil); err != nil {
			return fmt.Errorf("failed to expunge: %w", err)
		}
	}
	return nil
}

// Close logs out of the IMAP server.
func (s *IMAPScanner) Close() error {
	return s.client.Logout()
}
