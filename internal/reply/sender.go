// Package reply sends reply emails produced by the downstream pipeline,
// gated by the per-recipient outbound throttle.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/throttle"
)

// ErrThrottled means the recipient's minimum send interval was still open
// after waiting as long as the sender was willing to.
var ErrThrottled = errors.New("reply: send throttled")

// Sender delivers a reply email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
	Close() error
}

// ReplyTrailer is appended to outgoing conversational replies.
const ReplyTrailer = "Please reply to this email with your response."

// ComposeBody wraps the pipeline's response text with the reply trailer.
func ComposeBody(responseText string) string {
	return strings.TrimSpace(responseText) + "\n\n" + ReplyTrailer + "\n"
}

// QuoteSubject keeps a single Re: prefix on reply subjects.
func QuoteSubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// ThrottledSender gates an inner sender behind the outbound throttle. The
// reservation is taken before the send and settled after it, so a failed
// send never consumes the recipient's interval.
type ThrottledSender struct {
	inner    Sender
	throttle throttle.Throttle
	maxWait  time.Duration
}

// NewThrottledSender wraps a sender with the throttle. maxWait bounds how
// long a single Send will wait out the recipient's interval before giving
// up with ErrThrottled.
func NewThrottledSender(inner Sender, t throttle.Throttle, maxWait time.Duration) *ThrottledSender {
	return &ThrottledSender{inner: inner, throttle: t, maxWait: maxWait}
}

// Send waits out the recipient's interval if needed, then delivers.
func (s *ThrottledSender) Send(ctx context.Context, to, subject, body string) error {
	waited := time.Duration(0)
	for {
		wait, err := s.throttle.CheckAndReserve(ctx, to)
		if err != nil {
			return fmt.Errorf("throttle check for %s: %w", to, err)
		}
		if wait == 0 {
			break
		}
		if waited+wait > s.maxWait {
			logrus.Warnf("Reply to %s throttled, remaining wait %v exceeds budget", to, wait)
			return ErrThrottled
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			waited += wait
		}
	}

	if err := s.inner.Send(ctx, to, subject, body); err != nil {
		if cancelErr := s.throttle.Cancel(ctx, to); cancelErr != nil {
			logrus.Errorf("Failed to cancel throttle reservation for %s: %v", to, cancelErr)
		}
		return err
	}

	if err := s.throttle.Commit(ctx, to); err != nil {
		logrus.Errorf("Failed to commit throttle for %s: %v", to, err)
	}
	return nil
}

// Close closes the inner sender.
func (s *ThrottledSender) Close() error {
	return s.inner.Close()
}
