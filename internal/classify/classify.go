// Package classify decides whether an inbound email is a task message and
// extracts the payload worth handing downstream. The predicates are supplied
// as configuration; the coordinator never embeds matching rules itself.
package classify

import (
	"errors"
	"regexp"
	"strings"

	"task-mail-intake-go/internal/models"
)

// ErrAmbiguous means the message cannot be confidently classified. The
// caller should skip it and log for human review, never guess.
var ErrAmbiguous = errors.New("classify: message classification is ambiguous")

// Predicate reports whether a message is a relevant task message.
type Predicate func(msg models.InboundMessage) bool

// taskKeywords are the subject/body markers that indicate a task email.
var taskKeywords = []string{
	"new task",
	"task creation",
	"task budget",
	"your new task",
	"task:",
}

// autoReplyMarkers indicate machine-generated mail. A message carrying both
// task keywords and one of these cannot be confidently classified.
var autoReplyMarkers = []string{
	"out of office",
	"automatic reply",
	"auto-reply",
	"delivery status notification",
	"mail delivery failed",
	"undeliverable",
}

// KeywordPredicate matches when the subject or body contains any of the
// given keywords, case-insensitively.
func KeywordPredicate(keywords ...string) Predicate {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return func(msg models.InboundMessage) bool {
		content := strings.ToLower(msg.Subject + " " + msg.Body)
		for _, k := range lowered {
			if strings.Contains(content, k) {
				return true
			}
		}
		return false
	}
}

// SenderPredicate matches messages from any of the given addresses.
func SenderPredicate(senders ...string) Predicate {
	lowered := make([]string, len(senders))
	for i, s := range senders {
		lowered[i] = strings.ToLower(s)
	}
	return func(msg models.InboundMessage) bool {
		from := strings.ToLower(msg.Sender)
		for _, s := range lowered {
			if strings.Contains(from, s) {
				return true
			}
		}
		return false
	}
}

// DefaultPredicates returns the stock task-detection predicate set.
func DefaultPredicates() []Predicate {
	return []Predicate{KeywordPredicate(taskKeywords...)}
}

// Classifier evaluates a predicate set over inbound messages. A message is
// relevant if any predicate matches (logical OR).
type Classifier struct {
	predicates []Predicate
}

// NewClassifier creates a classifier from the given predicates. With no
// predicates, nothing is ever relevant.
func NewClassifier(predicates ...Predicate) *Classifier {
	return &Classifier{predicates: predicates}
}

// Relevant reports whether the message should enter the intake pipeline.
// A message that matches the predicates but also carries auto-reply or
// bounce markers returns ErrAmbiguous.
func (c *Classifier) Relevant(msg models.InboundMessage) (bool, error) {
	matched := false
	for _, p := range c.predicates {
		if p(msg) {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}

	content := strings.ToLower(msg.Subject + " " + msg.Body)
	for _, marker := range autoReplyMarkers {
		if strings.Contains(content, marker) {
			return false, ErrAmbiguous
		}
	}

	return true, nil
}

var (
	quotedLineRe   = regexp.MustCompile(`(?m)^\s*>.*$`)
	onWroteRe      = regexp.MustCompile(`(?s)\r?\nOn .{1,120}wrote:.*$`)
	replyTrailerRe = regexp.MustCompile(`(?s)Please reply to this email.*$`)
	blankRunsRe    = regexp.MustCompile(`\n{3,}`)
)

// ExtractPayload returns the message body stripped of quoted reply text and
// the reply trailer, which is what the downstream pipeline should see.
func ExtractPayload(msg models.InboundMessage) string {
	body := strings.ReplaceAll(msg.Body, "\r\n", "\n")
	body = onWroteRe.ReplaceAllString(body, "")
	body = quotedLineRe.ReplaceAllString(body, "")
	body = replyTrailerRe.ReplaceAllString(body, "")
	body = blankRunsRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
