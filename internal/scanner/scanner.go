// Package scanner reads candidate inbound messages from a mailbox. Scans are
// read-only; the only mutation offered is the best-effort post-commit cleanup
// behind the Mutator interface.
package scanner

import (
	"context"
	"time"

	"task-mail-intake-go/internal/models"
)

// Scanner yields candidate messages that arrived at or after the given
// watermark. Implementations must not mutate the mailbox during a scan.
type Scanner interface {
	Scan(ctx context.Context, since time.Time) ([]models.InboundMessage, error)
	Close() error
}

// Mutator performs post-commit mailbox cleanup (mark seen, delete). Failures
// here are cosmetic: the idempotency store, not mailbox state, decides
// whether a message is processed.
type Mutator interface {
	MarkHandled(ctx context.Context, msg models.InboundMessage) error
}
