// Package pipeline hands committed-candidate messages to the downstream
// system. Delivery is at-least-once from the pipeline's point of view; the
// coordinator's idempotency store is what keeps duplicates from committing.
package pipeline

import (
	"context"

	"task-mail-intake-go/internal/models"
)

// Result is what the downstream system returned for a handed-off message.
type Result struct {
	// ResponseText, when non-empty, is the reply that should be emailed
	// back to the sender.
	ResponseText string
	// Complete reports whether the downstream conversation finished.
	Complete bool
	// DownstreamID identifies the downstream record (task id, queue
	// message id) and is persisted in the processing record.
	DownstreamID string
}

// Pipeline hands a message and its extracted payload downstream.
type Pipeline interface {
	Handle(ctx context.Context, msg models.InboundMessage, payload string) (Result, error)
}
