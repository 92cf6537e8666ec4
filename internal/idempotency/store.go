// Package idempotency records which inbound message ids have been durably
// processed. Existence of a record means the message must never be handed to
// the downstream pipeline again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrAlreadyProcessed signals a normal dedup outcome, not a failure: the
// record already existed and has not been touched.
var ErrAlreadyProcessed = errors.New("idempotency: message already processed")

// Outcome is the optional metadata stored with a processing record.
type Outcome struct {
	Result       string `json:"result"`
	DownstreamID string `json:"downstream_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (o Outcome) encode() string {
	data, err := json.Marshal(o)
	if err != nil {
		return ""
	}
	return string(data)
}

// Store is the idempotency contract.
//
// Has fails open: a backend error is logged and reported as "not yet
// processed", because silently losing a message is worse than the rare
// duplicate downstream call this trades for. The duplicate is still caught
// at commit time, since MarkProcessed is a true conditional write.
//
// MarkProcessed creates the record if and only if no record exists for the
// id. When a record already exists it returns ErrAlreadyProcessed and leaves
// the stored metadata untouched.
type Store interface {
	Has(ctx context.Context, id string) bool
	MarkProcessed(ctx context.Context, id string, outcome Outcome) error
}
