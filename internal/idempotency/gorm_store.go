package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"task-mail-intake-go/internal/models"
)

// GormStore is the durable idempotency backend. The unique index on
// processing_records.message_id turns the INSERT into an atomic
// create-if-absent; a losing concurrent insert comes back as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a database-backed idempotency store.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Has reports whether a processing record exists for the id. Backend errors
// are logged and reported as unprocessed.
func (s *GormStore) Has(ctx context.Context, id string) bool {
	var record models.ProcessingRecord
	result := s.db.WithContext(ctx).Where("message_id = ?", id).First(&record)
	if result.Error == nil {
		return true
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		logrus.Warnf("Idempotency check failed for %s, treating as unprocessed: %v", id, result.Error)
	}
	return false
}

// MarkProcessed inserts the processing record, returning ErrAlreadyProcessed
// when a record for the id already exists.
func (s *GormStore) MarkProcessed(ctx context.Context, id string, outcome Outcome) error {
	record := models.ProcessingRecord{
		MessageID:   id,
		ProcessedAt: time.Now(),
		Outcome:     outcome.Result,
		Metadata:    outcome.encode(),
	}

	result := s.db.WithContext(ctx).Create(&record)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("failed to mark message as processed: %w", result.Error)
	}
	return nil
}

// Prune deletes all but the most recent keep records. Retention is a policy
// knob, not a correctness mechanism.
func (s *GormStore) Prune(ctx context.Context, keep int) error {
	if keep <= 0 {
		return nil
	}

	var cutoff models.ProcessingRecord
	result := s.db.WithContext(ctx).
		Order("processed_at desc").
		Offset(keep).
		Limit(1).
		First(&cutoff)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil
	}
	if result.Error != nil {
		return fmt.Errorf("failed to find prune cutoff: %w", result.Error)
	}

	result = s.db.WithContext(ctx).
		Where("processed_at <= ?", cutoff.ProcessedAt).
		Delete(&models.ProcessingRecord{})
	if result.Error != nil {
		return fmt.Errorf("failed to prune processing records: %w", result.Error)
	}

	logrus.Infof("Pruned %d processing records, keeping most recent %d", result.RowsAffected, keep)
	return nil
}
