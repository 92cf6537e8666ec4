package throttle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"task-mail-intake-go/internal/models"
)

// Gorm persists the per-recipient last-sent timestamp, so the interval
// survives restarts. Reservations are process-local (the mutex); cross-worker
// serialization of sends for a recipient comes from the coordinator's lease,
// which already admits one worker per (recipient, task) at a time.
type Gorm struct {
	mu          sync.Mutex
	db          *gorm.DB
	minInterval time.Duration
	reserved    map[string]bool
	now         func() time.Time
}

// NewGorm creates a database-backed throttle.
func NewGorm(db *gorm.DB, minInterval time.Duration) *Gorm {
	return &Gorm{
		db:          db,
		minInterval: minInterval,
		reserved:    make(map[string]bool),
		now:         time.Now,
	}
}

// CheckAndReserve reserves the send slot or returns the remaining wait.
func (t *Gorm) CheckAndReserve(ctx context.Context, recipient string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.reserved[recipient] {
		return t.minInterval, nil
	}

	var entry models.ThrottleEntry
	result := t.db.WithContext(ctx).Where("recipient = ?", recipient).First(&entry)
	if result.Error != nil && !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return 0, fmt.Errorf("throttle lookup for %s: %w", recipient, result.Error)
	}

	if result.Error == nil {
		if elapsed := t.now().Sub(entry.LastSentAt); elapsed < t.minInterval {
			return t.minInterval - elapsed, nil
		}
	}

	t.reserved[recipient] = true
	return 0, nil
}

// Commit upserts the recipient's last-sent timestamp and frees the
// reservation.
func (t *Gorm) Commit(ctx context.Context, recipient string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.reserved, recipient)

	entry := models.ThrottleEntry{
		Recipient:  recipient,
		LastSentAt: t.now(),
	}
	result := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "recipient"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_sent_at"}),
	}).Create(&entry)
	if result.Error != nil {
		return fmt.Errorf("throttle commit for %s: %w", recipient, result.Error)
	}
	return nil
}

// Cancel frees the reservation without recording a send.
func (t *Gorm) Cancel(_ context.Context, recipient string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.reserved, recipient)
	return nil
}
