package intake

import (
	"context"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"task-mail-intake-go/internal/models"
)

// GormLogRecorder writes intake audit rows to the database.
type GormLogRecorder struct {
	db *gorm.DB
}

func NewGormLogRecorder(db *gorm.DB) *GormLogRecorder {
	return &GormLogRecorder{db: db}
}

func (r *GormLogRecorder) Record(ctx context.Context, messageID, sender string, state State, errMsg string) {
	entry := models.IntakeLog{
		MessageID: messageID,
		Sender:    sender,
		State:     string(state),
		ErrorMsg:  errMsg,
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		logrus.Errorf("Failed to record intake log for %s: %v", messageID, err)
	}
}
