package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InboundMessage is a candidate email read from the mailbox. It is immutable
// once built; everything downstream works on a copy.
type InboundMessage struct {
	ID          string    `json:"id"`
	Sender      string    `json:"sender"`
	Subject     string    `json:"subject"`
	Body        string    `json:"body"`
	HTMLBody    string    `json:"html_body"`
	Folder      string    `json:"folder"`
	UID         uint32    `json:"uid"`
	ArrivalTime time.Time `json:"arrival_time"`
}

// MessageID returns the provider message identifier, or a synthetic one when
// the provider did not supply any. The synthetic id is derived from
// sender+subject+arrival time only, so a rescan of the same message always
// yields the same id.
func (m InboundMessage) MessageID() string {
	if m.ID != "" {
		return m.ID
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", m.Sender, m.Subject, m.ArrivalTime.UnixNano())))
	return "synthetic-" + hex.EncodeToString(sum[:16])
}

// ProcessingRecord marks an email as durably processed. One row exists per
// message id; the unique index on MessageID is what makes MarkProcessed an
// atomic create-if-absent.
type ProcessingRecord struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string         `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ProcessedAt time.Time      `json:"processed_at"`
	Outcome     string         `json:"outcome" gorm:"type:varchar(50)"`
	Metadata    string         `json:"metadata" gorm:"type:text"`
	DeletedAt   gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for ProcessingRecord
func (ProcessingRecord) TableName() string {
	return "processing_records"
}

// IntakeLog records the terminal state of one coordinator pass over a message.
type IntakeLog struct {
	ID        uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID string         `json:"message_id" gorm:"type:varchar(255);not null;index"`
	Sender    string         `json:"sender" gorm:"type:varchar(255)"`
	State     string         `json:"state" gorm:"type:varchar(50);not null"`
	ErrorMsg  string         `json:"error_msg" gorm:"type:text"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// TableName specifies the table name for IntakeLog
func (IntakeLog) TableName() string {
	return "intake_logs"
}

// ThrottleEntry persists the last successful send per recipient.
type ThrottleEntry struct {
	ID         uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Recipient  string    `json:"recipient" gorm:"type:varchar(255);not null;uniqueIndex"`
	LastSentAt time.Time `json:"last_sent_at"`
}

// TableName specifies the table name for ThrottleEntry
func (ThrottleEntry) TableName() string {
	return "throttle_entries"
}

// TaskEnvelope is the queue handoff payload. Field names mirror what queue
// consumers already expect.
type TaskEnvelope struct {
	ID           string `json:"id"`
	UserEmail    string `json:"userEmail"`
	UserResponse string `json:"userResponse"`
	TaskTitle    string `json:"taskTitle"`
	Timestamp    string `json:"timestamp"`
	MessageID    string `json:"messageId"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Redis     string            `json:"redis"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}
