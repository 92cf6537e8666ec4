package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/models"
)

// QueuePublisher hands messages off by publishing a task envelope to a Redis
// list. Delivery to queue consumers is at-least-once; consumers must dedup
// on the envelope's messageId themselves.
type QueuePublisher struct {
	rdb       *redis.Client
	queueName string
}

// NewQueuePublisher creates a queue pipeline targeting the given list.
func NewQueuePublisher(rdb *redis.Client, queueName string) *QueuePublisher {
	return &QueuePublisher{rdb: rdb, queueName: queueName}
}

// Handle serialises the task envelope and pushes it onto the queue.
func (p *QueuePublisher) Handle(ctx context.Context, msg models.InboundMessage, payload string) (Result, error) {
	envelope := models.TaskEnvelope{
		ID:           uuid.New().String(),
		UserEmail:    msg.Sender,
		UserResponse: payload,
		TaskTitle:    msg.Subject,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		MessageID:    msg.MessageID(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal task envelope: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(data)).Err(); err != nil {
		return Result{}, fmt.Errorf("redis LPUSH: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"envelope_id": envelope.ID,
		"message_id":  envelope.MessageID,
		"queue":       p.queueName,
	}).Info("Published task envelope to queue")

	return Result{Complete: true, DownstreamID: envelope.ID}, nil
}

// Ping checks the Redis connection.
func (p *QueuePublisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
