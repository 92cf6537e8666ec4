// Package intake holds the coordinator: the state machine that decides,
// across concurrent workers and restarts, whether an inbound email is handed
// to the downstream pipeline exactly once.
package intake

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/classify"
	"task-mail-intake-go/internal/idempotency"
	"task-mail-intake-go/internal/lease"
	"task-mail-intake-go/internal/metrics"
	"task-mail-intake-go/internal/models"
	"task-mail-intake-go/internal/pipeline"
	"task-mail-intake-go/internal/reply"
	"task-mail-intake-go/internal/scanner"
)

// State is the terminal (or intermediate) condition of one coordinator pass
// over a message.
type State string

const (
	StateScanned     State = "scanned"
	StateClassified  State = "classified"
	StateSkipped     State = "skipped"
	StateDeduped     State = "deduped"
	StateLeaseDenied State = "lease_denied"
	StateForwarded   State = "forwarded"
	StateCommitted   State = "committed"
	StateFailed      State = "failed"
)

// advancesWatermark reports whether a message in this state is finished for
// good. LeaseDenied and Failed messages must stay ahead of the watermark so
// a later scan can pick them up again.
func advancesWatermark(s State) bool {
	return s == StateSkipped || s == StateDeduped || s == StateCommitted
}

// LogRecorder persists the terminal state of a coordinator pass. Recording
// is best-effort audit, never part of the correctness path.
type LogRecorder interface {
	Record(ctx context.Context, messageID, sender string, state State, errMsg string)
}

// Pruner bounds the idempotency store's record count. Backends with native
// expiry (Redis TTL) don't need one.
type Pruner interface {
	Prune(ctx context.Context, keep int) error
}

// Options configures a Coordinator. Scanner, Store, Leases, Classifier, and
// Pipeline are required; the rest are optional.
type Options struct {
	Scanner    scanner.Scanner
	Mutator    scanner.Mutator
	Store      idempotency.Store
	Leases     lease.Manager
	Classifier *classify.Classifier
	Pipeline   pipeline.Pipeline
	Replies    reply.Sender
	Logs       LogRecorder
	Metrics    *metrics.Metrics
	Pruner     Pruner

	// HolderID identifies this worker in leases. Defaults to a random UUID.
	HolderID string
	// LeaseTTL bounds how long a crashed worker blocks a resource key.
	LeaseTTL time.Duration
	// MaxAttempts bounds pipeline retries per message id before abandoning.
	MaxAttempts int
	// Lookback seeds the initial watermark.
	Lookback time.Duration
	// Retention is how many processing records the pruner keeps. Zero
	// disables pruning.
	Retention int
}

// Coordinator runs the scan → classify → dedup → lease → handoff → commit
// state machine. All shared state lives in the injected store and lease
// manager; the coordinator itself keeps only the watermark and a bounded
// per-process retry counter.
type Coordinator struct {
	opts Options

	mu        sync.Mutex
	watermark time.Time
	attempts  map[string]int
}

// NewCoordinator creates a coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Scanner == nil || opts.Store == nil || opts.Leases == nil || opts.Classifier == nil || opts.Pipeline == nil {
		return nil, fmt.Errorf("scanner, store, leases, classifier, and pipeline are required")
	}
	if opts.HolderID == "" {
		opts.HolderID = uuid.New().String()
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 24 * time.Hour
	}

	return &Coordinator{
		opts:      opts,
		watermark: time.Now().Add(-opts.Lookback),
		attempts:  make(map[string]int),
	}, nil
}

// Watermark returns the current scan watermark.
func (c *Coordinator) Watermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// HolderID returns this worker's lease holder id.
func (c *Coordinator) HolderID() string {
	return c.opts.HolderID
}

// ResourceKey derives the lease key for a message. Replies share their
// thread's subject, so stripping the Re: prefix keys the whole conversation
// between one sender and one task to a single lease.
func ResourceKey(sender, subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))
	for strings.HasPrefix(s, "re:") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "re:"))
	}
	return strings.ToLower(strings.TrimSpace(sender)) + "|" + s
}

// Cycle performs one scan pass: read candidates since the watermark, process
// each independently, and advance the watermark past the leading run of
// finished messages. A failure on one message never stops the loop.
func (c *Coordinator) Cycle(ctx context.Context) error {
	c.mu.Lock()
	since := c.watermark
	c.mu.Unlock()

	if c.opts.Metrics != nil {
		c.opts.Metrics.ScanCount.Inc()
	}

	msgs, err := c.opts.Scanner.Scan(ctx, since)
	if err != nil {
		return fmt.Errorf("mailbox scan failed: %w", err)
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.MessagesScanned.Add(float64(len(msgs)))
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].ArrivalTime.Before(msgs[j].ArrivalTime)
	})

	newWatermark := since
	advance := true

	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}

		start := time.Now()
		state, err := c.Process(ctx, msg)
		if c.opts.Metrics != nil {
			c.opts.Metrics.ProcessingTime.Observe(time.Since(start).Seconds())
		}
		if err != nil {
			logrus.Errorf("Failed to process message %s: %v", msg.MessageID(), err)
		}

		if advance && advancesWatermark(state) {
			if msg.ArrivalTime.After(newWatermark) {
				newWatermark = msg.ArrivalTime
			}
		} else {
			advance = false
		}
	}

	c.mu.Lock()
	if newWatermark.After(c.watermark) {
		c.watermark = newWatermark
	}
	c.mu.Unlock()

	if c.opts.Pruner != nil && c.opts.Retention > 0 {
		if err := c.opts.Pruner.Prune(ctx, c.opts.Retention); err != nil {
			logrus.Warnf("Failed to prune processing records: %v", err)
		}
	}

	return nil
}

// Process runs the state machine over a single message and returns its
// terminal state for this pass.
func (c *Coordinator) Process(ctx context.Context, msg models.InboundMessage) (State, error) {
	id := msg.MessageID()

	relevant, err := c.opts.Classifier.Relevant(msg)
	if errors.Is(err, classify.ErrAmbiguous) {
		logrus.Warnf("Message %s from %s is ambiguous, leaving for human review (subject: %s)", id, msg.Sender, msg.Subject)
		c.record(ctx, msg, StateSkipped, "ambiguous classification")
		c.count(StateSkipped)
		return StateSkipped, nil
	}
	if !relevant {
		logrus.Debugf("Message %s not relevant, skipping (subject: %s)", id, msg.Subject)
		c.count(StateSkipped)
		return StateSkipped, nil
	}

	if c.opts.Store.Has(ctx, id) {
		logrus.Debugf("Message %s already processed, skipping", id)
		c.count(StateDeduped)
		return StateDeduped, nil
	}

	key := ResourceKey(msg.Sender, msg.Subject)
	l, err := c.opts.Leases.Acquire(ctx, key, c.opts.HolderID, c.opts.LeaseTTL)
	if errors.Is(err, lease.ErrDenied) {
		logrus.Debugf("Lease on %s held elsewhere, message %s stays pending", key, id)
		c.count(StateLeaseDenied)
		return StateLeaseDenied, nil
	}
	if err != nil {
		c.record(ctx, msg, StateFailed, err.Error())
		c.count(StateFailed)
		return StateFailed, fmt.Errorf("lease acquisition failed: %w", err)
	}

	// Forwarded: the pipeline call can outlast the lease TTL, so keep the
	// lease renewed until the call returns.
	renewCtx, stopRenewal := context.WithCancel(ctx)
	go c.keepLeaseAlive(renewCtx, l)

	payload := classify.ExtractPayload(msg)
	result, pipelineErr := c.opts.Pipeline.Handle(ctx, msg, payload)
	stopRenewal()

	if pipelineErr != nil {
		return c.failPass(ctx, msg, id, l, pipelineErr)
	}

	if err := c.opts.Store.MarkProcessed(ctx, id, idempotency.Outcome{
		Result:       string(StateCommitted),
		DownstreamID: result.DownstreamID,
	}); err != nil {
		if errors.Is(err, idempotency.ErrAlreadyProcessed) {
			// Another worker committed first; their record stands.
			logrus.Debugf("Message %s was committed concurrently", id)
		} else {
			// The handoff ran but the record did not land. Release and
			// let the next scan retry; the downstream must tolerate the
			// duplicate, which is the documented fail-open trade.
			c.releaseLease(ctx, l)
			c.record(ctx, msg, StateFailed, err.Error())
			c.count(StateFailed)
			return StateFailed, fmt.Errorf("commit failed after handoff: %w", err)
		}
	}

	c.releaseLease(ctx, l)
	c.clearAttempts(id)

	c.finishCommit(ctx, msg, result)
	c.record(ctx, msg, StateCommitted, "")
	c.count(StateCommitted)
	return StateCommitted, nil
}

// failPass handles a pipeline failure: release without committing so the
// next scan retries, unless the message has exhausted its attempts, in which
// case it is recorded as abandoned so it can never loop forever.
func (c *Coordinator) failPass(ctx context.Context, msg models.InboundMessage, id string, l *lease.Lease, pipelineErr error) (State, error) {
	attempts := c.bumpAttempts(id)

	if attempts >= c.opts.MaxAttempts {
		logrus.Errorf("Message %s failed %d times, abandoning: %v", id, attempts, pipelineErr)
		if err := c.opts.Store.MarkProcessed(ctx, id, idempotency.Outcome{
			Result: "abandoned",
			Error:  pipelineErr.Error(),
		}); err != nil && !errors.Is(err, idempotency.ErrAlreadyProcessed) {
			logrus.Errorf("Failed to record abandonment of %s: %v", id, err)
		} else {
			c.clearAttempts(id)
			if c.opts.Metrics != nil {
				c.opts.Metrics.Abandoned.Inc()
			}
		}
	}

	c.releaseLease(ctx, l)
	c.record(ctx, msg, StateFailed, pipelineErr.Error())
	c.count(StateFailed)
	return StateFailed, fmt.Errorf("pipeline handoff failed: %w", pipelineErr)
}

// finishCommit runs the best-effort post-commit work: mailbox cleanup and
// the throttled reply. Neither can unwind the committed state.
func (c *Coordinator) finishCommit(ctx context.Context, msg models.InboundMessage, result pipeline.Result) {
	if c.opts.Mutator != nil {
		if err := c.opts.Mutator.MarkHandled(ctx, msg); err != nil {
			logrus.Warnf("Post-commit mailbox cleanup failed for %s: %v", msg.MessageID(), err)
		}
	}

	if c.opts.Replies == nil || result.ResponseText == "" {
		return
	}

	subject := reply.QuoteSubject(msg.Subject)
	body := reply.ComposeBody(result.ResponseText)
	if err := c.opts.Replies.Send(ctx, msg.Sender, subject, body); err != nil {
		if errors.Is(err, reply.ErrThrottled) {
			if c.opts.Metrics != nil {
				c.opts.Metrics.RepliesThrottled.Inc()
			}
			logrus.Warnf("Reply to %s throttled", msg.Sender)
			return
		}
		logrus.Errorf("Failed to send reply to %s: %v", msg.Sender, err)
		return
	}
	if c.opts.Metrics != nil {
		c.opts.Metrics.RepliesSent.Inc()
	}
}

// keepLeaseAlive renews the lease at a third of its TTL until cancelled.
func (c *Coordinator) keepLeaseAlive(ctx context.Context, l *lease.Lease) {
	interval := c.opts.LeaseTTL / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.opts.Leases.Renew(ctx, l, c.opts.LeaseTTL); err != nil {
				if errors.Is(err, lease.ErrDenied) {
					logrus.Warnf("Lost lease on %s during handoff", l.ResourceKey)
					return
				}
				logrus.Warnf("Lease renewal on %s failed: %v", l.ResourceKey, err)
			}
		}
	}
}

func (c *Coordinator) releaseLease(ctx context.Context, l *lease.Lease) {
	if err := c.opts.Leases.Release(ctx, l); err != nil {
		logrus.Warnf("Failed to release lease on %s: %v", l.ResourceKey, err)
	}
}

func (c *Coordinator) bumpAttempts(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[id]++
	return c.attempts[id]
}

func (c *Coordinator) clearAttempts(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, id)
}

func (c *Coordinator) record(ctx context.Context, msg models.InboundMessage, state State, errMsg string) {
	if c.opts.Logs != nil {
		c.opts.Logs.Record(ctx, msg.MessageID(), msg.Sender, state, errMsg)
	}
}

func (c *Coordinator) count(state State) {
	if c.opts.Metrics == nil {
		return
	}
	switch state {
	case StateSkipped:
		c.opts.Metrics.Skipped.Inc()
	case StateDeduped:
		c.opts.Metrics.Deduped.Inc()
	case StateLeaseDenied:
		c.opts.Metrics.LeaseDenied.Inc()
	case StateCommitted:
		c.opts.Metrics.Committed.Inc()
	case StateFailed:
		c.opts.Metrics.Failed.Inc()
	}
}
