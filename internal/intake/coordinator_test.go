package intake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-mail-intake-go/internal/classify"
	"task-mail-intake-go/internal/idempotency"
	"task-mail-intake-go/internal/lease"
	"task-mail-intake-go/internal/models"
	"task-mail-intake-go/internal/pipeline"
)

type stubScanner struct {
	mu        sync.Mutex
	msgs      []models.InboundMessage
	lastSince time.Time
	scans     int
}

func (s *stubScanner) Scan(_ context.Context, since time.Time) ([]models.InboundMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scans++
	s.lastSince = since
	return s.msgs, nil
}

func (s *stubScanner) Close() error { return nil }

type stubPipeline struct {
	mu     sync.Mutex
	calls  int
	handle func(msg models.InboundMessage, payload string) (pipeline.Result, error)
}

func (p *stubPipeline) Handle(_ context.Context, msg models.InboundMessage, payload string) (pipeline.Result, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.handle != nil {
		return p.handle(msg, payload)
	}
	return pipeline.Result{Complete: true, DownstreamID: "thread-1"}, nil
}

func (p *stubPipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type countingStore struct {
	inner     *idempotency.MemoryStore
	hasCalls  int
	markCalls int
}

func (s *countingStore) Has(ctx context.Context, id string) bool {
	s.hasCalls++
	return s.inner.Has(ctx, id)
}

func (s *countingStore) MarkProcessed(ctx context.Context, id string, outcome idempotency.Outcome) error {
	s.markCalls++
	return s.inner.MarkProcessed(ctx, id, outcome)
}

type countingLeases struct {
	inner    *lease.MemoryManager
	acquires int
}

func (m *countingLeases) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*lease.Lease, error) {
	m.acquires++
	return m.inner.Acquire(ctx, key, holder, ttl)
}

func (m *countingLeases) Renew(ctx context.Context, l *lease.Lease, ttl time.Duration) (*lease.Lease, error) {
	return m.inner.Renew(ctx, l, ttl)
}

func (m *countingLeases) Release(ctx context.Context, l *lease.Lease) error {
	return m.inner.Release(ctx, l)
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
	keep  int
}

func (p *countingPruner) Prune(_ context.Context, keep int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.keep = keep
	return nil
}

type recordedState struct {
	messageID string
	state     State
	errMsg    string
}

type stateRecorder struct {
	mu      sync.Mutex
	entries []recordedState
}

func (r *stateRecorder) Record(_ context.Context, messageID, _ string, state State, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, recordedState{messageID: messageID, state: state, errMsg: errMsg})
}

func taskMessage(subject string, arrival time.Time) models.InboundMessage {
	return models.InboundMessage{
		Sender:      "customer@example.com",
		Subject:     subject,
		Body:        "Please handle this.",
		ArrivalTime: arrival,
	}
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Scanner == nil {
		opts.Scanner = &stubScanner{}
	}
	if opts.Store == nil {
		opts.Store = idempotency.NewMemoryStore()
	}
	if opts.Leases == nil {
		opts.Leases = lease.NewMemoryManager()
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.NewClassifier(classify.DefaultPredicates()...)
	}
	if opts.Pipeline == nil {
		opts.Pipeline = &stubPipeline{}
	}
	c, err := NewCoordinator(opts)
	require.NoError(t, err)
	return c
}

func TestIrrelevantMessageShortCircuits(t *testing.T) {
	store := &countingStore{inner: idempotency.NewMemoryStore()}
	leases := &countingLeases{inner: lease.NewMemoryManager()}
	p := &stubPipeline{}

	c := newTestCoordinator(t, Options{Store: store, Leases: leases, Pipeline: p})

	state, err := c.Process(context.Background(), models.InboundMessage{
		Sender:      "news@example.com",
		Subject:     "Weekly Newsletter",
		Body:        "This week in gardening.",
		ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, state)

	assert.Equal(t, 0, store.hasCalls)
	assert.Equal(t, 0, store.markCalls)
	assert.Equal(t, 0, leases.acquires)
	assert.Equal(t, 0, p.callCount())
}

func TestDuplicateSkipsPipeline(t *testing.T) {
	store := idempotency.NewMemoryStore()
	p := &stubPipeline{}
	c := newTestCoordinator(t, Options{Store: store, Pipeline: p})

	msg := taskMessage("Task: repaint the fence", time.Now())
	require.NoError(t, store.MarkProcessed(context.Background(), msg.MessageID(), idempotency.Outcome{Result: "committed"}))

	state, err := c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateDeduped, state)
	assert.Equal(t, 0, p.callCount())
}

func TestCommittedMessageIsIdempotent(t *testing.T) {
	store := idempotency.NewMemoryStore()
	p := &stubPipeline{}
	c := newTestCoordinator(t, Options{Store: store, Pipeline: p})

	msg := taskMessage("Task: repaint the fence", time.Now())

	state, err := c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, state)

	outcome, ok := store.Outcome(msg.MessageID())
	require.True(t, ok)
	assert.Equal(t, "committed", outcome.Result)
	assert.Equal(t, "thread-1", outcome.DownstreamID)

	// A rescan of the same message never reaches the pipeline again.
	state, err = c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateDeduped, state)
	assert.Equal(t, 1, p.callCount())
}

func TestPipelineFailureRetriedOnNextScan(t *testing.T) {
	store := idempotency.NewMemoryStore()
	var failuresLeft = 1
	p := &stubPipeline{handle: func(models.InboundMessage, string) (pipeline.Result, error) {
		if failuresLeft > 0 {
			failuresLeft--
			return pipeline.Result{}, errors.New("agent unavailable")
		}
		return pipeline.Result{Complete: true, DownstreamID: "thread-9"}, nil
	}}
	c := newTestCoordinator(t, Options{Store: store, Pipeline: p, MaxAttempts: 3})

	msg := taskMessage("Task: repaint the fence", time.Now())

	state, err := c.Process(context.Background(), msg)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, state)
	assert.False(t, store.Has(context.Background(), msg.MessageID()))

	// The failed pass released the lease, so the retry goes straight through.
	state, err = c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, state)
	assert.Equal(t, 2, p.callCount())

	outcome, ok := store.Outcome(msg.MessageID())
	require.True(t, ok)
	assert.Equal(t, "thread-9", outcome.DownstreamID)
}

func TestAbandonAfterMaxAttempts(t *testing.T) {
	store := idempotency.NewMemoryStore()
	p := &stubPipeline{handle: func(models.InboundMessage, string) (pipeline.Result, error) {
		return pipeline.Result{}, errors.New("agent unavailable")
	}}
	recorder := &stateRecorder{}
	c := newTestCoordinator(t, Options{Store: store, Pipeline: p, Logs: recorder, MaxAttempts: 2})

	msg := taskMessage("Task: repaint the fence", time.Now())

	state, err := c.Process(context.Background(), msg)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, state)
	assert.False(t, store.Has(context.Background(), msg.MessageID()))

	// The second failure exhausts the budget and records abandonment.
	state, err = c.Process(context.Background(), msg)
	assert.Error(t, err)
	assert.Equal(t, StateFailed, state)

	outcome, ok := store.Outcome(msg.MessageID())
	require.True(t, ok)
	assert.Equal(t, "abandoned", outcome.Result)
	assert.Contains(t, outcome.Error, "agent unavailable")

	// Abandoned means processed: the next scan dedups it.
	state, err = c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateDeduped, state)
	assert.Equal(t, 2, p.callCount())
}

func TestLeaseDeniedLeavesMessagePending(t *testing.T) {
	store := idempotency.NewMemoryStore()
	leases := lease.NewMemoryManager()
	p := &stubPipeline{}
	c := newTestCoordinator(t, Options{Store: store, Leases: leases, Pipeline: p})

	msg := taskMessage("Task: repaint the fence", time.Now())
	key := ResourceKey(msg.Sender, msg.Subject)
	_, err := leases.Acquire(context.Background(), key, "other-worker", time.Minute)
	require.NoError(t, err)

	state, err := c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateLeaseDenied, state)
	assert.Equal(t, 0, p.callCount())
	assert.False(t, store.Has(context.Background(), msg.MessageID()))
}

func TestAmbiguousMessageSkippedAndLogged(t *testing.T) {
	recorder := &stateRecorder{}
	p := &stubPipeline{}
	c := newTestCoordinator(t, Options{Pipeline: p, Logs: recorder})

	state, err := c.Process(context.Background(), models.InboundMessage{
		Sender:      "customer@example.com",
		Subject:     "Automatic reply: your new task",
		Body:        "I am out of office until Monday.",
		ArrivalTime: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, StateSkipped, state)
	assert.Equal(t, 0, p.callCount())

	require.Len(t, recorder.entries, 1)
	assert.Equal(t, StateSkipped, recorder.entries[0].state)
	assert.Equal(t, "ambiguous classification", recorder.entries[0].errMsg)
}

func TestPipelineReceivesExtractedPayload(t *testing.T) {
	var gotPayload string
	p := &stubPipeline{handle: func(_ models.InboundMessage, payload string) (pipeline.Result, error) {
		gotPayload = payload
		return pipeline.Result{Complete: true}, nil
	}}
	c := newTestCoordinator(t, Options{Pipeline: p})

	msg := models.InboundMessage{
		Sender:      "customer@example.com",
		Subject:     "Re: Task: repaint the fence",
		Body:        "The budget is 400 euros.\n\n> What is your budget?\n> Please reply to this email with your response.\n",
		ArrivalTime: time.Now(),
	}

	state, err := c.Process(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, StateCommitted, state)
	assert.Equal(t, "The budget is 400 euros.", gotPayload)
}

func TestCycleWatermarkStopsAtFirstPendingMessage(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	first := taskMessage("Task: one", base)
	second := taskMessage("Task: two", base.Add(time.Minute))
	third := taskMessage("Task: three", base.Add(2*time.Minute))

	scn := &stubScanner{msgs: []models.InboundMessage{third, first, second}}
	p := &stubPipeline{handle: func(msg models.InboundMessage, _ string) (pipeline.Result, error) {
		if msg.Subject == "Task: two" {
			return pipeline.Result{}, errors.New("agent unavailable")
		}
		return pipeline.Result{Complete: true}, nil
	}}
	c := newTestCoordinator(t, Options{Scanner: scn, Pipeline: p, MaxAttempts: 5})

	require.NoError(t, c.Cycle(context.Background()))

	// Message two failed, so the watermark may pass message one but not two,
	// even though message three committed.
	assert.True(t, c.Watermark().Equal(first.ArrivalTime), "watermark %v, want %v", c.Watermark(), first.ArrivalTime)

	// The next scan starts from the watermark and picks the stragglers up.
	require.NoError(t, c.Cycle(context.Background()))
	assert.True(t, scn.lastSince.Equal(first.ArrivalTime))
}

func TestCycleAdvancesWatermarkWhenAllCommitted(t *testing.T) {
	base := time.Now().Add(-time.Hour)
	first := taskMessage("Task: one", base)
	second := taskMessage("Task: two", base.Add(time.Minute))

	scn := &stubScanner{msgs: []models.InboundMessage{first, second}}
	c := newTestCoordinator(t, Options{Scanner: scn})

	require.NoError(t, c.Cycle(context.Background()))
	assert.True(t, c.Watermark().Equal(second.ArrivalTime))
}

func TestCyclePrunesProcessingRecords(t *testing.T) {
	pruner := &countingPruner{}
	c := newTestCoordinator(t, Options{Pruner: pruner, Retention: 1000})

	require.NoError(t, c.Cycle(context.Background()))
	assert.Equal(t, 1, pruner.calls)
	assert.Equal(t, 1000, pruner.keep)

	require.NoError(t, c.Cycle(context.Background()))
	assert.Equal(t, 2, pruner.calls)
}

func TestCycleSkipsPruningWhenRetentionDisabled(t *testing.T) {
	pruner := &countingPruner{}
	c := newTestCoordinator(t, Options{Pruner: pruner})

	require.NoError(t, c.Cycle(context.Background()))
	assert.Equal(t, 0, pruner.calls)
}

func TestResourceKeyJoinsReplyThread(t *testing.T) {
	base := ResourceKey("Customer@Example.com", "Task: repaint the fence")
	assert.Equal(t, base, ResourceKey("customer@example.com", "Re: Task: repaint the fence"))
	assert.Equal(t, base, ResourceKey("customer@example.com", "RE: re: Task: repaint the fence"))
	assert.NotEqual(t, base, ResourceKey("customer@example.com", "Task: mow the lawn"))
	assert.NotEqual(t, base, ResourceKey("other@example.com", "Task: repaint the fence"))
}
