package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"task-mail-intake-go/internal/classify"
	"task-mail-intake-go/internal/config"
	"task-mail-intake-go/internal/idempotency"
	"task-mail-intake-go/internal/intake"
	"task-mail-intake-go/internal/lease"
	"task-mail-intake-go/internal/models"
	"task-mail-intake-go/internal/pipeline"
	"task-mail-intake-go/internal/scanner"
)

type emptyScanner struct{ scans int }

func (s *emptyScanner) Scan(context.Context, time.Time) ([]models.InboundMessage, error) {
	s.scans++
	return nil, nil
}

func (s *emptyScanner) Close() error { return nil }

type slowScanner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	scans   int
}

func (s *slowScanner) Scan(context.Context, time.Time) ([]models.InboundMessage, error) {
	s.mu.Lock()
	s.active++
	s.scans++
	if s.active > s.maxSeen {
		s.maxSeen = s.active
	}
	s.mu.Unlock()

	time.Sleep(1500 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()
	return nil, nil
}

func (s *slowScanner) Close() error { return nil }

type noopPipeline struct{}

func (noopPipeline) Handle(context.Context, models.InboundMessage, string) (pipeline.Result, error) {
	return pipeline.Result{Complete: true}, nil
}

func newTestScheduler(t *testing.T, scn scanner.Scanner, pollSeconds int) *Scheduler {
	t.Helper()
	coordinator, err := intake.NewCoordinator(intake.Options{
		Scanner:    scn,
		Store:      idempotency.NewMemoryStore(),
		Leases:     lease.NewMemoryManager(),
		Classifier: classify.NewClassifier(classify.DefaultPredicates()...),
		Pipeline:   noopPipeline{},
	})
	require.NoError(t, err)

	return NewScheduler(&config.IntakeConfig{PollIntervalSeconds: pollSeconds}, coordinator)
}

func TestSchedulerRestart(t *testing.T) {
	sched := newTestScheduler(t, &emptyScanner{}, 30)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.Error(t, sched.Start(), "double start must fail")

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	require.NoError(t, sched.Stop(), "stopping a stopped scheduler is a no-op")
}

func TestSchedulerNextRunOnlyWhileRunning(t *testing.T) {
	sched := newTestScheduler(t, &emptyScanner{}, 30)

	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.False(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Stop())
	assert.True(t, sched.GetNextRun().IsZero())
}

func TestRunOnceTriggersScan(t *testing.T) {
	scn := &emptyScanner{}
	sched := newTestScheduler(t, scn, 30)

	require.NoError(t, sched.RunOnce())
	assert.Equal(t, 1, scn.scans)
}

func TestOverlappingCyclesAreSkipped(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	// Each scan takes 1.5s while the poll fires every second, so without
	// the overlap guard two cycles would run at once.
	scn := &slowScanner{}
	sched := newTestScheduler(t, scn, 1)

	require.NoError(t, sched.Start())
	time.Sleep(3200 * time.Millisecond)
	require.NoError(t, sched.Stop())
	sched.Wait()

	scn.mu.Lock()
	defer scn.mu.Unlock()
	assert.GreaterOrEqual(t, scn.scans, 1)
	assert.Equal(t, 1, scn.maxSeen)
}
