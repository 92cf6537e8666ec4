package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"task-mail-intake-go/internal/config"
	"task-mail-intake-go/internal/intake"
)

// Scheduler drives the intake coordinator on a fixed poll interval.
type Scheduler struct {
	cron        *cron.Cron
	entryID     cron.EntryID
	config      *config.IntakeConfig
	coordinator *intake.Coordinator
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	isRunning   bool
	mu          sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.IntakeConfig, coordinator *intake.Coordinator) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	// A cycle that outlasts the poll interval must not overlap the next
	// one; the IMAP client serves one command at a time.
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logrus.StandardLogger()))),
	)

	return &Scheduler{
		cron:        c,
		config:      cfg,
		coordinator: coordinator,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	schedule := fmt.Sprintf("*/%d * * * * *", s.config.PollIntervalSeconds)

	entryID, err := s.cron.AddFunc(schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with poll interval: %d seconds", s.config.PollIntervalSeconds)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	s.cancel()

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runCycle is the periodic job body.
func (s *Scheduler) runCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping intake cycle")
		return
	}
	s.mu.RUnlock()

	logrus.Info("Starting intake cycle")
	startTime := time.Now()

	if err := s.coordinator.Cycle(s.ctx); err != nil {
		logrus.Errorf("Intake cycle failed: %v", err)
		return
	}

	logrus.Infof("Intake cycle completed in %v", time.Since(startTime))
}

// RunOnce runs the intake cycle once (for manual triggering)
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running intake cycle once")
	return s.coordinator.Cycle(s.ctx)
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last run
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for any in-flight cycle to finish
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
