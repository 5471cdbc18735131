package calsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule syncs every remote calendar every five minutes.
const DefaultSchedule = "@every 5m"

// Scheduler runs SyncAll on a cron schedule.
type Scheduler struct {
	mu     sync.Mutex
	engine *Engine
	spec   string
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger
}

func NewScheduler(engine *Engine, spec string, logger *slog.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSchedule
	}
	return &Scheduler{engine: engine, spec: spec, logger: logger.With("component", "sync-scheduler")}
}

// Start registers the sync job and starts the cron loop. A run that is
// still going when the next one is due is skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.spec, s.RunOnce); err != nil {
		s.cancel()
		return fmt.Errorf("schedule sync %q: %w", s.spec, err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("sync scheduler started", "schedule", s.spec)
	return nil
}

// RunOnce syncs every remote calendar.
func (s *Scheduler) RunOnce() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	n, err := s.engine.SyncAll(ctx)
	if err != nil {
		s.logger.Error("scheduled sync failed", "error", err)
		return
	}
	s.logger.Debug("scheduled sync complete", "calendars", n)
}

// Stop halts the schedule and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	if cancel != nil {
		cancel()
	}
}
