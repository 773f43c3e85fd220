// Package scheduler runs the periodic retention cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/emitt/replyd/internal/config"
	"github.com/emitt/replyd/internal/metrics"
	"github.com/emitt/replyd/internal/storage"
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// Cleaner removes stored data older than a number of days.
type Cleaner interface {
	CleanupOldData(ctx context.Context, days int) (*storage.CleanupResult, error)
	LogActivity(ctx context.Context, activityType, level string, details map[string]any) error
}

// Scheduler runs the cleanup job on a cron schedule
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	cfg     *config.CleanupConfig
	store   Cleaner
	metrics *metrics.Metrics
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	isRunning bool

	// unix nanoseconds; kept off mu so a job can finish while Stop waits
	lastRun atomic.Int64
}

// NewScheduler creates a new scheduler. m may be nil.
func NewScheduler(cfg *config.CleanupConfig, store Cleaner, m *metrics.Metrics, logger zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(),
		cfg:     cfg,
		store:   store,
		metrics: m,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start schedules the cleanup job.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return ErrAlreadyRunning
	}

	entryID, err := s.cron.AddFunc(s.cfg.Schedule, s.RunOnce)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Int("retain_days", s.cfg.RetainDays).
		Msg("Scheduler started")
	return nil
}

// Stop stops the scheduler and waits up to 30s for a running job.
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
		s.logger.Info().Msg("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		s.logger.Warn().Msg("Scheduler stop timeout, forcing shutdown")
	}

	s.cron.Remove(s.entryID)
	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// NextRun returns the next scheduled run, zero when stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// LastRun returns when the job last finished.
func (s *Scheduler) LastRun() time.Time {
	n := s.lastRun.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// RunOnce performs one cleanup pass.
func (s *Scheduler) RunOnce() {
	start := time.Now()

	result, err := s.store.CleanupOldData(s.ctx, s.cfg.RetainDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("Cleanup failed")
		return
	}

	if s.metrics != nil {
		s.metrics.CleanedEmails.Add(float64(result.CleanedEmails))
	}

	if err := s.store.LogActivity(s.ctx, "data_cleanup", "info", map[string]any{
		"days":             s.cfg.RetainDays,
		"cleaned_emails":   result.CleanedEmails,
		"cleaned_logs":     result.CleanedLogs,
		"remaining_emails": result.RemainingEmails,
		"remaining_logs":   result.RemainingLogs,
		"trigger":          "schedule",
	}); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to log activity")
	}

	s.lastRun.Store(time.Now().UnixNano())

	s.logger.Info().
		Int("cleaned_emails", result.CleanedEmails).
		Int("cleaned_logs", result.CleanedLogs).
		Dur("duration", time.Since(start)).
		Msg("Cleanup completed")
}
