package app

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/yourusername/media-fetch-go/internal/domain"
)

// scheduleParser accepts standard five-field specs and descriptors such as
// "@daily" or "@every 6h"
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper deletes finished jobs past their retention
type Sweeper interface {
	CleanupOlderThan(days int) CleanupResult
}

// RetentionScheduler runs the retention sweep at startup and on a cron schedule
type RetentionScheduler struct {
	sweeper Sweeper
	config  domain.RetentionConfig
	logger  *zap.Logger
	cron    *cron.Cron

	mu      sync.Mutex
	started bool
}

// NewRetentionScheduler creates a scheduler for config.SweepSchedule
func NewRetentionScheduler(sweeper Sweeper, config domain.RetentionConfig, logger *zap.Logger) *RetentionScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLog := &cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLogger(cronLog),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	return &RetentionScheduler{
		sweeper: sweeper,
		config:  config,
		logger:  logger,
		cron:    c,
	}
}

// Start runs the startup sweep, when enabled, and schedules periodic sweeps
func (s *RetentionScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if s.config.Days <= 0 {
		s.logger.Info("Retention disabled")
		return nil
	}

	if s.config.SweepOnStartup {
		s.Sweep()
	}

	if s.config.SweepSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.SweepSchedule, s.Sweep); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", s.config.SweepSchedule, err)
		}
		s.cron.Start()
		s.logger.Info("Retention sweep scheduled",
			zap.String("schedule", s.config.SweepSchedule),
			zap.Int("days", s.config.Days))
	}
	s.started = true
	return nil
}

// Sweep deletes finished jobs older than the retention threshold
func (s *RetentionScheduler) Sweep() {
	result := s.sweeper.CleanupOlderThan(s.config.Days)
	s.logger.Info("Retention sweep finished",
		zap.Int("deleted", result.DeletedCount),
		zap.Int64("freed_bytes", result.FreedBytes))
}

// Stop waits for a running sweep and stops the schedule
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
