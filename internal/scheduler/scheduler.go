// Package scheduler runs periodic maintenance jobs such as the push-auth
// de-authentication sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/tippic/tippic_server/internal/lock"
)

// Sweeper is implemented by the push-auth service.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Scheduler wraps a cron runner. Jobs run under a named lock so that only
// one worker process executes a tick.
type Scheduler struct {
	cron    *cron.Cron
	scope   *lock.Scope
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a scheduler. Overlapping runs of the same job are skipped.
func New(scope *lock.Scope, timeout time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		scope:   scope,
		timeout: timeout,
		logger:  logger.With(zap.String("component", "scheduler")),
	}
}

// AddSweep schedules sweeper on spec, e.g. "@every 10s".
func (s *Scheduler) AddSweep(spec string, sweeper Sweeper) error {
	return s.Add("pushauth-sweep", spec, func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx, time.Now().UTC())
		return err
	})
}

// Add schedules fn under name.
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(spec, func() { s.run(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) run(name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	err := s.scope.WithLock(ctx, lock.Name("job", name), s.timeout, fn)
	switch {
	case errors.Is(err, lock.ErrBusy):
		s.logger.Debug("job running elsewhere, skipping", zap.String("job", name))
	case err != nil:
		s.logger.Error("job failed", zap.String("job", name), zap.Error(err))
	default:
		s.logger.Debug("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out")
	}
}

type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
