// Package schedule runs named periodic tasks on a cron scheduler.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"memo-sync/pkg/logger"
)

// Scheduler runs each task at a fixed interval. A run that is still going
// when the next tick arrives causes that tick to be skipped, and panics are
// recovered and logged.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

func New(lg *zap.Logger) *Scheduler {
	lg = logger.OrNop(lg)
	cl := cronLogger{lg.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: lg,
	}
}

// Every registers fn under name to run every interval. Intervals below one
// second are rounded up by the underlying scheduler.
func (s *Scheduler) Every(name string, interval time.Duration, fn func(ctx context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("schedule %s: interval must be positive", name)
	}

	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := fn(context.Background()); err != nil {
			s.logger.Debug("task finished with error", zap.String("task", name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts future runs and waits for running ones to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
