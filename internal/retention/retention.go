// Package retention deletes old runs on a cron schedule.
package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linnemanlabs/go-core/log"
)

// Deleter removes runs created before a cutoff.
type Deleter interface {
	DeleteRunsBefore(ctx context.Context, t time.Time) (int, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Sweeper periodically deletes runs older than maxAge.
type Sweeper struct {
	deleter  Deleter
	schedule cron.Schedule
	spec     string
	maxAge   time.Duration
	logger   log.Logger
	now      func() time.Time
}

// New parses spec, a 5-field cron expression or a descriptor such as
// "@daily", and returns a Sweeper.
func New(spec string, maxAge time.Duration, deleter Deleter, logger log.Logger) (*Sweeper, error) {
	if deleter == nil {
		return nil, errors.New("retention: deleter is required")
	}
	if maxAge <= 0 {
		return nil, fmt.Errorf("retention: max age must be positive, got %s", maxAge)
	}
	spec = strings.TrimSpace(spec)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("retention: invalid schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{
		deleter:  deleter,
		schedule: sched,
		spec:     spec,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Sweep deletes runs created more than maxAge ago.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().UTC().Add(-s.maxAge)
	n, err := s.deleter.DeleteRunsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	s.logger.Info(ctx, "retention sweep complete", "deleted_runs", n, "cutoff", cutoff.Format(time.RFC3339))
	return n, nil
}

// Run sweeps on schedule until ctx is cancelled. Sweep errors are logged
// and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info(ctx, "retention scheduled", "schedule", s.spec, "max_age", s.maxAge.String())

	for {
		now := s.now()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Error(ctx, err, "retention sweep failed")
		}
	}
}
