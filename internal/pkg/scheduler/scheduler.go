// Package scheduler re-runs a job on a single-shot timer.
//
// The timer is armed only after a run returns, so runs never overlap and the
// interval is measured between the end of one run and the start of the next.
// Refresh cancels the pending timer, runs immediately and re-arms.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one scheduled run. ctx is cancelled by Stop.
type Job func(ctx context.Context)

// Scheduler runs a Job now and then every Interval after the previous run completes.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   *slog.Logger

	refreshCh chan struct{}
	inFlight  atomic.Bool
	runs      atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a stopped scheduler.
func New(interval time.Duration, job Job, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", interval)
	}
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		interval:  interval,
		job:       job,
		logger:    logger.With("component", "scheduler"),
		refreshCh: make(chan struct{}, 1),
	}, nil
}

// Start runs the job immediately and keeps re-arming until Stop or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop cancels the pending timer, cancels a running job's context and waits
// for it to return. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Refresh requests an immediate run. Requests made while a run is in flight
// coalesce into a single follow-up run.
func (s *Scheduler) Refresh() {
	select {
	case s.refreshCh <- struct{}{}:
	default:
	}
}

// InFlight reports whether the job is running.
func (s *Scheduler) InFlight() bool {
	return s.inFlight.Load()
}

// Runs returns the number of completed runs.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Interval returns the re-arm interval.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.refreshCh:
			timer.Stop()
		case <-timer.C:
		}

		s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		timer.Reset(s.interval)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer s.inFlight.Store(false)
	defer s.runs.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled job panicked", "panic", r)
		}
	}()
	s.job(ctx)
}
