package price_comparison

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/archon-research/lendview/internal/pkg/scheduler"
)

// Start runs a comparison of loansFn's loans immediately and then again
// RefreshInterval after each cycle completes, until Stop or ctx is done.
func (s *Service) Start(ctx context.Context, loansFn LoansFunc) error {
	if loansFn == nil {
		return fmt.Errorf("loans func cannot be nil")
	}

	s.schedMu.Lock()
	defer s.schedMu.Unlock()
	if s.sched != nil {
		return fmt.Errorf("price comparison already started")
	}

	sched, err := scheduler.New(s.config.RefreshInterval, func(ctx context.Context) {
		s.runCycle(ctx, loansFn)
	}, s.logger)
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	s.sched = sched

	s.logger.Info("price comparison started", "refreshInterval", s.config.RefreshInterval)
	return nil
}

// Stop cancels the timer and waits for an in-flight cycle to return.
// No snapshot is published after Stop returns.
func (s *Service) Stop() error {
	s.schedMu.Lock()
	sched := s.sched
	s.sched = nil
	s.schedMu.Unlock()
	if sched == nil {
		return nil
	}
	sched.Stop()

	s.subsMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subsMu.Unlock()

	s.logger.Info("price comparison stopped")
	return nil
}

// Refresh requests an immediate cycle. The pending timer is cancelled and
// re-armed after the cycle. Requests made while a cycle runs coalesce into one.
func (s *Service) Refresh() {
	s.schedMu.Lock()
	sched := s.sched
	s.schedMu.Unlock()
	if sched != nil {
		sched.Refresh()
	}
}

// runCycle runs one guarded cycle and publishes its outcome.
func (s *Service) runCycle(ctx context.Context, loansFn LoansFunc) {
	start := time.Now()
	result, err := s.cycle(ctx, loansFn)
	if ctx.Err() != nil {
		return
	}

	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("price comparison cycle failed", "error", err)
		result = s.failedResult(err)
	} else {
		s.mu.Lock()
		s.lastSuccess = s.config.Now()
		s.mu.Unlock()
		s.logger.Debug("price comparison cycle completed",
			"loans", len(result.Loans),
			"feeds", len(result.Prices),
			"duration", time.Since(start))
	}

	if s.config.Metrics != nil {
		s.config.Metrics.RecordRefresh(ctx, time.Since(start), status)
	}
	s.publish(result)
}

func (s *Service) cycle(ctx context.Context, loansFn LoansFunc) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("loan source panicked: %v", r)
		}
	}()

	loans, err := loansFn(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading loans: %w", err)
	}
	return s.Compare(ctx, loans, s.config.Options)
}

// failedResult keeps the previous views visible alongside the error.
func (s *Service) failedResult(err error) *Result {
	s.mu.RLock()
	prev := s.latest
	s.mu.RUnlock()

	res := &Result{Error: err.Error(), UpdatedAt: s.config.Now().Unix()}
	if prev != nil {
		res.Loans = prev.Loans
		res.Stats = prev.Stats
		res.Prices = prev.Prices
	}
	return res
}

func (s *Service) publish(result *Result) {
	s.mu.Lock()
	s.latest = result
	s.mu.Unlock()

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, ch := range s.subs {
		select {
		case ch <- result:
		default:
			s.logger.Warn("subscriber lagging, dropping snapshot", "subscriber", id)
		}
	}
}

// Latest returns the last published result, or nil before the first cycle.
func (s *Service) Latest() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Subscribe registers a subscriber. The current result, if any, is delivered first.
func (s *Service) Subscribe() (uuid.UUID, <-chan *Result) {
	id := uuid.New()
	ch := make(chan *Result, s.config.SubscriberBuffer)
	if latest := s.Latest(); latest != nil {
		ch <- latest
	}

	s.subsMu.Lock()
	s.subs[id] = ch
	s.subsMu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id uuid.UUID) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// IsReady reports whether a result has been published.
func (s *Service) IsReady() bool {
	return s.Latest() != nil
}

// IsHealthy reports whether a cycle succeeded within three refresh intervals.
func (s *Service) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSuccess.IsZero() {
		return s.latest == nil
	}
	return s.config.Now().Sub(s.lastSuccess) < 3*s.config.RefreshInterval
}
