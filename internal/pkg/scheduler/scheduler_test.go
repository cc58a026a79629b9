package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func waitRuns(t *testing.T, s *Scheduler, n int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.Runs() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d runs, got %d", n, s.Runs())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(0, func(context.Context) {}, nil); err == nil {
		t.Error("expected error for zero interval")
	}
	if _, err := New(time.Second, nil, nil); err == nil {
		t.Error("expected error for nil job")
	}
}

func TestStart_RunsImmediatelyThenOnInterval(t *testing.T) {
	var calls atomic.Int32
	s, err := New(10*time.Millisecond, func(context.Context) { calls.Add(1) }, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitRuns(t, s, 3)
	if err := s.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestRefresh_RunsWithoutWaitingForTimer(t *testing.T) {
	s, err := New(time.Hour, func(context.Context) {}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitRuns(t, s, 1)
	s.Refresh()
	waitRuns(t, s, 2)
}

func TestRefresh_CoalescesWhileInFlight(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	s, err := New(time.Hour, func(ctx context.Context) {
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	for !s.InFlight() {
		time.Sleep(time.Millisecond)
	}
	for range 5 {
		s.Refresh()
	}
	close(release)

	waitRuns(t, s, 2)
	time.Sleep(20 * time.Millisecond)
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
}

func TestStop_CancelsRunningJob(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	s, err := New(time.Hour, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	<-started

	s.Stop()
	if !cancelled.Load() {
		t.Error("Stop should wait for the job to observe cancellation")
	}
	s.Stop()
}

func TestRunOnce_RecoversPanics(t *testing.T) {
	var calls atomic.Int32
	s, err := New(time.Hour, func(context.Context) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Stop()

	waitRuns(t, s, 1)
	s.Refresh()
	waitRuns(t, s, 2)
}
