package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeClaimStore struct {
	mu    sync.Mutex
	calls int
	lease time.Duration
	err   error
}

func (s *fakeClaimStore) ReleaseExpiredClaims(_ context.Context, lease time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lease = lease
	return 2, s.err
}

func (s *fakeClaimStore) snapshot() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, s.lease
}

func TestClaimSweeperReleasesOnInterval(t *testing.T) {
	store := &fakeClaimStore{}
	sweeper := NewClaimSweeper(store, quietLogger(), time.Minute)
	sweeper.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for {
		calls, _ := store.snapshot()
		if calls >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("sweeper never ran twice")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done

	_, lease := store.snapshot()
	if lease != time.Minute {
		t.Fatalf("expected lease to pass through, got %v", lease)
	}
}

func TestClaimSweeperSurvivesStoreErrors(t *testing.T) {
	store := &fakeClaimStore{err: errors.New("connection lost")}
	sweeper := NewClaimSweeper(store, quietLogger(), time.Minute)
	sweeper.interval = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sweeper.Start(ctx)

	calls, _ := store.snapshot()
	if calls < 2 {
		t.Fatalf("expected the loop to keep sweeping after errors, got %d calls", calls)
	}
}

func TestClaimSweeperIntervalFloor(t *testing.T) {
	sweeper := NewClaimSweeper(&fakeClaimStore{}, quietLogger(), 100*time.Millisecond)
	if sweeper.interval != time.Second {
		t.Fatalf("expected 1s floor, got %v", sweeper.interval)
	}

	sweeper = NewClaimSweeper(&fakeClaimStore{}, quietLogger(), 10*time.Minute)
	if sweeper.interval != 5*time.Minute {
		t.Fatalf("expected half the lease, got %v", sweeper.interval)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	if _, err := NewScheduler("not a cron spec", func() {}, quietLogger()); err == nil {
		t.Fatalf("expected an error for an invalid spec")
	}
}

func TestSchedulerFiresAndStops(t *testing.T) {
	var runs atomic.Int64
	scheduler, err := NewScheduler("@every 20ms", func() { runs.Add(1) }, quietLogger())
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	scheduler.Start()
	deadline := time.After(time.Second)
	for runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("scheduled run never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}
	scheduler.Stop()

	after := runs.Load()
	time.Sleep(50 * time.Millisecond)
	if runs.Load() != after {
		t.Fatalf("scheduler kept firing after Stop")
	}
}
