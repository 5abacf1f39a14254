package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func stopWithin(t *testing.T, s *Supervisor, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return s.Stop(ctx)
}

func TestGoRecordsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	boom := errors.New("boom")
	s.Go("job:a", func(context.Context) error { return boom })
	s.Go("job:b", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })

	time.Sleep(20 * time.Millisecond)
	err := stopWithin(t, s, time.Second)
	if !errors.Is(err, boom) {
		t.Fatalf("Stop = %v, want wrapped boom", err)
	}
	snap := s.Snapshot()
	if len(snap.Groups) != 1 || snap.Groups[0].Group != "job" || snap.Groups[0].Started != 2 {
		t.Fatalf("groups = %+v", snap.Groups)
	}
	if snap.Counters.Active != 0 {
		t.Fatalf("active = %d after Stop", snap.Counters.Active)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go0("worker", func(context.Context) { panic("bad") })

	select {
	case <-s.Context().Done():
	case <-time.After(time.Second):
		t.Fatalf("panic did not cancel the supervisor")
	}
	if err := stopWithin(t, s, time.Second); err == nil {
		t.Fatalf("expected recorded panic")
	}
	if p := s.Snapshot().Groups[0].Panics; p != 1 {
		t.Fatalf("panics = %d", p)
	}
}

func TestCanceledIsNotAFailure(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error { <-ctx.Done(); return ctx.Err() })
	if err := stopWithin(t, s, time.Second); err != nil {
		t.Fatalf("Stop = %v", err)
	}
}

func TestGoRestartRetriesUntilSuccess(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("dial", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("refused")
		}
		return nil
	}, WithBackoff(time.Millisecond, 5*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if err := stopWithin(t, s, time.Second); err != nil {
		t.Fatalf("Stop = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	for _, g := range s.Snapshot().Groups {
		if g.Group == "dial" && g.Restarts != 2 {
			t.Fatalf("restarts = %d, want 2", g.Restarts)
		}
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		runs.Add(1)
		return errors.New("nope")
	}, WithBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2), WithFatal(true))

	deadline := time.Now().Add(2 * time.Second)
	for s.Err() == nil && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Err() == nil {
		t.Fatalf("expected final error")
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	_ = stopWithin(t, s, time.Second)
}

func TestWaitHonoursDeadline(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	err := stopWithin(t, s, 20*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop = %v, want deadline exceeded", err)
	}
	close(release)
	if err := stopWithin(t, s, time.Second); err != nil {
		t.Fatalf("second Stop = %v", err)
	}
}
