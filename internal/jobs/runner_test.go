package jobs

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"netcore/internal/storage"
	"netcore/internal/task"
	logx "netcore/pkg/logx"
)

func startScheduler(t *testing.T) *task.Scheduler {
	t.Helper()
	s := task.New(task.Config{Interval: time.Millisecond}, logx.Nop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s
}

func counter(n *atomic.Int32) ActionFunc {
	return func(context.Context, Def) error {
		n.Add(1)
		return nil
	}
}

func eventually(t *testing.T, what string, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestIntervalJobRecurs(t *testing.T) {
	t.Parallel()
	s := startScheduler(t)
	r := NewRunner(s, logx.Nop())
	var n atomic.Int32
	r.Register("count", counter(&n))
	r.Start(context.Background(), nil)
	defer r.Stop(context.Background())

	if err := r.Apply([]Def{{Name: "tick", Schedule: "20ms", Action: "count"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	eventually(t, "three runs", 2*time.Second, func() bool { return n.Load() >= 3 })

	st := r.Snapshot()
	if len(st) != 1 || st[0].Kind != KindInterval || st[0].Runs < 3 {
		t.Fatalf("snapshot = %+v", st)
	}
}

func TestApplyRemovesMissingJobs(t *testing.T) {
	t.Parallel()
	s := startScheduler(t)
	r := NewRunner(s, logx.Nop())
	var n atomic.Int32
	r.Register("count", counter(&n))
	r.Start(context.Background(), nil)
	defer r.Stop(context.Background())

	_ = r.Apply([]Def{{Name: "tick", Schedule: "5ms", Action: "count"}})
	eventually(t, "first run", time.Second, func() bool { return n.Load() >= 1 })

	if err := r.Apply(nil); err != nil {
		t.Fatalf("Apply(nil): %v", err)
	}
	eventually(t, "task removal", time.Second, func() bool {
		w, run := s.Len()
		return w == 0 && run == 0
	})
	before := n.Load()
	time.Sleep(50 * time.Millisecond)
	if n.Load() != before {
		t.Fatalf("removed job kept running: %d -> %d", before, n.Load())
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("snapshot not empty")
	}
}

func TestApplyUpsertKeepsUnchanged(t *testing.T) {
	t.Parallel()
	s := task.New(task.Config{}, logx.Nop(), nil)
	r := NewRunner(s, logx.Nop())
	r.Register("count", counter(new(atomic.Int32)))
	r.Start(context.Background(), nil)
	defer r.Stop(context.Background())

	defs := []Def{{Name: "a", Schedule: "1h", Action: "count"}}
	_ = r.Apply(defs)
	first := r.jobs["a"]
	_ = r.Apply(defs)
	if r.jobs["a"] != first {
		t.Fatalf("unchanged job was re-armed")
	}
	_ = r.Apply([]Def{{Name: "a", Schedule: "2h", Action: "count"}})
	if r.jobs["a"] == first {
		t.Fatalf("changed job was not re-armed")
	}
}

func TestRearmRetiresTasksInFlight(t *testing.T) {
	t.Parallel()
	s := task.New(task.Config{}, logx.Nop(), nil)
	r := NewRunner(s, logx.Nop())
	var n atomic.Int32
	r.Register("count", counter(&n))
	r.Start(context.Background(), time.UTC)
	defer r.Stop(context.Background())

	// Runs first in the cycle (lower id) and re-arms every job.
	if _, err := s.Add(func(tk *task.Task, _ ...any) task.Result {
		r.SetLocation(time.FixedZone("UTC+1", 3600))
		return tk.Done()
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Apply([]Def{{Name: "tick", Schedule: "1ms", Action: "count"}}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	s.RunCycle()
	if got := n.Load(); got != 0 {
		t.Fatalf("task from the previous arm ran %d times after re-arm", got)
	}

	time.Sleep(5 * time.Millisecond)
	s.RunCycle()
	if got := n.Load(); got != 1 {
		t.Fatalf("re-armed job ran %d times, want 1", got)
	}
	if w, run := s.Len(); w+run != 1 {
		t.Fatalf("scheduler holds %d tasks, want 1", w+run)
	}
}

func TestValidateAndApplyRejectBadDefs(t *testing.T) {
	t.Parallel()
	r := NewRunner(task.New(task.Config{}, logx.Nop(), nil), logx.Nop())
	r.Register(ActionStats, Stats(func() Traffic { return Traffic{} }, logx.Nop()))

	bad := []Def{
		{Name: "x", Schedule: "nope", Action: ActionStats},
		{Name: "y", Schedule: "1m", Action: "launch-missiles"},
	}
	err := r.Validate(bad)
	if err == nil || !strings.Contains(err.Error(), `"x"`) || !strings.Contains(err.Error(), "launch-missiles") {
		t.Fatalf("Validate = %v", err)
	}
	if err := r.Apply(bad); err == nil {
		t.Fatalf("Apply accepted bad defs")
	}
	if len(r.Snapshot()) != 0 {
		t.Fatalf("bad defs were registered")
	}
	if err := r.Validate([]Def{{Name: "ok", Schedule: "*/5 * * * *", Action: "STATS"}}); err != nil {
		t.Fatalf("Validate good def = %v", err)
	}
}

func TestCronJobRunsThroughScheduler(t *testing.T) {
	t.Parallel()
	s := startScheduler(t)
	r := NewRunner(s, logx.Nop())
	var n atomic.Int32
	r.Register("count", counter(&n))
	_ = r.Apply([]Def{{Name: "every-second", Schedule: "@every 1s", Action: "count"}})
	r.Start(context.Background(), time.UTC)
	defer r.Stop(context.Background())

	st := r.Snapshot()
	if len(st) != 1 || st[0].Kind != KindCron || st[0].Next.IsZero() {
		t.Fatalf("snapshot = %+v", st)
	}
	eventually(t, "cron trigger", 3*time.Second, func() bool { return n.Load() >= 1 })
}

func TestHeartbeatDefaultPayload(t *testing.T) {
	t.Parallel()
	var got []byte
	fn := Heartbeat(func(b []byte) int { got = b; return 3 }, logx.Nop())
	if err := fn(context.Background(), Def{Name: "hb"}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if string(got) != "heartbeat\n" {
		t.Fatalf("payload = %q", got)
	}
	_ = fn(context.Background(), Def{Name: "hb", Payload: "ping\n"})
	if string(got) != "ping\n" {
		t.Fatalf("payload = %q", got)
	}
}

func TestPruneAction(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "j")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	ctx := context.Background()
	now := time.Now()
	_ = st.AppendSession(ctx, storage.SessionRecord{ID: "old", ClosedAt: now.Add(-48 * time.Hour)})
	_ = st.AppendSession(ctx, storage.SessionRecord{ID: "new", ClosedAt: now})

	fn := Prune(st, func() time.Duration { return 24 * time.Hour }, logx.Nop())
	if err := fn(ctx, Def{Name: "prune"}); err != nil {
		t.Fatalf("prune: %v", err)
	}
	left, _ := st.RecentSessions(ctx, 10)
	if len(left) != 1 || left[0].ID != "new" {
		t.Fatalf("left = %+v", left)
	}
	if err := Prune(nil, nil, logx.Nop())(ctx, Def{}); err == nil {
		t.Fatalf("prune without store succeeded")
	}
}
