package task

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logx "netcore/pkg/logx"
)

func newTestScheduler() *Scheduler {
	return New(Config{Interval: time.Millisecond}, logx.Nop(), nil)
}

func assertExclusive(t *testing.T, s *Scheduler) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, tk := range s.waiting {
		if _, dup := s.running[name]; dup {
			t.Fatalf("task %s present in both registries", name)
		}
		if !tk.active {
			t.Fatalf("task %s tracked but inactive", name)
		}
	}
	for name, tk := range s.running {
		if !tk.active {
			t.Fatalf("task %s tracked but inactive", name)
		}
	}
}

func TestAddPlacesTaskInWaiting(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	tk, err := s.Add(func(t *Task, _ ...any) Result { return Done })
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if tk.Name() != "Task-1" {
		t.Fatalf("Name = %q, want Task-1", tk.Name())
	}
	if w, r := s.Len(); w != 1 || r != 0 {
		t.Fatalf("Len = (%d,%d), want (1,0)", w, r)
	}
	tk2, _ := s.Add(func(t *Task, _ ...any) Result { return Done })
	if tk2.ID() != tk.ID()+1 {
		t.Fatalf("ids not monotonic: %d then %d", tk.ID(), tk2.ID())
	}
}

func TestIDsAreScopedPerScheduler(t *testing.T) {
	t.Parallel()
	a, b := newTestScheduler(), newTestScheduler()
	ta, _ := a.Add(func(t *Task, _ ...any) Result { return Done })
	tb, _ := b.Add(func(t *Task, _ ...any) Result { return Done })
	if ta.ID() != 1 || tb.ID() != 1 {
		t.Fatalf("expected independent counters, got %d and %d", ta.ID(), tb.ID())
	}
}

func TestActivationErrors(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	tk, _ := s.Add(func(t *Task, _ ...any) Result { return Cont })

	err := s.Activate(tk)
	if !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("double Activate err = %v, want ErrAlreadyActive", err)
	}
	var ae *ActivationError
	if !errors.As(err, &ae) || ae.Op != "activate" || ae.Name != tk.Name() {
		t.Fatalf("unexpected activation error: %#v", err)
	}

	if err := s.Remove(tk); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Deactivate(tk, false); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Deactivate untracked err = %v, want ErrNotActive", err)
	}
	if err := s.Cycle(tk); !IsActivationError(err) {
		t.Fatalf("Cycle untracked err = %v, want activation error", err)
	}
	if _, err := s.Add(nil); !errors.Is(err, ErrNotCallable) {
		t.Fatalf("Add(nil) err = %v, want ErrNotCallable", err)
	}
}

func TestDoneRemovesAndDestroys(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var calls int
	tk, _ := s.Add(func(t *Task, _ ...any) Result {
		calls++
		return t.Done()
	})
	name := tk.Name()
	for i := 0; i < 5; i++ {
		s.RunCycle()
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if s.Has(name) {
		t.Fatalf("task %s still tracked after Done", name)
	}
	if !tk.Destroyed() || tk.fn != nil || tk.args != nil {
		t.Fatal("expected bound state cleared after Done")
	}
}

func TestUnknownResultTreatedAsDone(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var calls int
	s.Add(func(t *Task, _ ...any) Result {
		calls++
		return Result(42)
	})
	s.RunCycle()
	s.RunCycle()
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	if w, r := s.Len(); w+r != 0 {
		t.Fatalf("registries not empty: (%d,%d)", w, r)
	}
}

func TestContRunsEveryCycle(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var calls int
	tk, _ := s.Add(func(t *Task, args ...any) Result {
		calls++
		if args[0].(string) != "x" {
			panic("args not captured")
		}
		return Cont
	}, "x")
	for i := 0; i < 4; i++ {
		s.RunCycle()
		s.mu.Lock()
		_, inWaiting := s.waiting[tk.Name()]
		s.mu.Unlock()
		if !inWaiting {
			t.Fatalf("cycle %d: Cont task should be re-queued into waiting", i)
		}
	}
	if calls != 4 {
		t.Fatalf("calls = %d, want 4", calls)
	}
}

func TestCycleBoundary(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var childCalls int
	s.Add(func(tk *Task, _ ...any) Result {
		s.Add(func(*Task, ...any) Result {
			childCalls++
			return Done
		})
		return Done
	})
	s.RunCycle()
	if childCalls != 0 {
		t.Fatal("task scheduled during a cycle ran in the same cycle")
	}
	s.RunCycle()
	if childCalls != 1 {
		t.Fatalf("childCalls = %d, want 1", childCalls)
	}
}

func TestTaskCanRemoveAnother(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var victimCalls int
	var victim *Task
	s.Add(func(tk *Task, _ ...any) Result {
		if err := s.Remove(victim); err != nil {
			panic(err)
		}
		return Done
	})
	victim, _ = s.Add(func(*Task, ...any) Result {
		victimCalls++
		return Cont
	})
	s.RunCycle()
	s.RunCycle()
	if victimCalls != 0 {
		t.Fatalf("removed task ran %d times", victimCalls)
	}
	if w, r := s.Len(); w+r != 0 {
		t.Fatalf("registries not empty: (%d,%d)", w, r)
	}
}

func TestDelayHonoredForCont(t *testing.T) {
	t.Parallel()
	const delay = 40 * time.Millisecond
	s := newTestScheduler()
	var stamps []time.Time
	start := time.Now()
	s.AddWithDelay(delay, func(*Task, ...any) Result {
		stamps = append(stamps, time.Now())
		return Cont
	})
	for time.Since(start) < 300*time.Millisecond {
		s.RunCycle()
		time.Sleep(time.Millisecond)
	}
	if len(stamps) < 3 {
		t.Fatalf("expected several invocations, got %d", len(stamps))
	}
	if first := stamps[0].Sub(start); first < delay {
		t.Fatalf("first invocation after %v, want >= %v", first, delay)
	}
	for i := 1; i < len(stamps); i++ {
		gap := stamps[i].Sub(stamps[i-1])
		if gap < delay {
			t.Fatalf("gap %d = %v, want >= %v", i, gap, delay)
		}
		if gap > delay+40*time.Millisecond {
			t.Fatalf("gap %d = %v, re-invocation too late", i, gap)
		}
	}
	if s.Snapshot().Deferred == 0 {
		t.Fatal("expected deferred runs to be counted")
	}
}

func TestAgainRearmsDelay(t *testing.T) {
	t.Parallel()
	const delay = 30 * time.Millisecond
	s := newTestScheduler()
	var calls atomic.Int32
	start := time.Now()
	tk, _ := s.AddWithDelay(delay, func(*Task, ...any) Result {
		if calls.Add(1) == 3 {
			return Done
		}
		return Again
	})
	name := tk.Name()
	for s.Has(name) && time.Since(start) < time.Second {
		s.RunCycle()
		w, r := s.Len()
		if calls.Load() > 0 && s.Has(name) && (w != 0 || r != 1) {
			t.Fatalf("Again task should stay in running, got (%d,%d)", w, r)
		}
		time.Sleep(time.Millisecond)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
	if took := time.Since(start); took < 3*delay {
		t.Fatalf("three delayed runs finished after %v, want >= %v", took, 3*delay)
	}
}

func TestZeroDelayMatchesAdd(t *testing.T) {
	t.Parallel()
	run := func(add func(*Scheduler, Func) (*Task, error)) []int {
		s := newTestScheduler()
		var trace []int
		n := 0
		add(s, func(*Task, ...any) Result {
			n++
			trace = append(trace, n)
			if n == 3 {
				return Done
			}
			return Cont
		})
		for i := 0; i < 5; i++ {
			s.RunCycle()
			w, r := s.Len()
			trace = append(trace, -(w*10 + r))
		}
		return trace
	}
	a := run(func(s *Scheduler, f Func) (*Task, error) { return s.Add(f) })
	b := run(func(s *Scheduler, f Func) (*Task, error) { return s.AddWithDelay(0, f) })
	if len(a) != len(b) {
		t.Fatalf("traces differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("traces differ: %v vs %v", a, b)
		}
	}
}

func TestRegistryExclusivityRandomOps(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	rng := rand.New(rand.NewSource(1))
	var tasks []*Task
	results := []Result{Done, Cont, Again}
	for i := 0; i < 500; i++ {
		switch rng.Intn(5) {
		case 0, 1:
			res := results[rng.Intn(len(results))]
			tk, err := s.Add(func(*Task, ...any) Result { return res })
			if err != nil {
				t.Fatalf("Add: %v", err)
			}
			tasks = append(tasks, tk)
		case 2:
			if len(tasks) > 0 {
				_ = s.Remove(tasks[rng.Intn(len(tasks))])
			}
		case 3:
			if len(tasks) > 0 {
				_ = s.Cycle(tasks[rng.Intn(len(tasks))])
			}
		case 4:
			s.RunCycle()
		}
		assertExclusive(t, s)
	}
}

func TestPanickingTaskIsRemoved(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	tk, _ := s.Add(func(*Task, ...any) Result { panic("boom") })
	name := tk.Name()
	s.RunCycle()
	if s.Has(name) {
		t.Fatal("panicking task still tracked")
	}
	if got := s.Snapshot().Panics; got != 1 {
		t.Fatalf("Panics = %d, want 1", got)
	}
}

func TestPostRunsOnCycle(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Post(func(s *Scheduler) {
				s.Add(func(*Task, ...any) Result { return Done })
			})
		}()
	}
	wg.Wait()
	if w, _ := s.Len(); w != 0 {
		t.Fatal("posted closures must not run before a cycle")
	}
	s.RunCycle()
	if w, _ := s.Len(); w != 8 {
		t.Fatalf("waiting = %d, want 8", w)
	}
}

func TestDestroyClearsEverything(t *testing.T) {
	t.Parallel()
	s := New(Config{Interval: 10 * time.Millisecond}, logx.Nop(), nil)
	var calls atomic.Int32
	tk, _ := s.Add(func(*Task, ...any) Result {
		calls.Add(1)
		return Cont
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if calls.Load() < 3 {
		t.Fatalf("task ran %d times, want >= 3", calls.Load())
	}
	s.Destroy()
	if w, r := s.Len(); w != 0 || r != 0 {
		t.Fatalf("registries not empty after Destroy: (%d,%d)", w, r)
	}
	if !tk.Destroyed() {
		t.Fatal("task callable not cleared after Destroy")
	}
	next, _ := s.Add(func(*Task, ...any) Result { return Done })
	if next.ID() != 1 {
		t.Fatalf("id counter not reset: %d", next.ID())
	}
}

func TestRunDestroyOnStop(t *testing.T) {
	t.Parallel()
	s := New(Config{Interval: time.Millisecond, DestroyOnStop: true}, logx.Nop(), nil)
	tk, _ := s.Add(func(*Task, ...any) Result { return Cont })
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !tk.Destroyed() {
		t.Fatal("expected task destroyed on stop")
	}
}

func TestDeferredConstructor(t *testing.T) {
	t.Parallel()
	s := newTestScheduler()
	var got []any
	schedule := s.Deferred(func(_ *Task, args ...any) Result {
		got = append(got, args...)
		return Done
	})
	if _, err := schedule(1, "two"); err != nil {
		t.Fatalf("deferred schedule: %v", err)
	}
	s.RunCycle()
	if len(got) != 2 || got[0] != 1 || got[1] != "two" {
		t.Fatalf("args = %v", got)
	}
}
