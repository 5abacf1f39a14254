package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/eapache/queue"

	"netcore/internal/eventbus"
	logx "netcore/pkg/logx"
)

// DefaultInterval is the pause between two cycles.
const DefaultInterval = 10 * time.Millisecond

// Event types published on the bus.
const (
	EventTaskPanic = "task.panic"
	EventStopped   = "scheduler.stopped"
)

// Config controls the scheduler loop.
type Config struct {
	// Interval between cycles. 0 means DefaultInterval.
	Interval time.Duration
	// DestroyOnStop clears both registries when Run returns.
	DestroyOnStop bool
}

// Snapshot is a point-in-time view of the scheduler, for logs and tests.
type Snapshot struct {
	Waiting     int
	Running     int
	Cycles      uint64
	Invocations uint64
	Deferred    uint64
	Panics      uint64
	Interval    time.Duration
}

type Scheduler struct {
	mu sync.Mutex

	log logx.Logger
	bus eventbus.Bus
	cfg Config

	waiting map[string]*Task
	running map[string]*Task
	id      uint64

	// inbox holds closures posted from other goroutines; drained at the start
	// of every cycle on the scheduler goroutine.
	inboxMu sync.Mutex
	inbox   *queue.Queue

	cycles      uint64
	invocations uint64
	deferred    uint64
	panics      uint64
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	return &Scheduler{
		log:     log,
		bus:     bus,
		cfg:     cfg,
		waiting: map[string]*Task{},
		running: map[string]*Task{},
		inbox:   queue.New(),
	}
}

// Interval returns the configured cycle interval.
func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

// SetInterval changes the cycle interval; it takes effect after the current sleep.
func (s *Scheduler) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.mu.Lock()
	s.cfg.Interval = d
	s.mu.Unlock()
}

// Add schedules fn with no delay.
func (s *Scheduler) Add(fn Func, args ...any) (*Task, error) {
	return s.AddWithDelay(0, fn, args...)
}

// AddWithDelay schedules fn with a minimum interval of delay between two
// invocations. The first invocation also waits delay after scheduling.
func (s *Scheduler) AddWithDelay(delay time.Duration, fn Func, args ...any) (*Task, error) {
	if fn == nil {
		return nil, ErrNotCallable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	t := newTask(s.id, fn, delay, args)
	if err := s.activateLocked(t); err != nil {
		return nil, err
	}
	return t, nil
}

// Deferred returns a constructor that schedules fn with the given arguments
// each time it is called.
func (s *Scheduler) Deferred(fn Func) func(args ...any) (*Task, error) {
	return func(args ...any) (*Task, error) {
		return s.Add(fn, args...)
	}
}

// Activate marks t active and places it in the waiting registry.
func (s *Scheduler) Activate(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(t)
}

// Deactivate removes t from whichever registry holds it, destroying it if requested.
func (s *Scheduler) Deactivate(t *Task, destroy bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deactivateLocked(t, destroy)
}

// Remove deactivates and destroys t.
func (s *Scheduler) Remove(t *Task) error {
	return s.Deactivate(t, true)
}

// Cycle re-queues t for the next cycle.
func (s *Scheduler) Cycle(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleLocked(t)
}

// Has reports whether a task with the given name is tracked.
func (s *Scheduler) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasLocked(name)
}

// Len returns the sizes of the waiting and running registries.
func (s *Scheduler) Len() (waiting, running int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiting), len(s.running)
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Waiting:     len(s.waiting),
		Running:     len(s.running),
		Cycles:      s.cycles,
		Invocations: s.invocations,
		Deferred:    s.deferred,
		Panics:      s.panics,
		Interval:    s.cfg.Interval,
	}
}

// Post queues fn to run on the scheduler goroutine at the start of the next cycle.
func (s *Scheduler) Post(fn func(s *Scheduler)) {
	if fn == nil {
		return
	}
	s.inboxMu.Lock()
	s.inbox.Add(fn)
	s.inboxMu.Unlock()
}

// Destroy clears both registries, destroying every task, and resets the id counter.
func (s *Scheduler) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, t := range s.waiting {
		delete(s.waiting, name)
		t.destroy()
	}
	for name, t := range s.running {
		delete(s.running, name)
		t.destroy()
	}
	s.id = 0
}

// Run executes cycles until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("scheduler started", logx.Duration("interval", s.Interval()))
	defer func() {
		if s.cfg.DestroyOnStop {
			s.Destroy()
		}
		eventbus.Emit(s.bus, EventStopped, nil)
		s.log.Info("scheduler stopped")
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		s.RunCycle()
		timer.Reset(s.Interval())
	}
}

// RunCycle performs exactly one scheduler cycle.
func (s *Scheduler) RunCycle() {
	s.drainInbox()

	s.mu.Lock()
	s.cycles++
	for name, t := range s.waiting {
		delete(s.waiting, name)
		s.running[name] = t
	}
	batch := make([]*Task, 0, len(s.running))
	for _, t := range s.running {
		batch = append(batch, t)
	}
	s.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].id < batch[j].id })

	for _, t := range batch {
		s.step(t)
	}
}

func (s *Scheduler) step(t *Task) {
	s.mu.Lock()
	// An earlier task in this batch may have removed or re-queued t.
	if !t.active || s.running[t.name] != t {
		s.mu.Unlock()
		return
	}
	name := t.name
	now := time.Now()
	if !t.due(now) {
		// Deferred: counts as a run that asked for Again.
		s.deferred++
		s.mu.Unlock()
		return
	}
	t.timestamp = now
	fn, args := t.fn, t.args
	s.invocations++
	s.mu.Unlock()

	res, err := s.invoke(name, t, fn, args)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !t.active || s.running[name] != t {
		// The task removed or re-queued itself.
		return
	}

	// Only the task can ask to be delayed again.
	t.canDelay = false

	var terr error
	switch {
	case err != nil:
		terr = s.deactivateLocked(t, true)
	case res == Cont:
		terr = s.cycleLocked(t)
	case res == Again:
		t.canDelay = true
	default:
		terr = s.deactivateLocked(t, true)
	}
	if terr != nil {
		s.log.Warn("task transition failed", logx.String("task", name), logx.String("result", res.String()), logx.Err(terr))
	}
}

func (s *Scheduler) invoke(name string, t *Task, fn Func, args []any) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.panics++
			s.mu.Unlock()
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			eventbus.Emit(s.bus, EventTaskPanic, name)
		}
	}()
	if fn == nil {
		return Done, fmt.Errorf("task %s: %w", name, ErrNotCallable)
	}
	return fn(t, args...), nil
}

func (s *Scheduler) drainInbox() {
	s.inboxMu.Lock()
	n := s.inbox.Length()
	fns := make([]func(*Scheduler), 0, n)
	for i := 0; i < n; i++ {
		if fn, ok := s.inbox.Remove().(func(*Scheduler)); ok {
			fns = append(fns, fn)
		}
	}
	s.inboxMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

func (s *Scheduler) hasLocked(name string) bool {
	if _, ok := s.waiting[name]; ok {
		return true
	}
	_, ok := s.running[name]
	return ok
}

func (s *Scheduler) activateLocked(t *Task) error {
	if t == nil || t.Destroyed() {
		return &ActivationError{Op: "activate", Err: ErrNotCallable}
	}
	if s.hasLocked(t.name) {
		return &ActivationError{Op: "activate", Name: t.name, Err: ErrAlreadyActive}
	}
	t.active = true
	// A fresh activation arms the delay check again.
	t.canDelay = true
	s.waiting[t.name] = t
	return nil
}

func (s *Scheduler) deactivateLocked(t *Task, destroy bool) error {
	if t == nil {
		return &ActivationError{Op: "deactivate", Err: ErrNotActive}
	}
	switch {
	case s.waiting[t.name] == t:
		delete(s.waiting, t.name)
	case s.running[t.name] == t:
		delete(s.running, t.name)
	default:
		return &ActivationError{Op: "deactivate", Name: t.name, Err: ErrNotActive}
	}
	t.active = false
	if destroy {
		t.destroy()
	}
	return nil
}

func (s *Scheduler) cycleLocked(t *Task) error {
	if err := s.deactivateLocked(t, false); err != nil {
		return err
	}
	return s.activateLocked(t)
}

// IsActivationError reports whether err is scheduler misuse.
func IsActivationError(err error) bool {
	var ae *ActivationError
	return errors.As(err, &ae)
}
