package task

import (
	"fmt"
	"time"
)

// Result tells the scheduler what to do with a task after it ran.
type Result int

const (
	// Done removes and destroys the task.
	Done Result = iota
	// Cont re-queues the task for the next cycle (subject to its delay).
	Cont
	// Again keeps the task in the running set and re-arms its delay check.
	Again
)

func (r Result) String() string {
	switch r {
	case Done:
		return "done"
	case Cont:
		return "cont"
	case Again:
		return "again"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Func is the callable bound to a Task. It receives the task itself plus the
// arguments captured when the task was scheduled.
type Func func(t *Task, args ...any) Result

// Task is a named unit of deferred or recurring work.
//
// Fields other than ID/Name are owned by the scheduler goroutine while the
// task is tracked; read them from inside the task's own Func.
type Task struct {
	id   uint64
	name string

	fn   Func
	args []any

	timestamp time.Time
	delay     time.Duration
	canDelay  bool
	active    bool
}

func newTask(id uint64, fn Func, delay time.Duration, args []any) *Task {
	if delay < 0 {
		delay = 0
	}
	return &Task{
		id:        id,
		name:      fmt.Sprintf("Task-%d", id),
		fn:        fn,
		args:      args,
		timestamp: time.Now(),
		delay:     delay,
		canDelay:  true,
	}
}

func (t *Task) ID() uint64           { return t.id }
func (t *Task) Name() string         { return t.name }
func (t *Task) Delay() time.Duration { return t.delay }
func (t *Task) Args() []any          { return t.args }

// Timestamp is the time of the last actual invocation (or creation).
func (t *Task) Timestamp() time.Time { return t.timestamp }

// Duration returns the time elapsed since the last invocation.
func (t *Task) Duration() time.Duration { return time.Since(t.timestamp) }

// Destroyed reports whether the task's bound state was cleared.
func (t *Task) Destroyed() bool { return t.fn == nil && t.name == "" }

func (t *Task) Done() Result  { return Done }
func (t *Task) Cont() Result  { return Cont }
func (t *Task) Again() Result { return Again }

// due reports whether the delay check lets the task run at now.
func (t *Task) due(now time.Time) bool {
	if !t.canDelay {
		return true
	}
	return now.Sub(t.timestamp) >= t.delay
}

func (t *Task) destroy() {
	t.fn = nil
	t.args = nil
	t.name = ""
	t.active = false
}
