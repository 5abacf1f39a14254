package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"netcore/internal/task"
	logx "netcore/pkg/logx"
)

// DefaultTimeout bounds a single action run.
const DefaultTimeout = 10 * time.Second

// Def declares a job.
type Def struct {
	Name     string
	Schedule string
	Action   string
	Payload  string
}

// ActionFunc is the body of a job. It runs on the scheduler goroutine and
// should return promptly.
type ActionFunc func(ctx context.Context, def Def) error

// Status is a point-in-time view of one job.
type Status struct {
	Name     string
	Schedule string
	Kind     Kind
	Action   string
	Runs     uint64
	Failures uint64
	LastRun  time.Time
	LastErr  string
	Next     time.Time // cron jobs only
}

type entry struct {
	def   Def
	sched Schedule

	task   *task.Task   // interval jobs
	cronID cron.EntryID // cron jobs

	// gen changes on every arm so tasks from an earlier arm retire even
	// while their removal is still queued.
	gen     uint64
	stopped bool
	runs    uint64
	fails   uint64
	lastRun time.Time
	lastErr string
}

// Runner binds configured jobs to a task.Scheduler. Interval jobs are
// recurring tasks returning Cont; cron jobs are triggered by robfig/cron and
// handed to the scheduler as one-shot tasks through Post.
type Runner struct {
	sched   *task.Scheduler
	log     logx.Logger
	timeout time.Duration

	mu      sync.Mutex
	ctx     context.Context
	loc     *time.Location
	c       *cron.Cron
	actions map[string]ActionFunc
	jobs    map[string]*entry
}

func NewRunner(sched *task.Scheduler, log logx.Logger) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		sched:   sched,
		log:     log,
		timeout: DefaultTimeout,
		ctx:     context.Background(),
		loc:     time.Local,
		actions: map[string]ActionFunc{},
		jobs:    map[string]*entry{},
	}
}

// Register makes an action available to job definitions.
func (r *Runner) Register(name string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[strings.ToLower(strings.TrimSpace(name))] = fn
}

// SetTimeout changes the per-run deadline; d <= 0 restores DefaultTimeout.
func (r *Runner) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultTimeout
	}
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Validate checks schedules and actions without applying anything.
func (r *Runner) Validate(defs []Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, d := range defs {
		if _, err := ParseSchedule(d.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", d.Name, err))
		}
		if _, ok := r.actions[strings.ToLower(strings.TrimSpace(d.Action))]; !ok {
			errs = append(errs, fmt.Errorf("job %q: unknown action %q", d.Name, d.Action))
		}
	}
	return errors.Join(errs...)
}

// Start begins cron triggering in loc (nil means local time). Jobs applied
// before Start are armed now.
func (r *Runner) Start(ctx context.Context, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return
	}
	r.ctx = ctx
	r.loc = loc
	r.c = cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	for _, e := range r.jobs {
		r.armLocked(e)
	}
	r.c.Start()
	r.log.Info("jobs started", logx.String("tz", loc.String()), logx.Int("jobs", len(r.jobs)))
}

// Stop halts cron triggering and unschedules every job. Definitions are kept
// so a later Start re-arms them.
func (r *Runner) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.c
	r.c = nil
	for _, e := range r.jobs {
		r.disarmLocked(e)
	}
	r.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}
}

// SetLocation moves cron jobs to a new time zone.
func (r *Runner) SetLocation(loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	r.mu.Lock()
	running := r.c != nil
	same := r.loc.String() == loc.String()
	ctx := r.ctx
	r.mu.Unlock()
	if same {
		return
	}
	if !running {
		r.mu.Lock()
		r.loc = loc
		r.mu.Unlock()
		return
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	r.Stop(stopCtx)
	cancel()
	r.Start(ctx, loc)
}

// Apply upserts jobs by name: new or changed definitions are (re)armed and
// jobs missing from defs are removed. Invalid definitions are skipped and
// reported.
func (r *Runner) Apply(defs []Def) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	want := map[string]bool{}
	for _, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		d.Action = strings.ToLower(strings.TrimSpace(d.Action))
		want[d.Name] = true

		if cur, ok := r.jobs[d.Name]; ok && cur.def == d {
			continue
		}
		sch, err := ParseSchedule(d.Schedule)
		if err == nil {
			if _, ok := r.actions[d.Action]; !ok {
				err = fmt.Errorf("unknown action %q", d.Action)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("job %q: %w", d.Name, err))
			continue
		}
		if cur, ok := r.jobs[d.Name]; ok {
			r.disarmLocked(cur)
		}
		e := &entry{def: d, sched: sch}
		r.jobs[d.Name] = e
		if r.c != nil {
			r.armLocked(e)
		}
		r.log.Debug("job applied",
			logx.String("job", d.Name),
			logx.String("schedule", d.Schedule),
			logx.String("kind", sch.Kind.String()),
			logx.String("action", d.Action),
		)
	}
	for name, e := range r.jobs {
		if !want[name] {
			r.disarmLocked(e)
			delete(r.jobs, name)
			r.log.Debug("job removed", logx.String("job", name))
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) armLocked(e *entry) {
	e.gen++
	e.stopped = false
	gen := e.gen
	switch e.sched.Kind {
	case KindInterval:
		t, err := r.sched.AddWithDelay(e.sched.Every, func(t *task.Task, _ ...any) task.Result {
			if !r.armed(e, gen) {
				return t.Done()
			}
			r.run(e)
			return t.Cont()
		})
		if err != nil {
			r.log.Error("job arm failed", logx.String("job", e.def.Name), logx.Err(err))
			return
		}
		e.task = t
	case KindCron:
		id, err := r.c.AddFunc(e.sched.Cron, func() {
			r.sched.Post(func(s *task.Scheduler) {
				if !r.armed(e, gen) {
					return
				}
				_, _ = s.Add(func(t *task.Task, _ ...any) task.Result {
					if r.armed(e, gen) {
						r.run(e)
					}
					return t.Done()
				})
			})
		})
		if err != nil {
			r.log.Error("job arm failed", logx.String("job", e.def.Name), logx.Err(err))
			return
		}
		e.cronID = id
	}
}

func (r *Runner) disarmLocked(e *entry) {
	e.stopped = true
	if e.task != nil {
		t := e.task
		e.task = nil
		r.sched.Post(func(s *task.Scheduler) {
			if !t.Destroyed() {
				_ = s.Remove(t)
			}
		})
	}
	if e.cronID != 0 && r.c != nil {
		r.c.Remove(e.cronID)
	}
	e.cronID = 0
}

// armed reports whether e is still armed by the arm that produced gen.
func (r *Runner) armed(e *entry, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !e.stopped && e.gen == gen
}

func (r *Runner) run(e *entry) {
	r.mu.Lock()
	fn := r.actions[e.def.Action]
	parent, timeout := r.ctx, r.timeout
	r.mu.Unlock()
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx, e.def)

	r.mu.Lock()
	e.runs++
	e.lastRun = start
	e.lastErr = ""
	if err != nil {
		e.fails++
		e.lastErr = err.Error()
	}
	r.mu.Unlock()

	if err != nil {
		r.log.Warn("job failed", logx.String("job", e.def.Name), logx.Err(err), logx.Duration("took", time.Since(start)))
		return
	}
	r.log.Debug("job ran", logx.String("job", e.def.Name), logx.Duration("took", time.Since(start)))
}

// Snapshot lists jobs sorted by name.
func (r *Runner) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.jobs))
	for _, e := range r.jobs {
		st := Status{
			Name:     e.def.Name,
			Schedule: e.def.Schedule,
			Kind:     e.sched.Kind,
			Action:   e.def.Action,
			Runs:     e.runs,
			Failures: e.fails,
			LastRun:  e.lastRun,
			LastErr:  e.lastErr,
		}
		if e.cronID != 0 && r.c != nil {
			st.Next = r.c.Entry(e.cronID).Next
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
