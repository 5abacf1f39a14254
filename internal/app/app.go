package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"netcore/internal/config"
	"netcore/internal/eventbus"
	"netcore/internal/jobs"
	"netcore/internal/network"
	"netcore/internal/observability/debughttp"
	"netcore/internal/runtime/supervisor"
	"netcore/internal/storage"
	"netcore/internal/task"
	logx "netcore/pkg/logx"
)

// Mode selects which side of a connection the app runs.
type Mode string

const (
	ModeServe Mode = "serve"
	ModeDial  Mode = "dial"
)

// Options are the command-line level settings that are not part of the
// config file.
type Options struct {
	Mode Mode
	// Addr overrides the configured host:port of the active side.
	Addr string
	// ServerHooks builds the hooks of each accepted connection (serve mode).
	ServerHooks network.HooksFactory
	// ClientHooks receives the events of the outbound connection (dial mode).
	ClientHooks network.Hooks
}

type App struct {
	cfgPath string
	opts    Options

	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	sched  *task.Scheduler
	runner *jobs.Runner

	lcfg     network.ListenerConfig
	ccfg     network.ConnectorConfig
	listener *network.Listener

	connMu sync.Mutex
	conn   *network.Connector

	debug   *debughttp.Server
	started time.Time

	// journal receives conn.closed events; subscribed before any connection
	// can open so no session is missed.
	journal      <-chan eventbus.Event
	unsubJournal func()
}

func New(cfgPath string, opts Options) (*App, error) {
	if opts.Mode == "" {
		opts.Mode = ModeServe
	}
	if opts.Mode != ModeServe && opts.Mode != ModeDial {
		return nil, fmt.Errorf("unknown mode %q", opts.Mode)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	a := &App{
		cfgPath: cfgPath,
		opts:    opts,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
	}
	if err := a.build(cfg); err != nil {
		if a.store != nil {
			_ = a.store.Close()
		}
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config) error {
	root := a.logs.Logger()

	// Storage (optional)
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	tc, err := mapScheduler(cfg)
	if err != nil {
		return err
	}
	a.sched = task.New(tc, root.With(logx.String("comp", "scheduler")), a.bus)

	switch a.opts.Mode {
	case ModeServe:
		if a.lcfg, err = mapListener(cfg, a.opts.Addr); err != nil {
			return err
		}
	case ModeDial:
		if a.ccfg, err = mapConnector(cfg, a.opts.Addr); err != nil {
			return err
		}
	}

	if dc, enabled, err := mapDebug(cfg); err != nil {
		return err
	} else if enabled {
		a.debug = debughttp.New(dc, a.status, root.With(logx.String("comp", "debug")))
	}

	a.runner = jobs.NewRunner(a.sched, root.With(logx.String("comp", "jobs")))
	a.runner.Register(jobs.ActionHeartbeat, jobs.Heartbeat(a.Send, root.With(logx.String("comp", "jobs"))))
	a.runner.Register(jobs.ActionStats, jobs.Stats(a.traffic, root.With(logx.String("comp", "jobs"))))
	if a.store != nil {
		a.runner.Register(jobs.ActionPrune, jobs.Prune(a.store, retention(a.cfgm), root.With(logx.String("comp", "jobs"))))
	}
	return a.runner.Apply(jobDefs(cfg))
}

func (a *App) Mode() Mode                         { return a.opts.Mode }
func (a *App) Bus() eventbus.Bus                  { return a.bus }
func (a *App) Scheduler() *task.Scheduler         { return a.sched }
func (a *App) Jobs() *jobs.Runner                 { return a.runner }
func (a *App) Store() storage.Store               { return a.store }
func (a *App) Config() *config.ConfigManager      { return a.cfgm }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }

// Listener is nil before Start and in dial mode.
func (a *App) Listener() *network.Listener { return a.listener }

// Connector returns the current outbound connection, or nil.
func (a *App) Connector() *network.Connector {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	return a.conn
}

// Done is closed when the app supervisor context is canceled (fatal error,
// Stop, or the end of a dial session).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Send broadcasts data to every connection in serve mode or writes it to the
// outbound connection in dial mode. It returns how many peers were targeted.
func (a *App) Send(data []byte) int {
	if a.listener != nil {
		return a.listener.Broadcast(data)
	}
	if c := a.Connector(); c != nil && c.State() == network.StateConnected {
		c.Send(data)
		return 1
	}
	return 0
}

func (a *App) traffic() jobs.Traffic {
	var tr jobs.Traffic
	if a.listener != nil {
		hs := a.listener.Handlers()
		tr.Connections = len(hs)
		for _, h := range hs {
			st := h.Stats()
			tr.BytesIn += st.BytesIn
			tr.BytesOut += st.BytesOut
		}
	} else if c := a.Connector(); c != nil {
		if c.State() == network.StateConnected {
			tr.Connections = 1
		}
		st := c.Stats()
		tr.BytesIn, tr.BytesOut = st.BytesIn, st.BytesOut
	}
	tr.Waiting, tr.Running = a.sched.Len()
	return tr
}

// Status is the document served by the debug server at /status.
type Status struct {
	Mode        string                  `json:"mode"`
	Uptime      string                  `json:"uptime"`
	Connections []ConnStatus            `json:"connections"`
	Scheduler   task.Snapshot           `json:"scheduler"`
	Jobs        []jobs.Status           `json:"jobs"`
	Supervisor  supervisor.Snapshot     `json:"supervisor"`
	Recent      []storage.SessionRecord `json:"recent_sessions,omitempty"`
}

type ConnStatus struct {
	ID       string    `json:"id"`
	Remote   string    `json:"remote"`
	OpenedAt time.Time `json:"opened_at"`
	BytesIn  uint64    `json:"bytes_in"`
	BytesOut uint64    `json:"bytes_out"`
}

func (a *App) status(ctx context.Context) any {
	st := Status{
		Mode:      string(a.opts.Mode),
		Uptime:    time.Since(a.started).Round(time.Second).String(),
		Scheduler: a.sched.Snapshot(),
		Jobs:      a.runner.Snapshot(),
	}
	if a.sup != nil {
		st.Supervisor = a.sup.Snapshot()
	}
	add := func(id string, remote net.Addr, s network.Stats) {
		cs := ConnStatus{ID: id, OpenedAt: s.OpenedAt, BytesIn: s.BytesIn, BytesOut: s.BytesOut}
		if remote != nil {
			cs.Remote = remote.String()
		}
		st.Connections = append(st.Connections, cs)
	}
	if a.listener != nil {
		for _, h := range a.listener.Handlers() {
			add(h.ID(), h.RemoteAddr(), h.Stats())
		}
	} else if c := a.Connector(); c != nil && c.State() == network.StateConnected {
		add(c.ID(), c.RemoteAddr(), c.Stats())
	}
	if a.store != nil {
		recent, err := a.store.RecentSessions(ctx, 20)
		if err != nil {
			a.log.Debug("recent sessions unavailable", logx.Err(err))
		}
		st.Recent = recent
	}
	return st
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.started = time.Now()
	// transactional config reload: validate before commit/publish
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapDebug(cfg); err != nil {
			return err
		}
		return a.runner.Validate(jobDefs(cfg))
	})

	cfg := a.cfgm.Get()
	loc, err := loadLocation(cfg)
	if err != nil {
		return err
	}

	if a.store != nil {
		a.journal, a.unsubJournal = a.bus.Subscribe(256)
		a.sup.Go0("storage.journal", a.journalLoop)
	}

	// The network side is set up before any job can run so actions see it.
	switch a.opts.Mode {
	case ModeServe:
		if err := a.startListener(cfg); err != nil {
			return err
		}
	case ModeDial:
		a.startConnector(cfg)
	}

	a.sup.Go("scheduler", a.sched.Run)
	a.runner.Start(a.sup.Context(), loc)

	// Log events for debugging; components can also subscribe themselves.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.debug != nil {
		// Optional observability; restart on failure but never take the app down.
		a.sup.GoRestart("debug.http", a.debug.Serve, supervisor.WithBackoff(500*time.Millisecond, 10*time.Second))
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("mode", string(a.opts.Mode)))
	return nil
}

func (a *App) startListener(cfg *config.Config) error {
	a.listener = network.NewListener(a.lcfg, a.opts.ServerHooks,
		network.WithLogger(a.logs.Logger()),
		network.WithBus(a.bus),
		network.WithSpawner(a.sup),
		network.WithWarnRate(warnRate(cfg), 10),
	)
	if err := a.listener.Bind(); err != nil {
		return err
	}
	a.sup.Go("listener", a.listener.Serve)
	return nil
}

func warnRate(cfg *config.Config) float64 {
	if cfg.Listener.WarnRatePerSec > 0 {
		return cfg.Listener.WarnRatePerSec
	}
	return 5
}

// startConnector dials the configured peer. With reconnect enabled, failed
// dials are retried with backoff; otherwise a failed dial is fatal. When an
// established session ends the app stops.
func (a *App) startConnector(cfg *config.Config) {
	run := func(ctx context.Context) error {
		c := network.NewConnector(a.ccfg, a.opts.ClientHooks,
			network.WithLogger(a.logs.Logger()),
			network.WithBus(a.bus),
			network.WithWarnRate(warnRate(cfg), 10),
		)
		a.connMu.Lock()
		a.conn = c
		a.connMu.Unlock()

		if err := c.Run(ctx); err != nil {
			return err
		}
		if ctx.Err() == nil {
			a.log.Info("session ended", logx.String("remote", a.ccfg.Address()), logx.Any("reason", c.Reason()))
			a.sup.Cancel()
		}
		return nil
	}

	if !cfg.Connector.Reconnect {
		a.sup.Go("connector", run)
		return
	}
	backoff, err := config.DurationOr("connector.reconnect_backoff", cfg.Connector.ReconnectBackoff, defaultReconnectBackoff)
	if err != nil {
		backoff = defaultReconnectBackoff
	}
	a.sup.GoRestart("connector", run, supervisor.WithBackoff(backoff, 30*time.Second))
}

// journalLoop persists closed sessions until the subscription is closed by
// Stop, after every connection has finished.
func (a *App) journalLoop(context.Context) {
	for e := range a.journal {
		a.record(e)
	}
}

func (a *App) record(e eventbus.Event) {
	if e.Type != network.EventConnClosed {
		return
	}
	s, ok := e.Data.(network.Session)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := a.store.AppendSession(ctx, storage.SessionRecord{
		ID:       s.ID,
		Side:     s.Side,
		Remote:   s.Remote,
		OpenedAt: s.OpenedAt,
		ClosedAt: s.ClosedAt,
		BytesIn:  s.BytesIn,
		BytesOut: s.BytesOut,
		Reason:   s.Reason,
	})
	if err != nil && !errors.Is(err, storage.ErrClosed) {
		a.log.Warn("session journal write failed", logx.String("conn", s.ID), logx.Err(err))
	}
}

func (a *App) reloadLoop(c context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// apply pushes the live-reloadable parts of newCfg into running components.
func (a *App) apply(oldCfg, newCfg *config.Config) {
	ch := config.Diff(oldCfg, newCfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(ch.Sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, ch.Fields...)...)

	if ch.Has("logging") {
		a.logs.Apply(mapLogging(newCfg))
	}
	if ch.Has("scheduler") {
		if tc, err := mapScheduler(newCfg); err != nil {
			a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		} else {
			a.sched.SetInterval(tc.Interval)
		}
		if loc, err := loadLocation(newCfg); err != nil {
			a.log.Warn("invalid timezone; keeping previous", logx.Err(err))
		} else {
			a.runner.SetLocation(loc)
		}
	}
	if ch.Has("jobs") {
		if err := a.runner.Apply(jobDefs(newCfg)); err != nil {
			a.log.Warn("some jobs were not applied", logx.Err(err))
		}
	}
	if ch.RestartRequired {
		a.log.Warn("listener/connector/storage config changed; restart required for changes to take effect")
	}
	a.log.Info("config reloaded", changed)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < limit {
			limit = time.Until(dl)
		}
		if limit > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				a.log.Info("stop step finished after deadline",
					logx.String("name", name),
					logx.Err(err),
					logx.Duration("took", time.Since(start)),
				)
			}()
		}
	}

	step("jobs", time.Second, func(c context.Context) error { a.runner.Stop(c); return nil })
	step("network", 3*time.Second, func(context.Context) error {
		var err error
		if a.listener != nil {
			err = a.listener.Close()
			a.listener.CloseAll()
		}
		if c := a.Connector(); c != nil {
			c.Close()
		}
		return err
	})
	if a.unsubJournal != nil {
		a.unsubJournal()
	}
	// Waits for the scheduler loop, the journal drain and config watchers.
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	return a.logs.Close()
}
