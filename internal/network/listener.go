package network

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"netcore/internal/eventbus"
	"netcore/internal/network/sockopt"
	logx "netcore/pkg/logx"
)

// DefaultBacklog is the listen backlog used when ListenerConfig.Backlog is unset.
const DefaultBacklog = 100

type ListenerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Backlog        int    `json:"backlog"`
	ReadBufferSize int    `json:"read_buffer_size"`
}

// Address returns host:port.
func (c ListenerConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ListenerState is the lifecycle state of a Listener.
type ListenerState int32

const (
	ListenerCreated ListenerState = iota
	ListenerBound
	ListenerAccepting
	ListenerClosing
	ListenerClosed
)

func (s ListenerState) String() string {
	switch s {
	case ListenerCreated:
		return "created"
	case ListenerBound:
		return "bound"
	case ListenerAccepting:
		return "accepting"
	case ListenerClosing:
		return "closing"
	case ListenerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Listener accepts inbound connections and owns the registry of live
// Handlers. The registry is insertion-ordered and safe for use from any
// goroutine.
type Listener struct {
	cfg     ListenerConfig
	hooks   HooksFactory
	log     logx.Logger
	bus     eventbus.Bus
	warn    *rate.Limiter
	spawner Spawner

	state atomic.Int32

	lnMu sync.Mutex
	ln   net.Listener

	mu       sync.Mutex
	handlers map[string]*Handler
	order    []*Handler
	// live holds every spawned handler until its goroutine returns, including
	// ones already deregistered but still running their close path.
	live map[*Handler]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// NewListener creates a Listener. factory builds the hooks of each accepted
// connection; use Shared to give every connection the same Hooks value.
func NewListener(cfg ListenerConfig, factory HooksFactory, opts ...Option) *Listener {
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = DefaultReadBufferSize
	}
	o := buildOptions(opts)
	sp := o.spawner
	if sp == nil {
		sp = goSpawner{}
	}
	return &Listener{
		cfg:      cfg,
		hooks:    factory,
		log:      o.log.With(logx.String("comp", "listener")),
		bus:      o.bus,
		warn:     o.warn,
		spawner:  sp,
		handlers: map[string]*Handler{},
		live:     map[*Handler]struct{}{},
		closed:   make(chan struct{}),
	}
}

func (l *Listener) State() ListenerState { return ListenerState(l.state.Load()) }

// Addr returns the bound address, or nil before Bind.
func (l *Listener) Addr() net.Addr {
	l.lnMu.Lock()
	defer l.lnMu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// Bind creates the listening socket. Calling it again after a successful bind
// is a no-op.
func (l *Listener) Bind() error {
	l.lnMu.Lock()
	defer l.lnMu.Unlock()
	if l.State() >= ListenerClosing {
		return ErrListenerClosed
	}
	if l.ln != nil {
		return nil
	}
	addr := l.cfg.Address()
	ln, err := sockopt.Listen(addr, l.cfg.Backlog)
	if err != nil {
		return &BindError{Addr: addr, Err: err}
	}
	l.ln = ln
	l.state.Store(int32(ListenerBound))
	l.log.Info("listening",
		logx.String("addr", ln.Addr().String()),
		logx.Int("backlog", l.cfg.Backlog),
	)
	return nil
}

// Serve runs the accept loop until ctx is cancelled, Close is called or
// Accept fails. A failed Accept closes the listener and is returned as
// *AcceptError; the other two paths return nil.
func (l *Listener) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	l.lnMu.Lock()
	ln := l.ln
	l.lnMu.Unlock()
	if ln == nil {
		if l.State() >= ListenerClosing {
			return ErrListenerClosed
		}
		return ErrNotBound
	}
	if !l.state.CompareAndSwap(int32(ListenerBound), int32(ListenerAccepting)) {
		if l.State() >= ListenerClosing {
			return ErrListenerClosed
		}
		return errors.New("network: listener already serving")
	}
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Same pacing as net/http: 5ms doubling up to 1s.
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else {
					backoff = min(2*backoff, time.Second)
				}
				l.log.Warn("accept timeout; retrying", logx.Err(err), logx.Duration("backoff", backoff))
				select {
				case <-time.After(backoff):
					continue
				case <-l.closed:
					return nil
				}
			}
			aerr := &AcceptError{Addr: ln.Addr().String(), Err: err}
			l.log.Error("accept failed; closing listener", logx.Err(err))
			_ = l.Close()
			return aerr
		}
		backoff = 0
		l.spawn(ctx, conn)
	}
}

// ListenAndServe binds and then serves.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	if err := l.Bind(); err != nil {
		return err
	}
	return l.Serve(ctx)
}

func (l *Listener) spawn(ctx context.Context, conn net.Conn) {
	h := newHandler(l, conn)
	l.log.Debug("accepted",
		logx.String("conn", h.id),
		logx.String("remote", conn.RemoteAddr().String()),
	)
	l.mu.Lock()
	l.live[h] = struct{}{}
	l.mu.Unlock()
	l.spawner.Go("conn:"+h.id, func(context.Context) error {
		defer func() {
			l.mu.Lock()
			delete(l.live, h)
			l.mu.Unlock()
		}()
		return h.run(ctx)
	})
}

// AddHandler registers h. It reports whether h was newly added; a fresh add
// fires the connection's OnConnected hook. Closing handlers are refused.
func (l *Listener) AddHandler(h *Handler) bool {
	if h == nil || h.State() >= StateClosing {
		return false
	}
	l.mu.Lock()
	if _, ok := l.handlers[h.id]; ok {
		l.mu.Unlock()
		return false
	}
	l.handlers[h.id] = h
	l.order = append(l.order, h)
	l.mu.Unlock()

	eventbus.Emit(l.bus, EventConnOpened, Session{
		ID:       h.id,
		Side:     "server",
		Remote:   addrString(h.RemoteAddr()),
		OpenedAt: h.s.openedAt,
	})
	h.s.fireConnected()
	return true
}

// RemoveHandler deregisters h and reports whether it was present.
func (l *Listener) RemoveHandler(h *Handler) bool {
	if h == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.handlers[h.id]; !ok {
		return false
	}
	delete(l.handlers, h.id)
	for i, cur := range l.order {
		if cur == h {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

func (l *Listener) HasHandler(h *Handler) bool {
	if h == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handlers[h.id]
	return ok
}

// Handlers returns a snapshot of the registry in insertion order.
func (l *Listener) Handlers() []*Handler {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Handler, len(l.order))
	copy(out, l.order)
	return out
}

func (l *Listener) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

func (l *Listener) Lookup(id string) (*Handler, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handlers[id]
	return h, ok
}

// Broadcast sends data to every registered handler not in exclude, in
// insertion order, and returns how many sends were attempted. A failing send
// closes only that handler.
func (l *Listener) Broadcast(data []byte, exclude ...Conn) int {
	skip := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		if c != nil {
			skip[c.ID()] = struct{}{}
		}
	}
	n := 0
	for _, h := range l.Handlers() {
		if _, ok := skip[h.id]; ok {
			continue
		}
		h.Send(data)
		n++
	}
	return n
}

// Close releases the listening socket. Live handlers keep running; see CloseAll.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.state.Store(int32(ListenerClosing))
		close(l.closed)
		l.lnMu.Lock()
		if l.ln != nil {
			err = l.ln.Close()
			if errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		l.lnMu.Unlock()
		l.state.Store(int32(ListenerClosed))
		l.log.Info("listener closed")
		eventbus.Emit(l.bus, EventListenerClosed, l.cfg.Address())
	})
	return err
}

// CloseAll closes every live handler and waits for each to exit, including
// handlers that already left the registry but have not finished closing. It
// must not be called from a hook.
func (l *Listener) CloseAll() {
	l.mu.Lock()
	hs := make([]*Handler, 0, len(l.live))
	for h := range l.live {
		hs = append(hs, h)
	}
	l.mu.Unlock()
	for _, h := range hs {
		h.Close()
		<-h.Done()
	}
}

func (l *Listener) isClosed() bool {
	select {
	case <-l.closed:
		return true
	default:
		return false
	}
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
