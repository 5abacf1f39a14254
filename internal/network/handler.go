package network

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"

	"netcore/internal/eventbus"
)

// Handler owns one accepted connection. It is created by the Listener, runs
// on its own goroutine and holds a non-owning reference back to its Listener
// for registry bookkeeping.
type Handler struct {
	id       string
	listener *Listener
	s        *stream
}

func newHandler(l *Listener, conn net.Conn) *Handler {
	h := &Handler{
		id:       uuid.NewString(),
		listener: l,
	}
	h.s = newStream(nil, l.cfg.ReadBufferSize, l.log, l.warn)
	h.s.bind(h)
	h.s.attach(conn)
	h.s.teardown = func() { l.RemoveHandler(h) }
	if l.hooks != nil {
		h.s.hooks = l.hooks(h)
	}
	if h.s.hooks == nil {
		h.s.hooks = NopHooks{}
	}
	return h
}

func (h *Handler) ID() string           { return h.id }
func (h *Handler) RemoteAddr() net.Addr { return h.s.remote }
func (h *Handler) Listener() *Listener  { return h.listener }
func (h *Handler) State() State         { return h.s.State() }
func (h *Handler) Stats() Stats         { return h.s.stats() }

// Reason returns the close reason once the handler finished. Orderly peer
// close reports nil.
func (h *Handler) Reason() error { return h.s.Reason() }

// Done is closed once the handler's goroutine has exited.
func (h *Handler) Done() <-chan struct{} { return h.s.done }

// Send writes data to the peer. Failures close the handler.
func (h *Handler) Send(data []byte) { h.s.send(data) }

// Close releases the connection and waits for the handler goroutine to exit.
// Hooks must close through the Conn they are given, which does not wait.
func (h *Handler) Close() { h.s.close(true) }

// run is the handler goroutine: register, receive until closed, deregister.
func (h *Handler) run(ctx context.Context) error {
	if !h.s.begin() {
		return nil
	}
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() { h.s.shutdown(ErrStopped) })
		defer stop()
	}

	h.listener.AddHandler(h)
	// A close that raced registration may have run its deregistration first.
	if h.State() >= StateClosing {
		h.listener.RemoveHandler(h)
	}

	h.s.readLoop(func() {
		eventbus.Emit(h.listener.bus, EventConnClosed, h.session())
	})
	return nil
}

func (h *Handler) session() Session {
	st := h.Stats()
	sess := Session{
		ID:       h.id,
		Side:     "server",
		OpenedAt: st.OpenedAt,
		ClosedAt: time.Now(),
		BytesIn:  st.BytesIn,
		BytesOut: st.BytesOut,
	}
	if h.s.remote != nil {
		sess.Remote = h.s.remote.String()
	}
	if err := h.s.reason; err != nil {
		sess.Reason = err.Error()
	}
	return sess
}
