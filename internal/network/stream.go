package network

import (
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "netcore/pkg/logx"
)

// DefaultReadBufferSize is the maximum chunk handed to OnReceived.
const DefaultReadBufferSize = 1024

// State is the lifecycle state of a Handler or Connector.
type State int32

const (
	// StateCreated is the initial state; for a Connector it means "disconnected".
	StateCreated State = iota
	StateConnecting
	StateConnected
	StateReceiving
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReceiving:
		return "receiving"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stats are per-connection traffic counters.
type Stats struct {
	OpenedAt time.Time
	BytesIn  uint64
	BytesOut uint64
}

// stream is the connection machinery shared by Handler and Connector:
// receive loop, serialized writes and exactly-once teardown.
type stream struct {
	self    Conn
	hook    Conn // what hooks see; see hookConn
	hooks   Hooks
	bufSize int
	log     logx.Logger
	warn    *rate.Limiter

	conn   net.Conn
	remote net.Addr

	state atomic.Int32
	wmu   sync.Mutex

	closeOnce  sync.Once
	finishOnce sync.Once
	reason     error
	done       chan struct{}
	started    atomic.Bool
	// teardown runs once, right after the socket is released.
	teardown func()

	connected atomic.Bool // OnConnected fired

	openedAt time.Time
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

func newStream(hooks Hooks, bufSize int, log logx.Logger, warn *rate.Limiter) *stream {
	if hooks == nil {
		hooks = NopHooks{}
	}
	if bufSize <= 0 {
		bufSize = DefaultReadBufferSize
	}
	return &stream{
		hooks:   hooks,
		bufSize: bufSize,
		log:     log,
		warn:    warn,
		done:    make(chan struct{}),
	}
}

// bind sets the owning Conn and the view handed to hooks.
func (s *stream) bind(self Conn) {
	s.self = self
	s.hook = &hookConn{Conn: self, s: s}
}

// hookConn is the Conn passed to hooks. Hooks run on the connection's own
// goroutine, so its Close must not wait for that goroutine to exit.
type hookConn struct {
	Conn
	s *stream
}

func (c *hookConn) Close() { c.s.close(false) }

// attach binds conn; the state store publishes the fields to other goroutines.
func (s *stream) attach(conn net.Conn) {
	s.conn = conn
	s.remote = conn.RemoteAddr()
	s.openedAt = time.Now()
	s.advance(StateConnected)
}

func (s *stream) State() State { return State(s.state.Load()) }

func (s *stream) setState(st State) { s.state.Store(int32(st)) }

// advance moves to st unless the stream is already closing.
func (s *stream) advance(st State) {
	for {
		cur := s.state.Load()
		if State(cur) >= StateClosing {
			return
		}
		if s.state.CompareAndSwap(cur, int32(st)) {
			return
		}
	}
}

func (s *stream) stats() Stats {
	return Stats{
		OpenedAt: s.openedAt,
		BytesIn:  s.bytesIn.Load(),
		BytesOut: s.bytesOut.Load(),
	}
}

// Reason returns why the connection was closed (nil while open or on orderly peer close).
func (s *stream) Reason() error {
	select {
	case <-s.done:
		return s.reason
	default:
		return nil
	}
}

func (s *stream) send(data []byte) {
	if len(data) == 0 {
		return
	}
	if st := s.State(); st < StateConnected || st >= StateClosing {
		return
	}
	s.wmu.Lock()
	n, err := s.conn.Write(data)
	s.wmu.Unlock()
	if n > 0 {
		s.bytesOut.Add(uint64(n))
	}
	if err != nil {
		s.logIOError("send failed", err)
		s.shutdown(err)
	}
}

// shutdown releases the socket and runs teardown exactly once, whichever path
// (peer close, read error, send error, external request) gets here first.
func (s *stream) shutdown(reason error) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		if !errors.Is(reason, io.EOF) {
			s.reason = reason
		}
		if s.conn != nil {
			_ = s.conn.Close()
		}
		if s.teardown != nil {
			s.teardown()
		}
	})
}

// close is the external close path. With wait it blocks until the loop has
// finished; hooks close through hookConn, which never waits.
func (s *stream) close(wait bool) {
	s.shutdown(ErrClosedLocally)
	if s.conn == nil || !s.started.Load() {
		// No receive loop is running: nothing else will finish the stream.
		s.finish()
		return
	}
	if wait {
		<-s.done
	}
}

func (s *stream) finish() {
	s.finishOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
	})
}

func (s *stream) fireConnected() {
	if s.State() >= StateClosing {
		return
	}
	if !s.connected.CompareAndSwap(false, true) {
		return
	}
	s.callHook("connected", func() { s.hooks.OnConnected(s.hook) })
}

// begin marks the connection's goroutine as running. It returns false when the
// stream was already finished by an external Close.
func (s *stream) begin() bool {
	s.started.Store(true)
	return s.State() != StateClosed
}

// readLoop runs until the connection is closed, then fires OnDisconnected.
// after, if set, runs last before Done is closed.
func (s *stream) readLoop(after func()) {
	defer s.finish()
	if s.State() < StateClosing {
		s.receive()
	}
	if s.connected.Load() {
		s.callHook("disconnected", func() { s.hooks.OnDisconnected(s.hook) })
	}
	if after != nil {
		after()
	}
}

func (s *stream) receive() {
	s.advance(StateReceiving)
	buf := make([]byte, s.bufSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.bytesIn.Add(uint64(n))
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.callHook("received", func() { s.hooks.OnReceived(s.hook, chunk) })
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && s.State() < StateClosing {
				s.logIOError("read failed", err)
			}
			s.shutdown(err)
			return
		}
		if n == 0 {
			s.shutdown(io.EOF)
			return
		}
	}
}

func (s *stream) callHook(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("hook panicked",
				logx.String("hook", name),
				logx.String("conn", s.self.ID()),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			if name != "disconnected" {
				s.shutdown(errors.New("hook panic"))
			}
		}
	}()
	fn()
}

func (s *stream) logIOError(msg string, err error) {
	if errors.Is(err, net.ErrClosed) {
		return
	}
	fields := []logx.Field{logx.String("conn", s.self.ID()), logx.Err(err)}
	if s.remote != nil {
		fields = append(fields, logx.String("remote", s.remote.String()))
	}
	if s.warn != nil && s.warn.Allow() {
		s.log.Warn(msg, fields...)
		return
	}
	s.log.Debug(msg, fields...)
}
