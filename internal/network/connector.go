package network

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"netcore/internal/eventbus"
	logx "netcore/pkg/logx"
)

type ConnectorConfig struct {
	Host           string
	Port           int
	DialTimeout    time.Duration
	ReadBufferSize int
}

func (c ConnectorConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Connector owns a single outbound connection: connect, receive until closed,
// close. It is not reusable; create a new one to reconnect.
type Connector struct {
	cfg ConnectorConfig
	id  string
	log logx.Logger
	bus eventbus.Bus

	mu sync.Mutex // orders Connect's attach against Close
	s  *stream
}

func NewConnector(cfg ConnectorConfig, hooks Hooks, opts ...Option) *Connector {
	o := buildOptions(opts)
	c := &Connector{
		cfg: cfg,
		id:  uuid.NewString(),
		bus: o.bus,
	}
	c.log = o.log.With(logx.String("comp", "connector"), logx.String("conn", c.id))
	c.s = newStream(hooks, cfg.ReadBufferSize, c.log, o.warn)
	c.s.bind(c)
	return c
}

func (c *Connector) ID() string            { return c.id }
func (c *Connector) RemoteAddr() net.Addr  { return c.s.remote }
func (c *Connector) State() State          { return c.s.State() }
func (c *Connector) Stats() Stats          { return c.s.stats() }
func (c *Connector) Reason() error         { return c.s.Reason() }
func (c *Connector) Done() <-chan struct{} { return c.s.done }

// Connect dials the configured address. Failures are *ConnectError and no
// hook fires. Calling Connect on a connected Connector is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	addr := c.cfg.Address()

	c.mu.Lock()
	switch st := c.s.State(); {
	case st >= StateClosing:
		c.mu.Unlock()
		return &ConnectError{Addr: addr, Err: ErrClosedLocally}
	case st >= StateConnected:
		c.mu.Unlock()
		return nil
	case st == StateConnecting:
		c.mu.Unlock()
		return &ConnectError{Addr: addr, Err: errConnectInProgress}
	}
	c.s.setState(StateConnecting)
	c.mu.Unlock()

	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		if c.s.State() == StateConnecting {
			c.s.setState(StateCreated)
		}
		c.log.Debug("connect failed", logx.String("addr", addr), logx.Err(err))
		return &ConnectError{Addr: addr, Err: err}
	}
	if c.s.State() >= StateClosing {
		_ = conn.Close()
		return &ConnectError{Addr: addr, Err: ErrClosedLocally}
	}
	c.s.attach(conn)
	c.log.Info("connected", logx.String("remote", conn.RemoteAddr().String()))
	return nil
}

// Run connects if needed, fires OnConnected and receives until the
// connection closes. Only connect failures are returned; per-connection I/O
// errors surface through OnDisconnected and Reason.
func (c *Connector) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	if !c.s.begin() {
		return nil
	}
	stop := context.AfterFunc(ctx, func() { c.s.shutdown(ErrStopped) })
	defer stop()

	eventbus.Emit(c.bus, EventConnOpened, c.session(false))
	c.s.fireConnected()
	c.s.readLoop(func() {
		eventbus.Emit(c.bus, EventConnClosed, c.session(true))
	})
	return nil
}

// Send writes data to the peer. Failures close the connection.
func (c *Connector) Send(data []byte) { c.s.send(data) }

// Close releases the connection and waits for Run to return. Hooks must close
// through the Conn they are given, which does not wait.
func (c *Connector) Close() {
	c.mu.Lock()
	c.s.shutdown(ErrClosedLocally)
	c.mu.Unlock()
	c.s.close(true)
}

func (c *Connector) session(closed bool) Session {
	st := c.Stats()
	sess := Session{
		ID:       c.id,
		Side:     "client",
		Remote:   addrString(c.s.remote),
		OpenedAt: st.OpenedAt,
		BytesIn:  st.BytesIn,
		BytesOut: st.BytesOut,
	}
	if closed {
		sess.ClosedAt = time.Now()
		if err := c.s.reason; err != nil {
			sess.Reason = err.Error()
		}
	}
	return sess
}
