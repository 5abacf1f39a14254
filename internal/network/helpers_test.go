package network

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// recorder counts hook invocations and keeps received bytes per connection.
type recorder struct {
	connected    atomic.Int32
	disconnected atomic.Int32

	mu       sync.Mutex
	received map[string][]byte

	onReceived func(c Conn, data []byte)
}

func newRecorder() *recorder { return &recorder{received: map[string][]byte{}} }

func (r *recorder) OnConnected(Conn) { r.connected.Add(1) }

func (r *recorder) OnReceived(c Conn, data []byte) {
	r.mu.Lock()
	r.received[c.ID()] = append(r.received[c.ID()], data...)
	r.mu.Unlock()
	if r.onReceived != nil {
		r.onReceived(c, data)
	}
}

func (r *recorder) OnDisconnected(Conn) { r.disconnected.Add(1) }

func (r *recorder) bytesFrom(id string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.received[id]...)
}

// startListener binds on a loopback ephemeral port and serves until the test ends.
func startListener(t *testing.T, hooks Hooks, opts ...Option) *Listener {
	t.Helper()
	l := NewListener(ListenerConfig{Host: "127.0.0.1", Port: 0}, Shared(hooks), opts...)
	if err := l.Bind(); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- l.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-served
		l.CloseAll()
	})
	return l
}

func dial(t *testing.T, l *Listener) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", l.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readN(t *testing.T, c net.Conn, n int) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Fatalf("read %d bytes: %v", n, err)
	}
	return buf
}

func expectSilence(t *testing.T, c net.Conn) {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	n, err := c.Read(buf)
	if n > 0 {
		t.Fatalf("unexpected data %q", buf[:n])
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}
