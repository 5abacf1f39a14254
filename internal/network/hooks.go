package network

import "net"

// Conn is the view of a connection handed to hooks. Handler and Connector
// both implement it; hooks get a wrapper with the same ID whose Close does
// not wait for the hook's own goroutine.
type Conn interface {
	ID() string
	RemoteAddr() net.Addr
	// Send writes data; a write failure closes the connection.
	Send(data []byte)
	// Close releases the connection. Safe to call repeatedly and from hooks.
	Close()
}

// Hooks receives connection lifecycle events.
type Hooks interface {
	OnConnected(c Conn)
	OnReceived(c Conn, data []byte)
	OnDisconnected(c Conn)
}

// NopHooks implements Hooks with no-ops. Embed it to override only some events.
type NopHooks struct{}

func (NopHooks) OnConnected(Conn)        {}
func (NopHooks) OnReceived(Conn, []byte) {}
func (NopHooks) OnDisconnected(Conn)     {}

// HookFuncs adapts plain functions to Hooks. Nil fields are no-ops.
type HookFuncs struct {
	Connected    func(c Conn)
	Received     func(c Conn, data []byte)
	Disconnected func(c Conn)
}

func (f HookFuncs) OnConnected(c Conn) {
	if f.Connected != nil {
		f.Connected(c)
	}
}

func (f HookFuncs) OnReceived(c Conn, data []byte) {
	if f.Received != nil {
		f.Received(c, data)
	}
}

func (f HookFuncs) OnDisconnected(c Conn) {
	if f.Disconnected != nil {
		f.Disconnected(c)
	}
}

// HooksFactory builds the hooks for one accepted connection, so per-connection
// state can live in the returned value.
type HooksFactory func(h *Handler) Hooks

// Shared returns a factory that hands the same Hooks to every connection.
func Shared(h Hooks) HooksFactory {
	return func(*Handler) Hooks { return h }
}
