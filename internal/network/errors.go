package network

import (
	"errors"
	"fmt"
)

var (
	ErrNotBound       = errors.New("listener not bound")
	ErrListenerClosed = errors.New("listener closed")
	ErrClosedLocally  = errors.New("connection closed locally")
	ErrStopped        = errors.New("connection stopped")

	errConnectInProgress = errors.New("connect already in progress")
)

// BindError is returned when the listening socket cannot be bound or put into
// listening mode. Nothing was accepted yet, so there is nothing to undo.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("failed to bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// AcceptError aborts the accept loop.
type AcceptError struct {
	Addr string
	Err  error
}

func (e *AcceptError) Error() string {
	return fmt.Sprintf("accept on %s failed: %v", e.Addr, e.Err)
}
func (e *AcceptError) Unwrap() error { return e.Err }

// ConnectError is returned by Connector.Connect; no hook has fired.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}
func (e *ConnectError) Unwrap() error { return e.Err }
