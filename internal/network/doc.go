// Package network multiplexes raw TCP byte streams.
//
// A Listener binds a server socket, accepts connections and runs one Handler
// per connection on its own goroutine. A Connector owns a single outbound
// connection. Both deliver events through Hooks:
//
//	OnConnected(c)       once, after the connection is registered
//	OnReceived(c, data)  for every non-empty read, in arrival order
//	OnDisconnected(c)    once, after the connection was released
//
// Hooks for one connection always run on that connection's goroutine and never
// overlap. Send never reports I/O errors to the caller; a failed write closes
// the connection and surfaces only as OnDisconnected.
//
// The Listener's handler registry is mutex-guarded, so Broadcast may be called
// from any goroutine (including the task scheduler).
package network
