package network

import "time"

// Event types published on the bus.
const (
	EventConnOpened     = "conn.opened"
	EventConnClosed     = "conn.closed"
	EventListenerClosed = "listener.closed"
)

// Session summarizes one connection; it is the Data of EventConnOpened and
// EventConnClosed.
type Session struct {
	ID       string    `json:"id"`
	Side     string    `json:"side"` // "server" | "client"
	Remote   string    `json:"remote"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at,omitempty"`
	BytesIn  uint64    `json:"bytes_in"`
	BytesOut uint64    `json:"bytes_out"`
	Reason   string    `json:"reason,omitempty"`
}
