package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionRecord describes one finished connection. Keep it compact and
// schema-stable: both drivers persist every field.
type SessionRecord struct {
	ID       string    `json:"id"`
	Side     string    `json:"side"`
	Remote   string    `json:"remote"`
	OpenedAt time.Time `json:"opened_at"`
	ClosedAt time.Time `json:"closed_at"`
	BytesIn  uint64    `json:"bytes_in"`
	BytesOut uint64    `json:"bytes_out"`
	Reason   string    `json:"reason,omitempty"`
}

// Duration is how long the session was open.
func (r SessionRecord) Duration() time.Duration {
	if r.OpenedAt.IsZero() || r.ClosedAt.Before(r.OpenedAt) {
		return 0
	}
	return r.ClosedAt.Sub(r.OpenedAt)
}
