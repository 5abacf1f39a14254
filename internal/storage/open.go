package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "netcore/pkg/logx"
)

// Store persists session records.
type Store interface {
	AppendSession(ctx context.Context, r SessionRecord) error
	// RecentSessions returns up to n records, most recently closed first.
	RecentSessions(ctx context.Context, n int) ([]SessionRecord, error)
	// PruneSessions deletes records closed before cutoff and reports how many.
	PruneSessions(ctx context.Context, cutoff time.Time) (int, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
