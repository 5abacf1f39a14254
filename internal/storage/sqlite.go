package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "netcore/pkg/logx"
)

//go:embed migrations.sql
var migrations string

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			log.Debug("sqlite pragma failed", logx.String("pragma", pragma), logx.Err(err))
		}
	}

	if _, err := db.ExecContext(context.Background(), migrations); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &sqliteStore{db: db, log: log}, nil
}

func (s *sqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *sqliteStore) AppendSession(ctx context.Context, r SessionRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	if r.ClosedAt.IsZero() {
		r.ClosedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id, side, remote, opened_at, closed_at, bytes_in, bytes_out, reason)
		 VALUES(?,?,?,?,?,?,?,?)`,
		r.ID, r.Side, nullStr(r.Remote), r.OpenedAt.UnixMilli(), r.ClosedAt.UnixMilli(),
		int64(r.BytesIn), int64(r.BytesOut), nullStr(r.Reason),
	)
	return err
}

func (s *sqliteStore) RecentSessions(ctx context.Context, n int) ([]SessionRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, side, remote, opened_at, closed_at, bytes_in, bytes_out, reason
		 FROM sessions ORDER BY closed_at DESC, seq DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var (
			r                 SessionRecord
			remote, reason    sql.NullString
			opened, closed    int64
			bytesIn, bytesOut int64
		)
		if err := rows.Scan(&r.ID, &r.Side, &remote, &opened, &closed, &bytesIn, &bytesOut, &reason); err != nil {
			return nil, err
		}
		r.Remote = remote.String
		r.Reason = reason.String
		r.OpenedAt = time.UnixMilli(opened)
		r.ClosedAt = time.UnixMilli(closed)
		r.BytesIn = uint64(bytesIn)
		r.BytesOut = uint64(bytesOut)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE closed_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
