package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "netcore/pkg/logx"
)

// fileStore appends one JSON object per line to <prefix>.sessions.jsonl.
// Records land in close order, so the tail of the file is the newest.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{log: log, path: filepath.Join(dir, base) + ".sessions.jsonl"}
	f, err := s.openAppend()
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) openAppend() (*os.File, error) {
	return os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendSession(_ context.Context, r SessionRecord) error {
	if r.ClosedAt.IsZero() {
		r.ClosedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) RecentSessions(ctx context.Context, n int) ([]SessionRecord, error) {
	if n <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	ring := make([]SessionRecord, 0, n)
	next := 0
	err := s.scan(ctx, func(r SessionRecord) {
		if len(ring) < n {
			ring = append(ring, r)
			return
		}
		ring[next] = r
		next = (next + 1) % n
	})
	if err != nil {
		return nil, err
	}
	out := make([]SessionRecord, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

// PruneSessions rewrites the journal without the expired records.
func (s *fileStore) PruneSessions(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}
	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)
	removed := 0
	var encErr error
	err = s.scan(ctx, func(r SessionRecord) {
		if r.ClosedAt.Before(cutoff) {
			removed++
			return
		}
		if encErr == nil {
			encErr = enc.Encode(r)
		}
	})
	if err == nil {
		err = encErr
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if removed == 0 {
		_ = os.Remove(tmp)
		return 0, nil
	}

	_ = s.f.Close()
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		s.f, _ = s.openAppend()
		return 0, err
	}
	f, err := s.openAppend()
	if err != nil {
		return removed, err
	}
	s.f = f
	s.log.Debug("sessions pruned", logx.Int("removed", removed))
	return removed, nil
}

// scan calls fn for every decodable line. Corrupt lines are skipped.
func (s *fileStore) scan(ctx context.Context, fn func(SessionRecord)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r SessionRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		fn(r)
	}
	return sc.Err()
}
