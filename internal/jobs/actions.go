package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/dustin/go-humanize"

	"netcore/internal/storage"
	logx "netcore/pkg/logx"
)

// Built-in action names.
const (
	ActionHeartbeat = "heartbeat"
	ActionStats     = "stats"
	ActionPrune     = "prune"
)

// DefaultRetention is used by Prune when no retention is configured.
const DefaultRetention = 7 * 24 * time.Hour

// Heartbeat sends the job payload (or "heartbeat\n") through send, which
// returns how many peers it reached.
func Heartbeat(send func(data []byte) int, log logx.Logger) ActionFunc {
	return func(_ context.Context, def Def) error {
		payload := def.Payload
		if payload == "" {
			payload = "heartbeat\n"
		}
		n := send([]byte(payload))
		log.Debug("heartbeat sent", logx.String("job", def.Name), logx.Int("peers", n))
		return nil
	}
}

// Traffic is what the stats action reports.
type Traffic struct {
	Connections int
	BytesIn     uint64
	BytesOut    uint64
	Waiting     int
	Running     int
}

// Stats logs a traffic summary taken from source.
func Stats(source func() Traffic, log logx.Logger) ActionFunc {
	return func(_ context.Context, def Def) error {
		t := source()
		log.Info("traffic",
			logx.String("job", def.Name),
			logx.Int("connections", t.Connections),
			logx.String("in", humanize.Bytes(t.BytesIn)),
			logx.String("out", humanize.Bytes(t.BytesOut)),
			logx.Int("tasks_waiting", t.Waiting),
			logx.Int("tasks_running", t.Running),
		)
		return nil
	}
}

// Prune deletes sessions older than retention from store. retention() is
// read on every run so config reloads apply.
func Prune(store storage.Store, retention func() time.Duration, log logx.Logger) ActionFunc {
	return func(ctx context.Context, def Def) error {
		if store == nil {
			return errors.New("storage disabled")
		}
		keep := DefaultRetention
		if retention != nil {
			if d := retention(); d > 0 {
				keep = d
			}
		}
		cutoff := time.Now().Add(-keep)
		n, err := store.PruneSessions(ctx, cutoff)
		if err != nil {
			return err
		}
		log.Info("sessions pruned",
			logx.String("job", def.Name),
			logx.Int("removed", n),
			logx.String("older_than", humanize.Time(cutoff)),
		)
		return nil
	}
}
