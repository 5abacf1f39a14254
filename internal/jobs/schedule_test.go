package jobs

import (
	"testing"
	"time"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		raw   string
		kind  Kind
		src   string
		every time.Duration
	}{
		{name: "cron", raw: "*/5 * * * *", kind: KindCron, src: "cron"},
		{name: "cron with seconds", raw: "0 30 3 * * *", kind: KindCron, src: "cron"},
		{name: "descriptor", raw: "@hourly", kind: KindCron, src: "cron"},
		{name: "every descriptor", raw: "@every 1m", kind: KindCron, src: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: KindCron, src: "cron"},
		{name: "duration", raw: "10m", kind: KindInterval, src: "duration", every: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: KindInterval, src: "duration", every: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every: 00:05", kind: KindInterval, src: "hhmm", every: 5 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: KindInterval, src: "hhmm", every: 90 * time.Minute},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q): %v", tt.raw, err)
			}
			if got.Kind != tt.kind || got.Source != tt.src {
				t.Fatalf("got %v/%s, want %v/%s", got.Kind, got.Source, tt.kind, tt.src)
			}
			if tt.kind == KindInterval && got.Every != tt.every {
				t.Fatalf("Every = %v, want %v", got.Every, tt.every)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "0s", "-5m", "01:75", "cron:", "61 * * * *", "interval:soon"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q) succeeded", raw)
		}
	}
}
