package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate checks structure and field formats. Job schedules and actions are
// checked by the owner of the job runner through the manager's validator hook.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	port := func(path string, p int) error {
		if p < 0 || p > 65535 {
			return fmt.Errorf("%s: port %d out of range", path, p)
		}
		return nil
	}

	check(port("listener.port", cfg.Listener.Port))
	if cfg.Listener.Backlog < 0 {
		check(errors.New("listener.backlog must be >= 0"))
	}
	if cfg.Listener.ReadBufferSize < 0 || cfg.Connector.ReadBufferSize < 0 {
		check(errors.New("read_buffer_size must be >= 0"))
	}
	if cfg.Listener.WarnRatePerSec < 0 {
		check(errors.New("listener.warn_rate_per_sec must be >= 0"))
	}
	check(port("connector.port", cfg.Connector.Port))
	_, err := ParseDuration("connector.dial_timeout", cfg.Connector.DialTimeout)
	check(err)
	_, err = ParseDuration("connector.reconnect_backoff", cfg.Connector.ReconnectBackoff)
	check(err)
	_, err = ParseDuration("scheduler.interval", cfg.Scheduler.Interval)
	check(err)
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err))
		}
	}

	seen := map[string]bool{}
	for i, j := range cfg.Jobs {
		name := strings.TrimSpace(j.Name)
		switch {
		case name == "":
			check(fmt.Errorf("jobs[%d].name is required", i))
		case seen[name]:
			check(fmt.Errorf("jobs[%d]: duplicate name %q", i, name))
		}
		seen[name] = true
		if strings.TrimSpace(j.Schedule) == "" {
			check(fmt.Errorf("jobs[%d].schedule is required", i))
		}
		if strings.TrimSpace(j.Action) == "" {
			check(fmt.Errorf("jobs[%d].action is required", i))
		}
	}

	if sc := cfg.Storage; sc != nil {
		switch strings.ToLower(strings.TrimSpace(sc.Driver)) {
		case "", "none", "file":
		case "sqlite", "sqlite3":
			if strings.TrimSpace(sc.Path) == "" {
				check(errors.New("storage.path is required when storage.driver=sqlite"))
			}
		default:
			check(fmt.Errorf("unknown storage.driver: %s", sc.Driver))
		}
		_, err = ParseDuration("storage.busy_timeout", sc.BusyTimeout)
		check(err)
		_, err = ParseDuration("storage.retention", sc.Retention)
		check(err)
	}
	return errors.Join(errs...)
}
