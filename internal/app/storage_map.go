package app

import (
	"fmt"
	"strings"
	"time"

	"netcore/internal/config"
	"netcore/internal/jobs"
	"netcore/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// retention reads the prune window from the committed config so hot reloads
// take effect on the next run.
func retention(cfgm *config.ConfigManager) func() time.Duration {
	return func() time.Duration {
		cfg := cfgm.Get()
		if cfg == nil || cfg.Storage == nil {
			return jobs.DefaultRetention
		}
		d, err := config.DurationOr("storage.retention", cfg.Storage.Retention, jobs.DefaultRetention)
		if err != nil {
			return jobs.DefaultRetention
		}
		return d
	}
}
