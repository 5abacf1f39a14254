package config

import (
	"reflect"

	logx "netcore/pkg/logx"
)

// Change summarizes the difference between two configs.
type Change struct {
	// Sections lists changed top-level sections in declaration order.
	Sections []string
	// Fields are log attributes describing the new values of changed sections.
	Fields []logx.Field
	// RestartRequired is set when a section that is only read at startup
	// (listener, connector, storage, debug) changed.
	RestartRequired bool
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares the sections of two configs. A nil side counts as empty.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var c Change

	if oldCfg.Listener != newCfg.Listener {
		c.Sections = append(c.Sections, "listener")
		c.Fields = append(c.Fields,
			logx.String("listener.host", newCfg.Listener.Host),
			logx.Int("listener.port", newCfg.Listener.Port),
		)
		c.RestartRequired = true
	}
	if oldCfg.Connector != newCfg.Connector {
		c.Sections = append(c.Sections, "connector")
		c.Fields = append(c.Fields,
			logx.String("connector.host", newCfg.Connector.Host),
			logx.Int("connector.port", newCfg.Connector.Port),
		)
		c.RestartRequired = true
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		c.Sections = append(c.Sections, "scheduler")
		c.Fields = append(c.Fields,
			logx.String("scheduler.interval", newCfg.Scheduler.Interval),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Jobs, newCfg.Jobs) {
		c.Sections = append(c.Sections, "jobs")
		c.Fields = append(c.Fields, logx.Int("jobs.count", len(newCfg.Jobs)))
	}
	if oldCfg.Logging != newCfg.Logging {
		c.Sections = append(c.Sections, "logging")
		c.Fields = append(c.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.alerts", newCfg.Logging.Alerts.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		c.Sections = append(c.Sections, "storage")
		driver := ""
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		c.Fields = append(c.Fields, logx.String("storage.driver", driver))
		c.RestartRequired = true
	}
	if !reflect.DeepEqual(oldCfg.Debug, newCfg.Debug) {
		c.Sections = append(c.Sections, "debug")
		enabled := newCfg.Debug != nil && newCfg.Debug.Enabled
		c.Fields = append(c.Fields, logx.Bool("debug.enabled", enabled))
		c.RestartRequired = true
	}
	return c
}
