package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("250ms", "10s", "1m").
//
// Example (YAML):
//
//	listener: { host: 0.0.0.0, port: 7000, backlog: 100 }
//	scheduler: { interval: 10ms }
//	jobs:
//	  - { name: heartbeat, schedule: 30s, action: heartbeat, payload: "ping\n" }
//	  - { name: nightly-prune, schedule: "0 3 * * *", action: prune }
//	storage: { driver: sqlite, path: ./data/sessions.db, retention: 168h }
type Config struct {
	Listener  ListenerConfig  `json:"listener"`
	Connector ConnectorConfig `json:"connector"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Jobs      []JobConfig     `json:"jobs,omitempty"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Debug     *DebugConfig    `json:"debug,omitempty"`
}

type ListenerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Backlog        int    `json:"backlog,omitempty"`          // default 100
	ReadBufferSize int    `json:"read_buffer_size,omitempty"` // default 1024
	// WarnRatePerSec bounds per-connection I/O warnings; the rest log at debug.
	WarnRatePerSec float64 `json:"warn_rate_per_sec,omitempty"`
}

type ConnectorConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	DialTimeout    string `json:"dial_timeout,omitempty"`
	ReadBufferSize int    `json:"read_buffer_size,omitempty"`
	// Reconnect redials with backoff after connect failures.
	Reconnect        bool   `json:"reconnect,omitempty"`
	ReconnectBackoff string `json:"reconnect_backoff,omitempty"` // default 500ms
}

type SchedulerConfig struct {
	// Interval is the pause between scheduler cycles (default 10ms).
	Interval      string `json:"interval,omitempty"`
	DestroyOnStop bool   `json:"destroy_on_stop,omitempty"`
	// Timezone applies to cron job schedules. Empty means local time.
	Timezone string `json:"timezone,omitempty"`
}

// JobConfig declares recurring work run through the scheduler.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Action   string `json:"action"`
	// Payload is the heartbeat line; ignored by other actions.
	Payload  string `json:"payload,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Alerts  LoggingAlerts `json:"alerts"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingAlerts mirrors high-severity records to stderr, rate limited.
type LoggingAlerts struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the session journal.
//
//	"storage": { "driver": "file", "path": "./data/sessions" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
	// Retention is how long closed sessions are kept by the prune action.
	Retention string `json:"retention,omitempty"`
}

// DebugConfig enables the introspection HTTP server (pprof, /healthz, /status).
// A non-loopback addr needs a token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default 127.0.0.1:6060
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Default returns a config that serves on 127.0.0.1:7000 with console logging.
func Default() *Config {
	return &Config{
		Listener:  ListenerConfig{Host: "127.0.0.1", Port: 7000},
		Connector: ConnectorConfig{Host: "127.0.0.1", Port: 7000, DialTimeout: "5s"},
		Scheduler: SchedulerConfig{Interval: "10ms"},
		Logging:   LoggingConfig{Level: "info", Console: true},
	}
}
