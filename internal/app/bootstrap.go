package app

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"netcore/internal/config"
	"netcore/internal/jobs"
	"netcore/internal/network"
	"netcore/internal/observability/debughttp"
	"netcore/internal/task"
	logx "netcore/pkg/logx"
)

const defaultReconnectBackoff = 500 * time.Millisecond

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Alerts.Enabled,
			MinLevel:   cfg.Logging.Alerts.MinLevel,
			RatePerSec: cfg.Logging.Alerts.RatePerSec,
		},
	}
}

func mapScheduler(cfg *config.Config) (task.Config, error) {
	iv, err := config.DurationOr("scheduler.interval", cfg.Scheduler.Interval, task.DefaultInterval)
	if err != nil {
		return task.Config{}, err
	}
	return task.Config{Interval: iv, DestroyOnStop: cfg.Scheduler.DestroyOnStop}, nil
}

func loadLocation(cfg *config.Config) (*time.Location, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

func mapListener(cfg *config.Config, addr string) (network.ListenerConfig, error) {
	lc := network.ListenerConfig{
		Host:           cfg.Listener.Host,
		Port:           cfg.Listener.Port,
		Backlog:        cfg.Listener.Backlog,
		ReadBufferSize: cfg.Listener.ReadBufferSize,
	}
	if addr != "" {
		host, port, err := splitAddr(addr)
		if err != nil {
			return lc, err
		}
		lc.Host, lc.Port = host, port
	}
	return lc, nil
}

func mapConnector(cfg *config.Config, addr string) (network.ConnectorConfig, error) {
	dt, err := config.ParseDuration("connector.dial_timeout", cfg.Connector.DialTimeout)
	if err != nil {
		return network.ConnectorConfig{}, err
	}
	cc := network.ConnectorConfig{
		Host:           cfg.Connector.Host,
		Port:           cfg.Connector.Port,
		DialTimeout:    dt,
		ReadBufferSize: cfg.Connector.ReadBufferSize,
	}
	if addr != "" {
		host, port, err := splitAddr(addr)
		if err != nil {
			return cc, err
		}
		cc.Host, cc.Port = host, port
	}
	return cc, nil
}

func splitAddr(addr string) (string, int, error) {
	host, ps, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("addr %q: %w", addr, err)
	}
	port, err := strconv.Atoi(ps)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("addr %q: invalid port", addr)
	}
	return host, port, nil
}

func jobDefs(cfg *config.Config) []jobs.Def {
	out := make([]jobs.Def, 0, len(cfg.Jobs))
	for _, j := range cfg.Jobs {
		if j.Disabled {
			continue
		}
		out = append(out, jobs.Def{
			Name:     j.Name,
			Schedule: j.Schedule,
			Action:   j.Action,
			Payload:  j.Payload,
		})
	}
	return out
}

func mapDebug(cfg *config.Config) (debughttp.Config, bool, error) {
	if cfg.Debug == nil || !cfg.Debug.Enabled {
		return debughttp.Config{}, false, nil
	}
	dc := debughttp.Config{
		Addr:          cfg.Debug.Addr,
		Token:         cfg.Debug.Token,
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
	if err := debughttp.CheckAddr(dc); err != nil {
		return dc, false, fmt.Errorf("debug.addr: %w", err)
	}
	return dc, true, nil
}
