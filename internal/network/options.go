package network

import (
	"context"

	"golang.org/x/time/rate"

	"netcore/internal/eventbus"
	logx "netcore/pkg/logx"
)

// Spawner starts a named goroutine. *supervisor.Supervisor satisfies it.
type Spawner interface {
	Go(name string, fn func(ctx context.Context) error)
}

type options struct {
	log     logx.Logger
	bus     eventbus.Bus
	spawner Spawner
	warn    *rate.Limiter
}

type Option func(*options)

func WithLogger(log logx.Logger) Option { return func(o *options) { o.log = log } }

// WithBus publishes connection events on bus.
func WithBus(bus eventbus.Bus) Option { return func(o *options) { o.bus = bus } }

// WithSpawner runs accept and connection goroutines through sp.
func WithSpawner(sp Spawner) Option { return func(o *options) { o.spawner = sp } }

// WithWarnRate bounds how many connection I/O failures per second are logged
// at warn level; the rest go to debug.
func WithWarnRate(perSec float64, burst int) Option {
	return func(o *options) {
		if perSec <= 0 {
			o.warn = nil
			return
		}
		o.warn = rate.NewLimiter(rate.Limit(perSec), max(1, burst))
	}
}

func buildOptions(opts []Option) options {
	o := options{warn: rate.NewLimiter(5, 10)}
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return o
}

// goSpawner is the default Spawner: a plain goroutine.
type goSpawner struct{}

func (goSpawner) Go(_ string, fn func(ctx context.Context) error) {
	go func() { _ = fn(context.Background()) }()
}
