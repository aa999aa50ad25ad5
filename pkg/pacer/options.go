package pacer

import (
	"strings"

	"pacer/pkg/eventbus"
	logx "pacer/pkg/logx"
)

type options struct {
	name string
	log  logx.Logger
	bus  eventbus.Bus
}

// Option configures an Engine.
type Option func(*options)

// WithLogger routes engine logs to log. The default is a no-op logger.
func WithLogger(log logx.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithBus publishes task and batch lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(o *options) { o.bus = bus }
}

// WithName labels the batch in logs and events.
func WithName(name string) Option {
	return func(o *options) { o.name = strings.TrimSpace(name) }
}

func buildOptions(opts []Option) options {
	var o options
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	if o.name == "" {
		o.name = "batch"
	}
	if o.log.IsZero() {
		o.log = logx.Nop()
	}
	return o
}
