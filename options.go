package cablelink

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Client or a Manager.
type Option func(*options)

type options struct {
	logger       zerolog.Logger
	metrics      Collector
	dialer       Dialer
	states       *Broadcaster
	onError      ErrorHandler
	tokens       TokenProvider
	requestLink  Link
	staleTimeout time.Duration
	tokenParam   string
	channel      string
}

func defaults() options {
	return options{
		logger:     zerolog.Nop(),
		metrics:    NoopMetrics(),
		states:     DefaultBroadcaster(),
		tokenParam: DefaultTokenParam,
		channel:    DefaultChannel,
	}
}

func buildOptions(opts []Option) options {
	o := defaults()
	for _, opt := range opts {
		opt(&o)
	}
	if o.dialer == nil {
		o.dialer = NewWebsocketDialer(DefaultHandshakeTimeout, DefaultWriteTimeout, "")
	}
	if o.onError == nil {
		o.onError = LogErrors(o.logger)
	}
	return o
}

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(c Collector) Option {
	return func(o *options) {
		if c != nil {
			o.metrics = c
		}
	}
}

// WithDialer replaces the websocket dialer, typically with a fake in tests.
func WithDialer(d Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithBroadcaster publishes connection state to b instead of DefaultBroadcaster().
func WithBroadcaster(b *Broadcaster) Option {
	return func(o *options) {
		if b != nil {
			o.states = b
		}
	}
}

// WithErrorHandler receives faults that cannot be delivered to a stream.
// The default logs them through the configured logger.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) {
		o.onError = fn
	}
}

// WithTokenProvider supplies the auth token read once per connection.
func WithTokenProvider(fn TokenProvider) Option {
	return func(o *options) {
		o.tokens = fn
	}
}

// WithRequestLink routes queries and mutations to link instead of the cable.
func WithRequestLink(link Link) Option {
	return func(o *options) {
		o.requestLink = link
	}
}

// WithStaleTimeout closes a socket that receives no server ping for d.
// Zero disables the monitor.
func WithStaleTimeout(d time.Duration) Option {
	return func(o *options) {
		o.staleTimeout = d
	}
}

// WithTokenParam sets the query parameter that carries the token.
func WithTokenParam(name string) Option {
	return func(o *options) {
		if name != "" {
			o.tokenParam = name
		}
	}
}

// WithChannel sets the server channel operations subscribe to.
func WithChannel(name string) Option {
	return func(o *options) {
		if name != "" {
			o.channel = name
		}
	}
}
