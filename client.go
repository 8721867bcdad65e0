package cablelink

import (
	"sync"

	"github.com/rs/zerolog"
)

// cableLink executes operations over channel subscriptions on a Manager's
// shared connection. Each Subscribe on the returned Stream runs the
// operation once on its own channel.
type cableLink struct {
	manager *Manager
	channel string
}

func (l *cableLink) Execute(op Operation) *Stream {
	return NewStream(func(o Observer) func() {
		l.manager.opts.metrics.IncOperation(KindOf(op))
		h := newChannelOperation(l.manager, l.channel, op, o)
		h.start()
		return h.unsubscribe
	})
}

// Client is the main entry point: one shared cable connection, one router
// and the connection state for the rest of the application.
type Client struct {
	cfg     Config
	manager *Manager
	cable   Link
	router  Link
	states  *Broadcaster
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool

	stopMetrics func()
}

// NewClient creates a client. Nothing is dialed until the first operation.
// Options override what cfg configures.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	resolved, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	base := []Option{
		WithDialer(NewWebsocketDialer(resolved.HandshakeTimeout.Duration, resolved.WriteTimeout.Duration, resolved.Origin)),
		WithChannel(resolved.Channel),
		WithTokenParam(resolved.TokenParam),
		WithStaleTimeout(resolved.StaleTimeout.Duration),
	}
	if resolved.Token != "" {
		token := resolved.Token
		base = append(base, WithTokenProvider(func() string { return token }))
	}
	all := append(base, opts...)
	o := buildOptions(all)

	manager := NewManager(resolved.URL, o.tokens, all...)
	cable := &cableLink{manager: manager, channel: o.channel}

	var router Link = cable
	if o.requestLink != nil {
		router = Split(IsSubscription, cable, o.requestLink)
	}

	metrics := o.metrics
	stop := o.states.Subscribe(func(s ConnectionState) {
		metrics.SetState(s)
	})

	return &Client{
		cfg:         resolved,
		manager:     manager,
		cable:       cable,
		router:      router,
		states:      o.states,
		logger:      o.logger,
		stopMetrics: stop,
	}, nil
}

// Execute routes op: subscriptions go over the cable, everything else to the
// request link when one was configured and over the cable otherwise.
func (c *Client) Execute(op Operation) *Stream {
	if c.isClosed() {
		return ErrorStream(ErrClientClosed)
	}
	return c.router.Execute(op)
}

// Subscribe runs op over the cable regardless of its kind.
func (c *Client) Subscribe(op Operation) *Stream {
	if c.isClosed() {
		return ErrorStream(ErrClientClosed)
	}
	return c.cable.Execute(op)
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return c.states.State()
}

// OnStateChange registers fn for connection state transitions. fn is called
// immediately with the current state. The returned function unregisters it.
// fn may call Reconnect or Close; the transitions they cause are delivered
// after fn returns.
func (c *Client) OnStateChange(fn StateListener) (unsubscribe func()) {
	return c.states.Subscribe(fn)
}

// Reconnect rebuilds the cable connection, reading the token again. Use it
// after a token rotation or when the user asks to try again.
func (c *Client) Reconnect() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	_, err := c.manager.Reconnect()
	return err
}

// Close releases the connection. Open streams end with ErrConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.manager.Release()
	c.stopMetrics()
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
