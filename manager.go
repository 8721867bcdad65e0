package cablelink

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/rs/zerolog"
)

// TokenProvider returns the current auth token, or "" when there is none.
type TokenProvider func() string

// Manager owns the single shared Connection for one cable endpoint. The
// token is read when a Connection is constructed, so a rotated token only
// takes effect after Reconnect.
type Manager struct {
	url    string
	tokens TokenProvider
	opts   options
	logger zerolog.Logger

	mu   sync.Mutex
	conn *Connection
}

// NewManager returns a Manager for rawURL. Nothing is dialed until Acquire.
func NewManager(rawURL string, tokens TokenProvider, opts ...Option) *Manager {
	o := buildOptions(opts)
	if tokens == nil {
		tokens = o.tokens
	}
	return &Manager{
		url:    rawURL,
		tokens: tokens,
		opts:   o,
		logger: o.logger.With().Str("component", "manager").Logger(),
	}
}

// States returns the Broadcaster this Manager announces transitions on.
func (m *Manager) States() *Broadcaster {
	return m.opts.states
}

// Acquire returns the shared Connection, constructing it on first use.
// A construction failure is announced as StateError and returned as a
// *ConnectionError.
func (m *Manager) Acquire() (*Connection, error) {
	states := m.opts.states

	m.mu.Lock()
	if m.conn != nil {
		c := m.conn
		m.mu.Unlock()
		return c, nil
	}

	c, err := m.construct()
	if err != nil {
		states.post(StateError)
		m.mu.Unlock()
		states.flush()
		return nil, err
	}
	m.conn = c
	states.post(StateConnecting)
	m.mu.Unlock()

	states.flush()
	c.start()
	return c, nil
}

// Release closes the shared Connection and ends every operation on it with
// ErrConnectionClosed. It is a no-op when nothing was acquired.
func (m *Manager) Release() {
	states := m.opts.states

	m.mu.Lock()
	c := m.conn
	m.conn = nil
	if c == nil {
		m.mu.Unlock()
		return
	}
	subs := c.close()
	states.post(StateDisconnected)
	m.mu.Unlock()

	states.flush()
	for _, sub := range subs {
		sub.callbacks.released()
	}
}

// Reconnect replaces the shared Connection with a fresh one, reading the
// token again. Operations still open on the old Connection are moved over and
// resubscribed once the new socket is welcomed.
func (m *Manager) Reconnect() (*Connection, error) {
	states := m.opts.states

	m.mu.Lock()
	old := m.conn
	m.conn = nil

	var subs []*channelSubscription
	if old != nil {
		subs = old.close()
		states.post(StateDisconnected)
	}

	c, err := m.construct()
	if err != nil {
		states.post(StateError)
		m.mu.Unlock()
		states.flush()
		for _, sub := range subs {
			sub.callbacks.rejected(err)
		}
		return nil, err
	}
	c.adopt(subs)
	m.conn = c
	states.post(StateConnecting)
	m.mu.Unlock()

	states.flush()
	m.logger.Info().Int("carried", len(subs)).Msg("reconnecting cable")
	c.start()
	return c, nil
}

// construct builds an unstarted Connection. Callers hold m.mu.
func (m *Manager) construct() (*Connection, error) {
	dialURL, displayURL, err := m.connectionURL()
	if err != nil {
		m.logger.Error().Err(err).Msg("cannot construct cable connection")
		return nil, err
	}

	hooks := connHooks{
		failed: func(c *Connection, _ error) {
			m.announce(c, StateError)
		},
		dropped: func(c *Connection, subscribers int) {
			// With subscribers attached, each operation announces the drop itself.
			if subscribers == 0 {
				m.announce(c, StateDisconnected)
			}
		},
	}
	return newConnection(dialURL, displayURL, &m.opts, hooks), nil
}

// announce broadcasts s for c unless c has already been replaced or released.
func (m *Manager) announce(c *Connection, s ConnectionState) {
	m.mu.Lock()
	if m.conn != c {
		m.mu.Unlock()
		return
	}
	m.opts.states.post(s)
	m.mu.Unlock()
	m.opts.states.flush()
}

// connectionURL appends the token to the configured URL. http(s) schemes are
// mapped to ws(s).
func (m *Manager) connectionURL() (dial, display string, err error) {
	u, err := url.Parse(m.url)
	if err != nil {
		return "", "", &ConnectionError{URL: m.url, Reason: err.Error(), Err: err}
	}

	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", "", &ConnectionError{URL: m.url, Reason: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Host == "" {
		return "", "", &ConnectionError{URL: m.url, Reason: "missing host"}
	}

	shown := *u
	shown.RawQuery = ""
	display = shown.String()

	if m.tokens != nil {
		if token := m.tokens(); token != "" {
			q := u.Query()
			q.Set(m.opts.tokenParam, token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), display, nil
}
