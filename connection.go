package cablelink

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type connStatus int

const (
	connDialing connStatus = iota
	connOpen
	connDropped
	connFailed
	connClosed
)

var connStatusNames = [...]string{
	connDialing: "dialing",
	connOpen:    "open",
	connDropped: "dropped",
	connFailed:  "failed",
	connClosed:  "closed",
}

func (s connStatus) String() string {
	if int(s) >= 0 && int(s) < len(connStatusNames) {
		return connStatusNames[s]
	}
	return fmt.Sprintf("connStatus(%d)", s)
}

// channelCallbacks are the slots a channel subscription exposes to the
// connection. All of them except released run on the connection's reader
// goroutine, one at a time.
type channelCallbacks struct {
	connected    func()
	disconnected func()
	rejected     func(error)
	received     func(json.RawMessage)
	released     func()
}

// channelSubscription binds one operation to an identifier on the shared
// connection. Reconnect moves it to a new Connection.
type channelSubscription struct {
	channel    string
	identifier string
	callbacks  channelCallbacks

	mu   sync.Mutex
	conn *Connection
}

func (s *channelSubscription) connection() *Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *channelSubscription) setConnection(c *Connection) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

func (s *channelSubscription) perform(data string) error {
	c := s.connection()
	if c == nil {
		return ErrNotConnected
	}
	return c.perform(s.identifier, data)
}

func (s *channelSubscription) remove() {
	if c := s.connection(); c != nil {
		c.unsubscribe(s)
	}
}

// connHooks let the Manager observe socket-level outcomes.
type connHooks struct {
	failed  func(c *Connection, err error)
	dropped func(c *Connection, subscribers int)
}

// Connection is the one socket all channel subscriptions multiplex onto.
// It is created by a Manager and never reused after it fails or is closed.
type Connection struct {
	url          string // dial URL, includes the token
	displayURL   string // URL without query, safe to log
	dialer       Dialer
	logger       zerolog.Logger
	metrics      Collector
	onError      ErrorHandler
	hooks        connHooks
	staleTimeout time.Duration

	mu       sync.Mutex // protects everything below and orders subscribe/unsubscribe writes
	status   connStatus
	sock     Socket
	welcomed bool
	failErr  error
	subs     map[string]*channelSubscription
	queued   []string // identifiers whose subscribe command waits for welcome
	lastPing time.Time

	writeMu sync.Mutex // serializes socket writes

	ctx    context.Context // cancelled by close; set once in newConnection
	cancel context.CancelFunc
	done   chan struct{}
}

func newConnection(dialURL, displayURL string, o *options, hooks connHooks) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ctx:          ctx,
		cancel:       cancel,
		url:          dialURL,
		displayURL:   displayURL,
		dialer:       o.dialer,
		logger:       o.logger.With().Str("component", "cable").Str("url", displayURL).Logger(),
		metrics:      o.metrics,
		onError:      o.onError,
		hooks:        hooks,
		staleTimeout: o.staleTimeout,
		subs:         make(map[string]*channelSubscription),
		done:         make(chan struct{}),
	}
}

// start dials in the background. Construction never blocks on the network.
// A Connection closed before start never dials.
func (c *Connection) start() {
	c.mu.Lock()
	closed := c.status == connClosed
	c.mu.Unlock()
	if closed {
		return
	}
	go c.run(c.ctx)
}

func (c *Connection) run(ctx context.Context) {
	sock, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.fail(&ConnectionError{URL: c.displayURL, Reason: err.Error(), Err: err})
		return
	}

	c.mu.Lock()
	if c.status == connClosed {
		c.mu.Unlock()
		sock.Close()
		return
	}
	c.sock = sock
	c.status = connOpen
	c.lastPing = time.Now()
	c.mu.Unlock()

	c.logger.Info().Msg("cable socket open")

	if c.staleTimeout > 0 {
		go c.monitorLoop(sock)
	}
	c.readLoop(sock)
}

func (c *Connection) readLoop(sock Socket) {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			c.drop(sock, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	var msg cableMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.report(SDKError{Kind: ErrParseFailure, Raw: data, Cause: err})
		return
	}

	switch msg.Type {
	case typeWelcome:
		c.handleWelcome()
	case typePing:
		c.mu.Lock()
		c.lastPing = time.Now()
		c.mu.Unlock()
	case typeDisconnect:
		c.logger.Warn().Str("reason", msg.Reason).Msg("server announced disconnect")
		c.report(SDKError{Kind: ErrServerDisconnect, Cause: fmt.Errorf("server disconnect: %s", msg.Reason)})
	case typeConfirm:
		if sub := c.lookup(msg.Identifier); sub != nil {
			c.logger.Debug().Str("identifier", msg.Identifier).Msg("subscription confirmed")
			sub.callbacks.connected()
		}
	case typeReject:
		if sub := c.take(msg.Identifier); sub != nil {
			c.logger.Warn().Str("identifier", msg.Identifier).Msg("subscription rejected")
			c.metrics.IncRejection()
			sub.callbacks.rejected(&RejectedError{Channel: sub.channel, Identifier: sub.identifier})
		}
	case "":
		if msg.Identifier == "" || len(msg.Message) == 0 {
			return
		}
		if sub := c.lookup(msg.Identifier); sub != nil {
			c.metrics.IncFrame()
			sub.callbacks.received(msg.Message)
		}
	default:
		c.logger.Debug().Str("type", msg.Type).Msg("ignoring cable message")
	}
}

func (c *Connection) handleWelcome() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status != connOpen {
		return
	}
	c.welcomed = true
	queued := c.queued
	c.queued = nil
	c.logger.Debug().Int("queued", len(queued)).Msg("cable welcomed")
	for _, id := range queued {
		c.sendLocked(cableCommand{Command: commandSubscribe, Identifier: id})
	}
}

// lookup returns the subscription for identifier or reports an unknown channel.
func (c *Connection) lookup(identifier string) *channelSubscription {
	c.mu.Lock()
	sub := c.subs[identifier]
	c.mu.Unlock()
	if sub == nil {
		c.report(SDKError{Kind: ErrUnknownChannel, Identifier: identifier})
	}
	return sub
}

// take is lookup plus removal.
func (c *Connection) take(identifier string) *channelSubscription {
	c.mu.Lock()
	sub := c.subs[identifier]
	delete(c.subs, identifier)
	c.mu.Unlock()
	if sub == nil {
		c.report(SDKError{Kind: ErrUnknownChannel, Identifier: identifier})
	}
	return sub
}

// subscribe registers sub. Its subscribe command goes out now if the server
// already welcomed this socket and otherwise on welcome. On a dropped
// connection the subscription waits for Reconnect to move it.
func (c *Connection) subscribe(sub *channelSubscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.status {
	case connFailed:
		return c.failErr
	case connClosed:
		return ErrConnectionClosed
	}

	sub.setConnection(c)
	c.subs[sub.identifier] = sub

	switch {
	case c.status == connOpen && c.welcomed:
		c.sendLocked(cableCommand{Command: commandSubscribe, Identifier: sub.identifier})
	case c.status != connDropped:
		c.queued = append(c.queued, sub.identifier)
	}
	return nil
}

// unsubscribe removes sub. A subscription whose subscribe command never left
// the queue is dropped silently.
func (c *Connection) unsubscribe(sub *channelSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subs[sub.identifier] != sub {
		return
	}
	delete(c.subs, sub.identifier)

	if i := slices.Index(c.queued, sub.identifier); i >= 0 {
		c.queued = slices.Delete(c.queued, i, i+1)
		return
	}
	if c.status == connOpen && c.welcomed {
		c.sendLocked(cableCommand{Command: commandUnsubscribe, Identifier: sub.identifier})
	}
}

// perform sends a message command for identifier.
func (c *Connection) perform(identifier, data string) error {
	c.mu.Lock()
	sock := c.sock
	ready := c.status == connOpen && c.welcomed
	_, registered := c.subs[identifier]
	c.mu.Unlock()

	if !ready || sock == nil || !registered {
		return ErrNotConnected
	}
	return c.write(sock, cableCommand{Command: commandMessage, Identifier: identifier, Data: data})
}

// adopt registers subscriptions carried over from a previous connection.
// Must be called before start.
func (c *Connection) adopt(subs []*channelSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range subs {
		sub.setConnection(c)
		c.subs[sub.identifier] = sub
		c.queued = append(c.queued, sub.identifier)
	}
}

// close shuts the socket and hands back every subscription still registered.
func (c *Connection) close() []*channelSubscription {
	c.mu.Lock()
	if c.status == connClosed {
		c.mu.Unlock()
		return nil
	}
	c.status = connClosed
	sock := c.sock
	c.sock = nil
	subs := c.drainLocked()
	c.mu.Unlock()

	c.cancel()
	close(c.done)
	if sock != nil {
		sock.Close()
	}
	c.logger.Info().Int("subscriptions", len(subs)).Msg("cable socket closed")
	return subs
}

func (c *Connection) fail(err error) {
	c.mu.Lock()
	if c.status == connClosed {
		c.mu.Unlock()
		return
	}
	c.status = connFailed
	c.failErr = err
	subs := c.drainLocked()
	c.mu.Unlock()

	c.logger.Error().Err(err).Int("pending", len(subs)).Msg("cable dial failed")
	if c.hooks.failed != nil {
		c.hooks.failed(c, err)
	}
	for _, sub := range subs {
		sub.callbacks.rejected(err)
	}
}

// drop handles a socket that died without being closed by us. Subscriptions
// stay registered so a Reconnect can move them.
func (c *Connection) drop(sock Socket, err error) {
	c.mu.Lock()
	if c.status == connClosed || c.sock != sock {
		c.mu.Unlock()
		return
	}
	c.status = connDropped
	c.sock = nil
	c.welcomed = false
	c.queued = nil
	subs := make([]*channelSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	sock.Close()
	c.logger.Warn().Err(err).Int("subscriptions", len(subs)).Msg("cable socket dropped")

	if c.hooks.dropped != nil {
		c.hooks.dropped(c, len(subs))
	}
	for _, sub := range subs {
		sub.callbacks.disconnected()
	}
}

func (c *Connection) drainLocked() []*channelSubscription {
	subs := make([]*channelSubscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*channelSubscription)
	c.queued = nil
	return subs
}

// monitorLoop closes a socket that stopped receiving pings. The read error
// that follows is handled as a drop.
func (c *Connection) monitorLoop(sock Socket) {
	interval := c.staleTimeout / 2
	if interval <= 0 {
		interval = c.staleTimeout
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.sock == sock
			silent := time.Since(c.lastPing)
			c.mu.Unlock()

			if !current {
				return
			}
			if silent > c.staleTimeout {
				c.report(SDKError{Kind: ErrStaleConnection, Cause: fmt.Errorf("no ping for %s", silent.Round(time.Millisecond))})
				sock.Close()
				return
			}
		}
	}
}

func (c *Connection) sendLocked(cmd cableCommand) {
	if c.sock == nil {
		return
	}
	if err := c.write(c.sock, cmd); err != nil {
		c.report(SDKError{Kind: ErrTransportWrite, Identifier: cmd.Identifier, Cause: err})
	}
}

func (c *Connection) write(sock Socket, cmd cableCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.WriteMessage(data)
}

func (c *Connection) report(e SDKError) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if c.onError != nil {
		c.onError(e)
	}
}

// statusValue is used by tests.
func (c *Connection) statusValue() connStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
