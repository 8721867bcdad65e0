package cablelink

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// channelOperation drives one operation over its own channel subscription:
// subscribe, wait for the confirmation, send the payload, relay frames until
// one arrives without the continuation flag.
type channelOperation struct {
	op      Operation
	manager *Manager
	sink    Observer
	logger  zerolog.Logger
	onError ErrorHandler

	sub *channelSubscription

	mu       sync.Mutex // held while deciding to send, so cancel and send never interleave
	finished bool
	sends    int
}

func newChannelOperation(m *Manager, channel string, op Operation, sink Observer) *channelOperation {
	h := &channelOperation{
		op:      op,
		manager: m,
		sink:    sink,
		onError: m.opts.onError,
	}
	h.sub = &channelSubscription{
		channel:    channel,
		identifier: newIdentifier(channel),
		callbacks: channelCallbacks{
			connected:    h.handleConnected,
			disconnected: h.handleDisconnected,
			rejected:     h.handleRejected,
			received:     h.handleReceived,
			released:     h.handleReleased,
		},
	}
	h.logger = m.opts.logger.With().
		Str("component", "operation").
		Str("operation", op.OperationName).
		Str("identifier", h.sub.identifier).
		Logger()
	return h
}

// start acquires the shared connection and registers the channel. Failures
// end the stream with an error.
func (h *channelOperation) start() {
	conn, err := h.manager.Acquire()
	if err != nil {
		h.terminate(func() { h.sink.Error(err) })
		return
	}
	if err := conn.subscribe(h.sub); err != nil {
		h.manager.announce(conn, StateError)
		h.terminate(func() { h.sink.Error(err) })
		return
	}
	h.logger.Debug().Msg("channel subscription requested")
}

// unsubscribe cancels the operation. After it returns no payload is sent.
func (h *channelOperation) unsubscribe() {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.mu.Unlock()

	h.sub.remove()
	h.logger.Debug().Msg("operation cancelled")
}

func (h *channelOperation) handleConnected() {
	if h.isFinished() {
		return
	}
	h.manager.announce(h.sub.connection(), StateConnected)

	data, err := encodeExecute(h.op)
	if err != nil {
		h.sub.remove()
		h.terminate(func() { h.sink.Error(err) })
		return
	}

	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	err = h.sub.perform(data)
	switch {
	case err == nil:
		h.sends++
		sends := h.sends
		h.mu.Unlock()
		h.logger.Debug().Int("sends", sends).Msg("operation payload sent")
		return
	case errors.Is(err, ErrNotConnected):
		// The socket went away after the confirmation; the drop is announced
		// separately and Reconnect resends on the next confirmation.
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.mu.Unlock()

	h.logger.Warn().Err(err).Msg("operation payload write failed")
	h.sub.remove()
	h.sink.Error(&ConnectionError{
		URL:    h.connectionURL(),
		Reason: fmt.Sprintf("send operation: %v", err),
		Err:    err,
	})
}

func (h *channelOperation) connectionURL() string {
	if c := h.sub.connection(); c != nil {
		return c.displayURL
	}
	return ""
}

func (h *channelOperation) handleReceived(raw json.RawMessage) {
	if h.isFinished() {
		return
	}

	frame, err := parseFrame(raw)
	if err != nil {
		h.onError(SDKError{Kind: ErrParseFailure, Identifier: h.sub.identifier, Cause: err, Raw: raw, Timestamp: time.Now()})
		return
	}
	if frame.Result == nil {
		return
	}

	if !frame.Result.empty() {
		h.sink.Next(frame.Result)
	}
	if !frame.More {
		h.sub.remove()
		h.terminate(h.sink.Complete)
	}
}

func (h *channelOperation) handleRejected(err error) {
	h.manager.announce(h.sub.connection(), StateError)
	h.terminate(func() { h.sink.Error(err) })
}

func (h *channelOperation) handleDisconnected() {
	if h.isFinished() {
		return
	}
	h.manager.announce(h.sub.connection(), StateDisconnected)
}

func (h *channelOperation) handleReleased() {
	h.terminate(func() { h.sink.Error(ErrConnectionClosed) })
}

// terminate marks the operation finished and runs the terminal event once.
func (h *channelOperation) terminate(event func()) {
	h.mu.Lock()
	if h.finished {
		h.mu.Unlock()
		return
	}
	h.finished = true
	h.mu.Unlock()
	event()
}

func (h *channelOperation) isFinished() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}

