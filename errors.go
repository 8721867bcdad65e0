package cablelink

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Sentinel errors for connection and client state.
var (
	ErrNotConnected     = errors.New("cable is not connected")
	ErrConnectionClosed = errors.New("cable connection was released")
	ErrClientClosed     = errors.New("client is closed")
)

// RejectedError is the terminal stream error for a channel subscription the
// server refused, most commonly because the connection is not authorized.
type RejectedError struct {
	Channel    string
	Identifier string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("channel %s rejected subscription", e.Channel)
}

// ConnectionError represents a failure to construct, dial or write to the
// cable socket.
type ConnectionError struct {
	URL    string
	Reason string
	Err    error // underlying error, if any
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error [%s]: %s", e.URL, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ErrorKind classifies faults that cannot be returned to a caller.
type ErrorKind int

const (
	ErrParseFailure      ErrorKind = iota // inbound frame couldn't be decoded
	ErrUnknownChannel                     // frame addressed to an identifier with no subscription
	ErrTransportWrite                     // failed to write to the socket
	ErrServerDisconnect                   // server announced it is closing the socket
	ErrStaleConnection                    // no ping within the stale timeout
)

var errorKindNames = [...]string{
	ErrParseFailure:     "ErrParseFailure",
	ErrUnknownChannel:   "ErrUnknownChannel",
	ErrTransportWrite:   "ErrTransportWrite",
	ErrServerDisconnect: "ErrServerDisconnect",
	ErrStaleConnection:  "ErrStaleConnection",
}

func (k ErrorKind) String() string {
	if int(k) >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ErrorKind(%d)", k)
}

// SDKError is a fault the adapter could not deliver to a stream. These are
// routed to the ErrorHandler given with WithErrorHandler.
type SDKError struct {
	Kind       ErrorKind
	Identifier string // channel identifier, if known
	Cause      error
	Raw        []byte // raw frame (for parse failures)
	Timestamp  time.Time
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v (identifier=%s)", e.Kind, e.Cause, e.Identifier)
	}
	return fmt.Sprintf("%s (identifier=%s)", e.Kind, e.Identifier)
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ErrorHandler is called for every fault that cannot be returned to a caller.
type ErrorHandler func(SDKError)

// LogErrors returns an ErrorHandler that writes every fault to logger at warn level.
func LogErrors(logger zerolog.Logger) ErrorHandler {
	return func(e SDKError) {
		ev := logger.Warn().Str("kind", e.Kind.String()).Time("at", e.Timestamp)
		if e.Identifier != "" {
			ev = ev.Str("identifier", e.Identifier)
		}
		if e.Cause != nil {
			ev = ev.Err(e.Cause)
		}
		ev.Msg("cable fault")
	}
}
