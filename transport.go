package cablelink

import "context"

// Socket is one open message-oriented connection to the cable server.
// The production implementation uses gorilla/websocket (websocket.go); tests
// substitute an in-memory fake.
type Socket interface {
	// ReadMessage blocks until the next text frame arrives or the socket fails.
	ReadMessage() ([]byte, error)

	// WriteMessage sends one text frame. Callers serialize writes.
	WriteMessage(data []byte) error

	// Close tears the socket down and unblocks a pending ReadMessage.
	Close() error
}

// Dialer opens Sockets.
type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Socket, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, rawURL string) (Socket, error)

func (f DialerFunc) Dial(ctx context.Context, rawURL string) (Socket, error) {
	return f(ctx, rawURL)
}
