package cablelink

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is the websocket subprotocol negotiated with the cable server.
const Subprotocol = "actioncable-v1-json"

// websocketDialer implements Dialer with gorilla/websocket.
type websocketDialer struct {
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	origin           string
}

// NewWebsocketDialer returns the default Dialer. A zero handshake or write
// timeout disables that deadline.
func NewWebsocketDialer(handshakeTimeout, writeTimeout time.Duration, origin string) Dialer {
	return &websocketDialer{
		handshakeTimeout: handshakeTimeout,
		writeTimeout:     writeTimeout,
		origin:           origin,
	}
}

func (d *websocketDialer) Dial(ctx context.Context, rawURL string) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.handshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	header := http.Header{}
	if d.origin != "" {
		header.Set("Origin", d.origin)
	}

	conn, _, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return &websocketSocket{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type websocketSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (s *websocketSocket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *websocketSocket) WriteMessage(data []byte) error {
	if s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) Close() error {
	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}
