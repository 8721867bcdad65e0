package cablelink

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Inbound connection-level message types.
const (
	typeWelcome    = "welcome"
	typePing       = "ping"
	typeDisconnect = "disconnect"
	typeConfirm    = "confirm_subscription"
	typeReject     = "reject_subscription"
)

// Outbound commands.
const (
	commandSubscribe   = "subscribe"
	commandUnsubscribe = "unsubscribe"
	commandMessage     = "message"
)

// executeAction is the channel action that runs a GraphQL operation.
const executeAction = "execute"

// cableMessage is everything the server can send on the socket. Connection
// messages carry only Type; channel frames carry Identifier and Message.
type cableMessage struct {
	Type       string          `json:"type,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Message    json.RawMessage `json:"message,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Reconnect  *bool           `json:"reconnect,omitempty"`
}

// cableCommand is the client-to-server wire format.
type cableCommand struct {
	Command    string `json:"command"`
	Identifier string `json:"identifier"`
	Data       string `json:"data,omitempty"`
}

// channelIdentifier is encoded as a JSON string and used verbatim as the
// routing key for one operation.
type channelIdentifier struct {
	Channel   string `json:"channel"`
	ChannelID string `json:"channelId"`
}

// newIdentifier returns a unique identifier on the named channel.
func newIdentifier(channel string) string {
	b, _ := json.Marshal(channelIdentifier{Channel: channel, ChannelID: generateID()})
	return string(b)
}

// generateID returns a new unique channel ID.
func generateID() string {
	return uuid.New().String()
}

// executePayload is the request frame sent once the channel is confirmed.
type executePayload struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName,omitempty"`
	Action        string         `json:"action"`
}

func encodeExecute(op Operation) (string, error) {
	vars := op.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	b, err := json.Marshal(executePayload{
		Query:         op.Query,
		Variables:     vars,
		OperationName: op.OperationName,
		Action:        executeAction,
	})
	if err != nil {
		return "", fmt.Errorf("marshal operation %q: %w", op.OperationName, err)
	}
	return string(b), nil
}

// Frame is one result unit received for a channel subscription.
type Frame struct {
	Result *Result `json:"result"`
	More   bool    `json:"more"`
}

// Result is the payload of a frame: GraphQL data and/or errors.
type Result struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors []Error         `json:"errors,omitempty"`
}

// empty reports whether the result carries neither data nor errors.
func (r *Result) empty() bool {
	return (len(r.Data) == 0 || string(r.Data) == "null") && len(r.Errors) == 0
}

// UnmarshalData decodes the result data into v.
func (r *Result) UnmarshalData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("result has no data")
	}
	return json.Unmarshal(r.Data, v)
}

// Error is a GraphQL error as reported in a result.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Locations  []Location     `json:"locations,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Location points into the operation text.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

func (e Error) Error() string {
	return e.Message
}

// parseFrame decodes a channel message body. A body that is valid JSON but
// carries no result yields a Frame with a nil Result.
func parseFrame(raw json.RawMessage) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, fmt.Errorf("parse frame: %w", err)
	}
	return f, nil
}
