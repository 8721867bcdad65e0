package cablelink

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRejectedError(t *testing.T) {
	err := &RejectedError{Channel: "GraphqlChannel", Identifier: `{"channel":"GraphqlChannel"}`}
	assert.Equal(t, "channel GraphqlChannel rejected subscription", err.Error())
}

func TestConnectionError(t *testing.T) {
	err := &ConnectionError{URL: "wss://api.example.com/cable", Reason: "bad handshake"}
	assert.Equal(t, "connection error [wss://api.example.com/cable]: bad handshake", err.Error())

	var target *ConnectionError
	assert.True(t, errors.As(error(err), &target))
}

func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("broken pipe")
	err := error(&ConnectionError{URL: "ws://cable.test/cable", Reason: "send operation: broken pipe", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, errors.Unwrap(&ConnectionError{Reason: "bad handshake"}))
}

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{ErrParseFailure, "ErrParseFailure"},
		{ErrUnknownChannel, "ErrUnknownChannel"},
		{ErrTransportWrite, "ErrTransportWrite"},
		{ErrServerDisconnect, "ErrServerDisconnect"},
		{ErrStaleConnection, "ErrStaleConnection"},
		{ErrorKind(42), "ErrorKind(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestSDKError(t *testing.T) {
	cause := errors.New("broken pipe")
	err := &SDKError{Kind: ErrTransportWrite, Identifier: "id-1", Cause: cause}
	assert.Equal(t, "ErrTransportWrite: broken pipe (identifier=id-1)", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &SDKError{Kind: ErrUnknownChannel, Identifier: "id-2"}
	assert.Equal(t, "ErrUnknownChannel (identifier=id-2)", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestLogErrors(t *testing.T) {
	var buf bytes.Buffer
	handler := LogErrors(zerolog.New(&buf))

	handler(SDKError{
		Kind:       ErrParseFailure,
		Identifier: "id-3",
		Cause:      errors.New("unexpected end of JSON input"),
		Timestamp:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "cable fault", entry["message"])
	assert.Equal(t, "ErrParseFailure", entry["kind"])
	assert.Equal(t, "id-3", entry["identifier"])
	assert.Equal(t, "unexpected end of JSON input", entry["error"])
}

func TestLogErrors_OmitsEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	LogErrors(zerolog.New(&buf))(SDKError{Kind: ErrStaleConnection})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "identifier")
	assert.NotContains(t, entry, "error")
}
