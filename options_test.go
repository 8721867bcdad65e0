package cablelink

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestBuildOptions_Defaults(t *testing.T) {
	o := buildOptions(nil)
	assert.Same(t, DefaultBroadcaster(), o.states)
	assert.Equal(t, DefaultChannel, o.channel)
	assert.Equal(t, DefaultTokenParam, o.tokenParam)
	assert.NotNil(t, o.dialer)
	assert.NotNil(t, o.onError)
	assert.Equal(t, NoopMetrics(), o.metrics)
	assert.Nil(t, o.requestLink)
	assert.Nil(t, o.tokens)
	assert.Zero(t, o.staleTimeout)
}

func TestBuildOptions_Overrides(t *testing.T) {
	states := NewBroadcaster()
	dialer := DialerFunc(func(context.Context, string) (Socket, error) { return nil, nil })
	link := LinkFunc(func(Operation) *Stream { return ErrorStream(nil) })
	var handled int

	o := buildOptions([]Option{
		WithLogger(zerolog.Nop()),
		WithBroadcaster(states),
		WithDialer(dialer),
		WithErrorHandler(func(SDKError) { handled++ }),
		WithTokenProvider(func() string { return "t" }),
		WithRequestLink(link),
		WithStaleTimeout(time.Minute),
		WithTokenParam("jwt"),
		WithChannel("IntakeChannel"),
	})

	assert.Same(t, states, o.states)
	assert.NotNil(t, o.dialer)
	assert.NotNil(t, o.requestLink)
	assert.Equal(t, "t", o.tokens())
	assert.Equal(t, time.Minute, o.staleTimeout)
	assert.Equal(t, "jwt", o.tokenParam)
	assert.Equal(t, "IntakeChannel", o.channel)

	o.onError(SDKError{})
	assert.Equal(t, 1, handled)
}

func TestBuildOptions_EmptyValuesKeepDefaults(t *testing.T) {
	o := buildOptions([]Option{
		WithBroadcaster(nil),
		WithMetrics(nil),
		WithTokenParam(""),
		WithChannel(""),
	})
	assert.Same(t, DefaultBroadcaster(), o.states)
	assert.Equal(t, NoopMetrics(), o.metrics)
	assert.Equal(t, DefaultTokenParam, o.tokenParam)
	assert.Equal(t, DefaultChannel, o.channel)
}

func TestBuildOptions_LaterOptionWins(t *testing.T) {
	o := buildOptions([]Option{WithChannel("A"), WithChannel("B")})
	assert.Equal(t, "B", o.channel)
}
