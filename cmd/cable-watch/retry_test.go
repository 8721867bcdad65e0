package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	cablelink "github.com/andepants/daybreak-health-frontend-sub002"
)

func TestBackoff_ExponentialWithCap(t *testing.T) {
	b := newBackoff(1*time.Second, 30*time.Second)

	want := []time.Duration{1, 2, 4, 8, 16, 30, 30}
	for i, w := range want {
		assert.Equal(t, w*time.Second, b.next(), "attempt %d", i+1)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := newBackoff(1*time.Second, 30*time.Second)
	b.next()
	b.next()
	b.next()

	b.reset()
	assert.Equal(t, 1*time.Second, b.next())
}

func TestBackoff_MaxBelowInitial(t *testing.T) {
	b := newBackoff(5*time.Second, 0)
	assert.Equal(t, 5*time.Second, b.next())
	assert.Equal(t, 5*time.Second, b.next())
}

type countingReconnecter struct {
	calls atomic.Int32
	err   error
}

func (c *countingReconnecter) Reconnect() error {
	c.calls.Add(1)
	return c.err
}

func startRetrier(t *testing.T, client reconnecter, initial time.Duration) *retrier {
	t.Helper()
	r := newRetrier(client, retryConfig{
		Initial: cablelink.Duration{Duration: initial},
		Max:     cablelink.Duration{Duration: 4 * initial},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

func TestRetrier_ReconnectsAfterDrop(t *testing.T) {
	client := &countingReconnecter{}
	r := startRetrier(t, client, 10*time.Millisecond)

	r.observe(cablelink.StateConnecting)
	r.observe(cablelink.StateConnected)
	r.observe(cablelink.StateDisconnected)

	assert.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestRetrier_IgnoresInitialDisconnected(t *testing.T) {
	client := &countingReconnecter{}
	r := startRetrier(t, client, 10*time.Millisecond)

	r.observe(cablelink.StateDisconnected)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, client.calls.Load())
}

func TestRetrier_ConnectingCancelsPendingAttempt(t *testing.T) {
	client := &countingReconnecter{}
	r := startRetrier(t, client, 100*time.Millisecond)

	r.observe(cablelink.StateConnecting)
	r.observe(cablelink.StateError)
	r.observe(cablelink.StateConnecting)
	time.Sleep(250 * time.Millisecond)
	assert.Zero(t, client.calls.Load())
}

func TestRetrier_KeepsTryingOnError(t *testing.T) {
	client := &countingReconnecter{err: errors.New("no route")}
	r := startRetrier(t, client, 10*time.Millisecond)

	r.observe(cablelink.StateConnecting)
	r.observe(cablelink.StateError)
	assert.Eventually(t, func() bool { return client.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	r.observe(cablelink.StateError)
	assert.Eventually(t, func() bool { return client.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestRetryConfig_Enabled(t *testing.T) {
	assert.False(t, retryConfig{}.enabled())
	assert.True(t, retryConfig{Initial: cablelink.Duration{Duration: time.Second}}.enabled())
}
