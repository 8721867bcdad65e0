package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	cablelink "github.com/andepants/daybreak-health-frontend-sub002"
)

// retryConfig enables automatic reconnects when Initial is positive.
type retryConfig struct {
	Initial cablelink.Duration `yaml:"initial"`
	Max     cablelink.Duration `yaml:"max"`
}

func (c retryConfig) enabled() bool {
	return c.Initial.Duration > 0
}

// backoff doubles the delay after every attempt up to max.
type backoff struct {
	initial time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, max time.Duration) *backoff {
	if max < initial {
		max = initial
	}
	return &backoff{
		initial: initial,
		max:     max,
		current: initial,
	}
}

func (b *backoff) next() time.Duration {
	d := b.current
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *backoff) reset() {
	b.current = b.initial
}

type reconnecter interface {
	Reconnect() error
}

// retrier calls Reconnect after the connection drops or errors, waiting
// longer after each attempt that does not reach StateConnected.
type retrier struct {
	client  reconnecter
	backoff *backoff
	logger  zerolog.Logger
	states  chan cablelink.ConnectionState
}

func newRetrier(client reconnecter, cfg retryConfig, logger zerolog.Logger) *retrier {
	return &retrier{
		client:  client,
		backoff: newBackoff(cfg.Initial.Duration, cfg.Max.Duration),
		logger:  logger.With().Str("component", "retry").Logger(),
		states:  make(chan cablelink.ConnectionState, 16),
	}
}

// observe is a StateListener. It never blocks the broadcaster.
func (r *retrier) observe(s cablelink.ConnectionState) {
	select {
	case r.states <- s:
	default:
	}
}

func (r *retrier) run(ctx context.Context) error {
	var timer *time.Timer
	var fire <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, fire = nil, nil
		}
	}
	defer stopTimer()

	started := false
	for {
		select {
		case <-ctx.Done():
			return nil

		case s := <-r.states:
			switch s {
			case cablelink.StateConnecting:
				started = true
				stopTimer()
			case cablelink.StateConnected:
				r.backoff.reset()
				stopTimer()
			case cablelink.StateDisconnected, cablelink.StateError:
				if !started || timer != nil {
					continue
				}
				d := r.backoff.next()
				r.logger.Info().Str("state", s.String()).Dur("delay", d).Msg("scheduling reconnect")
				timer = time.NewTimer(d)
				fire = timer.C
			}

		case <-fire:
			timer, fire = nil, nil
			if err := r.client.Reconnect(); err != nil {
				r.logger.Error().Err(err).Msg("reconnect failed")
			}
		}
	}
}
