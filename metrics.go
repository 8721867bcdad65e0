package cablelink

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector captures adapter events. Hooks run inline on the socket reader
// goroutine and must be cheap.
type Collector interface {
	SetState(state ConnectionState)
	IncOperation(kind OperationKind)
	IncFrame()
	IncRejection()
}

type noopCollector struct{}

// NoopMetrics returns a collector that discards everything.
func NoopMetrics() Collector {
	return noopCollector{}
}

func (noopCollector) SetState(ConnectionState)   {}
func (noopCollector) IncOperation(OperationKind) {}
func (noopCollector) IncFrame()                  {}
func (noopCollector) IncRejection()              {}

// PrometheusCollector exposes adapter metrics via Prometheus.
type PrometheusCollector struct {
	state      *prometheus.GaugeVec
	operations *prometheus.CounterVec
	frames     prometheus.Counter
	rejections prometheus.Counter
}

// NewPrometheusCollector registers the adapter metrics with reg, reusing
// collectors that are already registered under the same names.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	state, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cablelink_connection_state",
		Help: "1 for the current cable connection state, 0 for the others.",
	}, []string{"state"}))
	if err != nil {
		return nil, err
	}
	operations, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cablelink_operations_total",
		Help: "Operations started, by kind.",
	}, []string{"kind"}))
	if err != nil {
		return nil, err
	}
	frames, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cablelink_frames_total",
		Help: "Channel frames received for live subscriptions.",
	}))
	if err != nil {
		return nil, err
	}
	rejections, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cablelink_channel_rejections_total",
		Help: "Channel subscriptions refused by the server.",
	}))
	if err != nil {
		return nil, err
	}

	return &PrometheusCollector{
		state:      state,
		operations: operations,
		frames:     frames,
		rejections: rejections,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, err
	}
	return c, nil
}

// SetState marks state as current.
func (p *PrometheusCollector) SetState(state ConnectionState) {
	if p == nil || p.state == nil {
		return
	}
	for i := range stateNames {
		s := ConnectionState(i)
		v := 0.0
		if s == state {
			v = 1
		}
		p.state.WithLabelValues(s.String()).Set(v)
	}
}

// IncOperation counts a started operation.
func (p *PrometheusCollector) IncOperation(kind OperationKind) {
	if p == nil || p.operations == nil {
		return
	}
	p.operations.WithLabelValues(kind.String()).Inc()
}

// IncFrame counts a received frame.
func (p *PrometheusCollector) IncFrame() {
	if p == nil || p.frames == nil {
		return
	}
	p.frames.Inc()
}

// IncRejection counts a rejected channel subscription.
func (p *PrometheusCollector) IncRejection() {
	if p == nil || p.rejections == nil {
		return
	}
	p.rejections.Inc()
}
