// Package telemetry exposes run progress as Prometheus metrics.
//
// Collectors live on a private registry so concurrent runs and tests never
// collide on the global default registry. Batch runs export with
// WriteTextfile for the node-exporter textfile collector.
package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/checkout-sim/checkout-sim/sim"
	"github.com/checkout-sim/checkout-sim/sim/sensitivity"
)

const namespace = "checkout_sim"

// Recorder implements sim.Observer and sensitivity.Observer.
type Recorder struct {
	registry *prometheus.Registry

	sessions     *prometheus.CounterVec
	skips        *prometheus.CounterVec
	orderValue   *prometheus.HistogramVec
	stepLatency  *prometheus.HistogramVec
	repeats      *prometheus.CounterVec
	cells        prometheus.Counter
	detectionPct *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with its own registry.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,

		// sessions counts generated sessions.
		// Labels: variant, outcome (order_completed, abandoned)
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "sessions_total",
			Help:      "Total checkout sessions generated",
		}, []string{"variant", "outcome"}),

		// skips counts rejected user identifiers by reason.
		skips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "skipped_users_total",
			Help:      "Total user identifiers skipped as invalid",
		}, []string{"reason"}),

		orderValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "order_value",
			Help:      "Order value of completed sessions",
			Buckets:   []float64{25, 50, 100, 150, 200, 300, 400, 500, 750, 1000},
		}, []string{"variant"}),

		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "simulation",
			Name:      "step_latency_ms",
			Help:      "Latency of visited funnel steps in milliseconds",
			Buckets:   prometheus.ExponentialBuckets(50, 2, 10),
		}, []string{"step"}),

		// repeats counts sensitivity repeats by result (detected, not_detected, refused).
		repeats: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensitivity",
			Name:      "repeats_total",
			Help:      "Total sensitivity repeats by result",
		}, []string{"result"}),

		cells: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sensitivity",
			Name:      "cells_completed_total",
			Help:      "Total sensitivity grid cells completed",
		}),

		detectionPct: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sensitivity",
			Name:      "detection_rate",
			Help:      "Detection rate of a completed grid cell",
		}, []string{"sample_size", "uplift"}),
	}
}

// Registry returns the recorder's registry for serving or gathering.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveSession implements sim.Observer.
func (r *Recorder) ObserveSession(s *sim.CheckoutSession) {
	r.sessions.WithLabelValues(string(s.Variant), string(s.Outcome)).Inc()
	for _, ev := range s.Events {
		if !ev.Step.Terminal() {
			r.stepLatency.WithLabelValues(string(ev.Step)).Observe(ev.LatencyMs)
		}
	}
	if s.OrderValue != nil {
		r.orderValue.WithLabelValues(string(s.Variant)).Observe(*s.OrderValue)
	}
}

// ObserveSkip implements sim.Observer.
func (r *Recorder) ObserveSkip(reason string) {
	r.skips.WithLabelValues(reason).Inc()
}

// ObserveRepeat implements sensitivity.Observer.
func (r *Recorder) ObserveRepeat(detected, refused bool) {
	result := "not_detected"
	switch {
	case refused:
		result = "refused"
	case detected:
		result = "detected"
	}
	r.repeats.WithLabelValues(result).Inc()
}

// ObserveCell implements sensitivity.Observer.
func (r *Recorder) ObserveCell(c sensitivity.Cell) {
	r.cells.Inc()
	r.detectionPct.WithLabelValues(fmt.Sprintf("%d", c.SampleSize), fmt.Sprintf("%g", c.Uplift)).Set(c.DetectionRate)
}

// WriteTextfile writes the current metric values in the Prometheus text
// format, atomically replacing path.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

var (
	_ sim.Observer         = (*Recorder)(nil)
	_ sensitivity.Observer = (*Recorder)(nil)
)
