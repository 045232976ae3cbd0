// Package metrics provides Prometheus collectors for the engine, the
// journal and its batch writer.
//
// All recording methods are safe on a nil *Collector so components can take
// an optional collector without nil checks at every call site.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds engine and journal metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	// Engine metrics
	commandsSubmitted prometheus.Counter
	commandsApplied   *prometheus.CounterVec
	brokenSequences   *prometheus.CounterVec
	engineStopped     prometheus.Gauge
	lastRecord        prometheus.Gauge

	// Journal metrics
	batchSize        prometheus.Histogram
	batchLatency     *prometheus.HistogramVec
	recordsWritten   prometheus.Counter
	recordsReplayed  prometheus.Counter
	subscriberPanics prometheus.Counter
}

// NewCollector creates a collector with metrics under namespace.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "memstate"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.commandsSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "commands_submitted_total",
		Help:      "Total number of commands submitted to the engine",
	})

	c.commandsApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "commands_applied_total",
			Help:      "Total number of records applied to the model",
		},
		[]string{"outcome"},
	)

	c.brokenSequences = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "broken_sequences_total",
			Help:      "Records received out of sequence",
		},
		[]string{"action"},
	)

	c.engineStopped = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "stopped",
		Help:      "1 when the engine has halted on a structural failure",
	})

	c.lastRecord = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "last_record_number",
		Help:      "Sequence number of the most recently applied record",
	})

	c.batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "batch_size",
		Help:      "Number of records per physical journal write",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1 to 2048
	})

	c.batchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "batch_write_duration_seconds",
			Help:      "Time taken to persist one batch",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
		},
		[]string{"result"},
	)

	c.recordsWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "records_written_total",
		Help:      "Total number of records durably written",
	})

	c.recordsReplayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "records_replayed_total",
		Help:      "Total number of persisted records replayed to subscribers",
	})

	c.subscriberPanics = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "journal",
		Name:      "subscriber_panics_total",
		Help:      "Subscription handlers that panicked",
	})

	c.registry.MustRegister(
		c.commandsSubmitted,
		c.commandsApplied,
		c.brokenSequences,
		c.engineStopped,
		c.lastRecord,
		c.batchSize,
		c.batchLatency,
		c.recordsWritten,
		c.recordsReplayed,
		c.subscriberPanics,
	)

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// CommandSubmitted counts one accepted submission.
func (c *Collector) CommandSubmitted() {
	if c == nil {
		return
	}
	c.commandsSubmitted.Inc()
}

// RecordApplied counts one applied record and tracks its sequence number.
func (c *Collector) RecordApplied(seq int64, err error) {
	if c == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.commandsApplied.WithLabelValues(outcome).Inc()
	c.lastRecord.Set(float64(seq))
}

// BrokenSequence counts a gap; accepted tells whether policy allowed it.
func (c *Collector) BrokenSequence(accepted bool) {
	if c == nil {
		return
	}
	action := "stopped"
	if accepted {
		action = "accepted"
	}
	c.brokenSequences.WithLabelValues(action).Inc()
}

// EngineStopped flags the engine as halted.
func (c *Collector) EngineStopped() {
	if c == nil {
		return
	}
	c.engineStopped.Set(1)
}

// BatchWritten records one physical journal write.
func (c *Collector) BatchWritten(size int, d time.Duration, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.batchSize.Observe(float64(size))
	c.batchLatency.WithLabelValues(result).Observe(d.Seconds())
	if err == nil {
		c.recordsWritten.Add(float64(size))
	}
}

// RecordReplayed counts one record delivered from persisted history.
func (c *Collector) RecordReplayed() {
	if c == nil {
		return
	}
	c.recordsReplayed.Inc()
}

// SubscriberPanicked counts one recovered handler panic.
func (c *Collector) SubscriberPanicked() {
	if c == nil {
		return
	}
	c.subscriberPanics.Inc()
}
