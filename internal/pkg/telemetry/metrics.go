package telemetry

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports the settlement core's Prometheus series: transaction
// retry behaviour, outbox relay throughput and consumer idempotency hits.
// A nil *Metrics is valid and records nothing, which keeps tests quiet.
type Metrics struct {
	txAttempts *prometheus.CounterVec
	txDuration *prometheus.HistogramVec

	outboxPublished       prometheus.Counter
	outboxFailed          prometheus.Counter
	outboxDiscarded       prometheus.Counter
	outboxPublishDuration prometheus.Histogram
	outboxBacklog         prometheus.Gauge

	reservationsExpired prometheus.Counter

	inboxEvents     *prometheus.CounterVec
	inboxDuplicates *prometheus.CounterVec
}

// NewMetrics registers every settlement collector on reg (the default
// registerer when nil). Re-registration is tolerated so tests can build
// multiple instances against the default registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		txAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "tx_attempts_total",
			Help:      "Transaction attempts by unit-of-work label and outcome.",
		}, []string{"label", "outcome"}),
		txDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "tx_duration_seconds",
			Help:      "Wall time of a unit of work including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"label"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "outbox_published_total",
			Help:      "Outbox events successfully published to the broker.",
		}),
		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "outbox_failed_total",
			Help:      "Outbox events parked as failed after exhausting retries.",
		}),
		outboxDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "outbox_discarded_total",
			Help:      "Outbox events discarded as unpublishable.",
		}),
		outboxPublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "settlement",
			Name:      "outbox_publish_duration_seconds",
			Help:      "Latency of one broker publish call.",
			Buckets:   prometheus.DefBuckets,
		}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "settlement",
			Name:      "outbox_backlog",
			Help:      "Outbox rows still pending or processing.",
		}),
		reservationsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "reservations_expired_total",
			Help:      "Credit holds released by the expiry sweep.",
		}),
		inboxEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "inbox_events_total",
			Help:      "Consumed events by consumer and outcome.",
		}, []string{"consumer", "outcome"}),
		inboxDuplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "settlement",
			Name:      "inbox_duplicates_total",
			Help:      "Redeliveries short-circuited by the processed-event ledger.",
		}, []string{"consumer"}),
	}
	collectors := []prometheus.Collector{
		m.txAttempts, m.txDuration,
		m.outboxPublished, m.outboxFailed, m.outboxDiscarded,
		m.outboxPublishDuration, m.outboxBacklog,
		m.reservationsExpired,
		m.inboxEvents, m.inboxDuplicates,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return nil, fmt.Errorf("telemetry: register collector: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) RecordTxAttempt(label, outcome string) {
	if m == nil {
		return
	}
	m.txAttempts.WithLabelValues(label, outcome).Inc()
}

func (m *Metrics) ObserveTxDuration(label string, d time.Duration) {
	if m == nil {
		return
	}
	m.txDuration.WithLabelValues(label).Observe(d.Seconds())
}

func (m *Metrics) RecordPublished(d time.Duration) {
	if m == nil {
		return
	}
	m.outboxPublished.Inc()
	m.outboxPublishDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPublishFailed() {
	if m == nil {
		return
	}
	m.outboxFailed.Inc()
}

func (m *Metrics) RecordPublishDiscarded() {
	if m == nil {
		return
	}
	m.outboxDiscarded.Inc()
}

func (m *Metrics) SetOutboxBacklog(n int64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(float64(n))
}

func (m *Metrics) RecordReservationExpired() {
	if m == nil {
		return
	}
	m.reservationsExpired.Inc()
}

func (m *Metrics) RecordInboxEvent(consumer, outcome string) {
	if m == nil {
		return
	}
	m.inboxEvents.WithLabelValues(consumer, outcome).Inc()
}

func (m *Metrics) RecordInboxDuplicate(consumer string) {
	if m == nil {
		return
	}
	m.inboxDuplicates.WithLabelValues(consumer).Inc()
}
