// Package prometheus is the Prometheus client_golang backed
// implementation of pkg/metrics.Recorder.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zoolite/zoolite/pkg/metrics"
)

// Recorder records coordination-stack measurements as Prometheus
// metrics. The zero value is not usable; build one with New.
type Recorder struct {
	lockAcquireTotal *prometheus.CounterVec
	lockWaitDuration *prometheus.HistogramVec

	sessionsActive        prometheus.Gauge
	sessionExpirations    prometheus.Counter

	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter

	exchangeMessages *prometheus.CounterVec

	storageCASRetries *prometheus.CounterVec
}

// New builds a Recorder and registers its collectors with registry. If
// registry is nil the collectors are created but never registered,
// which is useful in tests that just want a working Recorder without a
// live /metrics endpoint.
func New(registry prometheus.Registerer) *Recorder {
	r := &Recorder{
		lockAcquireTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coord",
				Subsystem: "lock",
				Name:      "acquisitions_total",
				Help:      "Total lock acquisitions by kind and whether the caller had to wait.",
			},
			[]string{"type", "result"},
		),
		lockWaitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "coord",
				Subsystem: "lock",
				Name:      "wait_duration_seconds",
				Help:      "Time spent blocked waiting for a lock before it was granted.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"type"},
		),
		sessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "coord",
				Name:      "sessions_active",
				Help:      "Number of sessions with a currently live lease.",
			},
		),
		sessionExpirations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coord",
				Name:      "session_expirations_total",
				Help:      "Total sessions reaped by the lease expiration scan.",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coord",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total cache manager Get calls served from a cached line.",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "coord",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total cache manager Get calls that had to acquire a read lock.",
			},
		),
		exchangeMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coord",
				Subsystem: "exchange",
				Name:      "messages_total",
				Help:      "Total exchange manager messages by type and direction.",
			},
			[]string{"type", "direction"},
		),
		storageCASRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "coord",
				Subsystem: "storage",
				Name:      "cas_retries_total",
				Help:      "Total CompareExchange calls that lost their race and were retried.",
			},
			[]string{"store"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			r.lockAcquireTotal,
			r.lockWaitDuration,
			r.sessionsActive,
			r.sessionExpirations,
			r.cacheHits,
			r.cacheMisses,
			r.exchangeMessages,
			r.storageCASRetries,
		)
	}

	return r
}

func (r *Recorder) LockAcquired(kind string, result metrics.LockResult) {
	r.lockAcquireTotal.WithLabelValues(kind, string(result)).Inc()
}

func (r *Recorder) LockWaitObserved(kind string, d time.Duration) {
	r.lockWaitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (r *Recorder) SessionStarted() {
	r.sessionsActive.Inc()
}

func (r *Recorder) SessionEnded() {
	r.sessionsActive.Dec()
}

func (r *Recorder) SessionExpired() {
	r.sessionExpirations.Inc()
}

func (r *Recorder) CacheHit() {
	r.cacheHits.Inc()
}

func (r *Recorder) CacheMiss() {
	r.cacheMisses.Inc()
}

func (r *Recorder) ExchangeMessageSent(msgType string) {
	r.exchangeMessages.WithLabelValues(msgType, "sent").Inc()
}

func (r *Recorder) ExchangeMessageReceived(msgType string) {
	r.exchangeMessages.WithLabelValues(msgType, "received").Inc()
}

func (r *Recorder) StorageCASRetry(store string) {
	r.storageCASRetries.WithLabelValues(store).Inc()
}

var _ metrics.Recorder = (*Recorder)(nil)
