// Package metrics holds the process-wide Prometheus collectors for the
// sync engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SnapshotsApplied counts feed snapshots handed to subscribers.
	SnapshotsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_feed_snapshots_applied_total",
		Help: "Collection snapshots delivered to subscribers",
	}, []string{"collection"})

	// SnapshotsDropped counts snapshots ignored because they were not newer.
	SnapshotsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_feed_snapshots_dropped_total",
		Help: "Collection snapshots dropped as out of order",
	}, []string{"collection"})

	// DocumentsSkipped counts documents that failed to decode.
	DocumentsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_feed_documents_skipped_total",
		Help: "Documents skipped because they could not be decoded",
	}, []string{"collection"})

	// SubscribeRetries counts resubscription attempts after transient denials.
	SubscribeRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_feed_subscribe_retries_total",
		Help: "Subscription retries after transient permission errors",
	}, []string{"collection"})

	// Writes counts persisted writes by operation and result.
	Writes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_writes_total",
		Help: "Document writes by collection, operation and result",
	}, []string{"collection", "op", "result"})

	// WriteRetries counts write retries after transient denials.
	WriteRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strategy_write_retries_total",
		Help: "Write retries after transient permission errors",
	}, []string{"collection"})

	// PendingWrites tracks optimistic values not yet confirmed by the feed.
	PendingWrites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strategy_pending_writes",
		Help: "Optimistic values awaiting their server echo",
	})

	// ActiveSessions tracks started sync sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "strategy_active_sessions",
		Help: "Sync sessions currently subscribed",
	})

	// GraphResolveDuration tracks graph resolution latency.
	GraphResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "strategy_graph_resolve_duration_seconds",
		Help:    "Graph resolution duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
	})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
