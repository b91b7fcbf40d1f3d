// Package metrics exposes the relay's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ActiveConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	TrackedRooms      prometheus.GaugeFunc

	FragmentsMerged prometheus.Counter
	BytesForwarded  prometheus.Counter
	SnapshotsSent   prometheus.Counter
	MergeErrors     prometheus.Counter
	DeliveryErrors  prometheus.Counter
	RateLimitDrops  prometheus.Counter
}

// New registers the relay's collectors with reg. trackedRooms reports
// the number of rooms ever created (rooms are retained at zero
// occupancy, so this can exceed ActiveRooms).
func New(reg prometheus.Registerer, trackedRooms func() float64) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trellis",
			Name:      "active_connections",
			Help:      "Number of open websocket connections.",
		}),
		ActiveRooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "trellis",
			Name:      "active_rooms",
			Help:      "Number of rooms with at least one member.",
		}),
		TrackedRooms: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "trellis",
			Name:      "tracked_rooms",
			Help:      "Number of rooms created since process start.",
		}, trackedRooms),
		FragmentsMerged: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "fragments_merged_total",
			Help:      "Update fragments merged into room state.",
		}),
		BytesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "bytes_forwarded_total",
			Help:      "Fragment bytes fanned out to room members.",
		}),
		SnapshotsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "snapshots_sent_total",
			Help:      "State snapshots sent to newly admitted connections.",
		}),
		MergeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "merge_errors_total",
			Help:      "Update fragments rejected by the merge primitive.",
		}),
		DeliveryErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "delivery_errors_total",
			Help:      "Fragment forwards dropped because a peer was not writable.",
		}),
		RateLimitDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "trellis",
			Name:      "rate_limit_drops_total",
			Help:      "Inbound fragments dropped by per-client rate limiting.",
		}),
	}
}
