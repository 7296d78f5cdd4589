package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counts committed snapshots per kind.
var SnapshotsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vlwatch_snapshots_processed_total",
	Help: "Total number of snapshots committed to the seen-set",
}, []string{"kind"})

// Counts records reported as new.
var RecordsFresh = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vlwatch_records_fresh_total",
	Help: "Total number of records reported as new",
}, []string{"kind"})

var (
	SeedPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_seed_passes_total",
		Help: "Snapshots that seeded an uninitialized day",
	}, []string{"kind"})

	SnapshotsDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_snapshots_discarded_total",
		Help: "Snapshots dropped before touching state (single-entity views)",
	}, []string{"kind"})

	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_parse_errors_total",
		Help: "Payloads that could not be decoded",
	}, []string{"kind"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_store_errors_total",
		Help: "Seen-set reads or writes that failed",
	}, []string{"kind"})

	Resets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_resets_total",
		Help: "Explicit resets of the current day's state",
	}, []string{"kind"})

	EntriesSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vlwatch_entries_swept_total",
		Help: "Seen-set entries removed by the retention sweeper",
	})

	NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_notifications_sent_total",
		Help: "Notifications delivered, by sink",
	}, []string{"sink"})

	NotificationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_notification_errors_total",
		Help: "Notification deliveries that failed, by sink",
	}, []string{"sink"})

	DeliveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vlwatch_delivery_batch_seconds",
		Help:    "Time spent delivering one batch of notifications",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)

// Ingest counters, by source.
var (
	CapturesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_captures_received_total",
		Help: "Captures handed to the engine",
	}, []string{"source"})

	CapturesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlwatch_captures_dropped_total",
		Help: "Captures dropped because the engine channel was full",
	}, []string{"source"})
)
