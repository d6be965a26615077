package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "export",
		Name:      "batches_total",
		Help:      "Attendance batches accepted by the server.",
	})
	batchesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "export",
		Name:      "batch_failures_total",
		Help:      "Attendance batches that failed and stay queued.",
	})
	recordsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "export",
		Name:      "records_confirmed_total",
		Help:      "Records confirmed by the server and deleted locally.",
	})
	cyclesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "centerphone",
		Subsystem: "export",
		Name:      "cycles_dropped_total",
		Help:      "Export triggers dropped because a cycle was already running.",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "centerphone",
		Subsystem: "export",
		Name:      "queue_depth",
		Help:      "Attendance records still queued locally.",
	})
)
