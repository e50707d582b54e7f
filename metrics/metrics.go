package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the realtime pipeline's instrumentation. All fields
// are registered against a private registry so multiple schedules can
// coexist in one process.
type Collector struct {
	reg *prometheus.Registry

	RecordsApplied  prometheus.Counter
	RecordsRejected *prometheus.CounterVec // reason label

	SnapshotsPublished prometheus.Counter
	SnapshotOverlays   prometheus.Gauge

	BatchDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RecordsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetable_update_records_applied_total",
			Help: "Total realtime update records applied.",
		}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timetable_update_records_rejected_total",
			Help: "Total realtime update records rejected.",
		}, []string{"reason"}),
		SnapshotsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timetable_snapshots_published_total",
			Help: "Total timetable snapshots committed.",
		}),
		SnapshotOverlays: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timetable_snapshot_overlays",
			Help: "Pattern-days carrying a realtime overlay in the current snapshot.",
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timetable_update_batch_duration_seconds",
			Help:    "Duration of update batch application, commit included.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 15),
		}),
	}

	reg.MustRegister(
		c.RecordsApplied, c.RecordsRejected,
		c.SnapshotsPublished, c.SnapshotOverlays,
		c.BatchDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}
