package rooms

import (
	"sync"

	"github.com/iidesho/roomsync/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce     sync.Once
	resolveDuration prometheus.Histogram
	resolveErrors   *prometheus.CounterVec
	unknownWriters  *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		resolveDuration, err = metrics.Register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "roomsync_resolve_duration_seconds",
			Help:    "time spent resolving the room set of one sync",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}))
		log.WithError(err).Error("registering resolve duration")
		resolveErrors, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_resolve_errors_total",
			Help: "failed room set resolutions by kind",
		}, []string{"kind"}))
		log.WithError(err).Error("registering resolve errors")
		unknownWriters, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_resolve_unknown_writer_total",
			Help: "tokens seen naming a writer this deployment does not run",
		}, []string{"writer"}))
		log.WithError(err).Error("registering unknown writer counter")
	})
}
