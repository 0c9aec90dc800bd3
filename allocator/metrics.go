package allocator

import (
	"sync"

	"github.com/iidesho/roomsync/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce      sync.Once
	watermarkGauge   *prometheus.GaugeVec
	outstandingGauge *prometheus.GaugeVec
	abortedCount     *prometheus.CounterVec
	stuckCount       *prometheus.CounterVec
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		watermarkGauge, err = metrics.Register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsync_allocator_watermark",
			Help: "highest contiguously committed position per writer",
		}, []string{"writer"}))
		log.WithError(err).Error("registering watermark gauge")
		outstandingGauge, err = metrics.Register(prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roomsync_allocator_outstanding",
			Help: "reserved but unfinished positions per writer",
		}, []string{"writer"}))
		log.WithError(err).Error("registering outstanding gauge")
		abortedCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_allocator_aborted_total",
			Help: "reservations finished without a write",
		}, []string{"writer"}))
		log.WithError(err).Error("registering aborted counter")
		stuckCount, err = metrics.Register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roomsync_allocator_stuck_total",
			Help: "times a writer was seen holding back its watermark past the stuck threshold",
		}, []string{"writer"}))
		log.WithError(err).Error("registering stuck counter")
	})
}
