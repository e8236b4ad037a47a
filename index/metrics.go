package index

import "github.com/prometheus/client_golang/prometheus"

var FramesBuilt = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zootracer",
	Subsystem: "index",
	Name:      "frames",
}, []string{"source"})

var FramesReady = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "zootracer",
	Subsystem: "index",
	Name:      "frames_ready",
})

var FrameDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "zootracer",
	Subsystem: "index",
	Name:      "frame_duration_seconds",
	Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
})

var Queries = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zootracer",
	Subsystem: "index",
	Name:      "queries",
}, []string{"result"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{FramesBuilt, FramesReady, FrameDuration, Queries}
}
