package stage

import "github.com/prometheus/client_golang/prometheus"

var BuildCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "zootracer",
	Subsystem: "stage",
	Name:      "builds_total",
}, []string{"stage", "result"})

var BuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "zootracer",
	Subsystem: "stage",
	Name:      "build_duration_seconds",
	Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 1200},
}, []string{"stage"})

var Generation = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "zootracer",
	Subsystem: "stage",
	Name:      "generation",
}, []string{"stage"})

var States = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "zootracer",
	Subsystem: "stage",
	Name:      "state",
}, []string{"stage"})

func Collectors() []prometheus.Collector {
	return []prometheus.Collector{BuildCount, BuildDuration, Generation, States}
}
