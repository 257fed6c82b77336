package instance

import "github.com/prometheus/client_golang/prometheus"

var (
	spawnsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vllmd",
		Subsystem: "instances",
		Name:      "spawns_total",
		Help:      "Total vllm instances launched",
	})

	spawnFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vllmd",
		Subsystem: "instances",
		Name:      "spawn_failures_total",
		Help:      "Total failed instance creations",
	}, []string{"stage"})

	reapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vllmd",
		Subsystem: "instances",
		Name:      "reaped_total",
		Help:      "Total instances reclaimed after idle expiry",
	})

	instancesRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vllmd",
		Subsystem: "instances",
		Name:      "running",
		Help:      "Instances currently in the running state",
	})

	spawnDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vllmd",
		Subsystem: "instances",
		Name:      "spawn_duration_seconds",
		Help:      "Time from port allocation to readiness confirmation",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
	})
)

func init() {
	prometheus.MustRegister(spawnsTotal, spawnFailuresTotal, reapedTotal, instancesRunning, spawnDuration)
}
