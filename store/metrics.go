package store

import "github.com/prometheus/client_golang/prometheus"

var (
	commitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sheraf",
		Subsystem: "store",
		Name:      "commits_total",
		Help:      "Number of successful commits.",
	})
	conflictsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheraf",
		Subsystem: "store",
		Name:      "conflicts_total",
		Help:      "Number of write conflicts detected at commit, by outcome (resolved or failed).",
	}, []string{"outcome"})
)

// Collectors returns the store metrics for registration by the application.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{commitsTotal, conflictsTotal}
}
