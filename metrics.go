package sheraf

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/andreyvit/sheraf/store"
)

var (
	indexWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheraf",
		Name:      "index_writes_total",
		Help:      "Number of index entries added or deleted, by operation.",
	}, []string{"op"})
	indexationWarnings = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sheraf",
		Name:      "indexation_warnings_total",
		Help:      "Number of writes that skipped an index whose table is missing.",
	})
	attempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sheraf",
		Name:      "attempts_total",
		Help:      "Number of Attempt tries, by outcome (success, retry or failure).",
	}, []string{"outcome"})
	rebuiltInstances = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sheraf",
		Name:      "rebuilt_instances_total",
		Help:      "Number of instances re-indexed by RebuildIndexes.",
	})
)

// Collectors returns the metrics of the package and of the store for
// registration by the application.
func Collectors() []prometheus.Collector {
	return append([]prometheus.Collector{indexWrites, indexationWarnings, attempts, rebuiltInstances}, store.Collectors()...)
}
