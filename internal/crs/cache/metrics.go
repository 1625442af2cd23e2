package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	syncTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bpt",
		Subsystem: "crs_cache",
		Name:      "sync_total",
		Help:      "Count of CRS cache remote syncs, partitioned by outcome.",
	}, []string{"outcome"})

	prefetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bpt",
		Subsystem: "crs_cache",
		Name:      "prefetch_total",
		Help:      "Count of package prefetches, partitioned by outcome.",
	}, []string{"outcome"})
)

// RegisterMetrics registers the package's collectors with reg. Callers
// (cmd/bpt) own the registry and its lifetime; this package never
// registers with the default global registry on its own.
func RegisterMetrics(reg prometheus.Registerer) error {
	if err := reg.Register(syncTotal); err != nil {
		return err
	}
	return reg.Register(prefetchTotal)
}
