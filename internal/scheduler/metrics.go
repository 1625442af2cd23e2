package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	compileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bpt",
		Subsystem: "scheduler",
		Name:      "compile_total",
		Help:      "Count of compile node executions by result.",
	}, []string{"result"})

	buildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bpt",
		Subsystem: "scheduler",
		Name:      "build_duration_seconds",
		Help:      "Wall-clock duration of a single Run call.",
	})
)
