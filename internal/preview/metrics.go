package preview

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kimg_panel",
			Name:      "preview_transitions_total",
			Help:      "Preview state transitions",
		},
		[]string{"from", "to"},
	)

	staleDiscardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kimg_panel",
			Name:      "preview_stale_discards_total",
			Help:      "Responses dropped because their generation or epoch was superseded",
		},
		[]string{"event"},
	)

	kimgCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kimg_panel",
			Name:      "kimg_calls_total",
			Help:      "Calls issued to kimg by preview sessions",
		},
		[]string{"op", "result"},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "kimg_panel",
			Name:      "preview_sessions_active",
			Help:      "Preview sessions currently held in memory",
		},
	)

	sessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "kimg_panel",
			Name:      "preview_sessions_evicted_total",
			Help:      "Preview sessions stopped early because the registry was full",
		},
	)
)

func recordTransition(from, to State) {
	if from != to {
		transitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	}
}

func recordCall(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	kimgCallsTotal.WithLabelValues(op, result).Inc()
}
