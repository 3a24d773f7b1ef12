package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BattlesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_battles_started_total",
		Help: "Battles that reached IN_PROGRESS.",
	})

	BattlesEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_battles_ended_total",
		Help: "Battles that reached a terminal state, by end reason.",
	}, []string{"reason"})

	RoundsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_rounds_resolved_total",
		Help: "Rounds whose outcome was applied.",
	})

	LockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_round_lock_contention_total",
		Help: "Resolution attempts that lost the round lock race.",
	})

	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Name: "arena_settlements_total",
		Help: "XP settlements applied to the ledger.",
	})

	ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_round_resolve_seconds",
		Help:    "Wall time spent inside round resolution.",
		Buckets: prometheus.DefBuckets,
	})
)
