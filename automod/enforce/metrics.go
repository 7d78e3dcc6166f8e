package enforce

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var banOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_ban_outcomes",
	Help: "Number of ban attempts, by backend and outcome",
}, []string{"backend", "outcome"})

var unbanOutcomeCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_unban_outcomes",
	Help: "Number of unbans, by outcome",
}, []string{"outcome"})

var unbanPollCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "clanker_unban_result_polls",
	Help: "Number of member-results polls issued while confirming unbans",
})

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "clanker_ban_queue_depth",
	Help: "Number of bans waiting in the retry queue",
})
