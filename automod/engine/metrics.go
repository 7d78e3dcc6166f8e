package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventProcessDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "clanker_event_duration_sec",
	Help: "Total duration of inbound message processing",
}, []string{"type"})

var eventProcessCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_event_processed",
	Help: "Number of inbound messages processed",
}, []string{"type"})

var eventErrorCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_event_errors",
	Help: "Number of inbound messages which failed processing",
}, []string{"type"})

var commandCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_admin_commands",
	Help: "Number of admin commands handled, by result",
}, []string{"command", "result"})

var systemEventCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_membership_events",
	Help: "Number of membership system events seen",
}, []string{"kind"})

var triggerCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clanker_triggers_fired",
	Help: "Number of trigger replies attempted",
}, []string{"trigger"})
