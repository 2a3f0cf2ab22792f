package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// authEventsTotal counts auth flow outcomes, e.g. event="login",
// outcome="rate_limited". It never carries user identifiers as labels.
var authEventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_events_total",
		Help: "Authentication events by flow and outcome",
	},
	[]string{"event", "outcome"},
)

func recordAuthEvent(event, outcome string) {
	authEventsTotal.WithLabelValues(event, outcome).Inc()
}
