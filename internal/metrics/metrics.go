package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uebax_events_recorded_total",
		Help: "Events durably recorded, labelled by kind.",
	}, []string{"kind"})

	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uebax_events_rejected_total",
		Help: "Record calls that persisted nothing, labelled by reason (invalid_kind, store).",
	}, []string{"reason"})

	AlertsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uebax_alerts_created_total",
		Help: "Alerts written, labelled by kind.",
	}, []string{"kind"})

	AlertsDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uebax_alerts_deduplicated_total",
		Help: "Rule firings absorbed by an existing latched alert, labelled by kind.",
	}, []string{"kind"})

	RuleFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uebax_rule_failures_total",
		Help: "Non-fatal rule failures, labelled by rule id and stage.",
	}, []string{"rule", "op"})

	RecordDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "uebax_record_duration_seconds",
		Help:    "Time to persist an event and run every rule against it.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	RulesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uebax_rules_active",
		Help: "Number of rules in the active rule set.",
	})
)
