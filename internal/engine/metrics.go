package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	SettlementsTotal   *prometheus.CounterVec
	SettlementDuration *prometheus.HistogramVec
	SpinsTotal         *prometheus.CounterVec
	VersionConflicts   prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		SettlementsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_settlements_total",
				Help: "Total settlement attempts by operation and status.",
			},
			[]string{"method", "status"},
		),
		SettlementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wallet_settlement_duration_seconds",
				Help:    "Settlement processing duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SpinsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wallet_spins_total",
				Help: "Total settled spins by outcome.",
			},
			[]string{"outcome"},
		),
		VersionConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "wallet_version_conflicts_total",
				Help: "Total optimistic-lock conflicts observed at commit.",
			},
		),
	}

	registry.MustRegister(
		m.SettlementsTotal,
		m.SettlementDuration,
		m.SpinsTotal,
		m.VersionConflicts,
	)
	return m
}
