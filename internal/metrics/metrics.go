// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package metrics defines the Prometheus collectors for the pool gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PoolEntries tracks the number of live pool entries.
	PoolEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ace2g_pool_entries",
		Help: "Number of live engine pool entries",
	})

	// EngineHealthy reports the last observed engine health state (1 healthy, 0 not).
	EngineHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ace2g_engine_healthy",
		Help: "Whether the upstream engine answered its last health probe",
	})

	// PoolReclaimsTotal counts slot reclamations of non-locked-in entries.
	PoolReclaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ace2g_pool_reclaims_total",
		Help: "Total slot reclamations forced by a full pool",
	})

	// PoolEvictionsTotal counts stale-entry evictions by the maintenance loop.
	PoolEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ace2g_pool_evictions_total",
		Help: "Total stale entries evicted by the maintenance loop",
	})

	// PoolExhaustedTotal counts requests rejected because every slot was locked in.
	PoolExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ace2g_pool_exhausted_total",
		Help: "Total requests rejected with pool exhaustion",
	})

	// RelayRequestsTotal tracks manifest relay outcomes.
	RelayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace2g_relay_requests_total",
		Help: "Total manifest relay attempts by result",
	}, []string{"result"})

	// RelayFetchDuration tracks upstream manifest fetch latency.
	RelayFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ace2g_relay_fetch_duration_seconds",
		Help:    "Upstream manifest fetch latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	// QualityUpdatesTotal tracks quality score updates by rating sign.
	QualityUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ace2g_quality_updates_total",
		Help: "Total quality score updates by rating direction",
	}, []string{"direction"})
)

// SetPoolEntries records the current pool occupancy.
func SetPoolEntries(n int) {
	PoolEntries.Set(float64(n))
}

// SetEngineHealthy records the engine health probe outcome.
func SetEngineHealthy(healthy bool) {
	if healthy {
		EngineHealthy.Set(1)
		return
	}
	EngineHealthy.Set(0)
}

// IncRelayRequest records a relay attempt outcome ("ok", "upstream_error",
// "malformed", "pool_exhausted", "invalid_id").
func IncRelayRequest(result string) {
	RelayRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveRelayFetch records the upstream fetch latency.
func ObserveRelayFetch(d time.Duration) {
	RelayFetchDuration.Observe(d.Seconds())
}

// IncQualityUpdate records a score update by the sign of its rating.
func IncQualityUpdate(rating int) {
	QualityUpdatesTotal.WithLabelValues(ratingDirection(rating)).Inc()
}

func ratingDirection(rating int) string {
	switch {
	case rating > 0:
		return "up"
	case rating < 0:
		return "down"
	default:
		return "flat"
	}
}
