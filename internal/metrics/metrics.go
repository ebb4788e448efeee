// Package metrics defines the Prometheus collectors for the composition
// engine. Collectors are registered against an injected registerer rather
// than a process-wide default, so each engine instance owns its metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// Registry metrics
	RegistryResolutions *prometheus.CounterVec

	// Strategy metrics
	StrategySwaps       *prometheus.CounterVec
	StrategyInvocations *prometheus.CounterVec

	// Chain metrics
	ChainInvocations *prometheus.CounterVec
	ChainFailures    *prometheus.CounterVec
	ChainDuration    *prometheus.HistogramVec

	// Cache metrics
	CacheEntries      *prometheus.GaugeVec
	CacheSweepRemoved prometheus.Counter

	// Bus metrics
	BusEvents          *prometheus.CounterVec
	BusHandlerFailures *prometheus.CounterVec
	BusSubscriptions   prometheus.Gauge
}

// New initializes and registers all collectors with the given registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.RegistryResolutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_resolutions_total",
			Help:      "Total number of registry resolutions by outcome",
		},
		[]string{"tag", "outcome"},
	)

	m.StrategySwaps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_swaps_total",
			Help:      "Total number of strategy swaps by role",
		},
		[]string{"role"},
	)

	m.StrategyInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "strategy_invocations_total",
			Help:      "Total number of strategy invocations by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	m.ChainInvocations = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_invocations_total",
			Help:      "Total number of chain invocations",
		},
		[]string{"chain"},
	)

	m.ChainFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_failures_total",
			Help:      "Total number of failed chain invocations",
		},
		[]string{"chain"},
	)

	m.ChainDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chain_duration_seconds",
			Help:      "Chain invocation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16), // from 100us to ~3s
		},
		[]string{"chain"},
	)

	m.CacheEntries = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Current number of cache entries per chain",
		},
		[]string{"chain"},
	)

	m.CacheSweepRemoved = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_sweep_removed_total",
			Help:      "Total number of expired cache entries removed by sweeps",
		},
	)

	m.BusEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_total",
			Help:      "Total number of events published per topic",
		},
		[]string{"topic"},
	)

	m.BusHandlerFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_handler_failures_total",
			Help:      "Total number of handler failures per topic",
		},
		[]string{"topic"},
	)

	m.BusSubscriptions = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bus_subscriptions",
			Help:      "Current number of active bus subscriptions",
		},
	)

	return m
}
