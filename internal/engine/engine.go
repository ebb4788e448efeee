// Package engine wires the composition primitives together: a registry, a
// notification bus, per-role strategy contexts and cached decorator
// chains, all built from one configuration and sharing one metrics
// registry. The engine is explicitly constructed and passed around; there
// is no process-wide instance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/loomkit/loom/internal/config"
	"github.com/loomkit/loom/internal/logging"
	"github.com/loomkit/loom/internal/metrics"
	"github.com/loomkit/loom/internal/telemetry"
	"github.com/loomkit/loom/pkg/bus"
	"github.com/loomkit/loom/pkg/chain"
	"github.com/loomkit/loom/pkg/registry"
	"github.com/loomkit/loom/pkg/strategy"
)

// Store backend tags resolvable through the engine's store registry.
const (
	StoreTTL registry.Tag = "ttl"
	StoreLRU registry.Tag = "lru"
)

// namedCache pairs a cache layer with the chain it serves, for sweeping
// and entry gauges.
type namedCache struct {
	name  string
	layer *chain.CacheLayer
}

// Engine coordinates the composition components.
type Engine struct {
	config *config.Config

	registry *registry.Registry
	stores   *registry.Registry
	bus      *bus.Bus

	ctxMu    sync.Mutex
	contexts map[string]*strategy.Context

	cacheMu sync.Mutex
	caches  []namedCache

	metrics *metrics.Metrics
	promReg *prometheus.Registry

	telemetryFn func(context.Context) error
	shutdownCh  chan struct{}
	closeOnce   sync.Once
	logger      zerolog.Logger
}

// New creates an engine from the given configuration. A nil configuration
// uses defaults.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Setup(logging.Config{
		Level:             cfg.Logging.Level,
		Format:            cfg.Logging.Format,
		IncludeCaller:     cfg.Logging.IncludeCaller,
		IncludeStacktrace: true,
		GlobalFields:      cfg.Logging.GlobalFields,
	}); err != nil {
		return nil, fmt.Errorf("configuring logging: %w", err)
	}

	promReg := prometheus.NewRegistry()

	e := &Engine{
		config:     cfg,
		registry:   registry.New(),
		stores:     registry.New(),
		bus:        bus.New(bus.Config{ChannelBuffer: cfg.Bus.ChannelBuffer}),
		contexts:   make(map[string]*strategy.Context),
		metrics:    metrics.New(cfg.Metrics.Namespace, promReg),
		promReg:    promReg,
		shutdownCh: make(chan struct{}),
		logger:     logging.Component("engine"),
	}

	if err := e.registerStores(); err != nil {
		return nil, err
	}

	return e, nil
}

// registerStores binds the built-in cache store constructors into the
// engine's own store registry, so the configured backend is resolved the
// same way any other tagged variant is.
func (e *Engine) registerStores() error {
	ttl := time.Duration(e.config.Cache.TTLMs) * time.Millisecond
	sweep := time.Duration(e.config.Cache.SweepIntervalMs) * time.Millisecond
	maxEntries := e.config.Cache.MaxEntries

	if err := e.stores.Register(StoreTTL, func(ctx context.Context, args ...any) (any, error) {
		return chain.NewTTLStore(ttl, sweep), nil
	}); err != nil {
		return err
	}

	return e.stores.Register(StoreLRU, func(ctx context.Context, args ...any) (any, error) {
		return chain.NewLRUStore(maxEntries, ttl)
	})
}

// Registry returns the engine's behavior registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Bus returns the engine's notification bus.
func (e *Engine) Bus() *bus.Bus {
	return e.bus
}

// Resolve dispatches through the registry and counts the outcome.
func (e *Engine) Resolve(ctx context.Context, tag registry.Tag, args ...any) (any, error) {
	instance, err := e.registry.Resolve(ctx, tag, args...)
	switch {
	case err == nil:
		e.metrics.RegistryResolutions.WithLabelValues(string(tag), "resolved").Inc()
	case errors.Is(err, registry.ErrUnknownTag):
		e.metrics.RegistryResolutions.WithLabelValues(string(tag), "unknown_tag").Inc()
	default:
		e.metrics.RegistryResolutions.WithLabelValues(string(tag), "constructor_error").Inc()
	}
	return instance, err
}

// StrategyFor returns the strategy context for a role, creating it on
// first use.
func (e *Engine) StrategyFor(role string) *strategy.Context {
	e.ctxMu.Lock()
	defer e.ctxMu.Unlock()

	sc, ok := e.contexts[role]
	if !ok {
		sc = strategy.NewContext(role)
		e.contexts[role] = sc
	}
	return sc
}

// SetStrategy swaps the active strategy for a role.
func (e *Engine) SetStrategy(ctx context.Context, role string, s strategy.Strategy) error {
	if err := e.StrategyFor(role).SetStrategy(ctx, s); err != nil {
		return err
	}
	e.metrics.StrategySwaps.WithLabelValues(role).Inc()
	return nil
}

// InvokeStrategy invokes the active strategy for a role.
func (e *Engine) InvokeStrategy(ctx context.Context, role string, in any) (any, error) {
	out, err := e.StrategyFor(role).Invoke(ctx, in)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	e.metrics.StrategyInvocations.WithLabelValues(role, outcome).Inc()
	return out, err
}

// BuildChain composes the engine's default layer stack around a base
// operation: tracing (when telemetry is enabled), then logging and
// metrics, then the cache. Observability layers sit outside the cache so
// they see every call; cache hits suppress the base operation only.
// The cache layer is returned alongside the chain for explicit
// invalidation.
func (e *Engine) BuildChain(ctx context.Context, name string, base chain.Operation, keyFn chain.KeyFunc) (*chain.Chain, *chain.CacheLayer, error) {
	instance, err := e.stores.Resolve(ctx, registry.Tag(e.config.Cache.Backend))
	if err != nil {
		return nil, nil, fmt.Errorf("building chain %q: %w", name, err)
	}
	store := instance.(chain.Store)

	cacheLayer := chain.NewCacheLayer(keyFn, store)

	layers := make([]chain.Layer, 0, 4)
	if e.config.Telemetry.Enabled {
		layers = append(layers, chain.Tracing(name))
	}
	layers = append(layers,
		chain.Logging(name),
		chain.Metrics(
			e.metrics.ChainInvocations.WithLabelValues(name),
			e.metrics.ChainFailures.WithLabelValues(name),
			e.metrics.ChainDuration.WithLabelValues(name),
		),
		cacheLayer,
	)

	e.cacheMu.Lock()
	e.caches = append(e.caches, namedCache{name: name, layer: cacheLayer})
	e.cacheMu.Unlock()

	c := chain.New(name, base, layers...)
	e.logger.Debug().Str("chain", name).Strs("layers", c.Layers()).Msg("Built chain")
	return c, cacheLayer, nil
}

// Subscribe registers a handler on the bus and tracks the subscription
// gauge.
func (e *Engine) Subscribe(topic string, h bus.Handler) *bus.Subscription {
	sub := e.bus.Subscribe(topic, h)
	e.metrics.BusSubscriptions.Inc()
	return sub
}

// Unsubscribe removes a subscription registered through Subscribe.
func (e *Engine) Unsubscribe(sub *bus.Subscription) {
	if sub == nil {
		return
	}
	e.bus.Unsubscribe(sub)
	e.metrics.BusSubscriptions.Dec()
}

// Notify publishes an event on the bus and counts delivery outcomes.
// Handler failures surface as a *bus.DeliveryError after the full
// snapshot has been attempted.
func (e *Engine) Notify(ctx context.Context, topic string, payload any) error {
	err := e.bus.Notify(ctx, topic, payload)
	e.metrics.BusEvents.WithLabelValues(topic).Inc()

	var deliveryErr *bus.DeliveryError
	if errors.As(err, &deliveryErr) {
		e.metrics.BusHandlerFailures.WithLabelValues(topic).Add(float64(len(deliveryErr.Failures)))
	}
	return err
}

// MetricsHandler returns an HTTP handler exposing the engine's metrics
// registry. The engine does not serve it; hosting is the caller's concern.
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.promReg, promhttp.HandlerOpts{})
}

// Start initializes telemetry and begins the cache sweep loop when a
// sweep interval is configured.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().Msg("Starting composition engine")

	shutdown, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:       e.config.Telemetry.Enabled,
		ServiceName:   e.config.Telemetry.ServiceName,
		Endpoint:      e.config.Telemetry.Endpoint,
		SamplingRatio: e.config.Telemetry.SamplingRatio,
		Timeout:       5 * time.Second,
		Attributes:    e.config.Telemetry.Attributes,
	})
	if err != nil {
		return fmt.Errorf("setting up telemetry: %w", err)
	}
	e.telemetryFn = shutdown

	if e.config.Cache.SweepIntervalMs > 0 {
		go e.sweepLoop(ctx)
	}

	return nil
}

// sweepLoop periodically drops expired cache entries from stores that do
// not run their own janitor, and refreshes the entry gauges.
func (e *Engine) sweepLoop(ctx context.Context) {
	interval := time.Duration(e.config.Cache.SweepIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.performSweep()
		case <-ctx.Done():
			return
		case <-e.shutdownCh:
			return
		}
	}
}

// performSweep runs one sweep pass over all built cache layers.
func (e *Engine) performSweep() {
	e.cacheMu.Lock()
	caches := make([]namedCache, len(e.caches))
	copy(caches, e.caches)
	e.cacheMu.Unlock()

	for _, c := range caches {
		store := c.layer.Store()
		if sweeper, ok := store.(chain.Sweeper); ok {
			removed := sweeper.Sweep()
			if removed > 0 {
				e.metrics.CacheSweepRemoved.Add(float64(removed))
				e.logger.Debug().Str("chain", c.name).Int("removed", removed).Msg("Swept expired cache entries")
			}
		}
		e.metrics.CacheEntries.WithLabelValues(c.name).Set(float64(store.Len()))
	}
}

// Shutdown stops the sweep loop and shuts down the bus and telemetry.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down composition engine")

	e.closeOnce.Do(func() {
		close(e.shutdownCh)
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.bus.Shutdown(ctx)
	})
	if e.telemetryFn != nil {
		g.Go(func() error {
			return e.telemetryFn(ctx)
		})
	}
	return g.Wait()
}
