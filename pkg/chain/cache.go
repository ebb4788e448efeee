package chain

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Ensure CacheLayer implements Layer
var _ Layer = (*CacheLayer)(nil)

// KeyFunc derives the cache slot for a call from its input. It must be
// pure and deterministic: equal inputs must produce equal keys.
type KeyFunc func(in any) string

// Stats is a snapshot of cache layer counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// CacheLayer memoizes successful results of the operation it wraps, keyed
// by a deterministic function of the input.
//
// A cache hit suppresses the inner call entirely: layers placed inside the
// cache will not observe suppressed invocations. Concurrent misses for the
// same key are de-duplicated; the inner operation runs once and its result
// is shared (first write wins with in-flight de-duplication). Failures are
// never cached, and a call whose context is already canceled when the
// inner operation returns does not populate the store: a timed-out caller
// never leaves an entry behind for a result it did not receive.
type CacheLayer struct {
	keyFn   KeyFunc
	store   Store
	flights singleflight.Group
	hits    atomic.Uint64
	misses  atomic.Uint64
	logger  zerolog.Logger
}

// NewCacheLayer creates a cache layer over the given store. The key
// function is supplied by the caller and is trusted to be side-effect-free.
func NewCacheLayer(keyFn KeyFunc, store Store) *CacheLayer {
	return &CacheLayer{
		keyFn:  keyFn,
		store:  store,
		logger: log.With().Str("component", "chain").Str("layer", "cache").Logger(),
	}
}

// Name implements Layer.
func (l *CacheLayer) Name() string {
	return "cache"
}

// Wrap implements Layer.
func (l *CacheLayer) Wrap(next Operation) Operation {
	return func(ctx context.Context, in any) (any, error) {
		key := l.keyFn(in)

		if value, found := l.store.Get(key); found {
			l.hits.Add(1)
			return value, nil
		}
		l.misses.Add(1)

		value, err, shared := l.flights.Do(key, func() (any, error) {
			// A concurrent flight may have populated the slot between the
			// read above and this point.
			if value, found := l.store.Get(key); found {
				return value, nil
			}

			out, err := next(ctx, in)
			if err != nil {
				return nil, err
			}

			if ctx.Err() != nil {
				// The initiating caller is gone; its result must not
				// occupy a cache slot.
				return nil, ctx.Err()
			}

			l.store.Set(key, out)
			return out, nil
		})
		if err != nil {
			return nil, err
		}
		if shared {
			l.logger.Debug().Str("key", key).Msg("Shared in-flight recomputation")
		}
		return value, nil
	}
}

// Invalidate evicts the entry for one derived key. Safe to call
// concurrently with reads and writes.
func (l *CacheLayer) Invalidate(key string) {
	l.store.Remove(key)
}

// InvalidateAll evicts every entry. Safe to call concurrently with reads
// and writes.
func (l *CacheLayer) InvalidateAll() {
	l.store.Purge()
	l.logger.Debug().Msg("Cache purged")
}

// Stats returns the hit and miss counters.
func (l *CacheLayer) Stats() Stats {
	return Stats{
		Hits:   l.hits.Load(),
		Misses: l.misses.Load(),
	}
}

// Store exposes the backing store, for sweeping and size diagnostics.
func (l *CacheLayer) Store() Store {
	return l.store
}
