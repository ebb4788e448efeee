package chain

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	gocache "github.com/patrickmn/go-cache"
)

// Store is the backing table a cache layer keeps its entries in. Get must
// return only live entries; expiry is the store's concern. Implementations
// must be safe for concurrent use.
type Store interface {
	Get(key string) (any, bool)
	Set(key string, value any)
	Remove(key string)
	Purge()
	Len() int
}

// Sweeper is an optional Store capability: proactively drop expired
// entries. Stores without their own janitor implement this so a caller can
// drive periodic sweeps for memory bounding.
type Sweeper interface {
	Sweep() int
}

// ttlStore is a TTL-bounded store. Staleness is checked lazily at read
// time; a positive sweep interval additionally runs a background janitor.
type ttlStore struct {
	entries *gocache.Cache
}

// NewTTLStore creates a store whose entries expire ttl after they are
// written. A sweepInterval of zero disables active eviction entirely.
func NewTTLStore(ttl, sweepInterval time.Duration) Store {
	return &ttlStore{
		entries: gocache.New(ttl, sweepInterval),
	}
}

func (s *ttlStore) Get(key string) (any, bool) {
	return s.entries.Get(key)
}

func (s *ttlStore) Set(key string, value any) {
	s.entries.SetDefault(key, value)
}

func (s *ttlStore) Remove(key string) {
	s.entries.Delete(key)
}

func (s *ttlStore) Purge() {
	s.entries.Flush()
}

func (s *ttlStore) Len() int {
	return s.entries.ItemCount()
}

// lruItem carries the expiration alongside the value so entries are
// replaced whole, never mutated in place.
type lruItem struct {
	value     any
	expiresAt time.Time
}

// lruStore bounds the entry count with a 2Q LRU and bounds entry age with
// a per-item expiration checked at read time.
type lruStore struct {
	mu      sync.Mutex
	entries *lru.TwoQueueCache
	ttl     time.Duration
}

// NewLRUStore creates a size-bounded store holding at most size entries,
// each expiring ttl after it is written.
func NewLRUStore(size int, ttl time.Duration) (Store, error) {
	entries, err := lru.New2Q(size)
	if err != nil {
		return nil, fmt.Errorf("creating lru store: %w", err)
	}

	return &lruStore{
		entries: entries,
		ttl:     ttl,
	}, nil
}

func (s *lruStore) Get(key string) (any, bool) {
	value, found := s.entries.Get(key)
	if !found {
		return nil, false
	}

	item := value.(lruItem)
	if time.Now().After(item.expiresAt) {
		s.entries.Remove(key)
		return nil, false
	}

	return item.value, true
}

func (s *lruStore) Set(key string, value any) {
	s.entries.Add(key, lruItem{
		value:     value,
		expiresAt: time.Now().Add(s.ttl),
	})
}

func (s *lruStore) Remove(key string) {
	s.entries.Remove(key)
}

func (s *lruStore) Purge() {
	s.entries.Purge()
}

func (s *lruStore) Len() int {
	return s.entries.Len()
}

// Sweep removes every expired entry and returns how many were dropped.
func (s *lruStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for _, key := range s.entries.Keys() {
		value, found := s.entries.Peek(key)
		if !found {
			continue
		}
		if now.After(value.(lruItem).expiresAt) {
			s.entries.Remove(key)
			removed++
		}
	}
	return removed
}
