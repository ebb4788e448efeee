// Package registry provides tag-based dispatch to constructor functions.
// Call sites resolve behavior by an opaque tag instead of naming concrete
// types; an unregistered tag is always a checked error, never a fallback.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrDuplicateTag is returned when registering a tag that is already bound.
	ErrDuplicateTag = errors.New("tag already registered")

	// ErrUnknownTag is returned when resolving a tag that was never registered.
	ErrUnknownTag = errors.New("unknown tag")
)

// Tag identifies a registrable variant.
type Tag string

// Constructor builds a concrete instance for a tag. Constructors are
// supplied by external code; the registry only invokes them.
type Constructor func(ctx context.Context, args ...any) (any, error)

// Registry maps tags to constructor functions. Registration is expected at
// setup time; resolution is safe for concurrent use on the hot path.
type Registry struct {
	mu     sync.RWMutex
	table  map[Tag]Constructor
	logger zerolog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		table:  make(map[Tag]Constructor),
		logger: log.With().Str("component", "registry").Logger(),
	}
}

// Register binds a tag to a constructor. A tag can be bound exactly once;
// rebinding fails with ErrDuplicateTag and leaves the original binding intact.
func (r *Registry) Register(tag Tag, ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("tag %q: constructor must not be nil", tag)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.table[tag]; exists {
		return fmt.Errorf("tag %q: %w", tag, ErrDuplicateTag)
	}

	r.table[tag] = ctor
	r.logger.Debug().Str("tag", string(tag)).Msg("Registered constructor")
	return nil
}

// Resolve invokes the constructor bound to tag and returns its result.
// Resolving an unbound tag fails with ErrUnknownTag. Constructor failures
// propagate to the caller unchanged.
func (r *Registry) Resolve(ctx context.Context, tag Tag, args ...any) (any, error) {
	r.mu.RLock()
	ctor, ok := r.table[tag]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("tag %q: %w", tag, ErrUnknownTag)
	}

	return ctor(ctx, args...)
}

// Tags returns a sorted snapshot of the registered tags, for diagnostics.
func (r *Registry) Tags() []Tag {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]Tag, 0, len(r.table))
	for tag := range r.table {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.table)
}
