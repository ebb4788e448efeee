// Package strategy provides an algorithm holder with atomic hot-swap. A
// Context owns exactly one active strategy for a role; swapping the active
// strategy is a single pointer replacement, so a concurrent Invoke sees
// either the old strategy or the new one, never a mix.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrStrategyNotSet is returned by Invoke when no strategy has ever
	// been assigned to the context.
	ErrStrategyNotSet = errors.New("no strategy set")

	// ErrReentrantSwap is returned by SetStrategy when a strategy attempts
	// to replace the active strategy of the context it is currently
	// executing under.
	ErrReentrantSwap = errors.New("reentrant strategy swap")
)

// Strategy is one interchangeable algorithm implementation for a role.
type Strategy interface {
	Do(ctx context.Context, in any) (any, error)
}

// Func adapts a plain function to the Strategy interface.
type Func func(ctx context.Context, in any) (any, error)

// Do implements Strategy.
func (f Func) Do(ctx context.Context, in any) (any, error) {
	return f(ctx, in)
}

// invokeKey marks a context.Context as being inside Invoke. The value is
// the *Context being invoked, so nested invocations across different
// contexts stay independent.
type invokeKey struct{}

// holder wraps the active strategy so the atomic pointer always swaps a
// whole reference, never individual fields.
type holder struct {
	strategy Strategy
}

// Context holds the currently active strategy for one role.
type Context struct {
	role   string
	active atomic.Pointer[holder]
	logger zerolog.Logger
}

// NewContext creates a context for the named role with no active strategy.
func NewContext(role string) *Context {
	return &Context{
		role:   role,
		logger: log.With().Str("component", "strategy").Str("role", role).Logger(),
	}
}

// Role returns the role name this context was created for.
func (c *Context) Role() string {
	return c.role
}

// Active reports whether a strategy has been assigned.
func (c *Context) Active() bool {
	return c.active.Load() != nil
}

// SetStrategy replaces the active strategy. The previous strategy is
// released, not destroyed; callers holding it elsewhere keep a valid
// reference. Calling SetStrategy from inside a strategy running under this
// same context fails with ErrReentrantSwap; the in-flight Invoke keeps the
// strategy it started with.
func (c *Context) SetStrategy(ctx context.Context, s Strategy) error {
	if s == nil {
		return fmt.Errorf("role %q: strategy must not be nil", c.role)
	}

	if owner, ok := ctx.Value(invokeKey{}).(*Context); ok && owner == c {
		return fmt.Errorf("role %q: %w", c.role, ErrReentrantSwap)
	}

	prev := c.active.Swap(&holder{strategy: s})
	c.logger.Debug().Bool("replaced", prev != nil).Msg("Strategy swapped")
	return nil
}

// Invoke delegates to whichever strategy is active at the moment of the
// call. The active reference is loaded once, so a concurrent swap cannot
// change the strategy mid-call.
func (c *Context) Invoke(ctx context.Context, in any) (any, error) {
	h := c.active.Load()
	if h == nil {
		return nil, fmt.Errorf("role %q: %w", c.role, ErrStrategyNotSet)
	}

	ctx = context.WithValue(ctx, invokeKey{}, c)
	return h.strategy.Do(ctx, in)
}
