// Package chain composes ordered decorator layers around a base operation.
// A chain is built once and is immutable afterwards; invocation passes
// through the layers in build order and unwinds in reverse, so the first
// layer given to New is the outermost.
//
// Layer order is a caller contract, not mechanically checked. Layers that
// must observe every call (logging, metrics, tracing) belong outside the
// cache layer; layers whose work should be suppressed on cache hits belong
// inside it.
package chain

import (
	"context"
)

// Operation is the unit of invocable behavior a chain wraps.
type Operation func(ctx context.Context, in any) (any, error)

// Layer adds one cross-cutting behavior around an inner operation while
// preserving its signature.
type Layer interface {
	// Name identifies the layer in the chain's inspectable order.
	Name() string

	// Wrap returns an operation that applies the layer's behavior around next.
	Wrap(next Operation) Operation
}

// Chain is an ordered, immutable stack of layers around a base operation.
type Chain struct {
	name  string
	names []string
	op    Operation
}

// New builds a chain from a base operation and layers listed outer to
// inner. The composed operation is fixed at construction.
func New(name string, base Operation, layers ...Layer) *Chain {
	op := base
	names := make([]string, len(layers))
	for i := len(layers) - 1; i >= 0; i-- {
		op = layers[i].Wrap(op)
		names[i] = layers[i].Name()
	}

	return &Chain{
		name:  name,
		names: names,
		op:    op,
	}
}

// Name returns the chain's name.
func (c *Chain) Name() string {
	return c.name
}

// Layers returns the layer names in composition order, outermost first.
func (c *Chain) Layers() []string {
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// Invoke runs the composed operation. Inner failures propagate upward
// through every layer unless a layer is explicitly designed to intercept
// them.
func (c *Chain) Invoke(ctx context.Context, in any) (any, error) {
	return c.op(ctx, in)
}
