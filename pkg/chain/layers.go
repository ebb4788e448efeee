package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// ErrTimeout is returned by a timeout layer when the inner operation does
// not complete within its deadline.
var ErrTimeout = errors.New("operation timed out")

// funcLayer builds a Layer from a name and a wrap function.
type funcLayer struct {
	name string
	wrap func(next Operation) Operation
}

func (l funcLayer) Name() string {
	return l.name
}

func (l funcLayer) Wrap(next Operation) Operation {
	return l.wrap(next)
}

// NewLayer builds a custom layer from a name and a wrap function.
func NewLayer(name string, wrap func(next Operation) Operation) Layer {
	return funcLayer{name: name, wrap: wrap}
}

// Logging returns a layer that logs each invocation with its duration and
// outcome. Place it outside the cache layer if it must see every call.
func Logging(operation string) Layer {
	logger := log.With().Str("component", "chain").Str("operation", operation).Logger()

	return funcLayer{
		name: "logging",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				start := time.Now()
				out, err := next(ctx, in)
				if err != nil {
					logger.Warn().Err(err).Dur("duration", time.Since(start)).Msg("Operation failed")
					return nil, err
				}
				logger.Debug().Dur("duration", time.Since(start)).Msg("Operation completed")
				return out, nil
			}
		},
	}
}

// Metrics returns a layer that counts invocations and failures and
// observes durations.
func Metrics(calls, failures prometheus.Counter, duration prometheus.Observer) Layer {
	return funcLayer{
		name: "metrics",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				start := time.Now()
				out, err := next(ctx, in)
				calls.Inc()
				duration.Observe(time.Since(start).Seconds())
				if err != nil {
					failures.Inc()
				}
				return out, err
			}
		},
	}
}

// Retry returns a layer that re-invokes the inner operation up to attempts
// times, sleeping backoff between tries. Retrying stops early when the
// context is done. The last error is returned.
func Retry(attempts int, backoff time.Duration) Layer {
	if attempts < 1 {
		attempts = 1
	}

	return funcLayer{
		name: "retry",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				var lastErr error
				for attempt := 0; attempt < attempts; attempt++ {
					if attempt > 0 {
						select {
						case <-time.After(backoff):
						case <-ctx.Done():
							return nil, ctx.Err()
						}
					}

					out, err := next(ctx, in)
					if err == nil {
						return out, nil
					}
					lastErr = err
				}
				return nil, lastErr
			}
		},
	}
}

// result carries one inner completion across the timeout race.
type result struct {
	out any
	err error
}

// Timeout returns a layer that races the inner operation against a
// deadline. The inner call receives a context that is canceled at the
// deadline; if it completes late anyway, its result is discarded. Combined
// with the cache layer's context check, a timed-out result never enters
// the cache.
func Timeout(d time.Duration) Layer {
	return funcLayer{
		name: "timeout",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, d)
				defer cancel()

				done := make(chan result, 1)
				go func() {
					out, err := next(ctx, in)
					done <- result{out: out, err: err}
				}()

				select {
				case res := <-done:
					return res.out, res.err
				case <-ctx.Done():
					return nil, fmt.Errorf("after %s: %w", d, ErrTimeout)
				}
			}
		},
	}
}

// RateLimit returns a layer that waits on a token bucket before invoking
// the inner operation. Waiting is bounded by the caller's context.
func RateLimit(limiter *rate.Limiter) Layer {
	return funcLayer{
		name: "ratelimit",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				if err := limiter.Wait(ctx); err != nil {
					return nil, err
				}
				return next(ctx, in)
			}
		},
	}
}

// Tracing returns a layer that wraps each invocation in an OpenTelemetry
// span and records failures on it.
func Tracing(operation string) Layer {
	tracer := otel.Tracer("github.com/loomkit/loom/pkg/chain")

	return funcLayer{
		name: "tracing",
		wrap: func(next Operation) Operation {
			return func(ctx context.Context, in any) (any, error) {
				ctx, span := tracer.Start(ctx, operation,
					trace.WithAttributes(attribute.String("chain.operation", operation)),
				)
				defer span.End()

				out, err := next(ctx, in)
				if err != nil {
					span.SetStatus(codes.Error, err.Error())
					span.RecordError(err)
				}
				return out, err
			}
		},
	}
}
