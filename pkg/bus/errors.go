package bus

import (
	"errors"
	"fmt"
)

// ErrBufferFull is returned as a handler failure when a channel
// subscription's buffer is full and the event is dropped for it.
var ErrBufferFull = errors.New("subscriber buffer full, event dropped")

// HandlerError wraps one subscriber's failure during a delivery pass.
type HandlerError struct {
	Topic          string
	SubscriptionID string
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("topic %q subscription %s: %v", e.Topic, e.SubscriptionID, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// DeliveryError aggregates the handler failures of one Notify call. It is
// returned only after delivery has been attempted to the full snapshot.
type DeliveryError struct {
	Topic     string
	Delivered int
	Failures  []error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("topic %q: %d handler(s) failed, %d delivered", e.Topic, len(e.Failures), e.Delivered)
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *DeliveryError) Unwrap() []error {
	return e.Failures
}
