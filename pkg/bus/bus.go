// Package bus provides a subject/observer notification bus. Subscribers
// register interest in a topic; Notify delivers an event synchronously to a
// snapshot of the topic's subscriber list, in subscription order, isolating
// handler failures so one faulty observer never blocks the rest.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Event is the payload delivered to subscribers of a topic.
type Event struct {
	ID        string
	Topic     string
	Payload   any
	EmittedAt time.Time
}

// Handler consumes one event. A non-nil return is recorded as a handler
// failure; it does not abort delivery to later subscribers.
type Handler func(ctx context.Context, evt Event) error

// Subscription is a registered interest in one topic's events.
type Subscription struct {
	id      string
	topic   string
	seq     uint64
	handler Handler

	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Topic returns the topic this subscription is attached to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Seq returns the subscription's insertion sequence number, strictly
// increasing per topic.
func (s *Subscription) Seq() uint64 {
	return s.seq
}

// Config contains bus configuration.
type Config struct {
	// Buffer size for channel subscriptions.
	ChannelBuffer int
}

// DefaultConfig returns a default bus configuration.
func DefaultConfig() Config {
	return Config{
		ChannelBuffer: 100,
	}
}

// Bus routes events to topic subscribers.
type Bus struct {
	config Config
	mu     sync.RWMutex
	topics map[string][]*Subscription
	seqs   map[string]uint64
	logger zerolog.Logger
}

// New creates a bus with no subscribers.
func New(config ...Config) *Bus {
	cfg := DefaultConfig()
	if len(config) > 0 {
		cfg = config[0]
	}

	return &Bus{
		config: cfg,
		topics: make(map[string][]*Subscription),
		seqs:   make(map[string]uint64),
		logger: log.With().Str("component", "bus").Logger(),
	}
}

// Subscribe appends a handler to the topic's ordered subscriber list and
// returns a handle usable for Unsubscribe.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	sub := &Subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: h,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.seqs[topic]++
	sub.seq = b.seqs[topic]
	b.topics[topic] = append(b.topics[topic], sub)

	b.logger.Debug().Str("topic", topic).Str("subscription_id", sub.id).Msg("Subscribed")
	return sub
}

// SubscribeChan subscribes a buffered channel to the topic. Events are
// sent without blocking; when the buffer is full the event is dropped for
// that subscriber and the drop is surfaced as a handler failure. A buffer
// of zero uses the configured default. The channel is closed by
// Unsubscribe or Shutdown.
func (b *Bus) SubscribeChan(topic string, buffer int) (*Subscription, <-chan Event) {
	if buffer <= 0 {
		buffer = b.config.ChannelBuffer
	}

	ch := make(chan Event, buffer)
	sub := b.Subscribe(topic, nil)

	sub.mu.Lock()
	sub.ch = ch
	sub.mu.Unlock()

	return sub, ch
}

// Unsubscribe removes the subscription from its topic. It is idempotent:
// unsubscribing twice, or unsubscribing a handle the bus no longer knows,
// is a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	subs := b.topics[sub.topic]
	for i, candidate := range subs {
		if candidate == sub {
			b.topics[sub.topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.topics[sub.topic]) == 0 {
		delete(b.topics, sub.topic)
	}
	b.mu.Unlock()

	sub.close()
}

// close marks the subscription inert and closes its channel, once.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.ch != nil {
		close(s.ch)
	}
}

// Notify delivers an event built from payload to a snapshot of the
// topic's subscriber list taken at call start, in subscription order.
// Subscribers added during delivery do not receive the event; subscribers
// removed during delivery may still receive it if they were in the
// snapshot. Handler failures are collected and returned as a
// *DeliveryError after the full snapshot has been attempted; a failing
// handler keeps its subscription.
func (b *Bus) Notify(ctx context.Context, topic string, payload any) error {
	evt := Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   payload,
		EmittedAt: time.Now(),
	}

	b.mu.RLock()
	snapshot := make([]*Subscription, len(b.topics[topic]))
	copy(snapshot, b.topics[topic])
	b.mu.RUnlock()

	var failures []error
	for _, sub := range snapshot {
		if err := b.deliver(ctx, sub, evt); err != nil {
			failures = append(failures, &HandlerError{
				Topic:          topic,
				SubscriptionID: sub.id,
				Err:            err,
			})
			b.logger.Warn().
				Err(err).
				Str("topic", topic).
				Str("subscription_id", sub.id).
				Msg("Handler failed, continuing delivery")
		}
	}

	if len(failures) > 0 {
		return &DeliveryError{
			Topic:     topic,
			Delivered: len(snapshot) - len(failures),
			Failures:  failures,
		}
	}
	return nil
}

// deliver hands one event to one subscription, via its handler or channel.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, evt Event) error {
	if sub.handler != nil {
		return sub.handler(ctx, evt)
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()

	if sub.closed {
		// Unsubscribed after the snapshot was taken; nothing to deliver to.
		return nil
	}

	select {
	case sub.ch <- evt:
		return nil
	default:
		return ErrBufferFull
	}
}

// Subscribers returns the current number of subscriptions for a topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Shutdown removes every subscription and closes all channel
// subscriptions. The bus is unusable for delivery afterwards only in the
// sense that no subscribers remain; Subscribe still works.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info().Msg("Shutting down notification bus")

	b.mu.Lock()
	subs := make([]*Subscription, 0)
	for _, topicSubs := range b.topics {
		subs = append(subs, topicSubs...)
	}
	b.topics = make(map[string][]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}
