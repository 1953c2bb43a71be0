package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names published by the services.
const (
	TopicEvidenceIngested   = "evidence.ingested"
	TopicProcessingStarted  = "processing.started"
	TopicProcessingProgress = "processing.progress"
	TopicStageCompleted     = "processing.stage_completed"
	TopicProcessingDone     = "processing.completed"
	TopicProcessingFailed   = "processing.failed"
	TopicGateDenied         = "gate.denied"
	TopicCacheInvalidated   = "cache.invalidated"
)

// Event is one bus message. The payload is small and serializable; large
// artifacts travel by reference (evidence id, fingerprint), never by value.
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Topic     string                 `json:"topic"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

// NewEvent builds a bus event for a topic.
func NewEvent(topic string, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Topic:     topic,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Handler consumes one event. Handlers run on their subscription's own
// goroutine; a slow handler delays only its own subscription.
type Handler func(Event)

type subscription struct {
	id      uuid.UUID
	topics  map[string]bool // empty means all topics
	ch      chan Event
	done    chan struct{}
	dropped atomic.Int64
}

// Bus is the in-process publish/subscribe fan-out. Publish never blocks:
// each subscriber has a bounded buffer and events overflowing it are
// dropped and counted, which keeps the processing pipeline isolated from
// slow consumers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uuid.UUID]*subscription
	closed bool
	logger *zap.Logger
}

// DefaultBufferSize is the per-subscription channel capacity.
const DefaultBufferSize = 256

// NewBus creates an event bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[uuid.UUID]*subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for the given topics; no topics means every
// topic. Events are delivered in publish order per subscription. The
// returned cancel function stops delivery and releases the goroutine.
func (b *Bus) Subscribe(handler Handler, topics ...string) (cancel func()) {
	sub := &subscription{
		id:     uuid.New(),
		topics: make(map[string]bool, len(topics)),
		ch:     make(chan Event, DefaultBufferSize),
		done:   make(chan struct{}),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return func() {}
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	go b.deliver(sub, handler)

	return func() { b.unsubscribe(sub.id) }
}

func (b *Bus) deliver(sub *subscription, handler Handler) {
	for {
		select {
		case ev := <-sub.ch:
			b.invoke(sub, handler, ev)
		case <-sub.done:
			// Drain what was already queued before the cancel.
			for {
				select {
				case ev := <-sub.ch:
					b.invoke(sub, handler, ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) invoke(sub *subscription, handler Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("subscription_id", sub.id.String()),
				zap.String("topic", ev.Topic),
				zap.Any("panic", r))
		}
	}()
	handler(ev)
}

func (b *Bus) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// Publish fans the event out to matching subscriptions without blocking.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[ev.Topic] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
			b.logger.Warn("subscriber buffer full, dropping event",
				zap.String("subscription_id", sub.id.String()),
				zap.String("topic", ev.Topic))
		}
	}
}

// Close stops all subscriptions. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uuid.UUID]*subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.done)
	}
}
