// Package eventbus is a topic-based, at-least-once publish/subscribe bus.
// Topics are dot-hierarchical strings (workflow.transitioned,
// llm.completed, function.completed.<id>); subscribers match against a
// glob pattern where "*" matches exactly one segment and "**" matches any
// suffix of segments.
package eventbus

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/google/uuid"
)

// Event is one message on the bus. ID is stable so consumers — expected to
// be idempotent — can dedupe retried deliveries.
type Event struct {
	ID        string
	Topic     string
	Payload   any
	Timestamp time.Time
}

// Filter further restricts which events matching a subscription's topic
// pattern are actually delivered.
type Filter func(Event) bool

// OverflowPolicy controls what a subscription does when its queue is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued event to make room (default).
	DropOldest OverflowPolicy = iota
	// Block makes Publish wait for room in this subscriber's queue.
	Block
)

// DefaultQueueSize is the default bound on a subscriber's pending-event
// queue.
const DefaultQueueSize = 1024

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Pattern   string
	Filter    Filter
	QueueSize int
	Overflow  OverflowPolicy
}

// Bus is a process-local event bus with bounded, independent per-subscriber
// queues. Publish delivers to every matching subscriber without waiting for
// them to consume, except when a subscriber's policy is Block and its
// queue is full — that subscriber alone applies backpressure to Publish.
type Bus struct {
	mu       sync.RWMutex
	subs     map[string]*subscription
	metrics  *metrics.Collector
	lagStore LagStore
}

// SetCollector wires a Collector so every DropOldest eviction also
// increments eventbus_dropped_subscribers_total. Optional.
func (b *Bus) SetCollector(c *metrics.Collector) {
	b.mu.Lock()
	b.metrics = c
	b.mu.Unlock()
}

// SetLagStore wires a shared LagStore so every delivery also reports the
// target subscriber's queue depth to it. Optional; reporting is best-effort
// and never blocks Publish.
func (b *Bus) SetLagStore(store LagStore) {
	b.mu.Lock()
	b.lagStore = store
	b.mu.Unlock()
}

type subscription struct {
	id       string
	pattern  []string
	wild     bool // pattern ends in **
	filter   Filter
	overflow OverflowPolicy

	mu     sync.Mutex
	queue  []Event
	cap    int
	signal chan struct{}
	closed bool
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscription)}
}

// Subscribe registers a new subscription and returns a Subscription handle
// to receive events; the handle's ID() is what Unsubscribe takes.
func (b *Bus) Subscribe(opts SubscribeOptions) *Subscription {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	segments, wild := splitPattern(opts.Pattern)
	sub := &subscription{
		id:       uuid.NewString(),
		pattern:  segments,
		wild:     wild,
		filter:   opts.Filter,
		overflow: opts.Overflow,
		cap:      opts.QueueSize,
		signal:   make(chan struct{}, 1),
	}

	b.mu.Lock()
	b.subs[sub.id] = sub
	b.mu.Unlock()

	return &Subscription{id: sub.id, bus: b, sub: sub}
}

// Unsubscribe removes a subscription by ID. Safe to call more than once.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers payload under topic to every matching subscriber.
// Satisfies llm/streaming.Publisher and workflow/petri.Publisher.
func (b *Bus) Publish(ctx context.Context, topic string, payload any) {
	event := Event{ID: uuid.NewString(), Topic: topic, Payload: payload, Timestamp: time.Now()}
	topicSegments := strings.Split(topic, ".")

	b.mu.RLock()
	matched := make([]*subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if matchTopic(sub.pattern, sub.wild, topicSegments) && (sub.filter == nil || sub.filter(event)) {
			matched = append(matched, sub)
		}
	}
	b.mu.RUnlock()

	b.mu.RLock()
	collector := b.metrics
	lagStore := b.lagStore
	b.mu.RUnlock()

	for _, sub := range matched {
		sub.enqueue(ctx, event, collector)
		if lagStore != nil {
			go lagStore.ReportLag(context.Background(), sub.id, sub.depth())
		}
	}
}

// depth returns the subscriber's current queue length.
func (s *subscription) depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *subscription) enqueue(ctx context.Context, event Event, collector *metrics.Collector) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= s.cap {
		switch s.overflow {
		case DropOldest:
			s.queue = append(s.queue[1:], event)
			s.mu.Unlock()
			s.notify()
			collector.IncDroppedSubscriber()
			return
		case Block:
			// Fall through to the blocking wait below, released each time
			// a receiver drains an item.
		}
	} else {
		s.queue = append(s.queue, event)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) < s.cap {
			s.queue = append(s.queue, event)
			s.mu.Unlock()
			s.notify()
			return
		}
		s.mu.Unlock()
	}
}

func (s *subscription) notify() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// splitPattern parses a glob pattern into segments, reporting whether it
// ends in the "**" any-suffix wildcard.
func splitPattern(pattern string) (segments []string, wild bool) {
	parts := strings.Split(pattern, ".")
	if len(parts) > 0 && parts[len(parts)-1] == "**" {
		return parts[:len(parts)-1], true
	}
	return parts, false
}

// matchTopic reports whether topic segments satisfy pattern segments,
// where "*" matches exactly one segment and a trailing "**" (wild) matches
// any number of remaining segments, including zero.
func matchTopic(pattern []string, wild bool, topic []string) bool {
	if wild {
		if len(topic) < len(pattern) {
			return false
		}
	} else if len(topic) != len(pattern) {
		return false
	}

	for i, seg := range pattern {
		if seg == "*" {
			continue
		}
		if seg != topic[i] {
			return false
		}
	}
	return true
}
