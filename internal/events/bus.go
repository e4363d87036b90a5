package events

import (
	"context"
	"sync"
	"time"

	"mcphub/pkg/logging"

	"github.com/google/uuid"
)

const (
	// ReplayBufferSize bounds the ring of recent events kept for replay.
	ReplayBufferSize = 100

	// ReplayOnSubscribe is how many matching historical events a new
	// subscriber receives before live delivery begins.
	ReplayOnSubscribe = 10

	// subscriberQueueSize bounds each subscriber's outbound channel.
	// A subscriber whose queue is full is evicted, never blocked on.
	subscriberQueueSize = 64
)

// Ping cadence and idle eviction threshold. Vars so tests can shrink them.
var (
	pingInterval = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

// Subscription is the receiving end handed to a subscriber.
type Subscription struct {
	ID          string
	Events      <-chan Event
	ConnectedAt time.Time
}

type subscriber struct {
	id          string
	ch          chan Event
	filter      map[EventType]struct{} // empty = all types
	connectedAt time.Time

	// lastDrain is the last time the queue was observed empty. A reader that
	// keeps up refreshes it every ping tick; a reader sitting on a backlog
	// does not, and is evicted once the backlog outlives idleTimeout.
	lastDrain time.Time
}

func (s *subscriber) wants(t EventType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// Bus is the in-process publish-subscribe fan-out for hub events. It keeps a
// bounded ring of recent events for replay, delivers to each subscriber in
// publish order, and evicts subscribers that cannot keep up rather than
// blocking publishers.
type Bus struct {
	mu   sync.Mutex
	ring []Event
	subs map[string]*subscriber

	cancel  context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// NewBus creates an event bus. Call Start to begin the ping ticker.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]*subscriber),
	}
}

// Start launches the background ping/eviction ticker.
func (b *Bus) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	b.mu.Lock()
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go b.tickerLoop(ctx)

	logging.Info("EventBus", "Started event bus")
	return nil
}

func (b *Bus) tickerLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pingSubscribers()
		}
	}
}

// pingSubscribers evicts idle subscribers and delivers a ping to the rest.
func (b *Bus) pingSubscribers() {
	ping := Event{Type: EventPing, Timestamp: time.Now()}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	for id, sub := range b.subs {
		if len(sub.ch) == 0 {
			sub.lastDrain = now
		} else if now.Sub(sub.lastDrain) > idleTimeout {
			logging.Debug("EventBus", "Evicting idle subscriber %s", id)
			b.evictLocked(id)
			continue
		}
		b.deliverLocked(sub, ping)
	}
}

// Publish appends an event to the replay ring and fans it out to every
// subscriber whose filter matches. Delivery is best-effort.
func (b *Bus) Publish(eventType EventType, data interface{}) {
	event := Event{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return
	}

	b.ring = append(b.ring, event)
	if len(b.ring) > ReplayBufferSize {
		b.ring = b.ring[len(b.ring)-ReplayBufferSize:]
	}

	for _, sub := range b.subs {
		if sub.wants(eventType) {
			b.deliverLocked(sub, event)
		}
	}
}

// deliverLocked enqueues without blocking; a full or closed channel evicts
// the subscriber. Callers hold b.mu.
func (b *Bus) deliverLocked(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		logging.Warn("EventBus", "Subscriber %s cannot keep up, evicting", sub.id)
		b.evictLocked(sub.id)
	}
}

func (b *Bus) evictLocked(id string) {
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Subscribe registers a new subscriber. An empty type list subscribes to all
// events. Up to ReplayOnSubscribe most-recent matching events are replayed
// into the channel before live delivery begins.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	sub := &subscriber{
		id:          uuid.NewString(),
		ch:          make(chan Event, subscriberQueueSize),
		filter:      make(map[EventType]struct{}, len(types)),
		connectedAt: time.Now(),
		lastDrain:   time.Now(),
	}
	for _, t := range types {
		sub.filter[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		close(sub.ch)
		return &Subscription{ID: sub.id, Events: sub.ch, ConnectedAt: sub.connectedAt}
	}

	// Replay the most recent matching events, oldest first.
	var replay []Event
	for i := len(b.ring) - 1; i >= 0 && len(replay) < ReplayOnSubscribe; i-- {
		if sub.wants(b.ring[i].Type) {
			replay = append(replay, b.ring[i])
		}
	}
	for i := len(replay) - 1; i >= 0; i-- {
		sub.ch <- replay[i]
	}

	b.subs[sub.id] = sub

	logging.Debug("EventBus", "Subscriber %s joined (%d types, %d replayed)",
		sub.id, len(types), len(replay))

	return &Subscription{ID: sub.id, Events: sub.ch, ConnectedAt: sub.connectedAt}
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evictLocked(id)
}

// SubscriberCount returns the number of live subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// RecentEventCount returns the current replay ring length.
func (b *Bus) RecentEventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ring)
}

// Stop halts the ticker and closes every subscriber. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	cancel := b.cancel
	for id := range b.subs {
		b.evictLocked(id)
	}
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.wg.Wait()

	logging.Info("EventBus", "Stopped event bus")
}
