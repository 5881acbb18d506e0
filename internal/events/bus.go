// Package events implements the pub/sub bus decoupling state producers from
// consumers. Delivery is per-subscription FIFO: each subscription owns a
// buffered channel drained by its own goroutine, so a slow handler never
// stalls the publisher or its sibling subscribers. Events are transient;
// a full subscriber buffer drops the event rather than blocking.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/status"
)

// Kind identifies an event variant
type Kind int

const (
	// KindAlertLevelChanged fires when the derived overall level changes
	KindAlertLevelChanged Kind = iota
	// KindPrCountUpdated fires on every successful PR poll tick
	KindPrCountUpdated
	// KindIncidentDetected fires on every successful incident poll tick
	KindIncidentDetected
	// KindCacheInvalidated fires on explicit cache invalidation
	KindCacheInvalidated
)

func (k Kind) String() string {
	switch k {
	case KindAlertLevelChanged:
		return "alert_level_changed"
	case KindPrCountUpdated:
		return "pr_count_updated"
	case KindIncidentDetected:
		return "incident_detected"
	case KindCacheInvalidated:
		return "cache_invalidated"
	default:
		return "unknown"
	}
}

// Event is the tagged variant delivered to subscribers. Payloads are
// self-sufficient: consumers never need a follow-up fetch to render.
type Event interface {
	EventKind() Kind
}

// AlertLevelChanged carries the new overall alert level
type AlertLevelChanged struct {
	Level    status.AlertLevel `json:"level"`
	Previous status.AlertLevel `json:"previous"`
	At       time.Time         `json:"at"`
}

func (AlertLevelChanged) EventKind() Kind { return KindAlertLevelChanged }

// PrCountUpdated carries the open PR count and its summary
type PrCountUpdated struct {
	Count   int              `json:"count"`
	Summary status.PrSummary `json:"summary"`
}

func (PrCountUpdated) EventKind() Kind { return KindPrCountUpdated }

// IncidentDetected carries the current incident summary
type IncidentDetected struct {
	Summary status.IncidentSummary `json:"summary"`
}

func (IncidentDetected) EventKind() Kind { return KindIncidentDetected }

// CacheInvalidated names the invalidated key or key prefix
type CacheInvalidated struct {
	Key    string `json:"key"`
	Prefix bool   `json:"prefix"`
}

func (CacheInvalidated) EventKind() Kind { return KindCacheInvalidated }

// Handler processes one event. Handlers for a single subscription run
// sequentially in publish order.
type Handler func(Event)

// Subscription is the handle returned by Subscribe, used for removal.
// The event channel is never closed; publishers may hold a registry
// snapshot containing it after Unsubscribe returns, and a send on a
// closed channel panics even inside a select. Teardown signals the
// delivery goroutine through done instead.
type Subscription struct {
	id   uint64
	kind Kind
	ch   chan Event
	done chan struct{}
	stop sync.Once
}

// Bus is the pub/sub event bus
type Bus struct {
	mu      sync.RWMutex
	subs    map[Kind]map[uint64]*Subscription
	nextID  atomic.Uint64
	buffer  int
	logger  *observability.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
	closed  bool
}

// BusConfig holds event bus configuration
type BusConfig struct {
	// BufferSize is each subscription's channel capacity
	BufferSize int
	Logger     *observability.Logger
	Metrics    *observability.Metrics
}

// NewBus creates an event bus
func NewBus(cfg BusConfig) *Bus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}

	return &Bus{
		subs:    make(map[Kind]map[uint64]*Subscription),
		buffer:  cfg.BufferSize,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Subscribe registers a handler for one event kind and starts its delivery
// goroutine. The returned handle removes the subscription later.
func (b *Bus) Subscribe(kind Kind, handler Handler) *Subscription {
	sub := &Subscription{
		id:   b.nextID.Add(1),
		kind: kind,
		ch:   make(chan Event, b.buffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.stop.Do(func() { close(sub.done) })
		return sub
	}
	if b.subs[kind] == nil {
		b.subs[kind] = make(map[uint64]*Subscription)
	}
	b.subs[kind][sub.id] = sub
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.ch:
				handler(ev)
			}
		}
	}()

	return sub
}

// Unsubscribe removes a subscription. Safe to call while a publish for the
// same kind is in flight; a publish that already snapshotted the registry
// may still send into this subscription's buffer, which is simply discarded.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if kindSubs, ok := b.subs[sub.kind]; ok {
		delete(kindSubs, sub.id)
	}
	b.mu.Unlock()

	sub.stop.Do(func() { close(sub.done) })
}

// Publish delivers the event to every handler registered for its kind at
// the moment publish begins. Subscribers added or removed during delivery do
// not affect this publish's delivery set. A full subscriber buffer drops the
// event for that subscriber only.
func (b *Bus) Publish(ev Event) {
	kind := ev.EventKind()

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	snapshot := make([]*Subscription, 0, len(b.subs[kind]))
	for _, sub := range b.subs[kind] {
		snapshot = append(snapshot, sub)
	}
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.RecordEventPublished(context.Background(), kind.String(), len(snapshot))
	}

	for _, sub := range snapshot {
		select {
		case sub.ch <- ev:
		default:
			if b.metrics != nil {
				b.metrics.RecordEventDropped(context.Background(), kind.String())
			}
			if b.logger != nil {
				b.logger.Warn("event dropped, subscriber buffer full",
					"kind", kind.String(), "subscription", sub.id)
			}
		}
	}
}

// SubscriberCount returns the number of subscriptions for a kind
func (b *Bus) SubscriberCount(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[kind])
}

// Close removes all subscriptions and waits for in-flight deliveries
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true

	var all []*Subscription
	for _, kindSubs := range b.subs {
		for _, sub := range kindSubs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[Kind]map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop.Do(func() { close(sub.done) })
	}
	b.wg.Wait()
}
