package events

import (
	"sync"
	"testing"
	"time"

	"github.com/cakahlul/em-cockpit/internal/status"
)

// collector records delivered events in order
type collector struct {
	mu     sync.Mutex
	events []Event
	seen   chan struct{}
}

func newCollector() *collector {
	return &collector{seen: make(chan struct{}, 128)}
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.seen <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-c.seen:
		case <-deadline:
			t.Fatalf("timed out waiting for event %d of %d", i+1, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// TestBusDeliversToAllSubscribers verifies that one publish reaches every
// handler registered for that kind exactly once
func TestBusDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(BusConfig{BufferSize: 8})
	defer bus.Close()

	first := newCollector()
	second := newCollector()
	bus.Subscribe(KindPrCountUpdated, first.handle)
	bus.Subscribe(KindPrCountUpdated, second.handle)

	bus.Publish(PrCountUpdated{Count: 5})

	for _, c := range []*collector{first, second} {
		got := c.wait(t, 1)
		if len(got) != 1 {
			t.Fatalf("Expected 1 event, got %d", len(got))
		}
		ev, ok := got[0].(PrCountUpdated)
		if !ok {
			t.Fatalf("Expected PrCountUpdated, got %T", got[0])
		}
		if ev.Count != 5 {
			t.Errorf("Expected count 5, got %d", ev.Count)
		}
	}

	t.Log("✓ publish reaches every subscriber once")
}

// TestBusFiltersByKind verifies that subscribers only see their kind
func TestBusFiltersByKind(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	prs := newCollector()
	levels := newCollector()
	bus.Subscribe(KindPrCountUpdated, prs.handle)
	bus.Subscribe(KindAlertLevelChanged, levels.handle)

	bus.Publish(PrCountUpdated{Count: 1})
	bus.Publish(AlertLevelChanged{Level: status.LevelRed, Previous: status.LevelGreen})
	bus.Publish(PrCountUpdated{Count: 2})

	got := prs.wait(t, 2)
	if len(got) != 2 {
		t.Fatalf("Expected 2 PR events, got %d", len(got))
	}
	for _, ev := range got {
		if ev.EventKind() != KindPrCountUpdated {
			t.Errorf("Expected only PR events, got %v", ev.EventKind())
		}
	}

	levelGot := levels.wait(t, 1)
	if len(levelGot) != 1 || levelGot[0].EventKind() != KindAlertLevelChanged {
		t.Errorf("Expected 1 alert level event, got %v", levelGot)
	}

	t.Log("✓ subscriptions are per kind")
}

// TestBusPreservesOrderPerSubscriber verifies FIFO delivery from a single
// publisher
func TestBusPreservesOrderPerSubscriber(t *testing.T) {
	bus := NewBus(BusConfig{BufferSize: 64})
	defer bus.Close()

	c := newCollector()
	bus.Subscribe(KindPrCountUpdated, c.handle)

	for i := 0; i < 10; i++ {
		bus.Publish(PrCountUpdated{Count: i})
	}

	got := c.wait(t, 10)
	for i, ev := range got {
		if ev.(PrCountUpdated).Count != i {
			t.Fatalf("Expected count %d at position %d, got %d", i, i, ev.(PrCountUpdated).Count)
		}
	}

	t.Log("✓ delivery order matches publish order")
}

// TestBusSlowSubscriberDoesNotStallOthers verifies slow-subscriber isolation:
// a blocked handler drops its own overflow while its sibling sees everything
func TestBusSlowSubscriberDoesNotStallOthers(t *testing.T) {
	bus := NewBus(BusConfig{BufferSize: 1})
	defer bus.Close()

	release := make(chan struct{})
	var slowCount int
	var mu sync.Mutex
	bus.Subscribe(KindIncidentDetected, func(ev Event) {
		<-release
		mu.Lock()
		slowCount++
		mu.Unlock()
	})

	fast := newCollector()
	bus.Subscribe(KindIncidentDetected, fast.handle)

	// Publish must return promptly even with the slow handler wedged
	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			bus.Publish(IncidentDetected{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if got := fast.wait(t, 5); len(got) != 5 {
		t.Fatalf("Expected fast subscriber to see all 5 events, got %d", len(got))
	}

	close(release)

	t.Log("✓ a slow subscriber drops its own events without stalling others")
}

// TestBusUnsubscribeStopsDelivery verifies that removed subscriptions see no
// further events
func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus(BusConfig{})
	defer bus.Close()

	c := newCollector()
	sub := bus.Subscribe(KindCacheInvalidated, c.handle)

	bus.Publish(CacheInvalidated{Key: "first"})
	c.wait(t, 1)

	bus.Unsubscribe(sub)
	if bus.SubscriberCount(KindCacheInvalidated) != 0 {
		t.Errorf("Expected 0 subscribers after unsubscribe, got %d",
			bus.SubscriberCount(KindCacheInvalidated))
	}

	bus.Publish(CacheInvalidated{Key: "second"})
	time.Sleep(50 * time.Millisecond)

	c.mu.Lock()
	count := len(c.events)
	c.mu.Unlock()
	if count != 1 {
		t.Errorf("Expected no delivery after unsubscribe, got %d events", count)
	}

	t.Log("✓ unsubscribe stops delivery")
}

// TestBusUnsubscribeSafeDuringPublish verifies that tearing subscriptions
// down while publishers are hot never crashes: a publisher holding a
// registry snapshot may send after Unsubscribe has returned, and that send
// must land in the discarded buffer, not on a closed channel
func TestBusUnsubscribeSafeDuringPublish(t *testing.T) {
	bus := NewBus(BusConfig{BufferSize: 1})
	defer bus.Close()

	stop := make(chan struct{})
	var publishers sync.WaitGroup
	for i := 0; i < 2; i++ {
		publishers.Add(1)
		go func() {
			defer publishers.Done()
			for {
				select {
				case <-stop:
					return
				default:
					bus.Publish(IncidentDetected{})
				}
			}
		}()
	}

	var churners sync.WaitGroup
	for i := 0; i < 8; i++ {
		churners.Add(1)
		go func() {
			defer churners.Done()
			deadline := time.Now().Add(200 * time.Millisecond)
			for time.Now().Before(deadline) {
				sub := bus.Subscribe(KindIncidentDetected, func(Event) {})
				bus.Unsubscribe(sub)
			}
		}()
	}

	churners.Wait()
	close(stop)
	publishers.Wait()

	t.Log("✓ subscribe/unsubscribe churn against hot publishers is safe")
}

// TestBusSubscribeAfterCloseIsInert verifies that a subscription taken from
// a closed bus delivers nothing and its later Unsubscribe is harmless
func TestBusSubscribeAfterCloseIsInert(t *testing.T) {
	bus := NewBus(BusConfig{})
	bus.Close()

	c := newCollector()
	sub := bus.Subscribe(KindAlertLevelChanged, c.handle)
	if bus.SubscriberCount(KindAlertLevelChanged) != 0 {
		t.Errorf("Expected no registration on a closed bus, got %d",
			bus.SubscriberCount(KindAlertLevelChanged))
	}

	bus.Unsubscribe(sub)
	bus.Unsubscribe(sub)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) != 0 {
		t.Errorf("Expected no delivery from a closed bus, got %d events", len(c.events))
	}

	t.Log("✓ subscribing to a closed bus yields an inert handle")
}

// TestBusCloseIsIdempotent verifies that Close drains and can be called twice
func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus(BusConfig{})

	c := newCollector()
	bus.Subscribe(KindPrCountUpdated, c.handle)
	bus.Publish(PrCountUpdated{Count: 1})

	bus.Close()
	bus.Close()

	// Publish after close is a no-op
	bus.Publish(PrCountUpdated{Count: 2})

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) > 1 {
		t.Errorf("Expected at most the pre-close event, got %d", len(c.events))
	}

	t.Log("✓ close is idempotent and stops delivery")
}
