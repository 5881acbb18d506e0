package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
)

// memoryItem is an LRU list element value
type memoryItem struct {
	key   string
	entry Entry
}

// MemoryTier is the bounded in-memory tier with least-recently-used
// eviction. It keeps expired entries in place so stale reads keep working;
// only eviction and invalidation physically remove entries.
type MemoryTier struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.Mutex
	onEvict func(key string)
}

// NewMemoryTier creates a new in-memory tier
func NewMemoryTier(maxSize int) *MemoryTier {
	if maxSize <= 0 {
		maxSize = 100
	}

	return &MemoryTier{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Get retrieves an entry and marks it most recently used
func (m *MemoryTier) Get(ctx context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	element, exists := m.items[key]
	if !exists {
		return Entry{}, ErrNotFound
	}

	m.lru.MoveToFront(element)
	return element.Value.(*memoryItem).entry, nil
}

// Peek retrieves an entry without touching its recency. Used for stale reads.
func (m *MemoryTier) Peek(ctx context.Context, key string) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	element, exists := m.items[key]
	if !exists {
		return Entry{}, ErrNotFound
	}
	return element.Value.(*memoryItem).entry, nil
}

// Set stores an entry, evicting the least-recently-used entry when over capacity
func (m *MemoryTier) Set(ctx context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if element, exists := m.items[key]; exists {
		element.Value.(*memoryItem).entry = entry
		m.lru.MoveToFront(element)
		return nil
	}

	element := m.lru.PushFront(&memoryItem{key: key, entry: entry})
	m.items[key] = element

	if m.lru.Len() > m.maxSize {
		m.evictOldest()
	}

	return nil
}

// Delete removes an entry
func (m *MemoryTier) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.remove(key)
	return nil
}

// DeletePrefix removes all entries whose key starts with prefix
func (m *MemoryTier) DeletePrefix(ctx context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toRemove []string
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			toRemove = append(toRemove, key)
		}
	}
	for _, key := range toRemove {
		m.remove(key)
	}
	return nil
}

// Close releases nothing; the memory tier has no external resources
func (m *MemoryTier) Close() error {
	return nil
}

// Len returns the current number of entries
func (m *MemoryTier) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// remove removes an item (caller must hold lock)
func (m *MemoryTier) remove(key string) {
	if element, exists := m.items[key]; exists {
		m.lru.Remove(element)
		delete(m.items, key)
	}
}

// evictOldest removes the least-recently-used item (caller must hold lock)
func (m *MemoryTier) evictOldest() {
	element := m.lru.Back()
	if element == nil {
		return
	}

	item := element.Value.(*memoryItem)
	m.remove(item.key)
	if m.onEvict != nil {
		m.onEvict(item.key)
	}
}
