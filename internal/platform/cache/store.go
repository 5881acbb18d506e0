package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
)

// Store is the two-tier cache: memory first, durable second. Reads promote
// durable hits into memory (copy, not move). A failing durable tier degrades
// the store to memory-only operation; it never surfaces as an error to
// Get/Set callers.
type Store struct {
	memory  *MemoryTier
	durable Tier // nil for memory-only operation
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// StoreConfig holds store configuration
type StoreConfig struct {
	Memory  *MemoryTier
	Durable Tier
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewStore creates a two-tier store
func NewStore(cfg StoreConfig) *Store {
	if cfg.Memory == nil {
		cfg.Memory = NewMemoryTier(100)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	s := &Store{
		memory:  cfg.Memory,
		durable: cfg.Durable,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}

	if cfg.Metrics != nil {
		s.memory.onEvict = func(key string) {
			cfg.Metrics.RecordCacheEviction(context.Background())
		}
	}

	return s
}

// Get returns the live payload for key: memory tier first, then the durable
// tier with promotion into memory. Expired entries are treated as absent but
// are not removed; they stay reachable through GetStale.
func (s *Store) Get(ctx context.Context, key string) (json.RawMessage, error) {
	ctx, span := s.tracer.StartSpan(ctx, "Store.Get",
		observability.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	now := time.Now()

	if entry, err := s.memory.Get(ctx, key); err == nil {
		if !entry.Expired(now) {
			s.recordHit(ctx, "memory")
			return entry.Payload, nil
		}
	}
	s.recordMiss(ctx, "memory")

	if s.durable == nil {
		return nil, ErrNotFound
	}

	entry, err := s.durable.Get(ctx, key)
	switch {
	case err == nil && !entry.Expired(now):
		// Promote a copy into the memory tier; the durable copy stays.
		_ = s.memory.Set(ctx, key, entry)
		s.recordHit(ctx, "durable")
		return entry.Payload, nil
	case err == nil, errors.Is(err, ErrNotFound):
		s.recordMiss(ctx, "durable")
	default:
		span.NoticeError(err)
		s.degraded(ctx, "get", key, err)
	}

	return nil, ErrNotFound
}

// GetStale returns the most recent payload for key regardless of expiry.
// Used only as a fallback when a live fetch has failed.
func (s *Store) GetStale(ctx context.Context, key string) (json.RawMessage, error) {
	if entry, err := s.memory.Peek(ctx, key); err == nil {
		if s.metrics != nil {
			s.metrics.RecordStaleRead(ctx, "memory")
		}
		return entry.Payload, nil
	}

	if s.durable != nil {
		entry, err := s.durable.Get(ctx, key)
		if err == nil {
			if s.metrics != nil {
				s.metrics.RecordStaleRead(ctx, "durable")
			}
			return entry.Payload, nil
		}
		if !errors.Is(err, ErrNotFound) {
			s.degraded(ctx, "get_stale", key, err)
		}
	}

	return nil, ErrNotFound
}

// Set serializes value and writes it to both tiers. A durable tier failure
// is logged and non-fatal; the call succeeds on the memory tier alone.
func (s *Store) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	ctx, span := s.tracer.StartSpan(ctx, "Store.Set",
		observability.WithAttributes(attribute.String("cache.key", key)),
	)
	defer span.End()

	payload, err := json.Marshal(value)
	if err != nil {
		span.NoticeError(err)
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	now := time.Now()
	entry := Entry{
		Payload:    payload,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	_ = s.memory.Set(ctx, key, entry)

	if s.durable != nil {
		if err := s.durable.Set(ctx, key, entry); err != nil {
			span.NoticeError(err)
			s.degraded(ctx, "set", key, err)
		}
	}

	return nil
}

// Invalidate removes a key from both tiers. Absent keys are not an error.
func (s *Store) Invalidate(ctx context.Context, key string) {
	_ = s.memory.Delete(ctx, key)

	if s.durable != nil {
		if err := s.durable.Delete(ctx, key); err != nil {
			s.degraded(ctx, "invalidate", key, err)
		}
	}
}

// InvalidateByPrefix removes all keys starting with prefix from both tiers.
func (s *Store) InvalidateByPrefix(ctx context.Context, prefix string) {
	_ = s.memory.DeletePrefix(ctx, prefix)

	if s.durable != nil {
		if err := s.durable.DeletePrefix(ctx, prefix); err != nil {
			s.degraded(ctx, "invalidate_prefix", prefix, err)
		}
	}
}

// Close closes both tiers
func (s *Store) Close() error {
	memErr := s.memory.Close()
	if s.durable != nil {
		if err := s.durable.Close(); err != nil {
			return err
		}
	}
	return memErr
}

func (s *Store) recordHit(ctx context.Context, tier string) {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(ctx, tier)
	}
}

func (s *Store) recordMiss(ctx context.Context, tier string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(ctx, tier)
	}
}

// degraded records a durable tier failure; the store keeps serving from memory
func (s *Store) degraded(ctx context.Context, op, key string, err error) {
	if s.metrics != nil {
		s.metrics.RecordDurableTierFailure(ctx, op)
	}
	if s.logger != nil {
		s.logger.LogWarn(ctx, "durable tier unavailable, serving memory only",
			"op", op, "key", key, "error", err)
	}
}

// GetJSON reads a live entry and decodes it into T.
func GetJSON[T any](ctx context.Context, s *Store, key string) (T, error) {
	var out T

	raw, err := s.Get(ctx, key)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return out, nil
}

// GetStaleJSON reads the most recent entry regardless of expiry and decodes it into T.
func GetStaleJSON[T any](ctx context.Context, s *Store, key string) (T, error) {
	var out T

	raw, err := s.GetStale(ctx, key)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return out, nil
}
