package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cakahlul/em-cockpit/internal/platform/observability"
	"github.com/cakahlul/em-cockpit/internal/platform/resilience"
)

// keyPrefix namespaces all cockpit entries in a possibly shared Redis
const keyPrefix = "cockpit:cache:"

// RedisTier is the durable tier. Entries are stored as JSON envelopes and
// kept for the retention window past their expiry so stale reads survive
// both process restarts and entry expiry. A circuit breaker keeps an
// unreachable Redis from slowing every cache call to a dial timeout.
type RedisTier struct {
	client    *redis.Client
	cb        *resilience.CircuitBreaker
	retention time.Duration
	logger    *observability.Logger
}

// RedisTierConfig holds durable tier configuration
type RedisTierConfig struct {
	Address  string
	Password string
	DB       int

	// Retention is how long entries outlive their expiry for stale reads.
	Retention time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// NewRedisTier creates the durable tier and verifies connectivity
func NewRedisTier(cfg RedisTierConfig) (*RedisTier, error) {
	if cfg.Retention <= 0 {
		cfg.Retention = 72 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "redis",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          15 * time.Second,
		OnStateChange: func(from, to resilience.State) {
			if cfg.Metrics != nil {
				cfg.Metrics.SetCircuitBreakerState(context.Background(), "redis", int64(to))
			}
			if cfg.Logger != nil {
				cfg.Logger.Warn("durable tier circuit breaker state changed",
					"from", from.String(), "to", to.String())
			}
		},
	})

	return &RedisTier{
		client:    client,
		cb:        cb,
		retention: cfg.Retention,
		logger:    cfg.Logger,
	}, nil
}

// Get retrieves an entry, expired or not, within the retention window
func (r *RedisTier) Get(ctx context.Context, key string) (Entry, error) {
	var raw string
	var found bool

	err := r.cb.Execute(ctx, func(ctx context.Context) error {
		val, err := r.client.Get(ctx, keyPrefix+key).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		raw = val
		found = true
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	if !found {
		return Entry{}, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return entry, nil
}

// Set stores the entry envelope with a Redis TTL covering its live span
// plus the retention window
func (r *RedisTier) Set(ctx context.Context, key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	live := time.Until(entry.ExpiresAt)
	if live < 0 {
		live = 0
	}

	err = r.cb.Execute(ctx, func(ctx context.Context) error {
		return r.client.Set(ctx, keyPrefix+key, data, live+r.retention).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return nil
}

// Delete removes an entry
func (r *RedisTier) Delete(ctx context.Context, key string) error {
	err := r.cb.Execute(ctx, func(ctx context.Context) error {
		return r.client.Del(ctx, keyPrefix+key).Err()
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return nil
}

// DeletePrefix removes all entries whose key starts with prefix
func (r *RedisTier) DeletePrefix(ctx context.Context, prefix string) error {
	err := r.cb.Execute(ctx, func(ctx context.Context) error {
		iter := r.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()

		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
			if len(keys) >= 100 {
				if err := r.client.Del(ctx, keys...).Err(); err != nil {
					return err
				}
				keys = keys[:0]
			}
		}
		if err := iter.Err(); err != nil {
			return err
		}
		if len(keys) > 0 {
			return r.client.Del(ctx, keys...).Err()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return nil
}

// Close closes the Redis connection
func (r *RedisTier) Close() error {
	return r.client.Close()
}

// Ping checks if Redis is reachable
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
