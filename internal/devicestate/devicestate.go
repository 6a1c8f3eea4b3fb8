// Package devicestate provides the per-extension device-state label stores.
// The platform's own store is authoritative; an optional Redis mirror lets
// consumers outside the telephony platform read the labels cheaply.
package devicestate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store reads and writes per-device state labels.
type Store interface {
	Get(ctx context.Context, device string) (string, error)
	Update(ctx context.Context, device, state string) error
}

// keyPrefix namespaces mirrored device states in Redis.
const keyPrefix = "sla:devicestate:"

// RedisStore mirrors device-state labels into Redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisStore{client: rdb}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Get returns the mirrored state label for a device, or "" if none is
// stored.
func (s *RedisStore) Get(ctx context.Context, device string) (string, error) {
	state, err := s.client.Get(ctx, keyPrefix+device).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading mirrored device state: %w", err)
	}
	return state, nil
}

// Update stores the state label for a device.
func (s *RedisStore) Update(ctx context.Context, device, state string) error {
	if err := s.client.Set(ctx, keyPrefix+device, state, 0).Err(); err != nil {
		return fmt.Errorf("mirroring device state: %w", err)
	}
	return nil
}

// Multi fans device-state access out over several stores. Reads come from
// the first store (the authoritative one); updates go to every store,
// best-effort — a mirror failure is logged and never fails the update.
type Multi struct {
	stores []Store
	logger *slog.Logger
}

// NewMulti builds a fanout store. The first store is authoritative.
func NewMulti(logger *slog.Logger, stores ...Store) *Multi {
	return &Multi{stores: stores, logger: logger.With("component", "devicestate")}
}

// Get reads from the authoritative store.
func (m *Multi) Get(ctx context.Context, device string) (string, error) {
	if len(m.stores) == 0 {
		return "", fmt.Errorf("no device state store configured")
	}
	return m.stores[0].Get(ctx, device)
}

// Update writes to every store. The authoritative store's error is
// returned; mirror errors are only logged.
func (m *Multi) Update(ctx context.Context, device, state string) error {
	if len(m.stores) == 0 {
		return fmt.Errorf("no device state store configured")
	}

	err := m.stores[0].Update(ctx, device, state)
	for _, s := range m.stores[1:] {
		if merr := s.Update(ctx, device, state); merr != nil {
			m.logger.Warn("device state mirror update failed",
				"device", device,
				"state", state,
				"error", merr,
			)
		}
	}
	return err
}
