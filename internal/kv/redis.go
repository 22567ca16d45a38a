package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// updateRetries bounds how often an optimistic Update is retried when a
// concurrent writer invalidates the watched key.
const updateRetries = 16

// RedisStore implements Store on a Redis connection. It works with
// single-node, Sentinel, and Cluster clients.
type RedisStore struct {
	client goredis.UniversalClient
}

// NewRedisStore wraps an established Redis client.
func NewRedisStore(client goredis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// EXPIRE NX rounds to whole seconds, which would silently stretch
	// sub-second windows; go-redis has no PExpireNX helper, so issue it raw.
	pipe.Do(ctx, "pexpire", key, window.Milliseconds(), "nx")
	pttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, time.Time{}, fmt.Errorf("kv incr %s: %w", key, err)
	}

	remaining := pttl.Val()
	if remaining < 0 {
		// PTTL reports -1 when the key has no expiry, which can only happen
		// here if another client cleared it between commands. Re-arm.
		remaining = window
		_ = s.client.PExpire(ctx, key, window).Err()
	}
	return incr.Val(), time.Now().Add(remaining), nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	var final string

	txn := func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		found := true
		if errors.Is(err, goredis.Nil) {
			current, found = "", false
		} else if err != nil {
			return err
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, next, goredis.KeepTTL)
			return nil
		})
		if err == nil {
			final = next
		}
		return err
	}

	for attempt := 0; attempt < updateRetries; attempt++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return final, nil
		}
		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		return "", err
	}
	return "", ErrConflict
}
