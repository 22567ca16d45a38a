// Package kv abstracts the key-value store the gate keeps its working state
// in: account mirrors, rate-limit windows, and the response cache. Production
// deployments back it with Redis; the in-memory store covers single-node runs
// and tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrConflict is returned when an Update loses the optimistic-concurrency
// race more times than the store is willing to retry.
var ErrConflict = errors.New("kv: update conflict")

// UpdateFunc computes the replacement value for a key. found is false when
// the key does not exist; returning an error aborts the update without
// writing anything, and the error is returned to the caller verbatim.
type UpdateFunc func(current string, found bool) (string, error)

// Store is the minimal contract the gate needs. All operations are safe for
// concurrent use.
type Store interface {
	// Get returns the value for key. found is false on a missing key; err is
	// reserved for store failures.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set writes value under key. A ttl of zero stores without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// IncrWindow atomically increments a fixed-window counter, starting the
	// window on the first increment. It returns the post-increment count and
	// the instant the window expires. Once the window passes, the next
	// increment starts a fresh window at 1.
	IncrWindow(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)

	// Update performs an atomic read-modify-write of key. The existing TTL,
	// if any, is preserved.
	Update(ctx context.Context, key string, fn UpdateFunc) (final string, err error)
}
