package gate

import (
	"context"
	"fmt"
	"time"

	"harbormaster/internal/kv"
)

// RateVerdict distinguishes the two rate-limit outcomes.
type RateVerdict int

const (
	RateAllowed RateVerdict = iota
	RateExceeded
)

// RateOutcome is the limiter's decision. Remaining is meaningful for
// RateAllowed, ResetAt for RateExceeded.
type RateOutcome struct {
	Verdict   RateVerdict
	Remaining int64
	ResetAt   time.Time
}

// Limiter enforces the free-tier quota: at most limit requests per identity
// within a fixed window. The window starts on the identity's first request
// and resets fully when it expires.
type Limiter struct {
	store  kv.Store
	limit  int64
	window time.Duration
}

func NewLimiter(store kv.Store, limit int64, window time.Duration) *Limiter {
	return &Limiter{store: store, limit: limit, window: window}
}

// Check consumes one slot of the identity's window. The increment is atomic
// on the store, so concurrent requests from one identity never under-count.
// An expired window restarts at one. Store errors propagate: when the gate
// cannot count it does not give away free calls.
//
// A rejected request still increments the stored counter past the limit; the
// verdict is unaffected and the counter expires with the window.
func (l *Limiter) Check(ctx context.Context, identity string) (RateOutcome, error) {
	count, resetAt, err := l.store.IncrWindow(ctx, rateLimitKey(identity), l.window)
	if err != nil {
		return RateOutcome{}, fmt.Errorf("rate limit check for %s: %w", identity, err)
	}

	if count > l.limit {
		return RateOutcome{Verdict: RateExceeded, ResetAt: resetAt}, nil
	}
	return RateOutcome{Verdict: RateAllowed, Remaining: l.limit - count}, nil
}

func rateLimitKey(identity string) string {
	return "ratelimit:" + identity
}
