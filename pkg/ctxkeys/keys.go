// Package ctxkeys defines typed context keys to avoid SA1029 lint warnings
// and prevent key collisions across packages.
package ctxkeys

import (
	"context"
)

// Key is a typed context key to prevent collisions.
type Key string

const (
	KeyAccountID Key = "account_id"
	KeyEmail     Key = "email"
	KeyRequestID Key = "request_id"
)

// GetAccountID extracts the authenticated account id from a request context.
func GetAccountID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyAccountID).(string); ok {
		return v
	}
	return ""
}

// GetRequestID extracts the request id from a request context.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(KeyRequestID).(string); ok {
		return v
	}
	return ""
}
