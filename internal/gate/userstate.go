package gate

import (
	"context"
	"encoding/json"

	"harbormaster/internal/kv"
	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"
)

// UserStateKind enumerates the caller classifications. Exactly one applies
// per request; switches over it must handle every value.
type UserStateKind int

const (
	// StateAnonymous is a caller with no usable account: no token, an unknown
	// token, or a token the store could not resolve.
	StateAnonymous UserStateKind = iota
	// StateAuthenticated is a known account with a positive balance.
	StateAuthenticated
	// StateInsufficientBalance is a known account whose balance is zero or
	// negative. It rides the free tier instead of being billed.
	StateInsufficientBalance
)

// UserState is the per-request caller classification. Identity is always set;
// Account is nil only for StateAnonymous. Derived fresh per request, never
// persisted.
type UserState struct {
	Kind     UserStateKind
	Identity string
	Account  *models.Account
}

// AccountKey is the store key holding the JSON mirror of an account. The
// registry writes it, the gate reads it.
func AccountKey(token string) string {
	return "account:" + token
}

// Resolver classifies callers by their bearer token.
type Resolver struct {
	store  kv.Store
	logger logging.Logger
}

func NewResolver(store kv.Store, logger logging.Logger) *Resolver {
	return &Resolver{store: store, logger: logger}
}

// Resolve looks up the caller's account and classifies it. Lookup failures
// degrade to Anonymous rather than rejecting the request: a broken store must
// never block traffic, at the cost of billing accuracy while it is down.
func (r *Resolver) Resolve(ctx context.Context, token, clientID string) UserState {
	if token == "" {
		return UserState{Kind: StateAnonymous, Identity: "anon:" + clientID}
	}

	raw, found, err := r.store.Get(ctx, AccountKey(token))
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"error": err.Error(),
		}).Warn("Account lookup failed, treating caller as anonymous")
		return UserState{Kind: StateAnonymous, Identity: token}
	}
	if !found {
		return UserState{Kind: StateAnonymous, Identity: token}
	}

	var account models.Account
	if err := json.Unmarshal([]byte(raw), &account); err != nil {
		r.logger.WithFields(logging.Fields{
			"error": err.Error(),
		}).Warn("Account mirror is malformed, treating caller as anonymous")
		return UserState{Kind: StateAnonymous, Identity: token}
	}

	if account.Balance <= 0 {
		return UserState{Kind: StateInsufficientBalance, Identity: token, Account: &account}
	}
	return UserState{Kind: StateAuthenticated, Identity: token, Account: &account}
}
