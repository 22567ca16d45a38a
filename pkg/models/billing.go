package models

import (
	"time"
)

// Account is a prepaid API account. Its JSON form doubles as the key-value
// mirror the gate reads on every request, so it stays lean and never carries
// credentials.
type Account struct {
	ID               string    `json:"id" db:"id"`
	Token            string    `json:"token" db:"token"`
	Name             string    `json:"name" db:"name"`
	Email            string    `json:"email" db:"email"`
	PasswordHash     string    `json:"-" db:"password_hash"`
	Balance          int64     `json:"balance" db:"balance"`
	StripeCustomerID *string   `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// BalanceTransaction is one ledger row. The row is written after the balance
// move it records, so BalanceAfter is authoritative for that instant.
type BalanceTransaction struct {
	ID           string    `json:"id" db:"id"`
	AccountID    string    `json:"account_id" db:"account_id"`
	Amount       int64     `json:"amount" db:"amount"` // positive = credit, negative = debit
	BalanceAfter int64     `json:"balance_after" db:"balance_after"`
	Reason       string    `json:"reason" db:"reason"` // signup, topup
	ReferenceID  string    `json:"reference_id,omitempty" db:"reference_id"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TopUpRequest asks for a checkout session worth the given number of credits.
type TopUpRequest struct {
	Credits int64 `json:"credits" binding:"required,gt=0"`
}

// CheckoutResponse carries the hosted payment page for a top-up.
type CheckoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}
