package gate

import "errors"

// Charge outcomes the pipeline maps onto the payment-required response class.
var (
	// ErrAccountNotFound means the account mirror vanished between user-state
	// resolution and the charge.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientBalance means the balance was below the charge amount at
	// the time of the write. No deduction happens.
	ErrInsufficientBalance = errors.New("insufficient balance")
)
