package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"harbormaster/internal/kv"
	"harbormaster/pkg/models"
)

// Biller deducts credits from account mirrors. Every charge is a
// compare-and-swap on the store: the balance check and the write happen
// against the same observed value, so concurrent charges never overdraw.
type Biller struct {
	store kv.Store
}

func NewBiller(store kv.Store) *Biller {
	return &Biller{store: store}
}

// Charge deducts amount credits from the account and returns the post-charge
// account. The deduction is all-or-nothing: ErrInsufficientBalance leaves the
// balance untouched, and the balance never goes negative.
func (b *Biller) Charge(ctx context.Context, token string, amount int64) (models.Account, error) {
	if amount <= 0 {
		return models.Account{}, fmt.Errorf("charge amount must be positive, got %d", amount)
	}

	var charged models.Account
	_, err := b.store.Update(ctx, AccountKey(token), func(current string, found bool) (string, error) {
		if !found {
			return "", ErrAccountNotFound
		}

		var account models.Account
		if err := json.Unmarshal([]byte(current), &account); err != nil {
			return "", fmt.Errorf("decode account mirror: %w", err)
		}
		if account.Balance < amount {
			return "", ErrInsufficientBalance
		}

		account.Balance -= amount
		account.UpdatedAt = time.Now().UTC()

		raw, err := json.Marshal(account)
		if err != nil {
			return "", fmt.Errorf("encode account mirror: %w", err)
		}
		charged = account
		return string(raw), nil
	})
	if err != nil {
		return models.Account{}, err
	}
	return charged, nil
}
