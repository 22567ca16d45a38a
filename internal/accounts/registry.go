// Package accounts owns the account registry: registration, login, and
// top-up crediting. Postgres is the system of record for identities and the
// balance ledger; the key-value mirror under account:<token> is the live
// balance the gate reads and charges.
package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"harbormaster/internal/gate"
	"harbormaster/internal/kv"
	"harbormaster/pkg/auth"
	"harbormaster/pkg/logging"
	"harbormaster/pkg/models"
)

var (
	ErrNotFound   = errors.New("account not found")
	ErrEmailTaken = errors.New("email already registered")
)

const accountColumns = "id, token, name, email, password_hash, balance, stripe_customer_id, created_at, updated_at"

// Registry persists accounts in Postgres and mirrors them into the key-value
// store. Once a mirror exists its balance is authoritative: the gate charges
// it directly, so registry rows lag behind until the next top-up.
type Registry struct {
	db            *sql.DB
	store         kv.Store
	signupCredits int64
	logger        logging.Logger
}

func NewRegistry(db *sql.DB, store kv.Store, signupCredits int64, logger logging.Logger) *Registry {
	return &Registry{db: db, store: store, signupCredits: signupCredits, logger: logger}
}

// Create registers a new account with a fresh API token and the configured
// signup credits, and seeds the live mirror.
func (r *Registry) Create(ctx context.Context, name, email, password string) (models.Account, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.Account{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	account := models.Account{
		ID:           uuid.New().String(),
		Token:        uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Balance:      r.signupCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, fmt.Errorf("begin registration: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accounts (id, token, name, email, password_hash, balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Token, account.Name, account.Email,
		account.PasswordHash, account.Balance, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.Account{}, ErrEmailTaken
		}
		return models.Account{}, fmt.Errorf("insert account: %w", err)
	}

	if r.signupCredits > 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balance_transactions (id, account_id, amount, balance_after, reason)
			 VALUES ($1, $2, $3, $4, 'signup')`,
			uuid.New().String(), account.ID, r.signupCredits, account.Balance)
		if err != nil {
			return models.Account{}, fmt.Errorf("record signup credits: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Account{}, fmt.Errorf("commit registration: %w", err)
	}

	if err := r.writeMirror(ctx, account); err != nil {
		// The row is committed; login re-seeds the mirror on its next pass.
		r.logger.WithFields(logging.Fields{
			"account_id": account.ID,
			"error":      err.Error(),
		}).Error("Account mirror write failed")
	}
	return account, nil
}

// GetByEmail fetches the registry row for a login attempt.
func (r *Registry) GetByEmail(ctx context.Context, email string) (models.Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

// GetByID fetches the registry row behind a JWT session.
func (r *Registry) GetByID(ctx context.Context, id string) (models.Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByToken fetches the registry row for an API token.
func (r *Registry) GetByToken(ctx context.Context, token string) (models.Account, error) {
	return r.scanAccount(r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE token = $1`, token))
}

// ApplyTopUp credits an account: ledger first, then the live mirror. The
// unique reference id makes redelivered webhooks no-ops; a duplicate delivery
// never credits twice, at the cost of a mirror that can lag the ledger if the
// mirror write fails in between (logged loudly for reconciliation).
func (r *Registry) ApplyTopUp(ctx context.Context, token string, credits int64, referenceID string) (models.Account, error) {
	if credits <= 0 {
		return models.Account{}, fmt.Errorf("top-up credits must be positive, got %d", credits)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Account{}, fmt.Errorf("begin top-up: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	account, err := r.scanAccount(tx.QueryRowContext(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = NOW()
		 WHERE token = $2 RETURNING `+accountColumns,
		credits, token))
	if err != nil {
		return models.Account{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO balance_transactions (id, account_id, amount, balance_after, reason, reference_id)
		 VALUES ($1, $2, $3, $4, 'topup', $5)`,
		uuid.New().String(), account.ID, credits, account.Balance, referenceID)
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback()
			r.logger.WithFields(logging.Fields{
				"reference_id": referenceID,
				"account_id":   account.ID,
			}).Warn("Duplicate top-up delivery ignored")
			return r.GetByToken(ctx, token)
		}
		return models.Account{}, fmt.Errorf("record top-up: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.Account{}, fmt.Errorf("commit top-up: %w", err)
	}

	return r.creditMirror(ctx, account, credits)
}

// AttachStripeCustomer records the Stripe customer created during a checkout
// so later sessions reuse it. First writer wins; the id never changes after.
func (r *Registry) AttachStripeCustomer(ctx context.Context, token, customerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET stripe_customer_id = $1, updated_at = NOW()
		 WHERE token = $2 AND stripe_customer_id IS NULL`,
		customerID, token)
	if err != nil {
		return fmt.Errorf("attach stripe customer: %w", err)
	}
	return nil
}

// WithLiveBalance overlays the balance the gate actually charges. Charges
// land only on the mirror, so the registry row alone undercounts spend.
func (r *Registry) WithLiveBalance(ctx context.Context, account models.Account) models.Account {
	raw, found, err := r.store.Get(ctx, gate.AccountKey(account.Token))
	if err != nil || !found {
		return account
	}
	var mirror models.Account
	if err := json.Unmarshal([]byte(raw), &mirror); err != nil {
		return account
	}
	account.Balance = mirror.Balance
	return account
}

// EnsureMirror seeds the live mirror from the registry row when it is
// missing. An existing mirror is left untouched: its balance already carries
// spend the registry row knows nothing about.
func (r *Registry) EnsureMirror(ctx context.Context, account models.Account) error {
	_, err := r.store.Update(ctx, gate.AccountKey(account.Token), func(current string, found bool) (string, error) {
		if found {
			return current, nil
		}
		raw, err := json.Marshal(account)
		return string(raw), err
	})
	return err
}

// creditMirror adds the top-up to the live balance, preserving any spend the
// mirror has accumulated since the last registry write.
func (r *Registry) creditMirror(ctx context.Context, account models.Account, credits int64) (models.Account, error) {
	final, err := r.store.Update(ctx, gate.AccountKey(account.Token), func(current string, found bool) (string, error) {
		if !found {
			raw, err := json.Marshal(account) // registry row already carries the credit
			return string(raw), err
		}
		var mirror models.Account
		if err := json.Unmarshal([]byte(current), &mirror); err != nil {
			raw, err := json.Marshal(account)
			return string(raw), err
		}
		mirror.Balance += credits
		mirror.UpdatedAt = account.UpdatedAt
		raw, err := json.Marshal(mirror)
		return string(raw), err
	})
	if err != nil {
		r.logger.WithFields(logging.Fields{
			"account_id": account.ID,
			"error":      err.Error(),
		}).Error("Top-up recorded but mirror credit failed")
		return models.Account{}, fmt.Errorf("credit mirror: %w", err)
	}

	var mirrored models.Account
	if err := json.Unmarshal([]byte(final), &mirrored); err != nil {
		return models.Account{}, fmt.Errorf("decode credited mirror: %w", err)
	}
	return mirrored, nil
}

func (r *Registry) writeMirror(ctx context.Context, account models.Account) error {
	raw, err := json.Marshal(account)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, gate.AccountKey(account.Token), string(raw), 0)
}

func (r *Registry) scanAccount(row *sql.Row) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Token, &a.Name, &a.Email, &a.PasswordHash,
		&a.Balance, &a.StripeCustomerID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Account{}, ErrNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
