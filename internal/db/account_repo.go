package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"briefhub/internal/types"
)

// AccountRepository provides data access for the accounts table.
type AccountRepository struct {
	db DBTX
}

// NewAccountRepository creates a new AccountRepository backed by the given
// database connection (pool or transaction).
func NewAccountRepository(db DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// accountColumns defines the standard set of columns selected for account
// queries. Used consistently across all query methods to avoid column drift.
const accountColumns = `a.id, a.name, a.billing_email, a.stripe_customer_id,
	a.created_at, a.updated_at, a.deleted_at`

// scanAccount scans a single account row into a types.Account struct.
// The columns must match the order defined in accountColumns.
func scanAccount(row pgx.Row) (*types.Account, error) {
	var acct types.Account
	var stripeCustomerID *string

	err := row.Scan(
		&acct.ID,
		&acct.Name,
		&acct.BillingEmail,
		&stripeCustomerID,
		&acct.CreatedAt,
		&acct.UpdatedAt,
		&acct.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeCustomerID != nil {
		acct.StripeCustomerID = *stripeCustomerID
	}
	return &acct, nil
}

// Create inserts a new account record. The caller must set the ID (prefixed
// UUID, e.g. "acct_...") and required fields before calling.
func (r *AccountRepository) Create(ctx context.Context, acct *types.Account) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO accounts (id, name, billing_email, stripe_customer_id,
		 created_at, updated_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()), COALESCE($6, NOW()))`,
		acct.ID,
		acct.Name,
		acct.BillingEmail,
		nilIfEmpty(acct.StripeCustomerID),
		nilIfZeroTime(acct.CreatedAt),
		nilIfZeroTime(acct.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create account", err)
	}
	return nil
}

// GetByID retrieves an account by its ID. Excludes soft-deleted accounts.
// Returns ErrCodeNotFoundAccount if no active account is found.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*types.Account, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+accountColumns+`
		 FROM accounts a
		 WHERE a.id = $1 AND a.deleted_at IS NULL`,
		id,
	)

	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve account", err)
	}
	return acct, nil
}

// GetBillingInfo returns the stored stripe_customer_id and billing_email
// for the account. The customer ID is empty when the account has never
// gone through checkout; callers resolve the customer lazily in that case.
func (r *AccountRepository) GetBillingInfo(ctx context.Context, id string) (string, string, error) {
	var stripeCustomerID *string
	var billingEmail string

	err := r.db.QueryRow(ctx,
		`SELECT stripe_customer_id, billing_email
		 FROM accounts
		 WHERE id = $1 AND deleted_at IS NULL`,
		id,
	).Scan(&stripeCustomerID, &billingEmail)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return "", "", types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve billing info", err)
	}

	customerID := ""
	if stripeCustomerID != nil {
		customerID = *stripeCustomerID
	}
	return customerID, billingEmail, nil
}

// SetStripeCustomerID records the billing provider's customer reference
// after lazy customer creation during the first checkout.
func (r *AccountRepository) SetStripeCustomerID(ctx context.Context, id string, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts
		 SET stripe_customer_id = $1,
		     updated_at = NOW()
		 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to set billing customer reference", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
	}
	return nil
}

// nilIfEmpty converts empty strings to nil for nullable columns.
func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nilIfZeroTime converts zero-value timestamps to nil so COALESCE can
// substitute NOW() at insert time.
func nilIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
