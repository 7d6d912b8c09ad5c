package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"briefhub/internal/types"
)

// SubscriptionRepository manages local billing state synchronization. It is
// the single writer for the subscriptions table; all mutations originate
// from verified webhook events.
//
// Key invariants:
//   - Writes use optimistic locking via last_event_at so out-of-order
//     webhook deliveries cannot regress state. A stale event is a silent,
//     logged no-op.
//   - Writes check Account.deleted_at to prevent billing updates landing on
//     soft-deleted accounts (zombie billing).
type SubscriptionRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX, logger *slog.Logger) *SubscriptionRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepository{db: db, logger: logger}
}

// subscriptionColumns defines the standard set of columns selected for
// subscription queries.
const subscriptionColumns = `s.account_id, s.plan, s.status,
	s.external_customer_ref, s.external_subscription_ref,
	s.last_event_at, s.updated_at`

// scanSubscription scans a single subscription row into a
// types.Subscription struct. The columns must match subscriptionColumns.
func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	var customerRef, subscriptionRef *string

	err := row.Scan(
		&sub.AccountID,
		&sub.Plan,
		&sub.Status,
		&customerRef,
		&subscriptionRef,
		&sub.LastEventAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerRef != nil {
		sub.ExternalCustomerRef = *customerRef
	}
	if subscriptionRef != nil {
		sub.ExternalSubscriptionRef = *subscriptionRef
	}
	return &sub, nil
}

// GetByAccount retrieves the subscription row for an account. Returns
// (nil, nil) when no row exists: a missing subscription means the account
// is on the free tier, not an error condition.
func (r *SubscriptionRepository) GetByAccount(ctx context.Context, accountID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+`
		 FROM subscriptions s
		 WHERE s.account_id = $1`,
		accountID,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve subscription", err)
	}
	return sub, nil
}

// Upsert writes the full subscription state for an account, keyed on
// account_id. This is the write path for checkout completion, where the
// event carries the account identity in its metadata.
//
// Invariants enforced:
//  1. Zombie check: fails if Account.deleted_at IS NOT NULL. Logs a
//     BILLING_ALERT so Ops can cancel the provider-side subscription.
//  2. Optimistic locking: the row is only written if the event timestamp is
//     newer than the stored last_event_at. Old or duplicate events are
//     silently ignored (idempotent no-op).
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub *types.Subscription) error {
	// Check for a soft-deleted account first so the zombie case gets its
	// own alert log rather than blending into the stale-event no-op.
	var deletedAt *time.Time
	err := r.db.QueryRow(ctx,
		`SELECT deleted_at FROM accounts WHERE id = $1`,
		sub.AccountID,
	).Scan(&deletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundAccount, "account not found", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to check account status", err)
	}

	if deletedAt != nil {
		r.logger.Error("BILLING_ALERT: subscription event received for deleted account",
			slog.String("account_id", sub.AccountID),
			slog.String("plan", string(sub.Plan)),
			slog.String("status", string(sub.Status)),
			slog.Time("event_timestamp", sub.LastEventAt),
		)
		return types.NewAppError(
			types.ErrCodeConflictConcurrent,
			fmt.Sprintf("account %s is deleted; billing update rejected", sub.AccountID),
			nil,
		)
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (account_id, plan, status,
		   external_customer_ref, external_subscription_ref,
		   last_event_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (account_id) DO UPDATE
		 SET plan = EXCLUDED.plan,
		     status = EXCLUDED.status,
		     external_customer_ref = EXCLUDED.external_customer_ref,
		     external_subscription_ref = EXCLUDED.external_subscription_ref,
		     last_event_at = EXCLUDED.last_event_at,
		     updated_at = NOW()
		 WHERE subscriptions.last_event_at < EXCLUDED.last_event_at`,
		sub.AccountID,
		sub.Plan,
		sub.Status,
		nilIfEmpty(sub.ExternalCustomerRef),
		nilIfEmpty(sub.ExternalSubscriptionRef),
		sub.LastEventAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}

	if tag.RowsAffected() == 0 {
		// Event is older than or equal to what we already have.
		r.logger.Info("stale subscription event ignored (optimistic lock)",
			slog.String("account_id", sub.AccountID),
			slog.Time("event_timestamp", sub.LastEventAt),
		)
		return nil
	}

	return nil
}

// UpdateByExternalRef applies a plan/status change keyed on the provider's
// subscription reference. This is the write path for subscription lifecycle
// events, which carry the provider ref but not the account identity.
//
// Returns ErrCodeNotFoundSubscription when no local row matches the
// reference. The caller decides how to handle the unknown ref; no row is
// ever created here. Stale events (older timestamp) are a logged no-op.
func (r *SubscriptionRepository) UpdateByExternalRef(
	ctx context.Context,
	externalSubscriptionRef string,
	plan types.PlanTier,
	status types.SubscriptionStatus,
	eventTimestamp time.Time,
) error {
	var accountID string
	var lastEventAt time.Time
	err := r.db.QueryRow(ctx,
		`SELECT account_id, last_event_at FROM subscriptions
		 WHERE external_subscription_ref = $1`,
		externalSubscriptionRef,
	).Scan(&accountID, &lastEventAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.NewAppError(types.ErrCodeNotFoundSubscription,
				"no subscription matches external reference", nil)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to look up subscription", err)
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET plan = $1,
		     status = $2,
		     last_event_at = $3,
		     updated_at = NOW()
		 WHERE external_subscription_ref = $4
		   AND last_event_at < $3`,
		plan,
		status,
		eventTimestamp,
		externalSubscriptionRef,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update subscription", err)
	}

	if tag.RowsAffected() == 0 {
		r.logger.Info("stale subscription event ignored (optimistic lock)",
			slog.String("account_id", accountID),
			slog.String("external_subscription_ref", externalSubscriptionRef),
			slog.Time("event_timestamp", eventTimestamp),
		)
		return nil
	}

	return nil
}
