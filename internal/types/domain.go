package types

import (
	"time"
)

// UnboundedLimit is the sentinel for limits with no cap.
const UnboundedLimit = -1

// PlanLimits describes the quota and feature bundle of a plan tier.
// Limits use UnboundedLimit (-1) for "no cap"; zero is a real limit.
type PlanLimits struct {
	MaxProjects     int                 `json:"max_projects"`
	MaxStorageBytes int64               `json:"max_storage_bytes"`
	Features        map[Capability]bool `json:"features"`
}

// HasFeature reports whether the capability is included in the plan.
// Absent capabilities are denied (closed world).
func (l PlanLimits) HasFeature(c Capability) bool {
	return l.Features[c]
}

// Account represents a billable identity that owns projects.
type Account struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	BillingEmail     string     `json:"billing_email" db:"billing_email"`
	StripeCustomerID string     `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
}

// Project is a client engagement tracked by an agency account.
type Project struct {
	ID         string        `json:"id" db:"id"`
	AccountID  string        `json:"account_id" db:"account_id"`
	Name       string        `json:"name" db:"name"`
	ClientName string        `json:"client_name,omitempty" db:"client_name"`
	Status     ProjectStatus `json:"status" db:"status"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at" db:"updated_at"`
	DeletedAt  *time.Time    `json:"-" db:"deleted_at"`
}

// Subscription mirrors the billing provider's view of an account's plan.
// At most one row exists per account; all writes are whole-row upserts
// driven by verified webhook events, never by direct client mutation.
type Subscription struct {
	AccountID               string             `json:"account_id" db:"account_id"`
	Plan                    PlanTier           `json:"plan" db:"plan"`
	Status                  SubscriptionStatus `json:"status" db:"status"`
	ExternalCustomerRef     string             `json:"-" db:"external_customer_ref"`
	ExternalSubscriptionRef string             `json:"-" db:"external_subscription_ref"`

	// LastEventAt is the provider timestamp of the event that last wrote
	// this row. Writes carrying an older timestamp are dropped so a stale
	// redelivery cannot overwrite newer state.
	LastEventAt time.Time `json:"last_event_at" db:"last_event_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the subscription grants its plan's entitlements.
// Anything other than active is equivalent to having no subscription.
func (s *Subscription) IsActive() bool {
	return s != nil && s.Status == SubStatusActive
}

// UsageSnapshot is the current resource consumption for an account.
// Always recomputed from committed project state, never cached.
type UsageSnapshot struct {
	AccountID          string `json:"account_id"`
	ActiveProjectCount int    `json:"active_project_count"`
}

// LimitDetail pairs a limit with current usage for the usage endpoint.
type LimitDetail struct {
	Limit int64 `json:"limit"`
	Used  int64 `json:"used"`
}

// UsageReport combines the effective plan with per-resource limit details.
type UsageReport struct {
	Plan   PlanTier                     `json:"plan"`
	Limits map[ResourceType]LimitDetail `json:"limits"`
}

// Decision is the outcome of an entitlement check. Reason is set only on
// denial and is safe to surface to the UI layer.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`

	// Populated for quota denials so the UI can render "2 of 2 used".
	CurrentUsage int      `json:"current_usage,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Plan         PlanTier `json:"plan,omitempty"`
}

// CheckoutSession is the provider's hosted checkout handle.
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"checkout_url"`
}

// PortalSession is the provider's hosted billing-portal handle.
type PortalSession struct {
	URL string `json:"portal_url"`
}

// APIToken is a bearer credential for programmatic access. Only the
// SHA-256 digest of the token is persisted.
type APIToken struct {
	ID         string     `json:"id" db:"id"`
	AccountID  string     `json:"account_id" db:"account_id"`
	TokenHash  string     `json:"-" db:"token_hash"`
	Name       string     `json:"name" db:"name"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt  *time.Time `json:"-" db:"revoked_at"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
