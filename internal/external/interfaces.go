package external

import (
	"context"

	"briefhub/internal/types"
)

// Webhook event kinds the reconciler dispatches on. These are the
// provider's event type strings, kept verbatim for dispatch.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
)

// BillingService is the outbound interface to the payment provider. The
// production implementation is StripeClient; handlers depend on this
// interface so tests can substitute a stub.
type BillingService interface {
	// EnsureCustomer retrieves or creates the provider customer for the
	// account, returning the provider customer ID. Search-first to
	// prevent duplicate customers.
	EnsureCustomer(ctx context.Context, accountID string, email string) (string, error)

	// CreateCheckoutSession starts a hosted checkout for the given paid
	// plan. Redirect URLs are built server-side from configuration.
	CreateCheckoutSession(ctx context.Context, accountID string, plan types.PlanTier) (*types.CheckoutSession, error)

	// CreatePortalSession opens the provider's hosted billing portal for
	// the account's existing customer.
	CreatePortalSession(ctx context.Context, accountID string) (*types.PortalSession, error)
}

// WebhookVerifier validates an inbound webhook payload against its
// signature header before any processing happens.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}
