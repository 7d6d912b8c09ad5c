// Package handlers contains the HTTP handler implementations for the
// Briefhub API.
//
// This file implements the billing and entitlement read surface:
//   - Checkout and portal session creation (hosted provider flows)
//   - Entitlement checks for the UI
//   - Current usage reporting against plan limits
//
// None of these endpoints write billing state. The local subscription
// mirror is only ever written by the webhook reconciler.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"briefhub/internal/core"
	"briefhub/internal/types"
)

// --- Service Interfaces ---

// BillingService abstracts the outbound payment provider integration.
// Implemented by external.StripeClient.
type BillingService interface {
	// CreateCheckoutSession starts a hosted checkout for a paid plan.
	// Redirect URLs are built server-side; client input never reaches them.
	CreateCheckoutSession(ctx context.Context, accountID string, plan types.PlanTier) (*types.CheckoutSession, error)

	// CreatePortalSession opens the provider's hosted billing portal.
	CreatePortalSession(ctx context.Context, accountID string) (*types.PortalSession, error)
}

// UsageReporter aggregates current usage against the effective plan's
// limits. Implemented by billing.UsageReporter.
type UsageReporter interface {
	Report(ctx context.Context, accountID string) (*types.UsageReport, error)
}

// --- Request Models ---

// CreateCheckoutRequest is the request body for POST /v1/billing/checkout-session.
//
// Note: success and cancel URLs are intentionally absent. They are
// constructed server-side from the configured app base URL so client input
// can never redirect a completed payment elsewhere.
type CreateCheckoutRequest struct {
	Plan types.PlanTier `json:"plan" validate:"required,plantier"`
}

// --- Billing Handler ---

// BillingHandler handles synchronous billing actions initiated by the user,
// plus the entitlement and usage read endpoints.
type BillingHandler struct {
	service      BillingService
	entitlements EntitlementEvaluator
	usage        UsageReporter
	validator    *core.Validator
	logger       *slog.Logger
}

// NewBillingHandler creates a BillingHandler with the provided dependencies.
func NewBillingHandler(
	svc BillingService,
	entitlements EntitlementEvaluator,
	usage UsageReporter,
	v *core.Validator,
	l *slog.Logger,
) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &BillingHandler{
		service:      svc,
		entitlements: entitlements,
		usage:        usage,
		validator:    v,
		logger:       l,
	}
}

// RegisterRoutes mounts the billing, entitlement, and usage endpoints.
// The parent router already applies the auth middleware.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout-session", h.CreateCheckoutSession)
	r.Post("/billing/portal-session", h.CreatePortalSession)
	r.Get("/entitlements", h.GetEntitlement)
	r.Get("/usage", h.GetUsage)
}

// CreateCheckoutSession handles POST /v1/billing/checkout-session.
//
//  1. Decode and validate the request. The plan must be a known tier.
//  2. Reject starter: it is the implicit free tier and has no price.
//     Downgrades go through the billing portal, not checkout.
//  3. Create the hosted checkout session. Customer resolution (including
//     the search-first EnsureCustomer path) happens inside the service.
func (h *BillingHandler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if req.Plan == types.PlanStarter {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPlan,
			"Cannot create a checkout session for the starter plan. Use the billing portal to downgrade.",
			nil,
		))
		return
	}

	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), actor.AccountID, req.Plan)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create checkout session",
			"account_id", actor.AccountID,
			"plan", req.Plan,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: session})
}

// CreatePortalSession handles POST /v1/billing/portal-session.
// Returns the provider's hosted billing portal URL for self-serve plan
// management, payment methods, and invoices.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	session, err := h.service.CreatePortalSession(r.Context(), actor.AccountID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create portal session",
			"account_id", actor.AccountID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: session})
}

// GetEntitlement handles GET /v1/entitlements?capability=...
//
// Returns the evaluator's decision for the named capability so the UI can
// gate buttons and flows without duplicating plan logic client-side. The
// denial reason and quota detail are part of the decision payload.
func (h *BillingHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	capability := types.Capability(r.URL.Query().Get("capability"))
	if capability == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"capability query parameter is required",
			nil,
		))
		return
	}

	decision, err := h.entitlements.Can(r.Context(), actor.AccountID, capability)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "entitlement check failed",
			"account_id", actor.AccountID,
			"capability", capability,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: decision})
}

// GetUsage handles GET /v1/usage.
// Returns the effective plan and per-resource usage against limits. Counts
// are computed from committed rows on every request, never cached.
func (h *BillingHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"Authentication required",
			nil,
		))
		return
	}

	report, err := h.usage.Report(r.Context(), actor.AccountID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: report})
}
