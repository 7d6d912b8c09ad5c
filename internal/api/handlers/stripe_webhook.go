// Package handlers contains the HTTP handler implementations for the
// Briefhub API.
//
// This file implements the Stripe webhook reconciler. Verified provider
// events are the ONLY write path into the local subscription mirror; no
// client-facing endpoint mutates billing state.
//
// The handler is NOT behind auth middleware -- it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header
// using HMAC-SHA256 before any payload processing.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"briefhub/internal/core"
	"briefhub/internal/external"
	"briefhub/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook
// payload (64 KB). Stripe webhook payloads are small; the limit protects
// against abuse on an unauthenticated endpoint.
const maxWebhookBodySize = 64 * 1024

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// SubscriptionWriter is the subset of db.SubscriptionRepository the webhook
// handler needs to mirror provider state.
type SubscriptionWriter interface {
	// Upsert writes the whole subscription row keyed on account_id.
	// Stale events (older last_event_at) are a silent no-op; writes for
	// soft-deleted accounts are rejected.
	Upsert(ctx context.Context, sub *types.Subscription) error

	// UpdateByExternalRef applies a plan/status change keyed on the
	// provider's subscription reference. Never creates rows; unknown
	// references return ErrCodeNotFoundSubscription.
	UpdateByExternalRef(
		ctx context.Context,
		externalSubscriptionRef string,
		plan types.PlanTier,
		status types.SubscriptionStatus,
		eventTimestamp time.Time,
	) error
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler reconciles asynchronous Stripe events into the local
// subscription table. It is unauthenticated (no bearer token) but verifies
// the provider signature on every request.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	subs     SubscriptionWriter
	prices   *external.PriceMap
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler with the provided
// dependencies.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	subs SubscriptionWriter,
	prices *external.PriceMap,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		subs:     subs,
		prices:   prices,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Registered under the
// /webhooks group, which bypasses the bearer-auth middleware.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Handle)
}

// webhookAck is the body returned for every acknowledged event.
type webhookAck struct {
	Received bool `json:"received"`
}

// Handle processes an incoming Stripe webhook delivery.
//
//  1. Reads the raw body (size-limited).
//  2. Verifies the Stripe-Signature header. Failure is terminal: 401,
//     nothing processed.
//  3. Parses the event envelope and dispatches on event type.
//  4. Store write failures return 5xx so Stripe redelivers; the
//     reconciliation is idempotent, so redelivery is safe. Events that can
//     never succeed (unknown refs, deleted accounts, missing metadata) are
//     logged and acknowledged with 200 to stop the retry loop.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthTokenInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		if isTerminalWebhookError(err) {
			// Redelivering this event can never succeed. Acknowledge it
			// so Stripe stops retrying; the condition is already logged.
			h.logger.WarnContext(r.Context(), "webhook event dropped",
				"event_id", event.ID,
				"event_type", event.Type,
				"error", err,
			)
			core.JSON(w, r, http.StatusOK, core.APIResponse{Data: webhookAck{Received: true}})
			return
		}

		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: webhookAck{Received: true}})
}

// isTerminalWebhookError reports whether the processing error is permanent
// for this delivery, meaning a redelivery of the same payload would fail
// the same way.
func isTerminalWebhookError(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	switch appErr.Code {
	case types.ErrCodeNotFoundSubscription,
		types.ErrCodeNotFoundAccount,
		types.ErrCodeConflictConcurrent,
		types.ErrCodeValidationMissingField:
		return true
	}
	return false
}

// routeEvent dispatches the webhook event to the appropriate handler method
// based on the event type. Unrecognized types are acknowledged without
// processing.
func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventCheckoutCompleted:
		return h.handleCheckoutCompleted(ctx, event)

	case external.EventSubscriptionUpdated:
		return h.handleSubscriptionUpdated(ctx, event)

	case external.EventSubscriptionDeleted:
		return h.handleSubscriptionDeleted(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleCheckoutCompleted processes checkout.session.completed events.
// This is the only path that may CREATE a subscription row: the session
// carries our account identity (client_reference_id / metadata) plus the
// provider's customer and subscription references.
func (h *StripeWebhookHandler) handleCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	session, err := event.checkoutSession()
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"checkout.session.completed: malformed data object", err)
	}

	accountID := session.ClientReferenceID
	if accountID == "" {
		accountID = session.Metadata["account_id"]
	}
	if accountID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"checkout.session.completed: no account identity in event "+event.ID, nil)
	}

	plan := types.PlanTier(session.Metadata["plan"])
	if !types.ValidPlanTier(plan) {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"checkout.session.completed: missing or unknown plan in event "+event.ID, nil)
	}

	h.logger.InfoContext(ctx, "processing checkout completed",
		"event_id", event.ID,
		"account_id", accountID,
		"plan", plan,
	)

	return h.subs.Upsert(ctx, &types.Subscription{
		AccountID:               accountID,
		Plan:                    plan,
		Status:                  types.SubStatusActive,
		ExternalCustomerRef:     session.Customer,
		ExternalSubscriptionRef: session.Subscription,
		LastEventAt:             event.eventTimestamp(),
	})
}

// handleSubscriptionUpdated processes customer.subscription.updated events.
// Covers upgrades, downgrades, and dunning transitions. The event carries
// the provider subscription ref, not our account ID, so the write is keyed
// on external_subscription_ref and never creates a row.
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"customer.subscription.updated: malformed data object", err)
	}
	if sub.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"customer.subscription.updated: missing subscription id in event "+event.ID, nil)
	}

	plan := h.planFromSubscription(sub)
	status := types.NormalizeSubscriptionStatus(sub.Status)

	h.logger.InfoContext(ctx, "processing subscription updated",
		"event_id", event.ID,
		"subscription_ref", sub.ID,
		"plan", plan,
		"status", status,
	)

	return h.subs.UpdateByExternalRef(ctx, sub.ID, plan, status, event.eventTimestamp())
}

// handleSubscriptionDeleted processes customer.subscription.deleted events.
// The account reverts to the free tier.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	sub, err := event.subscription()
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"customer.subscription.deleted: malformed data object", err)
	}
	if sub.ID == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField,
			"customer.subscription.deleted: missing subscription id in event "+event.ID, nil)
	}

	h.logger.InfoContext(ctx, "processing subscription deleted",
		"event_id", event.ID,
		"subscription_ref", sub.ID,
	)

	return h.subs.UpdateByExternalRef(
		ctx, sub.ID, types.PlanStarter, types.SubStatusCanceled, event.eventTimestamp(),
	)
}

// planFromSubscription maps the subscription's first item price to a plan
// tier. Unknown or absent prices resolve to starter, so a misconfigured
// price can never grant paid entitlements.
func (h *StripeWebhookHandler) planFromSubscription(sub *stripeSubscriptionObj) types.PlanTier {
	if len(sub.Items.Data) > 0 && h.prices != nil {
		return h.prices.PlanFor(sub.Items.Data[0].Price.ID)
	}
	return types.PlanStarter
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to the fields needed for routing and processing. We avoid the
// full stripe.Event type to keep the handler decoupled from the stripe-go
// object graph and to make testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj holds the minimal fields from a
// checkout.session.completed event's data object.
type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Customer          string            `json:"customer"`
	Subscription      string            `json:"subscription"`
	Metadata          map[string]string `json:"metadata"`
}

// stripeSubscriptionObj holds the minimal fields from a
// customer.subscription.updated/deleted event's data object.
type stripeSubscriptionObj struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Items  stripeSubItems `json:"items"`
}

type stripeSubItems struct {
	Data []stripeSubItem `json:"data"`
}

type stripeSubItem struct {
	Price stripeSubItemPrice `json:"price"`
}

type stripeSubItemPrice struct {
	ID string `json:"id"`
}

// eventTimestamp returns the event's created timestamp as a time.Time.
// This is the provider ordering timestamp the optimistic lock compares.
func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	return time.Unix(e.Created, 0).UTC()
}

// checkoutSession decodes the event's data object as a checkout session.
func (e *stripeWebhookEvent) checkoutSession() (*stripeCheckoutSessionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(data.Object, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// subscription decodes the event's data object as a subscription.
func (e *stripeWebhookEvent) subscription() (*stripeSubscriptionObj, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, err
	}
	var sub stripeSubscriptionObj
	if err := json.Unmarshal(data.Object, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}
