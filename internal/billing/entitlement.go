package billing

import (
	"context"
	"fmt"

	"briefhub/internal/types"
)

// Denial reasons surfaced to the UI layer. Stable strings; clients may
// switch on them.
const (
	ReasonLimitReached  = "limit reached"
	ReasonNotIncluded   = "not included in plan"
	ReasonUnknownDenied = "capability not recognized"
)

// SubscriptionStore provides the minimal subscription lookup the evaluator
// needs. Implemented by db.SubscriptionRepository.
type SubscriptionStore interface {
	// GetByAccount returns the subscription row for the account, or
	// (nil, nil) when no row exists.
	GetByAccount(ctx context.Context, accountID string) (*types.Subscription, error)
}

// UsageCounter provides the authoritative active-project count.
// Implemented by db.ProjectRepository.
type UsageCounter interface {
	CountActive(ctx context.Context, accountID string) (int, error)
}

// Evaluator decides whether an account may exercise a capability. It is
// the single enforcement point for plan limits and feature gates.
type Evaluator interface {
	// Can evaluates the capability against the account's effective plan
	// and current usage. Errors from the underlying stores propagate;
	// callers must treat an error as a denial (fail closed), never as a
	// grant.
	Can(ctx context.Context, accountID string, capability types.Capability) (*types.Decision, error)
}

// evaluatorImpl implements Evaluator against the subscription store, the
// usage counter, and the static plan registry.
type evaluatorImpl struct {
	subs     SubscriptionStore
	usage    UsageCounter
	registry PlanRegistry
}

// NewEvaluator creates the standard Evaluator implementation.
func NewEvaluator(subs SubscriptionStore, usage UsageCounter, registry PlanRegistry) *evaluatorImpl {
	return &evaluatorImpl{subs: subs, usage: usage, registry: registry}
}

var _ Evaluator = (*evaluatorImpl)(nil)

// EffectivePlan resolves the plan tier that governs the account right now.
// Only an active subscription grants a paid tier; a missing row, or any
// non-active status (past_due, canceled), resolves to starter.
func (e *evaluatorImpl) EffectivePlan(ctx context.Context, accountID string) (types.PlanTier, error) {
	sub, err := e.subs.GetByAccount(ctx, accountID)
	if err != nil {
		return "", err
	}
	if !sub.IsActive() {
		return types.PlanStarter, nil
	}
	if !types.ValidPlanTier(sub.Plan) {
		// Unknown plan identifiers resolve to the most restrictive tier.
		return types.PlanStarter, nil
	}
	return sub.Plan, nil
}

// Can evaluates the capability for the account:
//
//  1. Resolve the effective plan (active subscription, else starter).
//  2. create_project compares the active project count against the plan's
//     MaxProjects; an unbounded limit always allows.
//  3. Starter allows only its whitelisted capabilities.
//  4. Otherwise, allow iff the capability is in the plan's feature set.
//
// Unknown capabilities are denied (closed world). Store errors propagate
// without a decision.
func (e *evaluatorImpl) Can(ctx context.Context, accountID string, capability types.Capability) (*types.Decision, error) {
	plan, err := e.EffectivePlan(ctx, accountID)
	if err != nil {
		return nil, err
	}
	limits := e.registry.GetLimits(plan)

	if capability == types.CapCreateProject {
		return e.checkProjectQuota(ctx, accountID, plan, limits)
	}

	if limits.HasFeature(capability) {
		return &types.Decision{Allowed: true, Plan: plan}, nil
	}

	reason := ReasonNotIncluded
	if !types.ValidCapability(capability) {
		reason = ReasonUnknownDenied
	}
	return &types.Decision{
		Allowed: false,
		Reason:  reason,
		Plan:    plan,
	}, nil
}

// checkProjectQuota enforces the project-count limit. The count is a
// direct query against committed rows, so a concurrent create can still
// slip past between check and insert; the limit is a product boundary,
// not a hard invariant, and the occasional off-by-one is acceptable.
func (e *evaluatorImpl) checkProjectQuota(ctx context.Context, accountID string, plan types.PlanTier, limits types.PlanLimits) (*types.Decision, error) {
	if limits.MaxProjects == types.UnboundedLimit {
		return &types.Decision{Allowed: true, Plan: plan}, nil
	}

	count, err := e.usage.CountActive(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("count active projects: %w", err)
	}

	if count < limits.MaxProjects {
		return &types.Decision{
			Allowed:      true,
			CurrentUsage: count,
			Limit:        limits.MaxProjects,
			Plan:         plan,
		}, nil
	}

	return &types.Decision{
		Allowed:      false,
		Reason:       ReasonLimitReached,
		CurrentUsage: count,
		Limit:        limits.MaxProjects,
		Plan:         plan,
	}, nil
}
