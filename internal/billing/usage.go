package billing

import (
	"context"

	"briefhub/internal/types"
)

// UsageReporter produces the current usage snapshot and the usage-vs-limits
// report served by the usage endpoint.
type UsageReporter interface {
	// CurrentUsage returns the account's live resource consumption. The
	// count is a direct query against committed project rows, never a
	// cached counter.
	CurrentUsage(ctx context.Context, accountID string) (*types.UsageSnapshot, error)

	// Report combines the snapshot with the effective plan's limits.
	Report(ctx context.Context, accountID string) (*types.UsageReport, error)
}

// usageReporterImpl implements UsageReporter against the project counter,
// the subscription store, and the plan registry.
type usageReporterImpl struct {
	usage    UsageCounter
	subs     SubscriptionStore
	registry PlanRegistry
}

// NewUsageReporter creates the standard UsageReporter implementation.
func NewUsageReporter(usage UsageCounter, subs SubscriptionStore, registry PlanRegistry) *usageReporterImpl {
	return &usageReporterImpl{usage: usage, subs: subs, registry: registry}
}

var _ UsageReporter = (*usageReporterImpl)(nil)

// CurrentUsage performs the direct count of active projects.
func (r *usageReporterImpl) CurrentUsage(ctx context.Context, accountID string) (*types.UsageSnapshot, error) {
	count, err := r.usage.CountActive(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &types.UsageSnapshot{
		AccountID:          accountID,
		ActiveProjectCount: count,
	}, nil
}

// Report resolves the effective plan and pairs each tracked resource with
// its limit and current consumption.
func (r *usageReporterImpl) Report(ctx context.Context, accountID string) (*types.UsageReport, error) {
	sub, err := r.subs.GetByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	plan := types.PlanStarter
	if sub.IsActive() && types.ValidPlanTier(sub.Plan) {
		plan = sub.Plan
	}
	limits := r.registry.GetLimits(plan)

	snapshot, err := r.CurrentUsage(ctx, accountID)
	if err != nil {
		return nil, err
	}

	return &types.UsageReport{
		Plan: plan,
		Limits: map[types.ResourceType]types.LimitDetail{
			types.ResourceProjects: {
				Limit: int64(limits.MaxProjects),
				Used:  int64(snapshot.ActiveProjectCount),
			},
			types.ResourceStorage: {
				Limit: limits.MaxStorageBytes,
				// Storage attribution lives in the upload pipeline;
				// this service does not track it.
				Used: 0,
			},
		},
	}, nil
}
