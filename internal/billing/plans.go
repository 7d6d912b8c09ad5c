// Package billing provides plan management, entitlement evaluation, and
// usage reporting domain logic.
package billing

import "briefhub/internal/types"

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (starter) limits
	// to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
// It implements PlanRegistry and is the standard implementation for production use.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded plan limits:
//
//	| Plan    | Projects      | Storage       | Features                              |
//	|---------|---------------|---------------|---------------------------------------|
//	| Starter | 2             | 1 GiB         | create_project, basic_upload          |
//	| Pro     | -1 (unbounded)| 100 GiB       | + client_portal, analytics_export     |
//	| Agency  | -1 (unbounded)| -1 (unbounded)| + white_label, priority_support       |
//
// Unbounded limits use types.UnboundedLimit (-1); enforcement code must
// treat -1 as no limit. Zero is a real limit.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanStarter: {
		MaxProjects:     2,
		MaxStorageBytes: 1 << 30,
		Features: map[types.Capability]bool{
			types.CapCreateProject: true,
			types.CapBasicUpload:   true,
		},
	},
	types.PlanPro: {
		MaxProjects:     types.UnboundedLimit,
		MaxStorageBytes: 100 << 30,
		Features: map[types.Capability]bool{
			types.CapCreateProject:   true,
			types.CapBasicUpload:     true,
			types.CapClientPortal:    true,
			types.CapAnalyticsExport: true,
		},
	},
	types.PlanAgency: {
		MaxProjects:     types.UnboundedLimit,
		MaxStorageBytes: types.UnboundedLimit,
		Features: map[types.Capability]bool{
			types.CapCreateProject:   true,
			types.CapBasicUpload:     true,
			types.CapClientPortal:    true,
			types.CapAnalyticsExport: true,
			types.CapWhiteLabel:      true,
			types.CapPrioritySupport: true,
		},
	},
}

// starterLimits is cached to avoid map lookups on the fallback path.
var starterLimits = planDefaults[types.PlanStarter]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults into a new map so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the starter limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return starterLimits
}
