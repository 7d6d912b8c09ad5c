package types

// PlanTier identifies the billing plan for an account.
type PlanTier string

const (
	PlanStarter PlanTier = "starter"
	PlanPro     PlanTier = "pro"
	PlanAgency  PlanTier = "agency"
)

// ValidPlanTier reports whether the tier is one of the known plans.
// Unknown tiers are treated as starter by the catalog, but callers that
// accept a tier from user input should reject unknowns up front.
func ValidPlanTier(t PlanTier) bool {
	switch t {
	case PlanStarter, PlanPro, PlanAgency:
		return true
	}
	return false
}

// SubscriptionStatus represents the state of a billing subscription.
// Status transitions are driven exclusively by verified provider events.
type SubscriptionStatus string

const (
	SubStatusActive   SubscriptionStatus = "active"
	SubStatusPastDue  SubscriptionStatus = "past_due"
	SubStatusCanceled SubscriptionStatus = "canceled"
)

// NormalizeSubscriptionStatus collapses the provider's status vocabulary
// into the three states the entitlement layer cares about. Anything that
// is not clearly active or delinquent is treated as canceled, which makes
// the account fall back to starter rather than retaining paid access.
func NormalizeSubscriptionStatus(providerStatus string) SubscriptionStatus {
	switch providerStatus {
	case "active", "trialing":
		return SubStatusActive
	case "past_due", "unpaid":
		return SubStatusPastDue
	default:
		return SubStatusCanceled
	}
}

// ProjectStatus represents the lifecycle state of a project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
)

// Capability is a named feature gate evaluated against a plan's feature set.
type Capability string

const (
	CapCreateProject   Capability = "create_project"
	CapBasicUpload     Capability = "basic_upload"
	CapClientPortal    Capability = "client_portal"
	CapAnalyticsExport Capability = "analytics_export"
	CapWhiteLabel      Capability = "white_label"
	CapPrioritySupport Capability = "priority_support"
)

// ValidCapability reports whether the capability is one of the known
// feature gates. The set is closed; anything else is denied by default.
func ValidCapability(c Capability) bool {
	switch c {
	case CapCreateProject, CapBasicUpload, CapClientPortal,
		CapAnalyticsExport, CapWhiteLabel, CapPrioritySupport:
		return true
	}
	return false
}

// ResourceType identifies a limited resource tracked by usage accounting.
type ResourceType string

const (
	ResourceProjects ResourceType = "projects"
	ResourceStorage  ResourceType = "storage_bytes"
)
