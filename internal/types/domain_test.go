package types

import (
	"testing"
	"time"
)

func TestNormalizeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     SubscriptionStatus
	}{
		{"active", SubStatusActive},
		{"trialing", SubStatusActive},
		{"past_due", SubStatusPastDue},
		{"unpaid", SubStatusPastDue},
		{"canceled", SubStatusCanceled},
		{"incomplete", SubStatusCanceled},
		{"incomplete_expired", SubStatusCanceled},
		{"paused", SubStatusCanceled},
		{"", SubStatusCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			if got := NormalizeSubscriptionStatus(tt.provider); got != tt.want {
				t.Errorf("NormalizeSubscriptionStatus(%q) = %q, want %q", tt.provider, got, tt.want)
			}
		})
	}
}

func TestSubscriptionIsActive(t *testing.T) {
	var nilSub *Subscription
	if nilSub.IsActive() {
		t.Error("nil subscription must not be active")
	}

	sub := &Subscription{
		AccountID:   "acc_1",
		Plan:        PlanPro,
		Status:      SubStatusActive,
		LastEventAt: time.Now(),
	}
	if !sub.IsActive() {
		t.Error("active subscription should report active")
	}

	sub.Status = SubStatusPastDue
	if sub.IsActive() {
		t.Error("past_due subscription must be treated as not active")
	}

	sub.Status = SubStatusCanceled
	if sub.IsActive() {
		t.Error("canceled subscription must be treated as not active")
	}
}

func TestValidPlanTier(t *testing.T) {
	for _, tier := range []PlanTier{PlanStarter, PlanPro, PlanAgency} {
		if !ValidPlanTier(tier) {
			t.Errorf("ValidPlanTier(%q) = false, want true", tier)
		}
	}
	if ValidPlanTier("enterprise") {
		t.Error("unknown tier should not validate")
	}
	if ValidPlanTier("") {
		t.Error("empty tier should not validate")
	}
}

func TestPlanLimitsHasFeature(t *testing.T) {
	limits := PlanLimits{
		MaxProjects: 2,
		Features: map[Capability]bool{
			CapBasicUpload: true,
		},
	}

	if !limits.HasFeature(CapBasicUpload) {
		t.Error("whitelisted capability should be present")
	}
	if limits.HasFeature(CapWhiteLabel) {
		t.Error("absent capability must be denied")
	}
	if (PlanLimits{}).HasFeature(CapBasicUpload) {
		t.Error("nil feature map must deny everything")
	}
}
