package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quotagate/quotagate/app/models"
)

func TestComputeUsage(t *testing.T) {
	cases := []struct {
		name         string
		limit        int64
		used         int64
		softOverride int64
		softPercent  float64
		want         Usage
	}{
		{
			name:  "under limit",
			limit: 100, used: 95, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 95, Remaining: 5, SoftLimit: 110, OverLimit: false, OverSoftLimit: false},
		},
		{
			name:  "over limit but within soft overage",
			limit: 100, used: 105, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 105, Remaining: 0, SoftLimit: 110, OverLimit: true, OverSoftLimit: false},
		},
		{
			name:  "over soft limit",
			limit: 100, used: 115, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 115, Remaining: 0, SoftLimit: 110, OverLimit: true, OverSoftLimit: true},
		},
		{
			name:  "exactly at limit is not over",
			limit: 100, used: 100, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 100, Remaining: 0, SoftLimit: 110, OverLimit: false, OverSoftLimit: false},
		},
		{
			name:  "exactly at soft limit is not over soft",
			limit: 100, used: 110, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 110, Remaining: 0, SoftLimit: 110, OverLimit: true, OverSoftLimit: false},
		},
		{
			name:  "soft percent floors fractional results",
			limit: 33, used: 0, softPercent: 0.1,
			want: Usage{Limit: 33, Used: 0, Remaining: 33, SoftLimit: 36},
		},
		{
			name:  "explicit soft override wins over percent",
			limit: 100, used: 120, softOverride: 150, softPercent: 0.1,
			want: Usage{Limit: 100, Used: 120, Remaining: 0, SoftLimit: 150, OverLimit: true, OverSoftLimit: false},
		},
		{
			name:  "zero percent keeps soft at limit",
			limit: 100, used: 101,
			want: Usage{Limit: 100, Used: 101, Remaining: 0, SoftLimit: 100, OverLimit: true, OverSoftLimit: true},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := computeUsage(tc.limit, tc.used, tc.softOverride, tc.softPercent, nil)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestComputeUsageCarriesResetAt(t *testing.T) {
	resetAt := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	got := computeUsage(100, 10, 0, 0, &resetAt)
	assert.Equal(t, &resetAt, got.ResetAt)
}

func TestBuildInfoMergesFeatureFlags(t *testing.T) {
	plan := &models.Plan{
		Code:             "pro",
		UsageLimit:       1000,
		SoftLimitPercent: 0.1,
		FeatureFlags:     `{"api_access":true,"max_projects":5}`,
	}
	ent := &models.Entitlement{
		EntitlementID: "ent-1",
		UserID:        42,
		ProductID:     "api",
		Status:        models.EntitlementStatusActive,
		UsageCount:    30,
		FeatureFlags:  `{"max_projects":20,"beta":true}`,
	}

	info := buildInfo(ent, plan)

	assert.Equal(t, "pro", info.PlanCode)
	// Plan defaults apply, entitlement overrides win per flag.
	assert.Equal(t, true, info.Features["api_access"])
	assert.Equal(t, float64(20), info.Features["max_projects"])
	assert.Equal(t, true, info.Features["beta"])
	// Zero entitlement limit defers to the plan.
	assert.Equal(t, int64(1000), info.Usage.Limit)
	assert.Equal(t, int64(1100), info.Usage.SoftLimit)
}

func TestBuildInfoEntitlementLimitOverridesPlan(t *testing.T) {
	plan := &models.Plan{Code: "pro", UsageLimit: 1000}
	ent := &models.Entitlement{
		EntitlementID: "ent-1",
		UserID:        42,
		ProductID:     "api",
		Status:        models.EntitlementStatusActive,
		UsageLimit:    50,
		UsageCount:    60,
	}

	info := buildInfo(ent, plan)

	assert.Equal(t, int64(50), info.Usage.Limit)
	assert.True(t, info.Usage.OverLimit)
	assert.Zero(t, info.Usage.Remaining)
}

func TestBuildInfoWithoutPlan(t *testing.T) {
	ent := &models.Entitlement{
		EntitlementID: "ent-1",
		UserID:        42,
		ProductID:     "api",
		Status:        models.EntitlementStatusActive,
		UsageLimit:    100,
		UsageCount:    10,
	}

	info := buildInfo(ent, nil)

	assert.Empty(t, info.PlanCode)
	assert.Empty(t, info.Features)
	assert.Equal(t, int64(100), info.Usage.Limit)
	assert.Equal(t, int64(100), info.Usage.SoftLimit)
}
