package entitlements

import (
	"math"
	"time"

	"github.com/quotagate/quotagate/app/models"
)

// buildInfo derives the client-facing snapshot from the entitlement row and
// its plan. Entitlement overrides win over plan defaults for limits and for
// every individual feature flag.
func buildInfo(ent *models.Entitlement, plan *models.Plan) *Info {
	limit := ent.UsageLimit
	softPercent := 0.0
	planCode := ""
	features := map[string]any{}

	if plan != nil {
		planCode = plan.Code
		softPercent = plan.SoftLimitPercent
		if limit == 0 {
			limit = plan.UsageLimit
		}
		for k, v := range plan.FeatureFlagMap() {
			features[k] = v
		}
	}
	for k, v := range ent.FeatureFlagMap() {
		features[k] = v
	}

	return &Info{
		EntitlementID: ent.EntitlementID,
		UserID:        ent.UserID,
		ProductID:     ent.ProductID,
		PlanCode:      planCode,
		Status:        ent.Status,
		Features:      features,
		Usage:         computeUsage(limit, ent.UsageCount, ent.SoftLimit, softPercent, ent.UsageResetAt),
		ValidUntil:    ent.ValidUntil,
	}
}

// computeUsage applies the quota arithmetic. The soft limit defaults to
// floor(limit * (1 + softPercent)) when no explicit override is set, which
// lets a plan tolerate a configured overage before hard denial.
func computeUsage(limit, used, softOverride int64, softPercent float64, resetAt *time.Time) Usage {
	soft := softOverride
	if soft == 0 {
		soft = int64(math.Floor(float64(limit) * (1 + softPercent)))
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	return Usage{
		Limit:         limit,
		Used:          used,
		Remaining:     remaining,
		SoftLimit:     soft,
		OverLimit:     used > limit,
		OverSoftLimit: used > soft,
		ResetAt:       resetAt,
	}
}
