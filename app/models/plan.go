package models

import (
	"encoding/json"
	"time"
)

// PlanCodeFree is the implicit plan used when no mapping resolves.
const PlanCodeFree = "free"

// Plan is the internal catalog entry an entitlement is granted against. It
// carries the default usage limit, the soft-limit overage percentage and the
// default feature flags; entitlement rows may override all of them.
type Plan struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	Code             string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"code"`
	ProductID        string    `gorm:"type:varchar(100);not null;index" json:"product_id"`
	Name             string    `gorm:"type:varchar(100);not null;default:''" json:"name"`
	UsageLimit       int64     `gorm:"not null;default:0" json:"usage_limit"`
	SoftLimitPercent float64   `gorm:"not null;default:0" json:"soft_limit_percent"`
	FeatureFlags     string    `gorm:"column:feature_flags_json;type:longtext" json:"-"`
	IsActive         bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// FeatureFlagMap decodes the plan's default feature flags.
func (p *Plan) FeatureFlagMap() map[string]any {
	flags := map[string]any{}
	if p.FeatureFlags == "" {
		return flags
	}
	if err := json.Unmarshal([]byte(p.FeatureFlags), &flags); err != nil {
		return map[string]any{}
	}
	return flags
}
