package models

import (
	"encoding/json"
	"time"
)

const (
	EntitlementStatusActive    = "active"
	EntitlementStatusSuspended = "suspended"
	EntitlementStatusExpired   = "expired"
	EntitlementStatusRevoked   = "revoked"
)

// Entitlement is the durable record of what a user may access for a product
// and how much quota remains. There is exactly one row per (user, product);
// status transitions reuse the row, which is what enforces "at most one
// active entitlement per user and product" through the unique index.
type Entitlement struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	EntitlementID  string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"entitlement_id"`
	UserID         uint       `gorm:"not null;index:ux_entitlements_user_product,unique,priority:1" json:"user_id"`
	ProductID      string     `gorm:"type:varchar(100);not null;index:ux_entitlements_user_product,unique,priority:2" json:"product_id"`
	PlanID         uint       `gorm:"not null;default:0;index" json:"plan_id"`
	SubscriptionID *uint      `gorm:"default:null;index" json:"subscription_id,omitempty"`
	Status         string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	FeatureFlags   string     `gorm:"column:feature_flags_json;type:longtext" json:"-"`
	UsageLimit     int64      `gorm:"not null;default:0" json:"usage_limit"`
	UsageCount     int64      `gorm:"not null;default:0" json:"usage_count"`
	SoftLimit      int64      `gorm:"not null;default:0" json:"soft_limit"`
	UsageResetAt   *time.Time `gorm:"type:timestamp;default:null" json:"usage_reset_at,omitempty"`
	ValidUntil     *time.Time `gorm:"type:timestamp;default:null" json:"valid_until,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// FeatureFlagMap decodes the stored feature flag overrides. An empty or
// invalid column yields an empty map.
func (e *Entitlement) FeatureFlagMap() map[string]any {
	flags := map[string]any{}
	if e.FeatureFlags == "" {
		return flags
	}
	if err := json.Unmarshal([]byte(e.FeatureFlags), &flags); err != nil {
		return map[string]any{}
	}
	return flags
}

// SetFeatureFlagMap encodes the given overrides into the stored column.
func (e *Entitlement) SetFeatureFlagMap(flags map[string]any) {
	if len(flags) == 0 {
		e.FeatureFlags = ""
		return
	}
	raw, err := json.Marshal(flags)
	if err != nil {
		return
	}
	e.FeatureFlags = string(raw)
}
