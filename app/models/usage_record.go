package models

import "time"

// UsageRecord is a best-effort audit line per usage increment. The counter on
// the entitlement row is the source of truth; records are written
// asynchronously and their loss is tolerated.
type UsageRecord struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	RecordID      string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"record_id"`
	EntitlementID uint      `gorm:"not null;index" json:"entitlement_id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	ProductID     string    `gorm:"type:varchar(100);not null;index" json:"product_id"`
	Amount        int64     `gorm:"not null" json:"amount"`
	UsageType     string    `gorm:"type:varchar(100);not null;default:''" json:"usage_type"`
	MetadataJSON  string    `gorm:"type:longtext" json:"metadata_json"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
