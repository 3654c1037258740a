package models

import "time"

const (
	AuditActionGrant   = "grant"
	AuditActionRevoke  = "revoke"
	AuditActionSuspend = "suspend"
)

// EntitlementAudit records who changed an entitlement and why. Written in the
// same transaction as the state transition it describes.
type EntitlementAudit struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	EntitlementID uint      `gorm:"not null;index" json:"entitlement_id"`
	UserID        uint      `gorm:"not null;index" json:"user_id"`
	ProductID     string    `gorm:"type:varchar(100);not null;index" json:"product_id"`
	Action        string    `gorm:"type:varchar(20);not null" json:"action"`
	Actor         string    `gorm:"type:varchar(100);not null;default:''" json:"actor"`
	Reason        string    `gorm:"type:text" json:"reason"`
	CreatedAt     time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
