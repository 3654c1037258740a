package models

import "time"

const (
	PaymentStatusPaid   = "paid"
	PaymentStatusFailed = "failed"
)

// Payment is a line item per provider invoice, keyed uniquely by the invoice
// ID so that webhook replays update instead of duplicating.
type Payment struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_payments_provider_invoice,unique,priority:1" json:"provider"`
	ProviderInvoiceID      string     `gorm:"type:varchar(191);not null;index:ux_payments_provider_invoice,unique,priority:2" json:"provider_invoice_id"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;default:'';index" json:"provider_subscription_id"`
	UserID                 uint       `gorm:"not null;index" json:"user_id"`
	AmountTotal            int64      `gorm:"not null;default:0" json:"amount_total"`
	Currency               string     `gorm:"type:varchar(8);not null;default:''" json:"currency"`
	PeriodStart            *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd              *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	Status                 string     `gorm:"type:varchar(20);not null;default:'paid'" json:"status"`
	PaidAt                 *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
