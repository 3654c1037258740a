package models

import "time"

// ProcessedEvent is the idempotency guard row. It is inserted inside the same
// transaction as an event's business mutations, so its existence implies all of
// those mutations were durably committed. Rows are never updated; old rows may
// be pruned after a retention window.
type ProcessedEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Provider  string    `gorm:"type:varchar(20);not null;index:ux_processed_events_provider_event,unique,priority:1" json:"provider"`
	EventID   string    `gorm:"type:varchar(191);not null;index:ux_processed_events_provider_event,unique,priority:2" json:"event_id"`
	EventType string    `gorm:"type:varchar(100);not null;index" json:"event_type"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
