package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent stores one row per delivered gateway notification with
// deduplication metadata for idempotent processing. The event id is a
// composite of transaction uid, status and paid_at: the uid alone is not
// unique across a transaction's lifecycle (pending and successful share it).
type WebhookEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EventID     string         `gorm:"type:varchar(255);not null;uniqueIndex:ux_webhook_events_event_id" json:"event_id"`
	EventType   string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload     datatypes.JSON `gorm:"type:json" json:"payload"`
	Processed   bool           `gorm:"default:false;index" json:"processed"`
	ProcessedAt *time.Time     `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
