package models

import "time"

// OpenEvent is an append-only record of one beacon hit
type OpenEvent struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	MessageID string `gorm:"type:varchar(64);not null;index:idx_open_events_message_id" json:"message_id"`
	IP        string `gorm:"size:64" json:"ip"`
	UserAgent string `gorm:"type:text" json:"user_agent"`
	Location  string `gorm:"size:255" json:"location"`
	Device    string `gorm:"size:16" json:"device"`
	IsProxy   bool   `gorm:"not null;default:false" json:"is_proxy"`

	Message *TrackedMessage `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_open_events_created_at" json:"created_at"`
}

// TableName returns the table name for OpenEvent
func (OpenEvent) TableName() string { return "open_events" }

// LinkClickEvent is an append-only record of one redirect hit
type LinkClickEvent struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	MessageID string `gorm:"type:varchar(64);not null;index:idx_link_click_events_message_id" json:"message_id"`
	LinkID    uint   `gorm:"not null;index:idx_link_click_events_link_id" json:"link_id"`
	URL       string `gorm:"type:text" json:"url"`
	IP        string `gorm:"size:64" json:"ip"`
	UserAgent string `gorm:"type:text" json:"user_agent"`
	Location  string `gorm:"size:255" json:"location"`
	IsProxy   bool   `gorm:"not null;default:false" json:"is_proxy"`

	Message *TrackedMessage `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_link_click_events_created_at" json:"created_at"`
}

// TableName returns the table name for LinkClickEvent
func (LinkClickEvent) TableName() string { return "link_click_events" }

// EngagementEventFilter filters open and click events
type EngagementEventFilter struct {
	MessageID     *string
	IsProxy       *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
