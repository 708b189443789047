package models

import "time"

// TrackedLink maps a short code to the original URL of one anchor in one message.
// Rows are written at send time and never change.
type TrackedLink struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Code        string `gorm:"size:32;not null;uniqueIndex:uk_tracked_links_code" json:"code"`
	MessageID   string `gorm:"type:varchar(64);not null;index:idx_tracked_links_message_id" json:"message_id"`
	OriginalURL string `gorm:"type:text;not null" json:"original_url"`

	Message *TrackedMessage `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for TrackedLink
func (TrackedLink) TableName() string { return "tracked_links" }

// TrackedLinkFilter provides filter fields for repository queries
type TrackedLinkFilter struct {
	Code      *string
	MessageID *string
}
