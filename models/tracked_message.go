package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// MessageStatus represents the delivery state of a tracked message
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

// Message sources
const (
	MessageSourceManual    = "manual"
	MessageSourceScheduled = "scheduled"
	MessageSourceSequence  = "sequence"
	MessageSourceExtension = "extension"
)

// String returns the string representation of the status
func (s MessageStatus) String() string {
	return string(s)
}

// Valid checks if the status is valid
func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusPending, MessageStatusSent, MessageStatusFailed:
		return true
	default:
		return false
	}
}

// Scan implements the sql.Scanner interface for MessageStatus
func (s *MessageStatus) Scan(value any) error {
	if value == nil {
		*s = ""
		return nil
	}

	switch v := value.(type) {
	case string:
		*s = MessageStatus(v)
	case []byte:
		*s = MessageStatus(string(v))
	default:
		return fmt.Errorf("cannot scan %T into MessageStatus", value)
	}

	return nil
}

// Value implements the driver.Valuer interface for MessageStatus
func (s MessageStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid MessageStatus: %s", s)
	}
	return string(s), nil
}

// TrackedMessage is one outbound email. OpenCount and HeatScore only grow and are only
// ever changed through store-side relative updates.
// OpenedAt holds the most recent non-proxy open, not the first one.
type TrackedMessage struct {
	ID            string        `gorm:"type:varchar(64);primaryKey" json:"id"`
	OwnerID       uint          `gorm:"not null;index:idx_tracked_messages_owner_id" json:"owner_id"`
	Recipient     string        `gorm:"size:320;not null;index:idx_tracked_messages_recipient" json:"recipient"`
	Subject       string        `gorm:"type:text;not null" json:"subject"`
	Body          string        `gorm:"type:text" json:"-"`
	Tracked       bool          `gorm:"not null;default:true" json:"tracked"`
	Status        MessageStatus `gorm:"type:varchar(16);not null;index:idx_tracked_messages_due,priority:1" json:"status"`
	ScheduledAt   *time.Time    `gorm:"index:idx_tracked_messages_due,priority:2" json:"scheduled_at,omitempty"`
	Source        string        `gorm:"size:32;not null;default:manual" json:"source"`
	OpenedAt      *time.Time    `json:"opened_at,omitempty"`
	OpenCount     int64         `gorm:"not null;default:0" json:"open_count"`
	HeatScore     int64         `gorm:"not null;default:0;index:idx_tracked_messages_heat_score" json:"heat_score"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`
	FailureReason *string       `gorm:"type:text" json:"failure_reason,omitempty"`
	ClaimedUntil  *time.Time    `json:"-"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_tracked_messages_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for TrackedMessage
func (TrackedMessage) TableName() string { return "tracked_messages" }

// TrackedMessageFilter provides filter fields for repository queries
type TrackedMessageFilter struct {
	ID            *string
	OwnerID       *uint
	Recipient     *string
	Status        *MessageStatus
	Source        *string
	MinHeatScore  *int64
	Opened        *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
