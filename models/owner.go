package models

import (
	"time"

	"github.com/google/uuid"
)

// Owner is the account that sends tracked mail. Authentication lives elsewhere;
// this row carries the send quota, relay and webhook settings.
type Owner struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UUID        uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_owners_uuid" json:"uuid"`
	Email       string    `gorm:"size:320;not null;uniqueIndex:uk_owners_email" json:"email"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	IsPremium   bool      `gorm:"not null;default:false" json:"is_premium"`

	// monthly quota; the counter belongs to QuotaPeriod (YYYY-MM)
	MonthlySendCount int64  `gorm:"not null;default:0" json:"monthly_send_count"`
	QuotaPeriod      string `gorm:"size:7;not null;default:''" json:"quota_period"`

	WebhookURL *string `gorm:"type:text" json:"webhook_url,omitempty"`

	RelayHost        *string `gorm:"size:255" json:"relay_host,omitempty"`
	RelayPort        int     `gorm:"not null;default:0" json:"relay_port,omitempty"`
	RelayUsername    *string `gorm:"size:255" json:"relay_username,omitempty"`
	RelayPasswordEnc *string `gorm:"type:text" json:"-"`
	RelayFromEmail   *string `gorm:"size:320" json:"relay_from_email,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for Owner
func (Owner) TableName() string { return "owners" }

// HasRelay reports whether a private SMTP relay is fully configured
func (o *Owner) HasRelay() bool {
	return o.RelayHost != nil && *o.RelayHost != "" &&
		o.RelayUsername != nil && *o.RelayUsername != "" &&
		o.RelayPasswordEnc != nil && *o.RelayPasswordEnc != ""
}

// OwnerFilter provides filter fields for repository queries
type OwnerFilter struct {
	ID    *uint
	UUID  *uuid.UUID
	Email *string
}

// Unsubscribe records that a recipient opted out of one owner's mail
type Unsubscribe struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	OwnerID uint   `gorm:"not null;uniqueIndex:uk_unsubscribes_owner_email,priority:1" json:"owner_id"`
	Email   string `gorm:"size:320;not null;uniqueIndex:uk_unsubscribes_owner_email,priority:2" json:"email"`
	Source  string `gorm:"size:32;not null;default:link" json:"source"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for Unsubscribe
func (Unsubscribe) TableName() string { return "unsubscribes" }
