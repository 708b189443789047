package models

import "time"

// SequenceStatus is the lifecycle state of a drip sequence
type SequenceStatus string

const (
	SequenceStatusActive   SequenceStatus = "active"
	SequenceStatusPaused   SequenceStatus = "paused"
	SequenceStatusArchived SequenceStatus = "archived"
)

// Valid checks if the status is valid
func (s SequenceStatus) Valid() bool {
	switch s {
	case SequenceStatusActive, SequenceStatusPaused, SequenceStatusArchived:
		return true
	default:
		return false
	}
}

// EnrollmentStatus is the state of one recipient inside a sequence.
// Completed and cancelled are terminal.
type EnrollmentStatus string

const (
	EnrollmentStatusActive    EnrollmentStatus = "active"
	EnrollmentStatusCompleted EnrollmentStatus = "completed"
	EnrollmentStatusCancelled EnrollmentStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed
func (s EnrollmentStatus) Terminal() bool {
	return s == EnrollmentStatusCompleted || s == EnrollmentStatusCancelled
}

// Sequence is a named, ordered drip campaign
type Sequence struct {
	ID      uint           `gorm:"primaryKey" json:"id"`
	OwnerID uint           `gorm:"not null;index:idx_sequences_owner_id" json:"owner_id"`
	Name    string         `gorm:"size:255;not null" json:"name"`
	Status  SequenceStatus `gorm:"type:varchar(16);not null;default:active" json:"status"`

	Steps []SequenceStep `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE" json:"steps,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for Sequence
func (Sequence) TableName() string { return "sequences" }

// SequenceFilter provides filter fields for repository queries
type SequenceFilter struct {
	ID      *uint
	OwnerID *uint
	Status  *SequenceStatus
}

// SequenceStep is a 1-based ordered child of a sequence. DelayDays counts from the previous step.
// Steps are never renumbered once enrollments reference them.
type SequenceStep struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	SequenceID uint   `gorm:"not null;uniqueIndex:uk_sequence_steps_order,priority:1" json:"sequence_id"`
	StepOrder  int    `gorm:"not null;uniqueIndex:uk_sequence_steps_order,priority:2" json:"step_order"`
	DelayDays  int    `gorm:"not null;default:0" json:"delay_days"`
	Subject    string `gorm:"type:text;not null" json:"subject"`
	Body       string `gorm:"type:text;not null" json:"body"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
}

// TableName returns the table name for SequenceStep
func (SequenceStep) TableName() string { return "sequence_steps" }

// SequenceEnrollment tracks one recipient through one sequence.
// CurrentStep counts executed steps; NextStepDue is only meaningful while active.
type SequenceEnrollment struct {
	ID           uint             `gorm:"primaryKey" json:"id"`
	SequenceID   uint             `gorm:"not null;index:idx_sequence_enrollments_sequence_id" json:"sequence_id"`
	OwnerID      uint             `gorm:"not null;index:idx_sequence_enrollments_owner_id" json:"owner_id"`
	Recipient    string           `gorm:"size:320;not null" json:"recipient"`
	Status       EnrollmentStatus `gorm:"type:varchar(16);not null;default:active;index:idx_sequence_enrollments_due,priority:1" json:"status"`
	CurrentStep  int              `gorm:"not null;default:0" json:"current_step"`
	NextStepDue  *time.Time       `gorm:"index:idx_sequence_enrollments_due,priority:2" json:"next_step_due,omitempty"`
	ClaimedUntil *time.Time       `json:"-"`
	LastError    *string          `gorm:"type:text" json:"last_error,omitempty"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty"`

	Sequence *Sequence `gorm:"foreignKey:SequenceID;constraint:OnDelete:CASCADE" json:"-"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

// TableName returns the table name for SequenceEnrollment
func (SequenceEnrollment) TableName() string { return "sequence_enrollments" }

// SequenceEnrollmentFilter provides filter fields for repository queries
type SequenceEnrollmentFilter struct {
	ID         *uint
	SequenceID *uint
	OwnerID    *uint
	Recipient  *string
	Status     *EnrollmentStatus
}

// DueEnrollment pairs an enrollment with the step it is due to execute
type DueEnrollment struct {
	Enrollment SequenceEnrollment
	Step       SequenceStep
}
