// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"time"

	"github.com/jaecopzm/trakpilot/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// TxRunner runs fn inside a transaction carried by the context
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OwnerRepository defines operations for sending accounts
type OwnerRepository interface {
	Repository[models.Owner, models.OwnerFilter]
	ByUUID(ctx context.Context, uuid string) (*models.Owner, error)
	// ClaimMonthlySend counts one send in period when the owner is under limit, restarting
	// the counter if the period rolled over. limit <= 0 means unlimited. Returns false when refused.
	ClaimMonthlySend(ctx context.Context, ownerID uint, period string, limit int64) (bool, error)
	// ReleaseMonthlySend gives back a claimed send that never went out
	ReleaseMonthlySend(ctx context.Context, ownerID uint, period string) error
	UpdateSettings(ctx context.Context, ownerID uint, updates map[string]any) error
}

// TrackedMessageRepository defines operations for tracked messages.
// Engagement counters are only changed with store-side relative updates.
type TrackedMessageRepository interface {
	ByID(ctx context.Context, id string) (*models.TrackedMessage, error)
	ByFilter(ctx context.Context, filter models.TrackedMessageFilter, orderBy string, limit, offset int) ([]*models.TrackedMessage, error)
	Count(ctx context.Context, filter models.TrackedMessageFilter) (int64, error)
	Save(ctx context.Context, msg *models.TrackedMessage) error
	// ApplyOpen adds one open and heat; openedAt moves opened_at forward, never back
	ApplyOpen(ctx context.Context, id string, heat int64, openedAt *time.Time) error
	// AddHeat adds heat without touching the open counter
	AddHeat(ctx context.Context, id string, heat int64) error
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.TrackedMessage, error)
	// ClaimScheduled leases a due pending message; false means another sweep holds it
	ClaimScheduled(ctx context.Context, id string, now, leaseUntil time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

// TrackedLinkRepository defines operations for rewritten links
type TrackedLinkRepository interface {
	Repository[models.TrackedLink, models.TrackedLinkFilter]
	ByCode(ctx context.Context, code string) (*models.TrackedLink, error)
	ListByMessage(ctx context.Context, messageID string) ([]*models.TrackedLink, error)
}

// OpenEventRepository defines operations for the open event log
type OpenEventRepository interface {
	Save(ctx context.Context, event *models.OpenEvent) error
	ListByMessage(ctx context.Context, messageID string, limit int) ([]*models.OpenEvent, error)
	Count(ctx context.Context, filter models.EngagementEventFilter) (int64, error)
}

// LinkClickEventRepository defines operations for the click event log
type LinkClickEventRepository interface {
	Save(ctx context.Context, event *models.LinkClickEvent) error
	ListByMessage(ctx context.Context, messageID string, limit int) ([]*models.LinkClickEvent, error)
	Count(ctx context.Context, filter models.EngagementEventFilter) (int64, error)
	CountByMessageIDs(ctx context.Context, messageIDs []string) (map[string]int64, error)
}

// UnsubscribeRepository defines operations for recipient opt-outs
type UnsubscribeRepository interface {
	IsUnsubscribed(ctx context.Context, ownerID uint, email string) (bool, error)
	// Record is idempotent per (owner, email)
	Record(ctx context.Context, entry *models.Unsubscribe) error
}

// SequenceRepository defines operations for drip sequences
type SequenceRepository interface {
	Repository[models.Sequence, models.SequenceFilter]
	ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error)
	UpdateStatus(ctx context.Context, id uint, status models.SequenceStatus) error
}

// SequenceStepRepository defines operations for sequence steps
type SequenceStepRepository interface {
	SaveBatch(ctx context.Context, steps []*models.SequenceStep) error
	ByOrder(ctx context.Context, sequenceID uint, order int) (*models.SequenceStep, error)
	ListBySequence(ctx context.Context, sequenceID uint) ([]*models.SequenceStep, error)
}

// SequenceEnrollmentRepository defines operations for enrollments.
// Every state transition is conditional on the expected current state.
type SequenceEnrollmentRepository interface {
	Repository[models.SequenceEnrollment, models.SequenceEnrollmentFilter]
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.DueEnrollment, error)
	Claim(ctx context.Context, id uint, expectedStep int, now, leaseUntil time.Time) (bool, error)
	Release(ctx context.Context, id uint, lastError string) error
	Advance(ctx context.Context, id uint, expectedStep int, nextDue time.Time) (bool, error)
	Complete(ctx context.Context, id uint, expectedStep int, at time.Time) (bool, error)
	Cancel(ctx context.Context, id uint, at time.Time) (bool, error)
	CancelActiveForRecipient(ctx context.Context, ownerID uint, email string, at time.Time) (int64, error)
}
