package testing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestOwner creates a free-tier owner with no relay configured
func (tf *TestFixtures) CreateTestOwner() (*models.Owner, error) {
	id := uuid.New()
	owner := &models.Owner{
		UUID:        id,
		Email:       fmt.Sprintf("owner.%s@example.com", id.String()[:8]),
		DisplayName: "Test Owner",
		QuotaPeriod: utils.UTCNow().Format("2006-01"),
	}
	if err := tf.DB.DB.Create(owner).Error; err != nil {
		return nil, fmt.Errorf("failed to create test owner: %w", err)
	}
	return owner, nil
}

// CreateTestMessage stores a sent, tracked message for owner
func (tf *TestFixtures) CreateTestMessage(ownerID uint, recipient string) (*models.TrackedMessage, error) {
	now := utils.UTCNow()
	msg := &models.TrackedMessage{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Recipient: recipient,
		Subject:   "Quick question",
		Body:      "<p>Hello</p>",
		Tracked:   true,
		Status:    models.MessageStatusSent,
		Source:    models.MessageSourceManual,
		SentAt:    &now,
	}
	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create test message: %w", err)
	}
	return msg, nil
}

// CreateTestScheduledMessage stores a pending message due at scheduledAt
func (tf *TestFixtures) CreateTestScheduledMessage(ownerID uint, recipient string, scheduledAt time.Time) (*models.TrackedMessage, error) {
	msg := &models.TrackedMessage{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Recipient:   recipient,
		Subject:     "Following up",
		Body:        "<p>Checking in</p>",
		Tracked:     true,
		Status:      models.MessageStatusPending,
		Source:      models.MessageSourceScheduled,
		ScheduledAt: &scheduledAt,
	}
	if err := tf.DB.DB.Create(msg).Error; err != nil {
		return nil, fmt.Errorf("failed to create scheduled message: %w", err)
	}
	return msg, nil
}

// CreateTestLink stores a rewritten link for messageID
func (tf *TestFixtures) CreateTestLink(messageID, code, target string) (*models.TrackedLink, error) {
	link := &models.TrackedLink{Code: code, MessageID: messageID, OriginalURL: target}
	if err := tf.DB.DB.Create(link).Error; err != nil {
		return nil, fmt.Errorf("failed to create test link: %w", err)
	}
	return link, nil
}

// CreateTestClicks stores n real clicks on link
func (tf *TestFixtures) CreateTestClicks(link *models.TrackedLink, n int) error {
	for range n {
		click := &models.LinkClickEvent{
			MessageID: link.MessageID,
			LinkID:    link.ID,
			URL:       link.OriginalURL,
			UserAgent: "Mozilla/5.0",
			Location:  "Unknown",
		}
		if err := tf.DB.DB.Create(click).Error; err != nil {
			return fmt.Errorf("failed to create test click: %w", err)
		}
	}
	return nil
}

// CreateTestSequence stores an active sequence with one step per delay
func (tf *TestFixtures) CreateTestSequence(ownerID uint, delays ...int) (*models.Sequence, error) {
	seq := &models.Sequence{OwnerID: ownerID, Name: "Onboarding", Status: models.SequenceStatusActive}
	for i, d := range delays {
		seq.Steps = append(seq.Steps, models.SequenceStep{
			StepOrder: i + 1,
			DelayDays: d,
			Subject:   fmt.Sprintf("Step %d", i+1),
			Body:      fmt.Sprintf("<p>Step %d body</p>", i+1),
		})
	}
	if err := tf.DB.DB.Create(seq).Error; err != nil {
		return nil, fmt.Errorf("failed to create test sequence: %w", err)
	}
	return seq, nil
}

// CreateTestEnrollment stores an active enrollment due at nextDue
func (tf *TestFixtures) CreateTestEnrollment(seq *models.Sequence, recipient string, nextDue time.Time) (*models.SequenceEnrollment, error) {
	enrollment := &models.SequenceEnrollment{
		SequenceID:  seq.ID,
		OwnerID:     seq.OwnerID,
		Recipient:   recipient,
		Status:      models.EnrollmentStatusActive,
		NextStepDue: &nextDue,
	}
	if err := tf.DB.DB.Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create test enrollment: %w", err)
	}
	return enrollment, nil
}
