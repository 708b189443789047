// Package businessflow contains the core business logic and use cases for tracking, sending and sequences
package businessflow

import (
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
)

const RequestIDKey = "X-Request-ID"

// ClientMetadata holds what an ingestion hit or API call knows about its caller
type ClientMetadata struct {
	IPAddress  string            `json:"ip_address"`
	UserAgent  string            `json:"user_agent"`
	RequestID  string            `json:"request_id,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Additional map[string]string `json:"additional,omitempty"`
}

// NewClientMetadata creates a new ClientMetadata instance stamped with the current time
func NewClientMetadata(ipAddress, userAgent string) *ClientMetadata {
	return &ClientMetadata{
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
		ReceivedAt: utils.UTCNow(),
		Additional: make(map[string]string),
	}
}

// AddAdditional adds additional custom information to the metadata
func (cm *ClientMetadata) AddAdditional(key, value string) {
	if cm.Additional == nil {
		cm.Additional = make(map[string]string)
	}
	cm.Additional[key] = value
}

// SetRequestID sets the request ID
func (cm *ClientMetadata) SetRequestID(requestID string) {
	cm.RequestID = requestID
}

func (cm *ClientMetadata) receivedAt() time.Time {
	if cm == nil || cm.ReceivedAt.IsZero() {
		return utils.UTCNow()
	}
	return cm.ReceivedAt
}

// ToTrackedMessageDTO converts a message row for API responses
func ToTrackedMessageDTO(m *models.TrackedMessage) dto.TrackedMessageDTO {
	out := dto.TrackedMessageDTO{
		TrackingID: m.ID,
		Recipient:  m.Recipient,
		Subject:    m.Subject,
		Status:     m.Status.String(),
		Source:     m.Source,
		Tracked:    m.Tracked,
		OpenCount:  m.OpenCount,
		HeatScore:  m.HeatScore,
		CreatedAt:  m.CreatedAt.UTC().Format(time.RFC3339),
	}
	if m.OpenedAt != nil {
		out.OpenedAt = utils.ToPtr(m.OpenedAt.UTC().Format(time.RFC3339))
	}
	if m.ScheduledAt != nil {
		out.ScheduledAt = utils.ToPtr(m.ScheduledAt.UTC().Format(time.RFC3339))
	}
	if m.SentAt != nil {
		out.SentAt = utils.ToPtr(m.SentAt.UTC().Format(time.RFC3339))
	}
	out.FailureReason = m.FailureReason
	return out
}

// ToSequenceDTO converts a sequence with its steps
func ToSequenceDTO(s *models.Sequence) dto.SequenceDTO {
	out := dto.SequenceDTO{
		ID:        s.ID,
		Name:      s.Name,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
		Steps:     make([]dto.SequenceStepDTO, 0, len(s.Steps)),
	}
	for _, st := range s.Steps {
		out.Steps = append(out.Steps, dto.SequenceStepDTO{
			Order:     st.StepOrder,
			DelayDays: st.DelayDays,
			Subject:   st.Subject,
			Body:      st.Body,
		})
	}
	return out
}

// ToEnrollmentDTO converts an enrollment row
func ToEnrollmentDTO(e *models.SequenceEnrollment) dto.EnrollmentDTO {
	out := dto.EnrollmentDTO{
		ID:          e.ID,
		SequenceID:  e.SequenceID,
		Recipient:   e.Recipient,
		Status:      string(e.Status),
		CurrentStep: e.CurrentStep,
		LastError:   e.LastError,
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
	}
	if e.NextStepDue != nil {
		out.NextStepDue = utils.ToPtr(e.NextStepDue.UTC().Format(time.RFC3339))
	}
	return out
}
