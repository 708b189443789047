package dto

// SequenceStepRequest is one step of a new sequence; order follows the list position
type SequenceStepRequest struct {
	DelayDays int    `json:"delay_days" validate:"min=0,max=365"`
	Subject   string `json:"subject" validate:"required,max=998"`
	Body      string `json:"body" validate:"required"`
}

// CreateSequenceRequest represents the request to create a drip sequence
type CreateSequenceRequest struct {
	OwnerID uint                  `json:"-"`
	Name    string                `json:"name" validate:"required,max=255"`
	Steps   []SequenceStepRequest `json:"steps" validate:"required,min=1,max=50,dive"`
}

type UpdateSequenceStatusRequest struct {
	OwnerID    uint   `json:"-"`
	SequenceID uint   `json:"-"`
	Status     string `json:"status" validate:"required,oneof=active paused archived"`
}

// EnrollRequest enrolls recipients into a sequence
type EnrollRequest struct {
	OwnerID    uint     `json:"-"`
	SequenceID uint     `json:"-"`
	Recipients []string `json:"recipients" validate:"required,min=1,max=500,dive,email"`
}

type EnrollResponse struct {
	Enrolled []EnrollmentDTO  `json:"enrolled"`
	Skipped  []EnrollSkipInfo `json:"skipped,omitempty"`
}

type EnrollSkipInfo struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

type SequenceStepDTO struct {
	Order     int    `json:"order"`
	DelayDays int    `json:"delay_days"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

type SequenceDTO struct {
	ID        uint              `json:"id"`
	Name      string            `json:"name"`
	Status    string            `json:"status"`
	Steps     []SequenceStepDTO `json:"steps"`
	CreatedAt string            `json:"created_at"`
}

type EnrollmentDTO struct {
	ID          uint    `json:"id"`
	SequenceID  uint    `json:"sequence_id"`
	Recipient   string  `json:"recipient"`
	Status      string  `json:"status"`
	CurrentStep int     `json:"current_step"`
	NextStepDue *string `json:"next_step_due,omitempty"`
	LastError   *string `json:"last_error,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

type ListEnrollmentsResponse struct {
	Items      []EnrollmentDTO `json:"items"`
	Pagination PaginationInfo  `json:"pagination"`
}

// SweepResult summarises one sweep pass
type SweepResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Errored   int `json:"errored"`
	Skipped   int `json:"skipped"`
}
