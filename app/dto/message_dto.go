package dto

import "time"

// SendMessageRequest represents a manual send from the dashboard or extension
type SendMessageRequest struct {
	OwnerID    uint       `json:"-"`
	Recipient  string     `json:"recipient" validate:"required,email,max=320"`
	Subject    string     `json:"subject" validate:"required,max=998"`
	Body       string     `json:"body" validate:"required"`
	Track      *bool      `json:"track,omitempty"`
	ScheduleAt *time.Time `json:"schedule_at,omitempty"`
	Source     string     `json:"source,omitempty" validate:"omitempty,oneof=manual extension"`
}

// SendMessageResponse is returned on accepted sends
type SendMessageResponse struct {
	TrackingID string  `json:"tracking_id,omitempty"`
	Status     string  `json:"status"`
	Scheduled  bool    `json:"scheduled"`
	ScheduleAt *string `json:"schedule_at,omitempty"`
}

// SendErrorDetails accompanies structured send rejections
type SendErrorDetails struct {
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	Category          string `json:"category,omitempty"`
}

// TrackedMessageDTO is a message row without its body
type TrackedMessageDTO struct {
	TrackingID    string  `json:"tracking_id"`
	Recipient     string  `json:"recipient"`
	Subject       string  `json:"subject"`
	Status        string  `json:"status"`
	Source        string  `json:"source"`
	Tracked       bool    `json:"tracked"`
	OpenCount     int64   `json:"open_count"`
	HeatScore     int64   `json:"heat_score"`
	ClickCount    int64   `json:"click_count"`
	OpenedAt      *string `json:"opened_at,omitempty"`
	ScheduledAt   *string `json:"scheduled_at,omitempty"`
	SentAt        *string `json:"sent_at,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// ListMessagesRequest filters the owner's messages
type ListMessagesRequest struct {
	OwnerID      uint       `json:"-"`
	Status       *string    `json:"status,omitempty" validate:"omitempty,oneof=pending sent failed"`
	Recipient    *string    `json:"recipient,omitempty"`
	MinHeatScore *int64     `json:"min_heat_score,omitempty"`
	Opened       *bool      `json:"opened,omitempty"`
	StartDate    *time.Time `json:"start_date,omitempty"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	Page         int        `json:"page"`
	PageSize     int        `json:"page_size"`
}

// PaginationInfo describes one page of a list
type PaginationInfo struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

type ListMessagesResponse struct {
	Items      []TrackedMessageDTO `json:"items"`
	Pagination PaginationInfo      `json:"pagination"`
}

type OpenEventDTO struct {
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Location  string `json:"location"`
	Device    string `json:"device"`
	IsProxy   bool   `json:"is_proxy"`
	At        string `json:"at"`
}

type ClickEventDTO struct {
	URL       string `json:"url"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent"`
	Location  string `json:"location"`
	IsProxy   bool   `json:"is_proxy"`
	At        string `json:"at"`
}

type TrackedLinkDTO struct {
	Code        string `json:"code"`
	OriginalURL string `json:"original_url"`
}

// MessageDetailResponse is one message with its engagement log
type MessageDetailResponse struct {
	Message TrackedMessageDTO `json:"message"`
	Links   []TrackedLinkDTO  `json:"links"`
	Opens   []OpenEventDTO    `json:"opens"`
	Clicks  []ClickEventDTO   `json:"clicks"`
}

// ScoreRequest asks for the heuristic spam and deliverability reports
type ScoreRequest struct {
	Subject     string `json:"subject" validate:"required"`
	Body        string `json:"body" validate:"required"`
	SenderEmail string `json:"sender_email,omitempty" validate:"omitempty,email"`
	HasSPF      bool   `json:"has_spf"`
	HasDKIM     bool   `json:"has_dkim"`
	HasDMARC    bool   `json:"has_dmarc"`
	UsesRelay   bool   `json:"uses_relay"`
}

type ScoreReportDTO struct {
	Score    int      `json:"score"`
	Rating   string   `json:"rating"`
	Findings []string `json:"findings"`
}

type ScoreResponse struct {
	Spam           ScoreReportDTO `json:"spam"`
	Deliverability ScoreReportDTO `json:"deliverability"`
}
