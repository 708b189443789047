// Package businessflow contains the core business logic and use cases for tracking, sending and sequences
package businessflow

import (
	"errors"
	"fmt"
)

// Public send error codes
const (
	CodeRateLimit     = "RATE_LIMIT"
	CodeLimitReached  = "LIMIT_REACHED"
	CodeUnsubscribed  = "UNSUBSCRIBED"
	CodeMissingConfig = "MISSING_CONFIG"
	CodeSendFailed    = "SEND_FAILED"
	CodeInvalidEmail  = "INVALID_EMAIL"
	CodeMissingFields = "MISSING_FIELDS"
)

// Business flow error constants
var (
	// Send gates
	ErrRateLimited            = errors.New("rate limit exceeded")
	ErrQuotaReached           = errors.New("monthly send limit reached")
	ErrRecipientUnsubscribed  = errors.New("recipient has unsubscribed")
	ErrTransportNotConfigured = errors.New("no mail transport configured")
	ErrSendFailed             = errors.New("send failed")
	ErrInvalidEmail           = errors.New("invalid email address")
	ErrMissingFields          = errors.New("missing required fields")

	// Lookups
	ErrOwnerNotFound      = errors.New("owner not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrSequenceNotFound   = errors.New("sequence not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrAccessDenied       = errors.New("access denied")

	// Sequences
	ErrSequenceNotActive      = errors.New("sequence is not active")
	ErrSequenceHasNoSteps     = errors.New("sequence has no steps")
	ErrInvalidSequenceStatus  = errors.New("invalid sequence status")
	ErrAlreadyEnrolled        = errors.New("recipient already enrolled")
	ErrEnrollmentNotActive    = errors.New("enrollment is not active")
	ErrInvalidUnsubscribeLink = errors.New("invalid unsubscribe link")

	// Filters
	ErrInvalidPage           = errors.New("page must be at least 1")
	ErrInvalidPageSize       = errors.New("page size must be between 1 and 100")
	ErrStartDateAfterEndDate = errors.New("start date cannot be after end date")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

// SendError is a structured rejection from the send pipeline.
// Code is one of the public send codes; Err wraps the matching sentinel.
type SendError struct {
	Code              string
	Message           string
	RetryAfterSeconds int
	Category          string
	Err               error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same send later
func (e *SendError) Retryable() bool {
	return e.Code == CodeRateLimit || (e.Code == CodeSendFailed && e.Category == "throttled")
}

func newSendError(code, message string, err error) *SendError {
	return &SendError{Code: code, Message: message, Err: err}
}

// AsSendError extracts a SendError from err
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// AsBusinessError extracts a BusinessError from err
func AsBusinessError(err error) (*BusinessError, bool) {
	var be *BusinessError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

func IsQuotaReached(err error) bool {
	return errors.Is(err, ErrQuotaReached)
}

func IsRecipientUnsubscribed(err error) bool {
	return errors.Is(err, ErrRecipientUnsubscribed)
}

func IsTransportNotConfigured(err error) bool {
	return errors.Is(err, ErrTransportNotConfigured)
}

func IsSendFailed(err error) bool {
	return errors.Is(err, ErrSendFailed)
}

func IsInvalidEmail(err error) bool {
	return errors.Is(err, ErrInvalidEmail)
}

func IsMissingFields(err error) bool {
	return errors.Is(err, ErrMissingFields)
}

func IsOwnerNotFound(err error) bool {
	return errors.Is(err, ErrOwnerNotFound)
}

func IsMessageNotFound(err error) bool {
	return errors.Is(err, ErrMessageNotFound)
}

func IsSequenceNotFound(err error) bool {
	return errors.Is(err, ErrSequenceNotFound)
}

func IsEnrollmentNotFound(err error) bool {
	return errors.Is(err, ErrEnrollmentNotFound)
}

func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

func IsSequenceNotActive(err error) bool {
	return errors.Is(err, ErrSequenceNotActive)
}

func IsSequenceHasNoSteps(err error) bool {
	return errors.Is(err, ErrSequenceHasNoSteps)
}

func IsInvalidSequenceStatus(err error) bool {
	return errors.Is(err, ErrInvalidSequenceStatus)
}

func IsAlreadyEnrolled(err error) bool {
	return errors.Is(err, ErrAlreadyEnrolled)
}

func IsEnrollmentNotActive(err error) bool {
	return errors.Is(err, ErrEnrollmentNotActive)
}

func IsInvalidUnsubscribeLink(err error) bool {
	return errors.Is(err, ErrInvalidUnsubscribeLink)
}

func IsInvalidPage(err error) bool {
	return errors.Is(err, ErrInvalidPage)
}

func IsInvalidPageSize(err error) bool {
	return errors.Is(err, ErrInvalidPageSize)
}

func IsStartDateAfterEndDate(err error) bool {
	return errors.Is(err, ErrStartDateAfterEndDate)
}
