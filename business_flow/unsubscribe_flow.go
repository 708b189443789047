package businessflow

import (
	"context"

	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

// UnsubscribeResult is what the confirmation page shows
type UnsubscribeResult struct {
	Email              string
	CancelledSequences int64
}

// UnsubscribeFlow turns a signed footer link into a durable opt-out
type UnsubscribeFlow interface {
	Unsubscribe(ctx context.Context, token string, metadata *ClientMetadata) (*UnsubscribeResult, error)
}

type UnsubscribeFlowImpl struct {
	tokens         services.TokenService
	unsubRepo      repository.UnsubscribeRepository
	enrollmentRepo repository.SequenceEnrollmentRepository
}

func NewUnsubscribeFlow(tokens services.TokenService, unsubRepo repository.UnsubscribeRepository, enrollmentRepo repository.SequenceEnrollmentRepository) UnsubscribeFlow {
	return &UnsubscribeFlowImpl{tokens: tokens, unsubRepo: unsubRepo, enrollmentRepo: enrollmentRepo}
}

// Unsubscribe is idempotent; repeating it for the same token records nothing new.
func (f *UnsubscribeFlowImpl) Unsubscribe(ctx context.Context, token string, metadata *ClientMetadata) (*UnsubscribeResult, error) {
	claims, err := f.tokens.ValidateUnsubscribeToken(token)
	if err != nil {
		return nil, NewBusinessError("INVALID_UNSUBSCRIBE_LINK", "Unsubscribe link is invalid or expired", ErrInvalidUnsubscribeLink)
	}

	entry := &models.Unsubscribe{
		OwnerID:   claims.OwnerID,
		Email:     claims.Email,
		Source:    "link",
		CreatedAt: metadata.receivedAt(),
	}
	if err := f.unsubRepo.Record(ctx, entry); err != nil {
		return nil, NewBusinessError("UNSUBSCRIBE_FAILED", "Failed to record unsubscribe", err)
	}

	cancelled, err := f.enrollmentRepo.CancelActiveForRecipient(ctx, claims.OwnerID, claims.Email, metadata.receivedAt())
	if err != nil {
		// the opt-out is stored; the sweep cancels remaining enrollments when their next send is rejected
		utils.LogError("unsubscribe_cancel_enrollments", err, map[string]any{"owner_id": claims.OwnerID})
	}

	utils.LogEvent("recipient_unsubscribed", map[string]any{
		"owner_id":  claims.OwnerID,
		"email":     utils.MaskEmail(claims.Email),
		"cancelled": cancelled,
	})
	return &UnsubscribeResult{Email: claims.Email, CancelledSequences: cancelled}, nil
}
