package businessflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/badoux/checkmail"
	"github.com/google/uuid"
	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

// SendRequest is one outbound message
type SendRequest struct {
	OwnerID    uint
	Recipient  string
	Subject    string
	Body       string
	Track      bool
	ScheduleAt *time.Time
	Source     string
	// IdempotencyKey is forwarded to the transport when set
	IdempotencyKey string
}

// SendResult describes an accepted send
type SendResult struct {
	TrackingID string
	Status     models.MessageStatus
	Scheduled  bool
	ScheduleAt *time.Time
}

// SendFlow runs the gated send pipeline
type SendFlow interface {
	Send(ctx context.Context, req *SendRequest) (*SendResult, error)
	// Deliver dispatches a stored message as is; the caller owns its status.
	// Its quota was claimed when the send was accepted.
	Deliver(ctx context.Context, msg *models.TrackedMessage) error
}

// TextRenderer derives the text/plain alternative
type TextRenderer interface {
	Render(body string) string
}

// SendConfig holds the send pipeline limits
type SendConfig struct {
	FreeMonthlyLimit int64
	ShortCodeLength  int
	Now              func() time.Time
}

type SendFlowImpl struct {
	ownerRepo    repository.OwnerRepository
	messageRepo  repository.TrackedMessageRepository
	linkRepo     repository.TrackedLinkRepository
	unsubRepo    repository.UnsubscribeRepository
	tx           repository.TxRunner
	limiter      services.RateLimiter
	router       services.MailRouter
	renderer     TextRenderer
	tokens       services.TokenService
	instrumenter *Instrumenter
	cfg          SendConfig
}

func NewSendFlow(
	ownerRepo repository.OwnerRepository,
	messageRepo repository.TrackedMessageRepository,
	linkRepo repository.TrackedLinkRepository,
	unsubRepo repository.UnsubscribeRepository,
	tx repository.TxRunner,
	limiter services.RateLimiter,
	router services.MailRouter,
	renderer TextRenderer,
	tokens services.TokenService,
	instrumenter *Instrumenter,
	cfg SendConfig,
) SendFlow {
	if cfg.Now == nil {
		cfg.Now = utils.UTCNow
	}
	if cfg.ShortCodeLength <= 0 {
		cfg.ShortCodeLength = ShortCodeLength
	}
	return &SendFlowImpl{
		ownerRepo:    ownerRepo,
		messageRepo:  messageRepo,
		linkRepo:     linkRepo,
		unsubRepo:    unsubRepo,
		tx:           tx,
		limiter:      limiter,
		router:       router,
		renderer:     renderer,
		tokens:       tokens,
		instrumenter: instrumenter,
		cfg:          cfg,
	}
}

func (f *SendFlowImpl) Send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	res, err := f.send(ctx, req)
	if se, ok := AsSendError(err); ok {
		services.ObserveSend(se.Code)
	} else if err == nil {
		services.ObserveSend("OK")
	}
	return res, err
}

func (f *SendFlowImpl) send(ctx context.Context, req *SendRequest) (*SendResult, error) {
	if err := f.validate(req); err != nil {
		return nil, err
	}
	recipient := utils.NormalizeEmail(req.Recipient)
	now := f.cfg.Now()

	owner, err := f.ownerRepo.ByID(ctx, req.OwnerID)
	if err != nil {
		return nil, NewBusinessError("OWNER_LOOKUP_FAILED", "Failed to lookup owner", err)
	}
	if owner == nil {
		return nil, NewBusinessError("OWNER_NOT_FOUND", "Owner not found", ErrOwnerNotFound)
	}

	// (1) rate
	if ok, retry := f.limiter.Allow(ctx, rateKey(owner.ID)); !ok {
		se := newSendError(CodeRateLimit, "Too many sends, try again later", ErrRateLimited)
		se.RetryAfterSeconds = retryAfterSeconds(retry)
		return nil, se
	}

	// (2) monthly quota, claimed now and given back unless the send is accepted
	period := utils.MonthPeriod(now)
	if err := f.claimQuota(ctx, owner, period); err != nil {
		return nil, err
	}
	accepted := false
	defer func() {
		if !accepted {
			f.releaseQuota(context.WithoutCancel(ctx), owner.ID, period)
		}
	}()

	// (3) unsubscribe
	unsubscribed, err := f.unsubRepo.IsUnsubscribed(ctx, owner.ID, recipient)
	if err != nil {
		return nil, NewBusinessError("UNSUBSCRIBE_LOOKUP_FAILED", "Failed to check unsubscribe list", err)
	}
	if unsubscribed {
		return nil, newSendError(CodeUnsubscribed, "Recipient has unsubscribed", ErrRecipientUnsubscribed)
	}

	// (4) transport configuration
	transport, err := f.router.Route(owner)
	if err != nil {
		return nil, newSendError(CodeMissingConfig, "No mail transport configured", errors.Join(ErrTransportNotConfigured, err))
	}

	scheduled := req.ScheduleAt != nil && req.ScheduleAt.After(now)
	source := req.Source
	if source == "" {
		source = models.MessageSourceManual
	}

	body := req.Body
	var msg *models.TrackedMessage
	var links []*models.TrackedLink
	if req.Track || scheduled {
		msg = &models.TrackedMessage{
			ID:        uuid.New().String(),
			OwnerID:   owner.ID,
			Recipient: recipient,
			Subject:   req.Subject,
			Tracked:   req.Track,
			Source:    source,
		}
		if req.Track {
			if body, links, err = f.instrument(owner, msg.ID, recipient, body); err != nil {
				return nil, err
			}
		}
		msg.Body = body
		if scheduled {
			msg.Status = models.MessageStatusPending
			msg.ScheduledAt = utils.ToPtr(req.ScheduleAt.UTC())
		} else {
			msg.Status = models.MessageStatusSent
			msg.SentAt = utils.ToPtr(now)
		}
	}

	if msg != nil {
		if err := f.persist(ctx, msg, links); err != nil {
			return nil, err
		}
	}

	if scheduled {
		accepted = true
		return &SendResult{TrackingID: msg.ID, Status: models.MessageStatusPending, Scheduled: true, ScheduleAt: msg.ScheduledAt}, nil
	}

	if err := f.dispatch(ctx, transport, owner, recipient, req.Subject, body, req.IdempotencyKey); err != nil {
		if msg != nil {
			if markErr := f.messageRepo.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
				utils.LogError("mark_failed", markErr, map[string]any{"tracking_id": msg.ID})
			}
		}
		return nil, err
	}
	accepted = true

	out := &SendResult{Status: models.MessageStatusSent}
	if msg != nil {
		out.TrackingID = msg.ID
	}
	return out, nil
}

func (f *SendFlowImpl) Deliver(ctx context.Context, msg *models.TrackedMessage) error {
	owner, err := f.ownerRepo.ByID(ctx, msg.OwnerID)
	if err != nil {
		return NewBusinessError("OWNER_LOOKUP_FAILED", "Failed to lookup owner", err)
	}
	if owner == nil {
		return NewBusinessError("OWNER_NOT_FOUND", "Owner not found", ErrOwnerNotFound)
	}

	unsubscribed, err := f.unsubRepo.IsUnsubscribed(ctx, owner.ID, msg.Recipient)
	if err != nil {
		return NewBusinessError("UNSUBSCRIBE_LOOKUP_FAILED", "Failed to check unsubscribe list", err)
	}
	if unsubscribed {
		return newSendError(CodeUnsubscribed, "Recipient has unsubscribed", ErrRecipientUnsubscribed)
	}

	transport, err := f.router.Route(owner)
	if err != nil {
		return newSendError(CodeMissingConfig, "No mail transport configured", errors.Join(ErrTransportNotConfigured, err))
	}

	return f.dispatch(ctx, transport, owner, msg.Recipient, msg.Subject, msg.Body, "sched-"+msg.ID)
}

func (f *SendFlowImpl) validate(req *SendRequest) error {
	if req == nil || strings.TrimSpace(req.Recipient) == "" || strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Body) == "" {
		return newSendError(CodeMissingFields, "Recipient, subject and body are required", ErrMissingFields)
	}
	if err := checkmail.ValidateFormat(strings.TrimSpace(req.Recipient)); err != nil {
		return newSendError(CodeInvalidEmail, "Recipient address is not valid", errors.Join(ErrInvalidEmail, err))
	}
	return nil
}

// claimQuota counts the send against the owner's month in a single conditional update;
// premium owners are unlimited
func (f *SendFlowImpl) claimQuota(ctx context.Context, owner *models.Owner, period string) error {
	limit := f.cfg.FreeMonthlyLimit
	if owner.IsPremium {
		limit = 0
	}
	ok, err := f.ownerRepo.ClaimMonthlySend(ctx, owner.ID, period, limit)
	if err != nil {
		return NewBusinessError("QUOTA_CLAIM_FAILED", "Failed to update monthly quota", err)
	}
	if !ok {
		return newSendError(CodeLimitReached, fmt.Sprintf("Monthly limit of %d emails reached", f.cfg.FreeMonthlyLimit), ErrQuotaReached)
	}
	return nil
}

func (f *SendFlowImpl) releaseQuota(ctx context.Context, ownerID uint, period string) {
	if err := f.ownerRepo.ReleaseMonthlySend(ctx, ownerID, period); err != nil {
		utils.LogError("release_monthly_send", err, map[string]any{"owner_id": ownerID})
	}
}

// instrument rewrites links, adds the unsubscribe footer and the beacon.
// It returns the final body and the link rows to persist with the message.
func (f *SendFlowImpl) instrument(owner *models.Owner, trackingID, recipient, body string) (string, []*models.TrackedLink, error) {
	links := make([]*models.TrackedLink, 0)
	rewritten, err := f.instrumenter.RewriteLinks(body, func(original string) (string, error) {
		code, err := GenerateShortCode(f.cfg.ShortCodeLength)
		if err != nil {
			return "", err
		}
		links = append(links, &models.TrackedLink{Code: code, MessageID: trackingID, OriginalURL: original})
		return code, nil
	})
	if err != nil {
		return "", nil, NewBusinessError("INSTRUMENT_FAILED", "Failed to rewrite links", err)
	}

	token, err := f.tokens.GenerateUnsubscribeToken(owner.ID, recipient)
	if err != nil {
		return "", nil, NewBusinessError("INSTRUMENT_FAILED", "Failed to sign unsubscribe link", err)
	}
	rewritten = f.instrumenter.AppendFooter(rewritten, f.instrumenter.UnsubscribeURL(token))
	rewritten = f.instrumenter.InsertBeacon(rewritten, trackingID)
	return rewritten, links, nil
}

// persist writes the message and its links in one transaction
func (f *SendFlowImpl) persist(ctx context.Context, msg *models.TrackedMessage, links []*models.TrackedLink) error {
	err := f.tx.InTx(ctx, func(ctx context.Context) error {
		if err := f.messageRepo.Save(ctx, msg); err != nil {
			return err
		}
		if len(links) > 0 {
			if err := f.linkRepo.SaveBatch(ctx, links); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return NewBusinessError("MESSAGE_PERSIST_FAILED", "Failed to store tracked message", err)
	}
	return nil
}

func (f *SendFlowImpl) dispatch(ctx context.Context, transport services.MailTransport, owner *models.Owner, recipient, subject, body, idempotencyKey string) error {
	mail := &services.OutboundMail{
		FromName: displayName(owner),
		ReplyTo:  owner.Email,
		To:       recipient,
		Subject:  subject,
		HTML:     body,
	}
	if f.renderer != nil {
		mail.Text = f.renderer.Render(body)
	}
	if idempotencyKey != "" {
		mail.Headers = map[string]string{services.IdempotencyHeader: idempotencyKey}
	}

	if err := transport.Send(ctx, mail); err != nil {
		se := newSendError(CodeSendFailed, "Mail provider rejected the message", errors.Join(ErrSendFailed, err))
		se.Category = services.CategoryGeneric
		var te *services.TransportError
		if errors.As(err, &te) {
			se.Category = te.Category
		}
		return se
	}
	return nil
}

func displayName(owner *models.Owner) string {
	if name := strings.TrimSpace(owner.DisplayName); name != "" {
		return name
	}
	if at := strings.Index(owner.Email, "@"); at > 0 {
		return owner.Email[:at]
	}
	return owner.Email
}

func rateKey(ownerID uint) string {
	return "owner:" + strconv.FormatUint(uint64(ownerID), 10)
}

// retryAfterSeconds rounds up and never returns less than one second
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}
