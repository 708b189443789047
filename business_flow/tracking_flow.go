package businessflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/repository"
	"github.com/jaecopzm/trakpilot/utils"
)

// Heat weights per hit
const (
	OpenHeatReal   int64 = 5
	OpenHeatProxy  int64 = 1
	ClickHeatReal  int64 = 15
	ClickHeatProxy int64 = 1
)

// Publisher delivers push events to a live owner connection
type Publisher interface {
	Publish(ownerID uint, event any) bool
}

// TaskSubmitter queues detached work without blocking
type TaskSubmitter interface {
	TrySubmit(task services.BackgroundTask) bool
}

// TrackingFlow records beacon and link hits.
// Public flow, no authentication required. Callers never surface its errors
// to recipients; returned errors are only for logging.
type TrackingFlow interface {
	RecordOpen(ctx context.Context, messageID string, metadata *ClientMetadata) error
	// Resolve returns the redirect target; unknown codes resolve to the default landing page with a nil link
	Resolve(ctx context.Context, code string) (string, *models.TrackedLink)
	RecordClick(ctx context.Context, link *models.TrackedLink, metadata *ClientMetadata) error
}

type TrackingFlowImpl struct {
	messageRepo    repository.TrackedMessageRepository
	linkRepo       repository.TrackedLinkRepository
	openRepo       repository.OpenEventRepository
	clickRepo      repository.LinkClickEventRepository
	ownerRepo      repository.OwnerRepository
	classifier     *Classifier
	geo            services.GeoResolver
	hub            Publisher
	webhooks       services.WebhookDispatcher
	tasks          TaskSubmitter
	sink           services.EventSink
	defaultLanding string
}

func NewTrackingFlow(
	messageRepo repository.TrackedMessageRepository,
	linkRepo repository.TrackedLinkRepository,
	openRepo repository.OpenEventRepository,
	clickRepo repository.LinkClickEventRepository,
	ownerRepo repository.OwnerRepository,
	classifier *Classifier,
	geo services.GeoResolver,
	hub Publisher,
	webhooks services.WebhookDispatcher,
	tasks TaskSubmitter,
	sink services.EventSink,
	defaultLanding string,
) TrackingFlow {
	if sink == nil {
		sink = services.NoopEventSink{}
	}
	return &TrackingFlowImpl{
		messageRepo:    messageRepo,
		linkRepo:       linkRepo,
		openRepo:       openRepo,
		clickRepo:      clickRepo,
		ownerRepo:      ownerRepo,
		classifier:     classifier,
		geo:            geo,
		hub:            hub,
		webhooks:       webhooks,
		tasks:          tasks,
		sink:           sink,
		defaultLanding: defaultLanding,
	}
}

func (f *TrackingFlowImpl) RecordOpen(ctx context.Context, messageID string, metadata *ClientMetadata) error {
	if messageID == "" {
		return nil
	}
	if metadata == nil {
		metadata = NewClientMetadata("", "")
	}

	msg, err := f.messageRepo.ByID(ctx, messageID)
	if err != nil {
		return NewBusinessError("OPEN_LOOKUP_FAILED", "Failed to lookup tracked message", err)
	}
	if msg == nil {
		return nil
	}

	proxy := f.classifier.Classify(metadata.UserAgent) == TrafficProxy
	location := f.locate(ctx, proxy, metadata.IPAddress)
	device := utils.DeviceClass(metadata.UserAgent)
	at := metadata.receivedAt()
	services.ObserveHit("open", proxy)

	var errs []error
	event := &models.OpenEvent{
		MessageID: msg.ID,
		IP:        metadata.IPAddress,
		UserAgent: metadata.UserAgent,
		Location:  location,
		Device:    device,
		IsProxy:   proxy,
		CreatedAt: at,
	}
	if err := f.openRepo.Save(ctx, event); err != nil {
		errs = append(errs, fmt.Errorf("insert open event: %w", err))
	}

	heat := OpenHeatReal
	var openedAt = &at
	if proxy {
		heat = OpenHeatProxy
		openedAt = nil
	}
	if err := f.messageRepo.ApplyOpen(ctx, msg.ID, heat, openedAt); err != nil {
		errs = append(errs, fmt.Errorf("apply open: %w", err))
	}

	f.notify(ctx, msg, services.PushEvent{
		Type:       services.EventEmailOpened,
		TrackingID: msg.ID,
		Recipient:  msg.Recipient,
		Subject:    msg.Subject,
		IsProxy:    proxy,
		Location:   location,
		Device:     device,
		At:         at,
	})

	if len(errs) > 0 {
		return NewBusinessError("OPEN_TRACK_FAILED", "Failed to record open", errors.Join(errs...))
	}
	return nil
}

func (f *TrackingFlowImpl) Resolve(ctx context.Context, code string) (string, *models.TrackedLink) {
	if code == "" {
		return f.defaultLanding, nil
	}
	link, err := f.linkRepo.ByCode(ctx, code)
	if err != nil {
		utils.LogError("link_resolve", err, map[string]any{"code": code})
		return f.defaultLanding, nil
	}
	if link == nil || link.OriginalURL == "" {
		return f.defaultLanding, nil
	}
	return link.OriginalURL, link
}

func (f *TrackingFlowImpl) RecordClick(ctx context.Context, link *models.TrackedLink, metadata *ClientMetadata) error {
	if link == nil {
		return nil
	}
	if metadata == nil {
		metadata = NewClientMetadata("", "")
	}

	proxy := f.classifier.Classify(metadata.UserAgent) == TrafficProxy
	location := f.locate(ctx, proxy, metadata.IPAddress)
	at := metadata.receivedAt()
	services.ObserveHit("click", proxy)

	var errs []error
	event := &models.LinkClickEvent{
		MessageID: link.MessageID,
		LinkID:    link.ID,
		URL:       link.OriginalURL,
		IP:        metadata.IPAddress,
		UserAgent: metadata.UserAgent,
		Location:  location,
		IsProxy:   proxy,
		CreatedAt: at,
	}
	if err := f.clickRepo.Save(ctx, event); err != nil {
		errs = append(errs, fmt.Errorf("insert click event: %w", err))
	}

	heat := ClickHeatReal
	if proxy {
		heat = ClickHeatProxy
	}
	if err := f.messageRepo.AddHeat(ctx, link.MessageID, heat); err != nil {
		errs = append(errs, fmt.Errorf("add click heat: %w", err))
	}

	msg, err := f.messageRepo.ByID(ctx, link.MessageID)
	if err != nil {
		errs = append(errs, fmt.Errorf("lookup message: %w", err))
	}
	if msg != nil {
		f.notify(ctx, msg, services.PushEvent{
			Type:       services.EventLinkClicked,
			TrackingID: msg.ID,
			Recipient:  msg.Recipient,
			Subject:    msg.Subject,
			IsProxy:    proxy,
			Location:   location,
			URL:        link.OriginalURL,
			At:         at,
		})
	}

	if len(errs) > 0 {
		return NewBusinessError("CLICK_TRACK_FAILED", "Failed to record click", errors.Join(errs...))
	}
	return nil
}

// locate only resolves real hits; everything else is Unknown
func (f *TrackingFlowImpl) locate(ctx context.Context, proxy bool, ip string) string {
	if proxy || f.geo == nil || !utils.IsPublicIP(ip) {
		return utils.UnknownLocation
	}
	return f.geo.Locate(ctx, ip)
}

// notify pushes to the live dashboard, mirrors to the event sink and fires the owner webhook.
// All three are best effort.
func (f *TrackingFlowImpl) notify(ctx context.Context, msg *models.TrackedMessage, event services.PushEvent) {
	if f.hub != nil {
		f.hub.Publish(msg.OwnerID, event)
	}

	if err := f.sink.Emit(event.Type, struct {
		OwnerID uint `json:"owner_id"`
		services.PushEvent
	}{msg.OwnerID, event}); err != nil {
		utils.LogError("event_sink", err, map[string]any{"type": event.Type, "tracking_id": msg.ID})
	}

	if f.webhooks == nil || f.ownerRepo == nil {
		return
	}
	owner, err := f.ownerRepo.ByID(ctx, msg.OwnerID)
	if err != nil {
		utils.LogError("webhook_owner_lookup", err, map[string]any{"owner_id": msg.OwnerID})
		return
	}
	if owner == nil || owner.WebhookURL == nil || *owner.WebhookURL == "" {
		return
	}
	url := *owner.WebhookURL
	task := func(ctx context.Context) {
		if err := f.webhooks.Post(ctx, url, event); err != nil {
			utils.LogError("webhook_post", err, map[string]any{"owner_id": msg.OwnerID, "type": event.Type})
		}
	}
	if f.tasks == nil || !f.tasks.TrySubmit(task) {
		utils.LogEvent("webhook_dropped", map[string]any{"owner_id": msg.OwnerID, "type": event.Type})
	}
}
