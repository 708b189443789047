package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/jaecopzm/trakpilot/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	realUA  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 Version/17.4 Safari/605.1.15"
	proxyUA = "Mozilla/5.0 (Windows NT 5.1; rv:11.0) Gecko Firefox/11.0 (via ggpht.com GoogleImageProxy)"
)

type trackingFixture struct {
	store    *memStore
	flow     TrackingFlow
	hub      *fakePublisher
	webhooks *fakeWebhooks
	owner    *models.Owner
	msg      *models.TrackedMessage
}

func newTrackingFixture(t *testing.T) *trackingFixture {
	t.Helper()
	store := newMemStore()
	owner := store.addOwner(&models.Owner{Email: "owner@example.com", WebhookURL: utils.ToPtr("https://hooks.example.com/x")})
	msg := &models.TrackedMessage{
		ID:        "msg-1",
		OwnerID:   owner.ID,
		Recipient: "lead@example.com",
		Subject:   "Hello",
		Tracked:   true,
		Status:    models.MessageStatusSent,
	}
	require.NoError(t, fakeMessageRepo{store}.Save(context.Background(), msg))
	require.NoError(t, fakeLinkRepo{store}.Save(context.Background(), &models.TrackedLink{Code: "abc12345", MessageID: msg.ID, OriginalURL: "https://shop.example.com"}))

	hub := &fakePublisher{}
	webhooks := &fakeWebhooks{}
	flow := NewTrackingFlow(
		fakeMessageRepo{store}, fakeLinkRepo{store}, fakeOpenRepo{store}, fakeClickRepo{store}, fakeOwnerRepo{store},
		NewDefaultClassifier(), services.StaticGeoResolver("Lisbon, Lisbon, Portugal"),
		hub, webhooks, inlineTasks{}, nil, "https://landing.example.com",
	)
	return &trackingFixture{store: store, flow: flow, hub: hub, webhooks: webhooks, owner: owner, msg: msg}
}

func hit(ua, ip string, at time.Time) *ClientMetadata {
	md := NewClientMetadata(ip, ua)
	md.ReceivedAt = at
	return md
}

func TestRecordOpen_CountsAndHeat(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	hits := []string{realUA, proxyUA, proxyUA, realUA, realUA, proxyUA, realUA}
	for i, ua := range hits {
		require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(ua, "8.8.8.8", t0.Add(time.Duration(i)*time.Minute))))
	}

	msg := fx.store.message(fx.msg.ID)
	assert.Equal(t, int64(len(hits)), msg.OpenCount)
	assert.Equal(t, int64(5*4+1*3), msg.HeatScore)
	assert.Len(t, fx.store.opens, len(hits))
}

func TestRecordOpen_OpenedAtTracksLatestRealHit(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()
	t1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(realUA, "8.8.8.8", t1)))
	require.NotNil(t, fx.store.message(fx.msg.ID).OpenedAt)
	assert.Equal(t, t1, *fx.store.message(fx.msg.ID).OpenedAt)

	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(proxyUA, "8.8.8.8", t2)))
	assert.Equal(t, t1, *fx.store.message(fx.msg.ID).OpenedAt, "proxy hits never move opened_at")

	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(realUA, "8.8.8.8", t3)))
	assert.Equal(t, t3, *fx.store.message(fx.msg.ID).OpenedAt, "a later real hit moves opened_at forward")
}

func TestRecordOpen_OutOfOrderHitsKeepLatest(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()
	later := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)

	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(realUA, "8.8.8.8", later)))
	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(realUA, "8.8.8.8", earlier)))

	msg := fx.store.message(fx.msg.ID)
	require.NotNil(t, msg.OpenedAt)
	assert.Equal(t, later, *msg.OpenedAt)
	assert.Equal(t, int64(2), msg.OpenCount)
}

func TestRecordOpen_ProxyOnlyLeavesOpenedAtNil(t *testing.T) {
	fx := newTrackingFixture(t)
	require.NoError(t, fx.flow.RecordOpen(context.Background(), fx.msg.ID, hit(proxyUA, "8.8.8.8", time.Now())))

	msg := fx.store.message(fx.msg.ID)
	assert.Nil(t, msg.OpenedAt)
	assert.Equal(t, int64(1), msg.OpenCount)
	assert.Equal(t, OpenHeatProxy, msg.HeatScore)
}

func TestRecordOpen_UnknownOrMissingIDIsNoop(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()

	assert.NoError(t, fx.flow.RecordOpen(ctx, "", hit(realUA, "8.8.8.8", time.Now())))
	assert.NoError(t, fx.flow.RecordOpen(ctx, "does-not-exist", hit(realUA, "8.8.8.8", time.Now())))

	assert.Empty(t, fx.store.opens)
	assert.Empty(t, fx.hub.events)
	assert.Empty(t, fx.webhooks.posts)
}

func TestRecordOpen_LocationAndNotification(t *testing.T) {
	tests := []struct {
		name     string
		ua       string
		ip       string
		location string
	}{
		{"real public ip is located", realUA, "8.8.8.8", "Lisbon, Lisbon, Portugal"},
		{"loopback is unknown", realUA, "127.0.0.1", utils.UnknownLocation},
		{"private is unknown", realUA, "10.1.2.3", utils.UnknownLocation},
		{"proxy is never located", proxyUA, "8.8.8.8", utils.UnknownLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newTrackingFixture(t)
			require.NoError(t, fx.flow.RecordOpen(context.Background(), fx.msg.ID, hit(tt.ua, tt.ip, time.Now())))

			require.Len(t, fx.store.opens, 1)
			assert.Equal(t, tt.location, fx.store.opens[0].Location)

			require.Len(t, fx.hub.events, 1)
			ev := fx.hub.events[0]
			assert.Equal(t, fx.owner.ID, fx.hub.owners[0])
			assert.Equal(t, services.EventEmailOpened, ev.Type)
			assert.Equal(t, fx.msg.ID, ev.TrackingID)
			assert.Equal(t, "lead@example.com", ev.Recipient)
			assert.Equal(t, tt.location, ev.Location)
			assert.Equal(t, []string{"https://hooks.example.com/x"}, fx.webhooks.posts)
		})
	}
}

func TestRecordOpen_SideEffectFailureStillCounts(t *testing.T) {
	fx := newTrackingFixture(t)
	fx.store.failOpenSave = errBoom

	err := fx.flow.RecordOpen(context.Background(), fx.msg.ID, hit(realUA, "8.8.8.8", time.Now()))
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)

	msg := fx.store.message(fx.msg.ID)
	assert.Equal(t, int64(1), msg.OpenCount, "the counter update is attempted even when the event insert fails")
	assert.Len(t, fx.hub.events, 1)
}

func TestRecordOpen_WebhookDroppedWhenPoolRefuses(t *testing.T) {
	store := newMemStore()
	owner := store.addOwner(&models.Owner{Email: "o@example.com", WebhookURL: utils.ToPtr("https://hooks.example.com")})
	require.NoError(t, fakeMessageRepo{store}.Save(context.Background(), &models.TrackedMessage{ID: "m", OwnerID: owner.ID, Status: models.MessageStatusSent}))
	webhooks := &fakeWebhooks{}
	flow := NewTrackingFlow(fakeMessageRepo{store}, fakeLinkRepo{store}, fakeOpenRepo{store}, fakeClickRepo{store}, fakeOwnerRepo{store},
		NewDefaultClassifier(), nil, nil, webhooks, inlineTasks{refuse: true}, nil, "https://landing.example.com")

	require.NoError(t, flow.RecordOpen(context.Background(), "m", hit(realUA, "8.8.8.8", time.Now())))
	assert.Empty(t, webhooks.posts)
	assert.Equal(t, int64(1), store.message("m").OpenCount)
}

func TestResolve(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()

	target, link := fx.flow.Resolve(ctx, "abc12345")
	assert.Equal(t, "https://shop.example.com", target)
	require.NotNil(t, link)
	assert.Equal(t, fx.msg.ID, link.MessageID)

	for _, code := range []string{"", "nope"} {
		target, link = fx.flow.Resolve(ctx, code)
		assert.Equal(t, "https://landing.example.com", target)
		assert.Nil(t, link)
	}
}

func TestRecordClick_Heat(t *testing.T) {
	fx := newTrackingFixture(t)
	ctx := context.Background()
	_, link := fx.flow.Resolve(ctx, "abc12345")
	require.NotNil(t, link)

	require.NoError(t, fx.flow.RecordClick(ctx, link, hit(realUA, "8.8.8.8", time.Now())))
	assert.Equal(t, ClickHeatReal, fx.store.message(fx.msg.ID).HeatScore)

	require.NoError(t, fx.flow.RecordClick(ctx, link, hit(proxyUA, "8.8.8.8", time.Now())))
	msg := fx.store.message(fx.msg.ID)
	assert.Equal(t, ClickHeatReal+ClickHeatProxy, msg.HeatScore)
	assert.Equal(t, int64(0), msg.OpenCount, "clicks do not count as opens")

	require.Len(t, fx.store.clicks, 2)
	assert.Equal(t, "https://shop.example.com", fx.store.clicks[0].URL)
	require.Len(t, fx.hub.events, 2)
	assert.Equal(t, services.EventLinkClicked, fx.hub.events[0].Type)
	assert.Equal(t, "https://shop.example.com", fx.hub.events[0].URL)
}

func TestRecordClick_LoggingFailureIsReturnedNotFatal(t *testing.T) {
	fx := newTrackingFixture(t)
	fx.store.failClickSave = errBoom
	_, link := fx.flow.Resolve(context.Background(), "abc12345")

	err := fx.flow.RecordClick(context.Background(), link, hit(realUA, "8.8.8.8", time.Now()))
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, ClickHeatReal, fx.store.message(fx.msg.ID).HeatScore)
	assert.NoError(t, fx.flow.RecordClick(context.Background(), nil, nil))
}
