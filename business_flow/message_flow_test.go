package businessflow

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jaecopzm/trakpilot/app/dto"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func seedEngagement(t *testing.T) (*trackingFixture, MessageFlow) {
	t.Helper()
	fx := newTrackingFixture(t)
	ctx := context.Background()
	s := fx.store

	other := &models.TrackedMessage{ID: "msg-2", OwnerID: fx.owner.ID, Recipient: "b@example.com", Subject: "Other", Tracked: true, Status: models.MessageStatusSent, CreatedAt: time.Now().Add(time.Hour)}
	require.NoError(t, fakeMessageRepo{s}.Save(ctx, other))
	foreign := &models.TrackedMessage{ID: "msg-x", OwnerID: fx.owner.ID + 50, Recipient: "c@example.com", Subject: "Foreign", Tracked: true, Status: models.MessageStatusSent}
	require.NoError(t, fakeMessageRepo{s}.Save(ctx, foreign))

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, fx.flow.RecordOpen(ctx, fx.msg.ID, hit(realUA, "8.8.8.8", at)))
	_, link := fx.flow.Resolve(ctx, "abc12345")
	require.NoError(t, fx.flow.RecordClick(ctx, link, hit(realUA, "8.8.8.8", at.Add(time.Minute))))
	require.NoError(t, fx.flow.RecordClick(ctx, link, hit(proxyUA, "8.8.8.8", at.Add(2*time.Minute))))

	return fx, NewMessageFlow(fakeMessageRepo{s}, fakeLinkRepo{s}, fakeOpenRepo{s}, fakeClickRepo{s})
}

func TestMessageFlow_ListMessages(t *testing.T) {
	fx, flow := seedEngagement(t)
	ctx := context.Background()

	res, err := flow.ListMessages(ctx, &dto.ListMessagesRequest{OwnerID: fx.owner.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Pagination.Total)
	assert.Equal(t, defaultPageSize, res.Pagination.PageSize)
	require.Len(t, res.Items, 2)

	byID := map[string]dto.TrackedMessageDTO{}
	for _, it := range res.Items {
		byID[it.TrackingID] = it
	}
	assert.Equal(t, int64(2), byID["msg-1"].ClickCount)
	assert.Equal(t, int64(1), byID["msg-1"].OpenCount)
	assert.Equal(t, OpenHeatReal+ClickHeatReal+ClickHeatProxy, byID["msg-1"].HeatScore)
	assert.NotNil(t, byID["msg-1"].OpenedAt)
	assert.Equal(t, int64(0), byID["msg-2"].ClickCount)

	opened := true
	res, err = flow.ListMessages(ctx, &dto.ListMessagesRequest{OwnerID: fx.owner.ID, Opened: &opened, PageSize: 500})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "msg-1", res.Items[0].TrackingID)
	assert.Equal(t, maxPageSize, res.Pagination.PageSize)
}

func TestMessageFlow_ListRejectsInvertedRange(t *testing.T) {
	fx, flow := seedEngagement(t)
	start := time.Now()
	end := start.Add(-time.Hour)
	_, err := flow.ListMessages(context.Background(), &dto.ListMessagesRequest{OwnerID: fx.owner.ID, StartDate: &start, EndDate: &end})
	assert.True(t, IsStartDateAfterEndDate(err))
}

func TestMessageFlow_GetMessage(t *testing.T) {
	fx, flow := seedEngagement(t)
	ctx := context.Background()

	res, err := flow.GetMessage(ctx, fx.owner.ID, "msg-1")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", res.Message.TrackingID)
	assert.Equal(t, int64(2), res.Message.ClickCount)
	require.Len(t, res.Links, 1)
	assert.Equal(t, "abc12345", res.Links[0].Code)
	require.Len(t, res.Opens, 1)
	assert.False(t, res.Opens[0].IsProxy)
	require.Len(t, res.Clicks, 2)
	assert.True(t, res.Clicks[0].IsProxy, "newest first")

	_, err = flow.GetMessage(ctx, fx.owner.ID, "msg-x")
	assert.True(t, IsMessageNotFound(err), "other owners' messages look missing")
	_, err = flow.GetMessage(ctx, fx.owner.ID, "missing")
	assert.True(t, IsMessageNotFound(err))
}

func TestMessageFlow_ExportMessages(t *testing.T) {
	fx, flow := seedEngagement(t)

	name, data, err := flow.ExportMessages(context.Background(), &dto.ListMessagesRequest{OwnerID: fx.owner.ID})
	require.NoError(t, err)
	assert.Contains(t, name, ".xlsx")

	xl, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = xl.Close() }()

	messages, err := xl.GetRows("messages")
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "tracking_id", messages[0][0])

	events, err := xl.GetRows("events")
	require.NoError(t, err)
	assert.Len(t, events, 1+1+2, "header, one open, two clicks")
}
