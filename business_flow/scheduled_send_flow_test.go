package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/jaecopzm/trakpilot/app/services"
	"github.com/jaecopzm/trakpilot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// racingMessageRepo lets another sweep claim every listed row before this one does
type racingMessageRepo struct {
	fakeMessageRepo
}

func (r racingMessageRepo) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]*models.TrackedMessage, error) {
	rows, err := r.fakeMessageRepo.ListDueScheduled(ctx, now, limit)
	for _, m := range rows {
		_, _ = r.fakeMessageRepo.ClaimScheduled(ctx, m.ID, now, now.Add(time.Minute))
	}
	return rows, err
}

type failingListRepo struct {
	fakeMessageRepo
}

func (failingListRepo) ListDueScheduled(context.Context, time.Time, int) ([]*models.TrackedMessage, error) {
	return nil, errBoom
}

func scheduleN(t *testing.T, fx *sendFixture, n int, at time.Time, recipient string) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for range n {
		req := fx.request(true)
		req.Recipient = recipient
		req.ScheduleAt = &at
		res, err := fx.flow.Send(context.Background(), req)
		require.NoError(t, err)
		require.True(t, res.Scheduled)
		ids = append(ids, res.TrackingID)
	}
	return ids
}

func TestScheduledSweep_DeliversDueMessages(t *testing.T) {
	fx := newSendFixture(t, nil)
	ids := scheduleN(t, fx, 3, fx.clock.Now().Add(time.Hour), "lead@example.com")
	sweep := NewScheduledSendFlow(fakeMessageRepo{fx.store}, fx.flow, SweepConfig{Now: fx.clock.Now})
	ctx := context.Background()

	res, err := sweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found, "nothing is due yet")

	fx.clock.Advance(2 * time.Hour)
	res, err = sweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 3, res.Processed)
	assert.Equal(t, 0, res.Errored)
	assert.Equal(t, 3, fx.transport.count())

	for _, id := range ids {
		msg := fx.store.message(id)
		assert.Equal(t, models.MessageStatusSent, msg.Status)
		require.NotNil(t, msg.SentAt)
		assert.Nil(t, msg.ClaimedUntil)
	}
	keys := make([]string, 0, len(ids))
	for _, mail := range fx.transport.sent {
		keys = append(keys, mail.Headers[services.IdempotencyHeader])
	}
	want := make([]string, 0, len(ids))
	for _, id := range ids {
		want = append(want, "sched-"+id)
	}
	assert.ElementsMatch(t, want, keys)
	assert.Contains(t, fx.transport.last().HTML, "/track?id=")

	owner, _ := fakeOwnerRepo{fx.store}.ByID(ctx, fx.owner.ID)
	assert.Equal(t, int64(3), owner.MonthlySendCount)

	res, err = sweep.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Found, "sent messages are never picked up again")
}

func TestScheduledSweep_FailureIsolatedPerMessage(t *testing.T) {
	fx := newSendFixture(t, nil)
	at := fx.clock.Now().Add(time.Minute)
	good := scheduleN(t, fx, 2, at, "lead@example.com")
	bad := scheduleN(t, fx, 1, at.Add(time.Second), "gone@example.com")
	require.NoError(t, fakeUnsubRepo{fx.store}.Record(context.Background(), &models.Unsubscribe{OwnerID: fx.owner.ID, Email: "gone@example.com"}))

	fx.clock.Advance(time.Hour)
	res, err := NewScheduledSendFlow(fakeMessageRepo{fx.store}, fx.flow, SweepConfig{Now: fx.clock.Now}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Found)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Errored)

	for _, id := range good {
		assert.Equal(t, models.MessageStatusSent, fx.store.message(id).Status)
	}
	failed := fx.store.message(bad[0])
	assert.Equal(t, models.MessageStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)
	assert.Contains(t, *failed.FailureReason, CodeUnsubscribed)
}

func TestScheduledSweep_BatchBound(t *testing.T) {
	fx := newSendFixture(t, nil)
	scheduleN(t, fx, DefaultScheduledBatch+2, fx.clock.Now().Add(time.Minute), "lead@example.com")
	fx.clock.Advance(time.Hour)
	sweep := NewScheduledSendFlow(fakeMessageRepo{fx.store}, fx.flow, SweepConfig{Now: fx.clock.Now})

	res, err := sweep.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultScheduledBatch, res.Found)
	assert.Equal(t, DefaultScheduledBatch, res.Processed)

	res, err = sweep.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)
}

func TestScheduledSweep_LostClaimIsSkipped(t *testing.T) {
	fx := newSendFixture(t, nil)
	ids := scheduleN(t, fx, 2, fx.clock.Now().Add(time.Minute), "lead@example.com")
	fx.clock.Advance(time.Hour)

	res, err := NewScheduledSendFlow(racingMessageRepo{fakeMessageRepo{fx.store}}, fx.flow, SweepConfig{Now: fx.clock.Now}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Found)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 0, res.Processed)
	assert.Equal(t, 0, fx.transport.count())
	assert.Equal(t, models.MessageStatusPending, fx.store.message(ids[0]).Status)
}

func TestScheduledSweep_ListFailureAbortsJob(t *testing.T) {
	fx := newSendFixture(t, nil)
	_, err := NewScheduledSendFlow(failingListRepo{fakeMessageRepo{fx.store}}, fx.flow, SweepConfig{}).Sweep(context.Background())
	assert.ErrorIs(t, err, errBoom)
}
