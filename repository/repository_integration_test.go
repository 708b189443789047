package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaecopzm/trakpilot/models"
	testutil "github.com/jaecopzm/trakpilot/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIntegration(t *testing.T) (*testutil.TestDB, *testutil.TestFixtures) {
	t.Helper()
	if !testutil.Enabled() {
		t.Skip("set TEST_DB_HOST to run Postgres integration tests")
	}
	tdb, err := testutil.SetupTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = tdb.TeardownTestDB() })
	return tdb, testutil.NewTestFixtures(tdb)
}

func TestTrackedMessageRepository_ConcurrentOpens(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	msg, err := fx.CreateTestMessage(owner.ID, "lead@example.com")
	require.NoError(t, err)

	repo := NewTrackedMessageRepository(tdb.DB)

	const hits = 40
	var wg sync.WaitGroup
	for i := range hits {
		wg.Go(func() {
			var openedAt *time.Time
			heat := int64(1)
			if i%2 == 0 {
				now := time.Now().UTC()
				openedAt = &now
				heat = 5
			}
			assert.NoError(t, repo.ApplyOpen(ctx, msg.ID, heat, openedAt))
		})
	}
	wg.Wait()

	got, err := repo.ByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(hits), got.OpenCount)
	assert.Equal(t, int64(hits/2*5+hits/2), got.HeatScore)
	assert.NotNil(t, got.OpenedAt)

	missing, err := repo.ByID(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestTrackedMessageRepository_OpenedAtNeverMovesBack(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	msg, err := fx.CreateTestMessage(owner.ID, "lead@example.com")
	require.NoError(t, err)
	repo := NewTrackedMessageRepository(tdb.DB)

	later := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	earlier := later.Add(-time.Minute)
	require.NoError(t, repo.ApplyOpen(ctx, msg.ID, 5, &later))
	require.NoError(t, repo.ApplyOpen(ctx, msg.ID, 5, &earlier))

	got, err := repo.ByID(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.OpenedAt)
	assert.True(t, later.Equal(*got.OpenedAt), "opened_at = %s", got.OpenedAt)
	assert.Equal(t, int64(2), got.OpenCount)
}

func TestTrackedMessageRepository_ClaimScheduledOnce(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	now := time.Now().UTC()
	due, err := fx.CreateTestScheduledMessage(owner.ID, "a@example.com", now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = fx.CreateTestScheduledMessage(owner.ID, "b@example.com", now.Add(time.Hour))
	require.NoError(t, err)

	repo := NewTrackedMessageRepository(tdb.DB)

	rows, err := repo.ListDueScheduled(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, due.ID, rows[0].ID)

	var claimed atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			ok, err := repo.ClaimScheduled(ctx, due.ID, now, now.Add(5*time.Minute))
			assert.NoError(t, err)
			if ok {
				claimed.Add(1)
			}
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), claimed.Load())

	rows, err = repo.ListDueScheduled(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "claimed rows are hidden until the lease expires")

	require.NoError(t, repo.MarkSent(ctx, due.ID, now))
	got, err := repo.ByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, got.Status)
	assert.Nil(t, got.ClaimedUntil)
}

func TestLinkClickEventRepository_CountByMessageIDs(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	m1, err := fx.CreateTestMessage(owner.ID, "a@example.com")
	require.NoError(t, err)
	m2, err := fx.CreateTestMessage(owner.ID, "b@example.com")
	require.NoError(t, err)

	l1, err := fx.CreateTestLink(m1.ID, "code0001", "https://example.com/1")
	require.NoError(t, err)
	l2, err := fx.CreateTestLink(m2.ID, "code0002", "https://example.com/2")
	require.NoError(t, err)
	require.NoError(t, fx.CreateTestClicks(l1, 3))
	require.NoError(t, fx.CreateTestClicks(l2, 1))

	repo := NewLinkClickEventRepository(tdb.DB)
	counts, err := repo.CountByMessageIDs(ctx, []string{m1.ID, m2.ID, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{m1.ID: 3, m2.ID: 1}, counts)

	links := NewTrackedLinkRepository(tdb.DB)
	got, err := links.ByCode(ctx, "code0002")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://example.com/2", got.OriginalURL)
}

func TestOwnerRepository_MonthlyQuota(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	repo := NewOwnerRepository(tdb.DB)
	period := owner.QuotaPeriod

	for range 2 {
		ok, err := repo.ClaimMonthlySend(ctx, owner.ID, period, 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := repo.ClaimMonthlySend(ctx, owner.ID, period, 2)
	require.NoError(t, err)
	assert.False(t, ok, "the limit refuses a third send")

	require.NoError(t, repo.ReleaseMonthlySend(ctx, owner.ID, period))
	got, err := repo.ByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MonthlySendCount)

	// a new period restarts the counter at one
	ok, err = repo.ClaimMonthlySend(ctx, owner.ID, "2099-01", 2)
	require.NoError(t, err)
	assert.True(t, ok)
	got, err = repo.ByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MonthlySendCount)
	assert.Equal(t, "2099-01", got.QuotaPeriod)

	// a release for a stale period leaves the new one alone
	require.NoError(t, repo.ReleaseMonthlySend(ctx, owner.ID, period))
	got, err = repo.ByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.MonthlySendCount)
}

func TestOwnerRepository_ConcurrentClaimsRespectLimit(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	repo := NewOwnerRepository(tdb.DB)

	const limit = 3
	var wg sync.WaitGroup
	var claimed atomic.Int32
	for range 10 {
		wg.Go(func() {
			ok, err := repo.ClaimMonthlySend(ctx, owner.ID, owner.QuotaPeriod, limit)
			assert.NoError(t, err)
			if ok {
				claimed.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, int32(limit), claimed.Load())
	got, err := repo.ByID(ctx, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(limit), got.MonthlySendCount)
}

func TestSequenceEnrollmentRepository_DueAndTransitions(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	seq, err := fx.CreateTestSequence(owner.ID, 0, 2)
	require.NoError(t, err)

	now := time.Now().UTC()
	enrollment, err := fx.CreateTestEnrollment(seq, "lead@example.com", now.Add(-time.Minute))
	require.NoError(t, err)

	repo := NewSequenceEnrollmentRepository(tdb.DB)
	due, err := repo.ListDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Step.StepOrder)

	ok, err := repo.Claim(ctx, enrollment.ID, 0, now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Claim(ctx, enrollment.ID, 0, now, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "lease held")

	ok, err = repo.Advance(ctx, enrollment.ID, 0, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Advance(ctx, enrollment.ID, 0, now.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "stale step")

	ok, err = repo.Complete(ctx, enrollment.ID, 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	cancelled, err := repo.CancelActiveForRecipient(ctx, owner.ID, "lead@example.com", now)
	require.NoError(t, err)
	assert.Zero(t, cancelled, "completed enrollments stay completed")
}

func TestUnsubscribeRepository_RecordIsIdempotent(t *testing.T) {
	tdb, fx := setupIntegration(t)
	ctx := context.Background()

	owner, err := fx.CreateTestOwner()
	require.NoError(t, err)
	repo := NewUnsubscribeRepository(tdb.DB)

	for range 2 {
		require.NoError(t, repo.Record(ctx, &models.Unsubscribe{OwnerID: owner.ID, Email: "lead@example.com", Source: "link"}))
	}

	ok, err := repo.IsUnsubscribed(ctx, owner.ID, "lead@example.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.IsUnsubscribed(ctx, owner.ID+1, "lead@example.com")
	require.NoError(t, err)
	assert.False(t, ok)
}
