package datastore

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisat/harvest-go/internal/conf"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = filepath.Join(t.TempDir(), "harvest.db")

	store := &SQLiteStore{Settings: settings}
	require.NoError(t, store.Open())
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func newQueueItem(tenantID, tileID string, landIDs []string) HarvestQueueItem {
	item := HarvestQueueItem{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		TileID:   tileID,
		Status:   StatusQueued,
	}
	_ = item.SetLands(landIDs)
	return item
}

func TestEnqueueAndFetchEligible(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	items := []HarvestQueueItem{
		newQueueItem("tenant-a", "43RGN", []string{"land-1", "land-2"}),
		newQueueItem("tenant-a", "43RHP", []string{"land-3"}),
	}
	require.NoError(t, store.EnqueueHarvestItems(ctx, items))

	eligible, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, eligible, 2)

	byID := make(map[string]HarvestQueueItem, len(eligible))
	for _, item := range eligible {
		byID[item.ID] = item
	}
	first := byID[items[0].ID]
	second := byID[items[1].ID]
	assert.Equal(t, []string{"land-1", "land-2"}, first.Lands())
	assert.Equal(t, []string{"land-3"}, second.Lands())
}

func TestEligibleQueueItemsRespectsBackoff(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	ready := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	backedOff := newQueueItem("tenant-a", "43RGN", []string{"land-2"})
	future := time.Now().Add(time.Hour)
	backedOff.NextRetryAt = &future
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{ready, backedOff}))

	eligible, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, ready.ID, eligible[0].ID)
}

func TestEligibleQueueItemsLimit(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	var items []HarvestQueueItem
	for i := 0; i < 5; i++ {
		items = append(items, newQueueItem("tenant-a", "43RGN", []string{"land"}))
	}
	require.NoError(t, store.EnqueueHarvestItems(ctx, items))

	eligible, err := store.EligibleQueueItems(ctx, 3, time.Now())
	require.NoError(t, err)
	assert.Len(t, eligible, 3)
}

func TestClaimQueueItemIsExclusive(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	claimed, err := store.ClaimQueueItem(ctx, item.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim on the same item must lose.
	claimed, err = store.ClaimQueueItem(ctx, item.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}

func TestConcurrentClaimsExactlyOneWinner(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	const claimers = 8
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(claimers)
	for i := 0; i < claimers; i++ {
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimQueueItem(ctx, item.ID, time.Now())
			assert.NoError(t, err)
			if claimed {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestQueueLifecycleCompleted(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1", "land-2"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	claimed, err := store.ClaimQueueItem(ctx, item.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.CompleteQueueItem(ctx, item.ID, 2, 1500*time.Millisecond))

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 2, got.ProcessedCount)
	assert.Equal(t, int64(1500), got.ProcessingDurationMs)
	assert.NotNil(t, got.CompletedAt)
}

func TestCompleteQueueItemRequiresProcessingState(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	err := store.CompleteQueueItem(ctx, item.ID, 1, time.Second)
	assert.Error(t, err)
}

func TestRequeueItemSetsBackoffAndError(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	claimed, err := store.ClaimQueueItem(ctx, item.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	nextRetry := time.Now().Add(2 * time.Second)
	require.NoError(t, store.RequeueItem(ctx, item.ID, "worker returned 502", 1, nextRetry, 300*time.Millisecond))

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "worker returned 502", got.LastError)
	require.NotNil(t, got.NextRetryAt)

	// Item must not be eligible before the backoff elapses.
	eligible, err := store.EligibleQueueItems(ctx, 10, time.Now())
	require.NoError(t, err)
	assert.Empty(t, eligible)

	eligible, err = store.EligibleQueueItems(ctx, 10, nextRetry.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, eligible, 1)
}

func TestFailQueueItem(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	item := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{item}))

	claimed, err := store.ClaimQueueItem(ctx, item.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, store.FailQueueItem(ctx, item.ID, "no observations persisted", 3, 200*time.Millisecond))

	got, err := store.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 3, got.RetryCount)
	assert.NotNil(t, got.CompletedAt)
}

func TestResetStuckItems(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	stuck := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	fresh := newQueueItem("tenant-a", "43RGN", []string{"land-2"})
	other := newQueueItem("tenant-b", "43RGN", []string{"land-3"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{stuck, fresh, other}))

	for _, id := range []string{stuck.ID, fresh.ID, other.ID} {
		claimed, err := store.ClaimQueueItem(ctx, id, time.Now())
		require.NoError(t, err)
		require.True(t, claimed)
	}

	// Backdate the stuck item's start time past the threshold.
	old := time.Now().Add(-30 * time.Minute)
	require.NoError(t, store.DB.Model(&HarvestQueueItem{}).
		Where("id = ?", stuck.ID).
		Update("started_at", old).Error)

	reset, err := store.ResetStuckItems(ctx, "tenant-a", time.Now().Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	got, err := store.GetQueueItem(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Nil(t, got.StartedAt)

	// The fresh claim and the other tenant's item are untouched.
	got, err = store.GetQueueItem(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)

	got, err = store.GetQueueItem(ctx, other.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, got.Status)
}

func TestPurgeFailedItems(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	old := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	recent := newQueueItem("tenant-a", "43RGN", []string{"land-2"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{old, recent}))

	for _, id := range []string{old.ID, recent.ID} {
		claimed, err := store.ClaimQueueItem(ctx, id, time.Now())
		require.NoError(t, err)
		require.True(t, claimed)
		require.NoError(t, store.FailQueueItem(ctx, id, "boom", 3, time.Second))
	}
	require.NoError(t, store.DB.Model(&HarvestQueueItem{}).
		Where("id = ?", old.ID).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	purged, err := store.PurgeFailedItems(ctx, "tenant-a", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.GetQueueItem(ctx, old.ID)
	assert.Error(t, err)

	got, err := store.GetQueueItem(ctx, recent.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
}

func TestQueueStatusCounts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	a := newQueueItem("tenant-a", "43RGN", []string{"land-1"})
	b := newQueueItem("tenant-a", "43RGN", []string{"land-2"})
	c := newQueueItem("tenant-a", "43RGN", []string{"land-3"})
	require.NoError(t, store.EnqueueHarvestItems(ctx, []HarvestQueueItem{a, b, c}))

	claimed, err := store.ClaimQueueItem(ctx, b.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	claimed, err = store.ClaimQueueItem(ctx, c.ID, time.Now())
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, store.CompleteQueueItem(ctx, c.ID, 1, time.Second))

	counts, err := store.QueueStatusCounts(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[StatusQueued])
	assert.Equal(t, int64(1), counts[StatusProcessing])
	assert.Equal(t, int64(1), counts[StatusCompleted])
	assert.Equal(t, int64(0), counts[StatusFailed])
}

func TestMarkParcelsProcessed(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	parcels := []LandParcel{
		{ID: uuid.New().String(), TenantID: "tenant-a", Name: "North field"},
		{ID: uuid.New().String(), TenantID: "tenant-a", Name: "South field"},
	}
	require.NoError(t, store.DB.Create(&parcels).Error)

	now := time.Now()
	require.NoError(t, store.MarkParcelsProcessed(ctx, "tenant-a", []string{parcels[0].ID}, now))

	got, err := store.GetLandParcelsByID(ctx, "tenant-a", []string{parcels[0].ID, parcels[1].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, parcel := range got {
		if parcel.ID == parcels[0].ID {
			assert.True(t, parcel.Tested)
			assert.NotNil(t, parcel.LastProcessedAt)
		} else {
			assert.False(t, parcel.Tested)
			assert.Nil(t, parcel.LastProcessedAt)
		}
	}
}

func TestQuotaConsumeAtomicIncrement(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	quota := &HarvestQuota{TenantID: "tenant-a", Plan: "growth", Limit: 200}
	require.NoError(t, store.UpsertQuota(ctx, quota))

	const consumers = 10
	var wg sync.WaitGroup
	wg.Add(consumers)
	for i := 0; i < consumers; i++ {
		go func() {
			defer wg.Done()
			assert.NoError(t, store.ConsumeQuota(ctx, "tenant-a", 1))
		}()
	}
	wg.Wait()

	got, err := store.GetQuota(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, consumers, got.Used)
}

func TestConsumeQuotaWithoutRow(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)

	err := store.ConsumeQuota(context.Background(), "missing-tenant", 1)
	assert.Error(t, err)
}

func TestUpsertQuotaUpdatesExisting(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertQuota(ctx, &HarvestQuota{TenantID: "tenant-a", Plan: "basic", Limit: 50}))
	require.NoError(t, store.UpsertQuota(ctx, &HarvestQuota{TenantID: "tenant-a", Plan: "enterprise", Limit: 500}))

	got, err := store.GetQuota(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "enterprise", got.Plan)
	assert.Equal(t, 500, got.Limit)
}

func TestObservationCounts(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	observations := []VegetationObservation{
		{TenantID: "tenant-a", LandID: "land-1", Date: "2026-08-29", NDVIValue: 0.71},
		{TenantID: "tenant-a", LandID: "land-2", Date: "2026-08-29", NDVIValue: 0.64},
		{TenantID: "tenant-b", LandID: "land-9", Date: "2026-08-29", NDVIValue: 0.55},
	}
	require.NoError(t, store.SaveObservations(ctx, observations))

	total, err := store.CountObservations(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)

	covered, err := store.CountObservationsForLands(ctx, "tenant-a", []string{"land-1", "land-3"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), covered)

	covered, err = store.CountObservationsForLands(ctx, "tenant-a", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), covered)
}

func TestJobsLifecycle(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	jobs := []SystemJob{
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: "land_clip", TargetType: "tile", TargetID: "43RGN", Status: JobStatusFailed, ErrorMessage: "clip timeout"},
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: "land_clip", TargetType: "tile", TargetID: "43RHP", Status: JobStatusPending},
		{ID: uuid.New().String(), TenantID: "tenant-a", JobType: "harvest", TargetType: "queue", TargetID: "q-1", Status: JobStatusFailed},
	}
	require.NoError(t, store.InsertJobs(ctx, jobs))

	counts, err := store.JobStatusCounts(ctx, "tenant-a", "land_clip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[JobStatusFailed])
	assert.Equal(t, int64(1), counts[JobStatusPending])

	reset, err := store.ResetFailedJobs(ctx, "tenant-a", "land_clip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), reset)

	got, err := store.GetJobs(ctx, "tenant-a", "land_clip", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, job := range got {
		assert.Equal(t, JobStatusPending, job.Status)
		assert.Empty(t, job.ErrorMessage)
	}

	// The harvest-type failure is untouched by the scoped reset.
	counts, err = store.JobStatusCounts(ctx, "tenant-a", "harvest")
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[JobStatusFailed])
}

func TestGetLatestTile(t *testing.T) {
	t.Parallel()
	store := newTestStore(t)
	ctx := context.Background()

	tiles := []SatelliteTile{
		{TenantID: "tenant-a", TileID: "43RGN", AcquisitionDate: "2026-08-20", CloudCover: 12.5, Status: "ready"},
		{TenantID: "tenant-a", TileID: "43RGN", AcquisitionDate: "2026-08-27", CloudCover: 3.1, Status: "ready"},
	}
	require.NoError(t, store.DB.Create(&tiles).Error)

	latest, err := store.GetLatestTile(ctx, "tenant-a", "43RGN")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "2026-08-27", latest.AcquisitionDate)

	missing, err := store.GetLatestTile(ctx, "tenant-a", "43RJP")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
