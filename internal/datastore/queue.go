// queue.go: durable harvest request queue operations. The queue is the only
// shared mutable resource with concurrent writers, so every state transition
// here is a single conditional UPDATE, never a read-then-write.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// EnqueueHarvestItems inserts new queue items in a single transaction.
func (ds *DataStore) EnqueueHarvestItems(ctx context.Context, items []HarvestQueueItem) error {
	if len(items) == 0 {
		return nil
	}
	if err := ds.DB.WithContext(ctx).Create(&items).Error; err != nil {
		return fmt.Errorf("error enqueuing %d harvest items: %w", len(items), err)
	}
	return nil
}

// EligibleQueueItems returns up to limit queued items whose retry backoff has
// elapsed, oldest first. Ordering by creation time gives FIFO fairness
// across tenants.
func (ds *DataStore) EligibleQueueItems(ctx context.Context, limit int, now time.Time) ([]HarvestQueueItem, error) {
	var items []HarvestQueueItem
	err := ds.DB.WithContext(ctx).
		Where("status = ?", StatusQueued).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("error fetching eligible queue items: %w", err)
	}
	return items, nil
}

// ClaimQueueItem attempts to move an item from queued to processing. The
// status guard in the WHERE clause makes the claim atomic: of any number of
// concurrent claim attempts on the same item, exactly one sees RowsAffected
// equal to one.
func (ds *DataStore) ClaimQueueItem(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Where("id = ? AND status = ?", id, StatusQueued).
		Updates(map[string]any{
			"status":     StatusProcessing,
			"started_at": startedAt,
		})
	if result.Error != nil {
		return false, fmt.Errorf("error claiming queue item %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

// CompleteQueueItem marks a processing item as completed. Terminal state.
func (ds *DataStore) CompleteQueueItem(ctx context.Context, id string, processedCount int, duration time.Duration) error {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":                 StatusCompleted,
			"completed_at":           time.Now(),
			"processed_count":        processedCount,
			"processing_duration_ms": duration.Milliseconds(),
		})
	if result.Error != nil {
		return fmt.Errorf("error completing queue item %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue item %s was not in processing state", id)
	}
	return nil
}

// RequeueItem returns a failed dispatch to the queue with its retry
// accounting updated and the next attempt delayed by the backoff.
func (ds *DataStore) RequeueItem(ctx context.Context, id, lastError string, retryCount int, nextRetryAt time.Time, duration time.Duration) error {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":                 StatusQueued,
			"retry_count":            retryCount,
			"last_error":             lastError,
			"next_retry_at":          nextRetryAt,
			"processing_duration_ms": duration.Milliseconds(),
		})
	if result.Error != nil {
		return fmt.Errorf("error requeuing item %s: %w", id, result.Error)
	}
	return nil
}

// FailQueueItem marks an item as permanently failed after the retry budget
// is exhausted. Terminal state.
func (ds *DataStore) FailQueueItem(ctx context.Context, id, lastError string, retryCount int, duration time.Duration) error {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Where("id = ? AND status = ?", id, StatusProcessing).
		Updates(map[string]any{
			"status":                 StatusFailed,
			"retry_count":            retryCount,
			"last_error":             lastError,
			"completed_at":           time.Now(),
			"processing_duration_ms": duration.Milliseconds(),
		})
	if result.Error != nil {
		return fmt.Errorf("error failing queue item %s: %w", id, result.Error)
	}
	return nil
}

// ResetStuckItems returns processing items whose start time is older than
// the threshold back to queued. The claiming worker is assumed dead, so the
// retry count starts over.
func (ds *DataStore) ResetStuckItems(ctx context.Context, tenantID string, olderThan time.Time) (int64, error) {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Where("tenant_id = ? AND status = ? AND started_at < ?", tenantID, StatusProcessing, olderThan).
		Updates(map[string]any{
			"status":        StatusQueued,
			"retry_count":   0,
			"last_error":    "Reset from stuck processing state",
			"started_at":    nil,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("error resetting stuck items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PurgeFailedItems deletes failed items older than the retention window.
// Only failed items are ever physically deleted.
func (ds *DataStore) PurgeFailedItems(ctx context.Context, tenantID string, olderThan time.Time) (int64, error) {
	result := ds.DB.WithContext(ctx).
		Where("tenant_id = ? AND status = ? AND created_at < ?", tenantID, StatusFailed, olderThan).
		Delete(&HarvestQueueItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("error purging failed items: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// QueueStatusCounts returns the number of queue items per status for a tenant.
func (ds *DataStore) QueueStatusCounts(ctx context.Context, tenantID string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Select("status, COUNT(*) as count").
		Where("tenant_id = ?", tenantID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error counting queue statuses: %w", err)
	}

	counts := map[string]int64{
		StatusQueued:     0,
		StatusProcessing: 0,
		StatusCompleted:  0,
		StatusFailed:     0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// QueueTenants returns the distinct tenants with any queue items. The
// reaper loop uses it to know whom to sweep.
func (ds *DataStore) QueueTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := ds.DB.WithContext(ctx).
		Model(&HarvestQueueItem{}).
		Distinct("tenant_id").
		Pluck("tenant_id", &tenants).Error
	if err != nil {
		return nil, fmt.Errorf("error listing queue tenants: %w", err)
	}
	return tenants, nil
}

// GetQueueItems retrieves the most recent queue items for a tenant.
func (ds *DataStore) GetQueueItems(ctx context.Context, tenantID string, limit int) ([]HarvestQueueItem, error) {
	var items []HarvestQueueItem
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("error getting queue items: %w", err)
	}
	return items, nil
}

// GetQueueItem retrieves a single queue item by ID.
func (ds *DataStore) GetQueueItem(ctx context.Context, id string) (*HarvestQueueItem, error) {
	var item HarvestQueueItem
	err := ds.DB.WithContext(ctx).First(&item, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("queue item %s not found: %w", id, err)
		}
		return nil, fmt.Errorf("error getting queue item %s: %w", id, err)
	}
	return &item, nil
}
