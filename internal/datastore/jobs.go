package datastore

import (
	"context"
	"fmt"
)

// InsertJobs creates system job rows in a single batch.
func (ds *DataStore) InsertJobs(ctx context.Context, jobs []SystemJob) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := ds.DB.WithContext(ctx).Create(&jobs).Error; err != nil {
		return fmt.Errorf("error inserting %d jobs: %w", len(jobs), err)
	}
	return nil
}

// GetJobs returns the newest jobs of a type for a tenant.
func (ds *DataStore) GetJobs(ctx context.Context, tenantID, jobType string, limit int) ([]SystemJob, error) {
	var jobs []SystemJob
	query := ds.DB.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("error getting jobs: %w", err)
	}
	return jobs, nil
}

// ResetFailedJobs returns failed jobs of a type to pending so a later run
// picks them up again. The error message is cleared.
func (ds *DataStore) ResetFailedJobs(ctx context.Context, tenantID, jobType string) (int64, error) {
	query := ds.DB.WithContext(ctx).
		Model(&SystemJob{}).
		Where("tenant_id = ? AND status = ?", tenantID, JobStatusFailed)
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	result := query.Updates(map[string]any{
		"status":        JobStatusPending,
		"error_message": "",
		"started_at":    nil,
		"completed_at":  nil,
	})
	if result.Error != nil {
		return 0, fmt.Errorf("error resetting failed jobs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// JobStatusCounts returns job counts per status for a tenant and type.
func (ds *DataStore) JobStatusCounts(ctx context.Context, tenantID, jobType string) (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	query := ds.DB.WithContext(ctx).
		Model(&SystemJob{}).
		Select("status, COUNT(*) as count").
		Where("tenant_id = ?", tenantID)
	if jobType != "" {
		query = query.Where("job_type = ?", jobType)
	}
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("error counting job statuses: %w", err)
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
