package datastore

import (
	"context"
	"fmt"
)

// SaveObservations persists vegetation index observations in a single batch.
func (ds *DataStore) SaveObservations(ctx context.Context, observations []VegetationObservation) error {
	if len(observations) == 0 {
		return nil
	}
	if err := ds.DB.WithContext(ctx).Create(&observations).Error; err != nil {
		return fmt.Errorf("error saving %d observations: %w", len(observations), err)
	}
	return nil
}

// CountObservations returns the total number of observations for a tenant.
func (ds *DataStore) CountObservations(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := ds.DB.WithContext(ctx).
		Model(&VegetationObservation{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting observations: %w", err)
	}
	return count, nil
}

// CountObservationsForLands counts observations covering any of the given
// lands. Used by result verification to confirm a dispatch actually
// produced data.
func (ds *DataStore) CountObservationsForLands(ctx context.Context, tenantID string, landIDs []string) (int64, error) {
	if len(landIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := ds.DB.WithContext(ctx).
		Model(&VegetationObservation{}).
		Where("tenant_id = ? AND land_id IN ?", tenantID, landIDs).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting observations for lands: %w", err)
	}
	return count, nil
}

// RecentObservations returns the newest observations for a tenant.
func (ds *DataStore) RecentObservations(ctx context.Context, tenantID string, limit int) ([]VegetationObservation, error) {
	var observations []VegetationObservation
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&observations).Error
	if err != nil {
		return nil, fmt.Errorf("error getting recent observations: %w", err)
	}
	return observations, nil
}
