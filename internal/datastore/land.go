package datastore

import (
	"context"
	"fmt"
	"time"
)

// GetLandParcels retrieves all land parcels for a tenant.
func (ds *DataStore) GetLandParcels(ctx context.Context, tenantID string) ([]LandParcel, error) {
	var parcels []LandParcel
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&parcels).Error
	if err != nil {
		return nil, fmt.Errorf("error getting land parcels for tenant %s: %w", tenantID, err)
	}
	return parcels, nil
}

// GetLandParcelsByID retrieves the given land parcels, tenant-scoped.
func (ds *DataStore) GetLandParcelsByID(ctx context.Context, tenantID string, ids []string) ([]LandParcel, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var parcels []LandParcel
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&parcels).Error
	if err != nil {
		return nil, fmt.Errorf("error getting land parcels by id: %w", err)
	}
	return parcels, nil
}

// MarkParcelsProcessed stamps processing metadata on the given parcels after
// a queue item covering them completed.
func (ds *DataStore) MarkParcelsProcessed(ctx context.Context, tenantID string, ids []string, processedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	err := ds.DB.WithContext(ctx).
		Model(&LandParcel{}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Updates(map[string]any{
			"tested":            true,
			"last_processed_at": processedAt,
		}).Error
	if err != nil {
		return fmt.Errorf("error marking parcels processed: %w", err)
	}
	return nil
}
