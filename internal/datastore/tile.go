package datastore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetLatestTile returns the most recent acquisition for a tile, if any.
func (ds *DataStore) GetLatestTile(ctx context.Context, tenantID, tileID string) (*SatelliteTile, error) {
	var tile SatelliteTile
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ? AND tile_id = ?", tenantID, tileID).
		Order("acquisition_date DESC").
		First(&tile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting latest tile %s: %w", tileID, err)
	}
	return &tile, nil
}

// CountTiles returns the number of tile acquisitions stored for a tenant.
func (ds *DataStore) CountTiles(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := ds.DB.WithContext(ctx).
		Model(&SatelliteTile{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("error counting tiles: %w", err)
	}
	return count, nil
}
