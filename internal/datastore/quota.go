package datastore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// GetQuota returns the quota row for a tenant, or gorm.ErrRecordNotFound
// wrapped if none exists yet.
func (ds *DataStore) GetQuota(ctx context.Context, tenantID string) (*HarvestQuota, error) {
	var quota HarvestQuota
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&quota).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("no quota for tenant %s: %w", tenantID, err)
		}
		return nil, fmt.Errorf("error getting quota for tenant %s: %w", tenantID, err)
	}
	return &quota, nil
}

// UpsertQuota creates or updates the quota row for a tenant.
func (ds *DataStore) UpsertQuota(ctx context.Context, quota *HarvestQuota) error {
	var existing HarvestQuota
	err := ds.DB.WithContext(ctx).
		Where("tenant_id = ?", quota.TenantID).
		First(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.WithContext(ctx).Create(quota).Error; err != nil {
			return fmt.Errorf("error creating quota for tenant %s: %w", quota.TenantID, err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("error looking up quota for tenant %s: %w", quota.TenantID, err)
	default:
		quota.ID = existing.ID
		if err := ds.DB.WithContext(ctx).Save(quota).Error; err != nil {
			return fmt.Errorf("error updating quota for tenant %s: %w", quota.TenantID, err)
		}
		return nil
	}
}

// ConsumeQuota atomically increments a tenant's used counter. The increment
// happens in SQL so concurrent consumers never lose updates.
func (ds *DataStore) ConsumeQuota(ctx context.Context, tenantID string, n int) error {
	result := ds.DB.WithContext(ctx).
		Model(&HarvestQuota{}).
		Where("tenant_id = ?", tenantID).
		Update("used", gorm.Expr("used + ?", n))
	if result.Error != nil {
		return fmt.Errorf("error consuming quota for tenant %s: %w", tenantID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no quota row for tenant %s", tenantID)
	}
	return nil
}
