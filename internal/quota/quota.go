// Package quota enforces per-tenant monthly harvest ceilings. Limits derive
// from the tenant's plan; consumption is recorded only for dispatches that
// actually succeeded, so transient worker failures never burn quota.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/agrisat/harvest-go/internal/conf"
	"github.com/agrisat/harvest-go/internal/datastore"
	"github.com/agrisat/harvest-go/internal/errors"
)

// Snapshot is a tenant's quota position at decision time.
type Snapshot struct {
	TenantID  string `json:"tenant_id"`
	Plan      string `json:"plan"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// ExceededError is the terminal business error for a tenant over quota.
// Callers surface it directly; it never drives retry accounting.
type ExceededError struct {
	TenantID string
	Used     int
	Limit    int
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("harvest quota exceeded for tenant %s: %d of %d used", e.TenantID, e.Used, e.Limit)
}

// ErrorCategory marks the error as a quota rejection.
func (e *ExceededError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryQuota
}

// Guard answers quota questions and records consumption.
type Guard struct {
	store    datastore.Interface
	settings *conf.Settings
}

// NewGuard creates a quota guard over the given store.
func NewGuard(store datastore.Interface, settings *conf.Settings) *Guard {
	return &Guard{store: store, settings: settings}
}

// planLimit resolves a plan name to its monthly ceiling.
func (g *Guard) planLimit(plan string) int {
	if limit, ok := g.settings.Quota.PlanLimits[plan]; ok {
		return limit
	}
	return g.settings.Quota.DefaultLimit
}

// Snapshot returns the tenant's current quota position, creating a default
// row for first-time tenants and rolling the counter over at the start of a
// new billing month.
func (g *Guard) Snapshot(ctx context.Context, tenantID string) (Snapshot, error) {
	quota, err := g.store.GetQuota(ctx, tenantID)
	switch {
	case err != nil && errors.Is(err, datastore.ErrRecordNotFound):
		quota = &datastore.HarvestQuota{
			TenantID:    tenantID,
			PeriodStart: monthStart(time.Now()),
			Limit:       g.settings.Quota.DefaultLimit,
		}
		if err := g.store.UpsertQuota(ctx, quota); err != nil {
			return Snapshot{}, errors.Wrap(err).
				Component("quota-guard").
				Category(errors.CategoryDatabase).
				Context("tenant_id", tenantID).
				Build()
		}
	case err != nil:
		return Snapshot{}, errors.Wrap(err).
			Component("quota-guard").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Build()
	}

	// New billing month resets the counter.
	if start := monthStart(time.Now()); quota.PeriodStart.Before(start) {
		quota.PeriodStart = start
		quota.Used = 0
		quota.Limit = g.effectiveLimit(quota)
		if err := g.store.UpsertQuota(ctx, quota); err != nil {
			return Snapshot{}, errors.Wrap(err).
				Component("quota-guard").
				Category(errors.CategoryDatabase).
				Context("tenant_id", tenantID).
				Build()
		}
	}

	limit := g.effectiveLimit(quota)
	remaining := limit - quota.Used
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		TenantID:  tenantID,
		Plan:      quota.Plan,
		Used:      quota.Used,
		Limit:     limit,
		Remaining: remaining,
	}, nil
}

// effectiveLimit prefers the stored per-tenant limit, falling back to the
// plan table for rows that never had one set.
func (g *Guard) effectiveLimit(quota *datastore.HarvestQuota) int {
	if quota.Limit > 0 {
		return quota.Limit
	}
	return g.planLimit(quota.Plan)
}

// CanHarvest reports whether the tenant has quota left for n more harvest
// operations. Returns ExceededError through the snapshot path only on
// store failures; a plain false answer is not an error.
func (g *Guard) CanHarvest(ctx context.Context, tenantID string, n int) (bool, Snapshot, error) {
	snapshot, err := g.Snapshot(ctx, tenantID)
	if err != nil {
		return false, Snapshot{}, err
	}
	return snapshot.Remaining >= n, snapshot, nil
}

// Check is CanHarvest with a typed rejection: it returns ExceededError when
// the tenant is out of quota.
func (g *Guard) Check(ctx context.Context, tenantID string, n int) (Snapshot, error) {
	ok, snapshot, err := g.CanHarvest(ctx, tenantID, n)
	if err != nil {
		return Snapshot{}, err
	}
	if !ok {
		return snapshot, &ExceededError{
			TenantID: tenantID,
			Used:     snapshot.Used,
			Limit:    snapshot.Limit,
		}
	}
	return snapshot, nil
}

// Consume records n successful harvest operations against the tenant's
// quota. Called only after a verified successful dispatch.
func (g *Guard) Consume(ctx context.Context, tenantID string, n int) error {
	if n <= 0 {
		return nil
	}
	if err := g.store.ConsumeQuota(ctx, tenantID, n); err != nil {
		return errors.Wrap(err).
			Component("quota-guard").
			Category(errors.CategoryDatabase).
			Context("tenant_id", tenantID).
			Context("amount", n).
			Build()
	}
	return nil
}

func monthStart(t time.Time) time.Time {
	year, month, _ := t.UTC().Date()
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}
