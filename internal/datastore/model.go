// model.go this code defines the data model for the harvest orchestration core
package datastore

import (
	"encoding/json"
	"time"
)

// Queue item and job status values. Queue items move strictly forward except
// for the retry and reaper transitions back to queued.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"

	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// LandParcel represents a farmer's plot. Created by farmer-management flows;
// this core only stamps processing metadata on it.
type LandParcel struct {
	ID              string `gorm:"primaryKey;size:36"`
	TenantID        string `gorm:"size:36;not null;index:idx_lands_tenant"`
	FarmerID        string `gorm:"size:36;index:idx_lands_farmer"`
	Name            string
	Boundary        string `gorm:"type:text"` // GeoJSON polygon
	Tested          bool   // true once at least one observation landed
	LastProcessedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SatelliteTile is one grid cell of satellite coverage for one acquisition
// date. Tiles are created upstream when new imagery becomes available and
// are read-only to this core.
type SatelliteTile struct {
	ID              uint   `gorm:"primaryKey"`
	TenantID        string `gorm:"size:36;index:idx_tiles_tenant"`
	TileID          string `gorm:"size:8;index:idx_tiles_tile_date"`
	AcquisitionDate string `gorm:"size:10;index:idx_tiles_tile_date"` // YYYY-MM-DD
	CloudCover      float64
	RasterPath      string
	Status          string `gorm:"size:16"`
	CreatedAt       time.Time
}

// HarvestQueueItem is the unit of harvest work: one tile and the land
// parcels that need it.
type HarvestQueueItem struct {
	ID                   string `gorm:"primaryKey;size:36"`
	TenantID             string `gorm:"size:36;not null;index:idx_queue_tenant_status"`
	TileID               string `gorm:"size:8"`
	LandIDs              string `gorm:"type:text"` // JSON-encoded list of land parcel IDs
	Status               string `gorm:"size:16;index:idx_queue_tenant_status;index:idx_queue_status_created"`
	RetryCount           int
	LastError            string    `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"index:idx_queue_status_created"`
	StartedAt            *time.Time
	CompletedAt          *time.Time
	NextRetryAt          *time.Time
	ProcessingDurationMs int64
	ProcessedCount       int
}

// Lands decodes the JSON-encoded land parcel ID list.
func (q *HarvestQueueItem) Lands() []string {
	if q.LandIDs == "" {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(q.LandIDs), &ids); err != nil {
		return nil
	}
	return ids
}

// SetLands encodes the land parcel ID list as JSON.
func (q *HarvestQueueItem) SetLands(ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	q.LandIDs = string(data)
	return nil
}

// VegetationObservation is one (land, date) measurement of the vegetation
// indices. Append-only: never mutated after creation.
type VegetationObservation struct {
	ID              uint   `gorm:"primaryKey"`
	TenantID        string `gorm:"size:36;not null;index:idx_obs_tenant"`
	LandID          string `gorm:"size:36;index:idx_obs_land_date"`
	Date            string `gorm:"size:10;index:idx_obs_land_date"` // acquisition date, YYYY-MM-DD
	NDVIValue       float64
	EVIValue        float64
	NDWIValue       float64
	SAVIValue       float64
	NDVIMin         float64
	NDVIMax         float64
	NDVIMean        float64
	NDVIStd         float64
	CoveragePercent float64
	CloudCover      float64
	RasterSource    string
	CreatedAt       time.Time `gorm:"index"`
}

// HarvestQuota tracks per-tenant harvest operations consumed in the current
// billing period against a plan-derived ceiling.
type HarvestQuota struct {
	ID          uint   `gorm:"primaryKey"`
	TenantID    string `gorm:"size:36;uniqueIndex;not null"`
	Plan        string `gorm:"size:32"`
	PeriodStart time.Time
	Used        int
	Limit       int `gorm:"column:monthly_limit"`
	UpdatedAt   time.Time
}

// SystemJob is a generic dispatchable unit used by the job orchestrator,
// e.g. clipping a harvested tile to each land parcel.
type SystemJob struct {
	ID           string `gorm:"primaryKey;size:36"`
	TenantID     string `gorm:"size:36;not null;index:idx_jobs_tenant_type"`
	JobType      string `gorm:"size:32;index:idx_jobs_tenant_type"`
	TargetType   string `gorm:"size:16"`
	TargetID     string `gorm:"size:36;index"`
	Status       string `gorm:"size:16;index"`
	Parameters   string `gorm:"type:text"` // JSON payload typed per job kind
	ErrorMessage string `gorm:"type:text"`
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}
