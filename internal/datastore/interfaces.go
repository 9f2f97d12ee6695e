// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrisat/harvest-go/internal/conf"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrRecordNotFound is re-exported so callers can test for missing rows
// without importing gorm.
var ErrRecordNotFound = gorm.ErrRecordNotFound

// Interface abstracts the underlying database implementation and defines the
// operations the orchestration core needs. Every read and write is
// tenant-scoped except the dispatcher's global eligibility scan.
type Interface interface {
	Open() error
	Close() error

	// land parcels
	GetLandParcels(ctx context.Context, tenantID string) ([]LandParcel, error)
	GetLandParcelsByID(ctx context.Context, tenantID string, ids []string) ([]LandParcel, error)
	MarkParcelsProcessed(ctx context.Context, tenantID string, ids []string, processedAt time.Time) error

	// satellite tiles
	GetLatestTile(ctx context.Context, tenantID, tileID string) (*SatelliteTile, error)
	CountTiles(ctx context.Context, tenantID string) (int64, error)

	// harvest request queue
	EnqueueHarvestItems(ctx context.Context, items []HarvestQueueItem) error
	EligibleQueueItems(ctx context.Context, limit int, now time.Time) ([]HarvestQueueItem, error)
	ClaimQueueItem(ctx context.Context, id string, startedAt time.Time) (bool, error)
	CompleteQueueItem(ctx context.Context, id string, processedCount int, duration time.Duration) error
	RequeueItem(ctx context.Context, id, lastError string, retryCount int, nextRetryAt time.Time, duration time.Duration) error
	FailQueueItem(ctx context.Context, id, lastError string, retryCount int, duration time.Duration) error
	ResetStuckItems(ctx context.Context, tenantID string, olderThan time.Time) (int64, error)
	PurgeFailedItems(ctx context.Context, tenantID string, olderThan time.Time) (int64, error)
	QueueStatusCounts(ctx context.Context, tenantID string) (map[string]int64, error)
	QueueTenants(ctx context.Context) ([]string, error)
	GetQueueItems(ctx context.Context, tenantID string, limit int) ([]HarvestQueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*HarvestQueueItem, error)

	// vegetation observations
	SaveObservations(ctx context.Context, observations []VegetationObservation) error
	CountObservations(ctx context.Context, tenantID string) (int64, error)
	CountObservationsForLands(ctx context.Context, tenantID string, landIDs []string) (int64, error)
	RecentObservations(ctx context.Context, tenantID string, limit int) ([]VegetationObservation, error)

	// harvest quotas
	GetQuota(ctx context.Context, tenantID string) (*HarvestQuota, error)
	UpsertQuota(ctx context.Context, quota *HarvestQuota) error
	ConsumeQuota(ctx context.Context, tenantID string, n int) error

	// system jobs
	InsertJobs(ctx context.Context, jobs []SystemJob) error
	GetJobs(ctx context.Context, tenantID, jobType string, limit int) ([]SystemJob, error)
	ResetFailedJobs(ctx context.Context, tenantID, jobType string) (int64, error)
	JobStatusCounts(ctx context.Context, tenantID, jobType string) (map[string]int64, error)
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new datastore instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		// Settings validation rejects this combination before we get here
		return nil
	}
}

// Close closes the underlying database connection.
func (ds *DataStore) Close() error {
	if ds.DB == nil {
		return nil
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return fmt.Errorf("getting underlying database handle: %w", err)
	}
	return sqlDB.Close()
}

// performAutoMigration automates database migrations with error handling.
func performAutoMigration(db *gorm.DB, debug bool, dbType, connectionInfo string) error {
	if err := db.AutoMigrate(
		&LandParcel{},
		&SatelliteTile{},
		&HarvestQueueItem{},
		&VegetationObservation{},
		&HarvestQuota{},
		&SystemJob{},
	); err != nil {
		return fmt.Errorf("failed to auto-migrate %s database: %w", dbType, err)
	}

	if debug {
		log.Printf("%s database connection initialized: %s", dbType, connectionInfo)
	}

	return nil
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: 200 * time.Millisecond,
			LogLevel:      logger.Warn,
			Colorful:      true,
		},
	)
}
