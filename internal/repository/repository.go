package repository

import (
	"context"
	"fmt"
	"time"

	"CapIot.telemetry/internal/config"
	"CapIot.telemetry/internal/models"
	"github.com/google/uuid"
)

// Repository is the durable store for readings. It is the only source of
// truth; every failure is returned as a *models.StorageError.
type Repository interface {
	// InsertBatch stores records in one call and returns them, in input
	// order, with ID and CreatedAt assigned.
	InsertBatch(ctx context.Context, records []models.StoredReading) ([]models.StoredReading, error)
	// FindLatestByDevice returns the reading with the greatest timestamp for
	// deviceID, or nil when the device has none.
	FindLatestByDevice(ctx context.Context, deviceID string) (*models.StoredReading, error)
	// AggregateBySiteAndRange summarizes readings of siteID whose timestamp
	// lies in [from, to]. Aggregates are not rounded.
	AggregateBySiteAndRange(ctx context.Context, siteID string, from, to time.Time) (models.SiteSummary, error)
	Close() error
}

// Open builds the driver selected by cfg.Driver and prepares its schema.
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, error) {
	switch cfg.Driver {
	case "influx":
		repo := NewInfluxDBRepository(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket)
		if err := repo.Ping(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		if err := repo.EnsureBucket(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	case "postgres":
		return OpenPostgres(ctx, cfg.PostgresDSN)
	case "memory":
		return NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// assignIdentity returns copies of records with a fresh id and creation time.
func assignIdentity(records []models.StoredReading, now time.Time) []models.StoredReading {
	out := make([]models.StoredReading, len(records))
	for i, rec := range records {
		rec.ID = uuid.NewString()
		rec.CreatedAt = now
		rec.Timestamp = rec.Timestamp.UTC()
		out[i] = rec
	}
	return out
}
