package repository

import (
	"context"
	"sync"
	"time"

	"CapIot.telemetry/internal/models"
)

// MemoryRepository keeps readings in process memory. It backs local runs
// (STORE_DRIVER=memory) and tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	readings []models.StoredReading
	failWith error
}

// NewMemoryRepository creates a new MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// FailWith makes every subsequent call fail with err; nil restores normal
// behaviour.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryRepository) InsertBatch(_ context.Context, records []models.StoredReading) ([]models.StoredReading, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, models.NewStorageError("insert", m.failWith)
	}

	stored := assignIdentity(records, time.Now().UTC())
	m.readings = append(m.readings, stored...)
	return stored, nil
}

func (m *MemoryRepository) FindLatestByDevice(_ context.Context, deviceID string) (*models.StoredReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return nil, models.NewStorageError("find latest", m.failWith)
	}

	var latest *models.StoredReading
	for i := range m.readings {
		r := &m.readings[i]
		if r.DeviceID != deviceID {
			continue
		}
		if latest == nil || r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (m *MemoryRepository) AggregateBySiteAndRange(_ context.Context, siteID string, from, to time.Time) (models.SiteSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.failWith != nil {
		return models.SiteSummary{}, models.NewStorageError("aggregate", m.failWith)
	}

	summary := models.SiteSummary{SiteID: siteID, From: from, To: to}
	devices := make(map[string]struct{})
	var sumT, sumH float64
	for _, r := range m.readings {
		if r.SiteID != siteID || r.Timestamp.Before(from) || r.Timestamp.After(to) {
			continue
		}
		if summary.Count == 0 || r.Metrics.Temperature > summary.MaxTemperature {
			summary.MaxTemperature = r.Metrics.Temperature
		}
		if summary.Count == 0 || r.Metrics.Humidity > summary.MaxHumidity {
			summary.MaxHumidity = r.Metrics.Humidity
		}
		summary.Count++
		sumT += r.Metrics.Temperature
		sumH += r.Metrics.Humidity
		devices[r.DeviceID] = struct{}{}
	}
	if summary.Count > 0 {
		summary.AvgTemperature = sumT / float64(summary.Count)
		summary.AvgHumidity = sumH / float64(summary.Count)
	}
	summary.UniqueDevices = int64(len(devices))
	return summary, nil
}

// Len returns the number of stored readings.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}

func (m *MemoryRepository) Close() error { return nil }

var _ Repository = (*MemoryRepository)(nil)
