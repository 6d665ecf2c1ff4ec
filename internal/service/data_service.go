package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"CapIot.telemetry/internal/alert"
	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/metrics"
	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/repository"
	"CapIot.telemetry/internal/worker"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// lookupTimeout bounds a store query shared by concurrent Latest callers.
const lookupTimeout = 10 * time.Second

// ErrInvalidRange is returned by Summarize when from is after to.
var ErrInvalidRange = errors.New("summary range: from is after to")

// LatestCache is the best-effort latest-reading cache. *cache.Adapter
// implements it.
type LatestCache interface {
	SetLatest(ctx context.Context, reading models.StoredReading)
	GetLatest(ctx context.Context, deviceID string) (*models.StoredReading, bool)
}

// AlertChecker evaluates a stored reading for alerts. *alert.Dispatcher
// implements it.
type AlertChecker interface {
	Check(ctx context.Context, reading models.StoredReading) []alert.Outcome
}

// Runner runs fire-and-forget tasks. *worker.Pool implements it.
type Runner interface {
	Submit(name string, fn worker.Task) bool
}

// IngestResult is returned to the ingest caller.
type IngestResult struct {
	Accepted int `json:"accepted"`
}

// DataService handles ingestion and the latest/summary read paths.
type DataService struct {
	repo    repository.Repository
	cache   LatestCache
	alerts  AlertChecker
	tasks   Runner
	metrics *metrics.Metrics
	log     *slog.Logger
	lookups singleflight.Group
}

// NewDataService creates a new DataService.
func NewDataService(repo repository.Repository, cache LatestCache, alerts AlertChecker, tasks Runner, m *metrics.Metrics) *DataService {
	return &DataService{
		repo:    repo,
		cache:   cache,
		alerts:  alerts,
		tasks:   tasks,
		metrics: m,
		log:     logging.Component("ingest"),
	}
}

// Ingest durably stores readings in one batch and, once that succeeded,
// schedules a cache write-through and an alert check per reading. Only the
// durable write decides the outcome; the background work is never awaited.
func (s *DataService) Ingest(ctx context.Context, readings []models.Reading) (IngestResult, error) {
	if len(readings) == 0 {
		return IngestResult{}, fmt.Errorf("%w: empty batch", models.ErrInvalidReading)
	}

	records := make([]models.StoredReading, len(readings))
	for i, r := range readings {
		ts, err := models.ParseTimestamp(r.Timestamp)
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: reading %d: timestamp %q", models.ErrInvalidReading, i, r.Timestamp)
		}
		records[i] = models.StoredReading{
			DeviceID:  r.DeviceID,
			SiteID:    r.SiteID,
			Timestamp: ts,
			Metrics:   r.Metrics,
		}
	}

	start := time.Now()
	stored, err := s.repo.InsertBatch(ctx, records)
	s.metrics.ObserveStoreWrite(time.Since(start).Seconds())
	if err != nil {
		if !models.IsStorageError(err) {
			err = models.NewStorageError("insert", err)
		}
		s.log.Error("batch insert failed", "count", len(records), "error", err)
		return IngestResult{}, err
	}
	s.metrics.ReadingsIngested(len(stored))

	for _, rec := range stored {
		s.fanOut(rec)
	}
	return IngestResult{Accepted: len(stored)}, nil
}

func (s *DataService) fanOut(rec models.StoredReading) {
	s.tasks.Submit("cache", func(ctx context.Context) error {
		s.cache.SetLatest(ctx, rec)
		return nil
	})
	s.tasks.Submit("alert", func(ctx context.Context) error {
		s.alerts.Check(ctx, rec)
		return nil
	})
}

// Latest returns the most recent reading of deviceID, from the cache when
// possible. Concurrent misses for one device share a single store query.
func (s *DataService) Latest(ctx context.Context, deviceID string) (*models.StoredReading, error) {
	if r, ok := s.cache.GetLatest(ctx, deviceID); ok {
		return r, nil
	}

	// The shared query outlives any single caller; each caller only stops
	// waiting when its own context ends.
	ch := s.lookups.DoChan(deviceID, func() (interface{}, error) {
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		return s.repo.FindLatestByDevice(qctx, deviceID)
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		s.log.Warn("latest lookup failed", "device_id", deviceID, "error", res.Err)
		return nil, models.Unavailable(res.Err)
	}
	found, _ := res.Val.(*models.StoredReading)
	if found == nil {
		return nil, fmt.Errorf("device %q: %w", deviceID, models.ErrNotFound)
	}

	out := *found
	s.tasks.Submit("cache", func(ctx context.Context) error {
		s.cache.SetLatest(ctx, out)
		return nil
	})
	return &out, nil
}

// Summarize aggregates the readings of siteID with timestamps in [from, to].
// An empty range yields a zero summary, not an error.
func (s *DataService) Summarize(ctx context.Context, siteID string, from, to time.Time) (models.SiteSummary, error) {
	if to.Before(from) {
		return models.SiteSummary{}, ErrInvalidRange
	}

	sum, err := s.repo.AggregateBySiteAndRange(ctx, siteID, from, to)
	if err != nil {
		s.log.Warn("summary query failed", "site_id", siteID, "error", err)
		return models.SiteSummary{}, models.Unavailable(err)
	}

	sum.SiteID, sum.From, sum.To = siteID, from, to
	sum.AvgTemperature = round2(sum.AvgTemperature)
	sum.MaxTemperature = round2(sum.MaxTemperature)
	sum.AvgHumidity = round2(sum.AvgHumidity)
	sum.MaxHumidity = round2(sum.MaxHumidity)
	return sum, nil
}

func round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
