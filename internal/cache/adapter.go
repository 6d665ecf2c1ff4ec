package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/metrics"
	"CapIot.telemetry/internal/models"
)

// DefaultLatestTTL is how long a latest-reading entry lives.
const DefaultLatestTTL = 24 * time.Hour

// LatestKey is the cache key of a device's most recent reading.
func LatestKey(deviceID string) string {
	return "latest:" + deviceID
}

// AlertKey is the dedup marker key for one device and alert reason.
func AlertKey(deviceID string, reason models.AlertReason) string {
	return "alert:" + deviceID + ":" + string(reason)
}

// Adapter applies best-effort semantics to a Store. No method returns an
// error; failures are logged and counted.
type Adapter struct {
	store     Store
	latestTTL time.Duration
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewAdapter wraps store. A zero latestTTL means DefaultLatestTTL.
func NewAdapter(store Store, latestTTL time.Duration, m *metrics.Metrics) *Adapter {
	if latestTTL <= 0 {
		latestTTL = DefaultLatestTTL
	}
	return &Adapter{
		store:     store,
		latestTTL: latestTTL,
		metrics:   m,
		log:       logging.Component("cache"),
	}
}

// SetLatest writes reading under its device's latest key.
func (a *Adapter) SetLatest(ctx context.Context, reading models.StoredReading) {
	raw, err := json.Marshal(reading)
	if err != nil {
		a.fail("encode latest", err, "device_id", reading.DeviceID)
		return
	}
	if err := a.store.Set(ctx, LatestKey(reading.DeviceID), string(raw), a.latestTTL); err != nil {
		a.fail("set latest", err, "device_id", reading.DeviceID)
	}
}

// GetLatest returns the cached reading of deviceID. Any failure, including
// an undecodable entry, is reported as a miss.
func (a *Adapter) GetLatest(ctx context.Context, deviceID string) (*models.StoredReading, bool) {
	raw, err := a.store.Get(ctx, LatestKey(deviceID))
	if errors.Is(err, ErrMiss) {
		a.metrics.Cache(metrics.CacheMiss)
		return nil, false
	}
	if err != nil {
		a.fail("get latest", err, "device_id", deviceID)
		return nil, false
	}

	var reading models.StoredReading
	if err := json.Unmarshal([]byte(raw), &reading); err != nil {
		a.fail("decode latest", err, "device_id", deviceID)
		return nil, false
	}
	a.metrics.Cache(metrics.CacheHit)
	return &reading, true
}

// MarkerExists reports whether key is set. It fails open: when the store
// cannot answer, the marker is reported absent so an alert is sent rather
// than silently suppressed.
func (a *Adapter) MarkerExists(ctx context.Context, key string) bool {
	ok, err := a.store.Exists(ctx, key)
	if err != nil {
		a.fail("check marker", err, "key", key)
		return false
	}
	return ok
}

// SetMarker sets key for ttl.
func (a *Adapter) SetMarker(ctx context.Context, key string, ttl time.Duration) {
	if err := a.store.Set(ctx, key, "1", ttl); err != nil {
		a.fail("set marker", err, "key", key)
	}
}

// MarkIfAbsent atomically sets key for ttl and reports whether this call set
// it. On store failure it reports true (fail open).
func (a *Adapter) MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) bool {
	set, err := a.store.SetNX(ctx, key, "1", ttl)
	if err != nil {
		a.fail("mark if absent", err, "key", key)
		return true
	}
	return set
}

// Close closes the underlying store.
func (a *Adapter) Close() error {
	return a.store.Close()
}

func (a *Adapter) fail(op string, err error, args ...any) {
	a.metrics.Cache(metrics.CacheError)
	a.log.Warn("cache "+op+" failed", append(args, "error", err)...)
}
