package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"CapIot.telemetry/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReading() models.StoredReading {
	return models.StoredReading{
		ID:        "rec-1",
		DeviceID:  "dev-1",
		SiteID:    "site-1",
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Metrics:   models.Metrics{Temperature: 25, Humidity: 60},
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC),
	}
}

func TestAdapterLatestRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	a := NewAdapter(store, 0, nil)
	ctx := context.Background()

	_, ok := a.GetLatest(ctx, "dev-1")
	assert.False(t, ok)

	a.SetLatest(ctx, sampleReading())
	got, ok := a.GetLatest(ctx, "dev-1")
	require.True(t, ok)
	assert.Equal(t, sampleReading(), *got)
	assert.InDelta(t, DefaultLatestTTL.Seconds(), store.TTL("latest:dev-1").Seconds(), 1)
}

func TestAdapterLatestExpires(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.SetClock(func() time.Time { return now })
	a := NewAdapter(store, time.Hour, nil)
	ctx := context.Background()

	a.SetLatest(ctx, sampleReading())
	now = now.Add(time.Hour)
	_, ok := a.GetLatest(ctx, "dev-1")
	assert.False(t, ok)
}

func TestAdapterCorruptEntryIsMiss(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), LatestKey("dev-1"), "{not json", time.Hour))

	_, ok := NewAdapter(store, 0, nil).GetLatest(context.Background(), "dev-1")
	assert.False(t, ok)
}

func TestAdapterUnavailableStore(t *testing.T) {
	store := NewMemoryStore()
	store.FailWith(errors.New("connection refused"))
	a := NewAdapter(store, 0, nil)
	ctx := context.Background()

	assert.NotPanics(t, func() { a.SetLatest(ctx, sampleReading()) })
	_, ok := a.GetLatest(ctx, "dev-1")
	assert.False(t, ok, "failures read as a miss")

	key := AlertKey("dev-1", models.ReasonHighTemperature)
	assert.False(t, a.MarkerExists(ctx, key), "marker check fails open")
	assert.NotPanics(t, func() { a.SetMarker(ctx, key, time.Minute) })
	assert.True(t, a.MarkIfAbsent(ctx, key, time.Minute), "atomic mark fails open")
}

func TestAdapterMarkers(t *testing.T) {
	a := NewAdapter(NewMemoryStore(), 0, nil)
	ctx := context.Background()
	key := AlertKey("dev-1", models.ReasonHighHumidity)

	assert.Equal(t, "alert:dev-1:HIGH_HUMIDITY", key)
	assert.False(t, a.MarkerExists(ctx, key))
	a.SetMarker(ctx, key, time.Minute)
	assert.True(t, a.MarkerExists(ctx, key))

	other := AlertKey("dev-1", models.ReasonHighTemperature)
	assert.True(t, a.MarkIfAbsent(ctx, other, time.Minute))
	assert.False(t, a.MarkIfAbsent(ctx, other, time.Minute))
}
