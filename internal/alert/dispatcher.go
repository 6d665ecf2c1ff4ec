package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"CapIot.telemetry/internal/cache"
	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/metrics"
	"CapIot.telemetry/internal/models"
	"CapIot.telemetry/internal/notifier"
)

// Alert thresholds. A metric alerts only when strictly above its threshold.
const (
	TemperatureThreshold = 50.0
	HumidityThreshold    = 90.0
)

const (
	DefaultDedupWindow = 60 * time.Second
	DefaultTimeout     = 5 * time.Second
)

// Markers is the dedup store. *cache.Adapter implements it with fail-open
// semantics: an unavailable store never suppresses an alert.
type Markers interface {
	MarkerExists(ctx context.Context, key string) bool
	SetMarker(ctx context.Context, key string, ttl time.Duration)
	MarkIfAbsent(ctx context.Context, key string, ttl time.Duration) bool
}

// Options tunes a Dispatcher. Zero values take the defaults.
type Options struct {
	DedupWindow time.Duration
	Timeout     time.Duration
	// Atomic replaces the exists-then-set marker check with one conditional
	// set, giving at most one alert per window even under concurrent
	// crossings.
	Atomic bool
}

// Outcome is what happened to one candidate alert.
type Outcome struct {
	Reason models.AlertReason
	Status string // metrics.AlertDelivered, AlertSuppressed or AlertFailed
	Err    error
}

// Dispatcher turns readings into deduplicated alert deliveries.
type Dispatcher struct {
	markers  Markers
	notifier notifier.Notifier
	opts     Options
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(markers Markers, n notifier.Notifier, opts Options, m *metrics.Metrics) *Dispatcher {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = DefaultDedupWindow
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Dispatcher{
		markers:  markers,
		notifier: n,
		opts:     opts,
		metrics:  m,
		log:      logging.Component("alert"),
	}
}

// Evaluate returns the alert events reading raises, before deduplication.
func Evaluate(reading models.StoredReading) []models.AlertEvent {
	var events []models.AlertEvent
	if reading.Metrics.Temperature > TemperatureThreshold {
		events = append(events, newEvent(reading, models.ReasonHighTemperature, reading.Metrics.Temperature))
	}
	if reading.Metrics.Humidity > HumidityThreshold {
		events = append(events, newEvent(reading, models.ReasonHighHumidity, reading.Metrics.Humidity))
	}
	return events
}

func newEvent(r models.StoredReading, reason models.AlertReason, value float64) models.AlertEvent {
	return models.AlertEvent{
		DeviceID:  r.DeviceID,
		SiteID:    r.SiteID,
		Timestamp: r.Timestamp,
		Reason:    reason,
		Value:     value,
	}
}

// Check evaluates reading and handles each raised reason independently and
// concurrently. Failures are logged and reported in the outcomes, never
// returned as an error.
func (d *Dispatcher) Check(ctx context.Context, reading models.StoredReading) []Outcome {
	events := Evaluate(reading)
	if len(events) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(events))
	var wg sync.WaitGroup
	for i, ev := range events {
		i, ev := i, ev
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.handle(ctx, ev)
		}()
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) handle(ctx context.Context, ev models.AlertEvent) Outcome {
	key := cache.AlertKey(ev.DeviceID, ev.Reason)
	reason := string(ev.Reason)

	if !d.claim(ctx, key) {
		d.metrics.Alert(reason, metrics.AlertSuppressed)
		d.log.Debug("alert suppressed", "device_id", ev.DeviceID, "reason", reason)
		return Outcome{Reason: ev.Reason, Status: metrics.AlertSuppressed}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()
	if err := d.notifier.Notify(sendCtx, ev); err != nil {
		// The marker stays set: a failed delivery is not retried within the window.
		d.metrics.Alert(reason, metrics.AlertFailed)
		d.log.Warn("alert delivery failed", "device_id", ev.DeviceID, "reason", reason, "error", err)
		return Outcome{Reason: ev.Reason, Status: metrics.AlertFailed, Err: err}
	}

	d.metrics.Alert(reason, metrics.AlertDelivered)
	d.log.Info("alert delivered", "device_id", ev.DeviceID, "site_id", ev.SiteID, "reason", reason, "value", ev.Value)
	return Outcome{Reason: ev.Reason, Status: metrics.AlertDelivered}
}

// claim reports whether this call owns the alert for the current window and
// marks it. An existing marker is left untouched so its expiry is not
// extended.
func (d *Dispatcher) claim(ctx context.Context, key string) bool {
	if d.opts.Atomic {
		return d.markers.MarkIfAbsent(ctx, key, d.opts.DedupWindow)
	}
	if d.markers.MarkerExists(ctx, key) {
		return false
	}
	d.markers.SetMarker(ctx, key, d.opts.DedupWindow)
	return true
}
