// Package notifier delivers AlertEvents to the outside world.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"CapIot.telemetry/internal/logging"
	"CapIot.telemetry/internal/models"
)

// Notifier delivers one AlertEvent. Implementations must honour ctx.
type Notifier interface {
	Notify(ctx context.Context, event models.AlertEvent) error
}

// DeliveryError reports a failed delivery. Status is zero when no response
// was received. The message never includes the payload or endpoint URL.
type DeliveryError struct {
	Target string
	Status int
	Err    error
}

func (e *DeliveryError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s delivery failed: status %d", e.Target, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s delivery failed: %v", e.Target, e.Err)
	default:
		return e.Target + " delivery failed"
	}
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// sanitize strips the request URL, which may embed webhook tokens, from
// transport errors.
func sanitize(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event models.AlertEvent) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only records events. It is the fallback when no endpoint is
// configured.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("notifier")}
}

func (l *LogNotifier) Notify(_ context.Context, event models.AlertEvent) error {
	l.log.Info("alert raised", "device_id", event.DeviceID, "site_id", event.SiteID, "reason", event.Reason, "value", event.Value)
	return nil
}
