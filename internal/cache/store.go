// Package cache holds the latest-reading cache and the alert dedup markers.
//
// Store is the raw key-value contract with per-key expiry. Adapter layers the
// best-effort semantics on top: it never returns an error to its caller, a
// failed lookup reads as a miss and a failed marker check reads as "not
// marked" so that an unavailable cache biases toward sending alerts.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is a string-keyed store with per-key expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
	// SetNX sets key only if it is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Close() error
}
