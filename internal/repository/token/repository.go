package token

import (
	"context"
	"errors"
	"time"
)

// Record is the durable session token kept for one device.
type Record struct {
	DeviceID  string
	Token     string
	Provider  string
	UpdatedAt time.Time
}

// ErrWatchUnsupported is returned by backends without a change feed.
// Callers fall back to polling.
var ErrWatchUnsupported = errors.New("token watch unsupported")

// Repository persists device tokens. Watch streams the device ids whose
// token changed, until ctx is done or the feed fails; the channel is then closed.
type Repository interface {
	Get(ctx context.Context, deviceID string) (*Record, error)
	Put(ctx context.Context, rec Record) error
	Delete(ctx context.Context, deviceID string) error
	Watch(ctx context.Context) (<-chan string, error)
}
