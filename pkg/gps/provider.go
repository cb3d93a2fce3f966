package gps

import (
	"context"
	"time"
)

// Fix is one raw sample from a positioning sensor.
type Fix struct {
	Latitude  float64
	Longitude float64
	Altitude  *float64
	Accuracy  float64
	Timestamp time.Time
}

// Provider interface defines the methods for GPS fix providers.
type Provider interface {
	// CurrentFix returns a single fix, blocking until one is available or
	// the context is done.
	CurrentFix(ctx context.Context) (Fix, error)

	// Watch streams fixes as the sensor produces them. The channel is
	// closed when the context is cancelled or the sensor fails terminally.
	Watch(ctx context.Context) (<-chan Fix, error)

	Close() error
}
