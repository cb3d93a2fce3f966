package gps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"
)

// NetworkProvider resolves a coarse fix through the Google Maps Geolocation
// API. It is the fallback for vehicles without a wired GPS receiver; the
// accuracy it reports is typically hundreds of meters.
type NetworkProvider struct {
	client *maps.Client

	// PollInterval drives Watch, since the API has no push mechanism.
	PollInterval time.Duration
}

// NewNetworkProvider creates a geolocation-API-backed provider.
func NewNetworkProvider(apiKey string) (*NetworkProvider, error) {
	c, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}

	return &NetworkProvider{
		client:       c,
		PollInterval: 15 * time.Second,
	}, nil
}

// CurrentFix resolves the vehicle's location from its network environment.
func (n *NetworkProvider) CurrentFix(ctx context.Context) (Fix, error) {
	req := &maps.GeolocationRequest{ConsiderIP: true}

	resp, err := n.client.Geolocate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return Fix{}, ErrTimeout
		}
		return Fix{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return Fix{
		Latitude:  resp.Location.Lat,
		Longitude: resp.Location.Lng,
		Accuracy:  resp.Accuracy,
		Timestamp: time.Now(),
	}, nil
}

// Watch polls the geolocation API at PollInterval.
func (n *NetworkProvider) Watch(ctx context.Context) (<-chan Fix, error) {
	out := make(chan Fix)

	go func() {
		defer close(out)

		ticker := time.NewTicker(n.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				fix, err := n.CurrentFix(ctx)
				if err != nil {
					continue
				}
				select {
				case out <- fix:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close is a no-op; the maps client holds no persistent connection.
func (n *NetworkProvider) Close() error {
	return nil
}
