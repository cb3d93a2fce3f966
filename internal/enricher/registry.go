package enricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// ErrNotFound is the normal outcome of a registry lookup for a vehicle the
// registry does not know about.
var ErrNotFound = errors.New("registry: vehicle not found")

// Registry exposes the vehicle/route facts owned by the schedule service.
// Lookups are best-effort and may be stale relative to the position stream.
type Registry interface {
	Vehicle(ctx context.Context, vehicleID string) (*models.VehicleFacts, error)
	Stops(ctx context.Context, lineID, directionID string) ([]models.Stop, error)
}

// HTTPRegistry is the HTTP client for the external schedule service.
type HTTPRegistry struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPRegistry creates a registry client for the given base URL.
func NewHTTPRegistry(baseURL string, timeout time.Duration) *HTTPRegistry {
	return &HTTPRegistry{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Vehicle fetches facts for one bus. A 404 maps to ErrNotFound.
func (r *HTTPRegistry) Vehicle(ctx context.Context, vehicleID string) (*models.VehicleFacts, error) {
	var facts models.VehicleFacts
	if err := r.getJSON(ctx, fmt.Sprintf("%s/api/bus/%s", r.baseURL, vehicleID), &facts); err != nil {
		return nil, err
	}
	return &facts, nil
}

// Stops fetches the ordered stops of a line/direction pair.
func (r *HTTPRegistry) Stops(ctx context.Context, lineID, directionID string) ([]models.Stop, error) {
	var stops []models.Stop
	url := fmt.Sprintf("%s/api/lignes/%s/directions/%s/arrets", r.baseURL, lineID, directionID)
	if err := r.getJSON(ctx, url, &stops); err != nil {
		return nil, err
	}
	return stops, nil
}

func (r *HTTPRegistry) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(v)
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("registry returned status %d", resp.StatusCode)
	}
}
