// Package reconciler keeps a displayed set of map markers in sync with the
// enriched position stream, with minimal create/destroy churn.
package reconciler

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// MarkerHandle identifies one displayed marker to the renderer.
type MarkerHandle interface{}

// Renderer is the map-rendering backend the reconciler drives.
type Renderer interface {
	Create(pos models.EnrichedPosition) (MarkerHandle, error)
	Move(handle MarkerHandle, pos models.EnrichedPosition) error
	Remove(handle MarkerHandle) error
}

// Reconciler incrementally creates, moves and removes markers so that the
// displayed set always matches the most recently applied snapshot.
type Reconciler struct {
	renderer Renderer
	logger   zerolog.Logger

	mu          sync.Mutex
	markers     map[string]MarkerHandle
	lastApplied uint64
}

// NewReconciler creates a reconciler over the given renderer.
func NewReconciler(renderer Renderer, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		renderer: renderer,
		logger:   logger,
		markers:  make(map[string]MarkerHandle),
	}
}

// Apply reconciles the marker set against one enriched snapshot. Stale
// snapshots (seq at or below the last applied one) are dropped. Malformed
// positions and positions without registry facts are skipped; a failure on
// one marker never aborts the rest of the snapshot.
func (r *Reconciler) Apply(snap models.EnrichedSnapshot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if snap.Seq <= r.lastApplied {
		r.logger.Debug().
			Uint64("seq", snap.Seq).
			Uint64("last_applied", r.lastApplied).
			Msg("Dropping stale snapshot")
		return false
	}
	r.lastApplied = snap.Seq

	present := make(map[string]struct{}, len(snap.Positions))

	for _, pos := range snap.Positions {
		if !displayable(pos) {
			continue
		}
		id := pos.Position.VehicleID
		present[id] = struct{}{}

		if handle, ok := r.markers[id]; ok {
			// Update in place; destroy/recreate would flicker.
			if err := r.renderer.Move(handle, pos); err != nil {
				r.logger.Error().Err(err).Str("vehicle_id", id).Msg("Failed to move marker")
			}
			continue
		}

		handle, err := r.renderer.Create(pos)
		if err != nil {
			r.logger.Error().Err(err).Str("vehicle_id", id).Msg("Failed to create marker")
			continue
		}
		r.markers[id] = handle
	}

	for id, handle := range r.markers {
		if _, ok := present[id]; ok {
			continue
		}
		if err := r.renderer.Remove(handle); err != nil {
			r.logger.Error().Err(err).Str("vehicle_id", id).Msg("Failed to remove marker")
		}
		delete(r.markers, id)
	}

	return true
}

// MarkerCount returns the number of currently displayed markers.
func (r *Reconciler) MarkerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.markers)
}

// Reset removes every marker, e.g. when the dashboard is torn down.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, handle := range r.markers {
		if err := r.renderer.Remove(handle); err != nil {
			r.logger.Error().Err(err).Str("vehicle_id", id).Msg("Failed to remove marker")
		}
		delete(r.markers, id)
	}
	r.lastApplied = 0
}

// displayable filters out positions the map cannot show: missing vehicle
// id, degenerate coordinates, or no registry facts to label the marker.
func displayable(pos models.EnrichedPosition) bool {
	if pos.Position.VehicleID == "" || !pos.HasFacts() {
		return false
	}
	lat, lon := pos.Position.Latitude, pos.Position.Longitude
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
