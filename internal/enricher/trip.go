package enricher

import (
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/transport-urbain/fleet-tracker/internal/geo"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// TripState accumulates per-vehicle progress since the vehicle was first
// seen (or since it reappeared after going silent).
type TripState struct {
	DepartureTime time.Time
	DistanceKm    float64
	LastRecord    models.PositionRecord
}

// TripTracker folds the position stream into per-vehicle trip statistics.
// A vehicle silent for longer than resetAfter starts a fresh trip on its
// next record.
type TripTracker struct {
	resetAfter time.Duration
	trips      cmap.ConcurrentMap[string, TripState]
}

// NewTripTracker creates a tracker that resets a vehicle's trip after the
// given silence window.
func NewTripTracker(resetAfter time.Duration) *TripTracker {
	return &TripTracker{
		resetAfter: resetAfter,
		trips:      cmap.New[TripState](),
	}
}

// Observe folds one accepted position record into the vehicle's trip.
// Records older than the last observed one are ignored.
func (t *TripTracker) Observe(rec models.PositionRecord) {
	t.trips.Upsert(rec.VehicleID, TripState{}, func(exists bool, current, _ TripState) TripState {
		if !exists || rec.Timestamp.Sub(current.LastRecord.Timestamp) > t.resetAfter {
			return TripState{
				DepartureTime: rec.Timestamp,
				LastRecord:    rec,
			}
		}
		if !rec.Timestamp.After(current.LastRecord.Timestamp) {
			return current
		}

		current.DistanceKm += geo.Distance(
			current.LastRecord.Latitude, current.LastRecord.Longitude,
			rec.Latitude, rec.Longitude,
		)
		current.LastRecord = rec
		return current
	})
}

// ObserveSnapshot folds a full fleet snapshot into the tracker.
func (t *TripTracker) ObserveSnapshot(snap models.Snapshot) {
	for _, rec := range snap.Positions {
		t.Observe(rec)
	}
}

// State returns the current trip state for a vehicle, if any.
func (t *TripTracker) State(vehicleID string) (TripState, bool) {
	return t.trips.Get(vehicleID)
}

// Forget drops a vehicle's trip state.
func (t *TripTracker) Forget(vehicleID string) {
	t.trips.Remove(vehicleID)
}

// stopsCompleted walks the ordered stop polyline and counts the stops whose
// cumulative along-route distance has already been covered by the trip.
// The departure stop sits at distance 0 and counts as completed from the
// first record: the origin is where the bus departs from, so a bus that has
// not moved yet reports 1 completed stop and the first stop ahead as next,
// never the origin itself.
func stopsCompleted(stops []models.Stop, distanceKm float64) int {
	if len(stops) == 0 {
		return 0
	}

	completed := 0
	cumulative := 0.0
	for i := range stops {
		if i > 0 {
			cumulative += geo.Distance(
				stops[i-1].Latitude, stops[i-1].Longitude,
				stops[i].Latitude, stops[i].Longitude,
			)
		}
		if cumulative <= distanceKm {
			completed = i + 1
		} else {
			break
		}
	}
	return completed
}
