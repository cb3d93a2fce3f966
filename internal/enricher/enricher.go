// Package enricher joins bare position records with the slow-changing
// vehicle/route facts owned by the external registry.
package enricher

import (
	"context"
	"errors"
	"math"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/geo"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// ErrNoPosition is returned by TripInfo when the broker holds no current
// position for the vehicle. An offline bus is a normal condition.
var ErrNoPosition = errors.New("no current position for vehicle")

// PositionSource exposes the broker's latest-position view.
type PositionSource interface {
	LatestFor(vehicleID string) (models.PositionRecord, bool)
}

type cachedFacts struct {
	facts   *models.VehicleFacts
	fetched time.Time
}

// Enricher joins positions with registry facts. Registry lookups are cached
// because facts change far slower than positions.
type Enricher struct {
	registry  Registry
	positions PositionSource
	trips     *TripTracker
	cacheTTL  time.Duration
	logger    zerolog.Logger

	cache cmap.ConcurrentMap[string, cachedFacts]
}

// NewEnricher creates an enricher over the given registry and position source.
func NewEnricher(registry Registry, positions PositionSource, trips *TripTracker,
	cacheTTL time.Duration, logger zerolog.Logger) *Enricher {
	return &Enricher{
		registry:  registry,
		positions: positions,
		trips:     trips,
		cacheTTL:  cacheTTL,
		logger:    logger,
		cache:     cmap.New[cachedFacts](),
	}
}

// facts resolves VehicleFacts through the cache. A registry miss is cached
// as nil facts; transient registry failures are logged and reported as nil
// facts without poisoning the cache.
func (e *Enricher) facts(ctx context.Context, vehicleID string) *models.VehicleFacts {
	if entry, ok := e.cache.Get(vehicleID); ok && time.Since(entry.fetched) < e.cacheTTL {
		return entry.facts
	}

	facts, err := e.registry.Vehicle(ctx, vehicleID)
	switch {
	case err == nil:
		e.cache.Set(vehicleID, cachedFacts{facts: facts, fetched: time.Now()})
		return facts
	case errors.Is(err, ErrNotFound):
		e.cache.Set(vehicleID, cachedFacts{facts: nil, fetched: time.Now()})
		return nil
	default:
		e.logger.Warn().Err(err).Str("vehicle_id", vehicleID).Msg("Registry lookup failed")
		return nil
	}
}

// EnrichBulk joins each record with registry facts. Records the registry
// does not know keep nil facts; nothing in the batch can fail the batch.
func (e *Enricher) EnrichBulk(ctx context.Context, recs []models.PositionRecord) []models.EnrichedPosition {
	out := make([]models.EnrichedPosition, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.EnrichedPosition{
			Position: rec,
			Facts:    e.facts(ctx, rec.VehicleID),
		})
	}
	return out
}

// TripInfo builds the deep on-demand join for one vehicle: current enriched
// position, line/direction metadata and trip-progress statistics.
func (e *Enricher) TripInfo(ctx context.Context, vehicleID string) (*models.TripInfo, error) {
	rec, ok := e.positions.LatestFor(vehicleID)
	if !ok {
		e.logger.Debug().Str("vehicle_id", vehicleID).Msg("Trip info requested for offline vehicle")
		return nil, ErrNoPosition
	}

	info := &models.TripInfo{
		VehicleID:  vehicleID,
		Latitude:   rec.Latitude,
		Longitude:  rec.Longitude,
		SpeedKmh:   rec.SpeedKmh,
		LastUpdate: rec.Timestamp,
	}

	facts := e.facts(ctx, vehicleID)
	if facts != nil {
		info.LicensePlate = facts.LicensePlate
		info.Line = facts.Line
		info.Direction = facts.Direction
	}

	if state, ok := e.trips.State(vehicleID); ok {
		info.DepartureTime = state.DepartureTime
		info.DistanceKm = math.Round(state.DistanceKm*100) / 100
		info.ElapsedMinutes = int(rec.Timestamp.Sub(state.DepartureTime).Minutes())
	}

	e.fillStopProgress(ctx, info, facts, rec)

	return info, nil
}

// fillStopProgress adds stops-completed and next-stop estimates when the
// registry knows the vehicle's line and direction. Any failure here leaves
// the base trip info intact.
func (e *Enricher) fillStopProgress(ctx context.Context, info *models.TripInfo,
	facts *models.VehicleFacts, rec models.PositionRecord) {
	if facts == nil || facts.Line == nil || facts.Direction == nil {
		return
	}

	stops, err := e.registry.Stops(ctx, facts.Line.ID, facts.Direction.ID)
	if err != nil {
		e.logger.Warn().Err(err).Str("vehicle_id", info.VehicleID).Msg("Stop lookup failed")
		return
	}
	if len(stops) == 0 {
		return
	}

	completed := stopsCompleted(stops, info.DistanceKm)
	info.StopsCompleted = completed

	if completed >= len(stops) {
		return
	}

	next := stops[completed]
	distKm := geo.Distance(rec.Latitude, rec.Longitude, next.Latitude, next.Longitude)
	info.NextStop = next.Name
	info.NextStopDistanceKm = &distKm

	if rec.SpeedKmh > 0 {
		eta := int(math.Ceil(distKm / rec.SpeedKmh * 60))
		info.NextStopETAMinutes = &eta
	}
}
