package reconciler

import (
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// ConsoleRenderer logs marker operations instead of drawing them. It backs
// the headless dashboard binary and doubles as a reference Renderer.
type ConsoleRenderer struct {
	logger zerolog.Logger
}

// NewConsoleRenderer creates a logging renderer.
func NewConsoleRenderer(logger zerolog.Logger) *ConsoleRenderer {
	return &ConsoleRenderer{logger: logger}
}

// Create logs the new marker and uses the vehicle id as its handle.
func (c *ConsoleRenderer) Create(pos models.EnrichedPosition) (MarkerHandle, error) {
	c.logger.Info().
		Str("vehicle_id", pos.Position.VehicleID).
		Float64("lat", pos.Position.Latitude).
		Float64("lon", pos.Position.Longitude).
		Float64("speed_kmh", pos.Position.SpeedKmh).
		Msg("Marker created")
	return pos.Position.VehicleID, nil
}

// Move logs the updated coordinates.
func (c *ConsoleRenderer) Move(handle MarkerHandle, pos models.EnrichedPosition) error {
	c.logger.Info().
		Str("vehicle_id", pos.Position.VehicleID).
		Float64("lat", pos.Position.Latitude).
		Float64("lon", pos.Position.Longitude).
		Float64("speed_kmh", pos.Position.SpeedKmh).
		Msg("Marker moved")
	return nil
}

// Remove logs the removal.
func (c *ConsoleRenderer) Remove(handle MarkerHandle) error {
	c.logger.Info().Interface("handle", handle).Msg("Marker removed")
	return nil
}
