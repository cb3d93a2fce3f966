package models

import (
	"math"
	"time"
)

// Fix represents one raw GPS sample as produced by a positioning sensor.
// Publishers keep at most the last two per vehicle for kinematic derivation.
type Fix struct {
	VehicleID string    `json:"vehicle_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// Valid reports whether the fix carries usable coordinates.
func (f Fix) Valid() bool {
	if math.IsNaN(f.Latitude) || math.IsInf(f.Latitude, 0) ||
		math.IsNaN(f.Longitude) || math.IsInf(f.Longitude, 0) {
		return false
	}
	return f.Latitude >= -90 && f.Latitude <= 90 &&
		f.Longitude >= -180 && f.Longitude <= 180
}

// PositionRecord is a Fix plus derived speed/heading, as stored and
// broadcast by the server. Only the latest record per vehicle is retained.
type PositionRecord struct {
	ID         string    `json:"id"`
	VehicleID  string    `json:"vehicle_id" validate:"required"`
	Latitude   float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	SpeedKmh   float64   `json:"speed_kmh" validate:"gte=0"`
	HeadingDeg float64   `json:"heading_deg" validate:"gte=0,lt=360"`
	Timestamp  time.Time `json:"timestamp"`
}
