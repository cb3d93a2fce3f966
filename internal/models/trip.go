package models

import "time"

// TripInfo aggregates the current enriched position of one bus with
// progress statistics for its trip in progress.
type TripInfo struct {
	VehicleID    string     `json:"vehicle_id"`
	LicensePlate string     `json:"license_plate"`
	Line         *Line      `json:"line,omitempty"`
	Direction    *Direction `json:"direction,omitempty"`

	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	SpeedKmh   float64   `json:"speed_kmh"`
	LastUpdate time.Time `json:"last_update"`

	DepartureTime  time.Time `json:"departure_time"`
	DistanceKm     float64   `json:"distance_km"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	StopsCompleted int       `json:"stops_completed"`

	NextStop           string   `json:"next_stop,omitempty"`
	NextStopDistanceKm *float64 `json:"next_stop_distance_km,omitempty"`
	NextStopETAMinutes *int     `json:"next_stop_eta_minutes,omitempty"`
}
