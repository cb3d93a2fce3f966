package models

import "time"

// PositionSubmission is the wire format accepted by the ingestion endpoint.
// The server assigns the position id and, when absent, the timestamp.
type PositionSubmission struct {
	VehicleID    string     `json:"vehicle_id" validate:"required"`
	Latitude     float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude    float64    `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude     *float64   `json:"altitude,omitempty"`
	Accuracy     *float64   `json:"accuracy,omitempty"`
	SpeedKmh     float64    `json:"speed_kmh" validate:"gte=0"`
	HeadingDeg   float64    `json:"heading_deg" validate:"gte=0,lt=360"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
	AgentVersion string     `json:"agent_version,omitempty"`
}
