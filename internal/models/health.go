package models

import "time"

// DeviceHealth is the periodic on-vehicle health report published to the
// fleet operations topic alongside the position stream.
type DeviceHealth struct {
	VehicleID      string    `json:"vehicle_id"`
	Timestamp      time.Time `json:"timestamp"`
	AgentVersion   string    `json:"agent_version"`
	TrackingStatus string    `json:"tracking_status"`
	PositionsSent  uint64    `json:"positions_sent"`
	CPUPercent     *float64  `json:"cpu_percent,omitempty"`
	MemoryPercent  *float64  `json:"memory_percent,omitempty"`
	UptimeSeconds  uint64    `json:"uptime_seconds,omitempty"`
}
