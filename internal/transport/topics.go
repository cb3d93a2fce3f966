// Package transport moves broker broadcasts over MQTT: a server-side
// bridge republishes snapshots and per-vehicle records, and a client-side
// subscriber consumes them with automatic reconnect.
package transport

// Topic layout under a configurable prefix (default "fleet"):
//
//	<prefix>/vehicles       periodic enriched full-fleet snapshot
//	<prefix>/vehicle/<id>   every accepted record for one vehicle
//	<prefix>/health/<id>    device health reports from vehicle agents
const (
	DefaultTopicPrefix = "fleet"

	fleetSubtopic   = "/vehicles"
	vehicleSubtopic = "/vehicle/"
	healthSubtopic  = "/health/"
)

// FleetTopic returns the fleet-wide snapshot topic for a prefix.
func FleetTopic(prefix string) string {
	return prefix + fleetSubtopic
}

// VehicleTopic returns the single-vehicle topic for a prefix and id.
func VehicleTopic(prefix, vehicleID string) string {
	return prefix + vehicleSubtopic + vehicleID
}

// HealthTopic returns the device-health topic for a prefix and id.
func HealthTopic(prefix, vehicleID string) string {
	return prefix + healthSubtopic + vehicleID
}
