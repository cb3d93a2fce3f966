package models

// Line describes a bus line as known to the vehicle/route registry.
type Line struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// Direction describes the travel direction of a bus on its current line.
type Direction struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Origin   string `json:"origin"`
	Terminus string `json:"terminus"`
}

// Stop is one ordered stop on a line/direction, used for trip progress.
type Stop struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Sequence  int     `json:"sequence"`
}

// VehicleFacts holds the slow-changing registry facts about a bus.
// The registry is an external collaborator; facts may lag behind the
// position stream.
type VehicleFacts struct {
	ID           string     `json:"id"`
	BusNumber    string     `json:"bus_number"`
	LicensePlate string     `json:"license_plate"`
	Model        string     `json:"model"`
	Manufacturer string     `json:"manufacturer"`
	Year         int        `json:"year"`
	Capacity     int        `json:"capacity"`
	Status       string     `json:"status"`
	IsAccessible bool       `json:"is_accessible"`
	Line         *Line      `json:"line,omitempty"`
	Direction    *Direction `json:"direction,omitempty"`
}

// EnrichedPosition pairs a position with registry facts. Facts is nil when
// the registry has no record for the vehicle id; map consumers filter those.
type EnrichedPosition struct {
	Position PositionRecord `json:"position"`
	Facts    *VehicleFacts  `json:"facts"`
}

// HasFacts reports whether the registry join succeeded for this position.
func (e EnrichedPosition) HasFacts() bool {
	return e.Facts != nil
}
