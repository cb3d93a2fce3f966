// Package geo derives speed and heading from consecutive GPS fixes.
package geo

import (
	"errors"
	"math"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// earthRadiusKm is the mean Earth radius used by the haversine formula.
const earthRadiusKm = 6371.0

// ErrInvalidCoordinates is returned when a fix carries NaN, infinite or
// out-of-range coordinates.
var ErrInvalidCoordinates = errors.New("invalid coordinates")

// Distance returns the great-circle distance in kilometers between two
// points, computed with the haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180)
	dLon := (lon2 - lon1) * (math.Pi / 180)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*(math.Pi/180))*math.Cos(lat2*(math.Pi/180))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Bearing returns the initial bearing in degrees from the first point to
// the second, normalized into [0, 360).
func Bearing(lat1, lon1, lat2, lon2 float64) float64 {
	dLon := (lon2 - lon1) * (math.Pi / 180)

	y := math.Sin(dLon) * math.Cos(lat2*(math.Pi/180))
	x := math.Cos(lat1*(math.Pi/180))*math.Sin(lat2*(math.Pi/180)) -
		math.Sin(lat1*(math.Pi/180))*math.Cos(lat2*(math.Pi/180))*math.Cos(dLon)

	deg := math.Atan2(y, x) * (180 / math.Pi)
	return math.Mod(deg+360, 360)
}

// Estimate derives speed (km/h, one decimal) and heading (degrees, [0,360))
// from two consecutive fixes for the same vehicle.
//
// When the elapsed time between the fixes is zero or negative the sample
// pair is degenerate; speed and heading are both reported as 0 rather than
// dividing by zero.
func Estimate(prev, curr models.Fix) (speedKmh, headingDeg float64, err error) {
	if !prev.Valid() || !curr.Valid() {
		return 0, 0, ErrInvalidCoordinates
	}

	elapsed := curr.Timestamp.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0, 0, nil
	}

	distanceKm := Distance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)

	speedKmh = math.Round((distanceKm/elapsed)*3600*10) / 10
	headingDeg = Bearing(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude)

	return speedKmh, headingDeg, nil
}
