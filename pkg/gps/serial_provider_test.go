package gps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFix_GGA(t *testing.T) {
	fix, ok := parseFix("$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47")
	require.True(t, ok)

	assert.InDelta(t, 48.1173, fix.Latitude, 0.0001)
	assert.InDelta(t, 11.5167, fix.Longitude, 0.0001)
	require.NotNil(t, fix.Altitude)
	assert.InDelta(t, 545.4, *fix.Altitude, 0.01)
	assert.InDelta(t, 0.9, fix.Accuracy, 0.001)
	assert.False(t, fix.Timestamp.IsZero())
}

func TestParseFix_GGAWithoutFixRejected(t *testing.T) {
	_, ok := parseFix("$GPGGA,123519,4807.038,N,01131.000,E,0,08,0.9,545.4,M,46.9,M,,*46")
	assert.False(t, ok)
}

func TestParseFix_RMC(t *testing.T) {
	fix, ok := parseFix("$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A")
	require.True(t, ok)

	assert.InDelta(t, 48.1173, fix.Latitude, 0.0001)
	assert.InDelta(t, 11.5167, fix.Longitude, 0.0001)
	assert.Nil(t, fix.Altitude, "RMC carries no altitude")
}

func TestParseFix_InvalidRMCRejected(t *testing.T) {
	_, ok := parseFix("$GPRMC,123519,V,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*7D")
	assert.False(t, ok)
}

func TestParseFix_GarbageRejected(t *testing.T) {
	for _, line := range []string{"", "not nmea", "$GPGGA,truncated", "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00"} {
		_, ok := parseFix(line)
		assert.False(t, ok, "line %q must be rejected", line)
	}
}
