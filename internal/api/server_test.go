package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// mockRegistry is a testify mock of the schedule-service registry.
type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) Vehicle(ctx context.Context, vehicleID string) (*models.VehicleFacts, error) {
	args := m.Called(ctx, vehicleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VehicleFacts), args.Error(1)
}

func (m *mockRegistry) Stops(ctx context.Context, lineID, directionID string) ([]models.Stop, error) {
	args := m.Called(ctx, lineID, directionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Stop), args.Error(1)
}

// recordingPublisher captures records handed to the real-time channel.
type recordingPublisher struct {
	mu   sync.Mutex
	recs []models.PositionRecord
}

func (p *recordingPublisher) PublishRecord(rec models.PositionRecord) {
	p.mu.Lock()
	p.recs = append(p.recs, rec)
	p.mu.Unlock()
}

func (p *recordingPublisher) published() []models.PositionRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.PositionRecord(nil), p.recs...)
}

type testServer struct {
	srv       *httptest.Server
	positions *broker.Broker
	registry  *mockRegistry
	publisher *recordingPublisher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	positions := broker.NewBroker(time.Hour, zerolog.Nop())
	registry := new(mockRegistry)
	trips := enricher.NewTripTracker(time.Hour)
	enrich := enricher.NewEnricher(registry, positions, trips, time.Minute, zerolog.Nop())
	publisher := &recordingPublisher{}

	s, err := NewServer(":0", 0, 0, "1.0.0", positions, enrich, trips, publisher, nil, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, positions: positions, registry: registry, publisher: publisher}
}

func (ts *testServer) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func submission(vehicleID string, ts time.Time) models.PositionSubmission {
	return models.PositionSubmission{
		VehicleID:    vehicleID,
		Latitude:     33.5731,
		Longitude:    -7.5898,
		SpeedKmh:     24.5,
		HeadingDeg:   90,
		Timestamp:    &ts,
		AgentVersion: "1.2.0",
	}
}

func TestSubmitPosition_StoresAndRepublishes(t *testing.T) {
	ts := newTestServer(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	resp := ts.post(t, "/api/positions", submission("B-001", now))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stored models.PositionRecord
	decodeBody(t, resp, &stored)
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "B-001", stored.VehicleID)
	assert.Equal(t, 24.5, stored.SpeedKmh)
	assert.True(t, stored.Timestamp.Equal(now))

	latest, ok := ts.positions.LatestFor("B-001")
	require.True(t, ok)
	assert.Equal(t, stored.ID, latest.ID)

	published := ts.publisher.published()
	require.Len(t, published, 1)
	assert.Equal(t, stored.ID, published[0].ID)
}

func TestSubmitPosition_AssignsServerTimestampWhenAbsent(t *testing.T) {
	ts := newTestServer(t)

	sub := submission("B-001", time.Now())
	sub.Timestamp = nil
	resp := ts.post(t, "/api/positions", sub)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var stored models.PositionRecord
	decodeBody(t, resp, &stored)
	assert.WithinDuration(t, time.Now(), stored.Timestamp, 5*time.Second)
}

func TestSubmitPosition_RejectsMalformedAndInvalid(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.srv.URL+"/api/positions", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	bad := submission("B-001", time.Now())
	bad.Latitude = 95
	resp = ts.post(t, "/api/positions", bad)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missing := submission("", time.Now())
	resp = ts.post(t, "/api/positions", missing)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Empty(t, ts.publisher.published())
}

func TestSubmitPosition_RejectsOutOfOrderTimestamp(t *testing.T) {
	ts := newTestServer(t)

	now := time.Now().UTC()
	resp := ts.post(t, "/api/positions", submission("B-001", now))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.post(t, "/api/positions", submission("B-001", now.Add(-10*time.Second)))
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSubmitPosition_RejectsOutdatedAgent(t *testing.T) {
	ts := newTestServer(t)

	old := submission("B-001", time.Now())
	old.AgentVersion = "0.9.3"
	resp := ts.post(t, "/api/positions", old)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	// Agents that do not report a version are still accepted.
	anon := submission("B-002", time.Now())
	anon.AgentVersion = ""
	resp = ts.post(t, "/api/positions", anon)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestListPositions_SortedByVehicle(t *testing.T) {
	ts := newTestServer(t)

	now := time.Now().UTC()
	for _, id := range []string{"B-003", "B-001", "B-002"} {
		resp := ts.post(t, "/api/positions", submission(id, now))
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.get(t, "/api/positions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var recs []models.PositionRecord
	decodeBody(t, resp, &recs)
	require.Len(t, recs, 3)
	assert.Equal(t, "B-001", recs[0].VehicleID)
	assert.Equal(t, "B-002", recs[1].VehicleID)
	assert.Equal(t, "B-003", recs[2].VehicleID)
}

func TestEnrichedPositions_JoinsRegistryFacts(t *testing.T) {
	ts := newTestServer(t)

	ts.registry.On("Vehicle", mock.Anything, "B-001").
		Return(&models.VehicleFacts{ID: "B-001", BusNumber: "12", LicensePlate: "A-123-45"}, nil)
	ts.registry.On("Vehicle", mock.Anything, "B-002").
		Return(nil, enricher.ErrNotFound)

	now := time.Now().UTC()
	for _, id := range []string{"B-001", "B-002"} {
		resp := ts.post(t, "/api/positions", submission(id, now))
		resp.Body.Close()
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.get(t, "/api/tracking/positions-enriched")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var enriched []models.EnrichedPosition
	decodeBody(t, resp, &enriched)
	require.Len(t, enriched, 2)
	require.NotNil(t, enriched[0].Facts)
	assert.Equal(t, "12", enriched[0].Facts.BusNumber)
	assert.Nil(t, enriched[1].Facts)
}

func TestTripInfo_UnknownVehicleIs404(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.get(t, "/api/trajet/bus/B-404")
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTripInfo_ReturnsTripStatistics(t *testing.T) {
	ts := newTestServer(t)

	ts.registry.On("Vehicle", mock.Anything, "B-001").Return(nil, enricher.ErrNotFound)

	start := time.Now().UTC().Add(-10 * time.Minute)
	resp := ts.post(t, "/api/positions", submission("B-001", start))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	later := submission("B-001", start.Add(10*time.Minute))
	later.Latitude = 33.5831
	resp = ts.post(t, "/api/positions", later)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.get(t, "/api/trajet/bus/B-001")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info models.TripInfo
	decodeBody(t, resp, &info)
	assert.Equal(t, "B-001", info.VehicleID)
	assert.Equal(t, 10, info.ElapsedMinutes)
	// 0.01 degrees of latitude is roughly 1.1 km.
	assert.InDelta(t, 1.11, info.DistanceKm, 0.05)
	assert.Equal(t, 33.5831, info.Latitude)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.post(t, "/api/positions", submission("B-001", time.Now().UTC()))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.get(t, "/api/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health healthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.Vehicles)
}

func TestGTFSRTFeed(t *testing.T) {
	ts := newTestServer(t)

	ts.registry.On("Vehicle", mock.Anything, "B-001").Return(&models.VehicleFacts{
		ID:           "B-001",
		BusNumber:    "12",
		LicensePlate: "A-123-45",
		Line:         &models.Line{ID: "L7", Number: "7"},
	}, nil)

	sub := submission("B-001", time.Now().UTC())
	sub.SpeedKmh = 36 // 10 m/s on the wire
	resp := ts.post(t, "/api/positions", sub)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = ts.get(t, "/gtfs-rt/vehicle-positions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/x-protobuf", resp.Header.Get("Content-Type"))

	payload, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	var feed gtfs.FeedMessage
	require.NoError(t, proto.Unmarshal(payload, &feed))
	require.Len(t, feed.Entity, 1)

	vp := feed.Entity[0].Vehicle
	require.NotNil(t, vp)
	assert.Equal(t, "B-001", vp.Vehicle.GetId())
	assert.Equal(t, "12", vp.Vehicle.GetLabel())
	assert.Equal(t, "L7", vp.Trip.GetRouteId())
	assert.InDelta(t, 33.5731, float64(vp.Position.GetLatitude()), 0.0001)
	assert.InDelta(t, 10.0, float64(vp.Position.GetSpeed()), 0.01)
}
