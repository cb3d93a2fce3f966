package broker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

func record(vehicleID string, lat, lon float64, ts time.Time) models.PositionRecord {
	return models.PositionRecord{
		ID:         "pos-" + vehicleID,
		VehicleID:  vehicleID,
		Latitude:   lat,
		Longitude:  lon,
		SpeedKmh:   25.0,
		HeadingDeg: 90.0,
		Timestamp:  ts,
	}
}

func TestBroker_SubmitThenSubscribeOne(t *testing.T) {
	b := NewBroker(50*time.Millisecond, zerolog.Nop())
	require.NoError(t, b.Start())
	defer b.Stop()

	sub := b.SubscribeOne("B-001")
	defer sub.Cancel()

	rec := record("B-001", 33.5731, -7.5898, time.Now())
	require.NoError(t, b.Submit(rec))

	select {
	case got := <-sub.C:
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "B-001", got.VehicleID)
	case <-time.After(time.Second):
		t.Fatal("no record delivered to single-vehicle subscription")
	}
}

func TestBroker_LatestWinsPerVehicle(t *testing.T) {
	b := NewBroker(time.Hour, zerolog.Nop())

	base := time.Now()
	for i := 0; i < 10; i++ {
		rec := record("B-007", 33.5+float64(i)*0.001, -7.58, base.Add(time.Duration(i)*time.Second))
		rec.ID = fmt.Sprintf("pos-%d", i)
		require.NoError(t, b.Submit(rec))
	}

	assert.Equal(t, 1, b.VehicleCount())
	latest, ok := b.LatestFor("B-007")
	require.True(t, ok)
	assert.Equal(t, "pos-9", latest.ID)
	assert.InDelta(t, 33.509, latest.Latitude, 1e-9)
}

func TestBroker_RejectsInvalidRecords(t *testing.T) {
	b := NewBroker(time.Hour, zerolog.Nop())
	now := time.Now()

	missingID := record("", 33.57, -7.58, now)
	assert.ErrorIs(t, b.Submit(missingID), ErrInvalidRecord)

	badLat := record("B-001", 95.0, -7.58, now)
	assert.ErrorIs(t, b.Submit(badLat), ErrInvalidRecord)

	badHeading := record("B-001", 33.57, -7.58, now)
	badHeading.HeadingDeg = 360.0
	assert.ErrorIs(t, b.Submit(badHeading), ErrInvalidRecord)

	negativeSpeed := record("B-001", 33.57, -7.58, now)
	negativeSpeed.SpeedKmh = -4
	assert.ErrorIs(t, b.Submit(negativeSpeed), ErrInvalidRecord)

	assert.Equal(t, 0, b.VehicleCount())
}

func TestBroker_RejectsOutOfOrderTimestamps(t *testing.T) {
	b := NewBroker(time.Hour, zerolog.Nop())
	now := time.Now()

	require.NoError(t, b.Submit(record("B-001", 33.57, -7.58, now)))

	stale := record("B-001", 33.58, -7.58, now.Add(-10*time.Second))
	assert.ErrorIs(t, b.Submit(stale), ErrStaleRecord)

	// The stale record must not have replaced the stored one.
	latest, ok := b.LatestFor("B-001")
	require.True(t, ok)
	assert.Equal(t, now.Unix(), latest.Timestamp.Unix())
	assert.InDelta(t, 33.57, latest.Latitude, 1e-9)
}

func TestBroker_SnapshotBroadcastThrottled(t *testing.T) {
	b := NewBroker(60*time.Millisecond, zerolog.Nop())
	require.NoError(t, b.Start())
	defer b.Stop()

	sub := b.SubscribeAll()
	defer sub.Cancel()

	// Burst of submits inside one snapshot interval.
	base := time.Now()
	for i := 0; i < 20; i++ {
		rec := record(fmt.Sprintf("B-%03d", i), 33.5, -7.58, base)
		require.NoError(t, b.Submit(rec))
	}

	var first models.Snapshot
	select {
	case first = <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast")
	}
	assert.Len(t, first.Positions, 20)

	// Quiet period: no dirty state, no further broadcasts.
	select {
	case snap, open := <-sub.C:
		if open {
			t.Fatalf("unexpected snapshot %d during quiet period", snap.Seq)
		}
	case <-time.After(150 * time.Millisecond):
	}
}

func TestBroker_SnapshotSeqMonotonic(t *testing.T) {
	b := NewBroker(30*time.Millisecond, zerolog.Nop())
	require.NoError(t, b.Start())
	defer b.Stop()

	sub := b.SubscribeAll()
	defer sub.Cancel()

	var lastSeq uint64
	for i := 0; i < 3; i++ {
		rec := record("B-001", 33.5+float64(i)*0.001, -7.58, time.Now())
		require.NoError(t, b.Submit(rec))

		select {
		case snap := <-sub.C:
			assert.Greater(t, snap.Seq, lastSeq)
			lastSeq = snap.Seq
		case <-time.After(time.Second):
			t.Fatal("snapshot not delivered")
		}
	}
}

func TestBroker_CancelStopsDelivery(t *testing.T) {
	b := NewBroker(30*time.Millisecond, zerolog.Nop())
	require.NoError(t, b.Start())
	defer b.Stop()

	sub := b.SubscribeOne("B-001")
	sub.Cancel()
	sub.Cancel() // idempotent

	require.NoError(t, b.Submit(record("B-001", 33.57, -7.58, time.Now())))

	_, open := <-sub.C
	assert.False(t, open, "cancelled subscription channel must be closed")
}

func TestBroker_ConcurrentSubmits(t *testing.T) {
	b := NewBroker(20*time.Millisecond, zerolog.Nop())
	require.NoError(t, b.Start())
	defer b.Stop()

	var wg sync.WaitGroup
	base := time.Now()
	for v := 0; v < 8; v++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			id := fmt.Sprintf("B-%03d", v)
			for i := 0; i < 50; i++ {
				rec := record(id, 33.5+float64(i)*1e-4, -7.58, base.Add(time.Duration(i)*time.Millisecond))
				assert.NoError(t, b.Submit(rec))
			}
		}(v)
	}
	wg.Wait()

	assert.Equal(t, 8, b.VehicleCount())
	for v := 0; v < 8; v++ {
		latest, ok := b.LatestFor(fmt.Sprintf("B-%03d", v))
		require.True(t, ok)
		assert.InDelta(t, 33.5+49e-4, latest.Latitude, 1e-9)
	}
}

func TestBroker_FaultIsolationBetweenVehicles(t *testing.T) {
	b := NewBroker(time.Hour, zerolog.Nop())
	now := time.Now()

	require.NoError(t, b.Submit(record("B-001", 33.57, -7.58, now)))
	assert.Error(t, b.Submit(record("", 33.57, -7.58, now)))
	require.NoError(t, b.Submit(record("B-002", 33.58, -7.59, now)))

	assert.Equal(t, 2, b.VehicleCount())
}
