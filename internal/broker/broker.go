// Package broker maintains the latest known position per vehicle and fans
// updates out to fleet-wide and per-vehicle subscribers.
package broker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

var (
	// ErrInvalidRecord is returned when a submitted record fails boundary
	// validation (missing vehicle id, out-of-range coordinates or bounds).
	ErrInvalidRecord = errors.New("invalid position record")

	// ErrStaleRecord is returned when a record's timestamp precedes the
	// latest stored record for the same vehicle. Subscribers observe a
	// non-decreasing timestamp sequence per vehicle.
	ErrStaleRecord = errors.New("stale position record")
)

// Broker holds latest-wins position state. There is no persistence; a
// restart loses all positions and vehicles repopulate it on their next push.
type Broker struct {
	snapshotInterval time.Duration
	validate         *validator.Validate
	logger           zerolog.Logger

	latest cmap.ConcurrentMap[string, models.PositionRecord]

	// Subscriber registries. subMu serializes registration, cancellation
	// and delivery so a cancelled subscription never receives another
	// message.
	subMu       sync.Mutex
	allSubs     map[uint64]*AllSubscription
	vehicleSubs map[string]map[uint64]*VehicleSubscription
	nextSubID   uint64

	seq   uint64
	dirty bool

	ctx     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewBroker creates a broker broadcasting fleet snapshots at the given
// cadence (at most one snapshot per interval, regardless of submit rate).
func NewBroker(snapshotInterval time.Duration, logger zerolog.Logger) *Broker {
	return &Broker{
		snapshotInterval: snapshotInterval,
		validate:         validator.New(),
		logger:           logger,
		latest:           cmap.New[models.PositionRecord](),
		allSubs:          make(map[uint64]*AllSubscription),
		vehicleSubs:      make(map[string]map[uint64]*VehicleSubscription),
	}
}

// Start launches the snapshot broadcast loop.
func (b *Broker) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.logger.Warn().Msg("PositionBroker is already running")
		return errors.New("position broker is already running")
	}

	b.ctx = make(chan struct{})
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runSnapshotLoop()
	}()

	b.logger.Info().
		Dur("snapshot_interval", b.snapshotInterval).
		Msg("PositionBroker started")
	return nil
}

// Stop terminates the broadcast loop and cancels all subscriptions.
func (b *Broker) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		b.logger.Warn().Msg("PositionBroker is not running")
		return errors.New("position broker is not running")
	}
	close(b.ctx)
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()

	b.subMu.Lock()
	var allSubs []*AllSubscription
	for _, sub := range b.allSubs {
		allSubs = append(allSubs, sub)
	}
	var vehicleSubs []*VehicleSubscription
	for _, subs := range b.vehicleSubs {
		for _, sub := range subs {
			vehicleSubs = append(vehicleSubs, sub)
		}
	}
	b.subMu.Unlock()

	// Cancel is idempotent, so racing with a consumer's own Cancel is safe.
	for _, sub := range allSubs {
		sub.Cancel()
	}
	for _, sub := range vehicleSubs {
		sub.Cancel()
	}

	b.logger.Info().Msg("PositionBroker stopped")
	return nil
}

// Submit validates and stores a position record, delivers it to the
// vehicle's subscribers and schedules a fleet snapshot broadcast. A failure
// affects only the submitting vehicle.
func (b *Broker) Submit(rec models.PositionRecord) error {
	if err := b.validate.Struct(rec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}

	stale := false
	b.latest.Upsert(rec.VehicleID, rec, func(exists bool, current, incoming models.PositionRecord) models.PositionRecord {
		if exists && incoming.Timestamp.Before(current.Timestamp) {
			stale = true
			return current
		}
		return incoming
	})
	if stale {
		return fmt.Errorf("%w: vehicle %s", ErrStaleRecord, rec.VehicleID)
	}

	b.subMu.Lock()
	for _, sub := range b.vehicleSubs[rec.VehicleID] {
		deliverRecord(sub.ch, rec)
	}
	b.dirty = true
	b.subMu.Unlock()

	return nil
}

// Latest returns the current value set of the latest-position map.
func (b *Broker) Latest() []models.PositionRecord {
	items := b.latest.Items()
	out := make([]models.PositionRecord, 0, len(items))
	for _, rec := range items {
		out = append(out, rec)
	}
	return out
}

// LatestFor returns the latest record for one vehicle, if any.
func (b *Broker) LatestFor(vehicleID string) (models.PositionRecord, bool) {
	return b.latest.Get(vehicleID)
}

// VehicleCount returns the number of vehicles with a known position.
func (b *Broker) VehicleCount() int {
	return b.latest.Count()
}

func (b *Broker) runSnapshotLoop() {
	ticker := time.NewTicker(b.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.broadcastSnapshot()
		case <-b.ctx:
			b.logger.Info().Msg("PositionBroker snapshot loop stopping")
			return
		}
	}
}

func (b *Broker) broadcastSnapshot() {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	if !b.dirty || len(b.allSubs) == 0 {
		return
	}
	b.dirty = false
	b.seq++

	snap := models.Snapshot{
		Seq:       b.seq,
		Timestamp: time.Now(),
		Positions: b.Latest(),
	}

	for _, sub := range b.allSubs {
		deliverSnapshot(sub.ch, snap)
	}
}

// deliverSnapshot is latest-wins: a slow subscriber loses intermediate
// snapshots instead of blocking the broadcast loop.
func deliverSnapshot(ch chan models.Snapshot, snap models.Snapshot) {
	select {
	case ch <- snap:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func deliverRecord(ch chan models.PositionRecord, rec models.PositionRecord) {
	select {
	case ch <- rec:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- rec:
		default:
		}
	}
}
