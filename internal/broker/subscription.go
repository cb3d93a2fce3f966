package broker

import (
	"sync"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// AllSubscription delivers throttled fleet snapshots. It belongs to exactly
// one consumer and is dead once cancelled.
type AllSubscription struct {
	C <-chan models.Snapshot

	id     uint64
	ch     chan models.Snapshot
	broker *Broker
	once   sync.Once
}

// Cancel unregisters the subscription and closes its channel. No further
// snapshots are delivered after Cancel returns.
func (s *AllSubscription) Cancel() {
	s.once.Do(func() {
		s.broker.subMu.Lock()
		delete(s.broker.allSubs, s.id)
		close(s.ch)
		s.broker.subMu.Unlock()
	})
}

// VehicleSubscription delivers every accepted record for a single vehicle.
type VehicleSubscription struct {
	C <-chan models.PositionRecord

	VehicleID string

	id     uint64
	ch     chan models.PositionRecord
	broker *Broker
	once   sync.Once
}

// Cancel unregisters the subscription and closes its channel.
func (s *VehicleSubscription) Cancel() {
	s.once.Do(func() {
		s.broker.subMu.Lock()
		if subs, ok := s.broker.vehicleSubs[s.VehicleID]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(s.broker.vehicleSubs, s.VehicleID)
			}
		}
		close(s.ch)
		s.broker.subMu.Unlock()
	})
}

// SubscribeAll registers for the fleet-wide snapshot topic. Delivery is
// latest-wins; the channel holds at most one pending snapshot.
func (b *Broker) SubscribeAll() *AllSubscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextSubID++
	sub := &AllSubscription{
		id:     b.nextSubID,
		ch:     make(chan models.Snapshot, 1),
		broker: b,
	}
	sub.C = sub.ch
	b.allSubs[sub.id] = sub
	return sub
}

// SubscribeOne registers for a single vehicle's records.
func (b *Broker) SubscribeOne(vehicleID string) *VehicleSubscription {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.nextSubID++
	sub := &VehicleSubscription{
		VehicleID: vehicleID,
		id:        b.nextSubID,
		ch:        make(chan models.PositionRecord, 1),
		broker:    b,
	}
	sub.C = sub.ch
	if b.vehicleSubs[vehicleID] == nil {
		b.vehicleSubs[vehicleID] = make(map[uint64]*VehicleSubscription)
	}
	b.vehicleSubs[vehicleID][sub.id] = sub
	return sub
}
