package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/constants"
	"github.com/transport-urbain/fleet-tracker/internal/geo"
	"github.com/transport-urbain/fleet-tracker/internal/models"
	"github.com/transport-urbain/fleet-tracker/pkg/gps"
	"github.com/transport-urbain/fleet-tracker/pkg/identity"
	"github.com/transport-urbain/fleet-tracker/pkg/ingest"
)

// StatusHandler receives operator-visible tracking state transitions.
type StatusHandler func(status string, err error)

// TrackingService publishes the vehicle's position to the ingestion
// endpoint. It samples once immediately on start, then keeps a last-known
// fix updated from the sensor watch while a fixed-interval ticker derives
// kinematics against the previously sent fix and pushes.
type TrackingService struct {
	// Configuration fields
	interval     time.Duration
	agentVersion string

	// Dependencies
	vehicleInfo identity.VehicleInfoInterface
	provider    gps.Provider
	sender      ingest.PositionSender
	logger      zerolog.Logger
	onStatus    StatusHandler

	// Internal state management
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	fixMu     sync.Mutex
	lastKnown *gps.Fix
	lastSent  *models.Fix

	inFlight      atomic.Bool
	positionsSent atomic.Uint64
}

// NewTrackingService creates a new TrackingService instance with the provided configuration.
func NewTrackingService(interval time.Duration, agentVersion string, vehicleInfo identity.VehicleInfoInterface,
	provider gps.Provider, sender ingest.PositionSender, logger zerolog.Logger) *TrackingService {
	return &TrackingService{
		interval:     interval,
		agentVersion: agentVersion,
		vehicleInfo:  vehicleInfo,
		provider:     provider,
		sender:       sender,
		logger:       logger,
	}
}

// SetStatusHandler registers the operator-visible status callback. Must be
// called before Start.
func (t *TrackingService) SetStatusHandler(fn StatusHandler) {
	t.onStatus = fn
}

// PositionsSent returns the number of successfully pushed records.
func (t *TrackingService) PositionsSent() uint64 {
	return t.positionsSent.Load()
}

// Start begins tracking: one immediate sample-and-push, a passive sensor
// watch, and the fixed-interval publish loop.
func (t *TrackingService) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		t.logger.Warn().Msg("TrackingService is already running")
		return errors.New("tracking service is already running")
	}

	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.running = true

	watch, err := t.provider.Watch(t.ctx)
	if err != nil {
		t.cancel()
		t.running = false
		t.surface(constants.TrackingStatusGPSError, gps.Classify(err))
		return err
	}

	// Passive watch: updates the last-known fix, never pushes by itself.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			select {
			case fix, ok := <-watch:
				if !ok {
					return
				}
				t.setLastKnown(fix)
			case <-t.ctx.Done():
				return
			}
		}
	}()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.runPublishLoop()
	}()

	t.logger.Info().
		Str("vehicle_id", t.vehicleInfo.GetVehicleID()).
		Dur("interval", t.interval).
		Msg("TrackingService started")
	return nil
}

// Stop cancels the watch and the publish loop and discards in-memory fixes.
// An in-flight push may still complete; no further ticks fire afterwards.
func (t *TrackingService) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		t.logger.Warn().Msg("TrackingService is not running")
		return errors.New("tracking service is not running")
	}

	t.cancel()
	t.wg.Wait()

	t.fixMu.Lock()
	t.lastKnown = nil
	t.lastSent = nil
	t.fixMu.Unlock()

	t.running = false
	t.logger.Info().Msg("TrackingService stopped")
	return nil
}

func (t *TrackingService) runPublishLoop() {
	// Immediate first sample so the dashboard sees the vehicle right away.
	if fix, err := t.provider.CurrentFix(t.ctx); err != nil {
		if t.ctx.Err() == nil {
			classified := gps.Classify(err)
			t.logger.Error().Err(err).Msg("Failed to get initial fix from sensor")
			t.surface(constants.TrackingStatusGPSError, classified)
		}
	} else {
		t.setLastKnown(fix)
		t.publishTick()
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.publishTick()
		case <-t.ctx.Done():
			t.logger.Info().Msg("TrackingService publish loop stopping")
			return
		}
	}
}

// publishTick pushes the current last-known fix. A tick that fires while a
// previous push is still outstanding is skipped; failed pushes are never
// queued, the next tick retries independently.
func (t *TrackingService) publishTick() {
	if !t.inFlight.CompareAndSwap(false, true) {
		t.logger.Warn().Msg("Previous position push still in flight, skipping tick")
		return
	}

	fix := t.takeCurrentFix()
	if fix == nil {
		t.inFlight.Store(false)
		t.logger.Debug().Msg("No fix available yet, skipping tick")
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.inFlight.Store(false)
		t.push(*fix)
	}()
}

func (t *TrackingService) takeCurrentFix() *models.Fix {
	t.fixMu.Lock()
	defer t.fixMu.Unlock()

	if t.lastKnown == nil {
		return nil
	}
	return &models.Fix{
		VehicleID: t.vehicleInfo.GetVehicleID(),
		Latitude:  t.lastKnown.Latitude,
		Longitude: t.lastKnown.Longitude,
		Altitude:  t.lastKnown.Altitude,
		Accuracy:  t.lastKnown.Accuracy,
		Timestamp: t.lastKnown.Timestamp,
	}
}

func (t *TrackingService) push(fix models.Fix) {
	if !fix.Valid() {
		t.logger.Error().
			Float64("lat", fix.Latitude).
			Float64("lon", fix.Longitude).
			Msg("Refusing to send fix with degenerate coordinates")
		return
	}

	t.fixMu.Lock()
	prev := t.lastSent
	t.fixMu.Unlock()

	var speedKmh, headingDeg float64
	if prev != nil {
		// Out-of-order samples would violate the per-vehicle timestamp
		// ordering subscribers rely on; drop them here.
		if !fix.Timestamp.After(prev.Timestamp) {
			t.logger.Warn().
				Time("fix", fix.Timestamp).
				Time("last_sent", prev.Timestamp).
				Msg("Dropping out-of-order fix")
			return
		}

		var err error
		speedKmh, headingDeg, err = geo.Estimate(*prev, fix)
		if err != nil {
			t.logger.Error().Err(err).Msg("Kinematic derivation failed, dropping fix")
			return
		}
	}

	sub := models.PositionSubmission{
		VehicleID:    fix.VehicleID,
		Latitude:     fix.Latitude,
		Longitude:    fix.Longitude,
		Altitude:     fix.Altitude,
		Accuracy:     &fix.Accuracy,
		SpeedKmh:     speedKmh,
		HeadingDeg:   headingDeg,
		Timestamp:    &fix.Timestamp,
		AgentVersion: t.agentVersion,
	}

	// The push gets its own deadline so a Stop during flight lets it finish.
	ctx, cancel := context.WithTimeout(context.Background(), constants.PushTimeout)
	defer cancel()

	stored, err := t.sender.Send(ctx, sub)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to push position record")
		t.surface(constants.TrackingStatusOffline, err)
		return
	}

	t.fixMu.Lock()
	t.lastSent = &fix
	t.fixMu.Unlock()

	t.positionsSent.Add(1)
	t.surface(constants.TrackingStatusOK, nil)
	t.logger.Debug().
		Str("position_id", stored.ID).
		Float64("speed_kmh", speedKmh).
		Float64("heading_deg", headingDeg).
		Msg("Position published successfully")
}

func (t *TrackingService) setLastKnown(fix gps.Fix) {
	t.fixMu.Lock()
	t.lastKnown = &fix
	t.fixMu.Unlock()
}

func (t *TrackingService) surface(status string, err error) {
	if t.onStatus != nil {
		t.onStatus(status, err)
	}
}
