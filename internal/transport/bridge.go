package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/models"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// Bridge republishes broker broadcasts to MQTT. Fleet snapshots are
// enriched before publishing so dashboards can reconcile markers without a
// second round trip; per-vehicle records go out raw.
type Bridge struct {
	topicPrefix string
	qos         int

	positions  *broker.Broker
	enrich     *enricher.Enricher
	mqttClient mqtt.MQTTClient
	logger     zerolog.Logger

	sub     *broker.AllSubscription
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewBridge creates a broadcast bridge over the given broker and MQTT client.
func NewBridge(topicPrefix string, qos int, positions *broker.Broker, enrich *enricher.Enricher,
	mqttClient mqtt.MQTTClient, logger zerolog.Logger) *Bridge {
	return &Bridge{
		topicPrefix: topicPrefix,
		qos:         qos,
		positions:   positions,
		enrich:      enrich,
		mqttClient:  mqttClient,
		logger:      logger,
	}
}

// Start subscribes to the broker's snapshot stream and begins republishing.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.logger.Warn().Msg("Bridge is already running")
		return errors.New("bridge is already running")
	}

	b.sub = b.positions.SubscribeAll()
	b.running = true

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for snap := range b.sub.C {
			b.publishSnapshot(snap)
		}
		b.logger.Info().Msg("Bridge snapshot loop stopping")
	}()

	b.logger.Info().Str("topic", FleetTopic(b.topicPrefix)).Msg("Bridge started")
	return nil
}

// Stop cancels the broker subscription and waits for the loop to drain.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		b.logger.Warn().Msg("Bridge is not running")
		return errors.New("bridge is not running")
	}

	b.sub.Cancel()
	b.wg.Wait()

	b.running = false
	b.logger.Info().Msg("Bridge stopped")
	return nil
}

// PublishRecord pushes one accepted record to the vehicle's own topic.
// Called on the ingestion path after a successful broker submit; a publish
// failure is a transient transport error, never an ingestion failure.
func (b *Bridge) PublishRecord(rec models.PositionRecord) {
	payload, err := json.Marshal(rec)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to serialize position record")
		return
	}

	topic := VehicleTopic(b.topicPrefix, rec.VehicleID)
	if err := b.mqttClient.Publish(topic, byte(b.qos), false, payload); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish vehicle record")
	}
}

func (b *Bridge) publishSnapshot(snap models.Snapshot) {
	enriched := models.EnrichedSnapshot{
		Seq:       snap.Seq,
		Timestamp: snap.Timestamp,
		Positions: b.enrich.EnrichBulk(context.Background(), snap.Positions),
	}

	payload, err := json.Marshal(enriched)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to serialize fleet snapshot")
		return
	}

	topic := FleetTopic(b.topicPrefix)
	if err := b.mqttClient.Publish(topic, byte(b.qos), false, payload); err != nil {
		b.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to publish fleet snapshot")
	}
}
