package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/models"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// FleetHandler consumes enriched fleet snapshots.
type FleetHandler func(models.EnrichedSnapshot)

// VehicleHandler consumes single-vehicle position records.
type VehicleHandler func(models.PositionRecord)

// Subscriber is the dashboard-side consumer of the real-time channel. It
// guarantees at most one active subscription per topic and re-subscribes
// on every reconnect, so a transport drop never duplicates deliveries.
type Subscriber struct {
	topicPrefix string
	qos         int
	mqttClient  mqtt.MQTTClient
	logger      zerolog.Logger

	mu       sync.Mutex
	handlers map[string]MQTT.MessageHandler
}

// NewSubscriber creates a subscriber over the given MQTT connection. The
// connection manager's reconnect loop (fixed 5 s backoff) triggers the
// re-subscription of every registered topic.
func NewSubscriber(topicPrefix string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *Subscriber {
	s := &Subscriber{
		topicPrefix: topicPrefix,
		qos:         qos,
		mqttClient:  mqttClient,
		logger:      logger,
		handlers:    make(map[string]MQTT.MessageHandler),
	}
	mqttClient.OnConnect(s.resubscribe)
	return s
}

// SubscribeFleet registers for the fleet-wide snapshot topic. A second
// subscription on the same topic is refused.
func (s *Subscriber) SubscribeFleet(handler FleetHandler) error {
	topic := FleetTopic(s.topicPrefix)
	return s.subscribe(topic, func(_ MQTT.Client, msg MQTT.Message) {
		var snap models.EnrichedSnapshot
		if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to parse fleet snapshot")
			return
		}
		handler(snap)
	})
}

// SubscribeVehicle registers for one vehicle's records.
func (s *Subscriber) SubscribeVehicle(vehicleID string, handler VehicleHandler) error {
	topic := VehicleTopic(s.topicPrefix, vehicleID)
	return s.subscribe(topic, func(_ MQTT.Client, msg MQTT.Message) {
		var rec models.PositionRecord
		if err := json.Unmarshal(msg.Payload(), &rec); err != nil {
			s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to parse position record")
			return
		}
		handler(rec)
	})
}

// UnsubscribeFleet drops the fleet subscription.
func (s *Subscriber) UnsubscribeFleet() error {
	return s.unsubscribe(FleetTopic(s.topicPrefix))
}

// UnsubscribeVehicle drops one vehicle subscription.
func (s *Subscriber) UnsubscribeVehicle(vehicleID string) error {
	return s.unsubscribe(VehicleTopic(s.topicPrefix, vehicleID))
}

// Close drops every subscription held by this subscriber.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	topics := make([]string, 0, len(s.handlers))
	for topic := range s.handlers {
		topics = append(topics, topic)
	}
	s.handlers = make(map[string]MQTT.MessageHandler)
	s.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	return s.mqttClient.Unsubscribe(topics...)
}

func (s *Subscriber) subscribe(topic string, handler MQTT.MessageHandler) error {
	s.mu.Lock()
	if _, exists := s.handlers[topic]; exists {
		s.mu.Unlock()
		return fmt.Errorf("already subscribed to %s", topic)
	}
	s.handlers[topic] = handler
	s.mu.Unlock()

	if err := s.mqttClient.Subscribe(topic, byte(s.qos), handler); err != nil {
		s.mu.Lock()
		delete(s.handlers, topic)
		s.mu.Unlock()
		return err
	}

	s.logger.Info().Str("topic", topic).Msg("Subscribed")
	return nil
}

func (s *Subscriber) unsubscribe(topic string) error {
	s.mu.Lock()
	_, exists := s.handlers[topic]
	delete(s.handlers, topic)
	s.mu.Unlock()

	if !exists {
		return nil
	}
	return s.mqttClient.Unsubscribe(topic)
}

// resubscribe re-establishes every registered subscription after a
// reconnect. Re-subscribing an already-registered topic replaces the
// broker-side subscription instead of adding a second one.
func (s *Subscriber) resubscribe() {
	s.mu.Lock()
	handlers := make(map[string]MQTT.MessageHandler, len(s.handlers))
	for topic, h := range s.handlers {
		handlers[topic] = h
	}
	s.mu.Unlock()

	for topic, handler := range handlers {
		if err := s.mqttClient.Subscribe(topic, byte(s.qos), handler); err != nil {
			s.logger.Warn().Err(err).Str("topic", topic).Msg("Re-subscription failed")
		}
	}
}
