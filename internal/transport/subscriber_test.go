package transport

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// fakeMQTTClient records subscriptions and publishes, and lets tests
// inject messages. Publishes may come from background goroutines.
type fakeMQTTClient struct {
	mu            sync.Mutex
	subscriptions map[string]MQTT.MessageHandler
	subscribeCnt  map[string]int
	unsubscribed  []string
	published     map[string][][]byte
	onConnect     []func()
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{
		subscriptions: make(map[string]MQTT.MessageHandler),
		subscribeCnt:  make(map[string]int),
		published:     make(map[string][][]byte),
	}
}

func (f *fakeMQTTClient) Connect() error          { return nil }
func (f *fakeMQTTClient) Disconnect(quiesce uint) {}
func (f *fakeMQTTClient) IsConnected() bool       { return true }

func (f *fakeMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	data := payload.([]byte)
	f.mu.Lock()
	f.published[topic] = append(f.published[topic], data)
	handler := f.subscriptions[topic]
	f.mu.Unlock()

	if handler != nil {
		handler(nil, &fakeMessage{topic: topic, payload: data})
	}
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, callback MQTT.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[topic] = callback
	f.subscribeCnt[topic]++
	return nil
}

func (f *fakeMQTTClient) Unsubscribe(topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range topics {
		delete(f.subscriptions, t)
		f.unsubscribed = append(f.unsubscribed, t)
	}
	return nil
}

func (f *fakeMQTTClient) OnConnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onConnect = append(f.onConnect, fn)
}

// publishedOn returns every payload published to a topic so far.
func (f *fakeMQTTClient) publishedOn(topic string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.published[topic]...)
}

// simulateReconnect replays what the connection manager does after a drop.
func (f *fakeMQTTClient) simulateReconnect() {
	f.mu.Lock()
	callbacks := append(([]func())(nil), f.onConnect...)
	f.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func enrichedSnapshot(seq uint64) models.EnrichedSnapshot {
	return models.EnrichedSnapshot{
		Seq:       seq,
		Timestamp: time.Now(),
		Positions: []models.EnrichedPosition{{
			Position: models.PositionRecord{
				ID:        "pos-1",
				VehicleID: "B-001",
				Latitude:  33.5731,
				Longitude: -7.5898,
				Timestamp: time.Now(),
			},
			Facts: &models.VehicleFacts{ID: "B-001"},
		}},
	}
}

func TestSubscriber_FleetDelivery(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	var received []uint64
	require.NoError(t, sub.SubscribeFleet(func(snap models.EnrichedSnapshot) {
		received = append(received, snap.Seq)
	}))

	payload, _ := json.Marshal(enrichedSnapshot(7))
	require.NoError(t, client.Publish(FleetTopic(DefaultTopicPrefix), 0, false, payload))

	assert.Equal(t, []uint64{7}, received)
}

func TestSubscriber_RefusesDuplicateTopicSubscription(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	require.NoError(t, sub.SubscribeFleet(func(models.EnrichedSnapshot) {}))
	assert.Error(t, sub.SubscribeFleet(func(models.EnrichedSnapshot) {}))

	require.NoError(t, sub.SubscribeVehicle("B-001", func(models.PositionRecord) {}))
	assert.Error(t, sub.SubscribeVehicle("B-001", func(models.PositionRecord) {}))

	// Different vehicle is a different topic.
	assert.NoError(t, sub.SubscribeVehicle("B-002", func(models.PositionRecord) {}))
}

func TestSubscriber_ReconnectKeepsSingleSubscription(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	deliveries := 0
	require.NoError(t, sub.SubscribeFleet(func(models.EnrichedSnapshot) {
		deliveries++
	}))

	client.simulateReconnect()

	payload, _ := json.Marshal(enrichedSnapshot(1))
	require.NoError(t, client.Publish(FleetTopic(DefaultTopicPrefix), 0, false, payload))

	// One broadcast, one delivery, even after a reconnect.
	assert.Equal(t, 1, deliveries)
}

func TestSubscriber_UnsubscribeStopsDelivery(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	var received []models.PositionRecord
	require.NoError(t, sub.SubscribeVehicle("B-001", func(rec models.PositionRecord) {
		received = append(received, rec)
	}))
	require.NoError(t, sub.UnsubscribeVehicle("B-001"))

	payload, _ := json.Marshal(models.PositionRecord{ID: "pos-1", VehicleID: "B-001"})
	require.NoError(t, client.Publish(VehicleTopic(DefaultTopicPrefix, "B-001"), 0, false, payload))

	assert.Empty(t, received)
	assert.Contains(t, client.unsubscribed, VehicleTopic(DefaultTopicPrefix, "B-001"))

	// A fresh subscription on the same topic is allowed again.
	assert.NoError(t, sub.SubscribeVehicle("B-001", func(models.PositionRecord) {}))
}

func TestSubscriber_CloseDropsEverything(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	require.NoError(t, sub.SubscribeFleet(func(models.EnrichedSnapshot) {}))
	require.NoError(t, sub.SubscribeVehicle("B-001", func(models.PositionRecord) {}))

	require.NoError(t, sub.Close())
	assert.Len(t, client.unsubscribed, 2)

	// Reconnect after Close re-subscribes nothing.
	client.simulateReconnect()
	assert.Empty(t, client.subscriptions)
}

func TestSubscriber_MalformedPayloadSkipped(t *testing.T) {
	client := newFakeMQTTClient()
	sub := NewSubscriber(DefaultTopicPrefix, 0, client, zerolog.Nop())

	calls := 0
	require.NoError(t, sub.SubscribeFleet(func(models.EnrichedSnapshot) { calls++ }))

	require.NoError(t, client.Publish(FleetTopic(DefaultTopicPrefix), 0, false, []byte("{not json")))
	assert.Equal(t, 0, calls)

	payload, _ := json.Marshal(enrichedSnapshot(1))
	require.NoError(t, client.Publish(FleetTopic(DefaultTopicPrefix), 0, false, payload))
	assert.Equal(t, 1, calls)
}
