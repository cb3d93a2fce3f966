package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/pkg/file"
)

// MQTTClient defines the interface for an MQTT client with an explicit
// connection lifecycle. It is injected into everything that publishes or
// subscribes; there is no ambient module-level connection.
type MQTTClient interface {
	Connect() error
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) error
	Subscribe(topic string, qos byte, callback MQTT.MessageHandler) error
	Unsubscribe(topics ...string) error
	IsConnected() bool

	// OnConnect registers a callback invoked on every (re)connection,
	// including the first. Subscribers use it to re-establish their
	// subscriptions after a transport drop.
	OnConnect(fn func())
}

// ConnectionManager provides methods for MQTT operations over one managed
// connection with automatic reconnect.
type ConnectionManager struct {
	client     MQTT.Client
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu        sync.Mutex
	onConnect []func()
}

// ReconnectDelay is the fixed backoff between reconnect attempts.
const ReconnectDelay = 5 * time.Second

// NewConnectionManager creates a new, not yet connected manager.
func NewConnectionManager(fileClient file.FileOperations, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		fileClient: fileClient,
		logger:     logger,
	}
}

// Initialize sets up the MQTT client options. An empty caCertPath skips TLS.
func (m *ConnectionManager) Initialize(broker, clientID, caCertPath string) error {
	opts := MQTT.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(ReconnectDelay)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(ReconnectDelay)

	if caCertPath != "" {
		caCert, err := m.fileClient.ReadFileRaw(caCertPath)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to append CA certificate")
		}
		opts.SetTLSConfig(&tls.Config{RootCAs: caCertPool})
	}

	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		m.logger.Warn().Err(err).Msg("MQTT connection lost, reconnecting")
	})
	opts.SetOnConnectHandler(func(_ MQTT.Client) {
		m.logger.Info().Str("broker", broker).Msg("MQTT connected")
		m.mu.Lock()
		callbacks := make([]func(), len(m.onConnect))
		copy(callbacks, m.onConnect)
		m.mu.Unlock()
		for _, fn := range callbacks {
			fn()
		}
	})

	m.client = MQTT.NewClient(opts)
	return nil
}

// Connect establishes the connection to the MQTT broker.
func (m *ConnectionManager) Connect() error {
	token := m.client.Connect()
	token.Wait()
	return token.Error()
}

// Disconnect gracefully disconnects the MQTT client.
func (m *ConnectionManager) Disconnect(quiesce uint) {
	m.client.Disconnect(quiesce)
}

// Publish sends a message to the specified topic.
func (m *ConnectionManager) Publish(topic string, qos byte, retained bool, payload interface{}) error {
	token := m.client.Publish(topic, qos, retained, payload)
	token.Wait()
	return token.Error()
}

// Subscribe subscribes to the specified topic with a message handler.
func (m *ConnectionManager) Subscribe(topic string, qos byte, callback MQTT.MessageHandler) error {
	token := m.client.Subscribe(topic, qos, callback)
	token.Wait()
	return token.Error()
}

// Unsubscribe unsubscribes from the specified topics.
func (m *ConnectionManager) Unsubscribe(topics ...string) error {
	token := m.client.Unsubscribe(topics...)
	token.Wait()
	return token.Error()
}

// IsConnected reports whether the underlying client is currently connected.
func (m *ConnectionManager) IsConnected() bool {
	return m.client != nil && m.client.IsConnected()
}

// OnConnect registers a reconnection callback.
func (m *ConnectionManager) OnConnect(fn func()) {
	m.mu.Lock()
	m.onConnect = append(m.onConnect, fn)
	m.mu.Unlock()
}
