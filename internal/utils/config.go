package utils

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/transport-urbain/fleet-tracker/pkg/file"
)

// ServerConfig is the configuration for the tracking server.
// Durations are given in seconds in the YAML file and normalized on load.
type ServerConfig struct {
	HTTP struct {
		Address         string        `yaml:"address" validate:"required"`                   // Listen address, e.g. ":8080"
		ReadTimeout     time.Duration `yaml:"read_timeout"`                                  // HTTP read timeout (in seconds)
		WriteTimeout    time.Duration `yaml:"write_timeout"`                                 // HTTP write timeout (in seconds)
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`                              // Graceful shutdown budget (in seconds)
		MinAgentVersion string        `yaml:"min_agent_version" validate:"omitempty,semver"` // Oldest accepted agent version
	} `yaml:"http"`

	MQTT struct {
		Broker        string `yaml:"broker" validate:"required"` // MQTT broker address
		ClientID      string `yaml:"client_id" validate:"required"`
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
		TopicPrefix   string `yaml:"topic_prefix"`   // Topic namespace, defaults to "fleet"
		QOS           int    `yaml:"qos" validate:"gte=0,lte=2"`
	} `yaml:"mqtt"`

	Registry struct {
		BaseURL string        `yaml:"base_url" validate:"required,url"` // Fleet registry API
		Timeout time.Duration `yaml:"timeout"`                          // Registry request timeout (in seconds)
		FactTTL time.Duration `yaml:"fact_ttl"`                         // How long vehicle facts stay cached (in seconds)
	} `yaml:"registry"`

	Broadcast struct {
		SnapshotInterval time.Duration `yaml:"snapshot_interval"` // Fleet snapshot throttle (in seconds)
	} `yaml:"broadcast"`

	Trips struct {
		ResetAfter time.Duration `yaml:"reset_after"` // Silence window before a trip restarts (in seconds)
	} `yaml:"trips"`
}

// AgentConfig is the configuration for the on-vehicle agent.
// Durations are given in seconds in the YAML file and normalized on load.
type AgentConfig struct {
	Server struct {
		BaseURL string        `yaml:"base_url" validate:"required,url"` // Tracking server ingestion endpoint
		Timeout time.Duration `yaml:"timeout"`                          // Push request timeout (in seconds)
	} `yaml:"server"`

	MQTT struct {
		Broker        string `yaml:"broker" validate:"required"`
		ClientID      string `yaml:"client_id" validate:"required"`
		CACertificate string `yaml:"ca_certificate"`
		TopicPrefix   string `yaml:"topic_prefix"`
		QOS           int    `yaml:"qos" validate:"gte=0,lte=2"`
	} `yaml:"mqtt"`

	Identity struct {
		VehicleFile string `yaml:"vehicle_file" validate:"required"` // Path to the vehicle identity file
	} `yaml:"identity"`

	Tracking struct {
		Interval          time.Duration `yaml:"interval"`        // Interval between position pushes (in seconds)
		SensorBased       bool          `yaml:"sensor_based"`    // Use GPS sensor or geo-location API
		MapsAPIKey        string        `yaml:"maps_api_key"`    // Google maps API key for the network fallback
		GPSDevicePort     string        `yaml:"gps_device_port"` // UNIX port where the GPS sensor is mounted
		GPSDeviceBaudRate int           `yaml:"gps_baud_rate"`   // Baud rate for the GPS sensor
	} `yaml:"tracking"`

	Health struct {
		Enabled  bool          `yaml:"enabled"`
		Interval time.Duration `yaml:"interval"` // Interval between health reports (in seconds)
	} `yaml:"health"`
}

// LoadServerConfig loads and validates the server YAML configuration.
func LoadServerConfig(filename string, fileClient file.FileOperations) (*ServerConfig, error) {
	var config ServerConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}
	if config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "fleet"
	}
	config.HTTP.ReadTimeout *= time.Second
	config.HTTP.WriteTimeout *= time.Second
	config.HTTP.ShutdownTimeout *= time.Second
	config.Registry.Timeout *= time.Second
	config.Registry.FactTTL *= time.Second
	config.Broadcast.SnapshotInterval *= time.Second
	config.Trips.ResetAfter *= time.Second
	if err := validator.New().Struct(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// LoadAgentConfig loads and validates the agent YAML configuration.
func LoadAgentConfig(filename string, fileClient file.FileOperations) (*AgentConfig, error) {
	var config AgentConfig
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}
	if config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "fleet"
	}
	config.Server.Timeout *= time.Second
	config.Tracking.Interval *= time.Second
	config.Health.Interval *= time.Second
	if err := validator.New().Struct(&config); err != nil {
		return nil, err
	}
	return &config, nil
}
