// Package service_registry manages the lifecycle of the on-vehicle agent
// services: ordered startup, reverse-order shutdown, and construction from
// configuration.
package service_registry

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/constants"
	"github.com/transport-urbain/fleet-tracker/internal/services"
	"github.com/transport-urbain/fleet-tracker/internal/transport"
	"github.com/transport-urbain/fleet-tracker/internal/utils"
	"github.com/transport-urbain/fleet-tracker/pkg/file"
	"github.com/transport-urbain/fleet-tracker/pkg/gps"
	"github.com/transport-urbain/fleet-tracker/pkg/identity"
	"github.com/transport-urbain/fleet-tracker/pkg/ingest"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// Service is the lifecycle contract every agent service implements.
type Service interface {
	Start() error
	Stop() error
}

// ServiceRegistry manages the lifecycle of the agent's services.
type ServiceRegistry struct {
	services    map[string]Service
	serviceKeys []string // Maintains order of service registration
	mqttClient  mqtt.MQTTClient
	fileClient  file.FileOperations
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(mqttClient mqtt.MQTTClient, fileClient file.FileOperations, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services:   make(map[string]Service),
		mqttClient: mqttClient,
		fileClient: fileClient,
		Logger:     logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return err
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices constructs and registers the agent services from
// configuration. Tracking always runs; health reporting is optional.
func (sr *ServiceRegistry) RegisterServices(config *utils.AgentConfig, agentVersion string,
	vehicleInfo identity.VehicleInfoInterface) error {

	provider, err := sr.buildProvider(config)
	if err != nil {
		sr.Logger.Error().Err(err).Msg("Failed to create GPS provider")
		return err
	}

	interval := config.Tracking.Interval
	if interval <= 0 {
		interval = constants.DefaultPublishInterval
	}

	sender := ingest.NewClient(config.Server.BaseURL, config.Server.Timeout)
	tracking := services.NewTrackingService(interval, agentVersion, vehicleInfo, provider, sender, sr.Logger)
	sr.RegisterService("tracking", tracking)

	if config.Health.Enabled {
		healthInterval := config.Health.Interval
		if healthInterval <= 0 {
			healthInterval = constants.DefaultHealthInterval
		}
		topic := transport.HealthTopic(config.MQTT.TopicPrefix, vehicleInfo.GetVehicleID())
		health := services.NewHealthService(topic, healthInterval, config.MQTT.QOS,
			agentVersion, vehicleInfo, sr.mqttClient, tracking, sr.Logger)
		tracking.SetStatusHandler(health.RecordTrackingStatus)
		sr.RegisterService("health", health)
	}

	return nil
}

// buildProvider picks the positioning source: the serial NMEA sensor when
// configured, otherwise the geolocation API fallback.
func (sr *ServiceRegistry) buildProvider(config *utils.AgentConfig) (gps.Provider, error) {
	if config.Tracking.SensorBased {
		return gps.NewSerialNMEAProvider(config.Tracking.GPSDevicePort, config.Tracking.GPSDeviceBaudRate), nil
	}
	return gps.NewNetworkProvider(config.Tracking.MapsAPIKey)
}
