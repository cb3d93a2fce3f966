package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/service_registry"
	"github.com/transport-urbain/fleet-tracker/internal/utils"
	"github.com/transport-urbain/fleet-tracker/pkg/file"
	"github.com/transport-urbain/fleet-tracker/pkg/identity"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// agentVersion is stamped at build time with -ldflags "-X main.agentVersion=...".
var agentVersion = "1.2.0"

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to the agent configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "vehicle-agent").Logger()

	fileClient := file.NewFileService()
	config, err := utils.LoadAgentConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	vehicleInfo := identity.NewVehicleInfo(config.Identity.VehicleFile, fileClient)
	if err := vehicleInfo.Load(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load vehicle identity")
	}
	logger = logger.With().Str("vehicle_id", vehicleInfo.GetVehicleID()).Logger()

	clientID := config.MQTT.ClientID + "-" + uuid.New().String()
	mqttClient := mqtt.NewConnectionManager(fileClient, logger)
	if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}
	if err := mqttClient.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}

	registry := service_registry.NewServiceRegistry(mqttClient, fileClient, logger)
	if err := registry.RegisterServices(config, agentVersion, vehicleInfo); err != nil {
		logger.Fatal().Err(err).Msg("Failed to register services")
	}

	if err := registry.StartServices(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start services")
	}
	logger.Info().Str("version", agentVersion).Msg("All services started successfully")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	_ = registry.StopServices()
	mqttClient.Disconnect(250)
}
