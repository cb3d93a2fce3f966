package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/api"
	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/constants"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/transport"
	"github.com/transport-urbain/fleet-tracker/internal/utils"
	"github.com/transport-urbain/fleet-tracker/pkg/file"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

func main() {
	configPath := flag.String("config", "configs/server.yaml", "path to the server configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "trackerd").Logger()

	fileClient := file.NewFileService()
	config, err := utils.LoadServerConfig(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Unique client id so parallel server instances never evict each other.
	clientID := config.MQTT.ClientID + "-" + uuid.New().String()
	mqttClient := mqtt.NewConnectionManager(fileClient, logger)
	if err := mqttClient.Initialize(config.MQTT.Broker, clientID, config.MQTT.CACertificate); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}
	if err := mqttClient.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}

	snapshotInterval := config.Broadcast.SnapshotInterval
	if snapshotInterval <= 0 {
		snapshotInterval = constants.DefaultSnapshotInterval
	}
	positions := broker.NewBroker(snapshotInterval, logger)

	resetAfter := config.Trips.ResetAfter
	if resetAfter <= 0 {
		resetAfter = 30 * time.Minute
	}
	trips := enricher.NewTripTracker(resetAfter)

	registry := enricher.NewHTTPRegistry(config.Registry.BaseURL, config.Registry.Timeout)
	factTTL := config.Registry.FactTTL
	if factTTL <= 0 {
		factTTL = 5 * time.Minute
	}
	enrich := enricher.NewEnricher(registry, positions, trips, factTTL, logger)

	bridge := transport.NewBridge(config.MQTT.TopicPrefix, config.MQTT.QOS, positions, enrich, mqttClient, logger)
	hub := api.NewHub(positions, enrich, logger)

	server, err := api.NewServer(config.HTTP.Address, config.HTTP.ReadTimeout, config.HTTP.WriteTimeout,
		config.HTTP.MinAgentVersion, positions, enrich, trips, bridge, hub, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to build HTTP server")
	}

	if err := positions.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start position broker")
	}
	if err := bridge.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start MQTT bridge")
	}
	if err := hub.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start websocket hub")
	}
	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server")
	}
	logger.Info().Msg("Tracking server started")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")

	shutdownTimeout := config.HTTP.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	_ = server.Stop(shutdownTimeout)
	_ = hub.Stop()
	_ = bridge.Stop()
	_ = positions.Stop()
	mqttClient.Disconnect(250)
}
