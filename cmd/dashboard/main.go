package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/models"
	"github.com/transport-urbain/fleet-tracker/internal/reconciler"
	"github.com/transport-urbain/fleet-tracker/internal/transport"
	"github.com/transport-urbain/fleet-tracker/pkg/file"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// dashboard is a terminal consumer of the real-time channel: it mirrors
// what a map client does, reconciling markers from fleet snapshots.
func main() {
	brokerURL := flag.String("broker", "tcp://localhost:1883", "MQTT broker address")
	topicPrefix := flag.String("topic-prefix", transport.DefaultTopicPrefix, "topic namespace")
	caCert := flag.String("ca-certificate", "", "path to the CA certificate, empty for plain TCP")
	followVehicle := flag.String("follow", "", "additionally log every record for one vehicle id")
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	fileClient := file.NewFileService()
	mqttClient := mqtt.NewConnectionManager(fileClient, logger)
	clientID := "dashboard-" + uuid.New().String()
	if err := mqttClient.Initialize(*brokerURL, clientID, *caCert); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize MQTT connection")
	}
	if err := mqttClient.Connect(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MQTT broker")
	}

	markers := reconciler.NewReconciler(reconciler.NewConsoleRenderer(logger), logger)

	subscriber := transport.NewSubscriber(*topicPrefix, 0, mqttClient, logger)
	if err := subscriber.SubscribeFleet(func(snap models.EnrichedSnapshot) {
		markers.Apply(snap)
	}); err != nil {
		logger.Fatal().Err(err).Msg("Failed to subscribe to fleet snapshots")
	}

	if *followVehicle != "" {
		err := subscriber.SubscribeVehicle(*followVehicle, func(rec models.PositionRecord) {
			logger.Info().
				Str("vehicle_id", rec.VehicleID).
				Float64("latitude", rec.Latitude).
				Float64("longitude", rec.Longitude).
				Float64("speed_kmh", rec.SpeedKmh).
				Float64("heading_deg", rec.HeadingDeg).
				Msg("Position update")
		})
		if err != nil {
			logger.Fatal().Err(err).Str("vehicle_id", *followVehicle).Msg("Failed to subscribe to vehicle")
		}
	}

	logger.Info().Str("broker", *brokerURL).Msg("Dashboard connected")

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down...")
	_ = subscriber.Close()
	mqttClient.Disconnect(250)
}
