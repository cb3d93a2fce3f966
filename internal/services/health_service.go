package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/transport-urbain/fleet-tracker/internal/models"
	"github.com/transport-urbain/fleet-tracker/pkg/identity"
	"github.com/transport-urbain/fleet-tracker/pkg/mqtt"
)

// HealthService periodically publishes on-vehicle device health to the
// fleet operations MQTT topic. It rides alongside the tracking service so
// operators can tell a dead agent apart from a parked bus.
type HealthService struct {
	pubTopic     string
	interval     time.Duration
	qos          int
	agentVersion string

	vehicleInfo identity.VehicleInfoInterface
	mqttClient  mqtt.MQTTClient
	tracking    *TrackingService
	logger      zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	statusMu   sync.Mutex
	lastStatus string
}

// NewHealthService initializes a new HealthService.
func NewHealthService(pubTopic string, interval time.Duration, qos int, agentVersion string,
	vehicleInfo identity.VehicleInfoInterface, mqttClient mqtt.MQTTClient,
	tracking *TrackingService, logger zerolog.Logger) *HealthService {
	return &HealthService{
		pubTopic:     pubTopic,
		interval:     interval,
		qos:          qos,
		agentVersion: agentVersion,
		vehicleInfo:  vehicleInfo,
		mqttClient:   mqttClient,
		tracking:     tracking,
		logger:       logger,
	}
}

// RecordTrackingStatus stores the latest operator-visible tracking status;
// wired as the tracking service's status handler.
func (h *HealthService) RecordTrackingStatus(status string, err error) {
	h.statusMu.Lock()
	h.lastStatus = status
	h.statusMu.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("status", status).Msg("Tracking status changed")
	}
}

// Start launches the health publishing loop.
func (h *HealthService) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.logger.Warn().Msg("HealthService is already running")
		return errors.New("health service is already running")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.runHealthLoop()
	}()

	h.logger.Info().Str("topic", h.pubTopic).Msg("HealthService started")
	return nil
}

// Stop gracefully stops the health service.
func (h *HealthService) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		h.logger.Warn().Msg("HealthService is not running")
		return errors.New("health service is not running")
	}

	h.cancel()
	h.wg.Wait()

	h.running = false
	h.logger.Info().Msg("HealthService stopped")
	return nil
}

func (h *HealthService) runHealthLoop() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.publishHealth(); err != nil {
				h.logger.Error().Err(err).Msg("Failed to publish device health")
			}
		case <-h.ctx.Done():
			h.logger.Info().Msg("HealthService loop stopping")
			return
		}
	}
}

func (h *HealthService) publishHealth() error {
	h.statusMu.Lock()
	status := h.lastStatus
	h.statusMu.Unlock()

	report := models.DeviceHealth{
		VehicleID:      h.vehicleInfo.GetVehicleID(),
		Timestamp:      time.Now(),
		AgentVersion:   h.agentVersion,
		TrackingStatus: status,
		PositionsSent:  h.tracking.PositionsSent(),
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		report.CPUPercent = &percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		report.MemoryPercent = &vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		report.UptimeSeconds = uptime
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return err
	}

	return h.mqttClient.Publish(h.pubTopic, byte(h.qos), false, payload)
}
