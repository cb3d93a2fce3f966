package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"

	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleSubmitPosition accepts one position push from a vehicle agent,
// assigns the server-side id and timestamp, and stores and republishes it.
func (s *Server) handleSubmitPosition(w http.ResponseWriter, r *http.Request) {
	var sub models.PositionSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(&sub); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid submission: %v", err))
		return
	}
	if err := s.checkAgentVersion(sub.AgentVersion); err != nil {
		writeError(w, http.StatusUpgradeRequired, err.Error())
		return
	}

	timestamp := time.Now().UTC()
	if sub.Timestamp != nil {
		timestamp = sub.Timestamp.UTC()
	}
	rec := models.PositionRecord{
		ID:         uuid.New().String(),
		VehicleID:  sub.VehicleID,
		Latitude:   sub.Latitude,
		Longitude:  sub.Longitude,
		Altitude:   sub.Altitude,
		Accuracy:   sub.Accuracy,
		SpeedKmh:   sub.SpeedKmh,
		HeadingDeg: sub.HeadingDeg,
		Timestamp:  timestamp,
	}

	if err := s.positions.Submit(rec); err != nil {
		switch {
		case errors.Is(err, broker.ErrStaleRecord):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, broker.ErrInvalidRecord):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			s.logger.Error().Err(err).Str("vehicle_id", rec.VehicleID).Msg("Failed to store position")
			writeError(w, http.StatusInternalServerError, "failed to store position")
		}
		return
	}

	s.trips.Observe(rec)
	if s.publisher != nil {
		s.publisher.PublishRecord(rec)
	}

	writeJSON(w, http.StatusCreated, rec)
}

// checkAgentVersion rejects pushes from agents older than the configured
// floor. Agents that do not report a version are let through.
func (s *Server) checkAgentVersion(version string) error {
	if s.minAgentVersion == nil || version == "" {
		return nil
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("unparseable agent version %q", version)
	}
	if v.LessThan(s.minAgentVersion) {
		return fmt.Errorf("agent version %s is older than the required %s", version, s.minAgentVersion)
	}
	return nil
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	recs := s.positions.Latest()
	sort.Slice(recs, func(i, j int) bool { return recs[i].VehicleID < recs[j].VehicleID })
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleEnrichedPositions(w http.ResponseWriter, r *http.Request) {
	recs := s.positions.Latest()
	sort.Slice(recs, func(i, j int) bool { return recs[i].VehicleID < recs[j].VehicleID })
	writeJSON(w, http.StatusOK, s.enrich.EnrichBulk(r.Context(), recs))
}

func (s *Server) handleTripInfo(w http.ResponseWriter, r *http.Request) {
	vehicleID := r.PathValue("vehicleId")

	info, err := s.enrich.TripInfo(r.Context(), vehicleID)
	if err != nil {
		if errors.Is(err, enricher.ErrNoPosition) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no current position for bus %s", vehicleID))
			return
		}
		s.logger.Error().Err(err).Str("vehicle_id", vehicleID).Msg("Failed to build trip info")
		writeError(w, http.StatusInternalServerError, "failed to build trip info")
		return
	}

	writeJSON(w, http.StatusOK, info)
}

type healthResponse struct {
	Status        string `json:"status"`
	Vehicles      int    `json:"vehicles"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "ok",
		Vehicles:      s.positions.VehicleCount(),
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}
