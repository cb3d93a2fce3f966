// Package api exposes the tracking server's HTTP surface: position
// ingestion, fleet queries, trip statistics, a GTFS-RT export and a
// websocket snapshot feed.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// RecordPublisher pushes accepted records onto the real-time channel.
// Satisfied by the MQTT bridge; nil disables republishing.
type RecordPublisher interface {
	PublishRecord(rec models.PositionRecord)
}

// Server is the tracking server's HTTP front. It owns no position state;
// everything is delegated to the broker, enricher and trip tracker.
type Server struct {
	address         string
	readTimeout     time.Duration
	writeTimeout    time.Duration
	minAgentVersion *semver.Version

	positions *broker.Broker
	enrich    *enricher.Enricher
	trips     *enricher.TripTracker
	publisher RecordPublisher
	hub       *Hub

	validate   *validator.Validate
	logger     zerolog.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// NewServer wires the HTTP layer over the given collaborators.
// minAgentVersion may be empty to accept every agent.
func NewServer(address string, readTimeout, writeTimeout time.Duration, minAgentVersion string,
	positions *broker.Broker, enrich *enricher.Enricher, trips *enricher.TripTracker,
	publisher RecordPublisher, hub *Hub, logger zerolog.Logger) (*Server, error) {

	var minVersion *semver.Version
	if minAgentVersion != "" {
		v, err := semver.NewVersion(minAgentVersion)
		if err != nil {
			return nil, err
		}
		minVersion = v
	}

	s := &Server{
		address:         address,
		readTimeout:     readTimeout,
		writeTimeout:    writeTimeout,
		minAgentVersion: minVersion,
		positions:       positions,
		enrich:          enrich,
		trips:           trips,
		publisher:       publisher,
		hub:             hub,
		validate:        validator.New(),
		logger:          logger,
	}
	s.httpServer = &http.Server{
		Addr:         address,
		Handler:      s.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s, nil
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/positions", s.handleSubmitPosition)
	mux.HandleFunc("GET /api/positions", s.handleListPositions)
	mux.HandleFunc("GET /api/tracking/positions-enriched", s.handleEnrichedPositions)
	mux.HandleFunc("GET /api/trajet/bus/{vehicleId}", s.handleTripInfo)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /gtfs-rt/vehicle-positions", s.handleGTFSRT)
	if s.hub != nil {
		mux.HandleFunc("GET /ws", s.hub.handleWebSocket)
	}

	return s.withLogging(mux)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving in a background goroutine. It returns once the
// listener goroutine is launched; listen errors are logged.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	go func() {
		s.logger.Info().Str("address", s.address).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()
	return nil
}

// Stop shuts the server down gracefully within the given budget.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		return err
	}
	s.logger.Info().Msg("HTTP server stopped")
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}
