package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/transport-urbain/fleet-tracker/internal/broker"
	"github.com/transport-urbain/fleet-tracker/internal/enricher"
	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// Hub fans enriched fleet snapshots out to websocket clients. A client
// that connects between broadcasts immediately receives the last snapshot
// so the map renders without waiting a full interval.
type Hub struct {
	positions *broker.Broker
	enrich    *enricher.Enricher
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]struct{}
	last      []byte

	sub     *broker.AllSubscription
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewHub creates a websocket hub over the broker's snapshot stream.
func NewHub(positions *broker.Broker, enrich *enricher.Enricher, logger zerolog.Logger) *Hub {
	return &Hub{
		positions: positions,
		enrich:    enrich,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]struct{}),
	}
}

// Start subscribes to the broker and begins broadcasting.
func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		h.logger.Warn().Msg("Websocket hub is already running")
		return errors.New("websocket hub is already running")
	}

	h.sub = h.positions.SubscribeAll()
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for snap := range h.sub.C {
			h.broadcast(snap)
		}
		h.logger.Info().Msg("Websocket hub broadcast loop stopping")
	}()

	h.logger.Info().Msg("Websocket hub started")
	return nil
}

// Stop cancels the broker subscription and closes every client.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		h.logger.Warn().Msg("Websocket hub is not running")
		return errors.New("websocket hub is not running")
	}

	h.sub.Cancel()
	h.wg.Wait()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close()
	}
	h.clients = make(map[*websocket.Conn]struct{})
	h.clientsMu.Unlock()

	h.running = false
	h.logger.Info().Msg("Websocket hub stopped")
	return nil
}

func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	// The catch-up write happens before the conn joins the broadcast set.
	// gorilla allows only one concurrent writer per conn; registering first
	// would let the broadcast loop write while this write is in progress.
	h.clientsMu.Lock()
	last := h.last
	h.clientsMu.Unlock()

	if last != nil {
		if err := conn.WriteMessage(websocket.TextMessage, last); err != nil {
			_ = conn.Close()
			return
		}
	}

	h.clientsMu.Lock()
	h.clients[conn] = struct{}{}
	h.clientsMu.Unlock()

	go h.readPump(conn)
}

// readPump drains client frames until the connection drops. Clients never
// send application data; the read loop only detects disconnects.
func (h *Hub) readPump(conn *websocket.Conn) {
	defer h.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.clientsMu.Lock()
	delete(h.clients, conn)
	h.clientsMu.Unlock()
	_ = conn.Close()
}

func (h *Hub) broadcast(snap models.Snapshot) {
	enriched := models.EnrichedSnapshot{
		Seq:       snap.Seq,
		Timestamp: snap.Timestamp,
		Positions: h.enrich.EnrichBulk(context.Background(), snap.Positions),
	}
	payload, err := json.Marshal(enriched)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to serialize websocket snapshot")
		return
	}

	h.clientsMu.Lock()
	h.last = payload
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
	h.clientsMu.Unlock()
}
