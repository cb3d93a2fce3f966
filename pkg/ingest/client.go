// Package ingest provides the HTTP client vehicles use to push position
// records to the tracking server.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/transport-urbain/fleet-tracker/internal/models"
)

// PositionSender pushes one position submission and returns the record as
// stored by the server.
type PositionSender interface {
	Send(ctx context.Context, sub models.PositionSubmission) (*models.PositionRecord, error)
}

// Client is the HTTP implementation of PositionSender.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an ingestion client for the given server base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the submission to /api/positions and decodes the stored record.
func (c *Client) Send(ctx context.Context, sub models.PositionSubmission) (*models.PositionRecord, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize position submission: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/positions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("position push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("position push rejected with status %d: %s", resp.StatusCode, body)
	}

	var stored models.PositionRecord
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to decode stored position: %w", err)
	}

	return &stored, nil
}
