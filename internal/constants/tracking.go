package constants

import "time"

const (
	// DefaultPublishInterval is the default cadence for position pushes.
	DefaultPublishInterval = 10 * time.Second

	// DefaultSnapshotInterval bounds how often the broker broadcasts a full
	// fleet snapshot, regardless of the submit rate.
	DefaultSnapshotInterval = 1 * time.Second

	// DefaultHealthInterval is the default cadence for device health reports.
	DefaultHealthInterval = 30 * time.Second

	// PushTimeout bounds one position push to the ingestion endpoint.
	PushTimeout = 5 * time.Second
)

// Tracking statuses surfaced to the vehicle operator.
const (
	// TrackingStatusOK indicates positions are being delivered normally.
	TrackingStatusOK = "ok"
	// TrackingStatusOffline indicates the last push failed; the next tick retries.
	TrackingStatusOffline = "offline"
	// TrackingStatusGPSError indicates the positioning sensor failed.
	TrackingStatusGPSError = "gps_error"
)
