package models

import "time"

// Snapshot is one full-fleet broadcast. Seq increases monotonically per
// broker so that late-arriving snapshots can be dropped by consumers.
type Snapshot struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Positions []PositionRecord `json:"positions"`
}

// EnrichedSnapshot is a Snapshot after the registry join.
type EnrichedSnapshot struct {
	Seq       uint64             `json:"seq"`
	Timestamp time.Time          `json:"timestamp"`
	Positions []EnrichedPosition `json:"positions"`
}
