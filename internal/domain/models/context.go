package models

import "time"

// ContextSchemaVersion is the persisted HistoricalContext schema version.
// Records carrying a different version are discarded on load, never migrated
// in place and never allowed to crash the loader.
const ContextSchemaVersion = 1

// BiasState is the current directional bias for an instrument.
type BiasState struct {
	Direction Direction `json:"direction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContextSnapshot is the serializable form of a HistoricalContext.
// One record per instrument; the decision cache is deliberately excluded
// because cached decisions are only valid within a process run.
type ContextSnapshot struct {
	SchemaVersion  int                `json:"schema_version"`
	Instrument     string             `json:"instrument"`
	Bias           BiasState          `json:"bias"`
	EventLog       []EventRecord      `json:"event_log"`
	FalsePositives map[string]float64 `json:"false_positive_signatures"`
	QualityScore   float64            `json:"quality_score"`
	FlushedAt      time.Time          `json:"flushed_at"`
}
