package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// EventKind identifies the structural pattern a detector emitted.
type EventKind string

const (
	KindStructureBreak  EventKind = "structure_break"
	KindCharacterChange EventKind = "character_change"
	KindImbalanceZone   EventKind = "imbalance_zone"
	KindOrderZone       EventKind = "order_zone"
)

// Direction is the implied directional tendency of an event or bias.
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Opposite returns the inverse direction. Neutral maps to itself.
func (d Direction) Opposite() Direction {
	switch d {
	case Bullish:
		return Bearish
	case Bearish:
		return Bullish
	default:
		return Neutral
	}
}

// PatternEvent is a candidate structural event produced by the detector.
// Immutable after creation; enhancement wraps it, never mutates it.
type PatternEvent struct {
	ID            string            `json:"id"`
	Instrument    string            `json:"instrument"`
	Timeframe     string            `json:"timeframe"`
	Kind          EventKind         `json:"kind"`
	Direction     Direction         `json:"direction"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	RawConfidence float64           `json:"raw_confidence"`
	ZoneLow       float64           `json:"zone_low,omitempty"`
	ZoneHigh      float64           `json:"zone_high,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// ContentID derives a deterministic id from the event content. The same
// detector input always yields the same id; wall-clock never participates.
func (e PatternEvent) ContentID() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%d|%d|%.6f|%.6f|%.6f",
		e.Instrument, e.Timeframe, e.Kind, e.Direction,
		e.Start.UnixNano(), e.End.UnixNano(),
		e.RawConfidence, e.ZoneLow, e.ZoneHigh)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "|%s=%s", k, e.Metadata[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// EnhancedEvent is a PatternEvent annotated with memory-derived fields.
// Suppressed events are still carried so callers can audit suppression.
type EnhancedEvent struct {
	Event              PatternEvent `json:"event"`
	AdjustedConfidence float64      `json:"adjusted_confidence"`
	Suppressed         bool         `json:"suppressed"`
	SuppressionReason  string       `json:"suppression_reason,omitempty"`
	SupportingHistory  []string     `json:"supporting_history,omitempty"`

	// Degradation flags. Downstream consumers use these to tell fully
	// trusted output from degraded output.
	MemoryUnavailable bool `json:"memory_unavailable,omitempty"`
	StaleAuthority    bool `json:"stale_authority,omitempty"`
	CycleTimeout      bool `json:"cycle_timeout,omitempty"`
}

// Outcome is the realized result of a past event, resolved N bars later.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// EventRecord is a past event plus its realized outcome, kept in the
// per-instrument event log as the similarity pool.
type EventRecord struct {
	Event      PatternEvent `json:"event"`
	Outcome    Outcome      `json:"outcome"`
	RecordedAt time.Time    `json:"recorded_at"`
}

// CycleResult is the output of one completed confluence cycle.
type CycleResult struct {
	Instrument  string          `json:"instrument"`
	Seq         uint64          `json:"seq"`
	CompletedAt time.Time       `json:"completed_at"`
	Status      string          `json:"status"`
	Events      []EnhancedEvent `json:"events"`
}

// Cycle status values recorded on CycleResult.
const (
	CycleStatusOK             = "ok"
	CycleStatusStaleAuthority = "stale_authority"
	CycleStatusTimeout        = "cycle_timeout"
)
