// Package detect implements the stateless structural pattern detectors.
// Every function here is a pure function of its bar window: no I/O, no hidden
// state, no access to historical memory. Identical windows always produce
// identical event sets with identical content-derived ids.
package detect

import (
	"sort"

	"StructPulse/internal/domain/models"
)

// Config holds per-kind detection thresholds.
type Config struct {
	// SwingStrength is the number of bars on each side that must not exceed
	// a candidate swing for it to be confirmed.
	SwingStrength int

	// ATRPeriod is the lookback for the average-range normalizer.
	ATRPeriod int

	// Minimum window sizes per kind. A shorter window yields no events,
	// never an error.
	MinStructureWindow int
	MinImbalanceWindow int
	MinOrderWindow     int

	// DisplacementFactor is the bar-body multiple of average range that
	// qualifies as an institutional displacement move.
	DisplacementFactor float64

	// MaxClusterBars bounds the opposing-bar cluster ahead of a displacement.
	MaxClusterBars int
}

// DefaultConfig returns the detection defaults used when config omits them.
func DefaultConfig() Config {
	return Config{
		SwingStrength:      2,
		ATRPeriod:          14,
		MinStructureWindow: 20,
		MinImbalanceWindow: 3,
		MinOrderWindow:     10,
		DisplacementFactor: 2.0,
		MaxClusterBars:     3,
	}
}

// Detector scans bar windows for structural pattern events.
type Detector struct {
	cfg Config
}

// New creates a Detector. Zero-value config fields fall back to defaults.
func New(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.SwingStrength <= 0 {
		cfg.SwingStrength = def.SwingStrength
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = def.ATRPeriod
	}
	if cfg.MinStructureWindow <= 0 {
		cfg.MinStructureWindow = def.MinStructureWindow
	}
	if cfg.MinImbalanceWindow < 3 {
		cfg.MinImbalanceWindow = def.MinImbalanceWindow
	}
	if cfg.MinOrderWindow <= 0 {
		cfg.MinOrderWindow = def.MinOrderWindow
	}
	if cfg.DisplacementFactor <= 0 {
		cfg.DisplacementFactor = def.DisplacementFactor
	}
	if cfg.MaxClusterBars <= 0 {
		cfg.MaxClusterBars = def.MaxClusterBars
	}
	return &Detector{cfg: cfg}
}

// Detect runs all pattern kinds over the window and returns candidate events
// sorted by end time. priorBias is the caller-supplied directional bias used
// only by character-change detection; passing it in keeps the detector pure.
func (d *Detector) Detect(instrument, timeframe string, bars []models.Bar, priorBias models.Direction) []models.PatternEvent {
	var events []models.PatternEvent

	events = append(events, d.detectStructureBreaks(instrument, timeframe, bars)...)
	events = append(events, d.detectCharacterChange(instrument, timeframe, bars, priorBias)...)
	events = append(events, d.detectImbalanceZones(instrument, timeframe, bars)...)
	events = append(events, d.detectOrderZones(instrument, timeframe, bars)...)

	for i := range events {
		events[i].ID = events[i].ContentID()
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].End.Equal(events[j].End) {
			return events[i].End.Before(events[j].End)
		}
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		return events[i].ID < events[j].ID
	})
	return events
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
