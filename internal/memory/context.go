// Package memory implements the persistent historical context and the
// memory-aware enhancement pass. One HistoricalContext exists per instrument
// and is owned exclusively by that instrument's worker; all mutation happens
// through transactions so an abandoned cycle leaves no partial writes.
package memory

import (
	"sync"
	"time"

	"StructPulse/internal/domain/models"
)

type cacheEntry struct {
	enhanced   models.EnhancedEvent
	windowHash uint64
	storedAt   time.Time
}

// HistoricalContext is the per-instrument detection memory: directional bias,
// bounded event log with realized outcomes, decayed false-positive signatures,
// a TTL decision cache and a rolling quality score.
type HistoricalContext struct {
	mu         sync.Mutex
	instrument string
	bias       models.BiasState
	eventLog   []models.EventRecord
	falsePos   map[string]float64
	cache      map[string]cacheEntry
	quality    float64
	degraded   bool

	retention int
	cacheTTL  time.Duration
}

// NewContext creates an empty context for the instrument.
func NewContext(instrument string, cfg Config) *HistoricalContext {
	cfg = cfg.withDefaults()
	return &HistoricalContext{
		instrument: instrument,
		bias:       models.BiasState{Direction: models.Neutral},
		falsePos:   make(map[string]float64),
		cache:      make(map[string]cacheEntry),
		quality:    0.5,
		retention:  cfg.EventLogRetention,
		cacheTTL:   cfg.DecisionCacheTTL,
	}
}

// NewDegradedContext creates an empty context flagged as degraded because its
// persisted record could not be loaded. Enhancement over a degraded context
// always yields baseline confidence and never suppresses.
func NewDegradedContext(instrument string, cfg Config) *HistoricalContext {
	c := NewContext(instrument, cfg)
	c.degraded = true
	return c
}

// FromSnapshot restores a context from its persisted form.
func FromSnapshot(snap *models.ContextSnapshot, cfg Config) *HistoricalContext {
	c := NewContext(snap.Instrument, cfg)
	c.bias = snap.Bias
	c.eventLog = append(c.eventLog, snap.EventLog...)
	for k, v := range snap.FalsePositives {
		c.falsePos[k] = v
	}
	if snap.QualityScore > 0 {
		c.quality = snap.QualityScore
	}
	return c
}

// Instrument returns the owning instrument.
func (c *HistoricalContext) Instrument() string { return c.instrument }

// Degraded reports whether the context runs without trusted memory.
func (c *HistoricalContext) Degraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// Snapshot returns a deep copy of the persistable state. The decision cache
// is process-local and excluded.
func (c *HistoricalContext) Snapshot() models.ContextSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	log := make([]models.EventRecord, len(c.eventLog))
	copy(log, c.eventLog)
	fps := make(map[string]float64, len(c.falsePos))
	for k, v := range c.falsePos {
		fps[k] = v
	}
	return models.ContextSnapshot{
		SchemaVersion:  models.ContextSchemaVersion,
		Instrument:     c.instrument,
		Bias:           c.bias,
		EventLog:       log,
		FalsePositives: fps,
		QualityScore:   c.quality,
		FlushedAt:      time.Now().UTC(),
	}
}

// Reset wipes the context back to empty. Destruction of accumulated memory is
// only ever explicit, never a side effect.
func (c *HistoricalContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bias = models.BiasState{Direction: models.Neutral}
	c.eventLog = nil
	c.falsePos = make(map[string]float64)
	c.cache = make(map[string]cacheEntry)
	c.quality = 0.5
	c.degraded = false
}
