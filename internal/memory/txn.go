package memory

import (
	"time"

	"StructPulse/internal/domain/models"
)

// Txn is a cycle-scoped transaction over a HistoricalContext. It holds the
// per-instrument exclusive lock for its whole lifetime, stages every proposed
// mutation, and lets reads within the same cycle observe the staged state.
// Commit applies everything at once; Abort discards everything, leaving the
// context exactly as it was before the cycle started.
type Txn struct {
	c *HistoricalContext

	bias        models.BiasState
	biasChanged bool

	appended    []models.EventRecord
	outcomes    map[string]models.Outcome
	fpBumps     map[string]float64
	decayFactor float64
	cacheWrites map[string]cacheEntry

	quality        float64
	qualityChanged bool

	done bool
}

// Begin opens a transaction and takes the instrument's exclusive guard.
func (c *HistoricalContext) Begin() *Txn {
	c.mu.Lock()
	return &Txn{
		c:           c,
		outcomes:    make(map[string]models.Outcome),
		fpBumps:     make(map[string]float64),
		decayFactor: 1,
		cacheWrites: make(map[string]cacheEntry),
	}
}

// Commit applies all staged mutations atomically and releases the guard.
func (t *Txn) Commit() {
	if t.done {
		return
	}
	t.done = true
	c := t.c

	for id, outcome := range t.outcomes {
		for i := range c.eventLog {
			if c.eventLog[i].Event.ID == id {
				c.eventLog[i].Outcome = outcome
				break
			}
		}
	}

	c.eventLog = append(c.eventLog, t.appended...)
	if len(c.eventLog) > c.retention {
		trimmed := make([]models.EventRecord, c.retention)
		copy(trimmed, c.eventLog[len(c.eventLog)-c.retention:])
		c.eventLog = trimmed
	}

	if t.decayFactor != 1 {
		for k, v := range c.falsePos {
			c.falsePos[k] = v * t.decayFactor
		}
	}
	for k, v := range t.fpBumps {
		c.falsePos[k] += v
	}

	if t.biasChanged && t.bias.Direction != c.bias.Direction {
		c.bias = t.bias
		// cached decisions were made under the old bias
		c.cache = make(map[string]cacheEntry)
	} else if t.biasChanged {
		c.bias = t.bias
	}

	for k, v := range t.cacheWrites {
		c.cache[k] = v
	}

	if t.qualityChanged {
		c.quality = t.quality
	}

	c.mu.Unlock()
}

// Abort discards all staged mutations and releases the guard.
func (t *Txn) Abort() {
	if t.done {
		return
	}
	t.done = true
	t.c.mu.Unlock()
}

// Degraded reports whether the underlying context runs without trusted memory.
func (t *Txn) Degraded() bool { return t.c.degraded }

// Bias returns the staged-aware bias.
func (t *Txn) Bias() models.BiasState {
	if t.biasChanged {
		return t.bias
	}
	return t.c.bias
}

// SetBias stages a bias update.
func (t *Txn) SetBias(dir models.Direction, at time.Time) {
	t.bias = models.BiasState{Direction: dir, UpdatedAt: at}
	t.biasChanged = true
}

// Quality returns the staged-aware rolling quality score.
func (t *Txn) Quality() float64 {
	if t.qualityChanged {
		return t.quality
	}
	return t.c.quality
}

// SetQuality stages a quality score update.
func (t *Txn) SetQuality(q float64) {
	t.quality = q
	t.qualityChanged = true
}

// AppendEvent stages an event-log append. An id already present in the log
// (committed or staged) is skipped so re-detection of the same event on a
// grown window never duplicates history.
func (t *Txn) AppendEvent(rec models.EventRecord) {
	id := rec.Event.ID
	for i := range t.c.eventLog {
		if t.c.eventLog[i].Event.ID == id {
			return
		}
	}
	for i := range t.appended {
		if t.appended[i].Event.ID == id {
			return
		}
	}
	t.appended = append(t.appended, rec)
}

// ResolveOutcome stages the outcome annotation for a logged event. Outcome
// annotation is the only permitted post-hoc mutation of the event log.
func (t *Txn) ResolveOutcome(id string, outcome models.Outcome) {
	t.outcomes[id] = outcome
}

// BumpSignature stages a false-positive signature strengthening.
func (t *Txn) BumpSignature(fp string, delta float64) {
	t.fpBumps[fp] += delta
}

// DecaySignatures stages a uniform decay of all signature weights.
func (t *Txn) DecaySignatures(factor float64) {
	if factor > 0 && factor <= 1 {
		t.decayFactor *= factor
	}
}

// SignatureWeight returns the staged-aware decay-weighted signature weight.
func (t *Txn) SignatureWeight(fp string) float64 {
	w := t.c.falsePos[fp] * t.decayFactor
	return w + t.fpBumps[fp]
}

// CachedDecision returns the cached enhanced event for the fingerprint when
// the underlying window is unchanged and the entry is within TTL.
func (t *Txn) CachedDecision(fp string, windowHash uint64, now time.Time) (models.EnhancedEvent, bool) {
	e, ok := t.cacheWrites[fp]
	if !ok {
		e, ok = t.c.cache[fp]
	}
	if !ok {
		return models.EnhancedEvent{}, false
	}
	if e.windowHash != windowHash {
		return models.EnhancedEvent{}, false
	}
	if now.Sub(e.storedAt) > t.c.cacheTTL {
		return models.EnhancedEvent{}, false
	}
	return e.enhanced, true
}

// StoreDecision stages a decision-cache write.
func (t *Txn) StoreDecision(fp string, windowHash uint64, enhanced models.EnhancedEvent, now time.Time) {
	t.cacheWrites[fp] = cacheEntry{enhanced: enhanced, windowHash: windowHash, storedAt: now}
}

// SimilarEvents returns up to k prior events of the same kind and direction
// whose raw confidence lies within tolerance of magnitude, most recent first.
// Staged appends participate so later timeframes in the same cycle see them.
func (t *Txn) SimilarEvents(kind models.EventKind, dir models.Direction, magnitude, tolerance float64, k int) []models.EventRecord {
	var out []models.EventRecord
	match := func(rec models.EventRecord) bool {
		if rec.Event.Kind != kind || rec.Event.Direction != dir {
			return false
		}
		d := rec.Event.RawConfidence - magnitude
		return d <= tolerance && d >= -tolerance
	}
	for i := len(t.appended) - 1; i >= 0 && len(out) < k; i-- {
		if match(t.appended[i]) {
			out = append(out, t.appended[i])
		}
	}
	for i := len(t.c.eventLog) - 1; i >= 0 && len(out) < k; i-- {
		if match(t.c.eventLog[i]) {
			out = append(out, t.c.eventLog[i])
		}
	}
	return out
}

// Unresolved returns committed log entries of the timeframe still awaiting an
// outcome, skipping ones already staged for resolution.
func (t *Txn) Unresolved(timeframe string) []models.EventRecord {
	var out []models.EventRecord
	for _, rec := range t.c.eventLog {
		if rec.Outcome != models.OutcomeUnknown || rec.Event.Timeframe != timeframe {
			continue
		}
		if _, staged := t.outcomes[rec.Event.ID]; staged {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// EventLogLen returns the committed event log length.
func (t *Txn) EventLogLen() int { return len(t.c.eventLog) }
