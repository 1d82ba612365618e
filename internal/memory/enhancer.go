package memory

import (
	"time"

	"StructPulse/internal/domain/models"
	"StructPulse/pkg/logger"
)

// SuppressionReasonFalsePositive marks events matching a known bad signature.
const SuppressionReasonFalsePositive = "known_false_positive"

// Enhancer combines a candidate event with historical context, producing an
// adjusted confidence, a suppression verdict and staged context updates.
type Enhancer struct {
	cfg Config
	log *logger.Logger
}

// NewEnhancer creates an Enhancer.
func NewEnhancer(cfg Config, log *logger.Logger) *Enhancer {
	return &Enhancer{cfg: cfg.withDefaults(), log: log}
}

// Config returns the effective enhancer configuration.
func (e *Enhancer) Config() Config { return e.cfg }

// Enhance annotates the candidate with memory-derived confidence and stages
// the resulting context delta on the transaction. The decision cache makes the
// call idempotent: an unchanged window within TTL returns the prior result
// verbatim with no recomputation and no new staging.
func (e *Enhancer) Enhance(txn *Txn, ev models.PatternEvent, windowHash uint64, now time.Time) models.EnhancedEvent {
	fp := Fingerprint(ev)

	if cached, ok := txn.CachedDecision(fp, windowHash, now); ok {
		return cached
	}

	if txn.Degraded() {
		enhanced := models.EnhancedEvent{
			Event:              ev,
			AdjustedConfidence: e.cfg.BaselineConfidence,
			MemoryUnavailable:  true,
		}
		if e.log != nil {
			e.log.Warn("memory_unavailable, baseline confidence",
				logger.String("instrument", ev.Instrument),
				logger.String("event", ev.ID))
		}
		txn.AppendEvent(models.EventRecord{Event: ev, Outcome: models.OutcomeUnknown, RecordedAt: now})
		txn.StoreDecision(fp, windowHash, enhanced, now)
		return enhanced
	}

	matches := txn.SimilarEvents(ev.Kind, ev.Direction, ev.RawConfidence, e.cfg.MagnitudeTolerance, e.cfg.KNearest)
	hist := e.historicalRatio(matches)

	adjusted := e.cfg.BlendRawWeight*ev.RawConfidence +
		e.cfg.BlendHistoryWeight*hist +
		e.cfg.BlendQualityWeight*txn.Quality()
	if adjusted < 0 {
		adjusted = 0
	}
	if adjusted > 1 {
		adjusted = 1
	}

	enhanced := models.EnhancedEvent{
		Event:              ev,
		AdjustedConfidence: adjusted,
		SupportingHistory:  supportingIDs(matches),
	}

	if txn.SignatureWeight(fp) >= e.cfg.SuppressionThreshold {
		enhanced.Suppressed = true
		enhanced.SuppressionReason = SuppressionReasonFalsePositive
	}

	txn.AppendEvent(models.EventRecord{Event: ev, Outcome: models.OutcomeUnknown, RecordedAt: now})
	if e.materialBiasShift(txn, enhanced) {
		txn.SetBias(ev.Direction, ev.End)
	}
	txn.StoreDecision(fp, windowHash, enhanced, now)
	return enhanced
}

// historicalRatio is the success share among resolved matches, or the
// configured baseline when the sample is too thin to trust.
func (e *Enhancer) historicalRatio(matches []models.EventRecord) float64 {
	var success, resolved int
	for _, rec := range matches {
		switch rec.Outcome {
		case models.OutcomeSuccess:
			success++
			resolved++
		case models.OutcomeFailure:
			resolved++
		}
	}
	if resolved < e.cfg.MinSamples {
		return e.cfg.BaselineConfidence
	}
	return float64(success) / float64(resolved)
}

// materialBiasShift decides whether the event flips the stored bias: only
// structural kinds, only unsuppressed, only above the shift threshold.
func (e *Enhancer) materialBiasShift(txn *Txn, enhanced models.EnhancedEvent) bool {
	ev := enhanced.Event
	if ev.Kind != models.KindStructureBreak && ev.Kind != models.KindCharacterChange {
		return false
	}
	if enhanced.Suppressed || enhanced.AdjustedConfidence < e.cfg.BiasShiftConfidence {
		return false
	}
	return ev.Direction != txn.Bias().Direction
}

func supportingIDs(matches []models.EventRecord) []string {
	if len(matches) == 0 {
		return nil
	}
	ids := make([]string, 0, len(matches))
	for _, rec := range matches {
		ids = append(ids, rec.Event.ID)
	}
	return ids
}
