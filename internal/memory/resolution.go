package memory

import (
	"time"

	"StructPulse/internal/domain/models"
)

// ResolveOutcomes annotates logged events of one timeframe whose resolution
// horizon has elapsed. An event succeeds when price moved beyond the confirm
// threshold in its implied direction by the horizon bar, fails otherwise.
// Failures strengthen the false-positive signature and every pass decays all
// signature weights once.
func (e *Enhancer) ResolveOutcomes(txn *Txn, timeframe string, bars []models.Bar, now time.Time) int {
	unresolved := txn.Unresolved(timeframe)
	if len(unresolved) == 0 {
		return 0
	}

	avg := avgRange(bars)
	if avg <= 0 {
		return 0
	}

	resolvedCount := 0
	quality := txn.Quality()
	for _, rec := range unresolved {
		refIdx := firstBarAfter(bars, rec.Event.End)
		if refIdx < 0 || len(bars)-refIdx < e.cfg.ResolutionHorizonBars {
			continue // horizon not reached yet
		}

		ref := bars[refIdx].Open
		horizon := bars[refIdx+e.cfg.ResolutionHorizonBars-1].Close
		move := horizon - ref
		if rec.Event.Direction == models.Bearish {
			move = -move
		}

		outcome := models.OutcomeFailure
		if move >= e.cfg.ConfirmThreshold*avg {
			outcome = models.OutcomeSuccess
		}
		txn.ResolveOutcome(rec.Event.ID, outcome)

		realized := 0.0
		if outcome == models.OutcomeSuccess {
			realized = 1.0
		} else {
			txn.BumpSignature(Fingerprint(rec.Event), 1.0)
		}
		quality = (1-e.cfg.QualityAlpha)*quality + e.cfg.QualityAlpha*realized
		resolvedCount++
	}

	if resolvedCount > 0 {
		txn.SetQuality(quality)
		txn.DecaySignatures(e.cfg.SignatureDecay)
	}
	return resolvedCount
}

func firstBarAfter(bars []models.Bar, t time.Time) int {
	for i, b := range bars {
		if b.Timestamp.After(t) {
			return i
		}
	}
	return -1
}

func avgRange(bars []models.Bar) float64 {
	if len(bars) == 0 {
		return 0
	}
	var sum float64
	for _, b := range bars {
		sum += b.Range()
	}
	return sum / float64(len(bars))
}
