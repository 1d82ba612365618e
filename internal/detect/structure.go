package detect

import (
	"strconv"

	"StructPulse/internal/domain/models"
)

// detectStructureBreaks finds closes beyond the most recent confirmed swing in
// the prevailing window direction. Only a fresh break is reported: the bar
// before the last must still have closed on the near side of the swing, so an
// already-broken level does not re-fire on every subsequent window.
func (d *Detector) detectStructureBreaks(instrument, timeframe string, bars []models.Bar) []models.PatternEvent {
	if len(bars) < d.cfg.MinStructureWindow {
		return nil
	}

	dir := prevailingDirection(bars)
	if dir == models.Neutral {
		return nil
	}

	swings := findSwings(bars, d.cfg.SwingStrength)
	atr := averageRange(bars, d.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}

	n := len(bars)
	last := bars[n-1]
	prev := bars[n-2]

	var ev *models.PatternEvent
	switch dir {
	case models.Bullish:
		sw, ok := lastSwing(swings, true, n-1)
		if ok && last.Close > sw.Price && prev.Close <= sw.Price {
			ev = d.breakEvent(instrument, timeframe, bars, sw, models.Bullish, (last.Close-sw.Price)/atr)
		}
	case models.Bearish:
		sw, ok := lastSwing(swings, false, n-1)
		if ok && last.Close < sw.Price && prev.Close >= sw.Price {
			ev = d.breakEvent(instrument, timeframe, bars, sw, models.Bearish, (sw.Price-last.Close)/atr)
		}
	}
	if ev == nil {
		return nil
	}
	return []models.PatternEvent{*ev}
}

func (d *Detector) breakEvent(instrument, timeframe string, bars []models.Bar, sw Swing, dir models.Direction, magnitude float64) *models.PatternEvent {
	return &models.PatternEvent{
		Instrument:    instrument,
		Timeframe:     timeframe,
		Kind:          models.KindStructureBreak,
		Direction:     dir,
		Start:         bars[sw.Index].Timestamp,
		End:           bars[len(bars)-1].Timestamp,
		RawConfidence: clamp01(magnitude),
		Metadata: map[string]string{
			"swing_price": strconv.FormatFloat(sw.Price, 'f', -1, 64),
			"magnitude":   strconv.FormatFloat(magnitude, 'f', 4, 64),
		},
	}
}

// detectCharacterChange finds the first break against the prevailing bias. It
// requires a prior opposite bias to exist; with no established bias there is
// nothing to change character against.
func (d *Detector) detectCharacterChange(instrument, timeframe string, bars []models.Bar, priorBias models.Direction) []models.PatternEvent {
	if priorBias == models.Neutral || len(bars) < d.cfg.MinStructureWindow {
		return nil
	}

	swings := findSwings(bars, d.cfg.SwingStrength)
	atr := averageRange(bars, d.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}

	n := len(bars)
	last := bars[n-1]
	prev := bars[n-2]

	var ev *models.PatternEvent
	switch priorBias {
	case models.Bullish:
		// break below structure while bias is bullish
		sw, ok := lastSwing(swings, false, n-1)
		if ok && last.Close < sw.Price && prev.Close >= sw.Price {
			ev = d.characterEvent(instrument, timeframe, bars, sw, models.Bearish, priorBias, (sw.Price-last.Close)/atr)
		}
	case models.Bearish:
		sw, ok := lastSwing(swings, true, n-1)
		if ok && last.Close > sw.Price && prev.Close <= sw.Price {
			ev = d.characterEvent(instrument, timeframe, bars, sw, models.Bullish, priorBias, (last.Close-sw.Price)/atr)
		}
	}
	if ev == nil {
		return nil
	}
	return []models.PatternEvent{*ev}
}

func (d *Detector) characterEvent(instrument, timeframe string, bars []models.Bar, sw Swing, dir, priorBias models.Direction, magnitude float64) *models.PatternEvent {
	return &models.PatternEvent{
		Instrument:    instrument,
		Timeframe:     timeframe,
		Kind:          models.KindCharacterChange,
		Direction:     dir,
		Start:         bars[sw.Index].Timestamp,
		End:           bars[len(bars)-1].Timestamp,
		RawConfidence: clamp01(magnitude),
		Metadata: map[string]string{
			"swing_price": strconv.FormatFloat(sw.Price, 'f', -1, 64),
			"prior_bias":  string(priorBias),
			"magnitude":   strconv.FormatFloat(magnitude, 'f', 4, 64),
		},
	}
}
