package detect

import (
	"strconv"
	"time"

	"StructPulse/internal/domain/models"
)

// detectImbalanceZones finds three-bar inefficiencies: a gap between bar[i-1]
// and bar[i+1] left by the middle bar. Zones already traded fully through
// within the window are skipped; fill tracking for zones emitted on earlier
// windows is the dedicated fill-check pass (ZoneFilled), not the detector.
func (d *Detector) detectImbalanceZones(instrument, timeframe string, bars []models.Bar) []models.PatternEvent {
	if len(bars) < d.cfg.MinImbalanceWindow {
		return nil
	}

	atr := averageRange(bars, d.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}

	var events []models.PatternEvent
	for i := 1; i < len(bars)-1; i++ {
		prev, next := bars[i-1], bars[i+1]

		if prev.High < next.Low {
			zone := zoneEvent(instrument, timeframe, models.Bullish, prev.High, next.Low, prev.Timestamp, next.Timestamp, atr)
			if !filledWithin(bars[i+2:], zone) {
				events = append(events, zone)
			}
		}
		if prev.Low > next.High {
			zone := zoneEvent(instrument, timeframe, models.Bearish, next.High, prev.Low, prev.Timestamp, next.Timestamp, atr)
			if !filledWithin(bars[i+2:], zone) {
				events = append(events, zone)
			}
		}
	}
	return events
}

func zoneEvent(instrument, timeframe string, dir models.Direction, low, high float64, start, end time.Time, atr float64) models.PatternEvent {
	return models.PatternEvent{
		Instrument:    instrument,
		Timeframe:     timeframe,
		Kind:          models.KindImbalanceZone,
		Direction:     dir,
		Start:         start,
		End:           end,
		RawConfidence: clamp01((high - low) / atr),
		ZoneLow:       low,
		ZoneHigh:      high,
		Metadata: map[string]string{
			"gap": strconv.FormatFloat(high-low, 'f', -1, 64),
		},
	}
}

func filledWithin(later []models.Bar, zone models.PatternEvent) bool {
	for _, b := range later {
		if zoneCrossed(zone, b) {
			return true
		}
	}
	return false
}

func zoneCrossed(zone models.PatternEvent, b models.Bar) bool {
	if zone.Direction == models.Bullish {
		return b.Low <= zone.ZoneLow
	}
	return b.High >= zone.ZoneHigh
}

// ZoneFilled reports whether any bar after the zone's end traded fully through
// its range. This is the fill-check pass run by the cycle orchestrator over
// zones emitted on earlier windows.
func ZoneFilled(zone models.PatternEvent, bars []models.Bar) bool {
	for _, b := range bars {
		if !b.Timestamp.After(zone.End) {
			continue
		}
		if zoneCrossed(zone, b) {
			return true
		}
	}
	return false
}

// detectOrderZones finds the last opposing bar cluster immediately ahead of a
// displacement move whose body is at least DisplacementFactor times the
// average range. Zone bounds are the high/low envelope of the cluster.
func (d *Detector) detectOrderZones(instrument, timeframe string, bars []models.Bar) []models.PatternEvent {
	if len(bars) < d.cfg.MinOrderWindow {
		return nil
	}

	atr := averageRange(bars, d.cfg.ATRPeriod)
	if atr <= 0 {
		return nil
	}

	var events []models.PatternEvent
	for i := 1; i < len(bars); i++ {
		disp := bars[i]
		if disp.Body() < d.cfg.DisplacementFactor*atr {
			continue
		}
		var dir models.Direction
		switch {
		case disp.Bullish():
			dir = models.Bullish
		case disp.Bearish():
			dir = models.Bearish
		default:
			continue
		}

		lo, hi, start, found := d.opposingCluster(bars, i, dir)
		if !found {
			continue
		}

		// confidence is 0.5 at the displacement threshold and saturates
		// at twice the threshold
		raw := clamp01(disp.Body() / (2 * d.cfg.DisplacementFactor * atr))
		events = append(events, models.PatternEvent{
			Instrument:    instrument,
			Timeframe:     timeframe,
			Kind:          models.KindOrderZone,
			Direction:     dir,
			Start:         start,
			End:           disp.Timestamp,
			RawConfidence: raw,
			ZoneLow:       lo,
			ZoneHigh:      hi,
			Metadata: map[string]string{
				"displacement": strconv.FormatFloat(disp.Body()/atr, 'f', 4, 64),
			},
		})
	}
	return events
}

// opposingCluster walks backwards from the displacement bar collecting
// consecutive opposite-direction bars, bounded by MaxClusterBars.
func (d *Detector) opposingCluster(bars []models.Bar, dispIdx int, dir models.Direction) (lo, hi float64, start time.Time, found bool) {
	j := dispIdx - 1
	count := 0
	for j >= 0 && count < d.cfg.MaxClusterBars {
		b := bars[j]
		opposing := (dir == models.Bullish && b.Bearish()) || (dir == models.Bearish && b.Bullish())
		if !opposing {
			break
		}
		if !found {
			lo, hi = b.Low, b.High
			found = true
		} else {
			if b.Low < lo {
				lo = b.Low
			}
			if b.High > hi {
				hi = b.High
			}
		}
		start = b.Timestamp
		j--
		count++
	}
	return lo, hi, start, found
}
