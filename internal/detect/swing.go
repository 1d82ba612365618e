package detect

import "StructPulse/internal/domain/models"

// Swing is a confirmed local extreme inside a bar window.
type Swing struct {
	Index  int
	Price  float64
	IsHigh bool
}

// findSwings locates confirmed swing highs and lows. A swing high at i needs
// strength bars on each side with no higher high; equal highs resolve toward
// the most recent bar (left comparison is inclusive, right is strict).
func findSwings(bars []models.Bar, strength int) []Swing {
	var swings []Swing
	if len(bars) < 2*strength+1 {
		return swings
	}

	for i := strength; i < len(bars)-strength; i++ {
		isHigh := true
		isLow := true
		for j := i - strength; j <= i+strength; j++ {
			if j == i {
				continue
			}
			if j < i {
				if bars[j].High > bars[i].High {
					isHigh = false
				}
				if bars[j].Low < bars[i].Low {
					isLow = false
				}
			} else {
				if bars[j].High >= bars[i].High {
					isHigh = false
				}
				if bars[j].Low <= bars[i].Low {
					isLow = false
				}
			}
			if !isHigh && !isLow {
				break
			}
		}
		if isHigh {
			swings = append(swings, Swing{Index: i, Price: bars[i].High, IsHigh: true})
		}
		if isLow {
			swings = append(swings, Swing{Index: i, Price: bars[i].Low, IsHigh: false})
		}
	}
	return swings
}

// lastSwing returns the most recent swing of the wanted side before index end.
func lastSwing(swings []Swing, isHigh bool, before int) (Swing, bool) {
	for i := len(swings) - 1; i >= 0; i-- {
		if swings[i].IsHigh == isHigh && swings[i].Index < before {
			return swings[i], true
		}
	}
	return Swing{}, false
}

// averageRange is the mean high-low range over the last period bars, an
// ATR-like normalizer for breakout and displacement magnitudes.
func averageRange(bars []models.Bar, period int) float64 {
	if len(bars) == 0 {
		return 0
	}
	if period <= 0 || period > len(bars) {
		period = len(bars)
	}
	var sum float64
	for _, b := range bars[len(bars)-period:] {
		sum += b.Range()
	}
	return sum / float64(period)
}

// prevailingDirection is the net direction of the window by closes.
func prevailingDirection(bars []models.Bar) models.Direction {
	if len(bars) < 2 {
		return models.Neutral
	}
	first, last := bars[0].Close, bars[len(bars)-1].Close
	switch {
	case last > first:
		return models.Bullish
	case last < first:
		return models.Bearish
	default:
		return models.Neutral
	}
}
