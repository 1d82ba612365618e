package models

import "time"

// Bar represents a single OHLCV bar. Immutable once appended to a store.
type Bar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// Range returns the full high-low range of the bar.
func (b Bar) Range() float64 { return b.High - b.Low }

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool { return b.Close < b.Open }

// Valid performs basic sanity checks on the bar geometry.
func (b Bar) Valid() bool {
	if b.Timestamp.IsZero() {
		return false
	}
	if b.High < b.Low || b.Volume < 0 {
		return false
	}
	if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
		return false
	}
	return true
}

// IncomingBar is a bar tagged with its routing keys, as received from a feed.
type IncomingBar struct {
	Instrument string `json:"instrument"`
	Timeframe  string `json:"timeframe"`
	Bar        Bar    `json:"bar"`
}
