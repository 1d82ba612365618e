// Package barstore holds per-(instrument, timeframe) ordered OHLCV sequences
// with bounded retention. Append is the only mutation; reads return copies.
package barstore

import (
	"errors"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"StructPulse/internal/domain/models"
)

// Reject reasons surfaced at the ingestion boundary.
var (
	ErrMalformed  = errors.New("barstore: malformed bar")
	ErrOutOfOrder = errors.New("barstore: out-of-order timestamp")
	ErrDuplicate  = errors.New("barstore: duplicate timestamp")
)

type seriesKey struct {
	instrument string
	timeframe  string
}

// Store is a thread-safe bar repository for all instruments and timeframes.
type Store struct {
	mu        sync.RWMutex
	retention int
	series    map[seriesKey][]models.Bar
}

// New creates a Store keeping at most retention bars per series.
func New(retention int) *Store {
	if retention <= 0 {
		retention = 1000
	}
	return &Store{
		retention: retention,
		series:    make(map[seriesKey][]models.Bar),
	}
}

// Append adds a bar to the (instrument, timeframe) series. Bars must arrive in
// strictly ascending timestamp order; duplicates and regressions are rejected.
func (s *Store) Append(instrument, timeframe string, b models.Bar) error {
	if !b.Valid() {
		return ErrMalformed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := seriesKey{instrument: instrument, timeframe: timeframe}
	bars := s.series[k]
	if n := len(bars); n > 0 {
		last := bars[n-1].Timestamp
		if b.Timestamp.Equal(last) {
			return ErrDuplicate
		}
		if b.Timestamp.Before(last) {
			return ErrOutOfOrder
		}
	}

	bars = append(bars, b)
	if len(bars) > s.retention {
		// drop oldest; copy so released capacity does not pin old bars
		trimmed := make([]models.Bar, s.retention)
		copy(trimmed, bars[len(bars)-s.retention:])
		bars = trimmed
	}
	s.series[k] = bars
	return nil
}

// Window returns a copy of the most recent n bars for the series. Fewer bars
// than requested is not an error; an unknown series yields nil.
func (s *Store) Window(instrument, timeframe string, n int) []models.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[seriesKey{instrument: instrument, timeframe: timeframe}]
	if len(bars) == 0 || n <= 0 {
		return nil
	}
	if n > len(bars) {
		n = len(bars)
	}
	out := make([]models.Bar, n)
	copy(out, bars[len(bars)-n:])
	return out
}

// Len returns the number of stored bars for the series.
func (s *Store) Len(instrument, timeframe string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[seriesKey{instrument: instrument, timeframe: timeframe}])
}

// Last returns the most recent bar for the series.
func (s *Store) Last(instrument, timeframe string) (models.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[seriesKey{instrument: instrument, timeframe: timeframe}]
	if len(bars) == 0 {
		return models.Bar{}, false
	}
	return bars[len(bars)-1], true
}

// Instruments returns all instruments with at least one stored bar, sorted.
func (s *Store) Instruments() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for k := range s.series {
		seen[k.instrument] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for ins := range seen {
		out = append(out, ins)
	}
	sort.Strings(out)
	return out
}

// WindowHash fingerprints the most recent n bars of a series. Identical
// windows always hash identically; the decision cache keys on this to detect
// an unchanged underlying window.
func (s *Store) WindowHash(instrument, timeframe string, n int) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[seriesKey{instrument: instrument, timeframe: timeframe}]
	if n > len(bars) {
		n = len(bars)
	}
	h := fnv.New64a()
	var buf [8]byte
	put := func(v uint64) {
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	for _, b := range bars[len(bars)-n:] {
		put(uint64(b.Timestamp.UnixNano()))
		put(math.Float64bits(b.Open))
		put(math.Float64bits(b.High))
		put(math.Float64bits(b.Low))
		put(math.Float64bits(b.Close))
		put(math.Float64bits(b.Volume))
	}
	return h.Sum64()
}
