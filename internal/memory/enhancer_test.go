package memory

import (
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"StructPulse/internal/domain/models"
)

var testBase = time.Date(2024, 10, 10, 10, 0, 0, 0, time.UTC)

func candidate(raw float64) models.PatternEvent {
	ev := models.PatternEvent{
		Instrument:    "EURUSD",
		Timeframe:     "M15",
		Kind:          models.KindStructureBreak,
		Direction:     models.Bullish,
		Start:         testBase,
		End:           testBase.Add(15 * time.Minute),
		RawConfidence: raw,
	}
	ev.ID = ev.ContentID()
	return ev
}

func record(i int, kind models.EventKind, dir models.Direction, raw float64, outcome models.Outcome) models.EventRecord {
	ev := models.PatternEvent{
		Instrument:    "EURUSD",
		Timeframe:     "M15",
		Kind:          kind,
		Direction:     dir,
		Start:         testBase.Add(time.Duration(-i-1) * time.Hour),
		End:           testBase.Add(time.Duration(-i) * time.Hour),
		RawConfidence: raw,
	}
	ev.ID = ev.ContentID()
	return models.EventRecord{Event: ev, Outcome: outcome, RecordedAt: ev.End}
}

func TestDecisionCacheIdempotence(t *testing.T) {
	ctx := NewContext("EURUSD", Config{})
	e := NewEnhancer(Config{}, nil)
	ev := candidate(0.8)
	now := testBase.Add(time.Hour)

	txn := ctx.Begin()
	first := e.Enhance(txn, ev, 42, now)
	txn.Commit()

	logLen := len(ctx.Snapshot().EventLog)

	txn = ctx.Begin()
	second := e.Enhance(txn, ev, 42, now.Add(time.Second))
	txn.Commit()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("cached decision differs:\n%+v\n%+v", first, second)
	}
	if got := len(ctx.Snapshot().EventLog); got != logLen {
		t.Fatalf("cache hit must not grow the event log: %d -> %d", logLen, got)
	}
}

func TestDecisionCacheWindowChangeRecomputes(t *testing.T) {
	ctx := NewContext("EURUSD", Config{})
	e := NewEnhancer(Config{}, nil)
	ev := candidate(0.8)
	now := testBase.Add(time.Hour)

	txn := ctx.Begin()
	e.Enhance(txn, ev, 42, now)
	if _, ok := txn.CachedDecision(Fingerprint(ev), 43, now); ok {
		t.Fatalf("different window hash must miss the cache")
	}
	txn.Commit()
}

func TestEventLogMonotonic(t *testing.T) {
	ctx := NewContext("EURUSD", Config{})
	e := NewEnhancer(Config{}, nil)

	prev := 0
	for i := 0; i < 20; i++ {
		ev := models.PatternEvent{
			Instrument:    "EURUSD",
			Timeframe:     "M15",
			Kind:          models.KindStructureBreak,
			Direction:     models.Bullish,
			Start:         testBase.Add(time.Duration(i) * time.Hour),
			End:           testBase.Add(time.Duration(i)*time.Hour + 15*time.Minute),
			RawConfidence: 0.5,
		}
		ev.ID = ev.ContentID()

		txn := ctx.Begin()
		e.Enhance(txn, ev, uint64(i), testBase.Add(time.Duration(i+1)*time.Hour))
		txn.Commit()

		log := ctx.Snapshot().EventLog
		if len(log) < prev {
			t.Fatalf("event log shrank: %d -> %d", prev, len(log))
		}
		prev = len(log)
		for j := 1; j < len(log); j++ {
			if log[j].RecordedAt.Before(log[j-1].RecordedAt) {
				t.Fatalf("event log out of order at %d", j)
			}
		}
	}
}

func TestDegradedModeInvariant(t *testing.T) {
	cfg := Config{BaselineConfidence: 0.55, SuppressionThreshold: 1.0}
	ctx := NewDegradedContext("EURUSD", cfg)
	e := NewEnhancer(cfg, nil)

	// a signature that would normally suppress
	txn := ctx.Begin()
	txn.BumpSignature(Fingerprint(candidate(0.8)), 10)
	txn.Commit()

	for i := 0; i < 10; i++ {
		ev := candidate(0.8)
		ev.End = ev.End.Add(time.Duration(i) * time.Minute)
		ev.ID = ev.ContentID()

		txn := ctx.Begin()
		got := e.Enhance(txn, ev, uint64(i), testBase.Add(time.Hour))
		txn.Commit()

		if !got.MemoryUnavailable {
			t.Fatalf("degraded session must flag memory_unavailable on every event")
		}
		if got.Suppressed {
			t.Fatalf("degraded session must never suppress")
		}
		if got.AdjustedConfidence != 0.55 {
			t.Fatalf("degraded session must return baseline, got %v", got.AdjustedConfidence)
		}
	}
}

func TestBlendArithmetic(t *testing.T) {
	cfg := Config{
		BlendRawWeight:     0.5,
		BlendHistoryWeight: 0.3,
		BlendQualityWeight: 0.2,
		BaselineConfidence: 0.55,
	}
	ctx := NewContext("EURUSD", cfg)
	e := NewEnhancer(cfg, nil)

	txn := ctx.Begin()
	got := e.Enhance(txn, candidate(0.8), 1, testBase.Add(time.Hour))
	txn.Abort()

	// empty history falls back to baseline, quality starts at 0.5
	want := 0.5*0.8 + 0.3*0.55 + 0.2*0.5
	if math.Abs(got.AdjustedConfidence-want) > 1e-9 {
		t.Fatalf("blend mismatch: got %v want %v", got.AdjustedConfidence, want)
	}
}

func TestHistoricalRatioUsedWhenSampleSufficient(t *testing.T) {
	cfg := Config{
		BlendRawWeight:     0.5,
		BlendHistoryWeight: 0.3,
		BlendQualityWeight: 0.2,
		MinSamples:         3,
	}
	snap := &models.ContextSnapshot{
		SchemaVersion: models.ContextSchemaVersion,
		Instrument:    "EURUSD",
		Bias:          models.BiasState{Direction: models.Neutral},
		QualityScore:  0.5,
	}
	for i := 0; i < 4; i++ {
		snap.EventLog = append(snap.EventLog, record(i, models.KindStructureBreak, models.Bullish, 0.8, models.OutcomeSuccess))
	}
	ctx := FromSnapshot(snap, cfg)
	e := NewEnhancer(cfg, nil)

	txn := ctx.Begin()
	got := e.Enhance(txn, candidate(0.8), 1, testBase.Add(time.Hour))
	txn.Abort()

	want := 0.5*0.8 + 0.3*1.0 + 0.2*0.5 // all matches succeeded
	if math.Abs(got.AdjustedConfidence-want) > 1e-9 {
		t.Fatalf("expected history ratio 1.0 in blend: got %v want %v", got.AdjustedConfidence, want)
	}
	if len(got.SupportingHistory) != 4 {
		t.Fatalf("expected 4 supporting ids, got %d", len(got.SupportingHistory))
	}
}

func TestSuppressionStillReturned(t *testing.T) {
	cfg := Config{SuppressionThreshold: 2.0}
	ctx := NewContext("EURUSD", cfg)
	e := NewEnhancer(cfg, nil)
	ev := candidate(0.8)

	txn := ctx.Begin()
	txn.BumpSignature(Fingerprint(ev), 3.0)
	txn.Commit()

	txn = ctx.Begin()
	got := e.Enhance(txn, ev, 1, testBase.Add(time.Hour))
	txn.Commit()

	if !got.Suppressed {
		t.Fatalf("expected suppression above threshold")
	}
	if got.SuppressionReason != SuppressionReasonFalsePositive {
		t.Fatalf("unexpected reason %q", got.SuppressionReason)
	}
	if got.Event.ID != ev.ID {
		t.Fatalf("suppressed event must still be returned")
	}
}

func TestResolveOutcomes(t *testing.T) {
	cfg := Config{ResolutionHorizonBars: 3, ConfirmThreshold: 0.5, QualityAlpha: 0.1}
	ctx := NewContext("EURUSD", cfg)
	e := NewEnhancer(cfg, nil)

	winner := record(0, models.KindStructureBreak, models.Bullish, 0.8, models.OutcomeUnknown)
	loser := record(1, models.KindOrderZone, models.Bearish, 0.6, models.OutcomeUnknown)

	txn := ctx.Begin()
	txn.AppendEvent(winner)
	txn.AppendEvent(loser)
	txn.Commit()

	// both events ended at or before testBase; bars rise strongly afterwards,
	// confirming the bullish break and refuting the bearish zone
	var bars []models.Bar
	for i := 0; i < 5; i++ {
		f := float64(i)
		bars = append(bars, models.Bar{
			Timestamp: testBase.Add(time.Duration(i+1) * 15 * time.Minute),
			Open:      100 + f,
			High:      101.2 + f,
			Low:       99.8 + f,
			Close:     101 + f,
			Volume:    10,
		})
	}

	txn = ctx.Begin()
	n := e.ResolveOutcomes(txn, "M15", bars, testBase.Add(2*time.Hour))
	txn.Commit()

	if n != 2 {
		t.Fatalf("expected 2 resolutions, got %d", n)
	}

	snap := ctx.Snapshot()
	outcomes := map[string]models.Outcome{}
	for _, rec := range snap.EventLog {
		outcomes[rec.Event.ID] = rec.Outcome
	}
	if outcomes[winner.Event.ID] != models.OutcomeSuccess {
		t.Fatalf("bullish break should resolve success, got %s", outcomes[winner.Event.ID])
	}
	if outcomes[loser.Event.ID] != models.OutcomeFailure {
		t.Fatalf("bearish zone should resolve failure, got %s", outcomes[loser.Event.ID])
	}
	if snap.FalsePositives[Fingerprint(loser.Event)] <= 0 {
		t.Fatalf("failure must strengthen the false-positive signature")
	}
	if _, ok := snap.FalsePositives[Fingerprint(winner.Event)]; ok {
		t.Fatalf("success must not create a signature")
	}
}

func TestEventLogRetention(t *testing.T) {
	cfg := Config{EventLogRetention: 5}
	ctx := NewContext("EURUSD", cfg)

	txn := ctx.Begin()
	for i := 0; i < 12; i++ {
		rec := record(i, models.KindStructureBreak, models.Bullish, 0.5, models.OutcomeUnknown)
		rec.Event.Metadata = map[string]string{"n": fmt.Sprint(i)}
		rec.Event.ID = rec.Event.ContentID()
		txn.AppendEvent(rec)
	}
	txn.Commit()

	if got := len(ctx.Snapshot().EventLog); got != 5 {
		t.Fatalf("expected bounded log of 5, got %d", got)
	}
}
