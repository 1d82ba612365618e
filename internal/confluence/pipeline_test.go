package confluence

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
)

var cycleBase = time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

func mkbar(ts time.Time, o, h, l, c float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 100}
}

func newPipeline(cfg Config) *Pipeline {
	return New(cfg, barstore.New(0), detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)
}

func TestPenaltyExact(t *testing.T) {
	p := newPipeline(Config{DisagreementPenalty: 0.5})

	if got := p.Penalize(0.8, models.Bearish, models.Bullish); got != 0.4 {
		t.Fatalf("disagreement must yield exactly 0.4, got %v", got)
	}
	if got := p.Penalize(0.8, models.Bullish, models.Bullish); got != 0.8 {
		t.Fatalf("agreement must pass through, got %v", got)
	}
	if got := p.Penalize(0.8, models.Bearish, models.Neutral); got != 0.8 {
		t.Fatalf("neutral gate must pass through, got %v", got)
	}
}

// seedFlat appends n overlapping bars that produce no detection events.
func seedFlat(t *testing.T, store *barstore.Store, instrument, tf string, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		b := mkbar(cycleBase.Add(time.Duration(i)*step), 100, 101, 99, 100.5)
		if err := store.Append(instrument, tf, b); err != nil {
			t.Fatalf("seed %s: %v", tf, err)
		}
	}
}

// seedBearishGap appends three descending bars leaving an unfilled gap between
// the first bar's low (1.2000) and the third bar's high (1.1950).
func seedBearishGap(t *testing.T, store *barstore.Store, instrument, tf string) {
	t.Helper()
	bars := []models.Bar{
		mkbar(cycleBase, 1.2020, 1.2030, 1.2000, 1.2005),
		mkbar(cycleBase.Add(time.Minute), 1.2000, 1.2005, 1.1940, 1.1945),
		mkbar(cycleBase.Add(2*time.Minute), 1.1945, 1.1950, 1.1920, 1.1925),
	}
	for _, b := range bars {
		if err := store.Append(instrument, tf, b); err != nil {
			t.Fatalf("seed %s: %v", tf, err)
		}
	}
}

func TestRunCyclePenalizesDisagreement(t *testing.T) {
	store := barstore.New(0)
	seedFlat(t, store, "EURUSD", "H4", 6, 4*time.Hour)
	seedBearishGap(t, store, "EURUSD", "M15")

	cfg := Config{
		Timeframes:          []repository.Timeframe{repository.TFH4, repository.TFM15},
		DisagreementPenalty: 0.5,
		MinAuthorityBars:    2,
		WindowSize:          50,
	}
	p := New(cfg, store, detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)

	hctx := memory.FromSnapshot(&models.ContextSnapshot{
		SchemaVersion: models.ContextSchemaVersion,
		Instrument:    "EURUSD",
		Bias:          models.BiasState{Direction: models.Bullish, UpdatedAt: cycleBase},
		QualityScore:  0.5,
	}, memory.Config{})

	res := p.RunCycle(context.Background(), hctx, 1, cycleBase.Add(time.Hour))

	if res.Status != models.CycleStatusOK {
		t.Fatalf("unexpected status %q", res.Status)
	}
	if len(res.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(res.Events))
	}
	got := res.Events[0]
	if got.Event.Kind != models.KindImbalanceZone || got.Event.Direction != models.Bearish {
		t.Fatalf("unexpected event %s/%s", got.Event.Kind, got.Event.Direction)
	}

	// gap 0.0050 over atr 0.00417 clamps raw to 1.0; the blend gives
	// 0.5*1.0 + 0.3*0.55 + 0.2*0.5 = 0.765, halved by the penalty
	want := 0.765 * 0.5
	if math.Abs(got.AdjustedConfidence-want) > 1e-9 {
		t.Fatalf("penalized confidence: got %v want %v", got.AdjustedConfidence, want)
	}
	if got.StaleAuthority {
		t.Fatalf("resolved authority must not flag stale")
	}
	if n := len(hctx.Snapshot().EventLog); n != 1 {
		t.Fatalf("completed cycle must commit the log append, got %d entries", n)
	}
}

func TestRunCycleStaleAuthority(t *testing.T) {
	store := barstore.New(0)
	// nothing on H4, so authority cannot resolve
	seedBearishGap(t, store, "EURUSD", "M15")

	cfg := Config{
		Timeframes:       []repository.Timeframe{repository.TFH4, repository.TFM15},
		MinAuthorityBars: 2,
		WindowSize:       50,
	}
	p := New(cfg, store, detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)
	hctx := memory.NewContext("EURUSD", memory.Config{})

	res := p.RunCycle(context.Background(), hctx, 1, cycleBase.Add(time.Hour))

	if res.Status != models.CycleStatusStaleAuthority {
		t.Fatalf("expected stale_authority, got %q", res.Status)
	}
	if len(res.Events) == 0 {
		t.Fatalf("stale authority must still emit finer-timeframe events")
	}
	for _, ev := range res.Events {
		if !ev.StaleAuthority {
			t.Fatalf("every event of a stale cycle must carry the flag")
		}
	}
}

func TestRunCycleTimeoutLeavesContextUntouched(t *testing.T) {
	store := barstore.New(0)
	seedFlat(t, store, "EURUSD", "H4", 6, 4*time.Hour)
	seedBearishGap(t, store, "EURUSD", "M15")

	p := New(Config{MinAuthorityBars: 2}, store, detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)

	hctx := memory.NewContext("EURUSD", memory.Config{})
	before := hctx.Snapshot()
	before.FlushedAt = time.Time{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.RunCycle(ctx, hctx, 7, cycleBase.Add(time.Hour))

	if res.Status != models.CycleStatusTimeout {
		t.Fatalf("expected cycle_timeout, got %q", res.Status)
	}
	if len(res.Events) != 0 {
		t.Fatalf("abandoned cycle must emit nothing")
	}

	after := hctx.Snapshot()
	after.FlushedAt = time.Time{}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("abandoned cycle mutated the context")
	}

	// the guard must be free for the next cycle
	next := p.RunCycle(context.Background(), hctx, 8, cycleBase.Add(2*time.Hour))
	if next.Status != models.CycleStatusOK {
		t.Fatalf("follow-up cycle should complete, got %q", next.Status)
	}
}
