package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/confluence"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
	"StructPulse/internal/persist"
)

var engineBase = time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)

type nopStore struct{}

func (nopStore) Load(context.Context, string) (*models.ContextSnapshot, error) {
	return nil, repository.ErrContextNotFound
}
func (nopStore) Save(context.Context, *models.ContextSnapshot) error { return nil }
func (nopStore) Close() error                                        { return nil }

func newTestEngine() (*Engine, *barstore.Store) {
	store := barstore.New(0)
	pipeline := confluence.New(confluence.Config{
		Timeframes:       []repository.Timeframe{repository.TFH4, repository.TFM15},
		MinAuthorityBars: 2,
		WindowSize:       50,
	}, store, detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)
	persister := persist.NewManager(persist.ManagerConfig{FlushInterval: time.Hour}, memory.Config{}, nopStore{}, nil, nil)
	e := NewEngine(store, pipeline, persister, nil, nil, nil, nil)
	e.Start(context.Background())
	return e, store
}

func bar(ts time.Time, o, h, l, c float64) models.Bar {
	return models.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, Volume: 10}
}

func TestPushBarRejects(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Stop()

	good := bar(engineBase, 100, 101, 99, 100.5)

	if err := e.PushBar(context.Background(), "EURUSD", "M3", good); !errors.Is(err, ErrInvalidTimeframe) {
		t.Fatalf("expected invalid timeframe, got %v", err)
	}
	if err := e.PushBar(context.Background(), "EURUSD", "M15", good); err != nil {
		t.Fatalf("valid bar rejected: %v", err)
	}
	if err := e.PushBar(context.Background(), "EURUSD", "M15", good); !errors.Is(err, barstore.ErrDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	stale := bar(engineBase.Add(-time.Hour), 100, 101, 99, 100.5)
	if err := e.PushBar(context.Background(), "EURUSD", "M15", stale); !errors.Is(err, barstore.ErrOutOfOrder) {
		t.Fatalf("expected out-of-order, got %v", err)
	}
	bad := bar(engineBase.Add(time.Hour), 100, 99, 101, 100.5) // high < low
	if err := e.PushBar(context.Background(), "EURUSD", "M15", bad); !errors.Is(err, barstore.ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

// waitForCycle polls until the worker has produced at least one cycle.
func waitForCycle(t *testing.T, e *Engine, instrument string) models.CycleResult {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if res, ok := e.LatestCycle(instrument); ok {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no cycle completed for %s", instrument)
	return models.CycleResult{}
}

func TestCycleProducesLatestEvents(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Stop()

	ctx := context.Background()
	// authority bars
	for i := 0; i < 4; i++ {
		if err := e.PushBar(ctx, "EURUSD", "H4", bar(engineBase.Add(time.Duration(i)*4*time.Hour), 100, 101, 99, 100.5)); err != nil {
			t.Fatalf("push H4: %v", err)
		}
	}
	// three ascending bars leaving a bullish gap
	gap := []models.Bar{
		bar(engineBase, 1.0990, 1.1000, 1.0980, 1.0995),
		bar(engineBase.Add(15*time.Minute), 1.0995, 1.1048, 1.0995, 1.1045),
		bar(engineBase.Add(30*time.Minute), 1.1050, 1.1060, 1.1050, 1.1058),
	}
	for _, b := range gap {
		if err := e.PushBar(ctx, "EURUSD", "M15", b); err != nil {
			t.Fatalf("push M15: %v", err)
		}
	}

	waitForCycle(t, e, "EURUSD")

	deadline := time.Now().Add(2 * time.Second)
	for len(e.LatestEvents("EURUSD")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	events := e.LatestEvents("EURUSD")
	if len(events) == 0 {
		t.Fatalf("expected events from the gap window")
	}
	if res, ok := e.LatestCycle("EURUSD"); !ok || res.Status != models.CycleStatusOK {
		t.Fatalf("unexpected cycle state ok=%v status=%q", ok, res.Status)
	}
	found := false
	for _, ev := range events {
		if ev.Event.Kind == models.KindImbalanceZone && ev.Event.Direction == models.Bullish {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a bullish imbalance zone, got %+v", events)
	}

	zones := e.OpenZones("EURUSD")
	if len(zones) == 0 {
		t.Fatalf("unfilled zone should stay on the open-zone ledger")
	}
}

func TestFilledCoarseZoneLeavesLedger(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Stop()

	ctx := context.Background()
	gap := []models.Bar{
		bar(engineBase, 1.0990, 1.1000, 1.0980, 1.0995),
		bar(engineBase.Add(4*time.Hour), 1.0995, 1.1048, 1.0995, 1.1045),
		bar(engineBase.Add(8*time.Hour), 1.1050, 1.1060, 1.1050, 1.1058),
	}
	for _, b := range gap {
		if err := e.PushBar(ctx, "EURUSD", "H4", b); err != nil {
			t.Fatalf("push H4: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(e.OpenZones("EURUSD")) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(e.OpenZones("EURUSD")) == 0 {
		t.Fatalf("expected the H4 imbalance zone on the ledger")
	}

	// a later H4 bar trades fully back through the zone
	fill := bar(engineBase.Add(12*time.Hour), 1.1058, 1.1060, 1.0990, 1.0995)
	if err := e.PushBar(ctx, "EURUSD", "H4", fill); err != nil {
		t.Fatalf("push fill bar: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for len(e.OpenZones("EURUSD")) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if zones := e.OpenZones("EURUSD"); len(zones) > 0 {
		t.Fatalf("filled zone stayed on the ledger: %+v", zones)
	}
}

func TestInstrumentsListsSeries(t *testing.T) {
	e, _ := newTestEngine()
	defer e.Stop()

	ctx := context.Background()
	_ = e.PushBar(ctx, "GBPUSD", "M15", bar(engineBase, 100, 101, 99, 100.5))
	_ = e.PushBar(ctx, "EURUSD", "M15", bar(engineBase, 100, 101, 99, 100.5))

	got := e.Instruments()
	if len(got) != 2 || got[0] != "EURUSD" || got[1] != "GBPUSD" {
		t.Fatalf("unexpected instruments %v", got)
	}
}
