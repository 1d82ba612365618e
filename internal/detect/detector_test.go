package detect

import (
	"reflect"
	"testing"
	"time"

	"StructPulse/internal/domain/models"
)

func mkBar(i int, o, h, l, c float64) models.Bar {
	return models.Bar{
		Timestamp: time.Unix(int64(1000+i*60), 0).UTC(),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    100,
	}
}

// uptrend with a swing high at index 10 (111.5), consolidation below it, and
// a final close breaking above.
func breakWindow() []models.Bar {
	bars := make([]models.Bar, 0, 22)
	for i := 0; i < 10; i++ {
		f := float64(i)
		bars = append(bars, mkBar(i, 100+f, 101.2+f, 99.8+f, 101+f))
	}
	bars = append(bars,
		mkBar(10, 110, 111.5, 109.8, 110.5),
		mkBar(11, 110.5, 110.6, 109.5, 109.8),
		mkBar(12, 109.8, 110.0, 109.2, 109.5),
		mkBar(13, 109.5, 110.1, 109.3, 109.9),
		mkBar(14, 109.9, 110.4, 109.6, 110.2),
		mkBar(15, 110.2, 110.5, 109.7, 110.0),
		mkBar(16, 110.0, 110.8, 109.8, 110.4),
		mkBar(17, 110.4, 110.9, 110.1, 110.6),
		mkBar(18, 110.6, 111.0, 110.3, 110.9),
		mkBar(19, 110.9, 111.2, 110.5, 111.0),
		mkBar(20, 111.0, 111.4, 110.7, 111.2),
		mkBar(21, 111.2, 112.6, 111.0, 112.4),
	)
	return bars
}

func eventsOfKind(events []models.PatternEvent, kind models.EventKind) []models.PatternEvent {
	var out []models.PatternEvent
	for _, e := range events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestDetectDeterministic(t *testing.T) {
	d := New(Config{})
	bars := breakWindow()

	first := d.Detect("EURUSD", "H1", bars, models.Neutral)
	second := d.Detect("EURUSD", "H1", bars, models.Neutral)

	if len(first) == 0 {
		t.Fatalf("expected events")
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("detector is not deterministic:\n%v\n%v", first, second)
	}
	for _, e := range first {
		if e.ID == "" {
			t.Fatalf("event without content id: %+v", e)
		}
		if e.ID != e.ContentID() {
			t.Fatalf("id %s does not match content hash %s", e.ID, e.ContentID())
		}
	}
}

func TestStructureBreakBullish(t *testing.T) {
	d := New(Config{})
	events := eventsOfKind(d.Detect("EURUSD", "H1", breakWindow(), models.Neutral), models.KindStructureBreak)

	if len(events) != 1 {
		t.Fatalf("expected exactly one structure break, got %d", len(events))
	}
	ev := events[0]
	if ev.Direction != models.Bullish {
		t.Fatalf("expected bullish break, got %s", ev.Direction)
	}
	if ev.Metadata["swing_price"] != "111.5" {
		t.Fatalf("expected break of swing 111.5, got %q", ev.Metadata["swing_price"])
	}
	if ev.RawConfidence <= 0 || ev.RawConfidence > 1 {
		t.Fatalf("raw confidence out of range: %v", ev.RawConfidence)
	}
}

func TestCharacterChangeRequiresPriorBias(t *testing.T) {
	bars := make([]models.Bar, 0, 22)
	for i := 0; i < 10; i++ {
		f := float64(i)
		bars = append(bars, mkBar(i, 100+f, 101.2+f, 99.8+f, 101+f))
	}
	bars = append(bars,
		mkBar(10, 110, 110.2, 108.5, 109),
		mkBar(11, 109, 109.3, 108.0, 108.8),
		mkBar(12, 108.8, 109.8, 108.4, 109.5),
		mkBar(13, 109.5, 110.0, 109.0, 109.8),
		mkBar(14, 109.8, 110.1, 109.2, 109.6),
		mkBar(15, 109.6, 109.9, 109.0, 109.3),
		mkBar(16, 109.3, 109.7, 109.1, 109.5),
		mkBar(17, 109.5, 109.6, 108.9, 109.2),
		mkBar(18, 109.2, 109.5, 108.7, 109.0),
		mkBar(19, 109.0, 109.3, 108.8, 109.1),
		mkBar(20, 109.1, 109.4, 108.6, 108.9),
		mkBar(21, 108.9, 109.0, 107.3, 107.5),
	)

	d := New(Config{})

	// no prior bias: nothing to change character against
	if got := eventsOfKind(d.Detect("EURUSD", "H1", bars, models.Neutral), models.KindCharacterChange); len(got) != 0 {
		t.Fatalf("expected no character change without prior bias, got %d", len(got))
	}

	events := eventsOfKind(d.Detect("EURUSD", "H1", bars, models.Bullish), models.KindCharacterChange)
	if len(events) != 1 {
		t.Fatalf("expected exactly one character change, got %d", len(events))
	}
	ev := events[0]
	if ev.Direction != models.Bearish {
		t.Fatalf("break against bullish bias must be bearish, got %s", ev.Direction)
	}
	if ev.Metadata["prior_bias"] != string(models.Bullish) {
		t.Fatalf("expected prior_bias metadata, got %q", ev.Metadata["prior_bias"])
	}
}

// the three-bar inefficiency scenario: bar[0].high=1.1000, gap bar,
// bar[2].low=1.1050 must yield exactly one bullish zone [1.1000, 1.1050].
func TestImbalanceZoneScenario(t *testing.T) {
	bars := []models.Bar{
		mkBar(0, 1.0950, 1.1000, 1.0940, 1.0995),
		mkBar(1, 1.1010, 1.1045, 1.1005, 1.1040),
		mkBar(2, 1.1055, 1.1080, 1.1050, 1.1070),
	}

	d := New(Config{})
	events := d.Detect("EURUSD", "M15", bars, models.Neutral)

	if len(events) != 1 {
		t.Fatalf("expected exactly one event, got %d: %+v", len(events), events)
	}
	ev := events[0]
	if ev.Kind != models.KindImbalanceZone {
		t.Fatalf("expected imbalance zone, got %s", ev.Kind)
	}
	if ev.Direction != models.Bullish {
		t.Fatalf("expected bullish zone, got %s", ev.Direction)
	}
	if ev.ZoneLow != 1.1000 || ev.ZoneHigh != 1.1050 {
		t.Fatalf("expected range [1.1000, 1.1050], got [%v, %v]", ev.ZoneLow, ev.ZoneHigh)
	}
}

func TestImbalanceZoneFilledWithinWindowSkipped(t *testing.T) {
	bars := []models.Bar{
		mkBar(0, 1.0950, 1.1000, 1.0940, 1.0995),
		mkBar(1, 1.1010, 1.1045, 1.1005, 1.1040),
		mkBar(2, 1.1055, 1.1080, 1.1050, 1.1070),
		// trades fully back through the gap
		mkBar(3, 1.1070, 1.1075, 1.0990, 1.1000),
	}

	d := New(Config{})
	events := eventsOfKind(d.Detect("EURUSD", "M15", bars, models.Neutral), models.KindImbalanceZone)
	if len(events) != 0 {
		t.Fatalf("filled zone must not be emitted, got %d", len(events))
	}
}

func TestZoneFilled(t *testing.T) {
	zone := models.PatternEvent{
		Kind:      models.KindImbalanceZone,
		Direction: models.Bullish,
		End:       time.Unix(1120, 0).UTC(),
		ZoneLow:   1.1000,
		ZoneHigh:  1.1050,
	}

	unfilled := []models.Bar{mkBar(3, 1.1070, 1.1075, 1.1020, 1.1030)}
	if ZoneFilled(zone, unfilled) {
		t.Fatalf("partial retrace must not count as filled")
	}

	filled := []models.Bar{mkBar(3, 1.1070, 1.1075, 1.0990, 1.1000)}
	if !ZoneFilled(zone, filled) {
		t.Fatalf("full trade-through must count as filled")
	}

	// bars at or before the zone end never fill it
	early := []models.Bar{mkBar(1, 1.1010, 1.1045, 1.0950, 1.1040)}
	if ZoneFilled(zone, early) {
		t.Fatalf("bars inside the zone window must be ignored")
	}
}

func TestOrderZone(t *testing.T) {
	bars := make([]models.Bar, 0, 12)
	for i := 0; i < 9; i++ {
		f := float64(i) * 0.1
		bars = append(bars, mkBar(i, 100+f, 100.15+f, 99.9+f, 100.05+f))
	}
	bars = append(bars,
		mkBar(9, 101.0, 101.1, 100.6, 100.7),    // opposing bar
		mkBar(10, 100.7, 102.6, 100.65, 102.5),  // displacement
		mkBar(11, 102.5, 102.7, 102.4, 102.6),
	)

	d := New(Config{})
	events := eventsOfKind(d.Detect("EURUSD", "M15", bars, models.Neutral), models.KindOrderZone)

	if len(events) != 1 {
		t.Fatalf("expected exactly one order zone, got %d", len(events))
	}
	ev := events[0]
	if ev.Direction != models.Bullish {
		t.Fatalf("expected bullish order zone, got %s", ev.Direction)
	}
	if ev.ZoneLow != 100.6 || ev.ZoneHigh != 101.1 {
		t.Fatalf("expected bounds [100.6, 101.1], got [%v, %v]", ev.ZoneLow, ev.ZoneHigh)
	}
}

func TestInsufficientWindow(t *testing.T) {
	d := New(Config{})

	if got := d.Detect("EURUSD", "M15", nil, models.Neutral); len(got) != 0 {
		t.Fatalf("nil window must yield no events")
	}
	two := []models.Bar{
		mkBar(0, 1.0, 1.1, 0.9, 1.05),
		mkBar(1, 1.05, 1.2, 1.0, 1.15),
	}
	if got := d.Detect("EURUSD", "M15", two, models.Bullish); len(got) != 0 {
		t.Fatalf("short window must yield no events, got %d", len(got))
	}
}
