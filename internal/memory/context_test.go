package memory

import (
	"reflect"
	"testing"
	"time"

	"StructPulse/internal/domain/models"
)

func seededContext(t *testing.T) *HistoricalContext {
	t.Helper()
	ctx := NewContext("EURUSD", Config{})
	txn := ctx.Begin()
	txn.AppendEvent(record(3, models.KindStructureBreak, models.Bullish, 0.7, models.OutcomeSuccess))
	txn.AppendEvent(record(2, models.KindImbalanceZone, models.Bearish, 0.4, models.OutcomeFailure))
	txn.AppendEvent(record(1, models.KindOrderZone, models.Bullish, 0.6, models.OutcomeUnknown))
	txn.BumpSignature("EURUSD|M15|imbalance_zone|bearish|m4", 1.2)
	txn.SetBias(models.Bullish, testBase)
	txn.SetQuality(0.61)
	txn.Commit()
	return ctx
}

func stripFlushedAt(s models.ContextSnapshot) models.ContextSnapshot {
	s.FlushedAt = time.Time{}
	return s
}

func TestAbortLeavesContextUntouched(t *testing.T) {
	ctx := seededContext(t)
	before := stripFlushedAt(ctx.Snapshot())

	txn := ctx.Begin()
	txn.AppendEvent(record(0, models.KindCharacterChange, models.Bearish, 0.9, models.OutcomeUnknown))
	txn.ResolveOutcome(before.EventLog[2].Event.ID, models.OutcomeFailure)
	txn.BumpSignature("EURUSD|M15|order_zone|bullish|m6", 5)
	txn.DecaySignatures(0.5)
	txn.SetBias(models.Bearish, testBase.Add(time.Hour))
	txn.SetQuality(0.11)
	txn.StoreDecision("fp", 7, models.EnhancedEvent{AdjustedConfidence: 0.5}, testBase)
	txn.Abort()

	after := stripFlushedAt(ctx.Snapshot())
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("abort mutated the context:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestCommitAppliesAllStagedMutations(t *testing.T) {
	ctx := seededContext(t)

	newRec := record(0, models.KindCharacterChange, models.Bearish, 0.9, models.OutcomeUnknown)
	txn := ctx.Begin()
	unresolvedID := ""
	for _, rec := range txn.Unresolved("M15") {
		unresolvedID = rec.Event.ID
	}
	txn.AppendEvent(newRec)
	txn.ResolveOutcome(unresolvedID, models.OutcomeFailure)
	txn.DecaySignatures(0.5)
	txn.SetQuality(0.42)
	txn.Commit()

	snap := ctx.Snapshot()
	if len(snap.EventLog) != 4 {
		t.Fatalf("expected 4 log entries, got %d", len(snap.EventLog))
	}
	if snap.EventLog[3].Event.ID != newRec.Event.ID {
		t.Fatalf("append did not land at the tail")
	}
	for _, rec := range snap.EventLog {
		if rec.Event.ID == unresolvedID && rec.Outcome != models.OutcomeFailure {
			t.Fatalf("staged outcome not applied")
		}
	}
	if got := snap.FalsePositives["EURUSD|M15|imbalance_zone|bearish|m4"]; got != 0.6 {
		t.Fatalf("expected decayed weight 0.6, got %v", got)
	}
	if snap.QualityScore != 0.42 {
		t.Fatalf("quality not applied: %v", snap.QualityScore)
	}
}

func TestStagedReadsVisibleWithinCycle(t *testing.T) {
	ctx := NewContext("EURUSD", Config{})
	txn := ctx.Begin()
	defer txn.Abort()

	rec := record(0, models.KindStructureBreak, models.Bullish, 0.7, models.OutcomeSuccess)
	txn.AppendEvent(rec)
	txn.SetBias(models.Bullish, testBase)

	matches := txn.SimilarEvents(models.KindStructureBreak, models.Bullish, 0.7, 0.1, 5)
	if len(matches) != 1 || matches[0].Event.ID != rec.Event.ID {
		t.Fatalf("staged append invisible to same-cycle reads")
	}
	if txn.Bias().Direction != models.Bullish {
		t.Fatalf("staged bias invisible to same-cycle reads")
	}
}

func TestBiasFlipClearsDecisionCache(t *testing.T) {
	ctx := NewContext("EURUSD", Config{})

	txn := ctx.Begin()
	txn.SetBias(models.Bullish, testBase)
	txn.StoreDecision("fp", 7, models.EnhancedEvent{AdjustedConfidence: 0.9}, testBase)
	txn.Commit()

	txn = ctx.Begin()
	if _, ok := txn.CachedDecision("fp", 7, testBase.Add(time.Minute)); !ok {
		t.Fatalf("expected cached decision before the flip")
	}
	txn.SetBias(models.Bearish, testBase.Add(time.Hour))
	txn.Commit()

	txn = ctx.Begin()
	defer txn.Abort()
	if _, ok := txn.CachedDecision("fp", 7, testBase.Add(2*time.Minute)); ok {
		t.Fatalf("bias flip must invalidate cached decisions")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := seededContext(t)
	snap := ctx.Snapshot()

	if snap.SchemaVersion != models.ContextSchemaVersion {
		t.Fatalf("snapshot missing schema version")
	}
	restored := FromSnapshot(&snap, Config{})
	if !reflect.DeepEqual(stripFlushedAt(snap), stripFlushedAt(restored.Snapshot())) {
		t.Fatalf("snapshot round trip lost state")
	}
	if restored.Degraded() {
		t.Fatalf("restored context must not be degraded")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := seededContext(t)
	snap := ctx.Snapshot()
	snap.EventLog[0].Outcome = models.OutcomeFailure
	snap.FalsePositives["poison"] = 9

	fresh := ctx.Snapshot()
	if fresh.EventLog[0].Outcome != models.OutcomeSuccess {
		t.Fatalf("snapshot shares event log backing array")
	}
	if _, ok := fresh.FalsePositives["poison"]; ok {
		t.Fatalf("snapshot shares false-positive map")
	}
}
