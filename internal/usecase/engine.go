// Package usecase wires ingestion, detection cycles and output together. The
// Engine owns one worker goroutine per instrument; each worker exclusively
// owns its instrument's HistoricalContext, so instruments run fully parallel
// while everything within one instrument stays strictly sequential.
package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/confluence"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/persist"
	"StructPulse/pkg/logger"
)

// ErrInvalidTimeframe rejects bars for unsupported timeframes at the boundary.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

// Engine is the detection core: bars in, enhanced event cycles out.
type Engine struct {
	store     *barstore.Store
	pipeline  *confluence.Pipeline
	persister *persist.Manager
	publisher repository.EventPublisher
	archive   repository.EventArchive
	metrics   repository.Metrics
	log       *logger.Logger

	mu      sync.Mutex
	workers map[string]*worker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// worker is the per-instrument cycle runner. The trigger channel has capacity
// one so bursts of bars coalesce into a single pending cycle.
type worker struct {
	instrument string
	trigger    chan struct{}

	mu        sync.RWMutex
	latest    models.CycleResult
	hasLatest bool
	openZones []models.PatternEvent
	seq       uint64
}

// NewEngine creates an Engine. Publisher and archive may be nil when the
// deployment runs pull-only.
func NewEngine(store *barstore.Store, pipeline *confluence.Pipeline, persister *persist.Manager, publisher repository.EventPublisher, archive repository.EventArchive, metrics repository.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		store:     store,
		pipeline:  pipeline,
		persister: persister,
		publisher: publisher,
		archive:   archive,
		metrics:   metrics,
		log:       log,
		workers:   make(map[string]*worker),
	}
}

// Start makes the engine accept bars and run cycles.
func (e *Engine) Start(ctx context.Context) {
	e.ctx, e.cancel = context.WithCancel(ctx)
}

// Stop ends all workers and waits for in-flight cycles.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// PushBar validates and appends one bar, then schedules a detection cycle for
// the instrument. Malformed, duplicate and out-of-order bars are rejected with
// a typed error and never reach detection.
func (e *Engine) PushBar(ctx context.Context, instrument, timeframe string, bar models.Bar) error {
	if !repository.IsValidTimeframe(repository.Timeframe(timeframe)) {
		if e.metrics != nil {
			e.metrics.RecordBarRejected("invalid_timeframe")
		}
		return ErrInvalidTimeframe
	}

	if err := e.store.Append(instrument, timeframe, bar); err != nil {
		if e.metrics != nil {
			e.metrics.RecordBarRejected(rejectReason(err))
		}
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordBarIngested(instrument, timeframe)
	}

	e.scheduleCycle(instrument)
	return nil
}

// LatestEvents returns the emitted event list of the instrument's most recent
// completed cycle. An abandoned cycle never replaces it.
func (e *Engine) LatestEvents(instrument string) []models.EnhancedEvent {
	w := e.lookupWorker(instrument)
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.hasLatest {
		return nil
	}
	out := make([]models.EnhancedEvent, len(w.latest.Events))
	copy(out, w.latest.Events)
	return out
}

// LatestCycle returns the most recent completed cycle result.
func (e *Engine) LatestCycle(instrument string) (models.CycleResult, bool) {
	w := e.lookupWorker(instrument)
	if w == nil {
		return models.CycleResult{}, false
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.latest, w.hasLatest
}

// OpenZones returns the instrument's zone events not yet traded through.
func (e *Engine) OpenZones(instrument string) []models.PatternEvent {
	w := e.lookupWorker(instrument)
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.PatternEvent, len(w.openZones))
	copy(out, w.openZones)
	return out
}

// Instruments lists instruments with at least one stored bar.
func (e *Engine) Instruments() []string {
	return e.store.Instruments()
}

// Bars returns up to limit most recent bars of the series, oldest first.
func (e *Engine) Bars(instrument, timeframe string, limit int) []models.Bar {
	return e.store.Window(instrument, timeframe, limit)
}

func (e *Engine) lookupWorker(instrument string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.workers[instrument]
}

// scheduleCycle creates the instrument worker on first contact and coalesces
// the trigger.
func (e *Engine) scheduleCycle(instrument string) {
	e.mu.Lock()
	w, ok := e.workers[instrument]
	if !ok {
		w = &worker{
			instrument: instrument,
			trigger:    make(chan struct{}, 1),
		}
		e.workers[instrument] = w
		e.wg.Add(1)
		go e.runWorker(w)
	}
	e.mu.Unlock()

	select {
	case w.trigger <- struct{}{}:
	default:
		// a cycle is already pending
	}
}

func (e *Engine) runWorker(w *worker) {
	defer e.wg.Done()

	engineCtx := e.ctx
	if engineCtx == nil {
		engineCtx = context.Background()
	}

	// context load happens once, on the worker goroutine, off the
	// ingestion path
	hctx := e.persister.Load(engineCtx, w.instrument)

	for {
		select {
		case <-engineCtx.Done():
			return
		case <-w.trigger:
		}

		start := time.Now()
		w.seq++
		res := e.pipeline.RunCycle(engineCtx, hctx, w.seq, time.Now().UTC())

		if e.metrics != nil {
			e.metrics.RecordCycle(w.instrument, res.Status)
			e.metrics.RecordCycleDuration(time.Since(start).Seconds())
		}

		if res.Status == models.CycleStatusTimeout {
			// prior output stays the latest known
			continue
		}

		e.updateZoneLedger(w, res.Events)

		w.mu.Lock()
		w.latest = res
		w.hasLatest = true
		w.mu.Unlock()

		for _, ev := range res.Events {
			if e.metrics != nil {
				e.metrics.RecordEventEmitted(string(ev.Event.Kind), string(ev.Event.Direction))
				if ev.Suppressed {
					e.metrics.RecordSuppression(w.instrument)
				}
			}
		}

		e.persister.MarkDirty(hctx)
		e.emit(engineCtx, res)
	}
}

// updateZoneLedger adds fresh zone events and drops zones since traded
// through, each checked against its own timeframe's window.
func (e *Engine) updateZoneLedger(w *worker, events []models.EnhancedEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()

	known := make(map[string]struct{}, len(w.openZones))
	for _, z := range w.openZones {
		known[z.ID] = struct{}{}
	}
	for _, ev := range events {
		k := ev.Event.Kind
		if k != models.KindImbalanceZone && k != models.KindOrderZone {
			continue
		}
		if _, dup := known[ev.Event.ID]; !dup {
			w.openZones = append(w.openZones, ev.Event)
			known[ev.Event.ID] = struct{}{}
		}
	}

	cfg := e.pipeline.Config()
	windows := make(map[string][]models.Bar)
	open := w.openZones[:0]
	for _, z := range w.openZones {
		bars, ok := windows[z.Timeframe]
		if !ok {
			bars = e.store.Window(w.instrument, z.Timeframe, cfg.WindowSize)
			windows[z.Timeframe] = bars
		}
		if detect.ZoneFilled(z, bars) {
			continue
		}
		open = append(open, z)
	}
	w.openZones = open
}

// emit publishes and archives a completed cycle off the worker loop so a slow
// sink never delays the next cycle.
func (e *Engine) emit(ctx context.Context, res models.CycleResult) {
	if e.publisher == nil && e.archive == nil {
		return
	}
	events := res.Events

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		emitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if e.publisher != nil {
			if err := e.publisher.Publish(emitCtx, &res); err != nil {
				if e.log != nil {
					e.log.Error("cycle publish failed",
						logger.String("instrument", res.Instrument),
						logger.Error(err))
				}
				if e.metrics != nil {
					e.metrics.RecordError("publish")
				}
			}
		}
		if e.archive != nil && len(events) > 0 {
			if err := e.archive.ArchiveBatch(emitCtx, events); err != nil {
				if e.log != nil {
					e.log.Error("cycle archive failed",
						logger.String("instrument", res.Instrument),
						logger.Error(err))
				}
				if e.metrics != nil {
					e.metrics.RecordError("archive")
				}
			}
		}
	}()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, barstore.ErrMalformed):
		return "malformed"
	case errors.Is(err, barstore.ErrOutOfOrder):
		return "out_of_order"
	case errors.Is(err, barstore.ErrDuplicate):
		return "duplicate"
	default:
		return "unknown"
	}
}
