// Package confluence runs the cross-timeframe detection cycle: the coarsest
// timeframe resolves the directional authority, finer timeframes are detected
// and enhanced under that authority, and disagreement is penalized rather than
// discarded. One cycle is one context transaction; a cycle abandoned on the
// deadline leaves the instrument's memory untouched.
package confluence

import (
	"context"
	"sort"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
	"StructPulse/pkg/logger"
)

// Config holds the cycle tunables.
type Config struct {
	// Timeframes ordered coarsest to finest. The first entry is the
	// authority timeframe.
	Timeframes []repository.Timeframe

	// DisagreementPenalty multiplies the confidence of events whose
	// direction opposes the nearest coarser resolved bias. Must be < 1.
	DisagreementPenalty float64

	// CycleDeadline is the soft per-cycle deadline.
	CycleDeadline time.Duration

	// MinAuthorityBars is the minimum window for the authority timeframe
	// to resolve a fresh bias. Below it the cycle falls back to the last
	// known bias and flags stale authority.
	MinAuthorityBars int

	// WindowSize is how many bars each timeframe feeds the detector.
	WindowSize int
}

// DefaultConfig returns the cycle defaults.
func DefaultConfig() Config {
	return Config{
		Timeframes:          []repository.Timeframe{repository.TFH4, repository.TFH1, repository.TFM15},
		DisagreementPenalty: 0.5,
		CycleDeadline:       3 * time.Second,
		MinAuthorityBars:    20,
		WindowSize:          200,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Timeframes) == 0 {
		c.Timeframes = def.Timeframes
	}
	if c.DisagreementPenalty <= 0 || c.DisagreementPenalty >= 1 {
		c.DisagreementPenalty = def.DisagreementPenalty
	}
	if c.CycleDeadline <= 0 {
		c.CycleDeadline = def.CycleDeadline
	}
	if c.MinAuthorityBars <= 0 {
		c.MinAuthorityBars = def.MinAuthorityBars
	}
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	return c
}

// Pipeline drives detection and enhancement across the configured timeframes
// for one instrument at a time.
type Pipeline struct {
	cfg      Config
	store    *barstore.Store
	detector *detect.Detector
	enhancer *memory.Enhancer
	log      *logger.Logger
}

// New creates a Pipeline.
func New(cfg Config, store *barstore.Store, detector *detect.Detector, enhancer *memory.Enhancer, log *logger.Logger) *Pipeline {
	return &Pipeline{
		cfg:      cfg.withDefaults(),
		store:    store,
		detector: detector,
		enhancer: enhancer,
		log:      log,
	}
}

// Config returns the effective pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Penalize applies the disagreement penalty to a confidence when the event
// direction opposes the resolved gate bias. Agreement and a neutral gate pass
// the confidence through unchanged.
func (p *Pipeline) Penalize(confidence float64, dir, gate models.Direction) float64 {
	if gate == models.Neutral || dir == models.Neutral || dir == gate {
		return confidence
	}
	return confidence * p.cfg.DisagreementPenalty
}

// RunCycle executes one full confluence cycle for the instrument inside a
// single context transaction. The returned result carries the merged,
// confidence-sorted event list; a deadline abort returns a timeout result
// with no events and commits nothing.
func (p *Pipeline) RunCycle(ctx context.Context, hctx *memory.HistoricalContext, seq uint64, now time.Time) models.CycleResult {
	instrument := hctx.Instrument()
	cctx, cancel := context.WithTimeout(ctx, p.cfg.CycleDeadline)
	defer cancel()

	txn := hctx.Begin()

	stale := false
	gate := txn.Bias().Direction
	var merged []models.EnhancedEvent

	for i, tf := range p.cfg.Timeframes {
		if cctx.Err() != nil {
			return p.abandon(txn, instrument, seq, now)
		}

		tfs := string(tf)
		bars := p.store.Window(instrument, tfs, p.cfg.WindowSize)

		if i == 0 && len(bars) < p.cfg.MinAuthorityBars {
			// authority unresolvable; proceed on the last known bias
			stale = true
			if p.log != nil {
				p.log.Warn("stale_authority, insufficient bars",
					logger.String("instrument", instrument),
					logger.String("timeframe", tfs),
					logger.Int("bars", len(bars)))
			}
			continue
		}
		if len(bars) == 0 {
			continue
		}

		p.enhancer.ResolveOutcomes(txn, tfs, bars, now)

		windowHash := p.store.WindowHash(instrument, tfs, p.cfg.WindowSize)
		candidates := p.detector.Detect(instrument, tfs, bars, txn.Bias().Direction)

		for _, ev := range candidates {
			if cctx.Err() != nil {
				return p.abandon(txn, instrument, seq, now)
			}
			enhanced := p.enhancer.Enhance(txn, ev, windowHash, now)
			if i > 0 {
				enhanced.AdjustedConfidence = p.Penalize(enhanced.AdjustedConfidence, ev.Direction, gate)
			}
			merged = append(merged, enhanced)
		}

		// the just-updated bias gates the next finer timeframe
		gate = txn.Bias().Direction
	}

	if cctx.Err() != nil {
		return p.abandon(txn, instrument, seq, now)
	}

	status := models.CycleStatusOK
	if stale {
		status = models.CycleStatusStaleAuthority
		for i := range merged {
			merged[i].StaleAuthority = true
		}
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].AdjustedConfidence != merged[b].AdjustedConfidence {
			return merged[a].AdjustedConfidence > merged[b].AdjustedConfidence
		}
		return merged[a].Event.ID < merged[b].Event.ID
	})

	txn.Commit()
	return models.CycleResult{
		Instrument:  instrument,
		Seq:         seq,
		CompletedAt: now,
		Status:      status,
		Events:      merged,
	}
}

func (p *Pipeline) abandon(txn *memory.Txn, instrument string, seq uint64, now time.Time) models.CycleResult {
	txn.Abort()
	if p.log != nil {
		p.log.Warn("cycle_timeout, cycle abandoned", logger.String("instrument", instrument))
	}
	return models.CycleResult{
		Instrument:  instrument,
		Seq:         seq,
		CompletedAt: now,
		Status:      models.CycleStatusTimeout,
	}
}
