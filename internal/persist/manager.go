package persist

import (
	"context"
	"errors"
	"sync"
	"time"

	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
	"StructPulse/pkg/logger"
)

// ManagerConfig holds the flush tunables.
type ManagerConfig struct {
	// FlushInterval is the timer trigger for a background flush pass.
	FlushInterval time.Duration

	// BatchSize triggers an early flush once this many contexts are dirty.
	BatchSize int

	// MaxRetries bounds save attempts per context per flush pass.
	MaxRetries int

	// RetryBackoff is the base backoff between attempts, doubled each retry.
	RetryBackoff time.Duration
}

// DefaultManagerConfig returns the flush defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		FlushInterval: 30 * time.Second,
		BatchSize:     32,
		MaxRetries:    3,
		RetryBackoff:  200 * time.Millisecond,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	def := DefaultManagerConfig()
	if c.FlushInterval <= 0 {
		c.FlushInterval = def.FlushInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	return c
}

// Manager flushes dirty contexts to the store in the background. Workers mark
// a context dirty after committing a cycle; flushing happens on a timer or
// when enough contexts accumulate, never on the cycle path. A failed save is
// retried with backoff and, past the retry budget, the context simply stays
// dirty for the next pass.
type Manager struct {
	cfg     ManagerConfig
	store   repository.ContextStore
	memCfg  memory.Config
	log     *logger.Logger
	metrics repository.Metrics

	mu    sync.Mutex
	dirty map[string]*memory.HistoricalContext
	kick  chan struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewManager creates a Manager over the given store.
func NewManager(cfg ManagerConfig, memCfg memory.Config, store repository.ContextStore, log *logger.Logger, metrics repository.Metrics) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		store:   store,
		memCfg:  memCfg,
		log:     log,
		metrics: metrics,
		dirty:   make(map[string]*memory.HistoricalContext),
		kick:    make(chan struct{}, 1),
	}
}

// Start launches the background flush loop.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop ends the flush loop and performs a final synchronous flush.
func (m *Manager) Stop(ctx context.Context) {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.Flush(ctx)
}

// Load restores the context for an instrument. A missing record starts an
// empty context; a load failure starts a degraded one so detection continues
// at baseline confidence instead of crashing.
func (m *Manager) Load(ctx context.Context, instrument string) *memory.HistoricalContext {
	snap, err := m.store.Load(ctx, instrument)
	switch {
	case err == nil:
		return memory.FromSnapshot(snap, m.memCfg)
	case errors.Is(err, repository.ErrContextNotFound):
		return memory.NewContext(instrument, m.memCfg)
	default:
		if m.log != nil {
			m.log.Error("context load failed, entering degraded mode",
				logger.String("instrument", instrument),
				logger.Error(err))
		}
		if m.metrics != nil {
			m.metrics.RecordError("context_load")
		}
		return memory.NewDegradedContext(instrument, m.memCfg)
	}
}

// MarkDirty queues the context for the next flush pass. Degraded contexts are
// never queued: their persisted record could not be loaded, so saving their
// near-empty state would overwrite the durable memory once the store recovers.
func (m *Manager) MarkDirty(hctx *memory.HistoricalContext) {
	if hctx.Degraded() {
		return
	}
	m.mu.Lock()
	m.dirty[hctx.Instrument()] = hctx
	n := len(m.dirty)
	m.mu.Unlock()

	if n >= m.cfg.BatchSize {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

// Flush saves every dirty context now. Contexts that fail all attempts are
// requeued for the next pass.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.dirty
	m.dirty = make(map[string]*memory.HistoricalContext)
	m.mu.Unlock()

	for instrument, hctx := range batch {
		if err := m.saveWithRetry(ctx, hctx); err != nil {
			if m.log != nil {
				m.log.Error("context flush failed, will retry next pass",
					logger.String("instrument", instrument),
					logger.Error(err))
			}
			if m.metrics != nil {
				m.metrics.RecordFlush("failure")
			}
			m.mu.Lock()
			if _, relisted := m.dirty[instrument]; !relisted {
				m.dirty[instrument] = hctx
			}
			m.mu.Unlock()
			continue
		}
		if m.metrics != nil {
			m.metrics.RecordFlush("success")
		}
	}
}

func (m *Manager) saveWithRetry(ctx context.Context, hctx *memory.HistoricalContext) error {
	snap := hctx.Snapshot()
	backoff := m.cfg.RetryBackoff

	var err error
	for attempt := 0; attempt < m.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}
		if err = m.store.Save(ctx, &snap); err == nil {
			return nil
		}
	}
	return err
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Flush(ctx)
		case <-m.kick:
			m.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}
