// Package middleware sits between the live feed and the engine. The ingest
// pipeline validates, throttles and buffers incoming bars so a briefly
// unavailable downstream never drops the stream on the floor.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/domain/models"
	domrepo "StructPulse/internal/domain/repository"
)

// BarSink is the minimal downstream interface the pipeline needs.
type BarSink interface {
	PushBar(ctx context.Context, instrument, timeframe string, bar models.Bar) error
}

// IngestPipeline validates, throttles per series, and buffers bars when the
// downstream is unavailable, flushing them with backoff in the background.
type IngestPipeline struct {
	sink     BarSink
	metrics  domrepo.Metrics
	maxRPS   int
	bufSize  int
	bufCh    chan *models.IncomingBar
	stopCh   chan struct{}
	started  bool
	mu       sync.Mutex
	lastSeen map[string]time.Time // per-series last accepted time
}

type PipelineOption func(*IngestPipeline)

// WithMaxRPS sets the max bars per second per series.
func WithMaxRPS(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.maxRPS = n
		}
	}
}

// WithBufferSize sets the buffer size used when the downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewIngestPipeline creates a pipeline in front of the sink.
func NewIngestPipeline(sink BarSink, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		sink:     sink,
		metrics:  metrics,
		maxRPS:   20,
		bufSize:  1000,
		stopCh:   make(chan struct{}),
		lastSeen: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.IncomingBar, p.bufSize)
	return p
}

// Start launches background flushing of buffered bars.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case in := <-p.bufCh:
				if in == nil {
					continue
				}
				if err := p.sink.PushBar(ctx, in.Instrument, in.Timeframe, in.Bar); err != nil {
					if backoff < 2*time.Second {
						backoff *= 2
					}
					p.metrics.RecordError("pipeline_flush")
					time.Sleep(backoff)
					select {
					case p.bufCh <- in:
					default:
						p.metrics.RecordError("pipeline_buffer_drop")
					}
				} else {
					backoff = 50 * time.Millisecond
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates, throttles, and forwards a bar downstream, buffering on
// transient downstream failure.
func (p *IngestPipeline) Process(ctx context.Context, in *models.IncomingBar) error {
	start := time.Now()
	if err := validateIncoming(in); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if !p.allow(in.Instrument+"/"+in.Timeframe, start) {
		p.metrics.RecordError("pipeline_throttle")
		return nil
	}

	if err := p.sink.PushBar(ctx, in.Instrument, in.Timeframe, in.Bar); err != nil {
		if isReject(err) {
			// permanent; retrying can never succeed
			return err
		}
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- in:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func validateIncoming(in *models.IncomingBar) error {
	if in == nil {
		return fmt.Errorf("bar nil")
	}
	if in.Instrument == "" {
		return fmt.Errorf("instrument empty")
	}
	if !domrepo.IsValidTimeframe(domrepo.Timeframe(in.Timeframe)) {
		return fmt.Errorf("timeframe %q invalid", in.Timeframe)
	}
	if !in.Bar.Valid() {
		return fmt.Errorf("bar invalid")
	}
	return nil
}

func isReject(err error) bool {
	return errors.Is(err, barstore.ErrMalformed) ||
		errors.Is(err, barstore.ErrOutOfOrder) ||
		errors.Is(err, barstore.ErrDuplicate)
}

func (p *IngestPipeline) allow(series string, now time.Time) bool {
	if p.maxRPS <= 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.lastSeen[series]
	if last.IsZero() {
		p.lastSeen[series] = now
		return true
	}
	if now.Sub(last) < time.Second/time.Duration(p.maxRPS) {
		return false
	}
	p.lastSeen[series] = now
	return true
}
