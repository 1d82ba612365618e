package usecase

import (
	"context"

	"StructPulse/internal/domain/models"
	drepo "StructPulse/internal/domain/repository"
	mid "StructPulse/internal/middleware"
)

// BarCollector consumes bars from the live feed and pushes them into the
// engine, optionally through the ingestion pipeline.
type BarCollector struct {
	stream  drepo.BarStream
	engine  *Engine
	metrics drepo.Metrics
	pipe    *mid.IngestPipeline
}

// NewBarCollector creates a BarCollector.
func NewBarCollector(stream drepo.BarStream, engine *Engine, metrics drepo.Metrics, pipe *mid.IngestPipeline) *BarCollector {
	return &BarCollector{stream: stream, engine: engine, metrics: metrics, pipe: pipe}
}

// IsConnected returns true if the feed is connected.
func (c *BarCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *BarCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx); err != nil {
		return err
	}
	if c.pipe != nil {
		c.pipe.Start(ctx)
	}
	barCh, errCh := c.stream.Read(ctx)
	go c.consume(ctx, barCh, errCh)
	return nil
}

func (c *BarCollector) consume(ctx context.Context, barCh <-chan *models.IncomingBar, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err == nil {
				continue
			}
			if err != nil && c.metrics != nil {
				c.metrics.RecordError("feed")
			}
			// the stream's channels close once its read loop ends, so a
			// successful reconnect must also replace them
			for ctx.Err() == nil {
				if rerr := c.stream.Reconnect(ctx); rerr == nil {
					barCh, errCh = c.stream.Read(ctx)
					break
				}
			}
		case in, ok := <-barCh:
			if !ok || in == nil {
				continue
			}
			if c.pipe != nil {
				_ = c.pipe.Process(ctx, in)
			} else {
				_ = c.engine.PushBar(ctx, in.Instrument, in.Timeframe, in.Bar)
			}
		}
	}
}

// Shutdown stops the pipeline and closes the feed.
func (c *BarCollector) Shutdown(ctx context.Context) error {
	if c.pipe != nil {
		c.pipe.Stop()
	}
	return c.stream.Close()
}
