package repository

import (
	"context"
	"errors"
	"time"

	"StructPulse/internal/domain/models"
)

// ErrContextNotFound is returned by ContextStore.Load when no record exists
// for the instrument. Callers treat it as "start empty", not as a failure.
var ErrContextNotFound = errors.New("context not found")

// BarStream is a live market feed delivering bars for subscribed instruments.
type BarStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.IncomingBar, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// EventPublisher pushes completed cycle results to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, res *models.CycleResult) error
	Close() error
}

// EventArchive stores emitted events durably for audit and backtest queries.
type EventArchive interface {
	Init(ctx context.Context) error
	ArchiveBatch(ctx context.Context, events []models.EnhancedEvent) error
	Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]models.EnhancedEvent, error)
	Health(ctx context.Context) error
	Close() error
}

// ContextStore persists one HistoricalContext snapshot per instrument.
type ContextStore interface {
	Load(ctx context.Context, instrument string) (*models.ContextSnapshot, error)
	Save(ctx context.Context, snap *models.ContextSnapshot) error
	Close() error
}

// Metrics records operational counters for the detection engine.
type Metrics interface {
	RecordBarIngested(instrument, timeframe string)
	RecordBarRejected(reason string)
	RecordCycle(instrument, status string)
	RecordCycleDuration(seconds float64)
	RecordEventEmitted(kind, direction string)
	RecordSuppression(instrument string)
	RecordError(kind string)
	RecordFlush(result string)
	RecordLatency(op string, seconds float64)
}
