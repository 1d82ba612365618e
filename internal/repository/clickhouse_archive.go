// Package repository holds the infrastructure-backed implementations of the
// domain repository interfaces.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StructPulse/internal/domain/models"
	pkgch "StructPulse/pkg/clickhouse"
	applogger "StructPulse/pkg/logger"
)

// CHEventArchive implements EventArchive backed by ClickHouse. Every emitted
// event of a completed cycle lands here for audit and backtest queries; the
// archive is append-only and never read on the cycle path.
type CHEventArchive struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHEventArchive(ch *pkgch.Client) *CHEventArchive {
	return &CHEventArchive{db: ch.DB()}
}

// SetLogger injects a structured logger.
func (a *CHEventArchive) SetLogger(l *applogger.Logger) { a.l = l }

var archiveSchema = []string{
	`CREATE DATABASE IF NOT EXISTS structpulse`,
	`CREATE TABLE IF NOT EXISTS structpulse.events (
        event_id            String,
        instrument          LowCardinality(String),
        timeframe           LowCardinality(String),
        kind                LowCardinality(String),
        direction           LowCardinality(String),
        start_at            DateTime64(3, 'UTC'),
        end_at              DateTime64(3, 'UTC'),
        raw_confidence      Float64,
        adjusted_confidence Float64,
        zone_low            Float64,
        zone_high           Float64,
        suppressed          UInt8,
        suppression_reason  String,
        memory_unavailable  UInt8,
        stale_authority     UInt8,
        cycle_timeout       UInt8,
        archived_at         DateTime64(3, 'UTC')
    ) ENGINE = MergeTree()
    PARTITION BY toYYYYMM(end_at)
    ORDER BY (instrument, end_at, event_id)`,
}

// Init ensures the archive database and table exist.
func (a *CHEventArchive) Init(ctx context.Context) error {
	for _, stmt := range archiveSchema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}
	return nil
}

// ArchiveBatch inserts all events of one completed cycle in a single batch.
func (a *CHEventArchive) ArchiveBatch(ctx context.Context, events []models.EnhancedEvent) error {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO structpulse.events (
        event_id, instrument, timeframe, kind, direction, start_at, end_at,
        raw_confidence, adjusted_confidence, zone_low, zone_high,
        suppressed, suppression_reason, memory_unavailable, stale_authority,
        cycle_timeout, archived_at
    ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("archive prepare: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range events {
		_, err := stmt.ExecContext(ctx,
			e.Event.ID, e.Event.Instrument, e.Event.Timeframe,
			string(e.Event.Kind), string(e.Event.Direction),
			e.Event.Start, e.Event.End,
			e.Event.RawConfidence, e.AdjustedConfidence,
			e.Event.ZoneLow, e.Event.ZoneHigh,
			boolToUInt8(e.Suppressed), e.SuppressionReason,
			boolToUInt8(e.MemoryUnavailable), boolToUInt8(e.StaleAuthority),
			boolToUInt8(e.CycleTimeout), now,
		)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("archive insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("archive commit: %w", err)
	}
	if a.l != nil {
		a.l.Debug("archived event batch",
			applogger.Int("events", len(events)),
			applogger.Duration("duration_ms", time.Since(start)))
	}
	return nil
}

// Query returns archived events for an instrument in [from, to], oldest first.
func (a *CHEventArchive) Query(ctx context.Context, instrument string, from, to time.Time, limit int) ([]models.EnhancedEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	const q = `
        SELECT event_id, instrument, timeframe, kind, direction, start_at,
               end_at, raw_confidence, adjusted_confidence, zone_low, zone_high,
               suppressed, suppression_reason, memory_unavailable,
               stale_authority, cycle_timeout
        FROM structpulse.events
        WHERE instrument = ? AND end_at >= ? AND end_at <= ?
        ORDER BY end_at ASC
        LIMIT ?
    `
	rows, err := a.db.QueryContext(ctx, q, instrument, from, to, limit)
	if err != nil {
		if a.l != nil {
			a.l.Error("archive query error",
				applogger.String("instrument", instrument),
				applogger.Error(err))
		}
		return nil, fmt.Errorf("archive query: %w", err)
	}
	defer rows.Close()

	out := make([]models.EnhancedEvent, 0, limit)
	for rows.Next() {
		var (
			e                             models.EnhancedEvent
			kind, direction               string
			supp, memUnavail, stale, tout uint8
		)
		if err := rows.Scan(
			&e.Event.ID, &e.Event.Instrument, &e.Event.Timeframe,
			&kind, &direction, &e.Event.Start, &e.Event.End,
			&e.Event.RawConfidence, &e.AdjustedConfidence,
			&e.Event.ZoneLow, &e.Event.ZoneHigh,
			&supp, &e.SuppressionReason, &memUnavail, &stale, &tout,
		); err != nil {
			return nil, fmt.Errorf("archive scan: %w", err)
		}
		e.Event.Kind = models.EventKind(kind)
		e.Event.Direction = models.Direction(direction)
		e.Suppressed = supp != 0
		e.MemoryUnavailable = memUnavail != 0
		e.StaleAuthority = stale != 0
		e.CycleTimeout = tout != 0
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archive rows: %w", err)
	}
	return out, nil
}

// Health pings the underlying connection pool.
func (a *CHEventArchive) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close is a no-op; the shared ClickHouse client owns the pool.
func (a *CHEventArchive) Close() error { return nil }

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
