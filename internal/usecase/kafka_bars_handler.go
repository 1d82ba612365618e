package usecase

import (
	"context"
	"encoding/json"
	"time"

	"StructPulse/internal/domain/models"
	domrepo "StructPulse/internal/domain/repository"
	pkgkafka "StructPulse/pkg/kafka"
)

// KafkaBarsHandler consumes closed bars from a Kafka topic and pushes them
// into the engine. Reject errors are swallowed after recording; a bad bar is
// not worth a redelivery loop.
type KafkaBarsHandler struct {
	topic   string
	engine  *Engine
	metrics domrepo.Metrics
}

func NewKafkaBarsHandler(topic string, engine *Engine, metrics domrepo.Metrics) *KafkaBarsHandler {
	return &KafkaBarsHandler{topic: topic, engine: engine, metrics: metrics}
}

func (h *KafkaBarsHandler) Topic() string { return h.topic }

// incoming message schema: {instrument, timeframe, t, o, h, l, c, v}
func (h *KafkaBarsHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Instrument string  `json:"instrument"`
		Timeframe  string  `json:"timeframe"`
		T          int64   `json:"t"`
		O          float64 `json:"o"`
		H          float64 `json:"h"`
		L          float64 `json:"l"`
		C          float64 `json:"c"`
		V          float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}

	ts := m.T
	if ts > 1e11 { // ms
		ts = ts / 1000
	}
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(time.Unix(ts, 0)).Seconds())

	bar := models.Bar{
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      m.O,
		High:      m.H,
		Low:       m.L,
		Close:     m.C,
		Volume:    m.V,
	}

	start := time.Now()
	err := h.engine.PushBar(ctx, m.Instrument, string(domrepo.NormalizeTimeframe(m.Timeframe)), bar)
	h.metrics.RecordLatency("push_bar_seconds", time.Since(start).Seconds())
	if err != nil {
		// rejects are recorded by the engine; nothing to retry
		return nil
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaBarsHandler)(nil)
