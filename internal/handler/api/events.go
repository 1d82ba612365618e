package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"StructPulse/internal/barstore"
	models "StructPulse/internal/domain/models"
	domrepo "StructPulse/internal/domain/repository"
	icache "StructPulse/internal/service/cache"
	apimetrics "StructPulse/internal/service/metrics"
	"StructPulse/internal/service/ratelimit"
	"StructPulse/internal/usecase"
	xhttp "StructPulse/pkg/http"
	xlogger "StructPulse/pkg/logger"
	xutil "StructPulse/pkg/util"

	"github.com/labstack/echo/v4"
)

// EventsHandler serves the detection read API and the bar push endpoint.
type EventsHandler struct {
	logger  *xlogger.Logger
	engine  *usecase.Engine
	archive domrepo.EventArchive
	cache   icache.BytesCache
	rl      *ratelimit.Limiter
}

// NewEventsHandler creates the handler. The archive may be nil when the
// deployment runs without ClickHouse; the /api/archive route then returns 404.
func NewEventsHandler(logger *xlogger.Logger, engine *usecase.Engine, archive domrepo.EventArchive) *EventsHandler {
	apimetrics.Register()
	return &EventsHandler{logger: logger, engine: engine, archive: archive, rl: ratelimit.New()}
}

// SetCache injects a response cache for the archive endpoint.
func (h *EventsHandler) SetCache(c icache.BytesCache) { h.cache = c }

func (h *EventsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/events", h.Events)
	g.GET("/zones", h.Zones)
	g.GET("/bars", h.Bars)
	g.POST("/bars", h.PushBar)
	g.GET("/archive", h.Archive)
	e.GET("/health", h.Health)
}

// Events returns the most recent completed cycle for an instrument.
func (h *EventsHandler) Events(c echo.Context) error {
	start := time.Now()
	defer func() { apimetrics.APILatency.WithLabelValues("events").Observe(time.Since(start).Seconds()) }()

	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":events", 10, 5) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	res, ok := h.engine.LatestCycle(req.Instrument)
	if !ok {
		return xhttp.NotFoundResponse(c, "no completed cycle for instrument")
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=1")
	return xhttp.SuccessResponse(c, res)
}

// Zones returns the instrument's open zone ledger.
func (h *EventsHandler) Zones(c echo.Context) error {
	start := time.Now()
	defer func() { apimetrics.APILatency.WithLabelValues("zones").Observe(time.Since(start).Seconds()) }()

	req := &models.EventsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	zones := h.engine.OpenZones(req.Instrument)
	return xhttp.ListResponse(c, zones, int64(len(zones)))
}

// Bars returns the stored bar window of a series, oldest first.
func (h *EventsHandler) Bars(c echo.Context) error {
	start := time.Now()
	defer func() { apimetrics.APILatency.WithLabelValues("bars").Observe(time.Since(start).Seconds()) }()

	req := &models.BarsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf := string(domrepo.NormalizeTimeframe(req.TF))
	bars := h.engine.Bars(req.Instrument, tf, req.Limit)
	return xhttp.ListResponse(c, bars, int64(len(bars)))
}

// PushBar ingests one closed bar over HTTP.
func (h *EventsHandler) PushBar(c echo.Context) error {
	start := time.Now()
	defer func() { apimetrics.APILatency.WithLabelValues("push_bar").Observe(time.Since(start).Seconds()) }()

	req := &models.PushBarRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ts := req.T
	if ts > 1e11 { // ms
		ts = ts / 1000
	}
	bar := models.Bar{
		Timestamp: time.Unix(ts, 0).UTC(),
		Open:      req.O,
		High:      req.H,
		Low:       req.L,
		Close:     req.C,
		Volume:    req.V,
	}

	tf := string(domrepo.NormalizeTimeframe(req.TF))
	if err := h.engine.PushBar(c.Request().Context(), req.Instrument, tf, bar); err != nil {
		if appErr := rejectError(err); appErr != nil {
			return xhttp.AppErrorResponse(c, appErr)
		}
		h.logger.Error("push bar failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}
	return xhttp.CreatedResponse(c, map[string]any{"accepted": true})
}

// Archive queries the durable event archive. Responses are cached briefly
// since archive queries hit ClickHouse.
func (h *EventsHandler) Archive(c echo.Context) error {
	start := time.Now()
	endpoint := "archive"
	defer func() { apimetrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds()) }()

	if h.archive == nil {
		return xhttp.NotFoundResponse(c, "archive disabled")
	}

	req := &models.ArchiveRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if !h.rl.Allow(c.RealIP()+":archive", 3, 1) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}

	now := time.Now().UTC()
	from := xutil.ParseTimeDefault(req.From, now.Add(-24*time.Hour))
	to := xutil.ParseTimeDefault(req.To, now)
	from, to = xutil.AlignRange(from, to, req.TF)

	cacheKey := "archive:" + req.Instrument + ":" + from.Format(time.RFC3339) + ":" + to.Format(time.RFC3339)
	if h.cache != nil {
		if b, ok, err := h.cache.GetBytes(cacheKey); err != nil {
			h.logger.Warn("archive cache_get_error", xlogger.Error(err))
		} else if ok {
			return c.JSONBlob(http.StatusOK, b)
		}
	}

	events, err := h.archive.Query(c.Request().Context(), req.Instrument, from, to, req.Limit)
	if err != nil {
		apimetrics.APIErrors.WithLabelValues(endpoint).Inc()
		h.logger.Error("archive query failed", xlogger.Error(err))
		return xhttp.InternalServerErrorResponse(c)
	}

	body := xhttp.APIResponse{
		Status:  http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    &xhttp.ListDataResponse{Rows: events, Total: int64(len(events))},
	}
	b, err := json.Marshal(body)
	if err != nil {
		apimetrics.APIErrors.WithLabelValues(endpoint).Inc()
		return xhttp.InternalServerErrorResponse(c)
	}
	if h.cache != nil {
		if err := h.cache.SetBytes(cacheKey, b, 30*time.Second); err != nil {
			h.logger.Warn("archive cache_set_error", xlogger.Error(err))
		}
	}
	return c.JSONBlob(http.StatusOK, b)
}

// Health reports liveness and the set of active instruments.
func (h *EventsHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]any{
		"status":      "ok",
		"instruments": h.engine.Instruments(),
	})
}

func rejectError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, usecase.ErrInvalidTimeframe):
		return xhttp.NewAppError("ERR_INVALID_TIMEFRAME", "tf", "unsupported timeframe", http.StatusBadRequest)
	case errors.Is(err, barstore.ErrMalformed):
		return xhttp.NewAppError("ERR_MALFORMED_BAR", "", "bar failed validation", http.StatusBadRequest)
	case errors.Is(err, barstore.ErrOutOfOrder):
		return xhttp.NewAppError("ERR_OUT_OF_ORDER", "t", "bar is older than the latest stored bar", http.StatusConflict)
	case errors.Is(err, barstore.ErrDuplicate):
		return xhttp.NewAppError("ERR_DUPLICATE", "t", "bar timestamp already stored", http.StatusConflict)
	default:
		return nil
	}
}
