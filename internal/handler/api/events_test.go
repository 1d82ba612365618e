package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StructPulse/internal/barstore"
	"StructPulse/internal/confluence"
	"StructPulse/internal/detect"
	"StructPulse/internal/domain/models"
	"StructPulse/internal/domain/repository"
	"StructPulse/internal/memory"
	"StructPulse/internal/persist"
	"StructPulse/internal/usecase"
	xlogger "StructPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

type memStore struct{}

func (memStore) Load(context.Context, string) (*models.ContextSnapshot, error) {
	return nil, repository.ErrContextNotFound
}
func (memStore) Save(context.Context, *models.ContextSnapshot) error { return nil }
func (memStore) Close() error                                        { return nil }

func newTestAPI(t *testing.T) (*echo.Echo, *usecase.Engine) {
	t.Helper()
	store := barstore.New(0)
	pipeline := confluence.New(confluence.Config{
		Timeframes:       []repository.Timeframe{repository.TFH4, repository.TFM15},
		MinAuthorityBars: 2,
	}, store, detect.New(detect.Config{}), memory.NewEnhancer(memory.Config{}, nil), nil)
	persister := persist.NewManager(persist.ManagerConfig{FlushInterval: time.Hour}, memory.Config{}, memStore{}, nil, nil)
	engine := usecase.NewEngine(store, pipeline, persister, nil, nil, nil, nil)
	engine.Start(context.Background())
	t.Cleanup(engine.Stop)

	h := NewEventsHandler(xlogger.Nop(), engine, nil)
	e := echo.New()
	h.RegisterRoutes(e)
	return e, engine
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, e *echo.Echo, method, target, body string) envelope {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return env
}

func TestPushBarEndpoint(t *testing.T) {
	e, _ := newTestAPI(t)

	body := `{"instrument":"EURUSD","tf":"M15","t":1728554400,"o":1.1,"h":1.2,"l":1.05,"c":1.15,"v":100}`
	env := doJSON(t, e, http.MethodPost, "/api/bars", body)
	if env.Status != http.StatusCreated {
		t.Fatalf("expected 201 envelope, got %d %s", env.Status, env.Data)
	}

	// same timestamp again is a duplicate
	env = doJSON(t, e, http.MethodPost, "/api/bars", body)
	if env.Status != http.StatusConflict {
		t.Fatalf("expected 409 envelope for duplicate, got %d", env.Status)
	}
}

func TestPushBarValidation(t *testing.T) {
	e, _ := newTestAPI(t)

	env := doJSON(t, e, http.MethodPost, "/api/bars", `{"instrument":"EURUSD","tf":"M3","t":1728554400,"o":1,"h":1,"l":1,"c":1}`)
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 envelope for bad timeframe, got %d", env.Status)
	}
}

func TestEventsEndpointMissingInstrument(t *testing.T) {
	e, _ := newTestAPI(t)

	env := doJSON(t, e, http.MethodGet, "/api/events", "")
	if env.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 envelope, got %d", env.Status)
	}
}

func TestEventsEndpointNoCycle(t *testing.T) {
	e, _ := newTestAPI(t)

	env := doJSON(t, e, http.MethodGet, "/api/events?instrument=XAUUSD", "")
	if env.Status != http.StatusNotFound {
		t.Fatalf("expected 404 envelope, got %d", env.Status)
	}
}

func TestBarsEndpointReturnsWindow(t *testing.T) {
	e, engine := newTestAPI(t)

	ts := time.Date(2024, 10, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		bar := models.Bar{
			Timestamp: ts.Add(time.Duration(i) * 15 * time.Minute),
			Open:      1.1, High: 1.2, Low: 1.05, Close: 1.15, Volume: 10,
		}
		if err := engine.PushBar(context.Background(), "EURUSD", "M15", bar); err != nil {
			t.Fatalf("push: %v", err)
		}
	}

	env := doJSON(t, e, http.MethodGet, "/api/bars?instrument=EURUSD&tf=M15", "")
	if env.Status != http.StatusOK {
		t.Fatalf("expected 200 envelope, got %d", env.Status)
	}
	var list struct {
		Rows  []models.Bar `json:"rows"`
		Total int64        `json:"total"`
	}
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatalf("decode rows: %v", err)
	}
	if list.Total != 3 || len(list.Rows) != 3 {
		t.Fatalf("expected 3 bars, got total=%d len=%d", list.Total, len(list.Rows))
	}
	if !list.Rows[0].Timestamp.Equal(ts) {
		t.Fatalf("bars not oldest-first: %v", list.Rows[0].Timestamp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestAPI(t)

	env := doJSON(t, e, http.MethodGet, "/health", "")
	if env.Status != http.StatusOK {
		t.Fatalf("expected 200 envelope, got %d", env.Status)
	}
}
