package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/zkdca/internal/domain"
	"github.com/alanyoungcy/zkdca/internal/service"
	"github.com/alanyoungcy/zkdca/internal/store/memory"
)

const testOwner = "aleo1qnr4dkkvkgfqph0vzc3y6z2eu975wnpz2925ntjccd5cfqxtyu8s7pyjh9"

type fixedObserver uint64

func (o fixedObserver) CurrentHeight(context.Context) (uint64, error) {
	return uint64(o), nil
}

func newTestHandler(t *testing.T) (*PositionHandler, *service.PositionService) {
	t.Helper()
	logger := slog.Default()
	positions := memory.NewPositionStore()
	executions := memory.NewExecutionStore()
	svc := service.NewPositionService(
		positions, executions, memory.NewExecutionJournal(positions, executions),
		memory.NewAuditStore(), nil, logger,
	)
	h := NewPositionHandler(svc, executions, nil, fixedObserver(500), logger)
	return h, svc
}

func newMux(h *PositionHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/positions", h.CreatePosition)
	mux.HandleFunc("GET /api/positions", h.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", h.GetPosition)
	mux.HandleFunc("DELETE /api/positions/{id}", h.CancelPosition)
	mux.HandleFunc("GET /api/positions/{id}/executions", h.ListExecutions)
	mux.HandleFunc("POST /api/positions/{id}/execute", h.TriggerExecution)
	mux.HandleFunc("GET /api/eligible", h.ListEligible)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreatePosition(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	rec := doJSON(t, mux, http.MethodPost, "/api/positions", `{
		"owner": "`+testOwner+`",
		"input_token": 1,
		"output_token": 2,
		"input_amount": 1000,
		"interval": 10,
		"executions_remaining": 5,
		"min_output_amount": 900
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var report domain.PositionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, domain.PositionStatusActive, report.Status)
	assert.False(t, report.Unbounded)
	assert.Equal(t, uint32(5), report.RemainingExecs)
	assert.Zero(t, report.NextEligibleHeight)
}

func TestCreatePositionRejectsBadParams(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	tests := []struct {
		name string
		body string
	}{
		{"missing owner", `{"input_token":1,"output_token":2,"input_amount":10,"interval":5}`},
		{"zero amount", `{"owner":"` + testOwner + `","input_token":1,"output_token":2,"input_amount":0,"interval":5}`},
		{"zero interval", `{"owner":"` + testOwner + `","input_token":1,"output_token":2,"input_amount":10,"interval":0}`},
		{"same tokens", `{"owner":"` + testOwner + `","input_token":1,"output_token":1,"input_amount":10,"interval":5}`},
		{"not json", `not json`},
	}
	for _, tt := range tests {
		rec := doJSON(t, mux, http.MethodPost, "/api/positions", tt.body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, tt.name)
	}
}

func TestGetPositionNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, newMux(h), http.MethodGet, "/api/positions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPositionsRequiresOwner(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, newMux(h), http.MethodGet, "/api/positions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelFlow(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	pos, err := svc.Create(context.Background(), testOwner, domain.CreateParams{
		InputToken: 1, OutputToken: 2, InputAmount: 100, Interval: 10,
	})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodDelete, "/api/positions/"+pos.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Cancelling again is idempotent.
	rec = doJSON(t, mux, http.MethodDelete, "/api/positions/"+pos.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/positions/"+pos.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report domain.PositionReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, domain.PositionStatusCancelled, report.Status)
}

func TestListEligibleUsesObserverHeight(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	pos, err := svc.Create(context.Background(), testOwner, domain.CreateParams{
		InputToken: 1, OutputToken: 2, InputAmount: 100, Interval: 10,
	})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodGet, "/api/eligible", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Height   uint64   `json:"height"`
		Eligible []string `json:"eligible"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(500), resp.Height, "falls back to observer height")
	assert.Equal(t, []string{pos.ID}, resp.Eligible)
}

func TestListEligibleExplicitHeight(t *testing.T) {
	h, _ := newTestHandler(t)
	mux := newMux(h)

	rec := doJSON(t, mux, http.MethodGet, "/api/eligible?height=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/api/eligible?height=42", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"height":42`)
}

func TestTriggerWithoutExecutor(t *testing.T) {
	h, svc := newTestHandler(t)
	mux := newMux(h)

	pos, err := svc.Create(context.Background(), testOwner, domain.CreateParams{
		InputToken: 1, OutputToken: 2, InputAmount: 100, Interval: 10,
	})
	require.NoError(t, err)

	rec := doJSON(t, mux, http.MethodPost, "/api/positions/"+pos.ID+"/execute", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListExecutionsUnknownPosition(t *testing.T) {
	h, _ := newTestHandler(t)
	rec := doJSON(t, newMux(h), http.MethodGet, "/api/positions/nope/executions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
