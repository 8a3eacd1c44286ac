package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/zkdca/internal/domain"
)

// Lifecycle is the slice of the position service the HTTP layer needs.
type Lifecycle interface {
	Create(ctx context.Context, owner string, params domain.CreateParams) (domain.Position, error)
	Cancel(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (domain.Position, error)
	List(ctx context.Context, owner string, opts domain.ListOpts) ([]domain.Position, error)
	Report(ctx context.Context, id string) (domain.PositionReport, error)
	ScanEligible(ctx context.Context, currentHeight uint64) ([]string, error)
}

// ExecutionLog is the read path for a position's execution history.
type ExecutionLog interface {
	ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.ExecutionRecord, error)
}

// Trigger runs one position's execution outside the sweep.
type Trigger interface {
	ExecuteNow(ctx context.Context, id string, height uint64) error
}

// PositionHandler serves the position lifecycle endpoints.
type PositionHandler struct {
	lifecycle  Lifecycle
	executions ExecutionLog
	trigger    Trigger // nil in serve-only mode
	observer   domain.ChainObserver
	logger     *slog.Logger
}

// NewPositionHandler creates a PositionHandler. trigger may be nil, in which
// case the manual execute endpoint reports the executor as unavailable.
func NewPositionHandler(lifecycle Lifecycle, executions ExecutionLog, trigger Trigger, observer domain.ChainObserver, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		lifecycle:  lifecycle,
		executions: executions,
		trigger:    trigger,
		observer:   observer,
		logger:     logger.With(slog.String("handler", "position")),
	}
}

// createRequest is the POST /api/positions body. ExecutionsRemaining keeps
// the wire convention: 0 means unbounded.
type createRequest struct {
	Owner               string `json:"owner"`
	InputToken          uint64 `json:"input_token"`
	InputAmount         uint64 `json:"input_amount"`
	OutputToken         uint64 `json:"output_token"`
	Interval            uint64 `json:"interval"`
	ExecutionsRemaining uint32 `json:"executions_remaining"`
	MinOutputAmount     uint64 `json:"min_output_amount"`
}

// CreatePosition opens a new position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		writeError(w, http.StatusBadRequest, "owner is required")
		return
	}

	pos, err := h.lifecycle.Create(r.Context(), req.Owner, domain.CreateParams{
		InputToken:          req.InputToken,
		InputAmount:         req.InputAmount,
		OutputToken:         req.OutputToken,
		Interval:            req.Interval,
		ExecutionsRemaining: req.ExecutionsRemaining,
		MinOutputAmount:     req.MinOutputAmount,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reportFrom(pos))
}

// GetPosition returns one position's report.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	report, err := h.lifecycle.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListPositions returns the owner's positions, newest first.
// GET /api/positions?owner=...
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner query parameter is required")
		return
	}

	positions, err := h.lifecycle.List(r.Context(), owner, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	reports := make([]domain.PositionReport, 0, len(positions))
	for _, pos := range positions {
		reports = append(reports, reportFrom(pos))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": reports})
}

// CancelPosition cancels a position. Cancelling an already cancelled
// position succeeds; an exhausted one conflicts.
// DELETE /api/positions/{id}
func (h *PositionHandler) CancelPosition(w http.ResponseWriter, r *http.Request) {
	if err := h.lifecycle.Cancel(r.Context(), r.PathValue("id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListExecutions returns a position's execution history, newest first.
// GET /api/positions/{id}/executions
func (h *PositionHandler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// 404 on unknown ids rather than an empty history.
	if _, err := h.lifecycle.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	recs, err := h.executions.ListByPosition(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": recs})
}

// ListEligible returns the ids of positions eligible at a height. Without an
// explicit height the current chain height is used.
// GET /api/eligible?height=...
func (h *PositionHandler) ListEligible(w http.ResponseWriter, r *http.Request) {
	height, ok := h.resolveHeight(w, r)
	if !ok {
		return
	}

	ids, err := h.lifecycle.ScanEligible(r.Context(), height)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"height":   height,
		"eligible": ids,
	})
}

// TriggerExecution runs one position's execution immediately.
// POST /api/positions/{id}/execute
func (h *PositionHandler) TriggerExecution(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "executor is not running in this mode")
		return
	}

	height, ok := h.resolveHeight(w, r)
	if !ok {
		return
	}

	id := r.PathValue("id")
	if err := h.trigger.ExecuteNow(r.Context(), id, height); err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := h.lifecycle.Report(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

// resolveHeight reads the height query parameter, falling back to the chain
// observer. A false return means the response is already written.
func (h *PositionHandler) resolveHeight(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	if v := r.URL.Query().Get("height"); v != "" {
		height, err := parseUint64(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "height must be an unsigned integer")
			return 0, false
		}
		return height, true
	}

	if h.observer == nil {
		writeError(w, http.StatusBadRequest, "height query parameter is required")
		return 0, false
	}
	height, err := h.observer.CurrentHeight(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "current height lookup failed",
			slog.String("error", err.Error()))
		writeError(w, http.StatusBadGateway, "chain height unavailable")
		return 0, false
	}
	return height, true
}

func reportFrom(pos domain.Position) domain.PositionReport {
	return domain.PositionReport{
		ID:                 pos.ID,
		Owner:              pos.Owner,
		Status:             pos.Status,
		Unbounded:          !pos.Budget.Bounded,
		RemainingExecs:     pos.Budget.Remaining,
		NextEligibleHeight: pos.NextEligibleHeight(),
		LastExecutedHeight: pos.LastExecutedHeight,
	}
}
