package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/relayforge/corpus-engine/internal/api/httperr"
	"github.com/relayforge/corpus-engine/internal/cost"
	"github.com/relayforge/corpus-engine/internal/observability"
	"github.com/relayforge/corpus-engine/internal/storage"
)

type costTracker interface {
	Summary(ctx context.Context) (*cost.Summary, error)
	HistoryRange(ctx context.Context, start, end time.Time) ([]*storage.DailySpendRow, error)
	RecentAlerts(ctx context.Context, limit int) ([]*storage.BudgetAlert, error)
}

// CostsHandler exposes the usage ledger: monthly summary, per-day history,
// and triggered budget alerts.
type CostsHandler struct {
	logger  *observability.Logger
	tracker costTracker
}

// NewCostsHandler creates a new costs handler.
func NewCostsHandler(logger *observability.Logger, tracker costTracker) *CostsHandler {
	return &CostsHandler{logger: logger, tracker: tracker}
}

// Summary handles GET /api/costs/summary.
func (h *CostsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.tracker.Summary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("cost summary failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load cost summary")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// CostHistoryResponse is the GET /api/costs/history payload.
type CostHistoryResponse struct {
	History []*storage.DailySpendRow `json:"history"`
}

// History handles GET /api/costs/history?start=&end=. Bounds accept either
// a bare date or RFC 3339; omitted bounds default to the last 30 days.
func (h *CostsHandler) History(w http.ResponseWriter, r *http.Request) {
	var start, end time.Time
	if raw := r.URL.Query().Get("start"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			httperr.Write(w, httperr.CodeInvalidInput, "start must be a date or RFC 3339 timestamp")
			return
		}
		start = t
	}
	if raw := r.URL.Query().Get("end"); raw != "" {
		t, err := parseDate(raw)
		if err != nil {
			httperr.Write(w, httperr.CodeInvalidInput, "end must be a date or RFC 3339 timestamp")
			return
		}
		end = t
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		httperr.Write(w, httperr.CodeInvalidInput, "end must not precede start")
		return
	}

	rows, err := h.tracker.HistoryRange(r.Context(), start, end)
	if err != nil {
		h.logger.Error().Err(err).Msg("cost history failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load cost history")
		return
	}
	if rows == nil {
		rows = []*storage.DailySpendRow{}
	}
	writeJSON(w, http.StatusOK, CostHistoryResponse{History: rows})
}

// CostAlertsResponse is the GET /api/costs/alerts payload.
type CostAlertsResponse struct {
	Alerts []*storage.BudgetAlert `json:"alerts"`
}

// Alerts handles GET /api/costs/alerts?limit=.
func (h *CostsHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httperr.Write(w, httperr.CodeInvalidInput, "limit must be a positive integer")
			return
		}
		limit = n
	}

	alerts, err := h.tracker.RecentAlerts(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("cost alerts failed")
		httperr.Write(w, httperr.CodeDatabaseError, "could not load budget alerts")
		return
	}
	if alerts == nil {
		alerts = []*storage.BudgetAlert{}
	}
	writeJSON(w, http.StatusOK, CostAlertsResponse{Alerts: alerts})
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}
