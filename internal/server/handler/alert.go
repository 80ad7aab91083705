package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// AlertService defines the dispatcher methods the alert handler requires.
type AlertService interface {
	History() []domain.Alert
	Unacknowledged() []domain.Alert
	Acknowledge(ctx context.Context, id string) error
}

// AlertHandler serves alert history endpoints.
type AlertHandler struct {
	alerts AlertService
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler.
func NewAlertHandler(alerts AlertService, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{alerts: alerts, logger: logHandler(logger, "alerts")}
}

// ListAlerts returns the alert history, newest first. With
// ?unacknowledged=true only pending alerts are returned.
// GET /api/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	var alerts []domain.Alert
	if r.URL.Query().Get("unacknowledged") == "true" {
		alerts = h.alerts.Unacknowledged()
	} else {
		alerts = h.alerts.History()
	}
	if limit := parseLimit(r, 100, 100); len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if alerts == nil {
		alerts = []domain.Alert{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
}

// AcknowledgeAlert marks one alert as seen.
// POST /api/alerts/{id}/ack
func (h *AlertHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := h.alerts.Acknowledge(r.Context(), id); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "acknowledged": true})
}
