package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradewatch/internal/domain"
	"github.com/alanyoungcy/tradewatch/internal/tracker"
)

// PositionService defines the tracker methods the position handler requires.
type PositionService interface {
	AddPosition(ctx context.Context, spec domain.PositionSpec) (domain.Position, error)
	ClosePosition(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason) (domain.Position, error)
	CancelPosition(ctx context.Context, id string) (domain.Position, error)
	Position(id string) (domain.Position, error)
	ActivePositions() []domain.Position
	TotalUnrealizedPnL() float64
	UpdatePrice(ctx context.Context, symbol string, price float64)
	LastPrice(symbol string) (float64, bool)
	Subscriptions() []tracker.Subscription
}

// PositionHandler serves position, PnL and price endpoints.
type PositionHandler struct {
	positions PositionService
	history   domain.PositionHistory
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

// WithHistory enables GET /api/positions/history.
func (h *PositionHandler) WithHistory(history domain.PositionHistory) *PositionHandler {
	h.history = history
	return h
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
	Count     int               `json:"count"`
}

// ListPositions returns every active position.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.positions.ActivePositions()
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions, Count: len(positions)})
}

// CreatePosition opens a new monitored position.
// POST /api/positions
func (h *PositionHandler) CreatePosition(w http.ResponseWriter, r *http.Request) {
	var spec domain.PositionSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.positions.AddPosition(r.Context(), spec)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to add position")
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// GetPosition returns one active position.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.Position(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to get position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type closeRequest struct {
	ExitPrice *float64           `json:"exitPrice,omitempty"`
	Reason    domain.CloseReason `json:"reason,omitempty"`
}

// ClosePosition closes a position. Without an exitPrice the position's
// current price is used; the reason defaults to manual.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req closeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = domain.CloseReasonManual
	}

	var exit float64
	if req.ExitPrice != nil {
		exit = *req.ExitPrice
	} else {
		pos, err := h.positions.Position(id)
		if err != nil {
			writeDomainError(w, r, h.logger, err, "failed to close position")
			return
		}
		exit = pos.CurrentPrice
	}

	pos, err := h.positions.ClosePosition(r.Context(), id, exit, req.Reason)
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to close position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CancelPosition stops monitoring a position without booking an exit.
// POST /api/positions/{id}/cancel
func (h *PositionHandler) CancelPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.CancelPosition(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to cancel position")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// TotalPnL returns the summed unrealized PnL of the active set.
// GET /api/pnl
func (h *PositionHandler) TotalPnL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"unrealizedPnL": h.positions.TotalUnrealizedPnL(),
		"positions":     len(h.positions.ActivePositions()),
	})
}

type priceRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// PushPrice applies a manual price update to every position on the symbol.
// POST /api/prices
func (h *PositionHandler) PushPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	if !domain.ValidPrice(req.Price) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("price must be a positive finite number, got %v", req.Price))
		return
	}
	h.positions.UpdatePrice(r.Context(), req.Symbol, req.Price)
	last, _ := h.positions.LastPrice(req.Symbol)
	writeJSON(w, http.StatusAccepted, map[string]any{"symbol": req.Symbol, "price": last})
}

// ListSubscriptions returns the live price subscriptions.
// GET /api/subscriptions
func (h *PositionHandler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs := h.positions.Subscriptions()
	if subs == nil {
		subs = []tracker.Subscription{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

// ListHistory returns archived positions, most recently closed first.
// Optional ?symbol= filter and ?limit= (default 50, max 500).
// GET /api/positions/history
func (h *PositionHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotImplemented, "position history requires postgres")
		return
	}
	positions, err := h.history.Recent(r.Context(), r.URL.Query().Get("symbol"), parseLimit(r, 50, 500))
	if err != nil {
		writeDomainError(w, r, h.logger, err, "failed to list position history")
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions, Count: len(positions)})
}
