package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Side is the direction of a position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// PositionStatus tracks the lifecycle of a position. Transitions are one way:
// active to closed, or active to cancelled.
type PositionStatus string

const (
	PositionStatusActive    PositionStatus = "active"
	PositionStatusClosed    PositionStatus = "closed"
	PositionStatusCancelled PositionStatus = "cancelled"
)

// CloseReason records why a position left the active set.
type CloseReason string

const (
	CloseReasonTakeProfit CloseReason = "tp"
	CloseReasonStopLoss   CloseReason = "sl"
	CloseReasonTrailing   CloseReason = "trailing"
	CloseReasonManual     CloseReason = "manual"
)

// Valid reports whether r is a known close reason.
func (r CloseReason) Valid() bool {
	switch r {
	case CloseReasonTakeProfit, CloseReasonStopLoss, CloseReasonTrailing, CloseReasonManual:
		return true
	}
	return false
}

// Position is a monitored trading position. JSON field names match the
// persisted activeTrades record.
type Position struct {
	ID                   string         `json:"id"`
	Symbol               string         `json:"symbol"`
	Side                 Side           `json:"side"`
	EntryPrice           float64        `json:"entryPrice"`
	CurrentPrice         float64        `json:"currentPrice"`
	Quantity             float64        `json:"quantity"`
	Commission           float64        `json:"commission"`
	StopLoss             *float64       `json:"stopLoss,omitempty"`
	TakeProfit           *float64       `json:"takeProfit,omitempty"`
	TrailingStop         *float64       `json:"trailingStop,omitempty"`
	TrailingDistance     float64        `json:"trailingDistance,omitempty"`
	EntryTime            time.Time      `json:"entryTime"`
	Status               PositionStatus `json:"status"`
	UnrealizedPnL        float64        `json:"unrealizedPnL"`
	UnrealizedPnLPercent float64        `json:"unrealizedPnLPercent"`
	DataProvider         string         `json:"dataProvider,omitempty"`
	Notes                string         `json:"notes,omitempty"`
	ClosedAt             *time.Time     `json:"closedAt,omitempty"`
	ExitPrice            *float64       `json:"exitPrice,omitempty"`
	CloseReason          CloseReason    `json:"closeReason,omitempty"`
}

// Clone returns a deep copy so callers never share the optional level
// pointers with the tracker's internal state.
func (p Position) Clone() Position {
	out := p
	out.StopLoss = cloneFloat(p.StopLoss)
	out.TakeProfit = cloneFloat(p.TakeProfit)
	out.TrailingStop = cloneFloat(p.TrailingStop)
	out.ExitPrice = cloneFloat(p.ExitPrice)
	if p.ClosedAt != nil {
		t := *p.ClosedAt
		out.ClosedAt = &t
	}
	return out
}

// PositionSpec is the caller-supplied input for opening a position.
type PositionSpec struct {
	Symbol       string    `json:"symbol"`
	Side         Side      `json:"side"`
	EntryPrice   float64   `json:"entryPrice"`
	Quantity     float64   `json:"quantity"`
	Commission   float64   `json:"commission"`
	StopLoss     *float64  `json:"stopLoss,omitempty"`
	TakeProfit   *float64  `json:"takeProfit,omitempty"`
	TrailingStop *float64  `json:"trailingStop,omitempty"`
	EntryTime    time.Time `json:"entryTime,omitempty"`
	DataProvider string    `json:"dataProvider,omitempty"`
	Notes        string    `json:"notes,omitempty"`
}

// Validate checks the spec and returns an error wrapping ErrInvalidPosition
// that lists every problem found.
func (s PositionSpec) Validate() error {
	var errs []string
	if strings.TrimSpace(s.Symbol) == "" {
		errs = append(errs, "symbol is required")
	}
	if s.Side != SideBuy && s.Side != SideSell {
		errs = append(errs, fmt.Sprintf("side must be buy or sell, got %q", s.Side))
	}
	if !positiveFinite(s.EntryPrice) {
		errs = append(errs, "entryPrice must be > 0")
	}
	if !positiveFinite(s.Quantity) {
		errs = append(errs, "quantity must be > 0")
	}
	if s.Commission < 0 || math.IsNaN(s.Commission) || math.IsInf(s.Commission, 0) {
		errs = append(errs, "commission must be >= 0")
	}
	for name, level := range map[string]*float64{
		"stopLoss":     s.StopLoss,
		"takeProfit":   s.TakeProfit,
		"trailingStop": s.TrailingStop,
	} {
		if level != nil && !positiveFinite(*level) {
			errs = append(errs, name+" must be > 0 when set")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPosition, strings.Join(errs, "; "))
	}
	return nil
}

// ValidPrice reports whether p can be applied as a market price.
func ValidPrice(p float64) bool {
	return positiveFinite(p)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
