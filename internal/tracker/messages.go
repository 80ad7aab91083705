package tracker

import (
	"fmt"
	"math"
	"strings"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

func upper(s domain.Side) string {
	return strings.ToUpper(string(s))
}

// formatPnL renders pnl as "+$45.00" or "-$12.50".
func formatPnL(pnl float64) string {
	if pnl >= 0 {
		return fmt.Sprintf("+$%.2f", pnl)
	}
	return fmt.Sprintf("-$%.2f", math.Abs(pnl))
}

func closeAlert(pos domain.Position, reason domain.CloseReason) pendingAlert {
	a := pendingAlert{
		pos:      pos,
		typ:      domain.AlertPrice,
		title:    "Trade Closed",
		severity: domain.SeverityMedium,
	}
	switch reason {
	case domain.CloseReasonTakeProfit:
		a.typ, a.title, a.severity = domain.AlertTakeProfitHit, "🎯 Take Profit Hit!", domain.SeverityHigh
	case domain.CloseReasonStopLoss:
		a.typ, a.title, a.severity = domain.AlertStopLossHit, "🛑 Stop Loss Hit", domain.SeverityHigh
	case domain.CloseReasonTrailing:
		a.typ, a.title, a.severity = domain.AlertTrailingMoved, "📈 Trailing Stop Triggered", domain.SeverityMedium
	}
	a.message = fmt.Sprintf("%s closed at %g | PnL: %s (%.2f%%)",
		pos.Symbol, pos.CurrentPrice, formatPnL(pos.UnrealizedPnL), pos.UnrealizedPnLPercent)
	return a
}

func pnlAlert(pos domain.Position) pendingAlert {
	a := pendingAlert{
		pos:      pos,
		typ:      domain.AlertPnLThreshold,
		title:    "🚀 Profit Alert!",
		severity: domain.SeverityMedium,
		message:  fmt.Sprintf("%s PnL: %.2f%%", pos.Symbol, pos.UnrealizedPnLPercent),
	}
	if pos.UnrealizedPnL <= 0 {
		a.title, a.severity = "⚠️ Loss Alert!", domain.SeverityHigh
	}
	return a
}
