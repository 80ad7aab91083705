// Package evaluator holds the pure exit-condition logic: PnL math, threshold
// crossing detection and trailing-stop handling. Nothing here performs I/O or
// mutates its inputs.
package evaluator

import (
	"math"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// pnlDecimals is the precision PnL values are rounded to.
const pnlDecimals = 8

// TrailingMode selects how the trailing level behaves.
type TrailingMode string

const (
	// TrailingStatic treats the trailing level as a fixed stop.
	TrailingStatic TrailingMode = "static"
	// TrailingRatchet moves the level with favorable prices, keeping the
	// distance it had at entry. The level never moves backwards.
	TrailingRatchet TrailingMode = "ratchet"
)

// ExitAt selects the exit price used when a threshold triggers a close.
type ExitAt string

const (
	// ExitAtLevel closes at the configured TP/SL/trailing level.
	ExitAtLevel ExitAt = "level"
	// ExitAtTick closes at the tick price that crossed the level.
	ExitAtTick ExitAt = "tick"
)

// Trigger identifies which exit condition fired.
type Trigger string

const (
	TriggerNone       Trigger = ""
	TriggerTakeProfit Trigger = "take_profit"
	TriggerStopLoss   Trigger = "stop_loss"
	TriggerTrailing   Trigger = "trailing"
)

// CloseReason maps the trigger onto the position close reason.
func (t Trigger) CloseReason() domain.CloseReason {
	switch t {
	case TriggerTakeProfit:
		return domain.CloseReasonTakeProfit
	case TriggerStopLoss:
		return domain.CloseReasonStopLoss
	case TriggerTrailing:
		return domain.CloseReasonTrailing
	}
	return domain.CloseReasonManual
}

// Options tunes evaluation. A zero threshold disables that alert.
type Options struct {
	Trailing             TrailingMode
	ExitAt               ExitAt
	PnLThresholdPercent  float64
	RiskThresholdPercent float64
}

// Result describes everything a single tick caused for one position.
type Result struct {
	Trigger   Trigger
	ExitPrice float64

	// TrailingMoved is set when the ratchet advanced the level. NewTrailing
	// holds the new level.
	TrailingMoved bool
	NewTrailing   float64

	PnLThresholdCrossed  bool
	RiskThresholdCrossed bool
}

// Closed reports whether the tick closes the position.
func (r Result) Closed() bool {
	return r.Trigger != TriggerNone
}

// PnL returns the profit and profit percentage of a position priced at
// price. Both values are rounded to 8 decimal places.
func PnL(side domain.Side, entry, price, qty, commission float64) (pnl, pct float64) {
	diff := price - entry
	if side == domain.SideSell {
		diff = entry - price
	}
	pnl = diff*qty - commission
	if notional := entry * qty; notional != 0 {
		pct = pnl / notional * 100
	}
	return round(pnl), round(pct)
}

// CrossedTakeProfit reports whether the move from oldPrice to newPrice
// crosses the take-profit level. Gapping through the level counts.
func CrossedTakeProfit(side domain.Side, tp, oldPrice, newPrice float64) bool {
	if side == domain.SideSell {
		return newPrice <= tp && oldPrice > tp
	}
	return newPrice >= tp && oldPrice < tp
}

// CrossedStopLoss reports whether the move from oldPrice to newPrice crosses
// the stop level. The trailing level uses the same rule.
func CrossedStopLoss(side domain.Side, sl, oldPrice, newPrice float64) bool {
	if side == domain.SideSell {
		return newPrice >= sl && oldPrice < sl
	}
	return newPrice <= sl && oldPrice > sl
}

// CrossedUp reports whether value moved from below limit to at or above it.
func CrossedUp(oldValue, newValue, limit float64) bool {
	return newValue >= limit && oldValue < limit
}

// Evaluate inspects pos, which already carries newPrice and its recomputed
// PnL, against the previous price and PnL percentage. Take-profit is checked
// first, then stop-loss, then the trailing level. The first hit wins and no
// further alerts are computed for that tick.
func Evaluate(pos domain.Position, oldPrice, oldPct float64, opts Options) Result {
	newPrice := pos.CurrentPrice
	var res Result

	if pos.TakeProfit != nil && CrossedTakeProfit(pos.Side, *pos.TakeProfit, oldPrice, newPrice) {
		res.Trigger = TriggerTakeProfit
		res.ExitPrice = exitPrice(opts.ExitAt, *pos.TakeProfit, newPrice)
		return res
	}
	if pos.StopLoss != nil && CrossedStopLoss(pos.Side, *pos.StopLoss, oldPrice, newPrice) {
		res.Trigger = TriggerStopLoss
		res.ExitPrice = exitPrice(opts.ExitAt, *pos.StopLoss, newPrice)
		return res
	}
	if pos.TrailingStop != nil {
		level := *pos.TrailingStop
		if CrossedStopLoss(pos.Side, level, oldPrice, newPrice) {
			res.Trigger = TriggerTrailing
			res.ExitPrice = exitPrice(opts.ExitAt, level, newPrice)
			return res
		}
		if opts.Trailing == TrailingRatchet && pos.TrailingDistance > 0 {
			if next, moved := Ratchet(pos.Side, level, pos.TrailingDistance, newPrice); moved {
				res.TrailingMoved = true
				res.NewTrailing = next
			}
		}
	}

	if opts.PnLThresholdPercent > 0 {
		res.PnLThresholdCrossed = CrossedUp(math.Abs(oldPct), math.Abs(pos.UnrealizedPnLPercent), opts.PnLThresholdPercent)
	}
	if opts.RiskThresholdPercent > 0 {
		res.RiskThresholdCrossed = CrossedUp(-oldPct, -pos.UnrealizedPnLPercent, opts.RiskThresholdPercent)
	}
	return res
}

// Ratchet returns the trailing level implied by price at the given distance
// and whether it improves on level. Buy levels only rise, sell levels only
// fall.
func Ratchet(side domain.Side, level, distance, price float64) (float64, bool) {
	if side == domain.SideSell {
		candidate := round(price + distance)
		return candidate, candidate < level
	}
	candidate := round(price - distance)
	return candidate, candidate > level
}

// TrailingDistance is the gap between entry and the initial trailing level.
func TrailingDistance(entry float64, trailing *float64) float64 {
	if trailing == nil {
		return 0
	}
	return round(math.Abs(entry - *trailing))
}

func exitPrice(mode ExitAt, level, tick float64) float64 {
	if mode == ExitAtTick {
		return tick
	}
	return level
}

func round(v float64) float64 {
	p := math.Pow10(pnlDecimals)
	return math.Round(v*p) / p
}
