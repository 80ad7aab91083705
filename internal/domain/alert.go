package domain

import "time"

// AlertType classifies an alert. Each type maps to one preference category.
type AlertType string

const (
	AlertTakeProfitHit AlertType = "tp_hit"
	AlertStopLossHit   AlertType = "sl_hit"
	AlertTrailingMoved AlertType = "trailing_moved"
	AlertPrice         AlertType = "price_alert"
	AlertPnLThreshold  AlertType = "pnl_threshold"
	AlertRiskWarning   AlertType = "risk_warning"
)

// Severity ranks alerts. Higher values are more urgent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordinal for s. Unknown severities rank lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// AtLeast reports whether s is as urgent as min or more.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

// Alert is an immutable record of a notable position event. Only
// Acknowledged may change after creation.
type Alert struct {
	ID           string            `json:"id"`
	PositionID   string            `json:"tradeId"`
	Symbol       string            `json:"symbol,omitempty"`
	Type         AlertType         `json:"type"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Timestamp    time.Time         `json:"timestamp"`
	Severity     Severity          `json:"severity"`
	Acknowledged bool              `json:"acknowledged"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}
