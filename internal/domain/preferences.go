package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AlertFrequency controls how delivered notifications are grouped.
type AlertFrequency string

const (
	FrequencyInstant AlertFrequency = "instant"
	FrequencyBatched AlertFrequency = "batched"
	FrequencyHourly  AlertFrequency = "hourly"
)

// QuietHours is a daily window, in "HH:MM" wall-clock form, during which
// low-urgency notifications are held back.
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// NotificationPreferences are the user's notification settings. They are
// read by the policy engine and written only through the settings store.
type NotificationPreferences struct {
	TakeProfitHit        bool           `json:"takeProfitHit"`
	StopLossHit          bool           `json:"stopLossHit"`
	TrailingStopMoved    bool           `json:"trailingStopMoved"`
	PriceAlerts          bool           `json:"priceAlerts"`
	PnLThresholds        bool           `json:"pnlThresholds"`
	RiskWarnings         bool           `json:"riskWarnings"`
	SessionStart         bool           `json:"sessionStart"`
	SessionEnd           bool           `json:"sessionEnd"`
	PnLThresholdPercent  float64        `json:"pnlThresholdPercent"`
	RiskThresholdPercent float64        `json:"riskThresholdPercent"`
	AlertFrequency       AlertFrequency `json:"alertFrequency"`
	QuietHours           QuietHours     `json:"quietHours"`
	WeekendsEnabled      bool           `json:"weekendsEnabled"`
	Timezone             string         `json:"timezone,omitempty"`
}

// DefaultPreferences returns the settings used when nothing is persisted.
func DefaultPreferences() NotificationPreferences {
	return NotificationPreferences{
		TakeProfitHit:        true,
		StopLossHit:          true,
		TrailingStopMoved:    true,
		PriceAlerts:          true,
		PnLThresholds:        true,
		RiskWarnings:         true,
		SessionStart:         false,
		SessionEnd:           false,
		PnLThresholdPercent:  5.0,
		RiskThresholdPercent: 2.0,
		AlertFrequency:       FrequencyInstant,
		QuietHours: QuietHours{
			Enabled: false,
			Start:   "22:00",
			End:     "08:00",
		},
		WeekendsEnabled: true,
	}
}

// CategoryEnabled reports whether alerts of type t are enabled.
func (p NotificationPreferences) CategoryEnabled(t AlertType) bool {
	switch t {
	case AlertTakeProfitHit:
		return p.TakeProfitHit
	case AlertStopLossHit:
		return p.StopLossHit
	case AlertTrailingMoved:
		return p.TrailingStopMoved
	case AlertPrice:
		return p.PriceAlerts
	case AlertPnLThreshold:
		return p.PnLThresholds
	case AlertRiskWarning:
		return p.RiskWarnings
	}
	return false
}

// Location resolves the configured timezone, falling back to time.Local.
func (p NotificationPreferences) Location() *time.Location {
	if p.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Validate returns an error wrapping ErrInvalidPreferences listing every
// problem found.
func (p NotificationPreferences) Validate() error {
	var errs []string
	if p.PnLThresholdPercent < 0 {
		errs = append(errs, "pnlThresholdPercent must be >= 0")
	}
	if p.RiskThresholdPercent < 0 {
		errs = append(errs, "riskThresholdPercent must be >= 0")
	}
	switch p.AlertFrequency {
	case FrequencyInstant, FrequencyBatched, FrequencyHourly:
	default:
		errs = append(errs, fmt.Sprintf("alertFrequency must be instant, batched or hourly, got %q", p.AlertFrequency))
	}
	if _, err := ParseClock(p.QuietHours.Start); err != nil {
		errs = append(errs, "quietHours.start: "+err.Error())
	}
	if _, err := ParseClock(p.QuietHours.End); err != nil {
		errs = append(errs, "quietHours.end: "+err.Error())
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("timezone %q: %v", p.Timezone, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPreferences, strings.Join(errs, "; "))
	}
	return nil
}

// ParseClock converts "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hh*60 + mm, nil
}

// TradingStyle describes the user's holding period.
type TradingStyle string

const (
	StyleScalping TradingStyle = "scalping"
	StyleDay      TradingStyle = "day"
	StyleSwing    TradingStyle = "swing"
	StylePosition TradingStyle = "position"
)

// ExperienceLevel describes how much context a message should carry.
type ExperienceLevel string

const (
	ExperienceBeginner     ExperienceLevel = "beginner"
	ExperienceIntermediate ExperienceLevel = "intermediate"
	ExperienceAdvanced     ExperienceLevel = "advanced"
	ExperienceProfessional ExperienceLevel = "professional"
)

// Personality sets the tone of notification titles.
type Personality string

const (
	PersonalityConservative Personality = "conservative"
	PersonalityBalanced     Personality = "balanced"
	PersonalityAggressive   Personality = "aggressive"
)

// CustomAlertRule appends Action to matching notifications. Condition is an
// alert type ("tp_hit"), "symbol:<SYMBOL>" or "severity:<level>".
type CustomAlertRule struct {
	Condition string `json:"condition"`
	Action    string `json:"action"`
	Enabled   bool   `json:"enabled"`
}

// PersonalizationProfile only affects notification wording.
type PersonalizationProfile struct {
	UserID          string            `json:"userId"`
	TradingStyle    TradingStyle      `json:"tradingStyle"`
	ExperienceLevel ExperienceLevel   `json:"experienceLevel"`
	WinRate         float64           `json:"winRate"`
	AIPersonality   Personality       `json:"aiPersonality"`
	CustomAlerts    []CustomAlertRule `json:"customAlerts,omitempty"`
}

// Validate checks enumerations and ranges.
func (p PersonalizationProfile) Validate() error {
	var errs []string
	switch p.TradingStyle {
	case "", StyleScalping, StyleDay, StyleSwing, StylePosition:
	default:
		errs = append(errs, fmt.Sprintf("unknown tradingStyle %q", p.TradingStyle))
	}
	switch p.ExperienceLevel {
	case "", ExperienceBeginner, ExperienceIntermediate, ExperienceAdvanced, ExperienceProfessional:
	default:
		errs = append(errs, fmt.Sprintf("unknown experienceLevel %q", p.ExperienceLevel))
	}
	switch p.AIPersonality {
	case "", PersonalityConservative, PersonalityBalanced, PersonalityAggressive:
	default:
		errs = append(errs, fmt.Sprintf("unknown aiPersonality %q", p.AIPersonality))
	}
	if p.WinRate < 0 || p.WinRate > 100 {
		errs = append(errs, "winRate must be within 0-100")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPreferences, strings.Join(errs, "; "))
	}
	return nil
}
