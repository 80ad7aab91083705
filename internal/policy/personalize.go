package policy

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// lowWinRate is the win rate, in percent, below which a sizing caution is
// added.
const lowWinRate = 40.0

var styleNotes = map[domain.TradingStyle]string{
	domain.StyleScalping: "Scalp window: act quickly.",
	domain.StyleDay:      "Review before the session closes.",
	domain.StyleSwing:    "Check the daily chart before acting.",
	domain.StylePosition: "Intraday noise rarely changes a long-term thesis.",
}

// Personalize adjusts the wording of a notification for profile. It never
// changes whether a notification is sent.
func Personalize(title, body string, a domain.Alert, profile domain.PersonalizationProfile) (string, string) {
	switch profile.AIPersonality {
	case domain.PersonalityConservative:
		title = "🛡️ " + title
	case domain.PersonalityAggressive:
		title = "🔥 " + title
	}

	lines := []string{body}
	if note, ok := styleNotes[profile.TradingStyle]; ok {
		lines = append(lines, note)
	}

	switch profile.ExperienceLevel {
	case domain.ExperienceBeginner:
		lines = append(lines, "💡 Tip: protect your capital with a stop loss and risk no more than 1-2% per trade.")
	case domain.ExperienceProfessional:
		if detail := technicalDetail(a.Metadata); detail != "" {
			lines = append(lines, detail)
		}
	}

	if profile.WinRate > 0 && profile.WinRate < lowWinRate {
		lines = append(lines, fmt.Sprintf("⚠️ Your recent win rate is %.0f%%. Consider reducing position size.", profile.WinRate))
	}

	for _, rule := range profile.CustomAlerts {
		if rule.Enabled && rule.Action != "" && ruleMatches(rule.Condition, a) {
			lines = append(lines, "📌 "+rule.Action)
		}
	}

	return title, strings.Join(lines, "\n")
}

func technicalDetail(meta map[string]string) string {
	var parts []string
	for _, k := range []string{"entryPrice", "price", "pnl", "pnlPercent"} {
		if v := meta[k]; v != "" {
			parts = append(parts, k+"="+v)
		}
	}
	return strings.Join(parts, " | ")
}

func ruleMatches(condition string, a domain.Alert) bool {
	condition = strings.TrimSpace(condition)
	if key, value, ok := strings.Cut(condition, ":"); ok {
		switch strings.ToLower(key) {
		case "symbol":
			return strings.EqualFold(value, a.Symbol)
		case "severity":
			return strings.EqualFold(value, string(a.Severity))
		}
		return false
	}
	return strings.EqualFold(condition, string(a.Type))
}
