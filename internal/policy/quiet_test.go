package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 10, 19, hh, mm, 0, 0, time.UTC)
}

func TestInQuietHours(t *testing.T) {
	overnight := domain.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}
	daytime := domain.QuietHours{Enabled: true, Start: "12:00", End: "14:00"}

	tests := []struct {
		name string
		qh   domain.QuietHours
		now  time.Time
		want bool
	}{
		{"disabled", domain.QuietHours{Start: "00:00", End: "23:59"}, at(3, 0), false},
		{"overnight late", overnight, at(23, 30), true},
		{"overnight early", overnight, at(7, 59), true},
		{"overnight end exclusive", overnight, at(8, 0), false},
		{"overnight afternoon", overnight, at(15, 0), false},
		{"daytime inside", daytime, at(13, 0), true},
		{"daytime outside", daytime, at(11, 59), false},
		{"empty window", domain.QuietHours{Enabled: true, Start: "09:00", End: "09:00"}, at(9, 0), false},
		{"unparseable", domain.QuietHours{Enabled: true, Start: "late", End: "08:00"}, at(23, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InQuietHours(tt.qh, tt.now, false))
		})
	}
}

func TestInQuietHoursLegacyComparison(t *testing.T) {
	daytime := domain.QuietHours{Enabled: true, Start: "12:00", End: "14:00"}
	// now <= end holds for every morning time.
	assert.True(t, InQuietHours(daytime, at(9, 0), true))
	assert.True(t, InQuietHours(daytime, at(8, 0), true))
	assert.False(t, InQuietHours(daytime, at(9, 0), false))
}

func TestIsWeekend(t *testing.T) {
	assert.True(t, IsWeekend(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)))
	assert.True(t, IsWeekend(time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)))
	assert.False(t, IsWeekend(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)))
}
