package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// SettingsService defines the settings store methods the handler requires.
type SettingsService interface {
	Preferences() domain.NotificationPreferences
	UpdatePreferences(ctx context.Context, prefs domain.NotificationPreferences) error
	Profile() (domain.PersonalizationProfile, bool)
	UpdateProfile(ctx context.Context, profile domain.PersonalizationProfile) error
}

// SettingsHandler serves notification preferences and the personalization
// profile.
type SettingsHandler struct {
	settings SettingsService
	logger   *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(settings SettingsService, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{settings: settings, logger: logHandler(logger, "settings")}
}

// GetPreferences returns the active notification preferences.
// GET /api/preferences
func (h *SettingsHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Preferences())
}

// UpdatePreferences replaces the notification preferences. Fields missing
// from the body keep their current values.
// PUT /api/preferences
func (h *SettingsHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	prefs := h.settings.Preferences()
	if err := decodeJSON(r, &prefs); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.settings.UpdatePreferences(r.Context(), prefs); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to update preferences")
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Preferences())
}

// GetProfile returns the personalization profile, or 404 when none is set.
// GET /api/profile
func (h *SettingsHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, ok := h.settings.Profile()
	if !ok {
		writeError(w, http.StatusNotFound, "no personalization profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// UpdateProfile replaces the personalization profile.
// PUT /api/profile
func (h *SettingsHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var profile domain.PersonalizationProfile
	if err := decodeJSON(r, &profile); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.settings.UpdateProfile(r.Context(), profile); err != nil {
		writeDomainError(w, r, h.logger, err, "failed to update profile")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
