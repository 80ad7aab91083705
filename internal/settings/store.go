// Package settings owns the user's notification preferences and
// personalization profile. Other components read copies; only this package
// writes them.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// Store caches preferences and profile in memory and persists every update.
type Store struct {
	kv     domain.KVStore
	logger *slog.Logger

	mu      sync.RWMutex
	prefs   domain.NotificationPreferences
	profile *domain.PersonalizationProfile
}

// NewStore creates a Store holding the default preferences and no profile.
func NewStore(kv domain.KVStore, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger.With(slog.String("component", "settings")),
		prefs:  domain.DefaultPreferences(),
	}
}

// Load reads persisted documents. Stored preferences are merged over the
// defaults, so fields added later keep their default values. Missing or
// unreadable documents leave the defaults in place.
func (s *Store) Load(ctx context.Context) {
	prefs := domain.DefaultPreferences()
	for _, key := range []string{domain.KeyPreferences, domain.KeyLegacyPrefs} {
		ok, err := s.read(ctx, key, &prefs)
		if err != nil {
			s.logger.WarnContext(ctx, "settings: preferences unreadable, using defaults",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			prefs = domain.DefaultPreferences()
			continue
		}
		if ok {
			break
		}
	}
	if err := prefs.Validate(); err != nil {
		s.logger.WarnContext(ctx, "settings: stored preferences invalid, using defaults",
			slog.String("error", err.Error()),
		)
		prefs = domain.DefaultPreferences()
	}

	var profile domain.PersonalizationProfile
	ok, err := s.read(ctx, domain.KeyProfile, &profile)
	if err != nil {
		s.logger.WarnContext(ctx, "settings: profile unreadable, ignoring",
			slog.String("error", err.Error()),
		)
	}

	s.mu.Lock()
	s.prefs = prefs
	s.profile = nil
	if ok && err == nil && profile.Validate() == nil {
		s.profile = &profile
	}
	s.mu.Unlock()
}

func (s *Store) read(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("settings: decode %s: %w", key, err)
	}
	return true, nil
}

// Preferences returns a copy of the current preferences.
func (s *Store) Preferences() domain.NotificationPreferences {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs
}

// Profile returns a copy of the personalization profile, if one is set.
func (s *Store) Profile() (domain.PersonalizationProfile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.profile == nil {
		return domain.PersonalizationProfile{}, false
	}
	p := *s.profile
	p.CustomAlerts = append([]domain.CustomAlertRule(nil), s.profile.CustomAlerts...)
	return p, true
}

// UpdatePreferences validates, persists and then applies prefs.
func (s *Store) UpdatePreferences(ctx context.Context, prefs domain.NotificationPreferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	if err := s.write(ctx, domain.KeyPreferences, prefs); err != nil {
		return err
	}
	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "settings: preferences updated",
		slog.String("frequency", string(prefs.AlertFrequency)),
		slog.Bool("quiet_hours", prefs.QuietHours.Enabled),
	)
	return nil
}

// UpdateProfile validates, persists and then applies profile.
func (s *Store) UpdateProfile(ctx context.Context, profile domain.PersonalizationProfile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if err := s.write(ctx, domain.KeyProfile, profile); err != nil {
		return err
	}
	p := profile
	p.CustomAlerts = append([]domain.CustomAlertRule(nil), profile.CustomAlerts...)
	s.mu.Lock()
	s.profile = &p
	s.mu.Unlock()
	return nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, raw); err != nil {
		return fmt.Errorf("settings: persist %s: %w", key, err)
	}
	return nil
}
