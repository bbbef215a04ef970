package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/manthysbr/socialpilot/internal/core/domain"
	"github.com/manthysbr/socialpilot/internal/core/ports"
)

// SettingsRepository is the minimal DB interface for settings persistence.
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key string, value string) error
}

// OnChangeFunc is called when settings are updated.
type OnChangeFunc func(cfg *domain.AppConfig)

const settingsKey = "app_config"

// ErrInvalidSettings wraps every rejected settings update.
var ErrInvalidSettings = errors.New("invalid settings")

// SettingsStore holds the runtime AppConfig (limits, plans, display overrides),
// persisted as one JSON document. It answers limit and feature lookups for the
// running kernel, so updates apply to the next unit without a restart.
type SettingsStore struct {
	mu       sync.RWMutex
	logger   *slog.Logger
	repo     SettingsRepository
	config   *domain.AppConfig
	onChange []OnChangeFunc
}

var _ ports.LimitProvider = (*SettingsStore)(nil)

// NewSettingsStore loads the saved config, seeding defaults on first run.
func NewSettingsStore(ctx context.Context, logger *slog.Logger, repo SettingsRepository) (*SettingsStore, error) {
	store := &SettingsStore{
		logger: logger,
		repo:   repo,
	}

	cfg, err := store.loadFromDB(ctx)
	if err != nil {
		logger.Warn("no saved settings found, using defaults", "error", err)
		cfg = domain.DefaultConfig()
		if err := store.saveToDB(ctx, cfg); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
	}

	store.config = cfg
	return store, nil
}

// OnChange registers a callback for when settings are updated.
func (s *SettingsStore) OnChange(fn OnChangeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// GetConfig returns a copy of the current config.
func (s *SettingsStore) GetConfig() *domain.AppConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.config)
}

func (s *SettingsStore) DailyLimit(owner domain.Owner, action domain.ActionKind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.DailyLimit(owner, action)
}

func (s *SettingsStore) FeatureEnabled(owner domain.Owner, action domain.ActionKind) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.FeatureEnabled(owner, action)
}

// UpdateConfig validates, persists, and triggers onChange callbacks.
func (s *SettingsStore) UpdateConfig(ctx context.Context, update *domain.AppConfig) error {
	if update.DefaultProfile == "" {
		update.DefaultProfile = domain.SpeedNormal
	}
	if err := validateConfig(update); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.saveToDB(ctx, update); err != nil {
		s.mu.Unlock()
		return err
	}
	s.config = cloneConfig(update)
	callbacks := append([]OnChangeFunc(nil), s.onChange...)
	s.mu.Unlock()

	s.logger.Info("settings updated",
		"default_plan", update.DefaultPlan,
		"plans", len(update.Plans),
	)

	// callbacks may read the store, so they run without the lock
	for _, fn := range callbacks {
		fn(cloneConfig(update))
	}
	return nil
}

func validateConfig(cfg *domain.AppConfig) error {
	for action, limit := range cfg.DailyLimits {
		if !action.Known() || action == domain.ActionRunScenario {
			return fmt.Errorf("%w: daily limit for unknown action %q", ErrInvalidSettings, action)
		}
		if limit < 0 {
			return fmt.Errorf("%w: daily limit for %s is negative", ErrInvalidSettings, action)
		}
	}
	for name, plan := range cfg.Plans {
		if plan.LimitFactor < 0 {
			return fmt.Errorf("%w: plan %q has a negative limit factor", ErrInvalidSettings, name)
		}
		for _, f := range plan.Features {
			if !f.Known() {
				return fmt.Errorf("%w: plan %q enables unknown action %q", ErrInvalidSettings, name, f)
			}
		}
	}
	if _, ok := cfg.Plans[cfg.DefaultPlan]; !ok {
		return fmt.Errorf("%w: default plan %q is not defined", ErrInvalidSettings, cfg.DefaultPlan)
	}
	if !cfg.DefaultProfile.Valid() {
		return fmt.Errorf("%w: unknown speed profile %q", ErrInvalidSettings, cfg.DefaultProfile)
	}
	for action := range cfg.Actions {
		if !action.Known() {
			return fmt.Errorf("%w: display override for unknown action %q", ErrInvalidSettings, action)
		}
	}
	return nil
}

func (s *SettingsStore) loadFromDB(ctx context.Context) (*domain.AppConfig, error) {
	raw, err := s.repo.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, err
	}

	var cfg domain.AppConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *SettingsStore) saveToDB(ctx context.Context, cfg *domain.AppConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	return s.repo.SaveSetting(ctx, settingsKey, string(raw))
}

func cloneConfig(c *domain.AppConfig) *domain.AppConfig {
	cp := *c
	cp.DailyLimits = maps.Clone(c.DailyLimits)
	cp.Actions = maps.Clone(c.Actions)
	cp.Plans = make(map[string]domain.PlanConfig, len(c.Plans))
	for name, plan := range c.Plans {
		plan.Features = append([]domain.ActionKind(nil), plan.Features...)
		cp.Plans[name] = plan
	}
	return &cp
}
