package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"metron-core/internal/analysis"
	"metron-core/internal/market"
	"metron-core/pkg/db"
)

// SettingKey is the settings-table key holding the active mode name.
const SettingKey = "strategy"

// SettingsStore persists small key/value settings.
type SettingsStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Manager owns the active mode. Mode changes are persisted before they
// become visible.
type Manager struct {
	catalog *Catalog
	store   SettingsStore
	logger  zerolog.Logger

	mu   sync.RWMutex
	mode Mode
}

func NewManager(store SettingsStore, catalog *Catalog, logger zerolog.Logger) *Manager {
	return &Manager{catalog: catalog, store: store, logger: logger, mode: Balanced}
}

// Load restores the persisted mode. Missing or unknown values keep Balanced.
func (m *Manager) Load(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	name, err := m.store.GetSetting(ctx, SettingKey)
	if errors.Is(err, db.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load strategy mode: %w", err)
	}
	mode, err := ParseMode(name)
	if err != nil {
		m.logger.Warn().Str("stored", name).Msg("ignoring unknown persisted strategy mode")
		return nil
	}
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
	m.logger.Info().Str("mode", mode.String()).Msg("strategy mode restored")
	return nil
}

// SetMode validates, persists and then activates name.
func (m *Manager) SetMode(ctx context.Context, name string) (Mode, error) {
	mode, err := ParseMode(name)
	if err != nil {
		return 0, err
	}
	if m.store != nil {
		if err := m.store.SetSetting(ctx, SettingKey, mode.String()); err != nil {
			return 0, fmt.Errorf("persist strategy mode: %w", err)
		}
	}
	m.mu.Lock()
	prev := m.mode
	m.mode = mode
	m.mu.Unlock()
	m.logger.Info().Str("from", prev.String()).Str("to", mode.String()).Msg("strategy mode changed")
	return mode, nil
}

// Mode returns the active mode.
func (m *Manager) Mode() Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

// Decide applies the active mode.
func (m *Manager) Decide(sig analysis.SignalResult, regime market.Regime) Decision {
	return m.catalog.Decide(sig, regime, m.Mode())
}

// DecideWith applies an explicit mode, e.g. for backtests.
func (m *Manager) DecideWith(sig analysis.SignalResult, regime market.Regime, mode Mode) Decision {
	return m.catalog.Decide(sig, regime, mode)
}

// Configs lists every mode definition.
func (m *Manager) Configs() []Config {
	return m.catalog.Configs()
}

// Catalog returns the catalog the manager decides with.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}
