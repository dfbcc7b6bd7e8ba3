// Package settings holds the user's approval preferences.
//
// There is exactly one settings record. It is loaded once at startup and
// written through to the configured Store on every successful update; an
// update only becomes visible after it has been persisted.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/validation"
)

// ErrNotFound is returned by a Store that has never been saved to.
var ErrNotFound = errors.New("settings not found")

// Tolerance is how much risk the user accepts without being asked.
type Tolerance string

const (
	ToleranceLow    Tolerance = "low"
	ToleranceMedium Tolerance = "medium"
	ToleranceHigh   Tolerance = "high"
)

// Threshold is the lowest level that still requires approval when
// auto-approve is on.
func (t Tolerance) Threshold() risk.Level {
	switch t {
	case ToleranceLow:
		return risk.LevelMedium
	case ToleranceHigh:
		return risk.LevelCritical
	default:
		return risk.LevelHigh
	}
}

// Settings is the persisted preference record.
type Settings struct {
	RiskTolerance          Tolerance `json:"riskTolerance"`
	AutoApprove            bool      `json:"autoApprove"`
	GasOptimizationEnabled bool      `json:"gasOptimizationEnabled"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// Defaults returns medium tolerance, no auto-approve, gas optimization on.
func Defaults() Settings {
	return Settings{
		RiskTolerance:          ToleranceMedium,
		AutoApprove:            false,
		GasOptimizationEnabled: true,
	}
}

// RequiresApproval decides whether a request analyzed at level must wait
// for a human. Unknown and Error always do; without auto-approve every
// request does.
func (s Settings) RequiresApproval(level risk.Level) bool {
	if !level.Ordered() {
		return true
	}
	if !s.AutoApprove {
		return true
	}
	return level >= s.RiskTolerance.Threshold()
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	RiskTolerance          *string `json:"riskTolerance,omitempty"`
	AutoApprove            *bool   `json:"autoApprove,omitempty"`
	GasOptimizationEnabled *bool   `json:"gasOptimizationEnabled,omitempty"`
}

// Validate rejects unknown tolerances.
func (p Patch) Validate() error {
	if p.RiskTolerance == nil {
		return nil
	}
	if *p.RiskTolerance == "" {
		return validation.ValidationErrors{{Field: "riskTolerance", Message: "must not be empty"}}
	}
	if errs := validation.Validate(
		validation.OneOf("riskTolerance", *p.RiskTolerance,
			string(ToleranceLow), string(ToleranceMedium), string(ToleranceHigh)),
	); errs != nil {
		return errs
	}
	return nil
}

// Apply returns s with p's fields overlaid.
func (p Patch) Apply(s Settings) Settings {
	if p.RiskTolerance != nil {
		s.RiskTolerance = Tolerance(*p.RiskTolerance)
	}
	if p.AutoApprove != nil {
		s.AutoApprove = *p.AutoApprove
	}
	if p.GasOptimizationEnabled != nil {
		s.GasOptimizationEnabled = *p.GasOptimizationEnabled
	}
	return s
}

// Store persists the settings record.
type Store interface {
	Load(ctx context.Context) (Settings, error)
	Save(ctx context.Context, s Settings) error
}

// Manager serves the current settings. Safe for concurrent use.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	current  Settings
	updateMu sync.Mutex // serializes Update so persisted order matches visible order
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager loads settings from store, using Defaults when the store is
// empty.
func NewManager(ctx context.Context, store Store, opts ...Option) (*Manager, error) {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	loaded, err := store.Load(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
		loaded = Defaults()
		m.logger.Info("no stored settings, using defaults")
	case err != nil:
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if loaded.RiskTolerance == "" {
		loaded.RiskTolerance = ToleranceMedium
	}
	m.current = loaded
	return m, nil
}

// Current returns a copy of the live settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// GasOptimizationEnabled reports the live gas optimization flag.
func (m *Manager) GasOptimizationEnabled() bool {
	return m.Current().GasOptimizationEnabled
}

// Update validates p, persists the patched record and then makes it
// visible. On any error the live settings are unchanged.
func (m *Manager) Update(ctx context.Context, p Patch) (Settings, error) {
	if err := p.Validate(); err != nil {
		return Settings{}, err
	}

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	next := p.Apply(m.Current())
	next.UpdatedAt = m.now().UTC()

	if err := m.store.Save(ctx, next); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}

	m.mu.Lock()
	m.current = next
	m.mu.Unlock()

	m.logger.Info("settings updated",
		"risk_tolerance", next.RiskTolerance,
		"auto_approve", next.AutoApprove,
		"gas_optimization", next.GasOptimizationEnabled,
	)
	return next, nil
}
