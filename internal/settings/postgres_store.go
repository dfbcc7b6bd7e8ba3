package settings

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresStore persists settings as the single row of user_settings.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed settings store. The schema
// comes from migrations/00001_user_settings.sql.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Load(ctx context.Context) (Settings, error) {
	var s Settings
	var tolerance string
	err := p.db.QueryRowContext(ctx, `
		SELECT risk_tolerance, auto_approve, gas_optimization_enabled, updated_at
		FROM user_settings WHERE id = 1
	`).Scan(&tolerance, &s.AutoApprove, &s.GasOptimizationEnabled, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, err
	}
	s.RiskTolerance = Tolerance(tolerance)
	return s, nil
}

func (p *PostgresStore) Save(ctx context.Context, s Settings) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO user_settings (id, risk_tolerance, auto_approve, gas_optimization_enabled, updated_at)
		VALUES (1, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			risk_tolerance = EXCLUDED.risk_tolerance,
			auto_approve = EXCLUDED.auto_approve,
			gas_optimization_enabled = EXCLUDED.gas_optimization_enabled,
			updated_at = EXCLUDED.updated_at
	`, string(s.RiskTolerance), s.AutoApprove, s.GasOptimizationEnabled, s.UpdatedAt)
	return err
}
