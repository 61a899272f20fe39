package discrepancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPolicyNotConfigured indicates the company has no discrepancy policy
// row. Callers treat it as bloquear.
var ErrPolicyNotConfigured = errors.New("discrepancy policy not configured")

// PostgresPolicyProvider reads company discrepancy policies from the
// company_integration_settings table.
type PostgresPolicyProvider struct {
	pool *pgxpool.Pool
}

// NewPostgresPolicyProvider creates a policy provider backed by PostgreSQL.
func NewPostgresPolicyProvider(pool *pgxpool.Pool) *PostgresPolicyProvider {
	return &PostgresPolicyProvider{pool: pool}
}

// PolicyFor returns the configured action for the company.
func (p *PostgresPolicyProvider) PolicyFor(ctx context.Context, companyID string) (Action, error) {
	var action string
	err := p.pool.QueryRow(ctx,
		`SELECT divergencia_cargo_acao FROM company_integration_settings WHERE company_id = $1`,
		companyID,
	).Scan(&action)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrPolicyNotConfigured
	}
	if err != nil {
		return "", fmt.Errorf("failed to load discrepancy policy: %w", err)
	}
	return Action(action), nil
}
