package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentbase/quadro-integrator/internal/models"
)

// Tx is one ledger transaction. All counter mutations for a single event go
// through one Tx so a failure after a decrement rolls back the whole event.
type Tx interface {
	// LockRecord loads the active record for (cost center, job code) with a
	// row lock, or nil when none exists.
	LockRecord(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error)
	// SiblingJobCodes lists the job codes with active records at a slot.
	SiblingJobCodes(ctx context.Context, costCenterID string) ([]string, error)
	// SaveCounts persists the mutated counters of a locked record.
	SaveCounts(ctx context.Context, rec *models.HeadcountRecord) error
}

// Store is the ledger repository. Reads outside a transaction serve the
// discrepancy resolver; WithinTx serves the normalizer.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	FindByCostCenterAndJobCode(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error)
	FindByCostCenter(ctx context.Context, costCenterID string) ([]models.HeadcountRecord, error)
}

// PostgresStore implements Store on a pgx pool. Concurrency control for
// same-slot events comes from SELECT ... FOR UPDATE row locks, not from
// application-level locking.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a ledger store backed by the shared pgx pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const headcountColumns = `id, quadro_id, empresa_id, centro_custo_id, cargo_id,
	planned_count, actual_count, reserved_count, control_start_date, control_mode, active, updated_at`

// WithinTx runs fn inside one database transaction, rolling back on any error.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to start ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgxLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// FindByCostCenterAndJobCode returns the active record for the pair, or nil.
func (s *PostgresStore) FindByCostCenterAndJobCode(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+headcountColumns+`
		FROM quadro_lotacao
		WHERE centro_custo_id = $1 AND cargo_id = $2 AND active
	`, costCenterID, jobCodeID)
	return scanHeadcount(row)
}

// FindByCostCenter returns every active record at a slot.
func (s *PostgresStore) FindByCostCenter(ctx context.Context, costCenterID string) ([]models.HeadcountRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+headcountColumns+`
		FROM quadro_lotacao
		WHERE centro_custo_id = $1 AND active
		ORDER BY cargo_id
	`, costCenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quadro by centro de custo: %w", err)
	}
	defer rows.Close()

	var records []models.HeadcountRecord
	for rows.Next() {
		rec, err := scanHeadcount(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quadro rows: %w", err)
	}
	return records, nil
}

type pgxLedgerTx struct {
	tx pgx.Tx
}

func (t *pgxLedgerTx) LockRecord(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+headcountColumns+`
		FROM quadro_lotacao
		WHERE centro_custo_id = $1 AND cargo_id = $2 AND active
		FOR UPDATE
	`, costCenterID, jobCodeID)
	return scanHeadcount(row)
}

func (t *pgxLedgerTx) SiblingJobCodes(ctx context.Context, costCenterID string) ([]string, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT cargo_id FROM quadro_lotacao
		WHERE centro_custo_id = $1 AND active
		ORDER BY cargo_id
	`, costCenterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sibling cargos: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("failed to scan cargo id: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (t *pgxLedgerTx) SaveCounts(ctx context.Context, rec *models.HeadcountRecord) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE quadro_lotacao
		SET actual_count = $1, reserved_count = $2, updated_at = NOW()
		WHERE id = $3
	`, rec.ActualCount, rec.ReservedCount, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update headcount %s: %w", rec.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHeadcount(row rowScanner) (*models.HeadcountRecord, error) {
	var rec models.HeadcountRecord
	err := row.Scan(
		&rec.ID,
		&rec.StaffingPlanID,
		&rec.CompanyID,
		&rec.CostCenterID,
		&rec.JobCodeID,
		&rec.PlannedCount,
		&rec.ActualCount,
		&rec.ReservedCount,
		&rec.ControlStartDate,
		&rec.ControlMode,
		&rec.Active,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan headcount record: %w", err)
	}
	return &rec, nil
}
