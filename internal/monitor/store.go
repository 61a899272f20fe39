package monitor

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentbase/quadro-integrator/internal/models"
)

// Store persists the monitor's state. The in-memory status cache is a
// performance layer; these rows are the source of truth across restarts.
type Store interface {
	AppendEvent(ctx context.Context, ev models.IntegrationEvent) error
	GetEvent(ctx context.Context, id string) (*models.IntegrationEvent, error)
	ListEvents(ctx context.Context, serviceName string, limit, offset int) ([]models.IntegrationEvent, error)
	UpsertStatus(ctx context.Context, st models.IntegrationStatus) error
	LoadStatuses(ctx context.Context) ([]models.IntegrationStatus, error)
	SaveAlert(ctx context.Context, alert models.IntegrationAlert) error
	LoadActiveAlerts(ctx context.Context) ([]models.IntegrationAlert, error)
	CreateReprocessing(ctx context.Context, req models.ReprocessingRequest) error
	UpdateReprocessing(ctx context.Context, req models.ReprocessingRequest) error
	GetReprocessing(ctx context.Context, id string) (*models.ReprocessingRequest, error)
}

// PostgresStore implements Store on the shared pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a monitor store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev models.IntegrationEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO integration_events (id, service_name, event_type, status, payload, response_time_ms, error, timestamp, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NULLIF($9, ''))
	`, ev.ID, ev.ServiceName, ev.EventType, ev.Status, ev.Payload, ev.ResponseTimeMs, ev.Error, ev.Timestamp, ev.CorrelationID)
	if err != nil {
		return fmt.Errorf("failed to append integration event: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, id string) (*models.IntegrationEvent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, service_name, event_type, status, payload, response_time_ms,
		       COALESCE(error, ''), timestamp, COALESCE(correlation_id, '')
		FROM integration_events WHERE id = $1
	`, id)

	var ev models.IntegrationEvent
	err := row.Scan(&ev.ID, &ev.ServiceName, &ev.EventType, &ev.Status, &ev.Payload,
		&ev.ResponseTimeMs, &ev.Error, &ev.Timestamp, &ev.CorrelationID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration event: %w", err)
	}
	return &ev, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, serviceName string, limit, offset int) ([]models.IntegrationEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service_name, event_type, status, payload, response_time_ms,
		       COALESCE(error, ''), timestamp, COALESCE(correlation_id, '')
		FROM integration_events
		WHERE ($1 = '' OR service_name = $1)
		ORDER BY timestamp DESC
		LIMIT $2 OFFSET $3
	`, serviceName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration events: %w", err)
	}
	defer rows.Close()

	var events []models.IntegrationEvent
	for rows.Next() {
		var ev models.IntegrationEvent
		if err := rows.Scan(&ev.ID, &ev.ServiceName, &ev.EventType, &ev.Status, &ev.Payload,
			&ev.ResponseTimeMs, &ev.Error, &ev.Timestamp, &ev.CorrelationID); err != nil {
			return nil, fmt.Errorf("failed to scan integration event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *PostgresStore) UpsertStatus(ctx context.Context, st models.IntegrationStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO integration_status (service_name, total_calls, successful_calls, failed_calls,
			consecutive_failures, last_successful_call, last_failed_call, average_response_time_ms, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (service_name) DO UPDATE SET
			total_calls = EXCLUDED.total_calls,
			successful_calls = EXCLUDED.successful_calls,
			failed_calls = EXCLUDED.failed_calls,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_successful_call = EXCLUDED.last_successful_call,
			last_failed_call = EXCLUDED.last_failed_call,
			average_response_time_ms = EXCLUDED.average_response_time_ms,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, st.ServiceName, st.TotalCalls, st.SuccessfulCalls, st.FailedCalls,
		st.ConsecutiveFailures, st.LastSuccessfulCall, st.LastFailedCall,
		st.AverageResponseTimeMs, st.Status)
	if err != nil {
		return fmt.Errorf("failed to upsert integration status: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadStatuses(ctx context.Context) ([]models.IntegrationStatus, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_name, total_calls, successful_calls, failed_calls, consecutive_failures,
		       last_successful_call, last_failed_call, average_response_time_ms, status, updated_at
		FROM integration_status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load integration statuses: %w", err)
	}
	defer rows.Close()

	var statuses []models.IntegrationStatus
	for rows.Next() {
		var st models.IntegrationStatus
		if err := rows.Scan(&st.ServiceName, &st.TotalCalls, &st.SuccessfulCalls, &st.FailedCalls,
			&st.ConsecutiveFailures, &st.LastSuccessfulCall, &st.LastFailedCall,
			&st.AverageResponseTimeMs, &st.Status, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan integration status: %w", err)
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) SaveAlert(ctx context.Context, alert models.IntegrationAlert) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO integration_alerts (id, service_name, alert_type, severity, message, threshold,
			current_value, is_active, created_at, resolved_at, resolved_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULLIF($11, ''))
		ON CONFLICT (id) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			resolved_at = EXCLUDED.resolved_at,
			resolved_by = EXCLUDED.resolved_by
	`, alert.ID, alert.ServiceName, alert.AlertType, alert.Severity, alert.Message,
		alert.Threshold, alert.CurrentValue, alert.IsActive, alert.CreatedAt, alert.ResolvedAt, alert.ResolvedBy)
	if err != nil {
		return fmt.Errorf("failed to save integration alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadActiveAlerts(ctx context.Context) ([]models.IntegrationAlert, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, service_name, alert_type, severity, message, threshold, current_value,
		       is_active, created_at, resolved_at, COALESCE(resolved_by, '')
		FROM integration_alerts
		WHERE is_active
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.IntegrationAlert
	for rows.Next() {
		var a models.IntegrationAlert
		if err := rows.Scan(&a.ID, &a.ServiceName, &a.AlertType, &a.Severity, &a.Message,
			&a.Threshold, &a.CurrentValue, &a.IsActive, &a.CreatedAt, &a.ResolvedAt, &a.ResolvedBy); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *PostgresStore) CreateReprocessing(ctx context.Context, req models.ReprocessingRequest) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reprocessing_requests (id, original_event_id, service_name, payload, status,
			attempts, max_attempts, requested_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, req.ID, req.OriginalEventID, req.ServiceName, req.Payload, req.Status,
		req.Attempts, req.MaxAttempts, req.RequestedBy, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reprocessing request: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateReprocessing(ctx context.Context, req models.ReprocessingRequest) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE reprocessing_requests
		SET status = $1, attempts = $2, completed_at = $3, updated_at = NOW()
		WHERE id = $4
	`, req.Status, req.Attempts, req.CompletedAt, req.ID)
	if err != nil {
		return fmt.Errorf("failed to update reprocessing request: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReprocessing(ctx context.Context, id string) (*models.ReprocessingRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, original_event_id, service_name, payload, status, attempts, max_attempts,
		       requested_by, created_at, updated_at, completed_at
		FROM reprocessing_requests WHERE id = $1
	`, id)

	var req models.ReprocessingRequest
	err := row.Scan(&req.ID, &req.OriginalEventID, &req.ServiceName, &req.Payload, &req.Status,
		&req.Attempts, &req.MaxAttempts, &req.RequestedBy, &req.CreatedAt, &req.UpdatedAt, &req.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get reprocessing request: %w", err)
	}
	return &req, nil
}
