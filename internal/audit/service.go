package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("audit")

// Entry is one append-only audit trail row.
type Entry struct {
	ID         string          `json:"id"`
	EntityID   string          `json:"entity_id"`
	EntityType string          `json:"entity_type"`
	Action     string          `json:"action"`
	Actor      string          `json:"actor"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Service writes the audit trail. Every meaningful pipeline transition,
// success or failure, goes through LogAction.
type Service struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewService creates an audit service backed by the shared pgx pool.
func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool, tracer: tracer}
}

// LogAction appends one audit entry. Before/after snapshots are optional and
// stored as JSONB.
func (s *Service) LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error {
	ctx, span := s.tracer.Start(ctx, "audit.log_action")
	defer span.End()

	span.SetAttributes(
		attribute.String("audit.entity_id", entityID),
		attribute.String("audit.entity_type", entityType),
		attribute.String("audit.action", action),
	)

	var beforeJSON, afterJSON []byte
	if before != nil {
		beforeJSON, _ = json.Marshal(before)
	}
	if after != nil {
		afterJSON, _ = json.Marshal(after)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, entity_id, entity_type, action, actor, before_state, after_state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())`,
		uuid.New().String(), entityID, entityType, action, actor, beforeJSON, afterJSON,
	)
	if err != nil {
		span.RecordError(err)
		log.Printf(`{"level":"error","message":"Failed to write audit entry","action":"%s","entity_id":"%s","error":"%v"}`, action, entityID, err)
		return fmt.Errorf("failed to write audit entry: %w", err)
	}

	return nil
}
