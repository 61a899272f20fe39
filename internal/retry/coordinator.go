package retry

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

var tracer = otel.Tracer("retry-coordinator")

// Recorder is the slice of the health monitor the coordinator reports to.
type Recorder interface {
	RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error)
}

// AuditLogger mirrors audit.Service.LogAction.
type AuditLogger interface {
	LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error
}

// Coordinator wraps one normalizer invocation with the retry policy, emitting
// a "retry" monitor event per failed attempt and audit entries for retried
// successes and exhaustion.
type Coordinator struct {
	Policy      Policy
	ServiceName string
	Monitor     Recorder
	Audit       AuditLogger
}

// Run executes op under the policy. The returned error is the final
// attempt's error when every attempt failed; callers must surface it, never
// swallow it.
func (c *Coordinator) Run(ctx context.Context, correlationID, entityID string, op func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "retry.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("correlation.id", correlationID),
		attribute.Int("retry.max_attempts", c.Policy.Attempts),
	)

	start := time.Now()
	attempts := 0

	err := c.Policy.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return op(ctx)
	}, func(attempt int, delay time.Duration, attemptErr error) {
		log.Printf(`{"level":"warn","message":"Attempt failed, scheduling retry","attempt":%d,"delay_ms":%d,"correlation_id":"%s","error":"%v"}`,
			attempt, delay.Milliseconds(), correlationID, attemptErr)
		if c.Monitor != nil {
			// The reported latency of a retry event is the backoff delay.
			_, recErr := c.Monitor.RecordEvent(ctx, monitor.RecordEventInput{
				ServiceName:    c.ServiceName,
				EventType:      models.IntegrationEventRetry,
				Status:         models.IntegrationStatusRetry,
				ResponseTimeMs: delay.Milliseconds(),
				Error:          attemptErr.Error(),
				CorrelationID:  correlationID,
			})
			if recErr != nil {
				log.Printf(`{"level":"error","message":"Failed to record retry event","error":"%v"}`, recErr)
			}
		}
	})

	span.SetAttributes(attribute.Int("retry.attempts", attempts))

	if err != nil {
		c.logAudit(ctx, entityID, "retry_esgotado", map[string]any{
			"attempts":       attempts,
			"elapsed_ms":     time.Since(start).Milliseconds(),
			"correlation_id": correlationID,
			"error":          err.Error(),
		})
		return fmt.Errorf("exhausted %d attempts: %w", attempts, err)
	}

	if attempts > 1 {
		c.logAudit(ctx, entityID, "retry_sucesso", map[string]any{
			"attempts":       attempts,
			"elapsed_ms":     time.Since(start).Milliseconds(),
			"correlation_id": correlationID,
		})
	}
	return nil
}

func (c *Coordinator) logAudit(ctx context.Context, entityID, action string, details map[string]any) {
	if c.Audit == nil {
		return
	}
	if err := c.Audit.LogAction(ctx, entityID, "colaborador", action, "retry-coordinator", nil, details); err != nil {
		log.Printf(`{"level":"error","message":"Failed to create audit trail","action":"%s","error":"%v"}`, action, err)
	}
}
