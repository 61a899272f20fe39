package ledger

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentbase/quadro-integrator/internal/models"
)

var tracer = otel.Tracer("ledger-normalizer")

// SystemActor identifies normalizer-originated audit entries.
const SystemActor = "integracao-rh"

// AuditLogger is the slice of the audit service the normalizer needs.
type AuditLogger interface {
	LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error
}

// Normalizer maps one lifecycle event to counter mutations on the quadro de
// lotação. Each event runs inside a single ledger transaction; the persistent
// state is the headcount counters, not the event itself.
type Normalizer struct {
	store  Store
	audit  AuditLogger
	tracer trace.Tracer
}

// NewNormalizer creates a normalizer over the given ledger store.
func NewNormalizer(store Store, audit AuditLogger) *Normalizer {
	return &Normalizer{store: store, audit: audit, tracer: tracer}
}

// Apply executes the counter transition for one event. Any returned error
// means the whole transaction rolled back and no counter changed.
func (n *Normalizer) Apply(ctx context.Context, ev models.ColaboradorEvent) error {
	ctx, span := n.tracer.Start(ctx, "normalizer.apply")
	defer span.End()

	span.SetAttributes(
		attribute.String("event.type", string(ev.EventType)),
		attribute.String("colaborador.id", ev.EmployeeID),
		attribute.String("centro_custo.id", ev.CostCenterID),
		attribute.String("cargo.id", ev.JobCodeID),
	)

	err := n.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		switch ev.EventType {
		case models.EventAdmission:
			return n.applyAdmission(ctx, tx, ev)
		case models.EventTransfer:
			return n.applyTransfer(ctx, tx, ev)
		case models.EventTermination:
			return n.applyTermination(ctx, tx, ev)
		case models.EventPromotion:
			return n.applyPromotion(ctx, tx, ev)
		default:
			return fmt.Errorf("unknown event type %q", ev.EventType)
		}
	})
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// applyAdmission increments the actual count of the matching slot. A slot
// with no remaining availability does not block the admission; the deficit
// is made traceable by a distinct audit entry.
func (n *Normalizer) applyAdmission(ctx context.Context, tx Tx, ev models.ColaboradorEvent) error {
	rec, err := n.lockOrFail(ctx, tx, ev.CostCenterID, ev.JobCodeID)
	if err != nil {
		return err
	}

	hadAvailability := rec.Availability() > 0
	before := counterSnapshot(rec)
	rec.ActualCount++

	if err := tx.SaveCounts(ctx, rec); err != nil {
		return err
	}

	if !hadAvailability {
		log.Printf(`{"level":"warn","message":"Admissao sem vaga disponivel","colaborador_id":"%s","centro_custo_id":"%s","cargo_id":"%s"}`,
			ev.EmployeeID, ev.CostCenterID, ev.JobCodeID)
		n.logAudit(ctx, ev.EmployeeID, "admissao_sem_vaga", before, counterSnapshot(rec))
	} else {
		n.logAudit(ctx, ev.EmployeeID, "admissao_aplicada", before, counterSnapshot(rec))
	}
	return nil
}

// applyTransfer releases one unit at the source slot and occupies one at the
// destination, both inside the caller's transaction so a destination failure
// rolls the source decrement back.
func (n *Normalizer) applyTransfer(ctx context.Context, tx Tx, ev models.ColaboradorEvent) error {
	sourceJobCode := ev.JobCodeID
	if ev.PreviousJobCodeID != "" {
		sourceJobCode = ev.PreviousJobCodeID
	}

	if err := n.release(ctx, tx, ev, ev.PreviousCostCenterID, sourceJobCode); err != nil {
		return err
	}

	dest, err := n.lockOrFail(ctx, tx, ev.CostCenterID, ev.JobCodeID)
	if err != nil {
		return err
	}
	before := counterSnapshot(dest)
	dest.ActualCount++
	if err := tx.SaveCounts(ctx, dest); err != nil {
		return err
	}
	n.logAudit(ctx, ev.EmployeeID, "transferencia_aplicada", before, counterSnapshot(dest))
	return nil
}

// applyTermination releases one unit at the matching slot. A slot already at
// zero is ledger drift, recorded but not fatal.
func (n *Normalizer) applyTermination(ctx context.Context, tx Tx, ev models.ColaboradorEvent) error {
	return n.release(ctx, tx, ev, ev.CostCenterID, ev.JobCodeID)
}

// applyPromotion moves one unit between job codes within the same slot.
func (n *Normalizer) applyPromotion(ctx context.Context, tx Tx, ev models.ColaboradorEvent) error {
	if err := n.release(ctx, tx, ev, ev.CostCenterID, ev.PreviousJobCodeID); err != nil {
		return err
	}

	dest, err := n.lockOrFail(ctx, tx, ev.CostCenterID, ev.JobCodeID)
	if err != nil {
		return err
	}
	before := counterSnapshot(dest)
	dest.ActualCount++
	if err := tx.SaveCounts(ctx, dest); err != nil {
		return err
	}
	n.logAudit(ctx, ev.EmployeeID, "promocao_aplicada", before, counterSnapshot(dest))
	return nil
}

// release decrements the actual count when a unit exists to remove. Upstream
// data may already be inconsistent; in that case a warning is logged and the
// event still succeeds.
func (n *Normalizer) release(ctx context.Context, tx Tx, ev models.ColaboradorEvent, costCenterID, jobCodeID string) error {
	rec, err := tx.LockRecord(ctx, costCenterID, jobCodeID)
	if err != nil {
		return err
	}
	if rec == nil || rec.ActualCount == 0 {
		log.Printf(`{"level":"warn","message":"Nenhuma unidade para baixar","colaborador_id":"%s","centro_custo_id":"%s","cargo_id":"%s"}`,
			ev.EmployeeID, costCenterID, jobCodeID)
		n.logAudit(ctx, ev.EmployeeID, "baixa_sem_unidade", nil, map[string]any{
			"centro_custo_id": costCenterID,
			"cargo_id":        jobCodeID,
		})
		return nil
	}

	before := counterSnapshot(rec)
	rec.ActualCount--
	if err := tx.SaveCounts(ctx, rec); err != nil {
		return err
	}
	n.logAudit(ctx, ev.EmployeeID, "baixa_aplicada", before, counterSnapshot(rec))
	return nil
}

// lockOrFail loads the record for the pair with a row lock, translating an
// absent record into a NotFoundError carrying the sibling job codes.
func (n *Normalizer) lockOrFail(ctx context.Context, tx Tx, costCenterID, jobCodeID string) (*models.HeadcountRecord, error) {
	rec, err := tx.LockRecord(ctx, costCenterID, jobCodeID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		siblings, sibErr := tx.SiblingJobCodes(ctx, costCenterID)
		if sibErr != nil {
			log.Printf(`{"level":"warn","message":"Failed to list sibling cargos","centro_custo_id":"%s","error":"%v"}`, costCenterID, sibErr)
		}
		return nil, &NotFoundError{CostCenterID: costCenterID, JobCodeID: jobCodeID, Siblings: siblings}
	}
	return rec, nil
}

func (n *Normalizer) logAudit(ctx context.Context, employeeID, action string, before, after map[string]any) {
	if n.audit == nil {
		return
	}
	if err := n.audit.LogAction(ctx, employeeID, "colaborador", action, SystemActor, before, after); err != nil {
		// Audit failure must not fail the ledger transaction.
		log.Printf(`{"level":"error","message":"Failed to create audit trail","action":"%s","error":"%v"}`, action, err)
	}
}

func counterSnapshot(rec *models.HeadcountRecord) map[string]any {
	return map[string]any{
		"headcount_id":    rec.ID,
		"centro_custo_id": rec.CostCenterID,
		"cargo_id":        rec.JobCodeID,
		"planned_count":   rec.PlannedCount,
		"actual_count":    rec.ActualCount,
		"reserved_count":  rec.ReservedCount,
	}
}
