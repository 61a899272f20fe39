package discrepancy

import (
	"context"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

var tracer = otel.Tracer("discrepancy-resolver")

// Action is the configured company policy for cargo discrepancies.
type Action string

const (
	ActionPermitir        Action = "permitir"
	ActionAlertar         Action = "alertar"
	ActionBloquear        Action = "bloquear"
	ActionExigirAprovacao Action = "exigir_aprovacao"
)

// Decision is the resolver's structured result. Blocked and escalated
// admissions are decisions, not errors: they short-circuit before
// normalization with Allowed=false.
type Decision struct {
	Allowed         bool   `json:"allowed"`
	Discrepant      bool   `json:"discrepant"`
	Action          Action `json:"action,omitempty"`
	ExpectedJobCode string `json:"expected_cargo_id,omitempty"`
	ProposalID      string `json:"proposta_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// LedgerReader is the read-only slice of the ledger the resolver consults.
type LedgerReader interface {
	FindByCostCenterAndJobCode(ctx context.Context, costCenterID, jobCodeID string) (*models.HeadcountRecord, error)
	FindByCostCenter(ctx context.Context, costCenterID string) ([]models.HeadcountRecord, error)
}

// PolicyProvider resolves the configured discrepancy policy for a company.
type PolicyProvider interface {
	PolicyFor(ctx context.Context, companyID string) (Action, error)
}

// Escalator creates a correction case in the approval workflow. Its failure
// fails the admission check: the discrepancy was supposed to be gated on it.
type Escalator interface {
	CreateCase(ctx context.Context, in CaseInput) (string, error)
}

// CaseInput describes a cargo-discrepancy correction case.
type CaseInput struct {
	Description     string `json:"descricao"`
	Detail          string `json:"detalhe"`
	SourceSlotID    string `json:"centro_custo_id"`
	ExpectedJobCode string `json:"cargo_esperado"`
	ActualJobCode   string `json:"cargo_informado"`
}

// Notifier enqueues a notification intent. Delivery is asynchronous and
// best-effort; it never blocks the admission path.
type Notifier interface {
	Enqueue(n models.Notification)
}

// AuditLogger mirrors audit.Service.LogAction.
type AuditLogger interface {
	LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error
}

// Resolver decides whether an admission's cargo matches what the slot
// expects, applying the owning company's configured policy.
type Resolver struct {
	ledger    LedgerReader
	policies  PolicyProvider
	escalator Escalator
	notifier  Notifier
	audit     AuditLogger
	recorder  interface {
		RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error)
	}
	tracer trace.Tracer
	nowFn  func() time.Time
}

// Deps wires the resolver's collaborators. Recorder may be nil in tests.
type Deps struct {
	Ledger    LedgerReader
	Policies  PolicyProvider
	Escalator Escalator
	Notifier  Notifier
	Audit     AuditLogger
	Recorder  interface {
		RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error)
	}
}

// NewResolver creates a resolver.
func NewResolver(deps Deps) *Resolver {
	return &Resolver{
		ledger:    deps.Ledger,
		policies:  deps.Policies,
		escalator: deps.Escalator,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		recorder:  deps.Recorder,
		tracer:    tracer,
		nowFn:     time.Now,
	}
}

// ApprovalWorkflowService is the monitor service name for escalation calls.
const ApprovalWorkflowService = "workflow-aprovacao"

// Check evaluates the admission. Policy-resolution failures never propagate:
// they resolve to bloquear (fail closed), because letting an admission
// through with a misread policy is worse than refusing it.
func (r *Resolver) Check(ctx context.Context, ev models.ColaboradorEvent, correlationID string) (Decision, error) {
	ctx, span := r.tracer.Start(ctx, "resolver.check")
	defer span.End()
	span.SetAttributes(
		attribute.String("colaborador.id", ev.EmployeeID),
		attribute.String("cargo.id", ev.JobCodeID),
		attribute.String("centro_custo.id", ev.CostCenterID),
	)

	expected, companyID, discrepant, err := r.detect(ctx, ev)
	if err != nil {
		span.RecordError(err)
		return Decision{}, err
	}
	if !discrepant {
		return Decision{Allowed: true}, nil
	}

	action := r.resolvePolicy(ctx, companyID)
	span.SetAttributes(
		attribute.Bool("discrepancy.found", true),
		attribute.String("discrepancy.action", string(action)),
	)

	r.logAudit(ctx, ev.EmployeeID, "divergencia_cargo_detectada", map[string]any{
		"cargo_informado": ev.JobCodeID,
		"cargo_esperado":  expected,
		"centro_custo_id": ev.CostCenterID,
		"acao":            string(action),
	})

	decision := Decision{
		Discrepant:      true,
		Action:          action,
		ExpectedJobCode: expected,
	}

	switch action {
	case ActionPermitir:
		decision.Allowed = true
		decision.Reason = "divergencia de cargo permitida pela politica da empresa"

	case ActionAlertar:
		decision.Allowed = true
		decision.Reason = "divergencia de cargo permitida com alerta ao RH"
		if r.notifier != nil {
			r.notifier.Enqueue(models.Notification{
				TemplateID: "divergencia-cargo",
				Recipient:  "equipe-rh",
				Variables: map[string]string{
					"colaborador_id":  ev.EmployeeID,
					"cargo_informado": ev.JobCodeID,
					"cargo_esperado":  expected,
					"centro_custo_id": ev.CostCenterID,
				},
				Priority: "high",
				Channels: []string{"email", "in_app"},
			})
		}

	case ActionExigirAprovacao:
		proposalID, escErr := r.escalate(ctx, ev, expected, correlationID)
		if escErr != nil {
			return Decision{}, fmt.Errorf("failed to create correction case: %w", escErr)
		}
		decision.Allowed = false
		decision.ProposalID = proposalID
		decision.Reason = "divergencia de cargo aguardando aprovacao"

	default: // ActionBloquear and anything unrecognized
		decision.Allowed = false
		decision.Action = ActionBloquear
		decision.Reason = "divergencia de cargo bloqueada pela politica da empresa"
	}

	return decision, nil
}

// detect compares the event's cargo against the slot's records. A missing
// record with siblings present implies an expected cargo and is a
// discrepancy; expected is the first sibling's cargo in that case.
func (r *Resolver) detect(ctx context.Context, ev models.ColaboradorEvent) (expected, companyID string, discrepant bool, err error) {
	rec, err := r.ledger.FindByCostCenterAndJobCode(ctx, ev.CostCenterID, ev.JobCodeID)
	if err != nil {
		return "", "", false, err
	}
	if rec != nil {
		// Exact match at the slot.
		return rec.JobCodeID, rec.CompanyID, false, nil
	}

	siblings, err := r.ledger.FindByCostCenter(ctx, ev.CostCenterID)
	if err != nil {
		return "", "", false, err
	}
	if len(siblings) == 0 {
		// Nothing planned at the slot at all. Not a cargo discrepancy;
		// the normalizer will surface the missing record.
		return "", "", false, nil
	}
	return siblings[0].JobCodeID, siblings[0].CompanyID, true, nil
}

// resolvePolicy reads the company policy, defaulting to bloquear on any
// failure. A disabled or misconfigured policy must never silently allow an
// unreviewed discrepancy through.
func (r *Resolver) resolvePolicy(ctx context.Context, companyID string) Action {
	if r.policies == nil || companyID == "" {
		log.Printf(`{"level":"warn","message":"No policy source for company, failing closed","company_id":"%s"}`, companyID)
		return ActionBloquear
	}
	action, err := r.policies.PolicyFor(ctx, companyID)
	if err != nil {
		log.Printf(`{"level":"warn","message":"Policy resolution failed, failing closed","company_id":"%s","error":"%v"}`, companyID, err)
		return ActionBloquear
	}
	switch action {
	case ActionPermitir, ActionAlertar, ActionBloquear, ActionExigirAprovacao:
		return action
	}
	log.Printf(`{"level":"warn","message":"Unknown policy action, failing closed","company_id":"%s","action":"%s"}`, companyID, action)
	return ActionBloquear
}

func (r *Resolver) escalate(ctx context.Context, ev models.ColaboradorEvent, expected, correlationID string) (string, error) {
	if r.escalator == nil {
		return "", fmt.Errorf("no escalation gateway configured")
	}

	start := r.nowFn()
	proposalID, err := r.escalator.CreateCase(ctx, CaseInput{
		Description:     fmt.Sprintf("Divergencia de cargo na admissao de %s", ev.EmployeeID),
		Detail:          fmt.Sprintf("Cargo informado %q difere do esperado %q no centro de custo %s", ev.JobCodeID, expected, ev.CostCenterID),
		SourceSlotID:    ev.CostCenterID,
		ExpectedJobCode: expected,
		ActualJobCode:   ev.JobCodeID,
	})
	elapsed := r.nowFn().Sub(start)

	if r.recorder != nil {
		status := models.IntegrationStatusSuccess
		errMsg := ""
		if err != nil {
			status = models.IntegrationStatusFailure
			errMsg = err.Error()
		}
		if _, recErr := r.recorder.RecordEvent(ctx, monitor.RecordEventInput{
			ServiceName:    ApprovalWorkflowService,
			EventType:      models.IntegrationEventProcessed,
			Status:         status,
			ResponseTimeMs: elapsed.Milliseconds(),
			Error:          errMsg,
			CorrelationID:  correlationID,
		}); recErr != nil {
			log.Printf(`{"level":"error","message":"Failed to record escalation event","error":"%v"}`, recErr)
		}
	}

	if err != nil {
		return "", err
	}

	r.logAudit(ctx, ev.EmployeeID, "proposta_correcao_criada", map[string]any{
		"proposta_id":     proposalID,
		"cargo_informado": ev.JobCodeID,
		"cargo_esperado":  expected,
	})
	return proposalID, nil
}

func (r *Resolver) logAudit(ctx context.Context, employeeID, action string, details map[string]any) {
	if r.audit == nil {
		return
	}
	if err := r.audit.LogAction(ctx, employeeID, "colaborador", action, "discrepancy-resolver", nil, details); err != nil {
		log.Printf(`{"level":"error","message":"Failed to create audit trail","action":"%s","error":"%v"}`, action, err)
	}
}
