package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/talentbase/quadro-integrator/internal/discrepancy"
	"github.com/talentbase/quadro-integrator/internal/ledger"
	"github.com/talentbase/quadro-integrator/internal/metrics"
	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

// WebhookService is the monitor service name for inbound HR webhooks.
const WebhookService = "rh-webhook"

// Recorder is the slice of the health monitor the gateway reports to.
type Recorder interface {
	RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error)
}

// Resolver gates admissions on the cargo discrepancy policy.
type Resolver interface {
	Check(ctx context.Context, ev models.ColaboradorEvent, correlationID string) (discrepancy.Decision, error)
}

// Normalizer applies one lifecycle event to the headcount ledger.
type Normalizer interface {
	Apply(ctx context.Context, ev models.ColaboradorEvent) error
}

// Runner wraps a normalizer invocation with the retry policy.
type Runner interface {
	Run(ctx context.Context, correlationID, entityID string, op func(ctx context.Context) error) error
}

// AuditLogger mirrors audit.Service.LogAction.
type AuditLogger interface {
	LogAction(ctx context.Context, entityID, entityType, action, actor string, before, after map[string]any) error
}

// Handler handles inbound HR webhook deliveries
type Handler struct {
	resolver   Resolver
	normalizer Normalizer
	runner     Runner
	recorder   Recorder
	metrics    *metrics.PipelineMetrics
	audit      AuditLogger
	validate   *validator.Validate
	nowFn      func() time.Time
}

// Deps wires the handler's collaborators. Metrics and audit may be nil.
type Deps struct {
	Resolver   Resolver
	Normalizer Normalizer
	Runner     Runner
	Recorder   Recorder
	Metrics    *metrics.PipelineMetrics
	Audit      AuditLogger
}

// NewHandler creates a new webhook gateway handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		resolver:   deps.Resolver,
		normalizer: deps.Normalizer,
		runner:     deps.Runner,
		recorder:   deps.Recorder,
		metrics:    deps.Metrics,
		audit:      deps.Audit,
		validate:   newValidator(),
		nowFn:      time.Now,
	}
}

// newValidator builds a validator that reports violations by json field name
// so rejected deliveries name the fields the HR system actually sent.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// webhookEnvelope is the common payload shape shared by all event types.
type webhookEnvelope struct {
	EventType string      `json:"event_type" validate:"required"`
	Timestamp string      `json:"timestamp" validate:"required"`
	Data      webhookData `json:"data"`
	Signature string      `json:"signature,omitempty"`
}

type webhookData struct {
	ColaboradorID    string `json:"colaborador_id" validate:"required"`
	Nome             string `json:"nome" validate:"required"`
	CPF              string `json:"cpf" validate:"required"`
	CargoID          string `json:"cargo_id" validate:"required"`
	CentroCustoID    string `json:"centro_custo_id" validate:"required"`
	Turno            string `json:"turno" validate:"required"`
	DataAdmissao     string `json:"data_admissao" validate:"required"`
	DataDesligamento string `json:"data_desligamento,omitempty"`
	PCD              *bool  `json:"pcd" validate:"required"`
	Status           string `json:"status" validate:"required,oneof=ativo inativo"`

	// Present on transfers and promotions.
	CentroCustoAnterior string `json:"centro_custo_anterior,omitempty"`
	CargoAnterior       string `json:"cargo_anterior,omitempty"`
	DataEvento          string `json:"data_evento,omitempty"`
}

// AckResponse is the acknowledgment returned to the HR system
type AckResponse struct {
	Acknowledged  bool   `json:"acknowledged"`
	Message       string `json:"message"`
	ColaboradorID string `json:"colaborador_id"`
	Action        string `json:"action,omitempty"`
	ProposalID    string `json:"proposta_id,omitempty"`
}

// HandleAdmission godoc
// @Summary Ingest admission webhook
// @Description Apply a colaborador.admitido event to the headcount ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "sha256 HMAC of the body"
// @Success 200 {object} AckResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 409 {object} AckResponse
// @Router /webhooks/colaborador/admitido [post]
func (h *Handler) HandleAdmission(c *gin.Context) {
	h.handle(c, models.EventAdmission)
}

// HandleTransfer godoc
// @Summary Ingest transfer webhook
// @Description Apply a colaborador.transferido event to the headcount ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "sha256 HMAC of the body"
// @Success 200 {object} AckResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /webhooks/colaborador/transferido [post]
func (h *Handler) HandleTransfer(c *gin.Context) {
	h.handle(c, models.EventTransfer)
}

// HandleTermination godoc
// @Summary Ingest termination webhook
// @Description Apply a colaborador.desligado event to the headcount ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "sha256 HMAC of the body"
// @Success 200 {object} AckResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /webhooks/colaborador/desligado [post]
func (h *Handler) HandleTermination(c *gin.Context) {
	h.handle(c, models.EventTermination)
}

// HandlePromotion godoc
// @Summary Ingest promotion webhook
// @Description Apply a colaborador.promovido event to the headcount ledger
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "sha256 HMAC of the body"
// @Success 200 {object} AckResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /webhooks/colaborador/promovido [post]
func (h *Handler) HandlePromotion(c *gin.Context) {
	h.handle(c, models.EventPromotion)
}

func (h *Handler) handle(c *gin.Context, eventType models.EventType) {
	start := h.nowFn()
	ctx := c.Request.Context()
	correlationID := uuid.New().String()
	c.Header("X-Correlation-ID", correlationID)

	body := h.rawBody(c)

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.recordReceived(ctx, models.IntegrationStatusFailure, body, correlationID, "malformed JSON payload")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Malformed JSON payload", Code: models.ErrCodeInvalidRequest})
		return
	}

	if env.EventType != string(eventType) {
		h.recordReceived(ctx, models.IntegrationStatusFailure, body, correlationID, "unexpected event_type")
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   fmt.Sprintf("Unexpected event_type %q for this endpoint", env.EventType),
			Code:    models.ErrCodeUnknownEventType,
			Details: []string{"event_type"},
		})
		return
	}

	if details := h.validateEnvelope(env, eventType); len(details) > 0 {
		h.recordReceived(ctx, models.IntegrationStatusFailure, body, correlationID, "payload validation failed")
		log.Printf(`{"level":"warn","message":"Webhook payload rejected","event_type":"%s","violations":%d,"correlation_id":"%s"}`, eventType, len(details), correlationID)
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Payload validation failed",
			Code:    models.ErrCodeValidationFailed,
			Details: details,
		})
		return
	}

	// Ingestion is recorded before any business logic so the delivery is
	// observable even if later stages crash.
	h.recordReceived(ctx, models.IntegrationStatusSuccess, body, correlationID, "")
	if h.metrics != nil {
		h.metrics.RecordEventReceived(ctx, string(eventType))
	}

	ev, err := translate(env, eventType, start)
	if err != nil {
		h.recordProcessed(ctx, models.IntegrationStatusFailure, correlationID, start, err.Error())
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Payload validation failed",
			Code:    models.ErrCodeValidationFailed,
			Details: []string{err.Error()},
		})
		return
	}

	// Admissions are gated on the cargo discrepancy policy first.
	if eventType == models.EventAdmission {
		decision, err := h.resolver.Check(ctx, ev, correlationID)
		if err != nil {
			h.finishFailure(ctx, ev, correlationID, start, err)
			c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to evaluate cargo discrepancy", Code: models.ErrCodeInternalError})
			return
		}
		if !decision.Allowed {
			h.recordProcessed(ctx, models.IntegrationStatusFailure, correlationID, start, "cargo discrepancy: "+string(decision.Action))
			if h.metrics != nil {
				h.metrics.RecordEventFailed(ctx, string(eventType), "cargo_discrepancy", h.nowFn().Sub(start))
			}
			h.logAudit(ctx, ev.EmployeeID, "webhook_rejeitado", map[string]any{
				"correlation_id": correlationID,
				"motivo":         decision.Reason,
				"acao":           string(decision.Action),
			})
			c.JSON(http.StatusConflict, AckResponse{
				Acknowledged:  false,
				Message:       decision.Reason,
				ColaboradorID: ev.EmployeeID,
				Action:        string(decision.Action),
				ProposalID:    decision.ProposalID,
			})
			return
		}
	}

	attempts := 0
	if err := h.runner.Run(ctx, correlationID, ev.EmployeeID, func(ctx context.Context) error {
		attempts++
		if attempts > 1 && h.metrics != nil {
			h.metrics.RecordRetryAttempt(ctx, string(eventType))
		}
		return h.normalizer.Apply(ctx, ev)
	}); err != nil {
		h.finishFailure(ctx, ev, correlationID, start, err)

		var notFound *ledger.NotFoundError
		if errors.As(err, &notFound) {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error:   notFound.Error(),
				Code:    models.ErrCodeSlotNotFound,
				Details: notFound.Siblings,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to process event", Code: models.ErrCodeRetryExhausted})
		return
	}

	h.recordProcessed(ctx, models.IntegrationStatusSuccess, correlationID, start, "")
	if h.metrics != nil {
		h.metrics.RecordEventProcessed(ctx, string(eventType), h.nowFn().Sub(start))
	}
	h.logAudit(ctx, ev.EmployeeID, "webhook_processado", map[string]any{
		"correlation_id": correlationID,
		"event_type":     string(eventType),
	})

	c.JSON(http.StatusOK, AckResponse{
		Acknowledged:  true,
		Message:       "evento processado",
		ColaboradorID: ev.EmployeeID,
	})
}

// Replay re-runs a stored delivery payload through the full pipeline. Used
// by the reprocessing endpoint; the payload was signature-checked when first
// received.
func (h *Handler) Replay(ctx context.Context, payload []byte) error {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("failed to parse stored payload: %w", err)
	}

	eventType := models.EventType(env.EventType)
	if !models.KnownEventType(eventType) {
		return fmt.Errorf("stored payload has unknown event_type %q", env.EventType)
	}
	if details := h.validateEnvelope(env, eventType); len(details) > 0 {
		return fmt.Errorf("stored payload is invalid: %s", strings.Join(details, ", "))
	}

	ev, err := translate(env, eventType, h.nowFn())
	if err != nil {
		return err
	}

	correlationID := uuid.New().String()
	if eventType == models.EventAdmission {
		decision, err := h.resolver.Check(ctx, ev, correlationID)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			return fmt.Errorf("admission blocked by discrepancy policy: %s", decision.Reason)
		}
	}

	return h.runner.Run(ctx, correlationID, ev.EmployeeID, func(ctx context.Context) error {
		return h.normalizer.Apply(ctx, ev)
	})
}

// validateEnvelope returns every violated field, not just the first.
func (h *Handler) validateEnvelope(env webhookEnvelope, eventType models.EventType) []string {
	var details []string

	if err := h.validate.Struct(env); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				details = append(details, fieldViolation(fe))
			}
		} else {
			details = append(details, err.Error())
		}
	}

	switch eventType {
	case models.EventTransfer:
		if env.Data.CentroCustoAnterior == "" {
			details = append(details, "centro_custo_anterior is required for transfers")
		}
	case models.EventPromotion:
		if env.Data.CargoAnterior == "" {
			details = append(details, "cargo_anterior is required for promotions")
		}
	}

	if env.Data.DataAdmissao != "" {
		if _, err := parseDate(env.Data.DataAdmissao); err != nil {
			details = append(details, "data_admissao must be an ISO-8601 date")
		}
	}
	if env.Data.DataDesligamento != "" {
		if _, err := parseDate(env.Data.DataDesligamento); err != nil {
			details = append(details, "data_desligamento must be an ISO-8601 date")
		}
	}
	if env.Data.DataEvento != "" {
		if _, err := parseDate(env.Data.DataEvento); err != nil {
			details = append(details, "data_evento must be an ISO-8601 date")
		}
	}

	return details
}

func fieldViolation(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// translate converts a validated envelope into a ColaboradorEvent. A missing
// termination date defaults to the received timestamp.
func translate(env webhookEnvelope, eventType models.EventType, receivedAt time.Time) (models.ColaboradorEvent, error) {
	hireDate, err := parseDate(env.Data.DataAdmissao)
	if err != nil {
		return models.ColaboradorEvent{}, fmt.Errorf("data_admissao must be an ISO-8601 date")
	}

	ev := models.ColaboradorEvent{
		EmployeeID:           env.Data.ColaboradorID,
		Name:                 env.Data.Nome,
		NationalID:           env.Data.CPF,
		JobCodeID:            env.Data.CargoID,
		CostCenterID:         env.Data.CentroCustoID,
		Shift:                env.Data.Turno,
		HireDate:             hireDate,
		Status:               env.Data.Status,
		EventType:            eventType,
		PreviousCostCenterID: env.Data.CentroCustoAnterior,
		PreviousJobCodeID:    env.Data.CargoAnterior,
	}
	if env.Data.PCD != nil {
		ev.DisabilityFlag = *env.Data.PCD
	}

	if env.Data.DataDesligamento != "" {
		ev.TerminationDate, err = parseDate(env.Data.DataDesligamento)
		if err != nil {
			return models.ColaboradorEvent{}, fmt.Errorf("data_desligamento must be an ISO-8601 date")
		}
	} else if eventType == models.EventTermination {
		ev.TerminationDate = receivedAt
	}

	if env.Data.DataEvento != "" {
		ev.EventDate, err = parseDate(env.Data.DataEvento)
		if err != nil {
			return models.ColaboradorEvent{}, fmt.Errorf("data_evento must be an ISO-8601 date")
		}
	}

	return ev, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (h *Handler) rawBody(c *gin.Context) []byte {
	if v, ok := c.Get(rawBodyKey); ok {
		if body, ok := v.([]byte); ok {
			return body
		}
	}
	body, _ := c.GetRawData()
	return body
}

func (h *Handler) recordReceived(ctx context.Context, status string, payload []byte, correlationID, errMsg string) {
	if h.recorder == nil {
		return
	}
	if _, err := h.recorder.RecordEvent(ctx, monitor.RecordEventInput{
		ServiceName:    WebhookService,
		EventType:      models.IntegrationEventReceived,
		Status:         status,
		ResponseTimeMs: 0,
		Payload:        payload,
		Error:          errMsg,
		CorrelationID:  correlationID,
	}); err != nil {
		log.Printf(`{"level":"error","message":"Failed to record received event","correlation_id":"%s","error":"%v"}`, correlationID, err)
	}
}

func (h *Handler) recordProcessed(ctx context.Context, status, correlationID string, start time.Time, errMsg string) {
	if h.recorder == nil {
		return
	}
	if _, err := h.recorder.RecordEvent(ctx, monitor.RecordEventInput{
		ServiceName:    WebhookService,
		EventType:      models.IntegrationEventProcessed,
		Status:         status,
		ResponseTimeMs: h.nowFn().Sub(start).Milliseconds(),
		Error:          errMsg,
		CorrelationID:  correlationID,
	}); err != nil {
		log.Printf(`{"level":"error","message":"Failed to record processed event","correlation_id":"%s","error":"%v"}`, correlationID, err)
	}
}

func (h *Handler) finishFailure(ctx context.Context, ev models.ColaboradorEvent, correlationID string, start time.Time, cause error) {
	h.recordProcessed(ctx, models.IntegrationStatusFailure, correlationID, start, cause.Error())
	if h.metrics != nil {
		h.metrics.RecordEventFailed(ctx, string(ev.EventType), failureType(cause), h.nowFn().Sub(start))
	}
	h.logAudit(ctx, ev.EmployeeID, "webhook_falha", map[string]any{
		"correlation_id": correlationID,
		"event_type":     string(ev.EventType),
		"erro":           cause.Error(),
	})
	log.Printf(`{"level":"error","message":"Webhook processing failed","event_type":"%s","colaborador_id":"%s","correlation_id":"%s","error":"%v"}`,
		ev.EventType, ev.EmployeeID, correlationID, cause)
}

func failureType(err error) string {
	var notFound *ledger.NotFoundError
	if errors.As(err, &notFound) {
		return "slot_not_found"
	}
	return "retry_exhausted"
}

func (h *Handler) logAudit(ctx context.Context, employeeID, action string, details map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.LogAction(ctx, employeeID, "colaborador", action, "webhook-gateway", nil, details); err != nil {
		log.Printf(`{"level":"error","message":"Failed to create audit trail","action":"%s","error":"%v"}`, action, err)
	}
}
