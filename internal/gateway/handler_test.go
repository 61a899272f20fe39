package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbase/quadro-integrator/internal/discrepancy"
	"github.com/talentbase/quadro-integrator/internal/ledger"
	"github.com/talentbase/quadro-integrator/internal/models"
)

const testSecret = "webhook-test-secret"

type stubResolver struct {
	decision discrepancy.Decision
	err      error
	calls    int
}

func (r *stubResolver) Check(ctx context.Context, ev models.ColaboradorEvent, correlationID string) (discrepancy.Decision, error) {
	r.calls++
	return r.decision, r.err
}

type spyNormalizer struct {
	mu     sync.Mutex
	events []models.ColaboradorEvent
	err    error
}

func (n *spyNormalizer) Apply(ctx context.Context, ev models.ColaboradorEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return n.err
}

func (n *spyNormalizer) applied() []models.ColaboradorEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]models.ColaboradorEvent, len(n.events))
	copy(out, n.events)
	return out
}

// passRunner invokes the operation once with no retries.
type passRunner struct{}

func (passRunner) Run(ctx context.Context, correlationID, entityID string, op func(ctx context.Context) error) error {
	return op(ctx)
}

type gatewayFixture struct {
	router     *gin.Engine
	resolver   *stubResolver
	normalizer *spyNormalizer
	recorder   *captureRecorder
	handler    *Handler
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &gatewayFixture{
		resolver:   &stubResolver{decision: discrepancy.Decision{Allowed: true}},
		normalizer: &spyNormalizer{},
		recorder:   &captureRecorder{},
	}
	f.handler = NewHandler(Deps{
		Resolver:   f.resolver,
		Normalizer: f.normalizer,
		Runner:     passRunner{},
		Recorder:   f.recorder,
	})

	r := gin.New()
	hooks := r.Group("/api/webhooks/colaborador", RequireSignature(testSecret, f.recorder))
	hooks.POST("/admitido", f.handler.HandleAdmission)
	hooks.POST("/transferido", f.handler.HandleTransfer)
	hooks.POST("/desligado", f.handler.HandleTermination)
	hooks.POST("/promovido", f.handler.HandlePromotion)
	f.router = r
	return f
}

func (f *gatewayFixture) deliver(t *testing.T, path string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, ComputeSignature(testSecret, body))
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func admissionPayload() map[string]any {
	return map[string]any{
		"event_type": "colaborador.admitido",
		"timestamp":  "2026-03-10T12:00:00Z",
		"data": map[string]any{
			"colaborador_id":  "emp-1",
			"nome":            "Maria Souza",
			"cpf":             "12345678901",
			"cargo_id":        "dev_pleno",
			"centro_custo_id": "cc-1",
			"turno":           "diurno",
			"data_admissao":   "2026-03-01",
			"pcd":             false,
			"status":          "ativo",
		},
	}
}

func TestHandler_Admission(t *testing.T) {
	t.Run("valid delivery is acknowledged and applied", func(t *testing.T) {
		f := newGatewayFixture(t)

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))

		var ack AckResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
		assert.True(t, ack.Acknowledged)
		assert.Equal(t, "emp-1", ack.ColaboradorID)

		applied := f.normalizer.applied()
		require.Len(t, applied, 1)
		assert.Equal(t, models.EventAdmission, applied[0].EventType)
		assert.Equal(t, "dev_pleno", applied[0].JobCodeID)
		assert.Equal(t, "cc-1", applied[0].CostCenterID)
		assert.Equal(t, 1, f.resolver.calls)

		events := f.recorder.recorded()
		require.Len(t, events, 2)
		assert.Equal(t, models.IntegrationEventReceived, events[0].EventType)
		assert.Equal(t, models.IntegrationStatusSuccess, events[0].Status)
		assert.NotEmpty(t, events[0].Payload)
		assert.Equal(t, models.IntegrationEventProcessed, events[1].EventType)
		assert.Equal(t, models.IntegrationStatusSuccess, events[1].Status)
		assert.Equal(t, events[0].CorrelationID, events[1].CorrelationID)
	})

	t.Run("unsigned delivery never reaches the pipeline", func(t *testing.T) {
		f := newGatewayFixture(t)

		body, _ := json.Marshal(admissionPayload())
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/colaborador/admitido", strings.NewReader(string(body)))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, f.normalizer.applied())
		assert.Equal(t, 0, f.resolver.calls)
	})

	t.Run("blocked discrepancy returns 409 without touching the ledger", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.resolver.decision = discrepancy.Decision{
			Allowed:         false,
			Discrepant:      true,
			Action:          discrepancy.ActionBloquear,
			ExpectedJobCode: "dev_senior",
			Reason:          "cargo divergente do quadro de lotacao",
		}

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusConflict, w.Code)
		var ack AckResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
		assert.False(t, ack.Acknowledged)
		assert.Equal(t, string(discrepancy.ActionBloquear), ack.Action)
		assert.Empty(t, f.normalizer.applied())

		events := f.recorder.recorded()
		require.Len(t, events, 2)
		assert.Equal(t, models.IntegrationStatusFailure, events[1].Status)
	})

	t.Run("escalated discrepancy carries the proposal id", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.resolver.decision = discrepancy.Decision{
			Allowed:    false,
			Discrepant: true,
			Action:     discrepancy.ActionExigirAprovacao,
			ProposalID: "prop-42",
			Reason:     "aguardando aprovacao do RH",
		}

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusConflict, w.Code)
		var ack AckResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
		assert.Equal(t, "prop-42", ack.ProposalID)
		assert.Equal(t, string(discrepancy.ActionExigirAprovacao), ack.Action)
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("slot not found maps to 400 listing sibling cargos", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.normalizer.err = &ledger.NotFoundError{
			CostCenterID: "cc-1",
			JobCodeID:    "dev_pleno",
			Siblings:     []string{"dev_junior", "dev_senior"},
		}

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrCodeSlotNotFound, resp.Code)
		assert.Equal(t, []string{"dev_junior", "dev_senior"}, resp.Details)
	})

	t.Run("resolver failure is a server error", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.resolver.err = assert.AnError

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), models.ErrCodeInternalError)
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("exhausted pipeline maps to 500", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.normalizer.err = assert.AnError

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", admissionPayload())

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), models.ErrCodeRetryExhausted)
	})
}

func TestHandler_Validation(t *testing.T) {
	t.Run("malformed JSON is rejected", func(t *testing.T) {
		f := newGatewayFixture(t)

		body := []byte(`{"event_type": `)
		req := httptest.NewRequest(http.MethodPost, "/api/webhooks/colaborador/admitido", strings.NewReader(string(body)))
		req.Header.Set(SignatureHeader, ComputeSignature(testSecret, body))
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), models.ErrCodeInvalidRequest)
		assert.Empty(t, f.normalizer.applied())

		events := f.recorder.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, models.IntegrationStatusFailure, events[0].Status)
	})

	t.Run("event type mismatch for the endpoint is rejected", func(t *testing.T) {
		f := newGatewayFixture(t)

		w := f.deliver(t, "/api/webhooks/colaborador/desligado", admissionPayload())

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrCodeUnknownEventType, resp.Code)
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("every violated field is listed, not just the first", func(t *testing.T) {
		f := newGatewayFixture(t)

		payload := admissionPayload()
		data := payload["data"].(map[string]any)
		delete(data, "nome")
		delete(data, "cpf")
		delete(data, "pcd")
		data["status"] = "pendente"
		data["data_admissao"] = "10/03/2026"

		w := f.deliver(t, "/api/webhooks/colaborador/admitido", payload)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, models.ErrCodeValidationFailed, resp.Code)
		assert.Contains(t, resp.Details, "nome is required")
		assert.Contains(t, resp.Details, "cpf is required")
		assert.Contains(t, resp.Details, "pcd is required")
		assert.Contains(t, resp.Details, "status must be one of: ativo inativo")
		assert.Contains(t, resp.Details, "data_admissao must be an ISO-8601 date")
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("transfer requires the previous cost center", func(t *testing.T) {
		f := newGatewayFixture(t)

		payload := admissionPayload()
		payload["event_type"] = "colaborador.transferido"

		w := f.deliver(t, "/api/webhooks/colaborador/transferido", payload)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "centro_custo_anterior is required for transfers")
	})

	t.Run("promotion requires the previous cargo", func(t *testing.T) {
		f := newGatewayFixture(t)

		payload := admissionPayload()
		payload["event_type"] = "colaborador.promovido"

		w := f.deliver(t, "/api/webhooks/colaborador/promovido", payload)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		var resp models.ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "cargo_anterior is required for promotions")
	})
}

func TestHandler_Translate(t *testing.T) {
	t.Run("transfer carries the previous cost center into the event", func(t *testing.T) {
		f := newGatewayFixture(t)

		payload := admissionPayload()
		payload["event_type"] = "colaborador.transferido"
		data := payload["data"].(map[string]any)
		data["centro_custo_anterior"] = "cc-origem"
		data["data_evento"] = "2026-03-09"

		w := f.deliver(t, "/api/webhooks/colaborador/transferido", payload)

		require.Equal(t, http.StatusOK, w.Code)
		applied := f.normalizer.applied()
		require.Len(t, applied, 1)
		assert.Equal(t, models.EventTransfer, applied[0].EventType)
		assert.Equal(t, "cc-origem", applied[0].PreviousCostCenterID)
		assert.Equal(t, "2026-03-09", applied[0].EventDate.Format("2006-01-02"))
		// Transfers skip the admission discrepancy gate.
		assert.Equal(t, 0, f.resolver.calls)
	})

	t.Run("termination without data_desligamento defaults to the received time", func(t *testing.T) {
		f := newGatewayFixture(t)

		payload := admissionPayload()
		payload["event_type"] = "colaborador.desligado"
		data := payload["data"].(map[string]any)
		data["status"] = "inativo"

		w := f.deliver(t, "/api/webhooks/colaborador/desligado", payload)

		require.Equal(t, http.StatusOK, w.Code)
		applied := f.normalizer.applied()
		require.Len(t, applied, 1)
		assert.False(t, applied[0].TerminationDate.IsZero())
	})
}

func TestHandler_Replay(t *testing.T) {
	t.Run("stored payload runs through the full pipeline", func(t *testing.T) {
		f := newGatewayFixture(t)
		payload, err := json.Marshal(admissionPayload())
		require.NoError(t, err)

		err = f.handler.Replay(context.Background(), payload)

		require.NoError(t, err)
		require.Len(t, f.normalizer.applied(), 1)
		assert.Equal(t, 1, f.resolver.calls)
	})

	t.Run("invalid stored payload fails without applying", func(t *testing.T) {
		f := newGatewayFixture(t)

		err := f.handler.Replay(context.Background(), []byte(`{"event_type":"colaborador.admitido","timestamp":"x","data":{}}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid")
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("blocked admission does not replay", func(t *testing.T) {
		f := newGatewayFixture(t)
		f.resolver.decision = discrepancy.Decision{Allowed: false, Action: discrepancy.ActionBloquear, Reason: "divergencia"}
		payload, err := json.Marshal(admissionPayload())
		require.NoError(t, err)

		err = f.handler.Replay(context.Background(), payload)

		require.Error(t, err)
		assert.Contains(t, err.Error(), "blocked")
		assert.Empty(t, f.normalizer.applied())
	})

	t.Run("unknown stored event type fails", func(t *testing.T) {
		f := newGatewayFixture(t)

		err := f.handler.Replay(context.Background(), []byte(`{"event_type":"colaborador.ferias","timestamp":"2026-03-10T12:00:00Z"}`))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown event_type")
	})
}
