package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbase/quadro-integrator/internal/monitor"
)

func TestComputeSignature(t *testing.T) {
	sig := ComputeSignature("segredo", []byte(`{"event_type":"colaborador.admitido"}`))

	assert.True(t, strings.HasPrefix(sig, "sha256="))
	// hex sha256 digest after the prefix
	assert.Len(t, sig, len("sha256=")+64)

	// Deterministic for the same secret and body.
	assert.Equal(t, sig, ComputeSignature("segredo", []byte(`{"event_type":"colaborador.admitido"}`)))
	assert.NotEqual(t, sig, ComputeSignature("outro-segredo", []byte(`{"event_type":"colaborador.admitido"}`)))
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event_type":"colaborador.admitido"}`)

	tests := []struct {
		name   string
		header string
		want   bool
	}{
		{"valid signature", ComputeSignature("segredo", body), true},
		{"wrong secret", ComputeSignature("outro", body), false},
		{"missing prefix", strings.TrimPrefix(ComputeSignature("segredo", body), "sha256="), false},
		{"empty header", "", false},
		{"garbage", "sha256=deadbeef", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature("segredo", tt.header, body))
		})
	}
}

type captureRecorder struct {
	mu     sync.Mutex
	inputs []monitor.RecordEventInput
}

func (r *captureRecorder) RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return "event-id", nil
}

func (r *captureRecorder) recorded() []monitor.RecordEventInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]monitor.RecordEventInput, len(r.inputs))
	copy(out, r.inputs)
	return out
}

func TestRequireSignature(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(recorder Recorder) (*gin.Engine, *bool) {
		reached := false
		r := gin.New()
		r.POST("/hook", RequireSignature("segredo", recorder), func(c *gin.Context) {
			reached = true
			c.Status(http.StatusOK)
		})
		return r, &reached
	}

	t.Run("valid signature passes through with body restored", func(t *testing.T) {
		r := gin.New()
		var seen []byte
		r.POST("/hook", RequireSignature("segredo", nil), func(c *gin.Context) {
			seen, _ = c.GetRawData()
			c.Status(http.StatusOK)
		})

		body := `{"ping":true}`
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, ComputeSignature("segredo", []byte(body)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, body, string(seen))
	})

	t.Run("missing header is rejected before the handler runs", func(t *testing.T) {
		recorder := &captureRecorder{}
		r, reached := newRouter(recorder)

		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *reached)
		assert.Contains(t, w.Body.String(), "INVALID_SIGNATURE")

		events := recorder.recorded()
		require.Len(t, events, 1)
		assert.Equal(t, WebhookService, events[0].ServiceName)
		assert.Equal(t, "received", events[0].EventType)
		assert.Equal(t, "failure", events[0].Status)
	})

	t.Run("tampered body is rejected", func(t *testing.T) {
		recorder := &captureRecorder{}
		r, reached := newRouter(recorder)

		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"tampered":true}`))
		req.Header.Set(SignatureHeader, ComputeSignature("segredo", []byte(`{"original":true}`)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *reached)
		assert.Len(t, recorder.recorded(), 1)
	})

	t.Run("signature from a different secret is rejected", func(t *testing.T) {
		recorder := &captureRecorder{}
		r, reached := newRouter(recorder)

		body := `{"event_type":"colaborador.admitido"}`
		req := httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(body))
		req.Header.Set(SignatureHeader, ComputeSignature("chave-errada", []byte(body)))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, *reached)
	})
}
