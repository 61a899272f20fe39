package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

type spyRecorder struct {
	mu     sync.Mutex
	inputs []monitor.RecordEventInput
	seen   chan struct{}
}

func newSpyRecorder() *spyRecorder {
	return &spyRecorder{seen: make(chan struct{}, 16)}
}

func (r *spyRecorder) RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error) {
	r.mu.Lock()
	r.inputs = append(r.inputs, in)
	r.mu.Unlock()
	r.seen <- struct{}{}
	return "event-id", nil
}

func (r *spyRecorder) waitForEvent(t *testing.T) monitor.RecordEventInput {
	t.Helper()
	select {
	case <-r.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a recorded event")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inputs[len(r.inputs)-1]
}

func sampleNotification() models.Notification {
	return models.Notification{
		TemplateID: "divergencia-cargo",
		Recipient:  "equipe-rh",
		Variables:  map[string]string{"colaborador_id": "emp-1"},
		Priority:   "high",
		Channels:   []string{"email", "in_app"},
	}
}

func TestWorker_Deliver(t *testing.T) {
	t.Run("delivers the queued notification and records success", func(t *testing.T) {
		received := make(chan models.Notification, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/notificacoes", r.URL.Path)

			var n models.Notification
			require.NoError(t, json.NewDecoder(r.Body).Decode(&n))
			received <- n
			w.WriteHeader(http.StatusAccepted)
		}))
		defer server.Close()

		recorder := newSpyRecorder()
		worker := NewWorker(server.URL, 8, recorder)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		worker.Start(ctx)

		worker.Enqueue(sampleNotification())

		select {
		case n := <-received:
			assert.Equal(t, "divergencia-cargo", n.TemplateID)
			assert.Equal(t, "equipe-rh", n.Recipient)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}

		event := recorder.waitForEvent(t)
		assert.Equal(t, NotificationService, event.ServiceName)
		assert.Equal(t, models.IntegrationStatusSuccess, event.Status)
	})

	t.Run("records a failure when the service rejects the send", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		recorder := newSpyRecorder()
		worker := NewWorker(server.URL, 8, recorder)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		worker.Start(ctx)

		worker.Enqueue(sampleNotification())

		event := recorder.waitForEvent(t)
		assert.Equal(t, models.IntegrationStatusFailure, event.Status)
		assert.Contains(t, event.Error, "status 500")
	})

	t.Run("stops draining once the context is cancelled", func(t *testing.T) {
		worker := NewWorker("http://127.0.0.1:1", 8, nil)
		ctx, cancel := context.WithCancel(context.Background())
		worker.Start(ctx)

		cancel()
		done := make(chan struct{})
		go func() {
			worker.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit after cancellation")
		}
	})
}

func TestWorker_Enqueue(t *testing.T) {
	t.Run("never blocks when the queue is full", func(t *testing.T) {
		// Worker not started, so nothing drains the queue.
		worker := NewWorker("http://127.0.0.1:1", 2, nil)

		done := make(chan struct{})
		go func() {
			for i := 0; i < 10; i++ {
				worker.Enqueue(sampleNotification())
			}
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Enqueue blocked on a full queue")
		}
	})
}
