package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbase/quadro-integrator/internal/models"
)

func TestEventStream_Publish(t *testing.T) {
	t.Run("no connected clients is a no-op", func(t *testing.T) {
		stream := NewEventStream()

		assert.NotPanics(t, func() {
			stream.Publish(models.IntegrationEvent{ID: "ev-1", ServiceName: WebhookService})
		})
	})

	t.Run("connected client receives published events", func(t *testing.T) {
		gin.SetMode(gin.TestMode)
		stream := NewEventStream()

		r := gin.New()
		r.GET("/ws", stream.StreamEvents)
		server := httptest.NewServer(r)
		defer server.Close()

		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Wait until the hub has registered the client.
		require.Eventually(t, func() bool {
			stream.mu.Lock()
			defer stream.mu.Unlock()
			return len(stream.clients) == 1
		}, 2*time.Second, 10*time.Millisecond)

		stream.Publish(models.IntegrationEvent{
			ID:          "ev-1",
			ServiceName: WebhookService,
			EventType:   models.IntegrationEventReceived,
			Status:      models.IntegrationStatusSuccess,
		})

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)

		var ev models.IntegrationEvent
		require.NoError(t, json.Unmarshal(payload, &ev))
		assert.Equal(t, "ev-1", ev.ID)
		assert.Equal(t, WebhookService, ev.ServiceName)
	})

	t.Run("slow client is dropped instead of blocking", func(t *testing.T) {
		stream := NewEventStream()

		// Hold a real upgraded connection so the hub has a live client to
		// evict, then register it by hand with a buffer that is already full.
		serverConns := make(chan *websocket.Conn, 1)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			serverConns <- conn
		}))
		defer server.Close()

		client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
		require.NoError(t, err)
		defer client.Close()
		conn := <-serverConns
		defer conn.Close()

		ch := make(chan []byte, 1)
		ch <- []byte("stale")
		stream.mu.Lock()
		stream.clients[conn] = ch
		stream.mu.Unlock()

		done := make(chan struct{})
		go func() {
			stream.Publish(models.IntegrationEvent{ID: "ev-2"})
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Publish blocked on a slow client")
		}

		stream.mu.Lock()
		defer stream.mu.Unlock()
		assert.Empty(t, stream.clients)
	})
}
