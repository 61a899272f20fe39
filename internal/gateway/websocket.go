package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/talentbase/quadro-integrator/internal/models"
)

var wsTracer = otel.Tracer("event-stream")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

const clientBufferSize = 32

// EventStream fans every recorded integration event out to connected
// dashboard clients. It implements monitor.EventListener; Publish never
// blocks the recording path, slow clients get dropped instead.
type EventStream struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

// NewEventStream creates an empty event stream hub
func NewEventStream() *EventStream {
	return &EventStream{
		clients: make(map[*websocket.Conn]chan []byte),
	}
}

// Publish implements monitor.EventListener.
func (s *EventStream) Publish(ev models.IntegrationEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to marshal event for stream","error":"%v"}`, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn, ch := range s.clients {
		select {
		case ch <- payload:
		default:
			// Client is not draining its buffer; disconnect it rather
			// than block event recording.
			log.Printf(`{"level":"warn","message":"Dropping slow event stream client","remote":"%s"}`, conn.RemoteAddr())
			close(ch)
			delete(s.clients, conn)
		}
	}
}

// StreamEvents handles WebSocket /api/monitor/ws/eventos
// @Summary Stream integration events
// @Description WebSocket endpoint streaming every recorded integration event in real time
// @Tags monitor
// @Success 101 "Switching Protocols"
// @Failure 401 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /monitor/ws/eventos [get]
func (s *EventStream) StreamEvents(c *gin.Context) {
	_, span := wsTracer.Start(c.Request.Context(), "event_stream.connect")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	span.SetAttributes(attribute.String("client.remote", conn.RemoteAddr().String()))
	log.Printf(`{"level":"info","message":"Event stream client connected","remote":"%s"}`, conn.RemoteAddr())

	ch := make(chan []byte, clientBufferSize)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if _, ok := s.clients[conn]; ok {
			close(ch)
			delete(s.clients, conn)
		}
		s.mu.Unlock()
		conn.Close()
		log.Printf(`{"level":"info","message":"Event stream client disconnected","remote":"%s"}`, conn.RemoteAddr())
	}()

	// Reader goroutine: the stream is one-way, client messages are ignored,
	// but reading is required to observe close frames.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Printf("Client connection write error: %v", err)
				}
				return
			}
		}
	}
}
