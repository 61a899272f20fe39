// Package notify delivers HR notifications through the external
// notification service. Sends are queued and drained by a background
// worker so callers on the webhook path never block on the notifier.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

// NotificationService is the monitor service name for delivery calls.
const NotificationService = "notificacao-rh"

// Recorder feeds delivery outcomes to the integration health monitor.
type Recorder interface {
	RecordEvent(ctx context.Context, in monitor.RecordEventInput) (string, error)
}

// Worker queues notifications and delivers them in the background.
type Worker struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
	recorder   Recorder

	queue chan models.Notification
	wg    sync.WaitGroup
}

// NewWorker creates a notification worker. recorder may be nil.
func NewWorker(baseURL string, queueSize int, recorder Recorder) *Worker {
	if baseURL == "" {
		baseURL = "http://notificacao-rh-service:8000"
		log.Printf("WARN: notification service URL not set, defaulting to %s", baseURL)
	}
	if queueSize <= 0 {
		queueSize = 256
	}

	settings := gobreaker.Settings{
		Name:        NotificationService,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &Worker{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tracer:   otel.Tracer("notification-worker"),
		breaker:  gobreaker.NewCircuitBreaker(settings),
		recorder: recorder,
		queue:    make(chan models.Notification, queueSize),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (w *Worker) SetBaseURL(baseURL string) {
	w.baseURL = baseURL
}

// Enqueue adds a notification to the delivery queue. It never blocks; when
// the queue is full the notification is dropped with a warning.
func (w *Worker) Enqueue(n models.Notification) {
	select {
	case w.queue <- n:
	default:
		log.Printf(`{"level":"warn","message":"Notification queue full, dropping","template_id":"%s","recipient":"%s"}`, n.TemplateID, n.Recipient)
	}
}

// Start launches the delivery worker. It drains the queue until ctx is
// cancelled; call Wait to block until the worker exits.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-w.queue:
				w.deliver(ctx, n)
			}
		}
	}()
}

// Wait blocks until the worker goroutine has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) deliver(ctx context.Context, n models.Notification) {
	ctx, span := w.tracer.Start(ctx, "notification.deliver")
	defer span.End()

	span.SetAttributes(
		attribute.String("template_id", n.TemplateID),
		attribute.String("recipient", n.Recipient),
	)

	start := time.Now()
	_, err := w.breaker.Execute(func() (interface{}, error) {
		return nil, w.deliverInternal(ctx, n)
	})
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		log.Printf(`{"level":"error","message":"Failed to deliver notification","template_id":"%s","recipient":"%s","error":"%v"}`, n.TemplateID, n.Recipient, err)
	}

	w.record(ctx, err, elapsed)
}

func (w *Worker) deliverInternal(ctx context.Context, n models.Notification) error {
	jsonData, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	url := fmt.Sprintf("%s/api/notificacoes", w.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("notification service returned status %d (failed to read body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("notification service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	return nil
}

func (w *Worker) record(ctx context.Context, deliverErr error, elapsed time.Duration) {
	if w.recorder == nil {
		return
	}
	status := models.IntegrationStatusSuccess
	errMsg := ""
	if deliverErr != nil {
		status = models.IntegrationStatusFailure
		errMsg = deliverErr.Error()
	}
	if _, err := w.recorder.RecordEvent(ctx, monitor.RecordEventInput{
		ServiceName:    NotificationService,
		EventType:      models.IntegrationEventProcessed,
		Status:         status,
		ResponseTimeMs: elapsed.Milliseconds(),
		Error:          errMsg,
	}); err != nil {
		log.Printf(`{"level":"error","message":"Failed to record notification event","error":"%v"}`, err)
	}
}
