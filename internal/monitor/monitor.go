package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/talentbase/quadro-integrator/internal/models"
)

var tracer = otel.Tracer("integration-monitor")

// Thresholds configures alert evaluation.
type Thresholds struct {
	ConsecutiveFailures int
	ErrorRate           float64
	SlowResponseMs      int64
	SilenceWindow       time.Duration
}

// DefaultThresholds returns the documented defaults: 5 consecutive failures,
// 10% error rate, 5000ms average response, 5 minute silence window.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ConsecutiveFailures: 5,
		ErrorRate:           0.10,
		SlowResponseMs:      5000,
		SilenceWindow:       5 * time.Minute,
	}
}

// RecordEventInput is one structured record from a pipeline stage.
type RecordEventInput struct {
	ServiceName    string
	EventType      string
	Status         string
	ResponseTimeMs int64
	Payload        []byte
	Error          string
	CorrelationID  string
}

// EventListener receives every recorded event, e.g. the websocket hub
// streaming events to dashboards. Listeners must not block.
type EventListener interface {
	Publish(ev models.IntegrationEvent)
}

// Monitor tracks the health of every external integration. The per-service
// status cache is shared mutable state touched by every concurrent event, so
// all access goes through the mutex; each update is also snapshotted to the
// store so memory is never the only source of truth.
type Monitor struct {
	store      Store
	thresholds Thresholds
	tracer     trace.Tracer
	nowFn      func() time.Time

	mu       sync.Mutex
	statuses map[string]*models.IntegrationStatus
	// active alerts keyed by service name, then alert type
	alerts    map[string]map[string]*models.IntegrationAlert
	listeners []EventListener
}

// New creates a monitor over the given store.
func New(store Store, thresholds Thresholds) *Monitor {
	return &Monitor{
		store:      store,
		thresholds: thresholds,
		tracer:     tracer,
		nowFn:      time.Now,
		statuses:   make(map[string]*models.IntegrationStatus),
		alerts:     make(map[string]map[string]*models.IntegrationAlert),
	}
}

// Warmup loads persisted statuses and active alerts into the cache. Called
// once at startup so health state survives restarts.
func (m *Monitor) Warmup(ctx context.Context) error {
	statuses, err := m.store.LoadStatuses(ctx)
	if err != nil {
		return err
	}
	alerts, err := m.store.LoadActiveAlerts(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range statuses {
		st := statuses[i]
		m.statuses[st.ServiceName] = &st
	}
	for i := range alerts {
		a := alerts[i]
		if m.alerts[a.ServiceName] == nil {
			m.alerts[a.ServiceName] = make(map[string]*models.IntegrationAlert)
		}
		m.alerts[a.ServiceName][a.AlertType] = &a
	}
	return nil
}

// Subscribe registers a listener for recorded events.
func (m *Monitor) Subscribe(l EventListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RecordEvent appends one integration event, updates the service's rolling
// status and evaluates alert thresholds. Returns the event id.
func (m *Monitor) RecordEvent(ctx context.Context, in RecordEventInput) (string, error) {
	ctx, span := m.tracer.Start(ctx, "monitor.record_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("service.name", in.ServiceName),
		attribute.String("event.type", in.EventType),
		attribute.String("event.status", in.Status),
	)

	ev := models.IntegrationEvent{
		ID:             uuid.New().String(),
		ServiceName:    in.ServiceName,
		EventType:      in.EventType,
		Status:         in.Status,
		Payload:        in.Payload,
		ResponseTimeMs: in.ResponseTimeMs,
		Error:          in.Error,
		Timestamp:      m.nowFn(),
		CorrelationID:  in.CorrelationID,
	}

	if err := m.store.AppendEvent(ctx, ev); err != nil {
		span.RecordError(err)
		return "", err
	}

	snapshot, raised := m.applyToStatus(ev)

	// Snapshot persistence happens outside the lock; the log row above is
	// already durable, so a failed upsert only delays the cached view.
	if err := m.store.UpsertStatus(ctx, snapshot); err != nil {
		log.Printf(`{"level":"error","message":"Failed to persist integration status","service":"%s","error":"%v"}`, in.ServiceName, err)
	}
	for _, alert := range raised {
		if err := m.store.SaveAlert(ctx, alert); err != nil {
			log.Printf(`{"level":"error","message":"Failed to persist alert","service":"%s","alert_type":"%s","error":"%v"}`, alert.ServiceName, alert.AlertType, err)
		}
	}

	m.notify(ev)
	return ev.ID, nil
}

// applyToStatus updates the cached status under the lock and evaluates the
// thresholds, returning the status snapshot and any newly raised alerts.
func (m *Monitor) applyToStatus(ev models.IntegrationEvent) (models.IntegrationStatus, []models.IntegrationAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.statuses[ev.ServiceName]
	if st == nil {
		st = &models.IntegrationStatus{ServiceName: ev.ServiceName, Status: models.HealthUnknown}
		m.statuses[ev.ServiceName] = st
	}

	st.TotalCalls++
	ts := ev.Timestamp
	if ev.Status == models.IntegrationStatusSuccess {
		st.SuccessfulCalls++
		st.ConsecutiveFailures = 0
		st.LastSuccessfulCall = &ts
	} else {
		st.FailedCalls++
		st.ConsecutiveFailures++
		st.LastFailedCall = &ts
	}
	// Cumulative moving average over all calls.
	st.AverageResponseTimeMs += (float64(ev.ResponseTimeMs) - st.AverageResponseTimeMs) / float64(st.TotalCalls)
	st.UpdatedAt = ts

	raised := m.evaluateLocked(st, ts)
	st.Status = m.deriveHealthLocked(st, ts)

	return *st, raised
}

// evaluateLocked checks every threshold for the service. At most one active
// alert per (service, alert type): re-breaching neither duplicates nor
// clears an existing alert.
func (m *Monitor) evaluateLocked(st *models.IntegrationStatus, now time.Time) []models.IntegrationAlert {
	var raised []models.IntegrationAlert

	if st.ConsecutiveFailures >= m.thresholds.ConsecutiveFailures {
		if a := m.raiseLocked(st.ServiceName, models.AlertServiceDown, models.SeverityCritical,
			fmt.Sprintf("%s: %d falhas consecutivas", st.ServiceName, st.ConsecutiveFailures),
			float64(m.thresholds.ConsecutiveFailures), float64(st.ConsecutiveFailures), now); a != nil {
			raised = append(raised, *a)
		}
	}

	if st.TotalCalls > 0 {
		errorRate := float64(st.FailedCalls) / float64(st.TotalCalls)
		if errorRate > m.thresholds.ErrorRate {
			if a := m.raiseLocked(st.ServiceName, models.AlertHighErrorRate, models.SeverityHigh,
				fmt.Sprintf("%s: taxa de erro %.1f%%", st.ServiceName, errorRate*100),
				m.thresholds.ErrorRate, errorRate, now); a != nil {
				raised = append(raised, *a)
			}
		}
	}

	if st.AverageResponseTimeMs > float64(m.thresholds.SlowResponseMs) {
		if a := m.raiseLocked(st.ServiceName, models.AlertSlowResponse, models.SeverityMedium,
			fmt.Sprintf("%s: tempo medio de resposta %.0fms", st.ServiceName, st.AverageResponseTimeMs),
			float64(m.thresholds.SlowResponseMs), st.AverageResponseTimeMs, now); a != nil {
			raised = append(raised, *a)
		}
	}

	return raised
}

func (m *Monitor) raiseLocked(serviceName, alertType, severity, message string, threshold, current float64, now time.Time) *models.IntegrationAlert {
	if m.alerts[serviceName] == nil {
		m.alerts[serviceName] = make(map[string]*models.IntegrationAlert)
	}
	if existing := m.alerts[serviceName][alertType]; existing != nil && existing.IsActive {
		return nil
	}
	alert := &models.IntegrationAlert{
		ID:           uuid.New().String(),
		ServiceName:  serviceName,
		AlertType:    alertType,
		Severity:     severity,
		Message:      message,
		Threshold:    threshold,
		CurrentValue: current,
		IsActive:     true,
		CreatedAt:    now,
	}
	m.alerts[serviceName][alertType] = alert
	log.Printf(`{"level":"warn","message":"Integration alert raised","service":"%s","alert_type":"%s","severity":"%s"}`, serviceName, alertType, severity)
	return alert
}

// deriveHealthLocked computes the service health from the current counters.
func (m *Monitor) deriveHealthLocked(st *models.IntegrationStatus, now time.Time) string {
	if st.TotalCalls == 0 {
		return models.HealthUnknown
	}
	if st.ConsecutiveFailures >= m.thresholds.ConsecutiveFailures {
		return models.HealthUnhealthy
	}
	if st.LastSuccessfulCall == nil || now.Sub(*st.LastSuccessfulCall) > m.thresholds.SilenceWindow {
		return models.HealthUnhealthy
	}
	if float64(st.FailedCalls)/float64(st.TotalCalls) > m.thresholds.ErrorRate {
		return models.HealthDegraded
	}
	if st.AverageResponseTimeMs > float64(m.thresholds.SlowResponseMs) {
		return models.HealthDegraded
	}
	return models.HealthHealthy
}

func (m *Monitor) notify(ev models.IntegrationEvent) {
	m.mu.Lock()
	listeners := make([]EventListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()
	for _, l := range listeners {
		l.Publish(ev)
	}
}

// GetStatuses returns a copy of every known service status.
func (m *Monitor) GetStatuses() []models.IntegrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.IntegrationStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	return out
}

// GetServiceStatus returns the status for one service, or nil when unknown.
func (m *Monitor) GetServiceStatus(name string) *models.IntegrationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.statuses[name]
	if st == nil {
		return nil
	}
	cp := *st
	return &cp
}

// GetRecentEvents lists recorded events, optionally filtered by service.
func (m *Monitor) GetRecentEvents(ctx context.Context, serviceName string, limit, offset int) ([]models.IntegrationEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return m.store.ListEvents(ctx, serviceName, limit, offset)
}

// GetActiveAlerts returns every currently active alert.
func (m *Monitor) GetActiveAlerts() []models.IntegrationAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.IntegrationAlert
	for _, byType := range m.alerts {
		for _, a := range byType {
			if a.IsActive {
				out = append(out, *a)
			}
		}
	}
	return out
}

// ResolveAlert clears one active alert. Only explicit resolution clears an
// alert; threshold recovery does not.
func (m *Monitor) ResolveAlert(ctx context.Context, alertID, resolvedBy string) error {
	m.mu.Lock()
	var resolved *models.IntegrationAlert
	for _, byType := range m.alerts {
		for _, a := range byType {
			if a.ID == alertID && a.IsActive {
				now := m.nowFn()
				a.IsActive = false
				a.ResolvedAt = &now
				a.ResolvedBy = resolvedBy
				cp := *a
				resolved = &cp
			}
		}
	}
	m.mu.Unlock()

	if resolved == nil {
		return fmt.Errorf("active alert %s not found", alertID)
	}
	return m.store.SaveAlert(ctx, *resolved)
}

// RequestReprocessing creates a pending reprocessing request referencing the
// stored payload of the original event. It does not replay the event;
// replay is a separate, explicitly triggered operation.
func (m *Monitor) RequestReprocessing(ctx context.Context, eventID, requestedBy string, maxAttempts int) (*models.ReprocessingRequest, error) {
	ev, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("integration event %s not found", eventID)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	req := models.ReprocessingRequest{
		ID:              uuid.New().String(),
		OriginalEventID: ev.ID,
		ServiceName:     ev.ServiceName,
		Payload:         ev.Payload,
		Status:          models.ReprocessingPending,
		MaxAttempts:     maxAttempts,
		RequestedBy:     requestedBy,
		CreatedAt:       m.nowFn(),
	}
	if err := m.store.CreateReprocessing(ctx, req); err != nil {
		return nil, err
	}
	return &req, nil
}

// BeginReprocessing transitions a pending request to processing and returns
// it. Used by the replay endpoint.
func (m *Monitor) BeginReprocessing(ctx context.Context, id string) (*models.ReprocessingRequest, error) {
	req, err := m.store.GetReprocessing(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("reprocessing request %s not found", id)
	}
	if req.Status != models.ReprocessingPending && req.Status != models.ReprocessingFailed {
		return nil, fmt.Errorf("reprocessing request %s is %s, not replayable", id, req.Status)
	}
	if req.Attempts >= req.MaxAttempts {
		return nil, fmt.Errorf("reprocessing request %s exhausted its %d attempts", id, req.MaxAttempts)
	}
	req.Status = models.ReprocessingProcessing
	req.Attempts++
	if err := m.store.UpdateReprocessing(ctx, *req); err != nil {
		return nil, err
	}
	return req, nil
}

// FinishReprocessing records the replay outcome.
func (m *Monitor) FinishReprocessing(ctx context.Context, req *models.ReprocessingRequest, replayErr error) error {
	if replayErr != nil {
		req.Status = models.ReprocessingFailed
	} else {
		now := m.nowFn()
		req.Status = models.ReprocessingCompleted
		req.CompletedAt = &now
	}
	return m.store.UpdateReprocessing(ctx, *req)
}

// GetIntegrationStats aggregates counters and health across all services.
func (m *Monitor) GetIntegrationStats() models.IntegrationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats models.IntegrationStats
	stats.TotalServices = len(m.statuses)
	for _, st := range m.statuses {
		stats.TotalCalls += st.TotalCalls
		stats.SuccessfulCalls += st.SuccessfulCalls
		stats.FailedCalls += st.FailedCalls
		switch st.Status {
		case models.HealthHealthy:
			stats.HealthyServices++
		case models.HealthDegraded:
			stats.DegradedServices++
		case models.HealthUnhealthy:
			stats.UnhealthyServices++
		}
	}
	for _, byType := range m.alerts {
		for _, a := range byType {
			if a.IsActive {
				stats.ActiveAlerts++
			}
		}
	}
	return stats
}

// StartSweep runs the periodic health sweep until ctx is cancelled. Services
// with no successful call inside the silence window get a synthesized
// failure event so silent integrations are still flagged.
func (m *Monitor) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweep(ctx)
			}
		}
	}()
}

func (m *Monitor) sweep(ctx context.Context) {
	now := m.nowFn()

	m.mu.Lock()
	var silent []string
	for name, st := range m.statuses {
		if st.Status == models.HealthUnhealthy {
			continue
		}
		if st.LastSuccessfulCall == nil || now.Sub(*st.LastSuccessfulCall) > m.thresholds.SilenceWindow {
			silent = append(silent, name)
		}
	}
	m.mu.Unlock()

	for _, name := range silent {
		log.Printf(`{"level":"warn","message":"Service silent beyond window, synthesizing failure","service":"%s"}`, name)
		if _, err := m.RecordEvent(ctx, RecordEventInput{
			ServiceName: name,
			EventType:   models.IntegrationEventFailed,
			Status:      models.IntegrationStatusTimeout,
			Error:       fmt.Sprintf("no successful call within %s", m.thresholds.SilenceWindow),
		}); err != nil {
			log.Printf(`{"level":"error","message":"Failed to record sweep event","service":"%s","error":"%v"}`, name, err)
		}
	}
}
