package discrepancy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ApprovalWorkflowClient handles communication with the approval workflow service
type ApprovalWorkflowClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

// caseResponse represents the response from the case creation endpoint
type caseResponse struct {
	ProposalID string `json:"proposta_id"`
	Status     string `json:"status"`
}

// NewApprovalWorkflowClient creates a new approval workflow client
func NewApprovalWorkflowClient(baseURL string) *ApprovalWorkflowClient {
	if baseURL == "" {
		baseURL = "http://workflow-aprovacao-service:8000"
		log.Printf("WARN: approval workflow URL not set, defaulting to %s", baseURL)
	}

	// Initialize circuit breaker
	settings := gobreaker.Settings{
		Name:        "workflow-aprovacao",
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

	return &ApprovalWorkflowClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tracer:  otel.Tracer("approval-workflow-client"),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetBaseURL sets the base URL for testing purposes
func (c *ApprovalWorkflowClient) SetBaseURL(baseURL string) {
	c.baseURL = baseURL
}

// CreateCase opens a cargo-discrepancy correction case and returns its
// proposal id.
func (c *ApprovalWorkflowClient) CreateCase(ctx context.Context, in CaseInput) (string, error) {
	ctx, span := c.tracer.Start(ctx, "approval_workflow.create_case")
	defer span.End()

	span.SetAttributes(
		attribute.String("centro_custo_id", in.SourceSlotID),
		attribute.String("cargo_esperado", in.ExpectedJobCode),
		attribute.String("cargo_informado", in.ActualJobCode),
	)

	// Execute with circuit breaker
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.createCaseInternal(ctx, in)
	})

	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to invoke approval workflow: %w", err)
	}

	proposalID := result.(string)
	span.SetAttributes(attribute.String("proposta_id", proposalID))

	return proposalID, nil
}

// createCaseInternal performs the actual HTTP request
func (c *ApprovalWorkflowClient) createCaseInternal(ctx context.Context, in CaseInput) (string, error) {
	jsonData, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/propostas", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	// Inject trace context
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(httpReq.Header))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("approval workflow returned status %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return "", fmt.Errorf("approval workflow returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var caseResp caseResponse
	if err := json.NewDecoder(resp.Body).Decode(&caseResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if caseResp.ProposalID == "" {
		return "", fmt.Errorf("approval workflow returned empty proposta_id")
	}

	return caseResp.ProposalID, nil
}

// IsHealthy checks if the approval workflow service is healthy
func (c *ApprovalWorkflowClient) IsHealthy(ctx context.Context) bool {
	ctx, span := c.tracer.Start(ctx, "approval_workflow.health_check")
	defer span.End()

	// Use circuit breaker state as a quick health indicator
	if c.breaker.State() == gobreaker.StateOpen {
		span.SetAttributes(attribute.Bool("healthy", false), attribute.String("reason", "circuit_breaker_open"))
		return false
	}

	url := fmt.Sprintf("%s/health", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		span.RecordError(err)
		return false
	}

	// Short timeout for health checks
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	span.SetAttributes(attribute.Bool("healthy", healthy))

	return healthy
}
