package gateway

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/talentbase/quadro-integrator/internal/auth"
	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

// Replayer re-runs a stored delivery payload through the pipeline.
type Replayer interface {
	Replay(ctx context.Context, payload []byte) error
}

// MonitorHandler exposes the integration health monitor to operators
type MonitorHandler struct {
	monitor    *monitor.Monitor
	jwtManager *auth.JWTManager
	pool       *pgxpool.Pool
	replayer   Replayer
	audit      AuditLogger
}

// NewMonitorHandler creates a new monitor API handler
func NewMonitorHandler(mon *monitor.Monitor, jwtManager *auth.JWTManager, pool *pgxpool.Pool, replayer Replayer, auditLogger AuditLogger) *MonitorHandler {
	return &MonitorHandler{
		monitor:    mon,
		jwtManager: jwtManager,
		pool:       pool,
		replayer:   replayer,
		audit:      auditLogger,
	}
}

// Login godoc
// @Summary Operator login
// @Description Authenticate operator and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *MonitorHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request", Code: models.ErrCodeInvalidRequest})
		return
	}

	// Lookup operator in database
	var operatorID string
	var hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, hashed_password FROM operators WHERE email = $1`,
		req.Email,
	).Scan(&operatorID, &hashedPassword)

	if err != nil {
		log.Printf(`{"level":"warn","message":"Operator not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	// Verify password using bcrypt
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid email or password", Code: models.ErrCodeUnauthorized})
		return
	}

	// Generate JWT token
	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		operatorID,
		req.Email,
		[]string{"operator"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to generate token", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:      token,
		OperatorID: operatorID,
	})
}

// GetStatuses godoc
// @Summary List service statuses
// @Description Return the health status of every monitored external service
// @Tags monitor
// @Produce json
// @Success 200 {array} models.IntegrationStatus
// @Security BearerAuth
// @Router /monitor/status [get]
func (h *MonitorHandler) GetStatuses(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetStatuses())
}

// GetServiceStatus godoc
// @Summary Get one service status
// @Description Return the health status of a single monitored service
// @Tags monitor
// @Produce json
// @Param name path string true "Service name"
// @Success 200 {object} models.IntegrationStatus
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /monitor/status/{name} [get]
func (h *MonitorHandler) GetServiceStatus(c *gin.Context) {
	name := c.Param("name")
	st := h.monitor.GetServiceStatus(name)
	if st == nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Service not found: " + name, Code: models.ErrCodeNotFound})
		return
	}
	c.JSON(http.StatusOK, st)
}

// GetRecentEvents godoc
// @Summary List recent integration events
// @Description Return the most recent integration log rows, optionally filtered by service
// @Tags monitor
// @Produce json
// @Param servico query string false "Service name filter"
// @Param limit query int false "Page size (default 50, max 500)"
// @Param offset query int false "Page offset"
// @Success 200 {array} models.IntegrationEvent
// @Security BearerAuth
// @Router /monitor/eventos [get]
func (h *MonitorHandler) GetRecentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.monitor.GetRecentEvents(c.Request.Context(), c.Query("servico"), limit, offset)
	if err != nil {
		log.Printf(`{"level":"error","message":"Failed to list integration events","error":"%v"}`, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to list events", Code: models.ErrCodeInternalError})
		return
	}
	c.JSON(http.StatusOK, events)
}

// GetActiveAlerts godoc
// @Summary List active alerts
// @Description Return every unresolved alert across all services
// @Tags monitor
// @Produce json
// @Success 200 {array} models.IntegrationAlert
// @Security BearerAuth
// @Router /monitor/alertas [get]
func (h *MonitorHandler) GetActiveAlerts(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetActiveAlerts())
}

// ResolveAlert godoc
// @Summary Resolve an alert
// @Description Explicitly clear one active alert
// @Tags monitor
// @Produce json
// @Param id path string true "Alert ID"
// @Success 200 {object} map[string]string
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /monitor/alertas/{id}/resolver [post]
func (h *MonitorHandler) ResolveAlert(c *gin.Context) {
	alertID := c.Param("id")
	resolvedBy := h.operatorID(c)

	if err := h.monitor.ResolveAlert(c.Request.Context(), alertID, resolvedBy); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeAlertNotFound})
			return
		}
		log.Printf(`{"level":"error","message":"Failed to resolve alert","alert_id":"%s","error":"%v"}`, alertID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to resolve alert", Code: models.ErrCodeInternalError})
		return
	}

	if h.audit != nil {
		if err := h.audit.LogAction(c.Request.Context(), alertID, "alerta", "alerta_resolvido", resolvedBy, nil, nil); err != nil {
			log.Printf(`{"level":"error","message":"Failed to create audit trail","action":"alerta_resolvido","error":"%v"}`, err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"message": "alerta resolvido", "alert_id": alertID})
}

// ReprocessRequest is the body for requesting a reprocessing.
type ReprocessRequest struct {
	MaxAttempts int `json:"max_attempts"`
}

// RequestReprocessing godoc
// @Summary Request event reprocessing
// @Description Create a reprocessing request for a stored integration event. Does not replay the event.
// @Tags monitor
// @Accept json
// @Produce json
// @Param id path string true "Integration event ID"
// @Param request body ReprocessRequest false "Reprocessing options"
// @Success 201 {object} models.ReprocessingRequest
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /monitor/eventos/{id}/reprocessar [post]
func (h *MonitorHandler) RequestReprocessing(c *gin.Context) {
	eventID := c.Param("id")

	var req ReprocessRequest
	// Body is optional; max attempts defaults server-side.
	_ = c.ShouldBindJSON(&req)

	created, err := h.monitor.RequestReprocessing(c.Request.Context(), eventID, h.operatorID(c), req.MaxAttempts)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeEventNotFound})
			return
		}
		log.Printf(`{"level":"error","message":"Failed to create reprocessing request","event_id":"%s","error":"%v"}`, eventID, err)
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to create reprocessing request", Code: models.ErrCodeInternalError})
		return
	}

	c.JSON(http.StatusCreated, created)
}

// ExecuteReprocessing godoc
// @Summary Replay a reprocessing request
// @Description Replay the stored payload of a pending reprocessing request through the pipeline
// @Tags monitor
// @Produce json
// @Param id path string true "Reprocessing request ID"
// @Success 200 {object} models.ReprocessingRequest
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /monitor/reprocessamentos/{id}/executar [post]
func (h *MonitorHandler) ExecuteReprocessing(c *gin.Context) {
	id := c.Param("id")

	req, err := h.monitor.BeginReprocessing(c.Request.Context(), id)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeReprocessNotFound})
			return
		}
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: err.Error(), Code: models.ErrCodeInvalidRequest})
		return
	}

	replayErr := h.replayer.Replay(c.Request.Context(), req.Payload)
	if err := h.monitor.FinishReprocessing(c.Request.Context(), req, replayErr); err != nil {
		log.Printf(`{"level":"error","message":"Failed to record reprocessing outcome","request_id":"%s","error":"%v"}`, id, err)
	}

	if replayErr != nil {
		log.Printf(`{"level":"warn","message":"Reprocessing replay failed","request_id":"%s","error":"%v"}`, id, replayErr)
	}
	c.JSON(http.StatusOK, req)
}

// GetStats godoc
// @Summary Aggregate integration stats
// @Description Return counts and health aggregated across all monitored services
// @Tags monitor
// @Produce json
// @Success 200 {object} models.IntegrationStats
// @Security BearerAuth
// @Router /monitor/estatisticas [get]
func (h *MonitorHandler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.monitor.GetIntegrationStats())
}

func (h *MonitorHandler) operatorID(c *gin.Context) string {
	if v, ok := c.Get(auth.OperatorIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return "unknown"
}
