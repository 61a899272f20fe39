package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/talentbase/quadro-integrator/internal/audit"
	"github.com/talentbase/quadro-integrator/internal/auth"
	"github.com/talentbase/quadro-integrator/internal/config"
	"github.com/talentbase/quadro-integrator/internal/discrepancy"
	"github.com/talentbase/quadro-integrator/internal/gateway"
	"github.com/talentbase/quadro-integrator/internal/ledger"
	"github.com/talentbase/quadro-integrator/internal/metrics"
	"github.com/talentbase/quadro-integrator/internal/monitor"
	"github.com/talentbase/quadro-integrator/internal/notify"
	"github.com/talentbase/quadro-integrator/internal/retry"
)

// @title Quadro Integrator API
// @version 1.0
// @description HR webhook ingestion pipeline keeping the quadro de lotação headcount ledger consistent.
// @description
// @description Receives colaborador lifecycle webhooks, applies them to the headcount ledger and
// @description exposes the integration health monitor to the operations team.

// @contact.name API Support
// @contact.email integracao@talentbase.dev

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	// Initialize OpenTelemetry
	if err := initTracer(); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	cfg := config.Load()
	if cfg.WebhookSecret == "" {
		log.Fatal("WEBHOOK_SECRET environment variable is required")
	}

	// Connect to PostgreSQL with retry logic
	log.Println("Connecting to PostgreSQL database...")
	var pool *pgxpool.Pool
	var err error

	// Add a retry loop for the initial connection
	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(context.Background())
			if err == nil {
				break
			}
		}
		log.Printf("Waiting for database... (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}

	defer pool.Close()
	log.Println("Connected to PostgreSQL database")

	// Root context for the background workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Integration health monitor
	healthMonitor := monitor.New(monitor.NewPostgresStore(pool), monitor.Thresholds{
		ConsecutiveFailures: cfg.AlertConsecutiveFailures,
		ErrorRate:           cfg.AlertErrorRate,
		SlowResponseMs:      cfg.AlertSlowResponseMs,
		SilenceWindow:       cfg.HealthSilenceWindow,
	})
	if err := healthMonitor.Warmup(ctx); err != nil {
		log.Fatalf("Failed to warm up health monitor: %v", err)
	}
	healthMonitor.StartSweep(ctx, cfg.HealthSweepInterval)

	// Real-time event stream for dashboards
	eventStream := gateway.NewEventStream()
	healthMonitor.Subscribe(eventStream)

	// Notification worker
	notifier := notify.NewWorker(cfg.NotificationServiceURL, cfg.NotificationQueueSize, healthMonitor)
	notifier.Start(ctx)

	// Ledger and pipeline
	auditService := audit.NewService(pool)
	ledgerStore := ledger.NewPostgresStore(pool)
	normalizer := ledger.NewNormalizer(ledgerStore, auditService)

	escalator := discrepancy.NewApprovalWorkflowClient(cfg.ApprovalWorkflowURL)
	resolver := discrepancy.NewResolver(discrepancy.Deps{
		Ledger:    ledgerStore,
		Policies:  discrepancy.NewPostgresPolicyProvider(pool),
		Escalator: escalator,
		Notifier:  notifier,
		Audit:     auditService,
		Recorder:  healthMonitor,
	})

	retryCoordinator := &retry.Coordinator{
		Policy:      retry.NewPolicy(cfg.RetryAttempts, cfg.RetryDelay, cfg.MaxRetryDelay),
		ServiceName: gateway.WebhookService,
		Monitor:     healthMonitor,
		Audit:       auditService,
	}

	pipelineMetrics, err := metrics.NewPipelineMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize pipeline metrics: %v", err)
	}

	// Initialize JWT manager
	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to initialize JWT manager: %v", err)
	}

	// Gateway layer
	webhookHandler := gateway.NewHandler(gateway.Deps{
		Resolver:   resolver,
		Normalizer: normalizer,
		Runner:     retryCoordinator,
		Recorder:   healthMonitor,
		Metrics:    pipelineMetrics,
		Audit:      auditService,
	})
	monitorHandler := gateway.NewMonitorHandler(healthMonitor, jwtManager, pool, webhookHandler, auditService)

	// Setup Gin router
	router := gin.Default()

	// Add structured JSON logging middleware
	router.Use(structuredLoggingMiddleware())

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   cfg.ServiceName,
			"version":   cfg.Version,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		// Check database connectivity for readiness
		if err := pool.Ping(context.Background()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Swagger documentation (public)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// API routes
	api := router.Group("/api")

	// Public routes (no authentication required)
	api.POST("/auth/login", monitorHandler.Login)

	// Webhook routes, gated on the HMAC signature instead of JWT
	webhooks := api.Group("/webhooks/colaborador")
	webhooks.Use(gateway.RequireSignature(cfg.WebhookSecret, healthMonitor))
	webhooks.POST("/admitido", webhookHandler.HandleAdmission)
	webhooks.POST("/transferido", webhookHandler.HandleTransfer)
	webhooks.POST("/desligado", webhookHandler.HandleTermination)
	webhooks.POST("/promovido", webhookHandler.HandlePromotion)

	// Protected monitor routes (require JWT authentication)
	protected := api.Group("/monitor")
	protected.Use(auth.RequireAuth(jwtManager))

	protected.GET("/status", monitorHandler.GetStatuses)
	protected.GET("/status/:name", monitorHandler.GetServiceStatus)
	protected.GET("/eventos", monitorHandler.GetRecentEvents)
	protected.POST("/eventos/:id/reprocessar", monitorHandler.RequestReprocessing)
	protected.POST("/reprocessamentos/:id/executar", monitorHandler.ExecuteReprocessing)
	protected.GET("/alertas", monitorHandler.GetActiveAlerts)
	protected.POST("/alertas/:id/resolver", monitorHandler.ResolveAlert)
	protected.GET("/estatisticas", monitorHandler.GetStats)

	// WebSocket routes (authenticated)
	protected.GET("/ws/eventos", eventStream.StreamEvents)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // Covers retry exhaustion on slow ledger transactions
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting Quadro Integrator API server on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Stop the sweep and notification worker
	cancel()
	notifier.Wait()

	log.Println("Server exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		// Get operator ID from context if available
		operatorID, _ := c.Get(auth.OperatorIDKey)

		// Build log entry
		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		// Add operator ID if authenticated
		if operatorID != nil {
			logEntry["operator_id"] = operatorID
		}

		// Add error if present
		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		// Output as JSON
		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}
