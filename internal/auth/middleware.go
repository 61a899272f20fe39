package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/talentbase/quadro-integrator/internal/models"
)

var middlewareTracer = otel.Tracer("auth-middleware")

// Gin context keys set by the auth middleware
const (
	OperatorIDKey = "operator_id"
	EmailKey      = "email"
	RolesKey      = "operator_roles"
	ClaimsKey     = "claims"
)

// RequireAuth is a Gin middleware that validates JWT tokens on protected
// monitor endpoints
func RequireAuth(jwtManager *JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := middlewareTracer.Start(c.Request.Context(), "auth.require_auth")
		defer span.End()

		// Extract token from Authorization header
		token := c.GetHeader("Authorization")
		if token == "" {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Missing authorization header", Code: models.ErrCodeUnauthorized})
			c.Abort()
			return
		}

		// Remove "Bearer " prefix
		const prefix = "Bearer "
		if len(token) < len(prefix) || !strings.HasPrefix(token, prefix) {
			span.SetAttributes(attribute.Bool("auth.token_present", false))
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid authorization header format", Code: models.ErrCodeUnauthorized})
			c.Abort()
			return
		}

		token = strings.TrimSpace(token[len(prefix):])
		span.SetAttributes(attribute.Bool("auth.token_present", true))

		// Validate token
		claims, err := jwtManager.ValidateToken(ctx, token)
		if err != nil {
			span.RecordError(err)
			span.SetAttributes(attribute.Bool("auth.token_valid", false))
			log.Printf(`{"level":"warn","message":"Invalid token","error":"%v"}`, err)
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid or expired token", Code: models.ErrCodeUnauthorized})
			c.Abort()
			return
		}

		span.SetAttributes(
			attribute.Bool("auth.token_valid", true),
			attribute.String("operator.id", claims.OperatorID),
			attribute.String("operator.email", claims.Email),
		)

		// Attach operator context to Gin context
		c.Set(OperatorIDKey, claims.OperatorID)
		c.Set(EmailKey, claims.Email)
		c.Set(RolesKey, claims.Roles)
		c.Set(ClaimsKey, claims)

		// Log successful authentication
		log.Printf(`{"level":"info","message":"Operator authenticated","operator_id":"%s","email":"%s","path":"%s","method":"%s"}`,
			claims.OperatorID, claims.Email, c.Request.URL.Path, c.Request.Method)

		c.Next()
	}
}

// RequireRole is a Gin middleware that checks if the authenticated operator
// has the required role. Must be used after RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := middlewareTracer.Start(c.Request.Context(), "auth.require_role")
		defer span.End()

		span.SetAttributes(attribute.String("required.role", role))

		rolesValue, exists := c.Get(RolesKey)
		if !exists {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Operator roles not found", Code: models.ErrCodeForbidden})
			c.Abort()
			return
		}

		roles, ok := rolesValue.([]string)
		if !ok {
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Invalid operator roles", Code: models.ErrCodeForbidden})
			c.Abort()
			return
		}

		hasRole := false
		for _, operatorRole := range roles {
			if operatorRole == role {
				hasRole = true
				break
			}
		}

		if !hasRole {
			operatorID, _ := c.Get(OperatorIDKey)
			span.SetAttributes(attribute.Bool("auth.role_authorized", false))
			log.Printf(`{"level":"warn","message":"Insufficient permissions","operator_id":"%v","required_role":"%s"}`,
				operatorID, role)
			c.JSON(http.StatusForbidden, models.ErrorResponse{Error: "Insufficient permissions", Code: models.ErrCodeForbidden})
			c.Abort()
			return
		}

		span.SetAttributes(attribute.Bool("auth.role_authorized", true))
		c.Next()
	}
}
