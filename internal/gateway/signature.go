package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/talentbase/quadro-integrator/internal/models"
	"github.com/talentbase/quadro-integrator/internal/monitor"
)

// SignatureHeader carries the HMAC of the exact request body bytes.
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// rawBodyKey is the gin context key holding the verified request body.
const rawBodyKey = "raw_body"

// ComputeSignature returns the sha256-prefixed hex HMAC of body.
func ComputeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header matches the HMAC of body. The
// comparison is constant-time.
func VerifySignature(secret, header string, body []byte) bool {
	expected := ComputeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(header))
}

// RequireSignature is a Gin middleware that rejects any delivery whose
// X-Webhook-Signature does not match the body's HMAC. Rejections are still
// recorded to the health monitor before the 401 goes out.
func RequireSignature(secret string, recorder Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "Failed to read request body", Code: models.ErrCodeInvalidRequest})
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		header := c.GetHeader(SignatureHeader)
		if header == "" || !VerifySignature(secret, header, body) {
			log.Printf(`{"level":"warn","message":"Webhook signature rejected","path":"%s","signature_present":%t}`, c.Request.URL.Path, header != "")
			if recorder != nil {
				if _, recErr := recorder.RecordEvent(c.Request.Context(), monitor.RecordEventInput{
					ServiceName:    WebhookService,
					EventType:      models.IntegrationEventReceived,
					Status:         models.IntegrationStatusFailure,
					ResponseTimeMs: 0,
					Error:          "invalid webhook signature",
				}); recErr != nil {
					log.Printf(`{"level":"error","message":"Failed to record signature rejection","error":"%v"}`, recErr)
				}
			}
			c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid webhook signature", Code: models.ErrCodeInvalidSignature})
			c.Abort()
			return
		}

		c.Set(rawBodyKey, body)
		c.Next()
	}
}
