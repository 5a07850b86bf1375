package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/trailguard/audit-ledger/utils"
	"go.uber.org/zap"
)

// auditSecretHeader carries the shared secret for ingest requests
const auditSecretHeader = "X-Audit-Secret"

// IngestAuth authenticates audit ingest requests with a shared secret.
// Responses use the ingest envelope ({"ok": false, ...}) rather than the
// standard error shape so emitters can branch on a single field.
type IngestAuth struct {
	secret string
	logger *zap.Logger
}

// NewIngestAuth creates a new IngestAuth middleware
func NewIngestAuth(secret string, logger *zap.Logger) *IngestAuth {
	return &IngestAuth{
		secret: secret,
		logger: logger,
	}
}

// RequireSecret is a middleware that requires a valid X-Audit-Secret header.
// When no secret is configured the endpoint is disabled and returns 503.
func (m *IngestAuth) RequireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := GetRequestIDFromContext(r.Context())

		if m.secret == "" {
			m.logger.Warn("audit ingest secret not configured, rejecting request",
				zap.String("request_id", requestID))
			_ = utils.WriteJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"ok":      false,
				"message": "audit ingestion is not configured",
			})
			return
		}

		provided := r.Header.Get(auditSecretHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(m.secret)) != 1 {
			m.logger.Warn("audit ingest secret mismatch",
				zap.String("request_id", requestID))
			_ = utils.WriteJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"ok":    false,
				"error": "unauthorized",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
