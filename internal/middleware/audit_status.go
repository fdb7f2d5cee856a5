package middleware

import (
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	chimw "github.com/go-chi/chi/v5/middleware"
)

var statusEvents = map[int]models.AuditEvent{
	http.StatusUnauthorized:    models.EventUnauthorizedAccess,
	http.StatusForbidden:       models.EventForbiddenAccess,
	http.StatusTooManyRequests: models.EventRateLimitExceeded,
}

// AuditStatus records an audit event for every 401, 403 and 429 response.
func AuditStatus(audit services.AuditRecorder, ipConfig *pkghttp.IPConfig) func(http.Handler) http.Handler {
	auditor := requestAuditor{audit: audit, ipConfig: ipConfig}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(wrapped, r)

			if event, ok := statusEvents[wrapped.Status()]; ok {
				auditor.log(r, event, map[string]interface{}{"status_code": wrapped.Status()})
			}
		})
	}
}
