package middleware

import (
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// requestAuditor records security events about the request being served.
type requestAuditor struct {
	audit    services.AuditRecorder
	ipConfig *pkghttp.IPConfig
}

func (a requestAuditor) log(r *http.Request, event models.AuditEvent, details map[string]interface{}) {
	if a.audit == nil {
		return
	}
	if details == nil {
		details = map[string]interface{}{}
	}
	details["path"] = r.URL.Path
	details["method"] = r.Method

	params := models.AuditEventParams{
		Event:     event,
		IPAddress: pkghttp.ExtractClientIP(r, a.ipConfig),
		UserAgent: r.UserAgent(),
		RequestID: chimw.GetReqID(r.Context()),
		Details:   details,
	}
	if claims := auth.GetUserFromContext(r); claims != nil {
		params.UserID = claims.UserID
	}
	a.audit.LogEvent(r.Context(), params)
}
