package middleware

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
)

// RequestValidationConfig holds request validation settings
type RequestValidationConfig struct {
	MaxRequestSize int64
	// UploadPath may carry bodies up to MaxUploadSize instead.
	UploadPath    string
	MaxUploadSize int64
	IPConfig      *pkghttp.IPConfig
}

// DefaultRequestValidationConfig allows 10MB bodies and 100MB uploads.
func DefaultRequestValidationConfig() RequestValidationConfig {
	return RequestValidationConfig{
		MaxRequestSize: 10 * 1024 * 1024,
		UploadPath:     "/api/v1/uploads",
		MaxUploadSize:  100 * 1024 * 1024,
	}
}

var blockedContentTypes = map[string]bool{
	"text/html":                     true,
	"application/javascript":        true,
	"text/javascript":               true,
	"application/x-shockwave-flash": true,
}

var allowedAPIContentTypes = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
	"multipart/form-data":               true,
	"text/plain":                        true,
}

var sqlInjectionMarkers = []string{
	"union select", "drop table", "insert into", "delete from", "update set",
	"--", "/*", "*/", "xp_", "sp_",
	// quote tautologies such as 1' OR '1'='1
	"' or '", "'or'", "'='", "' or 1=1", "\" or \"", "\"=\"", " or 1=1",
}

var xssMarkers = []string{
	"<script", "javascript:", "onerror=", "onload=", "onclick=", "onmouseover=",
	"<iframe", "<object", "<embed",
}

var traversalMarkers = []string{"../", "..\\", "..%2f", "..%5c", "%2e%2e"}

// rejection is a failed check: Reason feeds the audit trail, Code the metrics.
type rejection struct {
	Code   string
	Reason string
}

// RequestValidation rejects requests with blocked content types, oversized
// or malformed bodies, and query strings or paths carrying injection or
// traversal markers. Rejections get a generic 400 so the client cannot tell
// which check fired.
func RequestValidation(config RequestValidationConfig, audit services.AuditRecorder, logger *slog.Logger) func(http.Handler) http.Handler {
	auditor := requestAuditor{audit: audit, ipConfig: config.IPConfig}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limit := config.MaxRequestSize
			if config.UploadPath != "" && strings.HasPrefix(r.URL.Path, config.UploadPath) && config.MaxUploadSize > limit {
				limit = config.MaxUploadSize
			}

			for _, check := range []func(*http.Request) *rejection{
				validateContentType,
				func(r *http.Request) *rejection { return validateRequestSize(r, limit) },
				checkSuspiciousPatterns,
			} {
				if rej := check(r); rej != nil {
					reject(w, r, auditor, logger, rej)
					return
				}
			}

			if limit > 0 && r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, r *http.Request, auditor requestAuditor, logger *slog.Logger, rej *rejection) {
	metrics.RequestsRejected.WithLabelValues(rej.Code).Inc()
	logger.WarnContext(r.Context(), "request rejected",
		slog.String("check", rej.Code),
		slog.String("reason", rej.Reason),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	auditor.log(r, models.EventSuspiciousRequest, map[string]interface{}{
		"reason": rej.Reason,
		"check":  rej.Code,
	})
	pkghttp.WriteBadRequest(w, "request rejected")
}

func validateContentType(r *http.Request) *rejection {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}

	raw := r.Header.Get("Content-Type")
	if raw == "" {
		return nil
	}
	contentType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		contentType = strings.ToLower(strings.TrimSpace(strings.Split(raw, ";")[0]))
	}

	if blockedContentTypes[contentType] {
		return &rejection{Code: "content_type", Reason: "blocked content type: " + contentType}
	}
	if strings.HasPrefix(r.URL.Path, "/api/") && !allowedAPIContentTypes[contentType] {
		return &rejection{Code: "content_type", Reason: "invalid content type: " + contentType}
	}
	return nil
}

func validateRequestSize(r *http.Request, limit int64) *rejection {
	size := r.ContentLength
	if raw := r.Header.Get("Content-Length"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			return &rejection{Code: "request_size", Reason: "invalid content-length header"}
		}
		size = parsed
	}
	if limit > 0 && size > limit {
		return &rejection{Code: "request_size", Reason: fmt.Sprintf("request too large: %d bytes", size)}
	}
	return nil
}

func checkSuspiciousPatterns(r *http.Request) *rejection {
	query := r.URL.RawQuery
	if decoded, err := url.QueryUnescape(query); err == nil {
		query = decoded
	}
	query = strings.ToLower(query)

	for _, marker := range sqlInjectionMarkers {
		if strings.Contains(query, marker) {
			return &rejection{Code: "sql_injection", Reason: "suspicious SQL pattern detected: " + marker}
		}
	}
	for _, marker := range xssMarkers {
		if strings.Contains(query, marker) {
			return &rejection{Code: "xss", Reason: "suspicious XSS pattern detected: " + marker}
		}
	}

	for _, path := range []string{strings.ToLower(r.URL.EscapedPath()), strings.ToLower(r.URL.Path)} {
		for _, marker := range traversalMarkers {
			if strings.Contains(path, marker) {
				return &rejection{Code: "path_traversal", Reason: "path traversal attempt detected"}
			}
		}
	}
	return nil
}
