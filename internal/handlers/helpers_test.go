package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAdminContext adds admin claims to the request context
func WithAdminContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{UserID: userID, Role: models.RoleAdmin, Type: "access"}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

// WithURLParams attaches chi route parameters to the request
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockUploadProcessor implements UploadProcessor for testing
type MockUploadProcessor struct {
	ProcessFunc func(ctx context.Context, in filesecurity.Upload, opts filesecurity.Options) (*models.UploadResult, error)
	Last        *filesecurity.Upload
	LastOpts    filesecurity.Options
}

func (m *MockUploadProcessor) ProcessFileUpload(ctx context.Context, in filesecurity.Upload, opts filesecurity.Options) (*models.UploadResult, error) {
	m.Last = &in
	m.LastOpts = opts
	if m.ProcessFunc == nil {
		return &models.UploadResult{
			FileName:       in.FileName,
			FileHash:       filesecurity.HashBytes(in.Data),
			SecurityStatus: models.SecurityStatusSafe,
			FinalAction:    models.FinalActionApproved,
		}, nil
	}
	return m.ProcessFunc(ctx, in, opts)
}

// MockAuditReader implements AuditReader for testing
type MockAuditReader struct {
	QueryLogsFunc func(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error)
	ActivityFunc  func(ctx context.Context, userID string, days int) (*models.UserActivity, error)
	MetricsFunc   func(ctx context.Context, hours int) (*models.SecurityMetrics, error)
	ExportFunc    func(ctx context.Context, w io.Writer, req services.ExportRequest) (int, error)
	LastQuery     models.AuditQuery
	LastExport    services.ExportRequest
}

func (m *MockAuditReader) QueryLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	m.LastQuery = q
	if m.QueryLogsFunc == nil {
		return []models.AuditLogEntry{}, nil
	}
	return m.QueryLogsFunc(ctx, q)
}

func (m *MockAuditReader) GetUserActivity(ctx context.Context, userID string, days int) (*models.UserActivity, error) {
	if m.ActivityFunc == nil {
		return &models.UserActivity{UserID: userID, PeriodDays: days}, nil
	}
	return m.ActivityFunc(ctx, userID, days)
}

func (m *MockAuditReader) GetSecurityMetrics(ctx context.Context, hours int) (*models.SecurityMetrics, error) {
	if m.MetricsFunc == nil {
		return &models.SecurityMetrics{PeriodHours: hours}, nil
	}
	return m.MetricsFunc(ctx, hours)
}

func (m *MockAuditReader) ExportAuditLog(ctx context.Context, w io.Writer, req services.ExportRequest) (int, error) {
	m.LastExport = req
	if m.ExportFunc == nil {
		_, err := w.Write([]byte(`{"events":[]}`))
		return 0, err
	}
	return m.ExportFunc(ctx, w, req)
}
