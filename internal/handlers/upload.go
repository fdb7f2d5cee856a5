package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/auth"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/middleware"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkghttp "github.com/basanta2029/slidegenie-backend-sub001/pkg/http"
)

const multipartMemory = 32 << 20

// UploadProcessor runs an upload through the file threat pipeline.
// *filesecurity.Pipeline satisfies it.
type UploadProcessor interface {
	ProcessFileUpload(ctx context.Context, in filesecurity.Upload, opts filesecurity.Options) (*models.UploadResult, error)
}

// UploadHandler accepts file uploads
type UploadHandler struct {
	pipeline UploadProcessor
	maxSize  int64
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewUploadHandler creates a new UploadHandler
func NewUploadHandler(pipeline UploadProcessor, maxSize int64, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, maxSize: maxSize, ipConfig: ipConfig, logger: logger}
}

// uploadForm holds the non-file multipart fields
type uploadForm struct {
	Sanitize string `param:"sanitize" validate:"omitempty,oneof=true false 1 0"`
	Level    string `param:"level" validate:"omitempty,oneof=basic standard strict paranoid"`
}

// UploadResponse is the client view of a processed upload. Which check
// fired is deliberately absent.
type UploadResponse struct {
	FileName     string `json:"file_name"`
	FileHash     string `json:"file_hash"`
	Status       string `json:"status"`
	Action       string `json:"action"`
	QuarantineID string `json:"quarantine_id,omitempty"`
	Sanitized    bool   `json:"sanitized"`
	Content      string `json:"content,omitempty"`
}

// Upload handles POST /api/v1/uploads
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size")
			return
		}
		pkghttp.WriteBadRequest(w, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	form := uploadForm{Sanitize: r.FormValue("sanitize"), Level: r.FormValue("level")}
	if err := ValidateRequest(form); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		pkghttp.WriteBadRequest(w, "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxSize+1))
	if err != nil {
		pkghttp.WriteBadRequest(w, "could not read uploaded file")
		return
	}
	if int64(len(data)) > h.maxSize {
		pkghttp.WriteError(w, http.StatusRequestEntityTooLarge, "file_too_large", "file exceeds maximum size")
		return
	}

	in := filesecurity.Upload{
		FileName:  header.Filename,
		Data:      data,
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.UserAgent(),
		RequestID: middleware.GetRequestID(r.Context()),
	}
	if claims := auth.GetUserFromContext(r); claims != nil {
		in.UserID = claims.UserID
		in.SessionID = claims.ID
	}
	opts := filesecurity.Options{
		Sanitize: form.Sanitize == "true" || form.Sanitize == "1",
		Level:    models.SanitizationLevel(form.Level),
	}

	result, err := h.pipeline.ProcessFileUpload(r.Context(), in, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "upload processing failed",
			slog.String("file_name", header.Filename),
			slog.String("error", err.Error()))
		pkghttp.WriteInternalError(w, "upload processing failed")
		return
	}

	resp := UploadResponse{
		FileName:     result.FileName,
		FileHash:     result.FileHash,
		Status:       result.SecurityStatus,
		Action:       result.FinalAction,
		QuarantineID: result.QuarantineID,
	}
	if result.FinalAction == models.FinalActionApproved && result.Sanitization != nil {
		resp.Sanitized = true
		resp.Content = base64.StdEncoding.EncodeToString(result.SanitizedContent)
	}
	pkghttp.WriteJSON(w, uploadStatus(result.FinalAction), resp)
}

func uploadStatus(action string) int {
	switch action {
	case models.FinalActionApproved:
		return http.StatusOK
	case models.FinalActionReview:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}
