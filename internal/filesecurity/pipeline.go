package filesecurity

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
)

// Processing step names recorded in UploadResult.ProcessingSteps.
const (
	StepValidation      = "validation"
	StepVirusScan       = "virus_scan"
	StepThreatDetection = "threat_detection"
	StepQuarantine      = "quarantine"
	StepSanitization    = "sanitization"
)

// Upload is one untrusted file and the request it arrived on.
type Upload struct {
	FileName  string
	Data      []byte
	UserID    string
	SessionID string
	IPAddress string
	UserAgent string
	RequestID string
}

// Options controls the optional sanitization stage.
type Options struct {
	Sanitize bool
	Level    models.SanitizationLevel
}

// Pipeline runs validation, virus scanning and threat detection in order,
// quarantining at the first unsafe verdict, then sanitizes what survives.
type Pipeline struct {
	validator  *Validator
	scanner    *VirusScanner
	detector   *ThreatDetector
	quarantine *QuarantineManager
	sanitizer  *Sanitizer
	audit      services.AuditRecorder
	logger     *slog.Logger
}

// NewPipeline creates a new Pipeline
func NewPipeline(validator *Validator, scanner *VirusScanner, detector *ThreatDetector, quarantine *QuarantineManager, sanitizer *Sanitizer, audit services.AuditRecorder, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		validator:  validator,
		scanner:    scanner,
		detector:   detector,
		quarantine: quarantine,
		sanitizer:  sanitizer,
		audit:      audit,
		logger:     logger,
	}
}

// upload carries per-call state through the stages.
type upload struct {
	Upload
	result *models.UploadResult
}

func (p *Pipeline) event(ctx context.Context, u *upload, event models.AuditEvent, severity models.AuditSeverity, details map[string]interface{}) {
	details["file_name"] = u.FileName
	details["file_hash"] = u.result.FileHash
	p.audit.LogEvent(ctx, models.AuditEventParams{
		Event:     event,
		Severity:  severity,
		UserID:    u.UserID,
		SessionID: u.SessionID,
		IPAddress: u.IPAddress,
		UserAgent: u.UserAgent,
		RequestID: u.RequestID,
		Details:   details,
	})
}

// ProcessFileUpload triages an upload. The returned result is always
// populated; a non-nil error means an infrastructure failure, in which case
// the upload is blocked. SanitizedContent holds the bytes to accept when the
// final action is approved or review.
func (p *Pipeline) ProcessFileUpload(ctx context.Context, in Upload, opts Options) (*models.UploadResult, error) {
	u := &upload{
		Upload: in,
		result: &models.UploadResult{
			FileName:        in.FileName,
			FileHash:        HashBytes(in.Data),
			UserID:          in.UserID,
			SessionID:       in.SessionID,
			ProcessingSteps: []string{},
		},
	}

	err := p.run(ctx, u, opts)
	if err != nil {
		u.result.SecurityStatus = models.SecurityStatusError
		u.result.FinalAction = models.FinalActionBlocked
		u.result.SanitizedContent = nil
		p.logger.ErrorContext(ctx, "file security processing failed",
			slog.String("file_hash", u.result.FileHash),
			slog.String("error", err.Error()))
		p.event(context.WithoutCancel(ctx), u, models.EventSystemError, models.AuditSeverityError, map[string]interface{}{
			"step":  "security_processing",
			"error": err.Error(),
		})
	}

	p.event(context.WithoutCancel(ctx), u, models.EventFileUploaded, "", map[string]interface{}{
		"file_size":        len(in.Data),
		"processing_steps": u.result.ProcessingSteps,
		"security_status":  u.result.SecurityStatus,
		"final_action":     u.result.FinalAction,
		"quarantine_id":    u.result.QuarantineID,
	})
	metrics.UploadsProcessed.WithLabelValues(u.result.FinalAction).Inc()

	p.logger.InfoContext(ctx, "file security processing completed",
		slog.String("file_hash", u.result.FileHash),
		slog.String("security_status", u.result.SecurityStatus),
		slog.String("final_action", u.result.FinalAction),
		slog.Any("steps", u.result.ProcessingSteps))

	return u.result, err
}

func (p *Pipeline) run(ctx context.Context, u *upload, opts Options) error {
	res := u.result

	validation := p.validator.Validate(ctx, u.FileName, u.Data)
	res.Validation = validation
	res.ProcessingSteps = append(res.ProcessingSteps, StepValidation)
	p.event(ctx, u, models.EventFileValidated, validationSeverity(validation), map[string]interface{}{
		"status":         string(validation.Status),
		"security_score": validation.SecurityScore,
		"findings":       findingCodes(validation),
		"detected_type":  string(validation.DetectedType),
	})

	switch {
	case validation.Status == models.ValidationInvalid:
		if err := p.isolate(ctx, u, models.QuarantineValidationFailed, validationDetails(validation)); err != nil {
			return err
		}
		res.SecurityStatus = models.SecurityStatusRejected
		res.FinalAction = models.FinalActionBlocked
		p.event(ctx, u, models.EventMalwareBlocked, "", map[string]interface{}{
			"stage":         StepValidation,
			"quarantine_id": res.QuarantineID,
		})
		return nil
	case validation.HasSeverity(models.SeverityHigh):
		return p.isolate(ctx, u, models.QuarantineValidationFailed, validationDetails(validation))
	}

	scan := p.scanner.Scan(ctx, u.FileName, u.Data)
	res.VirusScan = scan
	res.ProcessingSteps = append(res.ProcessingSteps, StepVirusScan)
	p.event(ctx, u, models.EventFileScanned, scanSeverity(scan), map[string]interface{}{
		"status":       string(scan.Status),
		"engines_used": scan.EnginesUsed,
		"confidence":   scan.Confidence,
		"cached":       scan.Cached,
	})

	switch scan.Status {
	case models.ScanInfected, models.ScanSuspicious:
		reason := models.QuarantineVirusDetected
		if scan.Status == models.ScanSuspicious {
			reason = models.QuarantineSuspiciousContent
		}
		if err := p.isolate(ctx, u, reason, scanDetails(scan)); err != nil {
			return err
		}
		p.event(ctx, u, models.EventVirusFound, "", map[string]interface{}{
			"threats":       threatNames(scan),
			"confidence":    scan.Confidence,
			"quarantine_id": res.QuarantineID,
		})
		return nil
	case models.ScanError:
		// Indeterminate: hold for manual review rather than approve.
		if err := p.isolate(ctx, u, models.QuarantineUnknownThreat, scanDetails(scan)); err != nil {
			return err
		}
		res.SecurityStatus = models.SecurityStatusReview
		res.FinalAction = models.FinalActionReview
		return nil
	}

	detection, err := p.detector.Analyze(ctx, AnalysisRequest{
		FileName:   u.FileName,
		Data:       u.Data,
		FileHash:   res.FileHash,
		Validation: validation,
		UserID:     u.UserID,
		SessionID:  u.SessionID,
	})
	if err != nil {
		return fmt.Errorf("threat detection: %w", err)
	}
	res.ThreatDetection = detection
	res.ProcessingSteps = append(res.ProcessingSteps, StepThreatDetection)
	p.event(ctx, u, models.EventThreatDetected, detectionSeverity(detection), map[string]interface{}{
		"detection_id": detection.DetectionID,
		"severity":     string(detection.Severity),
		"threat_type":  string(detection.ThreatType),
		"confidence":   detection.Confidence,
		"risk_score":   detection.RiskScore,
		"indicators":   len(detection.Indicators),
		"intel_match":  detection.IntelMatch,
	})

	if detection.Severity == models.SeverityHigh || detection.Severity == models.SeverityCritical {
		reason := models.QuarantineMalwareDetected
		if detection.IntelMatch {
			reason = models.QuarantineThreatIntelligence
		}
		if err := p.isolate(ctx, u, reason, detectionDetails(detection)); err != nil {
			return err
		}
		if detection.HasAction(models.ActionBlock) {
			p.event(ctx, u, models.EventMalwareBlocked, "", map[string]interface{}{
				"stage":         StepThreatDetection,
				"quarantine_id": res.QuarantineID,
				"detection_id":  detection.DetectionID,
			})
		}
		return nil
	}

	res.SanitizedContent = u.Data
	sanitizedOK := true
	if opts.Sanitize && validation.Status == models.ValidationValid {
		out, sanitized := p.sanitizer.Sanitize(ctx, validation.DetectedType, u.Data, opts.Level)
		res.Sanitization = sanitized
		res.ProcessingSteps = append(res.ProcessingSteps, StepSanitization)
		res.SanitizedContent = out
		sanitizedOK = sanitized.Success
		p.event(ctx, u, models.EventFileSanitized, "", map[string]interface{}{
			"success":         sanitized.Success,
			"level":           string(sanitized.Level),
			"actions":         sanitized.ActionsTaken,
			"threats_removed": sanitized.ThreatsRemoved,
			"sanitized_size":  sanitized.SanitizedSize,
		})
	}

	if validation.Status == models.ValidationValid && scan.Status == models.ScanClean &&
		detection.Severity == models.SeverityLow && sanitizedOK {
		res.SecurityStatus = models.SecurityStatusSafe
		res.FinalAction = models.FinalActionApproved
	} else {
		res.SecurityStatus = models.SecurityStatusReview
		res.FinalAction = models.FinalActionReview
	}
	return nil
}

// isolate quarantines the upload and marks the result quarantined.
func (p *Pipeline) isolate(ctx context.Context, u *upload, reason models.QuarantineReason, details map[string]interface{}) error {
	record, err := p.quarantine.Quarantine(ctx, QuarantineRequest{
		Data:          u.Data,
		FileName:      u.FileName,
		Reason:        reason,
		UserID:        u.UserID,
		SessionID:     u.SessionID,
		ThreatDetails: details,
	})
	if err != nil {
		return fmt.Errorf("quarantine: %w", err)
	}
	u.result.ProcessingSteps = append(u.result.ProcessingSteps, StepQuarantine)
	u.result.QuarantineID = record.QuarantineID
	u.result.SecurityStatus = models.SecurityStatusQuarantined
	u.result.FinalAction = models.FinalActionQuarantined
	return nil
}

func findingCodes(v *models.ValidationResult) []string {
	codes := make([]string, 0, len(v.Findings))
	for _, f := range v.Findings {
		codes = append(codes, f.Code)
	}
	return codes
}

func threatNames(s *models.ScanResult) []string {
	names := make([]string, 0, len(s.Threats))
	for _, t := range s.Threats {
		names = append(names, t.Name)
	}
	return names
}

func validationDetails(v *models.ValidationResult) map[string]interface{} {
	return map[string]interface{}{
		"stage":          StepValidation,
		"findings":       findingCodes(v),
		"security_score": v.SecurityScore,
		"detected_type":  string(v.DetectedType),
	}
}

func scanDetails(s *models.ScanResult) map[string]interface{} {
	return map[string]interface{}{
		"stage":        StepVirusScan,
		"status":       string(s.Status),
		"threats":      threatNames(s),
		"engines_used": s.EnginesUsed,
		"confidence":   s.Confidence,
	}
}

func detectionDetails(d *models.ThreatDetection) map[string]interface{} {
	return map[string]interface{}{
		"stage":        StepThreatDetection,
		"detection_id": d.DetectionID,
		"severity":     string(d.Severity),
		"threat_type":  string(d.ThreatType),
		"risk_score":   d.RiskScore,
		"intel_match":  d.IntelMatch,
	}
}

func validationSeverity(v *models.ValidationResult) models.AuditSeverity {
	switch v.Status {
	case models.ValidationInvalid:
		return models.AuditSeverityError
	case models.ValidationSuspicious:
		return models.AuditSeverityWarning
	}
	return models.AuditSeverityInfo
}

func scanSeverity(s *models.ScanResult) models.AuditSeverity {
	switch s.Status {
	case models.ScanInfected:
		return models.AuditSeverityCritical
	case models.ScanSuspicious, models.ScanError:
		return models.AuditSeverityWarning
	}
	return models.AuditSeverityInfo
}

func detectionSeverity(d *models.ThreatDetection) models.AuditSeverity {
	switch d.Severity {
	case models.SeverityCritical:
		return models.AuditSeverityCritical
	case models.SeverityHigh:
		return models.AuditSeverityError
	case models.SeverityMedium:
		return models.AuditSeverityWarning
	}
	return models.AuditSeverityInfo
}
