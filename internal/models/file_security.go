package models

import "time"

// FileType is the detected format of an uploaded document.
type FileType string

const (
	FileTypePDF        FileType = "pdf"
	FileTypeDOCX       FileType = "docx"
	FileTypeDOC        FileType = "doc"
	FileTypePPTX       FileType = "pptx"
	FileTypePPT        FileType = "ppt"
	FileTypeXLSX       FileType = "xlsx"
	FileTypeTXT        FileType = "txt"
	FileTypeRTF        FileType = "rtf"
	FileTypeLaTeX      FileType = "latex"
	FileTypeTeX        FileType = "tex"
	FileTypeMarkdown   FileType = "markdown"
	FileTypeHTML       FileType = "html"
	FileTypeXML        FileType = "xml"
	FileTypePNG        FileType = "png"
	FileTypeJPEG       FileType = "jpeg"
	FileTypeGIF        FileType = "gif"
	FileTypeZIP        FileType = "zip"
	FileTypeOLE        FileType = "ole"
	FileTypeExecutable FileType = "executable"
	FileTypeUnknown    FileType = "unknown"
)

// IsImage reports whether t is a raster image format.
func (t FileType) IsImage() bool {
	return t == FileTypePNG || t == FileTypeJPEG || t == FileTypeGIF
}

// IsText reports whether t is a plain-text family format.
func (t FileType) IsText() bool {
	switch t {
	case FileTypeTXT, FileTypeLaTeX, FileTypeTeX, FileTypeMarkdown:
		return true
	}
	return false
}

// ValidationStatus is the verdict of the validation stage.
type ValidationStatus string

const (
	ValidationValid      ValidationStatus = "valid"
	ValidationSuspicious ValidationStatus = "suspicious"
	ValidationInvalid    ValidationStatus = "invalid"
)

// Finding codes emitted by the validator.
const (
	FindingEmptyFile             = "EMPTY_FILE"
	FindingFileTooLarge          = "FILE_TOO_LARGE"
	FindingBlockedExtension      = "BLOCKED_EXTENSION"
	FindingUnsupportedType       = "UNSUPPORTED_TYPE"
	FindingMagicMismatch         = "MAGIC_EXTENSION_MISMATCH"
	FindingHighEntropy           = "HIGH_ENTROPY"
	FindingSuspiciousContent     = "SUSPICIOUS_CONTENT"
	FindingPDFJavaScript         = "PDF_JAVASCRIPT"
	FindingPDFEmbeddedFile       = "PDF_EMBEDDED_FILE"
	FindingPDFAutoAction         = "PDF_AUTO_ACTION"
	FindingOfficeMacros          = "OFFICE_MACROS"
	FindingOfficeSuspiciousFiles = "OFFICE_SUSPICIOUS_FILES"
	FindingOfficeCorrupt         = "OFFICE_CORRUPT_ARCHIVE"
	FindingTextNullBytes         = "TEXT_NULL_BYTES"
	FindingPolyglot              = "POLYGLOT_FILE"
	FindingPossibleSteganography = "POSSIBLE_STEGANOGRAPHY"
)

// ValidationFinding is one accumulated issue.
type ValidationFinding struct {
	Code     string                 `json:"code"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// ValidationResult is the per-file output of the validator.
type ValidationResult struct {
	Status         ValidationStatus    `json:"status"`
	FileName       string              `json:"file_name"`
	FileSize       int64               `json:"file_size"`
	FileHash       string              `json:"file_hash"`
	DeclaredType   FileType            `json:"declared_type"`
	DetectedType   FileType            `json:"detected_type"`
	DetectedMIME   string              `json:"detected_mime"`
	Entropy        float64             `json:"entropy"`
	PrintableRatio float64             `json:"printable_ratio"`
	SecurityScore  float64             `json:"security_score"`
	Findings       []ValidationFinding `json:"findings"`
	ValidatedAt    time.Time           `json:"validated_at"`
}

// HasSeverity reports whether any finding is at least sev.
func (r *ValidationResult) HasSeverity(sev Severity) bool {
	for _, f := range r.Findings {
		if f.Severity.Rank() >= sev.Rank() {
			return true
		}
	}
	return false
}

// HasFinding reports whether a finding with the given code exists.
func (r *ValidationResult) HasFinding(code string) bool {
	for _, f := range r.Findings {
		if f.Code == code {
			return true
		}
	}
	return false
}

// ScanStatus is the aggregated virus-scan verdict.
type ScanStatus string

const (
	ScanClean      ScanStatus = "clean"
	ScanInfected   ScanStatus = "infected"
	ScanSuspicious ScanStatus = "suspicious"
	ScanError      ScanStatus = "error"
)

// ThreatType classifies malicious content.
type ThreatType string

const (
	ThreatVirus              ThreatType = "virus"
	ThreatTrojan             ThreatType = "trojan"
	ThreatWorm               ThreatType = "worm"
	ThreatRansomware         ThreatType = "ransomware"
	ThreatRootkit            ThreatType = "rootkit"
	ThreatSpyware            ThreatType = "spyware"
	ThreatAdware             ThreatType = "adware"
	ThreatMalware            ThreatType = "malware"
	ThreatSuspiciousBehavior ThreatType = "suspicious_behavior"
	ThreatUnknown            ThreatType = "unknown"
)

// DetectedThreat is a named detection from one engine.
type DetectedThreat struct {
	Name       string     `json:"name"`
	Type       ThreatType `json:"type"`
	Engine     string     `json:"engine"`
	Confidence float64    `json:"confidence"`
}

// EngineResult is the verdict of a single scan engine.
type EngineResult struct {
	Engine   string           `json:"engine"`
	Status   ScanStatus       `json:"status"`
	Threats  []DetectedThreat `json:"threats,omitempty"`
	Duration time.Duration    `json:"duration"`
	Error    string           `json:"error,omitempty"`
}

// ScanResult aggregates every engine's verdict for one file.
type ScanResult struct {
	Status        ScanStatus       `json:"status"`
	FileHash      string           `json:"file_hash"`
	Threats       []DetectedThreat `json:"threats"`
	EnginesUsed   []string         `json:"engines_used"`
	EngineResults []EngineResult   `json:"engine_results"`
	Confidence    float64          `json:"confidence"`
	ScanDuration  time.Duration    `json:"scan_duration"`
	ScannedAt     time.Time        `json:"scanned_at"`
	Cached        bool             `json:"cached"`
}

// DetectionSource identifies where a threat indicator came from.
type DetectionSource string

const (
	SourceThreatIntelligence DetectionSource = "threat_intelligence"
	SourceMLModel            DetectionSource = "ml_model"
	SourceSignature          DetectionSource = "signature"
	SourceSandbox            DetectionSource = "sandbox"
	SourceHeuristic          DetectionSource = "heuristic"
	SourceBehavioral         DetectionSource = "behavioral"
	SourceUserReport         DetectionSource = "user_report"
)

// ThreatIndicator is one piece of evidence contributing to a detection.
type ThreatIndicator struct {
	Source      DetectionSource `json:"source"`
	Type        ThreatType      `json:"type"`
	Confidence  float64         `json:"confidence"`
	Description string          `json:"description"`
	Rule        string          `json:"rule,omitempty"`
	Family      string          `json:"family,omitempty"`
}

// ResponseAction is a recommended reaction to a detection.
type ResponseAction string

const (
	ActionLog         ResponseAction = "log"
	ActionAlert       ResponseAction = "alert"
	ActionQuarantine  ResponseAction = "quarantine"
	ActionBlock       ResponseAction = "block"
	ActionNotifyAdmin ResponseAction = "notify_admin"
	ActionIsolateUser ResponseAction = "isolate_user"
	ActionScanSystem  ResponseAction = "scan_system"
)

// ThreatDetection is the combined verdict of the threat detector.
type ThreatDetection struct {
	DetectionID string            `json:"detection_id"`
	FileHash    string            `json:"file_hash"`
	Severity    Severity          `json:"severity"`
	ThreatType  ThreatType        `json:"threat_type"`
	Confidence  float64           `json:"confidence"`
	RiskScore   float64           `json:"risk_score"`
	Indicators  []ThreatIndicator `json:"indicators"`
	Actions     []ResponseAction  `json:"actions"`
	IntelMatch  bool              `json:"intel_match"`
	AutoRespond bool              `json:"auto_respond"`
	DetectedAt  time.Time         `json:"detected_at"`
	Cached      bool              `json:"cached"`
}

// HasAction reports whether a is among the recommended actions.
func (d *ThreatDetection) HasAction(a ResponseAction) bool {
	for _, act := range d.Actions {
		if act == a {
			return true
		}
	}
	return false
}

// QuarantineReason explains why a file was isolated.
type QuarantineReason string

const (
	QuarantineVirusDetected      QuarantineReason = "virus_detected"
	QuarantineMalwareDetected    QuarantineReason = "malware_detected"
	QuarantineSuspiciousContent  QuarantineReason = "suspicious_content"
	QuarantineValidationFailed   QuarantineReason = "validation_failed"
	QuarantinePolicyViolation    QuarantineReason = "policy_violation"
	QuarantineManual             QuarantineReason = "manual_quarantine"
	QuarantineThreatIntelligence QuarantineReason = "threat_intelligence"
	QuarantineUnknownThreat      QuarantineReason = "unknown_threat"
)

// QuarantineStatus tracks a record's lifecycle.
type QuarantineStatus string

const (
	QuarantineStatusQuarantined   QuarantineStatus = "quarantined"
	QuarantineStatusUnderAnalysis QuarantineStatus = "under_analysis"
	QuarantineStatusReleased      QuarantineStatus = "released"
	QuarantineStatusDeleted       QuarantineStatus = "permanently_deleted"
	QuarantineStatusExpired       QuarantineStatus = "expired"
)

// QuarantineRecord is dual-written to the store and the filesystem.
type QuarantineRecord struct {
	QuarantineID    string                 `json:"quarantine_id"`
	OriginalPath    string                 `json:"original_path"`
	OriginalName    string                 `json:"original_name"`
	QuarantinePath  string                 `json:"quarantine_path"`
	FileHash        string                 `json:"file_hash"`
	FileSize        int64                  `json:"file_size"`
	StoredSize      int64                  `json:"stored_size"`
	Reason          QuarantineReason       `json:"quarantine_reason"`
	Status          QuarantineStatus       `json:"status"`
	UserID          string                 `json:"user_id,omitempty"`
	QuarantinedAt   time.Time              `json:"quarantined_at"`
	RetentionUntil  time.Time              `json:"retention_until"`
	Encrypted       bool                   `json:"encrypted"`
	Compressed      bool                   `json:"compressed"`
	ThreatDetails   map[string]interface{} `json:"threat_details,omitempty"`
	AnalysisResults map[string]interface{} `json:"analysis_results,omitempty"`
	ReleasedAt      *time.Time             `json:"released_at,omitempty"`
	ReleasedBy      string                 `json:"released_by,omitempty"`
	DeletedAt       *time.Time             `json:"deleted_at,omitempty"`
	DeletedBy       string                 `json:"deleted_by,omitempty"`
	MirrorKey       string                 `json:"mirror_key,omitempty"`
}

// QuarantineStats summarizes the quarantine store.
type QuarantineStats struct {
	TotalRecords int                      `json:"total_records"`
	TotalBytes   int64                    `json:"total_bytes"`
	ByStatus     map[QuarantineStatus]int `json:"by_status"`
	ByReason     map[QuarantineReason]int `json:"by_reason"`
	MaxBytes     int64                    `json:"max_bytes"`
	Oldest       *time.Time               `json:"oldest_quarantine,omitempty"`
	Newest       *time.Time               `json:"newest_quarantine,omitempty"`
}

// SanitizationLevel controls how aggressive the sanitizer is.
type SanitizationLevel string

const (
	SanitizeBasic    SanitizationLevel = "basic"
	SanitizeStandard SanitizationLevel = "standard"
	SanitizeStrict   SanitizationLevel = "strict"
	SanitizeParanoid SanitizationLevel = "paranoid"
)

// Rank orders levels from 0 (basic) to 3 (paranoid); unknown values rank -1.
func (l SanitizationLevel) Rank() int {
	switch l {
	case SanitizeBasic:
		return 0
	case SanitizeStandard:
		return 1
	case SanitizeStrict:
		return 2
	case SanitizeParanoid:
		return 3
	}
	return -1
}

// SanitizationResult reports what the sanitizer changed.
type SanitizationResult struct {
	Success        bool              `json:"success"`
	Level          SanitizationLevel `json:"level"`
	FileType       FileType          `json:"file_type"`
	OriginalSize   int64             `json:"original_size"`
	SanitizedSize  int64             `json:"sanitized_size"`
	ActionsTaken   []string          `json:"actions_taken"`
	ThreatsRemoved int               `json:"threats_removed"`
	Warnings       []string          `json:"warnings,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// Upload security statuses and final actions.
const (
	SecurityStatusSafe        = "safe"
	SecurityStatusReview      = "review"
	SecurityStatusRejected    = "rejected"
	SecurityStatusQuarantined = "quarantined"
	SecurityStatusError       = "error"

	FinalActionApproved    = "approved"
	FinalActionReview      = "review"
	FinalActionBlocked     = "blocked"
	FinalActionQuarantined = "quarantined"
)

// UploadResult is returned by the file threat pipeline.
type UploadResult struct {
	FileName         string              `json:"file_name"`
	FileHash         string              `json:"file_hash"`
	UserID           string              `json:"user_id"`
	SessionID        string              `json:"session_id,omitempty"`
	ProcessingSteps  []string            `json:"processing_steps"`
	SecurityStatus   string              `json:"security_status"`
	FinalAction      string              `json:"final_action"`
	QuarantineID     string              `json:"quarantine_id,omitempty"`
	Validation       *ValidationResult   `json:"validation,omitempty"`
	VirusScan        *ScanResult         `json:"virus_scan,omitempty"`
	ThreatDetection  *ThreatDetection    `json:"threat_detection,omitempty"`
	Sanitization     *SanitizationResult `json:"sanitization,omitempty"`
	SanitizedContent []byte              `json:"-"`
}
