package filesecurity

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/gabriel-vasile/mimetype"
)

const (
	contentWindow   = 1 << 20
	polyglotWindow  = 4096
	textWindow      = 8192
	entropyLimit    = 7.5
	imageEntropyMax = 7.0
)

// ValidatorConfig holds the validation policy
type ValidatorConfig struct {
	MaxFileSize       int64
	AllowedTypes      map[models.FileType]bool
	BlockedExtensions map[string]bool
}

// DefaultValidatorConfig accepts presentation source documents up to 100MB.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxFileSize: 100 * 1024 * 1024,
		AllowedTypes: map[models.FileType]bool{
			models.FileTypePDF:      true,
			models.FileTypeDOCX:     true,
			models.FileTypeDOC:      true,
			models.FileTypePPTX:     true,
			models.FileTypePPT:      true,
			models.FileTypeTXT:      true,
			models.FileTypeRTF:      true,
			models.FileTypeLaTeX:    true,
			models.FileTypeTeX:      true,
			models.FileTypeMarkdown: true,
		},
		BlockedExtensions: map[string]bool{
			".exe": true, ".bat": true, ".cmd": true, ".com": true, ".scr": true,
			".pif": true, ".vbs": true, ".js": true, ".jar": true, ".msi": true,
			".deb": true, ".rpm": true, ".dmg": true,
		},
	}
}

type signature struct {
	magic    []byte
	fileType models.FileType
}

// Longer signatures first so a short prefix never shadows a longer one.
var signatures = []signature{
	{[]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, models.FileTypePNG},
	{[]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, models.FileTypeOLE},
	{[]byte(`{\rtf`), models.FileTypeRTF},
	{[]byte("%PDF"), models.FileTypePDF},
	{[]byte{'P', 'K', 0x03, 0x04}, models.FileTypeZIP},
	{[]byte("GIF8"), models.FileTypeGIF},
	{[]byte{0xFF, 0xD8, 0xFF}, models.FileTypeJPEG},
	{[]byte{0xEF, 0xBB, 0xBF}, models.FileTypeTXT},
	{[]byte("MZ"), models.FileTypeExecutable},
	{[]byte{0xFF, 0xFE}, models.FileTypeTXT},
	{[]byte{0xFE, 0xFF}, models.FileTypeTXT},
}

var extensionTypes = map[string]models.FileType{
	".pdf":      models.FileTypePDF,
	".docx":     models.FileTypeDOCX,
	".doc":      models.FileTypeDOC,
	".pptx":     models.FileTypePPTX,
	".ppt":      models.FileTypePPT,
	".xlsx":     models.FileTypeXLSX,
	".txt":      models.FileTypeTXT,
	".rtf":      models.FileTypeRTF,
	".tex":      models.FileTypeTeX,
	".latex":    models.FileTypeLaTeX,
	".md":       models.FileTypeMarkdown,
	".markdown": models.FileTypeMarkdown,
	".html":     models.FileTypeHTML,
	".htm":      models.FileTypeHTML,
	".xml":      models.FileTypeXML,
	".png":      models.FileTypePNG,
	".jpg":      models.FileTypeJPEG,
	".jpeg":     models.FileTypeJPEG,
	".gif":      models.FileTypeGIF,
	".zip":      models.FileTypeZIP,
	".exe":      models.FileTypeExecutable,
	".dll":      models.FileTypeExecutable,
}

var suspiciousPatterns = [][]byte{
	[]byte("<script"),
	[]byte("javascript:"),
	[]byte("vbscript:"),
	[]byte("ActiveXObject"),
	[]byte("eval("),
	[]byte("document.write"),
	[]byte("innerHTML"),
	[]byte("exec("),
	[]byte("system("),
	[]byte("shell_exec"),
	[]byte("base64_decode"),
}

var severityPenalty = map[models.Severity]float64{
	models.SeverityLow:      0.1,
	models.SeverityMedium:   0.2,
	models.SeverityHigh:     0.4,
	models.SeverityCritical: 0.8,
}

// Validator sniffs and structurally inspects uploaded files. Findings are
// accumulated; nothing short-circuits.
type Validator struct {
	config ValidatorConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewValidator creates a new Validator
func NewValidator(config ValidatorConfig, logger *slog.Logger) *Validator {
	defaults := DefaultValidatorConfig()
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaults.MaxFileSize
	}
	if config.AllowedTypes == nil {
		config.AllowedTypes = defaults.AllowedTypes
	}
	if config.BlockedExtensions == nil {
		config.BlockedExtensions = defaults.BlockedExtensions
	}
	return &Validator{config: config, logger: logger, now: time.Now}
}

// TypeForExtension maps a file name to the type its extension claims.
func TypeForExtension(fileName string) models.FileType {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(fileName))]; ok {
		return t
	}
	return models.FileTypeUnknown
}

// HashBytes returns the hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate inspects data claimed to be fileName.
func (v *Validator) Validate(ctx context.Context, fileName string, data []byte) *models.ValidationResult {
	r := &models.ValidationResult{
		FileName:     fileName,
		FileSize:     int64(len(data)),
		FileHash:     HashBytes(data),
		DeclaredType: TypeForExtension(fileName),
		DetectedType: models.FileTypeUnknown,
		DetectedMIME: mimetype.Detect(data).String(),
		Findings:     []models.ValidationFinding{},
		ValidatedAt:  v.now().UTC(),
	}

	v.checkBasics(r, data)
	v.checkMagic(r, data)
	v.checkContent(r, data)
	v.checkStructure(r, data)
	v.checkPolyglot(r, data)
	v.checkSteganography(r, data)

	r.SecurityScore = securityScore(r.Findings)
	r.Status = finalStatus(r)

	v.logger.InfoContext(ctx, "file validated",
		slog.String("file_hash", r.FileHash),
		slog.String("detected_type", string(r.DetectedType)),
		slog.String("status", string(r.Status)),
		slog.Float64("security_score", r.SecurityScore),
		slog.Int("findings", len(r.Findings)))

	return r
}

func addFinding(r *models.ValidationResult, code string, sev models.Severity, msg string, details map[string]interface{}) {
	r.Findings = append(r.Findings, models.ValidationFinding{Code: code, Severity: sev, Message: msg, Details: details})
}

func (v *Validator) checkBasics(r *models.ValidationResult, data []byte) {
	if len(data) == 0 {
		addFinding(r, models.FindingEmptyFile, models.SeverityMedium, "file is empty", nil)
	}
	if int64(len(data)) > v.config.MaxFileSize {
		addFinding(r, models.FindingFileTooLarge, models.SeverityHigh,
			fmt.Sprintf("file size %d exceeds limit %d", len(data), v.config.MaxFileSize), nil)
	}
	ext := strings.ToLower(filepath.Ext(r.FileName))
	if v.config.BlockedExtensions[ext] {
		addFinding(r, models.FindingBlockedExtension, models.SeverityCritical,
			fmt.Sprintf("extension %q is blocked", ext), nil)
	}
}

func sniffSignature(data []byte) (models.FileType, bool) {
	for _, sig := range signatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.fileType, true
		}
	}
	return models.FileTypeUnknown, false
}

func (v *Validator) checkMagic(r *models.ValidationResult, data []byte) {
	detected, ok := sniffSignature(data)
	switch {
	case !ok:
		// Only signature-less formats may be taken at their extension's word
		textual := strings.HasPrefix(r.DetectedMIME, "text/")
		switch {
		case textual && (r.DeclaredType.IsText() || r.DeclaredType == models.FileTypeHTML || r.DeclaredType == models.FileTypeXML):
			detected = r.DeclaredType
		case textual:
			detected = models.FileTypeTXT
		}
	case detected == models.FileTypeZIP:
		if office := detectOfficeType(data); office != models.FileTypeUnknown {
			detected = office
		}
	case detected == models.FileTypeOLE:
		switch r.DeclaredType {
		case models.FileTypeDOC, models.FileTypePPT:
			detected = r.DeclaredType
		}
	case detected == models.FileTypeTXT && r.DeclaredType.IsText():
		detected = r.DeclaredType
	}
	r.DetectedType = detected

	if !v.config.AllowedTypes[detected] {
		addFinding(r, models.FindingUnsupportedType, models.SeverityHigh,
			fmt.Sprintf("file type %q is not allowed", detected), nil)
	}

	declared := r.DeclaredType
	if declared != models.FileTypeUnknown && declared != detected && !(declared.IsText() && detected.IsText()) {
		addFinding(r, models.FindingMagicMismatch, models.SeverityMedium,
			fmt.Sprintf("content is %q but extension claims %q", detected, declared),
			map[string]interface{}{"detected": string(detected), "declared": string(declared)})
	}
}

// detectOfficeType disambiguates OOXML containers by their part names.
func detectOfficeType(data []byte) models.FileType {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return models.FileTypeUnknown
	}

	var contentTypes *zip.File
	for _, f := range zr.File {
		switch {
		case strings.HasPrefix(f.Name, "word/"):
			return models.FileTypeDOCX
		case strings.HasPrefix(f.Name, "ppt/"):
			return models.FileTypePPTX
		case strings.HasPrefix(f.Name, "xl/"):
			return models.FileTypeXLSX
		case f.Name == "[Content_Types].xml":
			contentTypes = f
		}
	}
	if contentTypes == nil {
		return models.FileTypeUnknown
	}

	rc, err := contentTypes.Open()
	if err != nil {
		return models.FileTypeUnknown
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(rc, 64*1024)); err != nil {
		return models.FileTypeUnknown
	}
	ct := buf.String()
	switch {
	case strings.Contains(ct, "wordprocessingml"):
		return models.FileTypeDOCX
	case strings.Contains(ct, "presentationml"):
		return models.FileTypePPTX
	case strings.Contains(ct, "spreadsheetml"):
		return models.FileTypeXLSX
	}
	return models.FileTypeUnknown
}

func isOOXML(t models.FileType) bool {
	return t == models.FileTypeDOCX || t == models.FileTypePPTX || t == models.FileTypeXLSX
}

func (v *Validator) checkContent(r *models.ValidationResult, data []byte) {
	window := head(data, contentWindow)

	var found []string
	for _, p := range suspiciousPatterns {
		if bytes.Contains(window, p) {
			found = append(found, string(p))
		}
	}
	if len(found) > 0 {
		addFinding(r, models.FindingSuspiciousContent, models.SeverityHigh,
			"suspicious patterns in content", map[string]interface{}{"patterns": found})
	}

	r.Entropy = ShannonEntropy(window)
	r.PrintableRatio = PrintableRatio(window)

	// OOXML parts are deflated, so high entropy is expected there
	if r.Entropy > entropyLimit && !isOOXML(r.DetectedType) {
		addFinding(r, models.FindingHighEntropy, models.SeverityMedium,
			fmt.Sprintf("high entropy %.2f bits/byte", r.Entropy),
			map[string]interface{}{"entropy": r.Entropy})
	}
}

func (v *Validator) checkStructure(r *models.ValidationResult, data []byte) {
	switch {
	case r.DetectedType == models.FileTypePDF:
		window := head(data, contentWindow)
		if bytes.Contains(window, []byte("/JavaScript")) || bytes.Contains(window, []byte("/JS")) {
			addFinding(r, models.FindingPDFJavaScript, models.SeverityHigh, "PDF contains JavaScript", nil)
		}
		if bytes.Contains(window, []byte("/EmbeddedFile")) {
			addFinding(r, models.FindingPDFEmbeddedFile, models.SeverityMedium, "PDF contains embedded files", nil)
		}
		if bytes.Contains(window, []byte("/OpenAction")) || bytes.Contains(window, []byte("/Launch")) {
			addFinding(r, models.FindingPDFAutoAction, models.SeverityMedium, "PDF contains automatic actions", nil)
		}

	case isOOXML(r.DetectedType):
		zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			addFinding(r, models.FindingOfficeCorrupt, models.SeverityMedium, "office container cannot be opened", nil)
			return
		}
		var executables, macros []string
		for _, f := range zr.File {
			lower := strings.ToLower(f.Name)
			switch filepath.Ext(lower) {
			case ".exe", ".dll", ".com", ".bat":
				executables = append(executables, f.Name)
			}
			if strings.Contains(lower, "vbaproject") || strings.HasSuffix(lower, ".bin") {
				macros = append(macros, f.Name)
			}
		}
		if len(executables) > 0 {
			addFinding(r, models.FindingOfficeSuspiciousFiles, models.SeverityCritical,
				"office document contains executable parts", map[string]interface{}{"files": executables})
		}
		if len(macros) > 0 {
			addFinding(r, models.FindingOfficeMacros, models.SeverityHigh,
				"office document contains macros", map[string]interface{}{"files": macros})
		}

	case r.DetectedType == models.FileTypeDOC || r.DetectedType == models.FileTypePPT || r.DetectedType == models.FileTypeOLE:
		if hasOLEMacros(data) {
			addFinding(r, models.FindingOfficeMacros, models.SeverityHigh, "office document contains macros", nil)
		}

	case r.DetectedType.IsText():
		if bytes.IndexByte(head(data, textWindow), 0) >= 0 {
			addFinding(r, models.FindingTextNullBytes, models.SeverityMedium, "text file contains null bytes", nil)
		}
	}
}

func hasOLEMacros(data []byte) bool {
	for _, marker := range [][]byte{[]byte("_VBA_PROJECT"), []byte("Attribute VB_"), []byte("Macros")} {
		if bytes.Contains(data, marker) {
			return true
		}
	}
	return false
}

// checkPolyglot looks for more than one format signature near the start.
// Two-byte signatures occur by chance in binary data and are skipped.
func (v *Validator) checkPolyglot(r *models.ValidationResult, data []byte) {
	window := head(data, polyglotWindow)
	matches := 0
	for _, sig := range signatures {
		if len(sig.magic) < 4 {
			continue
		}
		if bytes.Contains(window, sig.magic) {
			matches++
		}
	}
	if matches > 1 {
		addFinding(r, models.FindingPolyglot, models.SeverityHigh,
			"file is valid in multiple formats", map[string]interface{}{"signature_matches": matches})
	}
}

func (v *Validator) checkSteganography(r *models.ValidationResult, data []byte) {
	if !r.DetectedType.IsImage() {
		return
	}
	if e := ShannonEntropy(data); e > imageEntropyMax {
		addFinding(r, models.FindingPossibleSteganography, models.SeverityMedium,
			"image entropy is unusually high", map[string]interface{}{"entropy": e})
	}
}

func securityScore(findings []models.ValidationFinding) float64 {
	score := 1.0
	for _, f := range findings {
		penalty, ok := severityPenalty[f.Severity]
		if !ok {
			penalty = 0.1
		}
		score -= penalty
	}
	if score < 0 {
		return 0
	}
	return score
}

func finalStatus(r *models.ValidationResult) models.ValidationStatus {
	if len(r.Findings) == 0 {
		return models.ValidationValid
	}
	if r.HasSeverity(models.SeverityCritical) {
		return models.ValidationInvalid
	}
	if r.HasSeverity(models.SeverityHigh) {
		return models.ValidationSuspicious
	}
	switch {
	case r.SecurityScore < 0.3:
		return models.ValidationInvalid
	case r.SecurityScore < 0.7:
		return models.ValidationSuspicious
	}
	return models.ValidationValid
}
