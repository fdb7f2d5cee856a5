package filesecurity

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
)

// Sanitization actions reported in SanitizationResult.ActionsTaken.
const (
	ActionRemoveMetadata   = "remove_metadata"
	ActionStripMacros      = "strip_macros"
	ActionRemoveLinks      = "remove_links"
	ActionFilterContent    = "filter_content"
	ActionNormalizeFormat  = "normalize_format"
	ActionRemoveEmbedded   = "remove_embedded"
	ActionCleanStructure   = "clean_structure"
	ActionValidateEncoding = "validate_encoding"
)

// SanitizerConfig toggles optional cleaning steps.
type SanitizerConfig struct {
	DefaultLevel         models.SanitizationLevel
	MaxFileSize          int64
	RemoveComments       bool
	RemoveTrackedChanges bool
	RemovePersonalInfo   bool
	RemoveExternalLinks  bool
	NormalizeWhitespace  bool
}

// DefaultSanitizerConfig enables every cleaning step at the standard level.
func DefaultSanitizerConfig() SanitizerConfig {
	return SanitizerConfig{
		DefaultLevel:         models.SanitizeStandard,
		MaxFileSize:          100 * 1024 * 1024,
		RemoveComments:       true,
		RemoveTrackedChanges: true,
		RemovePersonalInfo:   true,
		RemoveExternalLinks:  true,
		NormalizeWhitespace:  true,
	}
}

var textThreatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?is)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:[^"'\s)]*`),
	regexp.MustCompile(`(?i)vbscript:[^"'\s)]*`),
	regexp.MustCompile(`(?i)\bdata:[a-z]+/[a-z0-9.+-]+[;,][^"'\s)]*`),
	regexp.MustCompile(`(?is)<form[^>]*>.*?</form\s*>`),
	regexp.MustCompile(`(?i)<input[^>]*>`),
	regexp.MustCompile(`(?is)<button[^>]*>.*?</button\s*>`),
	regexp.MustCompile(`(?is)<(object|embed|applet|iframe)[^>]*>.*?</(object|embed|applet|iframe)\s*>`),
	regexp.MustCompile(`(?i)<(object|embed|applet|iframe)[^>]*>`),
}

// LaTeX commands that reach the shell or the filesystem at compile time.
var latexThreatPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\\(?:immediate\s*)?\\write18\s*\{[^}]*\}`),
	regexp.MustCompile(`\\(?:input|include)\s*\{\s*\|[^}]*\}`),
	regexp.MustCompile(`\\openout\d*\s*\S*`),
}

var (
	excessBlankLines   = regexp.MustCompile(`\n{3,}`)
	trailingWhitespace = regexp.MustCompile(`(?m)[ \t]+$`)
)

var oleMacroSignatures = [][]byte{
	[]byte("VBA\x00"),
	[]byte("Microsoft Visual Basic"),
	[]byte("_VBA_PROJECT"),
}

// Sanitizer rewrites accepted files to remove active content and metadata.
type Sanitizer struct {
	config SanitizerConfig
	logger *slog.Logger
}

// NewSanitizer creates a new Sanitizer
func NewSanitizer(config SanitizerConfig, logger *slog.Logger) *Sanitizer {
	if config.DefaultLevel == "" {
		config.DefaultLevel = models.SanitizeStandard
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultSanitizerConfig().MaxFileSize
	}
	return &Sanitizer{config: config, logger: logger}
}

// sanitizeRun accumulates the result of one sanitization.
type sanitizeRun struct {
	level  models.SanitizationLevel
	result *models.SanitizationResult
}

func (r *sanitizeRun) action(a string) {
	for _, existing := range r.result.ActionsTaken {
		if existing == a {
			return
		}
	}
	r.result.ActionsTaken = append(r.result.ActionsTaken, a)
}

func (r *sanitizeRun) removed(a string, n int) {
	if n <= 0 {
		return
	}
	r.action(a)
	r.result.ThreatsRemoved += n
}

func (r *sanitizeRun) warn(msg string) {
	r.result.Warnings = append(r.result.Warnings, msg)
}

func (r *sanitizeRun) atLeast(level models.SanitizationLevel) bool {
	return r.level.Rank() >= level.Rank()
}

// Sanitize returns a cleaned copy of data. On failure the original bytes are
// returned with Success false.
func (s *Sanitizer) Sanitize(ctx context.Context, fileType models.FileType, data []byte, level models.SanitizationLevel) ([]byte, *models.SanitizationResult) {
	if level.Rank() < 0 {
		level = s.config.DefaultLevel
	}
	run := &sanitizeRun{
		level: level,
		result: &models.SanitizationResult{
			Level:        level,
			FileType:     fileType,
			OriginalSize: int64(len(data)),
			ActionsTaken: []string{},
		},
	}

	out, err := s.sanitize(ctx, run, fileType, data)
	if err == nil {
		err = validateSanitized(fileType, out)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "sanitization failed",
			slog.String("file_type", string(fileType)),
			slog.String("error", err.Error()))
		run.result.Success = false
		run.result.Error = err.Error()
		run.result.SanitizedSize = int64(len(data))
		return data, run.result
	}

	run.result.Success = true
	run.result.SanitizedSize = int64(len(out))
	s.logger.InfoContext(ctx, "file sanitized",
		slog.String("file_type", string(fileType)),
		slog.String("level", string(level)),
		slog.Int("threats_removed", run.result.ThreatsRemoved),
		slog.Any("actions", run.result.ActionsTaken))
	return out, run.result
}

func (s *Sanitizer) sanitize(ctx context.Context, run *sanitizeRun, fileType models.FileType, data []byte) ([]byte, error) {
	if int64(len(data)) > s.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes", models.ErrFileTooLarge, len(data))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch fileType {
	case models.FileTypePDF:
		return s.sanitizePDF(run, data), nil
	case models.FileTypeDOCX, models.FileTypePPTX, models.FileTypeXLSX:
		return s.sanitizeOffice(ctx, run, data)
	case models.FileTypeDOC, models.FileTypePPT, models.FileTypeOLE:
		return s.sanitizeOLE(run, data), nil
	case models.FileTypeHTML:
		return s.sanitizeHTML(run, data)
	case models.FileTypeRTF:
		return s.sanitizeRTF(run, data), nil
	case models.FileTypeXML:
		return s.sanitizeXML(run, data), nil
	case models.FileTypeTXT, models.FileTypeMarkdown, models.FileTypeLaTeX, models.FileTypeTeX:
		return s.sanitizeText(run, fileType, data), nil
	default:
		return s.sanitizeGeneric(run, data), nil
	}
}

func validateSanitized(fileType models.FileType, out []byte) error {
	if len(out) == 0 {
		return nil
	}
	switch fileType {
	case models.FileTypePDF:
		if !bytes.HasPrefix(out, []byte("%PDF")) {
			return fmt.Errorf("sanitized PDF lost its header")
		}
	case models.FileTypeDOCX, models.FileTypePPTX, models.FileTypeXLSX:
		if _, err := openZip(out); err != nil {
			return fmt.Errorf("sanitized container is unreadable: %w", err)
		}
	}
	return nil
}

// pdfActiveNames are neutralized at every level.
var pdfActiveNames = []string{
	"JavaScript", "JS", "OpenAction", "AA", "Launch",
	"EmbeddedFile", "EmbeddedFiles", "RichMedia", "SubmitForm", "ImportData",
}

// sanitizePDF disarms names in place by flipping their letter case. PDF
// names are case sensitive, so readers ignore the disarmed keys, and the
// byte length is unchanged so xref offsets stay valid.
func (s *Sanitizer) sanitizePDF(run *sanitizeRun, data []byte) []byte {
	out := bytes.Clone(data)

	n := 0
	for _, name := range pdfActiveNames {
		n += disarmPDFName(out, name)
	}
	run.removed(ActionStripMacros, n)

	if run.atLeast(models.SanitizeStandard) && disarmPDFName(out, "Info") > 0 {
		run.action(ActionRemoveMetadata)
	}
	if run.atLeast(models.SanitizeStrict) {
		run.removed(ActionRemoveEmbedded, disarmPDFName(out, "Annots"))
	}
	if s.config.RemoveExternalLinks {
		run.removed(ActionRemoveLinks, disarmPDFName(out, "URI"))
	}
	return out
}

func isPDFDelimiter(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\f', 0, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func disarmPDFName(data []byte, name string) int {
	token := []byte("/" + name)
	count := 0
	for i := 0; ; {
		j := bytes.Index(data[i:], token)
		if j < 0 {
			return count
		}
		start := i + j
		end := start + len(token)
		if end == len(data) || isPDFDelimiter(data[end]) {
			for k := start + 1; k < end; k++ {
				c := data[k]
				switch {
				case c >= 'a' && c <= 'z':
					data[k] = c - 32
				case c >= 'A' && c <= 'Z':
					data[k] = c + 32
				}
			}
			count++
		}
		i = end
	}
}

func (s *Sanitizer) sanitizeOLE(run *sanitizeRun, data []byte) []byte {
	for _, sig := range oleMacroSignatures {
		if bytes.Contains(data, sig) {
			run.warn("macro signature detected in legacy document")
			break
		}
	}
	run.warn("legacy OLE documents are passed through unmodified")
	return data
}

// sanitizeRTF drops \object, \field, and (standard and up) \info groups.
func (s *Sanitizer) sanitizeRTF(run *sanitizeRun, data []byte) []byte {
	out, n := removeRTFGroups(data, map[string]bool{"object": true, "field": true})
	run.removed(ActionRemoveEmbedded, n)
	if run.atLeast(models.SanitizeStandard) {
		var removed int
		out, removed = removeRTFGroups(out, map[string]bool{"info": true})
		if removed > 0 {
			run.action(ActionRemoveMetadata)
		}
	}
	return out
}

// removeRTFGroups removes every brace group whose first control word is in
// words, honoring \{ \} and \\ escapes.
func removeRTFGroups(data []byte, words map[string]bool) ([]byte, int) {
	var out bytes.Buffer
	out.Grow(len(data))
	removed := 0

	for i := 0; i < len(data); {
		if data[i] == '\\' && i+1 < len(data) {
			out.Write(data[i : i+2])
			i += 2
			continue
		}
		if data[i] != '{' || !words[rtfGroupWord(data[i+1:])] {
			out.WriteByte(data[i])
			i++
			continue
		}
		i = rtfGroupEnd(data, i)
		removed++
	}
	return out.Bytes(), removed
}

// rtfGroupWord returns the group's leading control word, skipping the \*
// destination marker.
func rtfGroupWord(rest []byte) string {
	rest = bytes.TrimLeft(rest, " \r\n")
	if bytes.HasPrefix(rest, []byte(`\*`)) {
		rest = bytes.TrimLeft(rest[2:], " \r\n")
	}
	if len(rest) < 2 || rest[0] != '\\' {
		return ""
	}
	end := 1
	for end < len(rest) && (rest[end] >= 'a' && rest[end] <= 'z' || rest[end] >= 'A' && rest[end] <= 'Z') {
		end++
	}
	return strings.ToLower(string(rest[1:end]))
}

// rtfGroupEnd returns the index just past the group opened at start.
func rtfGroupEnd(data []byte, start int) int {
	depth := 0
	for i := start; i < len(data); i++ {
		switch data[i] {
		case '\\':
			i++
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(data)
}

var (
	xmlDoctype = regexp.MustCompile(`(?is)<!DOCTYPE[^\[>]*(\[.*?\])?\s*>`)
	xmlEntity  = regexp.MustCompile(`(?is)<!ENTITY[^>]*>`)
)

// sanitizeXML strips DTDs and entity declarations so nothing expands
// downstream.
func (s *Sanitizer) sanitizeXML(run *sanitizeRun, data []byte) []byte {
	n := len(xmlDoctype.FindAllIndex(data, -1)) + len(xmlEntity.FindAllIndex(data, -1))
	if n == 0 {
		return data
	}
	out := xmlDoctype.ReplaceAll(data, nil)
	out = xmlEntity.ReplaceAll(out, nil)
	run.removed(ActionCleanStructure, n)
	return out
}

func (s *Sanitizer) sanitizeText(run *sanitizeRun, fileType models.FileType, data []byte) []byte {
	content := string(data)
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
		run.action(ActionValidateEncoding)
	}

	patterns := textThreatPatterns
	if fileType == models.FileTypeLaTeX || fileType == models.FileTypeTeX {
		patterns = append(append([]*regexp.Regexp{}, textThreatPatterns...), latexThreatPatterns...)
	}
	content = scrubPatterns(run, content, patterns)

	if n := strings.Count(content, "\x00"); n > 0 {
		content = strings.ReplaceAll(content, "\x00", "")
		run.removed(ActionFilterContent, n)
	}

	if s.config.NormalizeWhitespace {
		normalized := strings.ReplaceAll(content, "\r\n", "\n")
		if fileType != models.FileTypeMarkdown {
			normalized = trailingWhitespace.ReplaceAllString(normalized, "")
		}
		normalized = excessBlankLines.ReplaceAllString(normalized, "\n\n")
		if normalized != content {
			run.action(ActionNormalizeFormat)
		}
		content = normalized
	}

	if run.atLeast(models.SanitizeStrict) {
		removed := 0
		content = strings.Map(func(r rune) rune {
			if r == '\n' || r == '\t' || r == '\r' || !unicode.IsControl(r) {
				return r
			}
			removed++
			return -1
		}, content)
		if removed > 0 {
			run.action(ActionFilterContent)
		}
	}
	return []byte(content)
}

func scrubPatterns(run *sanitizeRun, content string, patterns []*regexp.Regexp) string {
	for _, p := range patterns {
		matches := p.FindAllStringIndex(content, -1)
		if len(matches) == 0 {
			continue
		}
		content = p.ReplaceAllString(content, "")
		run.removed(ActionFilterContent, len(matches))
	}
	return content
}

// sanitizeGeneric scrubs text-like content and passes binary data through.
func (s *Sanitizer) sanitizeGeneric(run *sanitizeRun, data []byte) []byte {
	if PrintableRatio(data) <= 0.7 {
		return data
	}
	content := strings.ToValidUTF8(string(data), "")
	return []byte(scrubPatterns(run, content, textThreatPatterns))
}
