package filesecurity

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
)

var corePersonalFields = []string{
	"creator", "lastModifiedBy", "keywords", "subject", "description",
	"category", "lastPrinted", "revision", "contentStatus",
}

var appPersonalFields = []string{
	"Application", "AppVersion", "Company", "Manager", "Template", "TotalTime", "DocSecurity",
}

var (
	wordCommentMarkers = regexp.MustCompile(`<w:comment(?:RangeStart|RangeEnd|Reference)\b[^>]*/>`)
	wordDeletions      = regexp.MustCompile(`(?s)<w:del\b[^>]*>.*?</w:del>`)
	wordInsertionTags  = regexp.MustCompile(`</?w:ins\b[^>]*>`)
	relationshipTag    = regexp.MustCompile(`<Relationship\b[^>]*/>`)
	pptNotes           = regexp.MustCompile(`(?s)<p:notes\b[^>]*>.*?</p:notes>`)
)

func openZip(data []byte) (*zip.Reader, error) {
	return zip.NewReader(bytes.NewReader(data), int64(len(data)))
}

// sanitizeOffice rebuilds an OOXML container part by part.
func (s *Sanitizer) sanitizeOffice(ctx context.Context, run *sanitizeRun, data []byte) ([]byte, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, fmt.Errorf("open office container: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	budget := s.config.MaxFileSize

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := f.Name
		lower := strings.ToLower(name)

		if strings.Contains(lower, "vbaproject") {
			if run.atLeast(models.SanitizeStandard) {
				run.removed(ActionStripMacros, 1)
				continue
			}
			run.warn("macro project retained at basic level")
		}
		if strings.HasSuffix(lower, ".bin") && run.atLeast(models.SanitizeParanoid) {
			run.removed(ActionRemoveEmbedded, 1)
			continue
		}

		part, err := readZipPart(f, budget)
		if err != nil {
			return nil, err
		}
		budget -= int64(len(part))

		part = s.sanitizeOfficePart(run, name, part)

		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		if _, err := w.Write(part); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish office container: %w", err)
	}
	return buf.Bytes(), nil
}

// readZipPart reads one entry, failing once the container's uncompressed
// total exceeds budget.
func readZipPart(f *zip.File, budget int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	part, err := io.ReadAll(io.LimitReader(rc, budget+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(part)) > budget {
		return nil, fmt.Errorf("%w: office container expands past limit", models.ErrFileTooLarge)
	}
	return part, nil
}

func (s *Sanitizer) sanitizeOfficePart(run *sanitizeRun, name string, part []byte) []byte {
	switch {
	case name == "docProps/core.xml" && s.config.RemovePersonalInfo:
		if out, n := clearXMLFields(part, corePersonalFields); n > 0 {
			run.action(ActionRemoveMetadata)
			return out
		}
	case name == "docProps/app.xml" && s.config.RemovePersonalInfo:
		if out, n := clearXMLFields(part, appPersonalFields); n > 0 {
			run.action(ActionRemoveMetadata)
			return out
		}
	case path.Ext(name) == ".rels" && s.config.RemoveExternalLinks:
		return dropExternalHyperlinks(run, part)
	case strings.HasPrefix(name, "word/") && path.Ext(name) == ".xml":
		return s.sanitizeWordPart(run, part)
	case strings.HasPrefix(name, "ppt/") && path.Ext(name) == ".xml" && run.atLeast(models.SanitizeStrict):
		if n := len(pptNotes.FindAllIndex(part, -1)); n > 0 {
			run.removed(ActionFilterContent, n)
			return pptNotes.ReplaceAll(part, nil)
		}
	}
	return part
}

func (s *Sanitizer) sanitizeWordPart(run *sanitizeRun, part []byte) []byte {
	if s.config.RemoveComments {
		if n := len(wordCommentMarkers.FindAllIndex(part, -1)); n > 0 {
			part = wordCommentMarkers.ReplaceAll(part, nil)
			run.action(ActionFilterContent)
		}
	}
	if s.config.RemoveTrackedChanges {
		// Accept all revisions: drop deletions, keep inserted runs.
		dels := wordDeletions.FindAllIndex(part, -1)
		ins := wordInsertionTags.FindAllIndex(part, -1)
		if len(dels)+len(ins) > 0 {
			part = wordDeletions.ReplaceAll(part, nil)
			part = wordInsertionTags.ReplaceAll(part, nil)
			run.action(ActionFilterContent)
		}
	}
	return part
}

// clearXMLFields empties the text of each named element, with or without a
// namespace prefix.
func clearXMLFields(part []byte, fields []string) ([]byte, int) {
	total := 0
	for _, field := range fields {
		re := regexp.MustCompile(`(?s)<((?:\w+:)?` + regexp.QuoteMeta(field) + `)(\s[^>]*)?>[^<]+</(?:\w+:)?` + regexp.QuoteMeta(field) + `>`)
		n := len(re.FindAllIndex(part, -1))
		if n == 0 {
			continue
		}
		part = re.ReplaceAll(part, []byte("<$1$2></$1>"))
		total += n
	}
	return part, total
}

func dropExternalHyperlinks(run *sanitizeRun, part []byte) []byte {
	removed := 0
	out := relationshipTag.ReplaceAllFunc(part, func(tag []byte) []byte {
		if bytes.Contains(tag, []byte(`TargetMode="External"`)) && bytes.Contains(tag, []byte(`/hyperlink"`)) {
			removed++
			return nil
		}
		return tag
	})
	run.removed(ActionRemoveLinks, removed)
	return out
}
