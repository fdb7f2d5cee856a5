package filesecurity

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"golang.org/x/net/html"
)

var htmlDangerousTags = map[string]bool{
	"script": true, "object": true, "embed": true, "applet": true,
	"form": true, "input": true, "button": true,
}

var htmlParanoidTags = map[string]bool{
	"iframe": true, "frame": true, "frameset": true, "meta": true,
}

var htmlVoidTags = map[string]bool{
	"input": true, "embed": true, "meta": true, "frame": true,
}

var htmlURLAttrs = map[string]bool{
	"href": true, "src": true, "action": true, "formaction": true, "xlink:href": true, "background": true,
}

// sanitizeHTML re-emits the token stream minus dangerous elements and
// attributes. Untouched tokens are written byte for byte.
func (s *Sanitizer) sanitizeHTML(run *sanitizeRun, data []byte) ([]byte, error) {
	z := html.NewTokenizer(bytes.NewReader(data))
	var out bytes.Buffer
	out.Grow(len(data))

	skipTag := ""
	skipDepth := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return out.Bytes(), nil
			}
			return nil, fmt.Errorf("tokenize html: %w", z.Err())
		}
		raw := bytes.Clone(z.Raw())

		if skipDepth > 0 {
			name, _ := z.TagName()
			switch {
			case tt == html.StartTagToken && string(name) == skipTag:
				skipDepth++
			case tt == html.EndTagToken && string(name) == skipTag:
				skipDepth--
			}
			continue
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if s.dangerousTag(run, tok.Data) {
				run.removed(ActionFilterContent, 1)
				// A self-closing script still opens a raw text section.
				if tt == html.StartTagToken && !htmlVoidTags[tok.Data] || tok.Data == "script" {
					skipTag, skipDepth = tok.Data, 1
				}
				continue
			}
			if s.cleanAttributes(run, &tok) {
				out.WriteString(tok.String())
				continue
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if s.dangerousTag(run, string(name)) {
				continue
			}
		case html.CommentToken:
			if run.atLeast(models.SanitizeStrict) {
				run.action(ActionFilterContent)
				continue
			}
		}
		out.Write(raw)
	}
}

func (s *Sanitizer) dangerousTag(run *sanitizeRun, name string) bool {
	return htmlDangerousTags[name] || run.atLeast(models.SanitizeParanoid) && htmlParanoidTags[name]
}

// cleanAttributes drops event handlers and script URLs, and neutralizes
// external links. It reports whether tok changed.
func (s *Sanitizer) cleanAttributes(run *sanitizeRun, tok *html.Token) bool {
	changed := false
	kept := tok.Attr[:0]
	for _, attr := range tok.Attr {
		key := strings.ToLower(attr.Key)
		if attr.Namespace != "" {
			key = strings.ToLower(attr.Namespace) + ":" + key
		}
		switch {
		case strings.HasPrefix(key, "on"):
			run.removed(ActionFilterContent, 1)
			changed = true
			continue
		case htmlURLAttrs[key] && isScriptURL(attr.Val):
			run.removed(ActionFilterContent, 1)
			changed = true
			continue
		case key == "href" && tok.Data == "a" && s.config.RemoveExternalLinks && isExternalURL(attr.Val):
			attr.Val = "#"
			run.action(ActionRemoveLinks)
			changed = true
		}
		kept = append(kept, attr)
	}
	tok.Attr = kept
	return changed
}

// isScriptURL ignores the whitespace and control characters browsers skip
// when resolving a scheme.
func isScriptURL(v string) bool {
	cleaned := strings.Map(func(r rune) rune {
		if r <= ' ' {
			return -1
		}
		return r
	}, strings.ToLower(v))
	return strings.HasPrefix(cleaned, "javascript:") ||
		strings.HasPrefix(cleaned, "vbscript:") ||
		strings.HasPrefix(cleaned, "data:text/html")
}

func isExternalURL(v string) bool {
	lower := strings.ToLower(strings.TrimSpace(v))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "ftp://") || strings.HasPrefix(lower, "//")
}
