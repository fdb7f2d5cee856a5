package filesecurity_test

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSanitizer() *filesecurity.Sanitizer {
	return filesecurity.NewSanitizer(filesecurity.DefaultSanitizerConfig(), newTestLogger())
}

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	parts := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		parts[f.Name] = string(b)
	}
	return parts
}

const activePDF = "%PDF-1.4\n" +
	"1 0 obj << /Type /Catalog /OpenAction 2 0 R /AA << >> /JSONData 5 >> endobj\n" +
	"2 0 obj << /S /JavaScript /JS (app.alert(1)) >> endobj\n" +
	"trailer << /Info 3 0 R /Root 1 0 R >>\n%%EOF"

func TestSanitizer_PDFDisarmsActiveNames(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypePDF, []byte(activePDF), models.SanitizeStandard)

	require.True(t, res.Success)
	assert.Len(t, out, len(activePDF))
	s := string(out)
	assert.NotContains(t, s, "/JavaScript")
	assert.NotContains(t, s, "/OpenAction")
	assert.NotContains(t, s, "/JS ")
	assert.NotContains(t, s, "/Info")
	assert.Contains(t, s, "/jAVAsCRIPT")
	assert.Contains(t, s, "/JSONData")
	assert.Equal(t, 4, res.ThreatsRemoved)
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionStripMacros)
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionRemoveMetadata)
}

func TestSanitizer_PDFBasicKeepsMetadata(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypePDF, []byte(activePDF), models.SanitizeBasic)

	require.True(t, res.Success)
	assert.Contains(t, string(out), "/Info")
	assert.NotContains(t, res.ActionsTaken, filesecurity.ActionRemoveMetadata)
}

const (
	wordDocument = `<w:body><w:ins w:id="1"><w:r><w:t>kept</w:t></w:r></w:ins>` +
		`<w:del w:id="2"><w:r><w:delText>gone</w:delText></w:r></w:del><w:commentReference w:id="0"/></w:body>`
	wordRels = `<Relationships>` +
		`<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/hyperlink" Target="https://evil.example" TargetMode="External"/>` +
		`<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>` +
		`</Relationships>`
	coreProps = `<cp:coreProperties><dc:creator>Alice Author</dc:creator><dc:title>Deck</dc:title><cp:lastModifiedBy>Bob</cp:lastModifiedBy></cp:coreProperties>`
)

func officeSample(t *testing.T) []byte {
	return buildZip(t, map[string]string{
		"[Content_Types].xml":            `<Types/>`,
		"word/document.xml":              wordDocument,
		"word/vbaProject.bin":            "macro",
		"word/embeddings/oleObject1.bin": "ole",
		"word/_rels/document.xml.rels":   wordRels,
		"docProps/core.xml":              coreProps,
		"docProps/app.xml":               `<Properties><Company>Acme</Company><Pages>3</Pages></Properties>`,
	})
}

func TestSanitizer_OfficeStandard(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeDOCX, officeSample(t), models.SanitizeStandard)
	require.True(t, res.Success, res.Error)

	parts := readZip(t, out)
	assert.NotContains(t, parts, "word/vbaProject.bin")
	assert.Contains(t, parts, "word/embeddings/oleObject1.bin")

	assert.Contains(t, parts["docProps/core.xml"], "<dc:creator></dc:creator>")
	assert.Contains(t, parts["docProps/core.xml"], "<dc:title>Deck</dc:title>")
	assert.NotContains(t, parts["docProps/core.xml"], "Bob")
	assert.NotContains(t, parts["docProps/app.xml"], "Acme")
	assert.Contains(t, parts["docProps/app.xml"], "<Pages>3</Pages>")

	rels := parts["word/_rels/document.xml.rels"]
	assert.NotContains(t, rels, "evil.example")
	assert.Contains(t, rels, "styles.xml")

	doc := parts["word/document.xml"]
	assert.Contains(t, doc, "kept")
	assert.NotContains(t, doc, "gone")
	assert.NotContains(t, doc, "w:ins")
	assert.NotContains(t, doc, "commentReference")

	assert.Contains(t, res.ActionsTaken, filesecurity.ActionStripMacros)
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionRemoveMetadata)
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionRemoveLinks)
}

func TestSanitizer_OfficeParanoidDropsBinaries(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeDOCX, officeSample(t), models.SanitizeParanoid)
	require.True(t, res.Success, res.Error)

	parts := readZip(t, out)
	assert.NotContains(t, parts, "word/embeddings/oleObject1.bin")
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionRemoveEmbedded)
}

func TestSanitizer_OfficeBasicKeepsMacrosWithWarning(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeDOCX, officeSample(t), models.SanitizeBasic)
	require.True(t, res.Success, res.Error)

	assert.Contains(t, readZip(t, out), "word/vbaProject.bin")
	assert.NotEmpty(t, res.Warnings)
}

func TestSanitizer_OfficeExpansionLimit(t *testing.T) {
	cfg := filesecurity.DefaultSanitizerConfig()
	cfg.MaxFileSize = 4096
	sanitizer := filesecurity.NewSanitizer(cfg, newTestLogger())
	bomb := buildZip(t, map[string]string{"word/document.xml": string(bytes.Repeat([]byte{'0'}, 100000))})
	require.Less(t, len(bomb), 4096)

	out, res := sanitizer.Sanitize(context.Background(), models.FileTypeDOCX, bomb, models.SanitizeStandard)

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "expands past limit")
	assert.Equal(t, bomb, out)
}

func TestSanitizer_CorruptContainerReturnsOriginal(t *testing.T) {
	data := []byte("PK\x03\x04 not really a zip")

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypePPTX, data, models.SanitizeStandard)

	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
	assert.Equal(t, data, out)
}

const activeHTML = `<html><head><meta http-equiv="refresh" content="0;url=x"><script>alert(1)</script></head>` +
	`<body onload="x()"><p onclick="y()">Hi <a href="https://evil.example/x">link</a> <a href=" java	script:alert(2)">bad</a></p>` +
	`<form action="/steal"><input name="p"><button>Go</button></form><iframe src="https://x"></iframe></body></html>`

func TestSanitizer_HTMLStandard(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeHTML, []byte(activeHTML), models.SanitizeStandard)
	require.True(t, res.Success, res.Error)

	s := string(out)
	for _, gone := range []string{"<script", "alert(1)", "alert(2)", "onload", "onclick", "<form", "<input", "<button", "evil.example"} {
		assert.NotContains(t, s, gone)
	}
	assert.Contains(t, s, `<a href="#">link</a>`)
	assert.Contains(t, s, ">bad</a>")
	assert.Contains(t, s, "<body>")
	assert.Contains(t, s, "<meta")
	assert.Contains(t, s, "<iframe")
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionRemoveLinks)
	assert.GreaterOrEqual(t, res.ThreatsRemoved, 5)
}

func TestSanitizer_HTMLParanoid(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeHTML, []byte(activeHTML), models.SanitizeParanoid)
	require.True(t, res.Success, res.Error)

	assert.NotContains(t, string(out), "<meta")
	assert.NotContains(t, string(out), "<iframe")
}

func TestSanitizer_RTF(t *testing.T) {
	rtf := `{\rtf1\ansi{\info{\author Alice}}Hello {\object\objemb{\*\objdata 0102}} world \{braces\}}`

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeRTF, []byte(rtf), models.SanitizeStandard)
	require.True(t, res.Success)
	assert.Equal(t, `{\rtf1\ansiHello  world \{braces\}}`, string(out))
	assert.Equal(t, 1, res.ThreatsRemoved)
	assert.ElementsMatch(t, []string{filesecurity.ActionRemoveEmbedded, filesecurity.ActionRemoveMetadata}, res.ActionsTaken)

	out, _ = newSanitizer().Sanitize(context.Background(), models.FileTypeRTF, []byte(rtf), models.SanitizeBasic)
	assert.Contains(t, string(out), "Alice")
}

func TestSanitizer_XMLRemovesEntities(t *testing.T) {
	xml := `<?xml version="1.0"?><!DOCTYPE foo [<!ENTITY xxe SYSTEM "file:///etc/passwd">]><foo>&xxe;</foo>`

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeXML, []byte(xml), models.SanitizeBasic)
	require.True(t, res.Success)
	assert.Equal(t, `<?xml version="1.0"?><foo>&xxe;</foo>`, string(out))
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionCleanStructure)
}

func TestSanitizer_Text(t *testing.T) {
	text := "Hello<script>alert(1)</script> world\x00\n\n\n\nline  \r\nend\x07"

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeTXT, []byte(text), models.SanitizeStrict)
	require.True(t, res.Success)
	assert.Equal(t, "Hello world\n\nline\nend", string(out))
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionFilterContent)
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionNormalizeFormat)

	out, _ = newSanitizer().Sanitize(context.Background(), models.FileTypeTXT, []byte(text), models.SanitizeStandard)
	assert.Equal(t, "Hello world\n\nline\nend\x07", string(out))
}

func TestSanitizer_TextInvalidUTF8(t *testing.T) {
	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeMarkdown, []byte("ok\xff"), models.SanitizeStandard)
	require.True(t, res.Success)
	assert.Equal(t, "ok", string(out))
	assert.Contains(t, res.ActionsTaken, filesecurity.ActionValidateEncoding)
}

func TestSanitizer_LaTeXShellEscape(t *testing.T) {
	tex := `\documentclass{article}\immediate\write18{rm -rf ~}\input{|"curl x"}text`

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeLaTeX, []byte(tex), models.SanitizeStandard)
	require.True(t, res.Success)
	assert.Equal(t, `\documentclass{article}text`, string(out))
	assert.Equal(t, 2, res.ThreatsRemoved)
}

func TestSanitizer_OLEPassthroughWarns(t *testing.T) {
	doc := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, []byte("..._VBA_PROJECT...")...)

	out, res := newSanitizer().Sanitize(context.Background(), models.FileTypeDOC, doc, models.SanitizeStandard)
	require.True(t, res.Success)
	assert.Equal(t, doc, out)
	assert.Len(t, res.Warnings, 2)
}

func TestSanitizer_UnknownLevelUsesDefault(t *testing.T) {
	_, res := newSanitizer().Sanitize(context.Background(), models.FileTypeTXT, []byte("hi"), "extreme")
	assert.Equal(t, models.SanitizeStandard, res.Level)
}
