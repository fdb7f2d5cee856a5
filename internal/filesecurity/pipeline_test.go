package filesecurity_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanPDF = "%PDF-1.7\n1 0 obj << /Type /Catalog >> endobj\n%%EOF"

type pipelineFixture struct {
	pipeline   *filesecurity.Pipeline
	detector   *filesecurity.ThreatDetector
	quarantine *filesecurity.QuarantineManager
	root       string
	audit      *services.MockAuditRecorder
}

func newPipelineFixture(t *testing.T, engines ...filesecurity.Engine) *pipelineFixture {
	t.Helper()
	kv, _ := newTestStore(t)
	logger := newTestLogger()
	audit := &services.MockAuditRecorder{}

	if len(engines) == 0 {
		engines = []filesecurity.Engine{cleanEngine("static")}
	}
	root := filepath.Join(t.TempDir(), "quarantine")
	quarantine, err := filesecurity.NewQuarantineManager(kv, filesecurity.DefaultQuarantineConfig(root), nil, audit, logger)
	require.NoError(t, err)
	detector := filesecurity.NewThreatDetector(kv, filesecurity.DefaultThreatConfig(), nil, &services.MockNotifier{}, logger)

	pipeline := filesecurity.NewPipeline(
		filesecurity.NewValidator(filesecurity.DefaultValidatorConfig(), logger),
		filesecurity.NewVirusScanner(kv, engines, filesecurity.ScannerConfig{}, logger),
		detector,
		quarantine,
		filesecurity.NewSanitizer(filesecurity.DefaultSanitizerConfig(), logger),
		audit,
		logger,
	)
	return &pipelineFixture{pipeline: pipeline, detector: detector, quarantine: quarantine, root: root, audit: audit}
}

func (f *pipelineFixture) process(t *testing.T, name string, data []byte, opts filesecurity.Options) *models.UploadResult {
	t.Helper()
	res, err := f.pipeline.ProcessFileUpload(context.Background(), filesecurity.Upload{
		FileName:  name,
		Data:      data,
		UserID:    "user-1",
		IPAddress: "203.0.113.7",
		RequestID: "req-1",
	}, opts)
	require.NoError(t, err)
	return res
}

func TestPipeline_CleanFileIsApproved(t *testing.T) {
	f := newPipelineFixture(t)

	res := f.process(t, "talk.pdf", []byte(cleanPDF), filesecurity.Options{})

	assert.Equal(t, models.SecurityStatusSafe, res.SecurityStatus)
	assert.Equal(t, models.FinalActionApproved, res.FinalAction)
	assert.Equal(t, []string{"validation", "virus_scan", "threat_detection"}, res.ProcessingSteps)
	assert.Empty(t, res.QuarantineID)
	assert.Equal(t, []byte(cleanPDF), res.SanitizedContent)
	assert.Equal(t, filesecurity.HashBytes([]byte(cleanPDF)), res.FileHash)

	uploaded := f.audit.EventsOf(models.EventFileUploaded)
	require.Len(t, uploaded, 1)
	assert.Equal(t, models.FinalActionApproved, uploaded[0].Details["final_action"])
	assert.Equal(t, "203.0.113.7", uploaded[0].IPAddress)
	assert.Equal(t, "req-1", uploaded[0].RequestID)
	assert.Len(t, f.audit.EventsOf(models.EventFileValidated), 1)
	assert.Len(t, f.audit.EventsOf(models.EventFileScanned), 1)
	assert.Len(t, f.audit.EventsOf(models.EventThreatDetected), 1)
	assert.Empty(t, f.audit.EventsOf(models.EventFileQuarantined))
}

func TestPipeline_DisguisedExecutableIsQuarantined(t *testing.T) {
	f := newPipelineFixture(t)
	data := peSample()

	res := f.process(t, "slides.pdf", data, filesecurity.Options{Sanitize: true})

	assert.Equal(t, models.SecurityStatusQuarantined, res.SecurityStatus)
	assert.Equal(t, models.FinalActionQuarantined, res.FinalAction)
	assert.Equal(t, []string{"validation", "quarantine"}, res.ProcessingSteps)
	require.NotEmpty(t, res.QuarantineID)
	assert.Nil(t, res.VirusScan)
	assert.Nil(t, res.SanitizedContent)

	record, err := f.quarantine.Get(context.Background(), res.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineValidationFailed, record.Reason)
	assert.Equal(t, "user-1", record.UserID)

	quarantined := f.audit.EventsOf(models.EventFileQuarantined)
	require.Len(t, quarantined, 1)
	assert.Equal(t, filesecurity.HashBytes(data), quarantined[0].Details["file_hash"])
}

func TestPipeline_BlockedExtensionIsRejected(t *testing.T) {
	f := newPipelineFixture(t)

	res := f.process(t, "setup.exe", peSample(), filesecurity.Options{})

	assert.Equal(t, models.SecurityStatusRejected, res.SecurityStatus)
	assert.Equal(t, models.FinalActionBlocked, res.FinalAction)
	assert.NotEmpty(t, res.QuarantineID)
	require.Len(t, f.audit.EventsOf(models.EventMalwareBlocked), 1)
	assert.Equal(t, "validation", f.audit.EventsOf(models.EventMalwareBlocked)[0].Details["stage"])
}

func TestPipeline_InfectedFileIsQuarantined(t *testing.T) {
	f := newPipelineFixture(t, infectedEngine("static", "Win.Trojan.Agent"))

	res := f.process(t, "talk.pdf", []byte(cleanPDF), filesecurity.Options{})

	assert.Equal(t, models.FinalActionQuarantined, res.FinalAction)
	assert.Equal(t, []string{"validation", "virus_scan", "quarantine"}, res.ProcessingSteps)
	assert.Nil(t, res.ThreatDetection)

	record, err := f.quarantine.Get(context.Background(), res.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineVirusDetected, record.Reason)

	found := f.audit.EventsOf(models.EventVirusFound)
	require.Len(t, found, 1)
	assert.Equal(t, res.QuarantineID, found[0].Details["quarantine_id"])
	assert.Equal(t, []string{"Win.Trojan.Agent"}, found[0].Details["threats"])
}

func TestPipeline_ScanErrorHeldForReview(t *testing.T) {
	f := newPipelineFixture(t, failingEngine("a"), failingEngine("b"))

	res := f.process(t, "talk.pdf", []byte(cleanPDF), filesecurity.Options{})

	assert.Equal(t, models.SecurityStatusReview, res.SecurityStatus)
	assert.Equal(t, models.FinalActionReview, res.FinalAction)
	require.NotEmpty(t, res.QuarantineID)

	record, err := f.quarantine.Get(context.Background(), res.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineUnknownThreat, record.Reason)
}

func TestPipeline_IntelMatchIsQuarantined(t *testing.T) {
	f := newPipelineFixture(t)
	data := []byte(cleanPDF)
	require.NoError(t, f.detector.UpdateIntel(context.Background(), "bazaar", []filesecurity.IntelEntry{
		{Hash: filesecurity.HashBytes(data), ThreatType: "trojan"},
	}))

	res := f.process(t, "talk.pdf", data, filesecurity.Options{})

	assert.Equal(t, models.FinalActionQuarantined, res.FinalAction)
	assert.Equal(t, models.SeverityCritical, res.ThreatDetection.Severity)

	record, err := f.quarantine.Get(context.Background(), res.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineThreatIntelligence, record.Reason)
	require.Len(t, f.audit.EventsOf(models.EventMalwareBlocked), 1)
	assert.Equal(t, "threat_detection", f.audit.EventsOf(models.EventMalwareBlocked)[0].Details["stage"])
}

func TestPipeline_SanitizesApprovedFile(t *testing.T) {
	f := newPipelineFixture(t)
	data := []byte("%PDF-1.7\n1 0 obj << /Type /Catalog >> endobj\ntrailer << /Info 2 0 R >>\n%%EOF")

	res := f.process(t, "talk.pdf", data, filesecurity.Options{Sanitize: true, Level: models.SanitizeStandard})

	assert.Equal(t, models.FinalActionApproved, res.FinalAction)
	assert.Equal(t, []string{"validation", "virus_scan", "threat_detection", "sanitization"}, res.ProcessingSteps)
	require.NotNil(t, res.Sanitization)
	assert.True(t, res.Sanitization.Success)
	assert.NotContains(t, string(res.SanitizedContent), "/Info")
	assert.Contains(t, string(data), "/Info")
	assert.Len(t, f.audit.EventsOf(models.EventFileSanitized), 1)
}

func TestPipeline_QuarantineFailureBlocksUpload(t *testing.T) {
	f := newPipelineFixture(t)
	require.NoError(t, os.RemoveAll(f.root))

	res, err := f.pipeline.ProcessFileUpload(context.Background(), filesecurity.Upload{
		FileName: "slides.pdf",
		Data:     peSample(),
	}, filesecurity.Options{})

	require.Error(t, err)
	assert.Equal(t, models.SecurityStatusError, res.SecurityStatus)
	assert.Equal(t, models.FinalActionBlocked, res.FinalAction)
	require.Len(t, f.audit.EventsOf(models.EventSystemError), 1)
	assert.Len(t, f.audit.EventsOf(models.EventFileUploaded), 1)
}
