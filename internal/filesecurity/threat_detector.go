package filesecurity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	detectionCachePrefix = "threat_detection:"
	profilePrefix        = "threat_profile:user:"
	intelPrefix          = "threat_intel:"
	intelSourcesKey      = "threat_intel:sources"

	heuristicWindow   = 1 << 20
	featureWindow     = 64 * 1024
	patternScore      = 0.7
	profileTTL        = 30 * 24 * time.Hour
	profileSizeWindow = 100
	profileRetries    = 3
)

var sourceWeights = map[models.DetectionSource]float64{
	models.SourceThreatIntelligence: 0.9,
	models.SourceMLModel:            0.8,
	models.SourceSignature:          0.8,
	models.SourceSandbox:            0.7,
	models.SourceHeuristic:          0.6,
	models.SourceBehavioral:         0.5,
	models.SourceUserReport:         0.3,
}

var typeMultipliers = map[models.ThreatType]float64{
	models.ThreatRansomware:         1.3,
	models.ThreatRootkit:            1.2,
	models.ThreatTrojan:             1.1,
	models.ThreatVirus:              1.1,
	models.ThreatMalware:            1.0,
	models.ThreatSpyware:            0.9,
	models.ThreatAdware:             0.7,
	models.ThreatSuspiciousBehavior: 0.6,
	models.ThreatUnknown:            0.5,
}

var findingConfidence = map[models.Severity]float64{
	models.SeverityLow:      0.3,
	models.SeverityMedium:   0.5,
	models.SeverityHigh:     0.7,
	models.SeverityCritical: 0.9,
}

var suspiciousStrings = []string{
	"eval(", "exec(", "system(", "shell_exec", "cmd.exe",
	"powershell", "base64_decode", "gzinflate", "str_rot13",
	"createobject", "wscript.shell", "microsoft.xmlhttp",
}

type heuristicRule struct {
	name        string
	description string
	score       func(content []byte) float64
}

func patternRule(name, description string, pattern []byte) heuristicRule {
	return heuristicRule{name: name, description: description, score: func(content []byte) float64 {
		if bytes.Contains(content, pattern) {
			return patternScore
		}
		return 0
	}}
}

var heuristicRules = []heuristicRule{
	{
		name:        "suspicious_entropy",
		description: "high entropy content indicating encryption or packing",
		score: func(content []byte) float64 {
			if e := ShannonEntropy(content); e > entropyLimit {
				return min(1.0, (e-entropyLimit)*2)
			}
			return 0
		},
	},
	patternRule("executable_headers", "executable file headers in a document", []byte("MZ\x90\x00")),
	{
		name:        "suspicious_strings",
		description: "suspicious script and shell strings",
		score: func(content []byte) float64 {
			lower := bytes.ToLower(content)
			matches := 0
			for _, s := range suspiciousStrings {
				if bytes.Contains(lower, []byte(s)) {
					matches++
				}
			}
			return min(1.0, float64(matches)*0.2)
		},
	},
	patternRule("macro_indicators", "VBA macro indicators", []byte("vbaProject")),
	patternRule("javascript_in_pdf", "JavaScript in PDF", []byte("/JavaScript")),
}

// Classifier scores a feature vector produced by Features.
type Classifier interface {
	Predict(features []float64) (threat bool, confidence float64)
}

// LinearClassifier is a logistic model over the Features vector.
type LinearClassifier struct {
	Weights   []float64
	Bias      float64
	Threshold float64
}

// DefaultClassifier weighs normalized entropy against printable and null
// byte ratios. Features 0, 1 and the byte histogram carry no weight.
func DefaultClassifier() *LinearClassifier {
	weights := make([]float64, featureCount)
	weights[2] = 6.0
	weights[19] = -3.0
	weights[20] = 2.0
	return &LinearClassifier{Weights: weights, Bias: -4.5, Threshold: 0.5}
}

func (c *LinearClassifier) Predict(features []float64) (bool, float64) {
	z := c.Bias
	for i, f := range features {
		if i < len(c.Weights) {
			z += c.Weights[i] * f
		}
	}
	p := 1 / (1 + math.Exp(-z))
	return p >= c.Threshold, p
}

const featureCount = 21

// Features extracts size, log size, normalized entropy, a 16-bucket byte
// histogram, printable ratio and null ratio from at most 64KB of data.
func Features(data []byte) []float64 {
	features := make([]float64, 0, featureCount)
	size := float64(len(data))
	features = append(features, size, math.Log10(math.Max(1, size)))

	window := head(data, featureWindow)
	features = append(features, ShannonEntropy(window)/8)

	var hist [16]float64
	sample := head(window, 1000)
	for _, b := range sample {
		hist[b%16]++
	}
	for _, count := range hist {
		if len(sample) > 0 {
			count /= float64(len(sample))
		}
		features = append(features, count)
	}

	printable := 0
	for _, b := range window {
		if b >= 32 && b <= 126 {
			printable++
		}
	}
	if len(window) > 0 {
		features = append(features, float64(printable)/float64(len(window)), NullRatio(window))
	} else {
		features = append(features, 0, 0)
	}
	return features
}

// ThreatConfig holds threat detector settings
type ThreatConfig struct {
	LowThreshold           float64
	MediumThreshold        float64
	HighThreshold          float64
	AnomalyThreshold       float64
	EnableHeuristics       bool
	EnableML               bool
	EnableBehavioral       bool
	EnableIntel            bool
	AutoQuarantineCritical bool
	AutoQuarantineHigh     bool
	CacheTTL               time.Duration
	AnalysisTimeout        time.Duration
}

// DefaultThreatConfig enables every analysis except the ML classifier.
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		LowThreshold:           0.3,
		MediumThreshold:        0.6,
		HighThreshold:          0.8,
		AnomalyThreshold:       0.7,
		EnableHeuristics:       true,
		EnableBehavioral:       true,
		EnableIntel:            true,
		AutoQuarantineCritical: true,
		CacheTTL:               time.Hour,
		AnalysisTimeout:        5 * time.Minute,
	}
}

// AnalysisRequest is the input to Analyze.
type AnalysisRequest struct {
	FileName   string
	Data       []byte
	FileHash   string
	Validation *models.ValidationResult
	UserID     string
	SessionID  string
}

// IntelEntry is one known-bad hash from a threat feed.
type IntelEntry struct {
	Hash       string `json:"hash"`
	ThreatType string `json:"threat_type,omitempty"`
	Family     string `json:"family,omitempty"`
	FirstSeen  string `json:"first_seen,omitempty"`
}

// BehaviorProfile is the rolling upload baseline of one user.
type BehaviorProfile struct {
	UploadHours []int     `json:"upload_hours"`
	FileTypes   []string  `json:"file_types"`
	FileSizes   []int64   `json:"file_sizes"`
	AvgFileSize float64   `json:"avg_file_size"`
	StdFileSize float64   `json:"std_file_size"`
	Uploads     int       `json:"uploads"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ThreatDetector combines heuristics, an optional classifier, per-user
// behavior and threat intelligence into one weighted verdict.
type ThreatDetector struct {
	kv         services.KeyValueStore
	config     ThreatConfig
	classifier Classifier
	notifier   services.AdminNotifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewThreatDetector creates a new ThreatDetector. classifier and notifier
// may be nil.
func NewThreatDetector(kv services.KeyValueStore, config ThreatConfig, classifier Classifier, notifier services.AdminNotifier, logger *slog.Logger) *ThreatDetector {
	defaults := DefaultThreatConfig()
	if config.HighThreshold <= 0 {
		config.LowThreshold = defaults.LowThreshold
		config.MediumThreshold = defaults.MediumThreshold
		config.HighThreshold = defaults.HighThreshold
	}
	if config.AnomalyThreshold <= 0 {
		config.AnomalyThreshold = defaults.AnomalyThreshold
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = defaults.CacheTTL
	}
	if config.AnalysisTimeout <= 0 {
		config.AnalysisTimeout = defaults.AnalysisTimeout
	}
	if classifier == nil && config.EnableML {
		classifier = DefaultClassifier()
	}
	return &ThreatDetector{
		kv:         kv,
		config:     config,
		classifier: classifier,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the time source.
func (d *ThreatDetector) WithClock(now func() time.Time) *ThreatDetector {
	d.now = now
	return d
}

type analysisOutcome struct {
	mu         sync.Mutex
	indicators []models.ThreatIndicator
	heuristic  bool
	mlThreat   bool
	intelType  models.ThreatType
	intelMatch bool
}

func (o *analysisOutcome) add(ind ...models.ThreatIndicator) {
	o.mu.Lock()
	o.indicators = append(o.indicators, ind...)
	o.mu.Unlock()
}

// Analyze runs every enabled analysis on req. Sub-analysis failures are
// logged and skipped; only cancellation of ctx is returned as an error.
func (d *ThreatDetector) Analyze(ctx context.Context, req AnalysisRequest) (*models.ThreatDetection, error) {
	if req.FileHash == "" {
		req.FileHash = HashBytes(req.Data)
	}
	detectionID := d.newDetectionID()

	if cached := d.cachedDetection(ctx, req.FileHash); cached != nil {
		cached.DetectionID = detectionID
		cached.Cached = true
		return cached, nil
	}

	actx, cancel := context.WithTimeout(ctx, d.config.AnalysisTimeout)
	defer cancel()

	out := &analysisOutcome{}
	g, gctx := errgroup.WithContext(actx)
	if d.config.EnableHeuristics {
		g.Go(func() error {
			d.heuristicAnalysis(req.Data, out)
			return nil
		})
	}
	if d.config.EnableML && d.classifier != nil {
		g.Go(func() error {
			d.mlAnalysis(req.Data, out)
			return nil
		})
	}
	if d.config.EnableBehavioral && req.UserID != "" {
		g.Go(func() error {
			if err := d.behavioralAnalysis(gctx, req, out); err != nil {
				d.logger.WarnContext(ctx, "behavioral analysis failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	if d.config.EnableIntel {
		g.Go(func() error {
			if err := d.intelAnalysis(gctx, req.FileHash, out); err != nil {
				d.logger.WarnContext(ctx, "threat intel lookup failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if req.Validation != nil {
		for _, f := range req.Validation.Findings {
			out.indicators = append(out.indicators, models.ThreatIndicator{
				Source:      models.SourceHeuristic,
				Type:        models.ThreatUnknown,
				Confidence:  findingConfidence[f.Severity],
				Description: f.Message,
				Rule:        f.Code,
			})
		}
	}

	detection := &models.ThreatDetection{
		DetectionID: detectionID,
		FileHash:    req.FileHash,
		ThreatType:  threatType(out),
		Indicators:  out.indicators,
		IntelMatch:  out.intelMatch,
		DetectedAt:  d.now().UTC(),
	}
	if detection.Indicators == nil {
		detection.Indicators = []models.ThreatIndicator{}
	}
	d.score(detection)
	detection.Actions = responseActions(detection)
	detection.AutoRespond = (detection.Severity == models.SeverityCritical && d.config.AutoQuarantineCritical) ||
		(detection.Severity == models.SeverityHigh && d.config.AutoQuarantineHigh)

	d.cacheDetection(ctx, detection)
	if detection.HasAction(models.ActionNotifyAdmin) {
		d.notifyAdmins(ctx, req, detection)
	}

	d.logger.InfoContext(ctx, "threat analysis completed",
		slog.String("detection_id", detection.DetectionID),
		slog.String("file_hash", detection.FileHash),
		slog.String("threat_type", string(detection.ThreatType)),
		slog.String("severity", string(detection.Severity)),
		slog.Float64("risk_score", detection.RiskScore))

	return detection, nil
}

func (d *ThreatDetector) newDetectionID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("det_%s_%d", hex[:12], d.now().Unix())
}

func (d *ThreatDetector) heuristicAnalysis(data []byte, out *analysisOutcome) {
	content := head(data, heuristicWindow)
	var found []models.ThreatIndicator
	for _, rule := range heuristicRules {
		if score := rule.score(content); score > 0 {
			found = append(found, models.ThreatIndicator{
				Source:      models.SourceHeuristic,
				Type:        models.ThreatMalware,
				Confidence:  min(1.0, score),
				Description: rule.description,
				Rule:        rule.name,
			})
		}
	}
	if len(found) == 0 {
		return
	}
	out.add(found...)
	out.mu.Lock()
	out.heuristic = true
	out.mu.Unlock()
}

func (d *ThreatDetector) mlAnalysis(data []byte, out *analysisOutcome) {
	if len(data) == 0 {
		return
	}
	threat, confidence := d.classifier.Predict(Features(data))
	if !threat {
		return
	}
	out.add(models.ThreatIndicator{
		Source:      models.SourceMLModel,
		Type:        models.ThreatMalware,
		Confidence:  confidence,
		Description: "classifier predicts malicious content",
	})
	out.mu.Lock()
	out.mlThreat = true
	out.mu.Unlock()
}

// behavioralAnalysis scores the upload against the user's baseline and
// folds it into the profile in one optimistic transaction.
func (d *ThreatDetector) behavioralAnalysis(ctx context.Context, req AnalysisRequest, out *analysisOutcome) error {
	key := profilePrefix + req.UserID
	now := d.now().UTC()
	hour := now.Hour()
	fileType := strings.ToLower(filepath.Ext(req.FileName))
	size := int64(len(req.Data))

	var anomaly float64
	txf := func(tx *redis.Tx) error {
		profile := &BehaviorProfile{}
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, profile); err != nil {
				profile = &BehaviorProfile{}
			}
		}

		anomaly = behaviorAnomaly(profile, hour, fileType, size)
		updateProfile(profile, hour, fileType, size, now)

		encoded, err := json.Marshal(profile)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, profileTTL)
			return nil
		})
		return err
	}

	var err error
	for range profileRetries {
		err = d.kv.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return err
	}

	if anomaly > d.config.AnomalyThreshold {
		out.add(models.ThreatIndicator{
			Source:      models.SourceBehavioral,
			Type:        models.ThreatSuspiciousBehavior,
			Confidence:  min(1.0, anomaly),
			Description: fmt.Sprintf("upload deviates from user baseline (score %.2f)", anomaly),
		})
	}
	return nil
}

// behaviorAnomaly adds 0.3 for an unusual hour, 0.4 for a new file type and
// 0.3 for a size more than two standard deviations from the mean. An empty
// profile has no baseline and scores 0.
func behaviorAnomaly(p *BehaviorProfile, hour int, fileType string, size int64) float64 {
	if p.Uploads == 0 {
		return 0
	}
	score := 0.0
	if !slices.Contains(p.UploadHours, hour) {
		score += 0.3
	}
	if fileType != "" && !slices.Contains(p.FileTypes, fileType) {
		score += 0.4
	}
	std := p.StdFileSize
	if len(p.FileSizes) < 2 {
		std = p.AvgFileSize * 0.5
	}
	if math.Abs(float64(size)-p.AvgFileSize) > 2*std {
		score += 0.3
	}
	return min(1.0, score)
}

func updateProfile(p *BehaviorProfile, hour int, fileType string, size int64, now time.Time) {
	if !slices.Contains(p.UploadHours, hour) {
		p.UploadHours = append(p.UploadHours, hour)
	}
	if fileType != "" && !slices.Contains(p.FileTypes, fileType) {
		p.FileTypes = append(p.FileTypes, fileType)
	}
	if size > 0 {
		p.FileSizes = append(p.FileSizes, size)
		if len(p.FileSizes) > profileSizeWindow {
			p.FileSizes = p.FileSizes[len(p.FileSizes)-profileSizeWindow:]
		}
		var sum float64
		for _, s := range p.FileSizes {
			sum += float64(s)
		}
		p.AvgFileSize = sum / float64(len(p.FileSizes))
		if len(p.FileSizes) > 1 {
			var variance float64
			for _, s := range p.FileSizes {
				variance += math.Pow(float64(s)-p.AvgFileSize, 2)
			}
			p.StdFileSize = math.Sqrt(variance / float64(len(p.FileSizes)))
		}
	}
	p.Uploads++
	p.UpdatedAt = now
}

// GetBehaviorProfile returns the stored baseline for a user, or nil.
func (d *ThreatDetector) GetBehaviorProfile(ctx context.Context, userID string) (*BehaviorProfile, error) {
	raw, err := d.kv.Get(ctx, profilePrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	var p BehaviorProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *ThreatDetector) intelAnalysis(ctx context.Context, fileHash string, out *analysisOutcome) error {
	sources, err := d.kv.SMembers(ctx, intelSourcesKey).Result()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return nil
	}
	slices.Sort(sources)

	cmds := make([]*redis.StringCmd, len(sources))
	_, err = d.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, source := range sources {
			cmds[i] = pipe.HGet(ctx, intelPrefix+source, fileHash)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for i, cmd := range cmds {
		raw, err := cmd.Bytes()
		if err != nil {
			continue
		}
		var entry IntelEntry
		_ = json.Unmarshal(raw, &entry)

		typ := intelThreatType(entry.ThreatType)
		out.add(models.ThreatIndicator{
			Source:      models.SourceThreatIntelligence,
			Type:        typ,
			Confidence:  0.9,
			Description: "hash listed by " + sources[i],
			Family:      entry.Family,
		})
		out.mu.Lock()
		if !out.intelMatch {
			out.intelType = typ
		}
		out.intelMatch = true
		out.mu.Unlock()
	}
	return nil
}

func intelThreatType(s string) models.ThreatType {
	switch t := models.ThreatType(strings.ToLower(s)); t {
	case models.ThreatMalware, models.ThreatVirus, models.ThreatTrojan, models.ThreatRansomware,
		models.ThreatRootkit, models.ThreatSpyware, models.ThreatAdware, models.ThreatWorm:
		return t
	}
	return models.ThreatMalware
}

// UpdateIntel replaces the hash set of one feed source.
func (d *ThreatDetector) UpdateIntel(ctx context.Context, source string, entries []IntelEntry) error {
	key := intelPrefix + source
	fields := make(map[string]interface{}, len(entries))
	for _, e := range entries {
		encoded, err := json.Marshal(e)
		if err != nil {
			return err
		}
		fields[strings.ToLower(e.Hash)] = encoded
	}

	_, err := d.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		pipe.SAdd(ctx, intelSourcesKey, source)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return nil
}

func threatType(out *analysisOutcome) models.ThreatType {
	switch {
	case out.intelMatch:
		return out.intelType
	case out.heuristic, out.mlThreat:
		return models.ThreatMalware
	}
	return models.ThreatUnknown
}

// score sets confidence as the source-weighted mean of indicator
// confidences, then risk and severity.
func (d *ThreatDetector) score(det *models.ThreatDetection) {
	var weighted, total float64
	for _, ind := range det.Indicators {
		w, ok := sourceWeights[ind.Source]
		if !ok {
			w = 0.5
		}
		weighted += ind.Confidence * w
		total += w
	}
	if total > 0 {
		det.Confidence = min(1.0, weighted/total)
	}

	multiplier, ok := typeMultipliers[det.ThreatType]
	if !ok {
		multiplier = 1.0
	}
	det.RiskScore = min(1.0, det.Confidence*multiplier)

	switch {
	case det.RiskScore >= d.config.HighThreshold:
		det.Severity = models.SeverityCritical
	case det.RiskScore >= d.config.MediumThreshold:
		det.Severity = models.SeverityHigh
	case det.RiskScore >= d.config.LowThreshold:
		det.Severity = models.SeverityMedium
	default:
		det.Severity = models.SeverityLow
	}
}

func responseActions(det *models.ThreatDetection) []models.ResponseAction {
	actions := []models.ResponseAction{models.ActionLog}
	switch det.Severity {
	case models.SeverityCritical:
		actions = append(actions, models.ActionQuarantine, models.ActionBlock, models.ActionNotifyAdmin, models.ActionAlert)
	case models.SeverityHigh:
		actions = append(actions, models.ActionQuarantine, models.ActionAlert, models.ActionNotifyAdmin)
	case models.SeverityMedium:
		actions = append(actions, models.ActionAlert)
	}
	switch det.ThreatType {
	case models.ThreatRansomware:
		actions = append(actions, models.ActionIsolateUser, models.ActionScanSystem)
	case models.ThreatRootkit:
		actions = append(actions, models.ActionScanSystem)
	}
	return actions
}

func (d *ThreatDetector) notifyAdmins(ctx context.Context, req AnalysisRequest, det *models.ThreatDetection) {
	if d.notifier == nil {
		return
	}
	subject := fmt.Sprintf("%s threat detected", strings.ToUpper(string(det.Severity)))
	body := fmt.Sprintf("Detection: %s\nFile hash: %s\nThreat type: %s\nRisk score: %.2f\nUser: %s\n",
		det.DetectionID, det.FileHash, det.ThreatType, det.RiskScore, req.UserID)
	if err := d.notifier.NotifyAdmins(ctx, subject, body); err != nil {
		d.logger.WarnContext(ctx, "admin notification failed", slog.String("error", err.Error()))
	}
}

func (d *ThreatDetector) cachedDetection(ctx context.Context, fileHash string) *models.ThreatDetection {
	raw, err := d.kv.Get(ctx, detectionCachePrefix+fileHash).Bytes()
	if err != nil {
		return nil
	}
	var det models.ThreatDetection
	if err := json.Unmarshal(raw, &det); err != nil {
		return nil
	}
	return &det
}

func (d *ThreatDetector) cacheDetection(ctx context.Context, det *models.ThreatDetection) {
	raw, err := json.Marshal(det)
	if err != nil {
		return
	}
	if err := d.kv.Set(ctx, detectionCachePrefix+det.FileHash, raw, d.config.CacheTTL).Err(); err != nil {
		d.logger.WarnContext(ctx, "threat detection cache write failed", slog.String("error", err.Error()))
	}
}
