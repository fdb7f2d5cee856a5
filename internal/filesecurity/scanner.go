package filesecurity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const scanCachePrefix = "scan_result:"

// Engine is one virus-scanning backend. Scan returns an error when the
// engine could not reach a verdict; the scanner then ignores it.
type Engine interface {
	Name() string
	Scan(ctx context.Context, fileName string, data []byte, fileHash string) (*models.EngineResult, error)
	Ping(ctx context.Context) error
}

// ScannerConfig holds virus scanner settings
type ScannerConfig struct {
	EngineTimeout time.Duration
	CacheTTL      time.Duration
}

// VirusScanner fans a file out to every configured engine and aggregates
// the verdicts. Results are cached by content hash.
type VirusScanner struct {
	kv      services.KeyValueStore
	engines []Engine
	config  ScannerConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewVirusScanner creates a new VirusScanner
func NewVirusScanner(kv services.KeyValueStore, engines []Engine, config ScannerConfig, logger *slog.Logger) *VirusScanner {
	if config.EngineTimeout <= 0 {
		config.EngineTimeout = 60 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = time.Hour
	}
	return &VirusScanner{
		kv:      kv,
		engines: engines,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Engines lists the configured engine names.
func (s *VirusScanner) Engines() []string {
	names := make([]string, 0, len(s.engines))
	for _, e := range s.engines {
		names = append(names, e.Name())
	}
	return names
}

// EngineStatus pings every engine. A nil value means the engine is reachable.
func (s *VirusScanner) EngineStatus(ctx context.Context) map[string]error {
	status := make(map[string]error, len(s.engines))
	for _, e := range s.engines {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status[e.Name()] = e.Ping(pingCtx)
		cancel()
	}
	return status
}

// Scan returns the aggregated verdict for data. A result with status
// ScanError means no engine produced a verdict.
func (s *VirusScanner) Scan(ctx context.Context, fileName string, data []byte) *models.ScanResult {
	fileHash := HashBytes(data)

	if cached := s.cached(ctx, fileHash); cached != nil {
		s.logger.InfoContext(ctx, "using cached scan result",
			slog.String("file_hash", fileHash),
			slog.String("status", string(cached.Status)))
		return cached
	}

	start := s.now()
	results := make([]models.EngineResult, len(s.engines))

	g, gctx := errgroup.WithContext(ctx)
	for i, engine := range s.engines {
		g.Go(func() error {
			results[i] = s.runEngine(gctx, engine, fileName, data, fileHash)
			return nil
		})
	}
	_ = g.Wait()

	result := aggregateScan(fileHash, results)
	result.ScanDuration = s.now().Sub(start)
	result.ScannedAt = s.now().UTC()
	metrics.ScanDuration.Observe(result.ScanDuration.Seconds())

	s.logger.InfoContext(ctx, "file scanned",
		slog.String("file_hash", fileHash),
		slog.String("status", string(result.Status)),
		slog.Int("threats", len(result.Threats)),
		slog.Duration("duration", result.ScanDuration))

	if result.Status != models.ScanError {
		s.store(ctx, result)
	}
	return result
}

func (s *VirusScanner) runEngine(ctx context.Context, engine Engine, fileName string, data []byte, fileHash string) models.EngineResult {
	ctx, cancel := context.WithTimeout(ctx, s.config.EngineTimeout)
	defer cancel()

	start := time.Now()
	res, err := engine.Scan(ctx, fileName, data, fileHash)
	if err == nil && res == nil {
		err = errors.New("engine returned no result")
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: timed out after %s", models.ErrScanIndeterminate, s.config.EngineTimeout)
		}
		s.logger.WarnContext(ctx, "scan engine failed",
			slog.String("engine", engine.Name()),
			slog.String("error", err.Error()))
		metrics.ScanEngineResults.WithLabelValues(engine.Name(), string(models.ScanError)).Inc()
		return models.EngineResult{
			Engine:   engine.Name(),
			Status:   models.ScanError,
			Duration: time.Since(start),
			Error:    err.Error(),
		}
	}

	res.Engine = engine.Name()
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	metrics.ScanEngineResults.WithLabelValues(engine.Name(), string(res.Status)).Inc()
	return *res
}

// aggregateScan combines per-engine verdicts. Errored engines do not count.
func aggregateScan(fileHash string, results []models.EngineResult) *models.ScanResult {
	out := &models.ScanResult{
		FileHash:      fileHash,
		Threats:       []models.DetectedThreat{},
		EnginesUsed:   []string{},
		EngineResults: results,
	}

	total, detections := 0, 0
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Status == models.ScanError {
			continue
		}
		total++
		out.EnginesUsed = append(out.EnginesUsed, r.Engine)
		if r.Status != models.ScanInfected && r.Status != models.ScanSuspicious {
			continue
		}
		detections++
		for _, t := range r.Threats {
			key := strings.ToLower(t.Name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out.Threats = append(out.Threats, t)
		}
	}

	switch {
	case total == 0:
		out.Status = models.ScanError
	case detections == 0:
		out.Status = models.ScanClean
		out.Confidence = 1.0
	case detections == total:
		out.Status = models.ScanInfected
		out.Confidence = min(0.9, float64(detections)/float64(total))
	default:
		out.Status = models.ScanSuspicious
		out.Confidence = float64(detections) / float64(total) * 0.5
	}
	return out
}

// ClassifyThreat maps an engine's signature name to a threat type.
func ClassifyThreat(name string) models.ThreatType {
	lower := strings.ToLower(name)
	containsAny := func(keywords ...string) bool {
		for _, k := range keywords {
			if strings.Contains(lower, k) {
				return true
			}
		}
		return false
	}

	switch {
	case containsAny("virus", "viral"):
		return models.ThreatVirus
	case containsAny("trojan", "trj"):
		return models.ThreatTrojan
	case containsAny("worm"):
		return models.ThreatWorm
	case containsAny("rootkit"):
		return models.ThreatRootkit
	case containsAny("adware", "adw"):
		return models.ThreatAdware
	case containsAny("spyware", "spy"):
		return models.ThreatSpyware
	case containsAny("ransom", "crypt", "locker"):
		return models.ThreatRansomware
	case containsAny("malware", "malicious"):
		return models.ThreatMalware
	case containsAny("suspicious", "suspect", "heur"):
		return models.ThreatSuspiciousBehavior
	}
	return models.ThreatUnknown
}

func (s *VirusScanner) cached(ctx context.Context, fileHash string) *models.ScanResult {
	raw, err := s.kv.Get(ctx, scanCachePrefix+fileHash).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.WarnContext(ctx, "scan cache read failed", slog.String("error", err.Error()))
		}
		return nil
	}
	var result models.ScanResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil
	}
	result.Cached = true
	return &result
}

func (s *VirusScanner) store(ctx context.Context, result *models.ScanResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.kv.Set(ctx, scanCachePrefix+result.FileHash, raw, s.config.CacheTTL).Err(); err != nil {
		s.logger.WarnContext(ctx, "scan cache write failed", slog.String("error", err.Error()))
	}
}

// StaticEngine returns a fixed verdict. It backs tests and offline
// deployments where no real engine is reachable.
type StaticEngine struct {
	EngineName string
	Result     models.EngineResult
	Err        error
	Delay      time.Duration

	mu    sync.Mutex
	calls int
}

func (e *StaticEngine) Name() string { return e.EngineName }

func (e *StaticEngine) Scan(ctx context.Context, fileName string, data []byte, fileHash string) (*models.EngineResult, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if e.Delay > 0 {
		select {
		case <-time.After(e.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	res := e.Result
	return &res, nil
}

func (e *StaticEngine) Ping(ctx context.Context) error { return e.Err }

// Calls reports how many scans were requested.
func (e *StaticEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}
