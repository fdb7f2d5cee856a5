package filesecurity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/cenkalti/backoff/v4"
	cb "github.com/sony/gobreaker"
)

const (
	reputationConfidence = 0.8
	suspiciousRatio      = 0.3
)

// ErrHashUnknown means the reputation service has no report for the hash.
var ErrHashUnknown = errors.New("hash not known to reputation service")

// ReputationEngine looks file hashes up in a VirusTotal-style report API:
// GET {base}/file/report?apikey=...&resource={sha256}.
type ReputationEngine struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *cb.CircuitBreaker
	logger     *slog.Logger
	maxRetry   time.Duration
}

// NewReputationEngine creates a new ReputationEngine
func NewReputationEngine(baseURL, apiKey string, httpClient *http.Client, logger *slog.Logger) *ReputationEngine {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ReputationEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		breaker:    newBreaker("reputation", logger),
		logger:     logger,
		maxRetry:   20 * time.Second,
	}
}

func (e *ReputationEngine) Name() string { return "reputation" }

type reputationReport struct {
	ResponseCode int `json:"response_code"`
	Positives    int `json:"positives"`
	Total        int `json:"total"`
	Scans        map[string]struct {
		Detected bool   `json:"detected"`
		Result   string `json:"result"`
	} `json:"scans"`
}

// retryableStatus marks responses worth another attempt.
type retryableStatus int

func (s retryableStatus) Error() string { return fmt.Sprintf("reputation service returned %d", int(s)) }

func (e *ReputationEngine) Ping(ctx context.Context) error {
	if e.baseURL == "" || e.apiKey == "" {
		return errors.New("reputation engine not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, e.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (e *ReputationEngine) Scan(ctx context.Context, fileName string, data []byte, fileHash string) (*models.EngineResult, error) {
	start := time.Now()
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.fetchWithRetry(ctx, fileHash)
	})
	if err != nil {
		return nil, fmt.Errorf("reputation lookup: %w", err)
	}

	result := parseReputation(out.(*reputationReport))
	result.Engine = e.Name()
	result.Duration = time.Since(start)
	return result, nil
}

func (e *ReputationEngine) fetchWithRetry(ctx context.Context, fileHash string) (*reputationReport, error) {
	var report *reputationReport
	operation := func() error {
		r, err := e.fetch(ctx, fileHash)
		if err != nil {
			var status retryableStatus
			if errors.As(err, &status) {
				return err
			}
			return backoff.Permanent(err)
		}
		report = r
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 500 * time.Millisecond
	expBackoff.MaxElapsedTime = e.maxRetry

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, err
	}
	return report, nil
}

func (e *ReputationEngine) fetch(ctx context.Context, fileHash string) (*reputationReport, error) {
	q := url.Values{}
	q.Set("apikey", e.apiKey)
	q.Set("resource", fileHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/file/report?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, retryableStatus(resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("reputation service returned %d", resp.StatusCode)
	}

	var report reputationReport
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if report.ResponseCode != 1 {
		return nil, ErrHashUnknown
	}
	return &report, nil
}

// parseReputation turns a report into a verdict. A minority of positive
// engines yields suspicious rather than infected.
func parseReputation(report *reputationReport) *models.EngineResult {
	result := &models.EngineResult{Status: models.ScanClean}
	for engine, scan := range report.Scans {
		if !scan.Detected {
			continue
		}
		name := scan.Result
		if name == "" {
			name = "Unknown"
		}
		result.Threats = append(result.Threats, models.DetectedThreat{
			Name:       name,
			Type:       ClassifyThreat(name),
			Engine:     engine,
			Confidence: reputationConfidence,
		})
	}

	sort.Slice(result.Threats, func(i, j int) bool { return result.Threats[i].Engine < result.Threats[j].Engine })

	if report.Positives > 0 {
		result.Status = models.ScanInfected
		if report.Total > 0 && float64(report.Positives)/float64(report.Total) < suspiciousRatio {
			result.Status = models.ScanSuspicious
		}
	}
	return result
}
