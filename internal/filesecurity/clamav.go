package filesecurity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/dutchcoders/go-clamd"
	cb "github.com/sony/gobreaker"
)

const clamAVConfidence = 0.9

// ClamAVEngine streams files to a clamd daemon over INSTREAM.
type ClamAVEngine struct {
	client  *clamd.Clamd
	breaker *cb.CircuitBreaker
	logger  *slog.Logger
}

// NewClamAVEngine creates an engine for a clamd address such as
// "tcp://localhost:3310" or "unix:///var/run/clamav/clamd.ctl".
func NewClamAVEngine(address string, logger *slog.Logger) *ClamAVEngine {
	return &ClamAVEngine{
		client:  clamd.NewClamd(address),
		breaker: newBreaker("clamav", logger),
		logger:  logger,
	}
}

// newBreaker trips after more than five consecutive failures and probes
// again after thirty seconds. An unknown hash is an answer, not a failure.
func newBreaker(name string, logger *slog.Logger) *cb.CircuitBreaker {
	return cb.NewCircuitBreaker(cb.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts cb.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrHashUnknown)
		},
		OnStateChange: func(name string, from, to cb.State) {
			logger.Warn("circuit breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

func (e *ClamAVEngine) Name() string { return "clamav" }

func (e *ClamAVEngine) Ping(ctx context.Context) error {
	_, err := e.breaker.Execute(func() (interface{}, error) {
		return nil, e.client.Ping()
	})
	return err
}

func (e *ClamAVEngine) Scan(ctx context.Context, fileName string, data []byte, fileHash string) (*models.EngineResult, error) {
	start := time.Now()
	out, err := e.breaker.Execute(func() (interface{}, error) {
		return e.scan(ctx, data)
	})
	if err != nil {
		return nil, fmt.Errorf("clamav scan: %w", err)
	}

	result := out.(*models.EngineResult)
	result.Duration = time.Since(start)
	return result, nil
}

func (e *ClamAVEngine) scan(ctx context.Context, data []byte) (*models.EngineResult, error) {
	// Closing abort releases the daemon connection
	abort := make(chan bool)
	defer close(abort)
	response, err := e.client.ScanStream(bytes.NewReader(data), abort)
	if err != nil {
		return nil, err
	}

	result := &models.EngineResult{Engine: e.Name(), Status: models.ScanClean}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res, ok := <-response:
			if !ok {
				return result, nil
			}
			switch res.Status {
			case clamd.RES_FOUND:
				name := res.Description
				result.Status = models.ScanInfected
				result.Threats = append(result.Threats, models.DetectedThreat{
					Name:       name,
					Type:       ClassifyThreat(name),
					Engine:     e.Name(),
					Confidence: clamAVConfidence,
				})
			case clamd.RES_ERROR, clamd.RES_PARSE_ERROR:
				return nil, errors.New(res.Description)
			}
		}
	}
}
