package filesecurity

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const intelFeedLimit = 64 << 20

// IntelRefresher downloads hash feeds and loads them into the detector.
// A feed is CSV or plain text: one row per hash, the first SHA-256 column is
// the hash, the next two optional columns are threat type and family.
// Lines starting with '#' are ignored.
type IntelRefresher struct {
	detector   *ThreatDetector
	feeds      map[string]string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIntelRefresher creates a refresher for feeds keyed by source name.
func NewIntelRefresher(detector *ThreatDetector, feeds map[string]string, httpClient *http.Client, logger *slog.Logger) *IntelRefresher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	return &IntelRefresher{detector: detector, feeds: feeds, httpClient: httpClient, logger: logger}
}

// Refresh reloads every feed and returns the number of hashes per source.
// A failing feed keeps its previous contents.
func (r *IntelRefresher) Refresh(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(r.feeds))
	var errs []error
	for source, url := range r.feeds {
		entries, err := r.fetchWithRetry(ctx, url)
		if err == nil {
			err = r.detector.UpdateIntel(ctx, source, entries)
		}
		if err != nil {
			r.logger.WarnContext(ctx, "threat intel feed refresh failed",
				slog.String("source", source),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", source, err))
			continue
		}
		counts[source] = len(entries)
		r.logger.InfoContext(ctx, "threat intel feed refreshed",
			slog.String("source", source),
			slog.Int("hashes", len(entries)))
	}
	return counts, errors.Join(errs...)
}

// fetchWithRetry retries transport errors and 5xx/429 responses with
// exponential backoff for up to a minute.
func (r *IntelRefresher) fetchWithRetry(ctx context.Context, url string) ([]IntelEntry, error) {
	var entries []IntelEntry
	operation := func() error {
		out, err := r.fetch(ctx, url)
		if err != nil {
			var status feedStatusError
			if errors.As(err, &status) && status < 500 && status != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		entries = out
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxElapsedTime = time.Minute

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, ctx)); err != nil {
		return nil, err
	}
	return entries, nil
}

type feedStatusError int

func (e feedStatusError) Error() string {
	return fmt.Sprintf("feed returned %d", int(e))
}

func (r *IntelRefresher) fetch(ctx context.Context, url string) ([]IntelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, feedStatusError(resp.StatusCode)
	}
	entries, err := ParseIntelFeed(io.LimitReader(resp.Body, intelFeedLimit))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	return entries, nil
}

// ParseIntelFeed reads hash rows from a feed body.
func ParseIntelFeed(body io.Reader) ([]IntelEntry, error) {
	reader := csv.NewReader(body)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var entries []IntelEntry
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}

		for i, field := range record {
			field = strings.TrimSpace(field)
			if !isSHA256(field) {
				continue
			}
			entry := IntelEntry{Hash: strings.ToLower(field)}
			if i+1 < len(record) {
				entry.ThreatType = strings.TrimSpace(record[i+1])
			}
			if i+2 < len(record) {
				entry.Family = strings.TrimSpace(record[i+2])
			}
			entries = append(entries, entry)
			break
		}
	}
	return entries, nil
}

func isSHA256(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
