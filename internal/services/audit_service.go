package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	pkglogger "github.com/basanta2029/slidegenie-backend-sub001/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	auditStreamKey   = "audit:stream"
	auditIndexPrefix = "audit:index:"
	auditDateLayout  = "2006-01-02"

	defaultQueryLimit  = 100
	maxQueryLimit      = 1000
	defaultQueryRange  = 7 * 24 * time.Hour
	maxQueryDays       = 366
	tempQueryTTL       = 60 * time.Second
	streamReadCount    = 10
	streamReadBlock    = time.Second
	exportPageSize     = 1000
	defaultStreamLimit = 10000
)

// Export formats accepted by ExportAuditLog.
const (
	ExportFormatJSON = "json"
	ExportFormatCSV  = "csv"
)

// AuditConfig holds configuration for the audit logger. Async enables the
// batched write path drained by Run and Close.
type AuditConfig struct {
	RetentionDays int
	StreamMaxLen  int64
	Async         bool
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// AuditService records security events in the store with one primary entry,
// a secondary index per dimension, and an append-only stream.
type AuditService struct {
	kv       KeyValueStore
	config   AuditConfig
	fallback *pkglogger.AuditLogger
	logger   *slog.Logger
	now      func() time.Time

	// lastMicro keeps entry IDs unique when two events share a microsecond.
	lastMicro atomic.Int64

	queue     chan models.AuditLogEntry
	closed    atomic.Bool
	closeOnce sync.Once
	// stop asks Run to finish; done is closed once Run has written its batch.
	stop    chan struct{}
	done    chan struct{}
	running atomic.Bool
}

// NewAuditService creates a new AuditService
func NewAuditService(kv KeyValueStore, config AuditConfig, logger *slog.Logger) *AuditService {
	if config.RetentionDays <= 0 {
		config.RetentionDays = 90
	}
	if config.StreamMaxLen <= 0 {
		config.StreamMaxLen = defaultStreamLimit
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.BatchSize * 10
	}

	s := &AuditService{
		kv:       kv,
		config:   config,
		fallback: pkglogger.NewAuditLogger(logger),
		logger:   logger,
		now:      time.Now,
	}
	if config.Async {
		s.queue = make(chan models.AuditLogEntry, config.QueueSize)
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
	}
	return s
}

// WithClock replaces the time source. Intended for tests.
func (s *AuditService) WithClock(now func() time.Time) *AuditService {
	s.now = now
	return s
}

func (s *AuditService) retention() time.Duration {
	return time.Duration(s.config.RetentionDays) * 24 * time.Hour
}

func auditEntryKey(id string) string { return "entry:" + id }

func auditIndexKey(dimension, value string) string {
	return auditIndexPrefix + dimension + ":" + value
}

func auditDateKey(t time.Time) string {
	return auditIndexKey("date", t.UTC().Format(auditDateLayout))
}

// nextMicro returns a strictly increasing microsecond timestamp.
func (s *AuditService) nextMicro(t time.Time) int64 {
	micro := t.UnixMicro()
	for {
		last := s.lastMicro.Load()
		if micro <= last {
			micro = last + 1
		}
		if s.lastMicro.CompareAndSwap(last, micro) {
			return micro
		}
	}
}

// LogEvent records an event and returns its ID. It never fails: when the
// store write fails the entry goes to the process log instead.
func (s *AuditService) LogEvent(ctx context.Context, params models.AuditEventParams) string {
	severity := params.Severity
	if severity == "" {
		severity = params.Event.DefaultSeverity()
	}

	micro := s.nextMicro(s.now())
	entry := models.AuditLogEntry{
		ID:        fmt.Sprintf("%d:%s", micro, params.Event),
		Event:     params.Event,
		Severity:  severity,
		Timestamp: time.UnixMicro(micro).UTC(),
		UserID:    params.UserID,
		IPAddress: params.IPAddress,
		UserAgent: params.UserAgent,
		SessionID: params.SessionID,
		RequestID: params.RequestID,
		Details:   models.AuditMetadata(params.Details),
		Metadata:  models.AuditMetadata(params.Metadata),
	}

	if s.queue != nil && !s.closed.Load() {
		select {
		case s.queue <- entry:
			return entry.ID
		default:
			// Queue full, write inline
		}
	}

	s.write(ctx, []models.AuditLogEntry{entry})
	return entry.ID
}

// write persists entries in one transaction: primary entry, dimension
// indexes and stream append.
func (s *AuditService) write(ctx context.Context, entries []models.AuditLogEntry) {
	if len(entries) == 0 {
		return
	}

	payloads := make([][]byte, len(entries))
	for i, entry := range entries {
		payload, err := json.Marshal(entry)
		if err != nil {
			s.writeFallback(ctx, entry, err)
			continue
		}
		payloads[i] = payload
	}

	ttl := s.retention()
	_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, entry := range entries {
			if payloads[i] == nil {
				continue
			}
			pipe.Set(ctx, auditEntryKey(entry.ID), payloads[i], ttl)

			score := float64(entry.Timestamp.UnixMicro())
			for _, key := range entryIndexKeys(entry) {
				pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: entry.ID})
				pipe.Expire(ctx, key, ttl)
			}

			pipe.XAdd(ctx, &redis.XAddArgs{
				Stream: auditStreamKey,
				MaxLen: s.config.StreamMaxLen,
				Approx: true,
				Values: map[string]interface{}{"data": payloads[i]},
			})
		}
		return nil
	})

	for i, entry := range entries {
		if payloads[i] == nil {
			continue
		}
		if err != nil {
			s.writeFallback(ctx, entry, err)
			continue
		}
		metrics.AuditEventsTotal.WithLabelValues(string(entry.Event), "stored").Inc()
	}
}

func (s *AuditService) writeFallback(ctx context.Context, entry models.AuditLogEntry, cause error) {
	metrics.AuditEventsTotal.WithLabelValues(string(entry.Event), "fallback").Inc()
	s.fallback.LogFallback(ctx, pkglogger.AuditRecord{
		ID:        entry.ID,
		Event:     string(entry.Event),
		Severity:  string(entry.Severity),
		Timestamp: entry.Timestamp,
		UserID:    entry.UserID,
		IPAddress: entry.IPAddress,
		UserAgent: entry.UserAgent,
		SessionID: entry.SessionID,
		RequestID: entry.RequestID,
		Details:   entry.Details,
	}, cause)
}

func entryIndexKeys(entry models.AuditLogEntry) []string {
	keys := make([]string, 0, 5)
	if entry.UserID != "" {
		keys = append(keys, auditIndexKey("user", entry.UserID))
	}
	keys = append(keys, auditIndexKey("event", string(entry.Event)))
	keys = append(keys, auditIndexKey("severity", string(entry.Severity)))
	if entry.IPAddress != "" {
		keys = append(keys, auditIndexKey("ip", entry.IPAddress))
	}
	keys = append(keys, auditDateKey(entry.Timestamp))
	return keys
}

// Run flushes queued entries in batches until ctx is cancelled or Close is
// called, then drains what is left. It is a no-op in synchronous mode, and
// only the first call runs.
func (s *AuditService) Run(ctx context.Context) {
	if s.queue == nil || !s.running.CompareAndSwap(false, true) {
		return
	}
	defer close(s.done)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.AuditLogEntry, 0, s.config.BatchSize)
	flush := func(ctx context.Context) {
		s.write(ctx, batch)
		batch = batch[:0]
	}
	finish := func() {
		drainCtx := context.WithoutCancel(ctx)
		flush(drainCtx)
		s.drain(drainCtx)
	}

	for {
		select {
		case <-ctx.Done():
			finish()
			return
		case <-s.stop:
			finish()
			return
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= s.config.BatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

// Close stops accepting queued entries, waits for a running Run to write the
// batch it holds, then writes everything still queued.
func (s *AuditService) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.stop != nil {
			close(s.stop)
		}
	})
	if s.running.Load() {
		select {
		case <-s.done:
		case <-ctx.Done():
			s.logger.WarnContext(ctx, "audit writer did not finish before shutdown deadline")
		}
	}
	s.drain(ctx)
}

func (s *AuditService) drain(ctx context.Context) {
	if s.queue == nil {
		return
	}
	batch := make([]models.AuditLogEntry, 0, s.config.BatchSize)
	for {
		select {
		case entry := <-s.queue:
			batch = append(batch, entry)
			if len(batch) >= s.config.BatchSize {
				s.write(ctx, batch)
				batch = batch[:0]
			}
		default:
			s.write(ctx, batch)
			return
		}
	}
}

// QueryLogs returns entries matching every filter in q, newest first.
// Without a dimension filter the calendar-day indexes are used.
func (s *AuditService) QueryLogs(ctx context.Context, q models.AuditQuery) ([]models.AuditLogEntry, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	minScore, maxScore := "-inf", "+inf"
	if q.StartDate != nil {
		minScore = strconv.FormatInt(q.StartDate.UnixMicro(), 10)
	}
	if q.EndDate != nil {
		maxScore = strconv.FormatInt(q.EndDate.UnixMicro(), 10)
	}

	var keys []string
	if q.UserID != "" {
		keys = append(keys, auditIndexKey("user", q.UserID))
	}
	if q.Event != "" {
		keys = append(keys, auditIndexKey("event", string(q.Event)))
	}
	if q.Severity != "" {
		keys = append(keys, auditIndexKey("severity", string(q.Severity)))
	}
	if q.IPAddress != "" {
		keys = append(keys, auditIndexKey("ip", q.IPAddress))
	}

	intersect := len(keys) > 0
	if !intersect {
		now := s.now()
		if q.StartDate == nil && q.EndDate == nil {
			keys = []string{auditDateKey(now)}
		} else {
			start, end := now.Add(-defaultQueryRange), now
			if q.StartDate != nil {
				start = *q.StartDate
			}
			if q.EndDate != nil {
				end = *q.EndDate
			}
			keys = dateRangeKeys(start, end)
			if len(keys) == 0 {
				return []models.AuditLogEntry{}, nil
			}
			minScore = strconv.FormatInt(start.UnixMicro(), 10)
			maxScore = strconv.FormatInt(end.UnixMicro(), 10)
		}
	}

	source := keys[0]
	if len(keys) > 1 {
		source = "temp:query:" + uuid.NewString()
		_, err := s.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			store := &redis.ZStore{Keys: keys, Aggregate: "MAX"}
			if intersect {
				pipe.ZInterStore(ctx, source, store)
			} else {
				pipe.ZUnionStore(ctx, source, store)
			}
			pipe.Expire(ctx, source, tempQueryTTL)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("combine audit indexes: %w", err)
		}
		defer func() {
			if err := s.kv.Del(context.WithoutCancel(ctx), source).Err(); err != nil {
				s.logger.Warn("failed to delete temporary query key", slog.String("key", source), slog.Any("error", err))
			}
		}()
	}

	ids, err := s.kv.ZRevRangeByScore(ctx, source, &redis.ZRangeBy{
		Min:    minScore,
		Max:    maxScore,
		Offset: int64(offset),
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query audit index: %w", err)
	}

	return s.loadEntries(ctx, ids)
}

// dateRangeKeys lists the day index keys covering [start, end].
func dateRangeKeys(start, end time.Time) []string {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return nil
	}
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	var keys []string
	for !day.After(end) && len(keys) < maxQueryDays {
		keys = append(keys, auditDateKey(day))
		day = day.AddDate(0, 0, 1)
	}
	return keys
}

func (s *AuditService) loadEntries(ctx context.Context, ids []string) ([]models.AuditLogEntry, error) {
	entries := make([]models.AuditLogEntry, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = auditEntryKey(id)
	}
	values, err := s.kv.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Entry expired ahead of its index
			continue
		}
		var entry models.AuditLogEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			s.logger.Warn("skipping malformed audit entry", slog.Any("error", err))
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// GetUserActivity summarizes the last days of a user's audit trail.
func (s *AuditService) GetUserActivity(ctx context.Context, userID string, days int) (*models.UserActivity, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", models.ErrBadRequest)
	}
	if days <= 0 {
		days = 7
	}

	start := s.now().Add(-time.Duration(days) * 24 * time.Hour)
	events, err := s.QueryLogs(ctx, models.AuditQuery{UserID: userID, StartDate: &start, Limit: maxQueryLimit})
	if err != nil {
		return nil, err
	}

	activity := &models.UserActivity{
		UserID:           userID,
		PeriodDays:       days,
		TotalEvents:      len(events),
		EventsByType:     make(map[models.AuditEvent]int),
		EventsBySeverity: make(map[models.AuditSeverity]int),
		RecentEvents:     events[:min(len(events), 10)],
	}

	for _, e := range events {
		activity.EventsByType[e.Event]++
		activity.EventsBySeverity[e.Severity]++

		switch e.Event {
		case models.EventLoginSuccess:
			activity.LoginCount++
			if activity.LastLogin == nil {
				ts := e.Timestamp
				activity.LastLogin = &ts
			}
		case models.EventLoginFailure:
			activity.FailedLoginCount++
		case models.EventSuspiciousActivity, models.EventBruteForceDetected, models.EventAccountLocked:
			activity.SuspiciousActivity = true
		}
	}

	return activity, nil
}

// GetSecurityMetrics aggregates WARNING and above events over the last hours.
// Counts come straight from the indexes; only the critical event list is
// capped at maxQueryLimit.
func (s *AuditService) GetSecurityMetrics(ctx context.Context, hours int) (*models.SecurityMetrics, error) {
	if hours <= 0 {
		hours = 24
	}
	now := s.now()
	start := now.Add(-time.Duration(hours) * time.Hour)
	minScore := strconv.FormatInt(start.UnixMicro(), 10)
	maxScore := strconv.FormatInt(now.UnixMicro(), 10)

	severities := []models.AuditSeverity{models.AuditSeverityCritical, models.AuditSeverityError, models.AuditSeverityWarning}
	events := []models.AuditEvent{
		models.EventLoginFailure,
		models.EventLoginSuccess,
		models.EventAccountLocked,
		models.EventSuspiciousActivity,
		models.EventRateLimitExceeded,
	}

	severityCounts := make([]*redis.IntCmd, len(severities))
	eventCounts := make(map[models.AuditEvent]*redis.IntCmd, len(events))
	_, err := s.kv.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, sev := range severities {
			severityCounts[i] = pipe.ZCount(ctx, auditIndexKey("severity", string(sev)), minScore, maxScore)
		}
		for _, ev := range events {
			eventCounts[ev] = pipe.ZCount(ctx, auditIndexKey("event", string(ev)), minScore, maxScore)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("count audit events: %w", err)
	}

	m := &models.SecurityMetrics{
		PeriodHours:          hours,
		FailedLogins:         int(eventCounts[models.EventLoginFailure].Val()),
		SuccessfulLogins:     int(eventCounts[models.EventLoginSuccess].Val()),
		AccountLockouts:      int(eventCounts[models.EventAccountLocked].Val()),
		SuspiciousActivities: int(eventCounts[models.EventSuspiciousActivity].Val()),
		RateLimitHits:        int(eventCounts[models.EventRateLimitExceeded].Val()),
	}
	for _, c := range severityCounts {
		m.TotalEvents += int(c.Val())
	}

	m.CriticalEvents, err = s.QueryLogs(ctx, models.AuditQuery{Severity: models.AuditSeverityCritical, StartDate: &start, EndDate: &now, Limit: maxQueryLimit})
	if err != nil {
		return nil, err
	}

	users := make(map[string]struct{})
	ips := make(map[string]struct{})
	for _, sev := range severities {
		err := s.scanIndex(ctx, auditIndexKey("severity", string(sev)), minScore, maxScore, func(e models.AuditLogEntry) {
			if e.UserID != "" {
				users[e.UserID] = struct{}{}
			}
			if e.IPAddress != "" {
				ips[e.IPAddress] = struct{}{}
			}
		})
		if err != nil {
			return nil, err
		}
	}
	m.UniqueUsers = len(users)
	m.UniqueIPs = len(ips)
	return m, nil
}

// scanIndex loads every entry of an index within the score range, one page
// at a time.
func (s *AuditService) scanIndex(ctx context.Context, key, minScore, maxScore string, fn func(models.AuditLogEntry)) error {
	for offset := int64(0); ; offset += exportPageSize {
		ids, err := s.kv.ZRangeByScore(ctx, key, &redis.ZRangeBy{
			Min:    minScore,
			Max:    maxScore,
			Offset: offset,
			Count:  exportPageSize,
		}).Result()
		if err != nil {
			return fmt.Errorf("scan audit index: %w", err)
		}
		entries, err := s.loadEntries(ctx, ids)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fn(e)
		}
		if len(ids) < exportPageSize {
			return nil
		}
	}
}

// StreamEvents delivers new stream entries to callback until ctx is
// cancelled. An empty startID means "only events after now". When filter is
// non-empty only those event types are delivered.
func (s *AuditService) StreamEvents(ctx context.Context, startID string, filter []models.AuditEvent, callback func(models.AuditLogEntry) error) error {
	lastID := startID
	if lastID == "" {
		// Pin "now" to a concrete ID so nothing is missed between reads
		latest, err := s.kv.XRevRangeN(ctx, auditStreamKey, "+", "-", 1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read audit stream tail: %w", err)
		}
		lastID = "0-0"
		if len(latest) > 0 {
			lastID = latest[0].ID
		}
	}

	allowed := make(map[models.AuditEvent]bool, len(filter))
	for _, e := range filter {
		allowed[e] = true
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		streams, err := s.kv.XRead(ctx, &redis.XReadArgs{
			Streams: []string{auditStreamKey, lastID},
			Count:   streamReadCount,
			Block:   streamReadBlock,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read audit stream: %w", err)
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				lastID = msg.ID
				entry, ok := decodeStreamMessage(msg)
				if !ok {
					continue
				}
				if len(allowed) > 0 && !allowed[entry.Event] {
					continue
				}
				if err := callback(entry); err != nil {
					s.logger.Error("audit stream callback failed",
						slog.String("entry_id", entry.ID),
						slog.Any("error", err))
				}
			}
		}
	}
}

// StreamMessage is one raw stream record, used by the archive job.
type StreamMessage struct {
	StreamID string
	Entry    models.AuditLogEntry
}

// ReadStreamAfter returns up to count stream records with IDs greater than
// afterID, oldest first. An empty afterID starts from the beginning.
func (s *AuditService) ReadStreamAfter(ctx context.Context, afterID string, count int64) ([]StreamMessage, error) {
	start := "-"
	if afterID != "" {
		start = afterID
	}
	msgs, err := s.kv.XRangeN(ctx, auditStreamKey, start, "+", count+1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit stream: %w", err)
	}

	out := make([]StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		if msg.ID == afterID {
			continue
		}
		entry, ok := decodeStreamMessage(msg)
		if !ok {
			continue
		}
		out = append(out, StreamMessage{StreamID: msg.ID, Entry: entry})
		if int64(len(out)) == count {
			break
		}
	}
	return out, nil
}

func decodeStreamMessage(msg redis.XMessage) (models.AuditLogEntry, bool) {
	var entry models.AuditLogEntry
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return entry, false
	}
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return entry, false
	}
	return entry, true
}

// ExportRequest selects the entries written by ExportAuditLog.
type ExportRequest struct {
	Start       time.Time
	End         time.Time
	Format      string
	RequestedBy string
	IPAddress   string
}

var exportColumns = []string{
	"id", "timestamp", "event", "severity", "user_id", "ip_address",
	"user_agent", "session_id", "request_id", "details",
}

// ExportAuditLog writes every entry in [Start, End] to w and returns the
// number written. The export itself is audited as DATA_EXPORT.
func (s *AuditService) ExportAuditLog(ctx context.Context, w io.Writer, req ExportRequest) (int, error) {
	if req.Format == "" {
		req.Format = ExportFormatJSON
	}
	if req.Format != ExportFormatJSON && req.Format != ExportFormatCSV {
		return 0, fmt.Errorf("%w: unsupported export format %q", models.ErrBadRequest, req.Format)
	}
	if req.End.IsZero() {
		req.End = s.now()
	}
	if req.Start.IsZero() {
		req.Start = req.End.Add(-defaultQueryRange)
	}
	if req.End.Before(req.Start) {
		return 0, fmt.Errorf("%w: export end precedes start", models.ErrBadRequest)
	}

	var entries []models.AuditLogEntry
	for offset := 0; ; offset += exportPageSize {
		page, err := s.QueryLogs(ctx, models.AuditQuery{
			StartDate: &req.Start,
			EndDate:   &req.End,
			Limit:     exportPageSize,
			Offset:    offset,
		})
		if err != nil {
			return 0, err
		}
		entries = append(entries, page...)
		if len(page) < exportPageSize {
			break
		}
	}

	var err error
	switch req.Format {
	case ExportFormatCSV:
		err = writeCSVExport(w, entries)
	default:
		err = json.NewEncoder(w).Encode(map[string]interface{}{
			"export_info": map[string]interface{}{
				"start":       req.Start.UTC(),
				"end":         req.End.UTC(),
				"total":       len(entries),
				"exported_at": s.now().UTC(),
			},
			"events": entries,
		})
	}
	if err != nil {
		return 0, fmt.Errorf("write audit export: %w", err)
	}

	s.LogEvent(ctx, models.AuditEventParams{
		Event:     models.EventDataExport,
		UserID:    req.RequestedBy,
		IPAddress: req.IPAddress,
		Details: map[string]interface{}{
			"resource": "audit_log",
			"format":   req.Format,
			"count":    len(entries),
			"start":    req.Start.UTC().Format(time.RFC3339),
			"end":      req.End.UTC().Format(time.RFC3339),
		},
	})

	return len(entries), nil
}

func writeCSVExport(w io.Writer, entries []models.AuditLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, e := range entries {
		details, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		if err := cw.Write([]string{
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Event),
			string(e.Severity),
			e.UserID,
			e.IPAddress,
			e.UserAgent,
			e.SessionID,
			e.RequestID,
			string(details),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
