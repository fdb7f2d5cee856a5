package filesecurity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/metrics"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	quarantineKeyPrefix = "quarantine:"
	quarantineExpiryKey = "quarantine:expiry"
	quarantineExt       = ".quar"
	encryptionKeyFile   = ".encryption_key"
	defaultListLimit    = 100
)

// QuarantineConfig configures the quarantine manager.
type QuarantineConfig struct {
	Root          string
	RetentionDays int
	Compress      bool
	Encrypt       bool
	MaxFileSize   int64
	MaxTotalSize  int64
}

// DefaultQuarantineConfig returns the production defaults rooted at root.
func DefaultQuarantineConfig(root string) QuarantineConfig {
	return QuarantineConfig{
		Root:          root,
		RetentionDays: 30,
		Compress:      true,
		Encrypt:       true,
		MaxFileSize:   500 * 1024 * 1024,
		MaxTotalSize:  10 * 1024 * 1024 * 1024,
	}
}

// QuarantineRequest describes content to isolate.
type QuarantineRequest struct {
	Data          []byte
	FileName      string
	OriginalPath  string
	Reason        models.QuarantineReason
	UserID        string
	SessionID     string
	ThreatDetails map[string]interface{}
}

// QuarantineFilter narrows List. Zero values mean "no filter"; Limit <= 0
// uses the default page size.
type QuarantineFilter struct {
	Status models.QuarantineStatus
	Reason models.QuarantineReason
	UserID string
	Limit  int
}

// QuarantineManager isolates dangerous files on the local filesystem.
// Records are dual-written: records/{id}.json is authoritative, the store
// copy is a TTL-bound cache shared across replicas.
type QuarantineManager struct {
	kv     services.KeyValueStore
	config QuarantineConfig
	sealer *Sealer
	mirror Mirror
	audit  services.AuditRecorder
	logger *slog.Logger
	now    func() time.Time

	logMu sync.Mutex
}

// NewQuarantineManager prepares the directory layout and loads or creates the
// encryption key. mirror may be nil.
func NewQuarantineManager(kv services.KeyValueStore, config QuarantineConfig, mirror Mirror, audit services.AuditRecorder, logger *slog.Logger) (*QuarantineManager, error) {
	defaults := DefaultQuarantineConfig(config.Root)
	if config.Root == "" {
		return nil, errors.New("quarantine root is required")
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = defaults.RetentionDays
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = defaults.MaxFileSize
	}
	if config.MaxTotalSize <= 0 {
		config.MaxTotalSize = defaults.MaxTotalSize
	}

	for _, dir := range []string{"", "files", "records", "temp", "logs"} {
		if err := os.MkdirAll(filepath.Join(config.Root, dir), 0o700); err != nil {
			return nil, fmt.Errorf("create quarantine directory: %w", err)
		}
	}

	m := &QuarantineManager{
		kv:     kv,
		config: config,
		mirror: mirror,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}

	if config.Encrypt {
		key, err := LoadOrCreateKey(filepath.Join(config.Root, encryptionKeyFile))
		if err != nil {
			return nil, err
		}
		if m.sealer, err = NewSealer(key); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithClock overrides the time source.
func (m *QuarantineManager) WithClock(now func() time.Time) *QuarantineManager {
	m.now = now
	return m
}

func (m *QuarantineManager) newQuarantineID() string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("quar_%s_%d", hex[:16], m.now().Unix())
}

func (m *QuarantineManager) ciphertextPath(id string) string {
	return filepath.Join(m.config.Root, "files", id[5:7], id+quarantineExt)
}

func (m *QuarantineManager) recordPath(id string) string {
	return filepath.Join(m.config.Root, "records", id+".json")
}

// Quarantine stores req.Data compressed and encrypted, then writes the record.
func (m *QuarantineManager) Quarantine(ctx context.Context, req QuarantineRequest) (*models.QuarantineRecord, error) {
	size := int64(len(req.Data))
	if size > m.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds quarantine limit %d", models.ErrFileTooLarge, size, m.config.MaxFileSize)
	}
	if err := m.ensureSpace(ctx, size); err != nil {
		return nil, err
	}

	now := m.now().UTC()
	id := m.newQuarantineID()
	name := req.FileName
	if name == "" {
		name = filepath.Base(req.OriginalPath)
	}
	if req.Reason == "" {
		req.Reason = models.QuarantineManual
	}

	record := &models.QuarantineRecord{
		QuarantineID:   id,
		OriginalPath:   req.OriginalPath,
		OriginalName:   name,
		QuarantinePath: m.ciphertextPath(id),
		FileHash:       HashBytes(req.Data),
		FileSize:       size,
		Reason:         req.Reason,
		Status:         models.QuarantineStatusQuarantined,
		UserID:         req.UserID,
		QuarantinedAt:  now,
		RetentionUntil: now.Add(time.Duration(m.config.RetentionDays) * 24 * time.Hour),
		Encrypted:      m.sealer != nil,
		Compressed:     m.config.Compress,
		ThreatDetails:  req.ThreatDetails,
	}

	sealed, err := m.seal(record, req.Data)
	if err != nil {
		return nil, err
	}
	record.StoredSize = int64(len(sealed))

	if err := m.writeCiphertext(record.QuarantinePath, sealed); err != nil {
		return nil, err
	}

	if m.mirror != nil {
		key := "quarantine/" + id + quarantineExt
		if err := m.mirror.Put(ctx, key, sealed); err != nil {
			m.logger.WarnContext(ctx, "quarantine mirror upload failed",
				slog.String("quarantine_id", id),
				slog.String("error", err.Error()))
		} else {
			record.MirrorKey = key
		}
	}

	if err := m.saveRecord(ctx, record); err != nil {
		_ = os.Remove(record.QuarantinePath)
		return nil, err
	}

	m.appendLog("QUARANTINE", id, "reason", string(record.Reason), "hash", record.FileHash, "size", size)
	m.audit.LogEvent(ctx, models.AuditEventParams{
		Event:     models.EventFileQuarantined,
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Details: map[string]interface{}{
			"quarantine_id": id,
			"file_name":     name,
			"file_hash":     record.FileHash,
			"file_size":     size,
			"reason":        string(record.Reason),
		},
	})
	metrics.QuarantineOperations.WithLabelValues("quarantine").Inc()
	metrics.QuarantineBytes.Add(float64(record.StoredSize))

	m.logger.InfoContext(ctx, "file quarantined",
		slog.String("quarantine_id", id),
		slog.String("reason", string(record.Reason)),
		slog.String("file_hash", record.FileHash),
		slog.Int64("file_size", size))

	return record, nil
}

// QuarantineFile isolates the file at path and removes the original.
func (m *QuarantineManager) QuarantineFile(ctx context.Context, path string, req QuarantineRequest) (*models.QuarantineRecord, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > m.config.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds quarantine limit %d", models.ErrFileTooLarge, info.Size(), m.config.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	req.Data = data
	req.OriginalPath = path
	record, err := m.Quarantine(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.ErrorContext(ctx, "failed to remove quarantined original",
			slog.String("quarantine_id", record.QuarantineID),
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
	return record, nil
}

func (m *QuarantineManager) seal(record *models.QuarantineRecord, data []byte) ([]byte, error) {
	out := data
	if record.Compressed {
		compressed, err := compress(out)
		if err != nil {
			return nil, fmt.Errorf("compress quarantined file: %w", err)
		}
		out = compressed
	}
	if record.Encrypted {
		return m.sealer.Seal(out, record.QuarantineID)
	}
	return out, nil
}

func (m *QuarantineManager) unseal(record *models.QuarantineRecord, sealed []byte) ([]byte, error) {
	out := sealed
	if record.Encrypted {
		if m.sealer == nil {
			return nil, errors.New("quarantined file is encrypted but encryption is disabled")
		}
		plain, err := m.sealer.Open(out, record.QuarantineID)
		if err != nil {
			return nil, err
		}
		out = plain
	}
	if record.Compressed {
		plain, err := decompress(out, m.config.MaxFileSize)
		if err != nil {
			return nil, err
		}
		out = plain
	}
	if HashBytes(out) != record.FileHash {
		return nil, fmt.Errorf("quarantined file %s failed integrity check", record.QuarantineID)
	}
	return out, nil
}

// readContent returns the original bytes, falling back to the mirror when the
// local ciphertext is missing.
func (m *QuarantineManager) readContent(ctx context.Context, record *models.QuarantineRecord) ([]byte, error) {
	sealed, err := os.ReadFile(record.QuarantinePath)
	if errors.Is(err, os.ErrNotExist) && m.mirror != nil && record.MirrorKey != "" {
		sealed, err = m.mirror.Get(ctx, record.MirrorKey)
	}
	if err != nil {
		return nil, fmt.Errorf("read quarantined file: %w", err)
	}
	return m.unseal(record, sealed)
}

// writeCiphertext stages the blob in temp/ and renames it into place.
func (m *QuarantineManager) writeCiphertext(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create quarantine shard: %w", err)
	}
	return writeFileAtomic(filepath.Join(m.config.Root, "temp"), path, data)
}

func writeFileAtomic(tempDir, path string, data []byte) error {
	tmp, err := os.CreateTemp(tempDir, "stage-*")
	if err != nil {
		return fmt.Errorf("stage quarantine write: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (m *QuarantineManager) removeCiphertext(ctx context.Context, record *models.QuarantineRecord) {
	info, err := os.Stat(record.QuarantinePath)
	if err == nil {
		if err := os.Remove(record.QuarantinePath); err != nil {
			m.logger.ErrorContext(ctx, "failed to remove quarantined file",
				slog.String("quarantine_id", record.QuarantineID),
				slog.String("error", err.Error()))
		} else {
			metrics.QuarantineBytes.Sub(float64(info.Size()))
		}
	}
	if m.mirror != nil && record.MirrorKey != "" {
		if err := m.mirror.Delete(ctx, record.MirrorKey); err != nil {
			m.logger.WarnContext(ctx, "quarantine mirror delete failed",
				slog.String("quarantine_id", record.QuarantineID),
				slog.String("error", err.Error()))
		}
	}
}

// saveRecord writes the filesystem record first; the store copy is best
// effort.
func (m *QuarantineManager) saveRecord(ctx context.Context, record *models.QuarantineRecord) error {
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal quarantine record: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(m.config.Root, "temp"), m.recordPath(record.QuarantineID), payload); err != nil {
		return fmt.Errorf("save quarantine record: %w", err)
	}

	key := quarantineKeyPrefix + record.QuarantineID
	ttl := record.RetentionUntil.Sub(m.now())
	_, err = m.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if ttl <= 0 {
			pipe.Del(ctx, key)
		} else {
			pipe.Set(ctx, key, payload, ttl)
		}
		switch record.Status {
		case models.QuarantineStatusQuarantined, models.QuarantineStatusUnderAnalysis, models.QuarantineStatusReleased:
			pipe.ZAdd(ctx, quarantineExpiryKey, redis.Z{
				Score:  float64(record.RetentionUntil.Unix()),
				Member: record.QuarantineID,
			})
		default:
			pipe.ZRem(ctx, quarantineExpiryKey, record.QuarantineID)
		}
		return nil
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to cache quarantine record",
			slog.String("quarantine_id", record.QuarantineID),
			slog.String("error", err.Error()))
		// Drop any older copy so other replicas stop serving the previous state.
		_ = m.kv.Del(ctx, key).Err()
	}
	return nil
}

func (m *QuarantineManager) deleteRecord(ctx context.Context, id string) error {
	if err := os.Remove(m.recordPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete quarantine record: %w", err)
	}
	_, err := m.kv.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, quarantineKeyPrefix+id)
		pipe.ZRem(ctx, quarantineExpiryKey, id)
		return nil
	})
	if err != nil {
		m.logger.WarnContext(ctx, "failed to drop cached quarantine record",
			slog.String("quarantine_id", id),
			slog.String("error", err.Error()))
	}
	return nil
}

// Get returns the local filesystem record, falling back to the store copy
// when the record was written by another replica.
func (m *QuarantineManager) Get(ctx context.Context, id string) (*models.QuarantineRecord, error) {
	record, err := m.loadRecord(id)
	if err == nil || !errors.Is(err, models.ErrQuarantineNotFound) || !validQuarantineID(id) {
		return record, err
	}

	raw, kvErr := m.kv.Get(ctx, quarantineKeyPrefix+id).Bytes()
	if kvErr != nil {
		if !errors.Is(kvErr, redis.Nil) {
			m.logger.WarnContext(ctx, "quarantine store read failed",
				slog.String("quarantine_id", id),
				slog.String("error", kvErr.Error()))
		}
		return nil, err
	}
	var cached models.QuarantineRecord
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, fmt.Errorf("decode cached quarantine record %s: %w", id, err)
	}
	return &cached, nil
}

// loadRecord reads the authoritative filesystem record. State changes go
// through it so a stale store copy cannot resurrect a released or deleted file.
func (m *QuarantineManager) loadRecord(id string) (*models.QuarantineRecord, error) {
	if !validQuarantineID(id) {
		return nil, fmt.Errorf("%w: %s", models.ErrQuarantineNotFound, id)
	}
	return m.readRecordFile(m.recordPath(id))
}

func (m *QuarantineManager) readRecordFile(path string) (*models.QuarantineRecord, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", models.ErrQuarantineNotFound, strings.TrimSuffix(filepath.Base(path), ".json"))
	}
	if err != nil {
		return nil, fmt.Errorf("read quarantine record: %w", err)
	}
	var record models.QuarantineRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode quarantine record %s: %w", path, err)
	}
	return &record, nil
}

// validQuarantineID accepts only quar_{16 hex}_{unix seconds}, so an ID can
// never escape the records directory.
func validQuarantineID(id string) bool {
	rest, ok := strings.CutPrefix(id, "quar_")
	if !ok {
		return false
	}
	hexPart, digits, ok := strings.Cut(rest, "_")
	if !ok || len(hexPart) != 16 || digits == "" {
		return false
	}
	for _, r := range hexPart {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// List returns matching records, newest first.
func (m *QuarantineManager) List(ctx context.Context, filter QuarantineFilter) ([]*models.QuarantineRecord, error) {
	records, err := m.allRecords(ctx)
	if err != nil {
		return nil, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	out := make([]*models.QuarantineRecord, 0, min(limit, len(records)))
	for _, r := range records {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.Reason != "" && r.Reason != filter.Reason {
			continue
		}
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		out = append(out, r)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *QuarantineManager) allRecords(ctx context.Context) ([]*models.QuarantineRecord, error) {
	entries, err := os.ReadDir(filepath.Join(m.config.Root, "records"))
	if err != nil {
		return nil, fmt.Errorf("list quarantine records: %w", err)
	}
	records := make([]*models.QuarantineRecord, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		r, err := m.readRecordFile(filepath.Join(m.config.Root, "records", e.Name()))
		if err != nil {
			m.logger.WarnContext(ctx, "skipping unreadable quarantine record",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()))
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].QuarantinedAt.After(records[j].QuarantinedAt) })
	return records, nil
}

// Release decrypts a quarantined file into dst and marks it released.
func (m *QuarantineManager) Release(ctx context.Context, id string, dst io.Writer, releasedBy string) (*models.QuarantineRecord, error) {
	record, err := m.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.QuarantineStatusQuarantined {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrInvalidQuarantineState, id, record.Status)
	}

	data, err := m.readContent(ctx, record)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(data); err != nil {
		return nil, fmt.Errorf("write released file: %w", err)
	}

	now := m.now().UTC()
	record.Status = models.QuarantineStatusReleased
	record.ReleasedAt = &now
	record.ReleasedBy = releasedBy
	if err := m.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	m.appendLog("RELEASE", id, "by", releasedBy)
	m.audit.LogEvent(ctx, models.AuditEventParams{
		Event:  models.EventFileReleased,
		UserID: releasedBy,
		Details: map[string]interface{}{
			"quarantine_id": id,
			"file_hash":     record.FileHash,
			"original_name": record.OriginalName,
			"owner_id":      record.UserID,
		},
	})
	metrics.QuarantineOperations.WithLabelValues("release").Inc()

	m.logger.InfoContext(ctx, "file released from quarantine",
		slog.String("quarantine_id", id),
		slog.String("released_by", releasedBy))
	return record, nil
}

// ReleaseToPath releases into a new file at path.
func (m *QuarantineManager) ReleaseToPath(ctx context.Context, id, path, releasedBy string) (*models.QuarantineRecord, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create release directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create release destination: %w", err)
	}
	record, err := m.Release(ctx, id, f, releasedBy)
	closeErr := f.Close()
	if err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return record, closeErr
}

// Delete removes the ciphertext. A permanent delete also drops the record;
// otherwise the record stays for the audit trail with status deleted.
func (m *QuarantineManager) Delete(ctx context.Context, id, deletedBy string, permanent bool) error {
	record, err := m.loadRecord(id)
	if err != nil {
		return err
	}

	m.removeCiphertext(ctx, record)

	if permanent {
		if err := m.deleteRecord(ctx, id); err != nil {
			return err
		}
	} else {
		now := m.now().UTC()
		record.Status = models.QuarantineStatusDeleted
		record.DeletedAt = &now
		record.DeletedBy = deletedBy
		if err := m.saveRecord(ctx, record); err != nil {
			return err
		}
	}

	m.appendLog("DELETE", id, "by", deletedBy, "permanent", permanent)
	m.audit.LogEvent(ctx, models.AuditEventParams{
		Event:  models.EventFileDeleted,
		UserID: deletedBy,
		Details: map[string]interface{}{
			"quarantine_id": id,
			"file_hash":     record.FileHash,
			"original_path": record.OriginalPath,
			"permanent":     permanent,
		},
	})
	metrics.QuarantineOperations.WithLabelValues("delete").Inc()
	return nil
}

// Analyze computes content statistics for a quarantined file and stores them
// on the record.
func (m *QuarantineManager) Analyze(ctx context.Context, id string) (map[string]interface{}, error) {
	record, err := m.loadRecord(id)
	if err != nil {
		return nil, err
	}
	if record.Status != models.QuarantineStatusQuarantined {
		return nil, fmt.Errorf("%w: %s is %s", models.ErrInvalidQuarantineState, id, record.Status)
	}

	record.Status = models.QuarantineStatusUnderAnalysis
	if err := m.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	data, err := m.readContent(ctx, record)
	if err != nil {
		record.Status = models.QuarantineStatusQuarantined
		_ = m.saveRecord(ctx, record)
		return nil, err
	}

	detected, _ := sniffSignature(data)
	results := map[string]interface{}{
		"analysis_time":   m.now().UTC().Format(time.RFC3339),
		"file_size":       len(data),
		"file_hash":       record.FileHash,
		"entropy":         ShannonEntropy(data),
		"printable_ratio": PrintableRatio(data),
		"has_null_bytes":  NullRatio(data) > 0,
		"detected_type":   string(detected),
		"detected_mime":   mimetype.Detect(data).String(),
	}

	record.AnalysisResults = results
	record.Status = models.QuarantineStatusQuarantined
	if err := m.saveRecord(ctx, record); err != nil {
		return nil, err
	}

	m.appendLog("ANALYZE", id)
	metrics.QuarantineOperations.WithLabelValues("analyze").Inc()
	return results, nil
}

// CleanupExpired deletes the ciphertext of every record past retention and
// marks it expired. Candidates come from the store's expiry index; when the
// store is unavailable the filesystem records are scanned instead.
func (m *QuarantineManager) CleanupExpired(ctx context.Context) (int, error) {
	now := m.now().UTC()
	records, err := m.expiredCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if !now.After(record.RetentionUntil) {
			continue
		}
		switch record.Status {
		case models.QuarantineStatusExpired, models.QuarantineStatusDeleted:
			continue
		}

		m.removeCiphertext(ctx, record)
		record.Status = models.QuarantineStatusExpired
		if err := m.saveRecord(ctx, record); err != nil {
			m.logger.ErrorContext(ctx, "failed to mark quarantine record expired",
				slog.String("quarantine_id", record.QuarantineID),
				slog.String("error", err.Error()))
			continue
		}
		m.appendLog("EXPIRE", record.QuarantineID)
		metrics.QuarantineOperations.WithLabelValues("expire").Inc()
		cleaned++
	}

	if cleaned > 0 {
		m.logger.InfoContext(ctx, "expired quarantine records cleaned", slog.Int("count", cleaned))
	}
	return cleaned, nil
}

func (m *QuarantineManager) expiredCandidates(ctx context.Context, now time.Time) ([]*models.QuarantineRecord, error) {
	ids, err := m.kv.ZRangeByScore(ctx, quarantineExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()-1),
	}).Result()
	if err != nil {
		m.logger.WarnContext(ctx, "quarantine expiry index unavailable, scanning records",
			slog.String("error", err.Error()))
		return m.allRecords(ctx)
	}

	records := make([]*models.QuarantineRecord, 0, len(ids))
	for _, id := range ids {
		// The store copy may already have expired; the file is authoritative.
		record, err := m.readRecordFile(m.recordPath(id))
		if err != nil {
			if errors.Is(err, models.ErrQuarantineNotFound) {
				m.kv.ZRem(ctx, quarantineExpiryKey, id)
			}
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Stats summarizes the quarantine by status and reason.
func (m *QuarantineManager) Stats(ctx context.Context) (*models.QuarantineStats, error) {
	records, err := m.allRecords(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := m.usage()
	if err != nil {
		return nil, err
	}

	stats := &models.QuarantineStats{
		TotalRecords: len(records),
		TotalBytes:   usage,
		ByStatus:     map[models.QuarantineStatus]int{},
		ByReason:     map[models.QuarantineReason]int{},
		MaxBytes:     m.config.MaxTotalSize,
	}
	for _, r := range records {
		stats.ByStatus[r.Status]++
		stats.ByReason[r.Reason]++
		at := r.QuarantinedAt
		if stats.Oldest == nil || at.Before(*stats.Oldest) {
			stats.Oldest = &at
		}
		if stats.Newest == nil || at.After(*stats.Newest) {
			stats.Newest = &at
		}
	}
	return stats, nil
}

// usage totals the ciphertext currently on disk.
func (m *QuarantineManager) usage() (int64, error) {
	var total int64
	err := filepath.WalkDir(filepath.Join(m.config.Root, "files"), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != quarantineExt {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure quarantine usage: %w", err)
	}
	metrics.QuarantineBytes.Set(float64(total))
	return total, nil
}

// ensureSpace rejects size when the total limit would be exceeded even after
// expired files are cleaned.
func (m *QuarantineManager) ensureSpace(ctx context.Context, size int64) error {
	used, err := m.usage()
	if err != nil {
		return err
	}
	if used+size <= m.config.MaxTotalSize {
		return nil
	}

	if _, err := m.CleanupExpired(ctx); err != nil {
		return err
	}
	if used, err = m.usage(); err != nil {
		return err
	}
	if used+size > m.config.MaxTotalSize {
		return fmt.Errorf("%w: %d of %d bytes used", models.ErrQuarantineFull, used, m.config.MaxTotalSize)
	}
	return nil
}

// appendLog writes one line per operation to logs/quarantine.log.
func (m *QuarantineManager) appendLog(op, id string, kv ...interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", m.now().UTC().Format(time.RFC3339), op, id)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	b.WriteByte('\n')

	m.logMu.Lock()
	defer m.logMu.Unlock()
	f, err := os.OpenFile(filepath.Join(m.config.Root, "logs", "quarantine.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		m.logger.Warn("failed to open quarantine log", slog.String("error", err.Error()))
		return
	}
	defer f.Close()
	if _, err := f.WriteString(b.String()); err != nil {
		m.logger.Warn("failed to write quarantine log", slog.String("error", err.Error()))
	}
}
