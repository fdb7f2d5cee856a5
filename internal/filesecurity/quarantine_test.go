package filesecurity_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/filesecurity"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quarantineStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memMirror struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMemMirror() *memMirror {
	return &memMirror{objects: map[string][]byte{}}
}

func (m *memMirror) Put(ctx context.Context, key string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

func (m *memMirror) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (m *memMirror) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memMirror) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

type quarantineFixture struct {
	manager *filesecurity.QuarantineManager
	root    string
	clock   *testClock
	mr      *miniredis.Miniredis
	audit   *services.MockAuditRecorder
	mirror  *memMirror
}

func newQuarantineFixture(t *testing.T, mutate func(*filesecurity.QuarantineConfig)) *quarantineFixture {
	t.Helper()
	kv, mr := newTestStore(t)
	root := filepath.Join(t.TempDir(), "quarantine")
	cfg := filesecurity.DefaultQuarantineConfig(root)
	if mutate != nil {
		mutate(&cfg)
	}
	audit := &services.MockAuditRecorder{}
	mirror := newMemMirror()
	clock := newTestClock(quarantineStart)

	manager, err := filesecurity.NewQuarantineManager(kv, cfg, mirror, audit, newTestLogger())
	require.NoError(t, err)
	manager.WithClock(clock.Now)

	return &quarantineFixture{manager: manager, root: root, clock: clock, mr: mr, audit: audit, mirror: mirror}
}

func peSample() []byte {
	return append([]byte("MZ\x90\x00"), bytes.Repeat([]byte("This program cannot be run in DOS mode. "), 50)...)
}

func (f *quarantineFixture) quarantine(t *testing.T, data []byte, reason models.QuarantineReason, userID string) *models.QuarantineRecord {
	t.Helper()
	record, err := f.manager.Quarantine(context.Background(), filesecurity.QuarantineRequest{
		Data:     data,
		FileName: "slides.pdf",
		Reason:   reason,
		UserID:   userID,
	})
	require.NoError(t, err)
	return record
}

func TestQuarantine_StoresEncryptedAndReleasesOriginal(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	data := peSample()

	record := f.quarantine(t, data, models.QuarantineVirusDetected, "user-1")

	assert.Regexp(t, `^quar_[0-9a-f]{16}_\d+$`, record.QuarantineID)
	assert.Equal(t, models.QuarantineStatusQuarantined, record.Status)
	assert.True(t, record.Encrypted)
	assert.True(t, record.Compressed)
	assert.Equal(t, filesecurity.HashBytes(data), record.FileHash)
	assert.Equal(t, quarantineStart.Add(30*24*time.Hour), record.RetentionUntil)

	sealed, err := os.ReadFile(record.QuarantinePath)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("cannot be run in DOS mode")))
	assert.Equal(t, int64(len(sealed)), record.StoredSize)

	info, err := os.Stat(record.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	info, err = os.Stat(filepath.Join(f.root, "records", record.QuarantineID+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	for _, dir := range []string{"files", "records", "temp", "logs"} {
		info, err := os.Stat(filepath.Join(f.root, dir))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o700), info.Mode().Perm(), dir)
	}

	assert.True(t, f.mr.Exists("quarantine:"+record.QuarantineID))
	assert.InDelta(t, (30 * 24 * time.Hour).Seconds(), f.mr.TTL("quarantine:"+record.QuarantineID).Seconds(), 60)
	members, err := f.mr.ZMembers("quarantine:expiry")
	require.NoError(t, err)
	assert.Contains(t, members, record.QuarantineID)

	events := f.audit.EventsOf(models.EventFileQuarantined)
	require.Len(t, events, 1)
	assert.Equal(t, record.FileHash, events[0].Details["file_hash"])
	assert.Equal(t, "user-1", events[0].UserID)

	var out bytes.Buffer
	released, err := f.manager.Release(context.Background(), record.QuarantineID, &out, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())
	assert.Equal(t, models.QuarantineStatusReleased, released.Status)
	assert.Equal(t, "admin-1", released.ReleasedBy)
	require.NotNil(t, released.ReleasedAt)
	assert.Len(t, f.audit.EventsOf(models.EventFileReleased), 1)

	_, err = f.manager.Release(context.Background(), record.QuarantineID, &out, "admin-1")
	assert.ErrorIs(t, err, models.ErrInvalidQuarantineState)
}

func TestQuarantine_PlainStorageWhenDisabled(t *testing.T) {
	f := newQuarantineFixture(t, func(c *filesecurity.QuarantineConfig) {
		c.Encrypt = false
		c.Compress = false
	})
	data := []byte("plain quarantined bytes")

	record := f.quarantine(t, data, models.QuarantineManual, "")

	stored, err := os.ReadFile(record.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, data, stored)
	_, err = os.Stat(filepath.Join(f.root, ".encryption_key"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestQuarantine_KeyIsCreatedOnce(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "")

	keyPath := filepath.Join(f.root, ".encryption_key")
	info, err := os.Stat(keyPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	before, err := os.ReadFile(keyPath)
	require.NoError(t, err)

	kv, _ := newTestStore(t)
	second, err := filesecurity.NewQuarantineManager(kv, filesecurity.DefaultQuarantineConfig(f.root), nil, &services.MockAuditRecorder{}, newTestLogger())
	require.NoError(t, err)

	after, err := os.ReadFile(keyPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	var out bytes.Buffer
	_, err = second.Release(context.Background(), record.QuarantineID, &out, "admin")
	require.NoError(t, err)
	assert.Equal(t, peSample(), out.Bytes())
}

func TestQuarantine_TamperedCiphertextFailsRelease(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "")

	sealed, err := os.ReadFile(record.QuarantinePath)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff
	require.NoError(t, os.WriteFile(record.QuarantinePath, sealed, 0o600))

	var out bytes.Buffer
	_, err = f.manager.Release(context.Background(), record.QuarantineID, &out, "admin")
	assert.Error(t, err)
	assert.Zero(t, out.Len())

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusQuarantined, got.Status)
}

func TestQuarantine_GetFallsBackToFilesystem(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "user-1")

	f.mr.FlushAll()

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, record.FileHash, got.FileHash)
	assert.Equal(t, "user-1", got.UserID)
}

func TestQuarantine_GetUnknownOrInvalidID(t *testing.T) {
	f := newQuarantineFixture(t, nil)

	_, err := f.manager.Get(context.Background(), "quar_0000000000000000_1")
	assert.ErrorIs(t, err, models.ErrQuarantineNotFound)

	_, err = f.manager.Get(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, models.ErrQuarantineNotFound)
}

func TestQuarantine_GetReturnsFreshRecord(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "user-1")

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, record.QuarantineID, got.QuarantineID)
	assert.Equal(t, models.QuarantineStatusQuarantined, got.Status)

	analysis, err := f.manager.Analyze(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Contains(t, analysis, "entropy")
}

func TestQuarantine_RejectsMalformedIDs(t *testing.T) {
	f := newQuarantineFixture(t, nil)

	for _, id := range []string{
		"",
		"quar_",
		"quar_0123456789abcdef",
		"quar_0123456789abcdef_",
		"quar_0123456789abcde_1",
		"quar_0123456789ABCDEF_1",
		"quar_0123456789abcdef_1a",
		"quar_0123456789abcdef_1/../x",
		"xxxx_0123456789abcdef_1",
	} {
		_, err := f.manager.Get(context.Background(), id)
		assert.ErrorIs(t, err, models.ErrQuarantineNotFound, id)
	}
}

func TestQuarantine_GetUsesStoreWhenRecordFileMissing(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "user-1")

	require.NoError(t, os.Remove(filepath.Join(f.root, "records", record.QuarantineID+".json")))

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, record.FileHash, got.FileHash)
}

func TestQuarantine_ReleaseSurvivesStoreWriteFailure(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "user-1")

	f.mr.SetError("store unavailable")
	var out bytes.Buffer
	_, err := f.manager.Release(context.Background(), record.QuarantineID, &out, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, peSample(), out.Bytes())
	f.mr.SetError("")

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusReleased, got.Status)

	out.Reset()
	_, err = f.manager.Release(context.Background(), record.QuarantineID, &out, "admin-1")
	assert.ErrorIs(t, err, models.ErrInvalidQuarantineState)
	assert.Zero(t, out.Len())

	_, err = f.manager.Analyze(context.Background(), record.QuarantineID)
	assert.ErrorIs(t, err, models.ErrInvalidQuarantineState)
}

func TestQuarantine_ListFiltersNewestFirst(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	first := f.quarantine(t, []byte("one"), models.QuarantineVirusDetected, "alice")
	f.clock.Advance(time.Minute)
	second := f.quarantine(t, []byte("two"), models.QuarantineValidationFailed, "bob")
	f.clock.Advance(time.Minute)
	third := f.quarantine(t, []byte("three"), models.QuarantineVirusDetected, "alice")

	all, err := f.manager.List(context.Background(), filesecurity.QuarantineFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.QuarantineID, all[0].QuarantineID)
	assert.Equal(t, first.QuarantineID, all[2].QuarantineID)

	byReason, err := f.manager.List(context.Background(), filesecurity.QuarantineFilter{Reason: models.QuarantineValidationFailed})
	require.NoError(t, err)
	require.Len(t, byReason, 1)
	assert.Equal(t, second.QuarantineID, byReason[0].QuarantineID)

	byUser, err := f.manager.List(context.Background(), filesecurity.QuarantineFilter{UserID: "alice", Limit: 1})
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, third.QuarantineID, byUser[0].QuarantineID)
}

func TestQuarantine_SoftAndPermanentDelete(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	soft := f.quarantine(t, []byte("soft"), models.QuarantineManual, "")
	hard := f.quarantine(t, []byte("hard"), models.QuarantineManual, "")

	require.NoError(t, f.manager.Delete(context.Background(), soft.QuarantineID, "admin", false))
	require.NoError(t, f.manager.Delete(context.Background(), hard.QuarantineID, "admin", true))

	got, err := f.manager.Get(context.Background(), soft.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusDeleted, got.Status)
	assert.Equal(t, "admin", got.DeletedBy)
	_, err = os.Stat(soft.QuarantinePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.False(t, f.mirror.has(soft.MirrorKey))

	_, err = f.manager.Get(context.Background(), hard.QuarantineID)
	assert.ErrorIs(t, err, models.ErrQuarantineNotFound)
	assert.False(t, f.mr.Exists("quarantine:"+hard.QuarantineID))

	events := f.audit.EventsOf(models.EventFileDeleted)
	require.Len(t, events, 2)
	assert.Equal(t, false, events[0].Details["permanent"])
	assert.Equal(t, true, events[1].Details["permanent"])

	var out bytes.Buffer
	_, err = f.manager.Release(context.Background(), soft.QuarantineID, &out, "admin")
	assert.ErrorIs(t, err, models.ErrInvalidQuarantineState)
}

func TestQuarantine_Analyze(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "")

	results, err := f.manager.Analyze(context.Background(), record.QuarantineID)
	require.NoError(t, err)

	assert.Equal(t, string(models.FileTypeExecutable), results["detected_type"])
	assert.Equal(t, true, results["has_null_bytes"])
	assert.Equal(t, record.FileHash, results["file_hash"])
	assert.Greater(t, results["entropy"].(float64), 0.0)

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusQuarantined, got.Status)
	assert.NotEmpty(t, got.AnalysisResults)
}

func TestQuarantine_CleanupExpired(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	old := f.quarantine(t, []byte("old"), models.QuarantineVirusDetected, "")
	f.clock.Advance(20 * 24 * time.Hour)
	fresh := f.quarantine(t, []byte("fresh"), models.QuarantineVirusDetected, "")

	f.clock.Advance(11 * 24 * time.Hour)
	cleaned, err := f.manager.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := f.manager.Get(context.Background(), old.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusExpired, got.Status)
	_, err = os.Stat(old.QuarantinePath)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	_, err = os.Stat(fresh.QuarantinePath)
	assert.NoError(t, err)

	again, err := f.manager.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestQuarantine_CleanupWithoutStore(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	record := f.quarantine(t, []byte("old"), models.QuarantineVirusDetected, "")
	f.mr.Close()

	f.clock.Advance(31 * 24 * time.Hour)
	cleaned, err := f.manager.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)

	got, err := f.manager.Get(context.Background(), record.QuarantineID)
	require.NoError(t, err)
	assert.Equal(t, models.QuarantineStatusExpired, got.Status)
}

func TestQuarantine_Limits(t *testing.T) {
	f := newQuarantineFixture(t, func(c *filesecurity.QuarantineConfig) {
		c.Encrypt = false
		c.Compress = false
		c.MaxFileSize = 10
		c.MaxTotalSize = 15
	})

	_, err := f.manager.Quarantine(context.Background(), filesecurity.QuarantineRequest{Data: make([]byte, 11)})
	assert.ErrorIs(t, err, models.ErrFileTooLarge)

	f.quarantine(t, make([]byte, 10), models.QuarantineManual, "")
	_, err = f.manager.Quarantine(context.Background(), filesecurity.QuarantineRequest{Data: make([]byte, 10)})
	assert.ErrorIs(t, err, models.ErrQuarantineFull)
}

func TestQuarantine_FullQuarantineReclaimsExpired(t *testing.T) {
	f := newQuarantineFixture(t, func(c *filesecurity.QuarantineConfig) {
		c.Encrypt = false
		c.Compress = false
		c.MaxTotalSize = 15
	})
	f.quarantine(t, make([]byte, 10), models.QuarantineManual, "")
	f.clock.Advance(31 * 24 * time.Hour)

	_, err := f.manager.Quarantine(context.Background(), filesecurity.QuarantineRequest{Data: make([]byte, 10)})
	assert.NoError(t, err)
}

func TestQuarantine_ReleaseFromMirror(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	data := peSample()
	record := f.quarantine(t, data, models.QuarantineVirusDetected, "")
	require.NotEmpty(t, record.MirrorKey)
	require.NoError(t, os.Remove(record.QuarantinePath))

	var out bytes.Buffer
	_, err := f.manager.Release(context.Background(), record.QuarantineID, &out, "admin")
	require.NoError(t, err)
	assert.Equal(t, data, out.Bytes())
}

func TestQuarantine_MirrorFailureIsNotFatal(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	f.mirror.putErr = errors.New("bucket unavailable")

	record := f.quarantine(t, peSample(), models.QuarantineVirusDetected, "")
	assert.Empty(t, record.MirrorKey)
}

func TestQuarantine_QuarantineFileRemovesOriginal(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	path := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(path, peSample(), 0o600))

	record, err := f.manager.QuarantineFile(context.Background(), path, filesecurity.QuarantineRequest{Reason: models.QuarantineMalwareDetected})
	require.NoError(t, err)
	assert.Equal(t, "upload.bin", record.OriginalName)
	assert.Equal(t, path, record.OriginalPath)
	_, err = os.Stat(path)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	dest := filepath.Join(t.TempDir(), "restored", "upload.bin")
	_, err = f.manager.ReleaseToPath(context.Background(), record.QuarantineID, dest, "admin")
	require.NoError(t, err)
	restored, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, peSample(), restored)
}

func TestQuarantine_StatsAndOperationLog(t *testing.T) {
	f := newQuarantineFixture(t, nil)
	a := f.quarantine(t, []byte("a"), models.QuarantineVirusDetected, "")
	f.clock.Advance(time.Hour)
	f.quarantine(t, []byte("b"), models.QuarantineValidationFailed, "")
	require.NoError(t, f.manager.Delete(context.Background(), a.QuarantineID, "admin", false))

	stats, err := f.manager.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.ByStatus[models.QuarantineStatusQuarantined])
	assert.Equal(t, 1, stats.ByStatus[models.QuarantineStatusDeleted])
	assert.Equal(t, 1, stats.ByReason[models.QuarantineValidationFailed])
	assert.Greater(t, stats.TotalBytes, int64(0))
	require.NotNil(t, stats.Oldest)
	assert.Equal(t, quarantineStart, *stats.Oldest)

	log, err := os.ReadFile(filepath.Join(f.root, "logs", "quarantine.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(log)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "QUARANTINE "+a.QuarantineID)
	assert.Contains(t, lines[2], "DELETE "+a.QuarantineID)
}

func TestSealer_BindsQuarantineID(t *testing.T) {
	key, err := filesecurity.LoadOrCreateKey(filepath.Join(t.TempDir(), "key"))
	require.NoError(t, err)
	sealer, err := filesecurity.NewSealer(key)
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("secret"), "quar_a")
	require.NoError(t, err)

	plain, err := sealer.Open(sealed, "quar_a")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret"), plain)

	_, err = sealer.Open(sealed, "quar_b")
	assert.Error(t, err)
}
