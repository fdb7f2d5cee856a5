package background

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/repositories"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/services"
	"github.com/redis/go-redis/v9"
)

// ArchiveCursorKey holds the last audit stream ID copied to the archive.
const ArchiveCursorKey = "audit:archive:cursor"

// AuditStreamReader pages through the audit stream.
// *services.AuditService satisfies it.
type AuditStreamReader interface {
	ReadStreamAfter(ctx context.Context, afterID string, count int64) ([]services.StreamMessage, error)
}

// ArchiveWriter persists audit entries.
// *repositories.AuditArchiveRepository satisfies it.
type ArchiveWriter interface {
	InsertBatch(ctx context.Context, entries []repositories.ArchivedEntry) (int, error)
}

// AuditArchiver copies new audit stream entries into the long-term archive.
type AuditArchiver struct {
	kv        services.KeyValueStore
	stream    AuditStreamReader
	archive   ArchiveWriter
	batchSize int64
	logger    *slog.Logger
}

// NewAuditArchiver creates an archiver that copies batchSize entries per
// round trip.
func NewAuditArchiver(kv services.KeyValueStore, stream AuditStreamReader, archive ArchiveWriter, batchSize int64, logger *slog.Logger) *AuditArchiver {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &AuditArchiver{kv: kv, stream: stream, archive: archive, batchSize: batchSize, logger: logger}
}

// Archive copies everything after the stored cursor, advancing the cursor
// after each committed batch. It returns the number of stream entries
// processed.
func (a *AuditArchiver) Archive(ctx context.Context) (int, error) {
	cursor, err := a.kv.Get(ctx, ArchiveCursorKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read archive cursor: %w", err)
	}

	processed := 0
	for {
		msgs, err := a.stream.ReadStreamAfter(ctx, cursor, a.batchSize)
		if err != nil {
			return processed, err
		}
		if len(msgs) == 0 {
			break
		}

		batch := make([]repositories.ArchivedEntry, len(msgs))
		for i, m := range msgs {
			batch[i] = repositories.ArchivedEntry{StreamID: m.StreamID, Entry: m.Entry}
		}
		inserted, err := a.archive.InsertBatch(ctx, batch)
		if err != nil {
			return processed, err
		}

		cursor = msgs[len(msgs)-1].StreamID
		if err := a.kv.Set(ctx, ArchiveCursorKey, cursor, 0).Err(); err != nil {
			return processed, fmt.Errorf("store archive cursor: %w", err)
		}
		processed += len(msgs)
		a.logger.DebugContext(ctx, "audit batch archived",
			slog.Int("entries", len(msgs)),
			slog.Int("inserted", inserted),
			slog.String("cursor", cursor))

		if int64(len(msgs)) < a.batchSize {
			break
		}
	}

	if processed > 0 {
		a.logger.InfoContext(ctx, "audit archive run completed", slog.Int("entries", processed))
	}
	return processed, nil
}
