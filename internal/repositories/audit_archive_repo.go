package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/database"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ArchivedEntry is an audit entry together with the stream ID it was read at.
type ArchivedEntry struct {
	StreamID string
	Entry    models.AuditLogEntry
}

// AuditArchiveRepository stores audit entries in Postgres past their
// key-value store retention.
type AuditArchiveRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
}

// NewAuditArchiveRepository creates a new AuditArchiveRepository
func NewAuditArchiveRepository(db *database.DB) *AuditArchiveRepository {
	return &AuditArchiveRepository{db: db, pool: db.Pool}
}

// InsertBatch writes entries in one transaction and returns how many were
// new. Entries already archived are skipped, so a batch can be replayed.
func (r *AuditArchiveRepository) InsertBatch(ctx context.Context, entries []ArchivedEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	inserted := 0
	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, e := range entries {
			batch.Queue(`
				INSERT INTO audit_archive (
					entry_id, stream_id, event, severity, occurred_at,
					user_id, ip_address, user_agent, session_id, request_id,
					details, metadata
				)
				VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''),
				        NULLIF($9, ''), NULLIF($10, ''), $11, $12)
				ON CONFLICT (entry_id) DO NOTHING`,
				e.Entry.ID, e.StreamID, string(e.Entry.Event), string(e.Entry.Severity), e.Entry.Timestamp.UTC(),
				e.Entry.UserID, e.Entry.IPAddress, e.Entry.UserAgent, e.Entry.SessionID, e.Entry.RequestID,
				e.Entry.Details, e.Entry.Metadata,
			)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range entries {
			tag, err := results.Exec()
			if err != nil {
				return database.MapPostgresError(err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to archive audit entries: %w", err)
	}
	return inserted, nil
}

// ListRange returns archived entries with occurred_at in [start, end),
// oldest first.
func (r *AuditArchiveRepository) ListRange(ctx context.Context, start, end time.Time, limit int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT entry_id, event, severity, occurred_at,
		       COALESCE(user_id, ''), COALESCE(ip_address, ''), COALESCE(user_agent, ''),
		       COALESCE(session_id, ''), COALESCE(request_id, ''), details, metadata
		FROM audit_archive
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, entry_id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, start.UTC(), end.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list archived audit entries: %w", err)
	}
	defer rows.Close()

	entries := make([]models.AuditLogEntry, 0)
	for rows.Next() {
		var (
			e               models.AuditLogEntry
			event, severity string
		)
		if err := rows.Scan(
			&e.ID, &event, &severity, &e.Timestamp,
			&e.UserID, &e.IPAddress, &e.UserAgent, &e.SessionID, &e.RequestID,
			&e.Details, &e.Metadata,
		); err != nil {
			return nil, fmt.Errorf("failed to scan archived audit entry: %w", database.MapPostgresError(err))
		}
		e.Event = models.AuditEvent(event)
		e.Severity = models.AuditSeverity(severity)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating archived audit entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of archived entries.
func (r *AuditArchiveRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_archive`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count archived audit entries: %w", database.MapPostgresError(err))
	}
	return n, nil
}

// DeleteBefore drops archived entries older than cutoff and returns how many
// were removed.
func (r *AuditArchiveRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_archive WHERE occurred_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge archived audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
