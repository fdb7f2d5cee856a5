//go:build integration

package repositories_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/basanta2029/slidegenie-backend-sub001/internal/database"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/models"
	"github.com/basanta2029/slidegenie-backend-sub001/internal/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupArchive(t *testing.T) *repositories.AuditArchiveRepository {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("slidegenie"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NoError(t, database.Migrate(ctx, dsn, logger))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	db := &database.DB{Pool: pool}
	t.Cleanup(db.Close)

	return repositories.NewAuditArchiveRepository(db)
}

func archivedEntry(id, streamID string, at time.Time) repositories.ArchivedEntry {
	return repositories.ArchivedEntry{
		StreamID: streamID,
		Entry: models.AuditLogEntry{
			ID:        id,
			Event:     models.EventLoginFailure,
			Severity:  models.AuditSeverityWarning,
			Timestamp: at,
			UserID:    "user-1",
			IPAddress: "203.0.113.7",
			Details:   models.AuditMetadata{"attempt": float64(3)},
		},
	}
}

func TestAuditArchive_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := setupArchive(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	batch := []repositories.ArchivedEntry{
		archivedEntry("1000:login_failure", "1000-0", base),
		archivedEntry("1001:login_failure", "1001-0", base.Add(time.Minute)),
	}
	inserted, err := repo.InsertBatch(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	inserted, err = repo.InsertBatch(ctx, append(batch, archivedEntry("1002:login_failure", "1002-0", base.Add(2*time.Minute))))
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAuditArchive_ListRangeAndPurge(t *testing.T) {
	ctx := context.Background()
	repo := setupArchive(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	_, err := repo.InsertBatch(ctx, []repositories.ArchivedEntry{
		archivedEntry("a", "1-0", base),
		archivedEntry("b", "2-0", base.Add(time.Hour)),
		archivedEntry("c", "3-0", base.Add(48*time.Hour)),
	})
	require.NoError(t, err)

	entries, err := repo.ListRange(ctx, base, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, models.EventLoginFailure, entries[0].Event)
	assert.Equal(t, "user-1", entries[0].UserID)
	assert.Equal(t, float64(3), entries[0].Details["attempt"])
	assert.Empty(t, entries[0].SessionID)

	purged, err := repo.DeleteBefore(ctx, base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
}
