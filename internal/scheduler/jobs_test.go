package scheduler

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foliosync/internal/domain"
	"github.com/aristath/foliosync/internal/modules/mirror"
)

func setupMirror(t *testing.T) (*mirror.Repository, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE mirror_trades (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL DEFAULT '',
			ticker TEXT NOT NULL,
			trade_date INTEGER NOT NULL,
			trade_type TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			is_simulated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE tombstones (
			trade_id TEXT PRIMARY KEY,
			reason TEXT NOT NULL DEFAULT 'ownership_mismatch',
			created_at INTEGER NOT NULL
		);
	`)
	require.NoError(t, err)

	return mirror.NewRepository(db, zerolog.New(nil).Level(zerolog.Disabled)), db
}

func TestMirrorSnapshotJob(t *testing.T) {
	repo, _ := setupMirror(t)
	require.NoError(t, repo.Save([]domain.Trade{{
		ID:       "a",
		Ticker:   "AAPL",
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:     domain.TradeBuy,
		Currency: "USD",
		Quantity: 10,
		Price:    100,
	}}))

	backupDir := filepath.Join(t.TempDir(), "backups")
	job := NewMirrorSnapshotJob(repo, backupDir, 14, zerolog.New(nil).Level(zerolog.Disabled))

	assert.Equal(t, "mirror_snapshot", job.Name())
	require.NoError(t, job.Run(context.Background()))

	entries, err := filepath.Glob(filepath.Join(backupDir, "trades-*.json"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	raw, err := os.ReadFile(entries[0])
	require.NoError(t, err)
	doc, err := domain.DecodeDocument(raw)
	require.NoError(t, err)
	require.Len(t, doc.Trades, 1)
	assert.Equal(t, "AAPL", doc.Trades[0].Ticker)
}

func TestMirrorSnapshotJob_PrunesOldSnapshots(t *testing.T) {
	repo, _ := setupMirror(t)
	backupDir := t.TempDir()

	for _, name := range []string{
		"trades-2024-01-01T00-00-00.json",
		"trades-2024-01-02T00-00-00.json",
		"trades-2024-01-03T00-00-00.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(backupDir, name), []byte("{}"), 0644))
	}

	job := NewMirrorSnapshotJob(repo, backupDir, 2, zerolog.New(nil).Level(zerolog.Disabled))
	require.NoError(t, job.Run(context.Background()))

	entries, err := filepath.Glob(filepath.Join(backupDir, "trades-*.json"))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "old snapshots beyond the retention count should be pruned")

	for _, path := range entries {
		assert.NotEqual(t, "trades-2024-01-01T00-00-00.json", filepath.Base(path))
		assert.NotEqual(t, "trades-2024-01-02T00-00-00.json", filepath.Base(path))
	}
}

func TestMirrorSnapshotJob_CancelledContext(t *testing.T) {
	repo, _ := setupMirror(t)
	backupDir := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := NewMirrorSnapshotJob(repo, backupDir, 14, zerolog.New(nil).Level(zerolog.Disabled))
	require.Error(t, job.Run(ctx))

	entries, err := filepath.Glob(filepath.Join(backupDir, "trades-*.json"))
	require.NoError(t, err)
	assert.Empty(t, entries, "a cancelled run must not write a snapshot")
}

func TestCompactTombstonesJob(t *testing.T) {
	repo, db := setupMirror(t)
	require.NoError(t, repo.Tombstone("fresh", "ownership_mismatch"))

	// Backdate a second tombstone past the retention window.
	_, err := db.Exec(
		"INSERT INTO tombstones (trade_id, reason, created_at) VALUES (?, ?, ?)",
		"old", "ownership_mismatch", time.Now().Add(-48*time.Hour).Unix(),
	)
	require.NoError(t, err)

	job := NewCompactTombstonesJob(repo, 24*time.Hour, zerolog.New(nil).Level(zerolog.Disabled))
	assert.Equal(t, "compact_tombstones", job.Name())
	require.NoError(t, job.Run(context.Background()))

	tombs, err := repo.Tombstoned()
	require.NoError(t, err)
	assert.True(t, tombs["fresh"], "recent tombstones must survive compaction")
	assert.False(t, tombs["old"], "expired tombstones should be removed")
}
