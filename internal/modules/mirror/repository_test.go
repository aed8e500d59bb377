package mirror

import (
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/foliosync/internal/domain"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err, "failed to open test database")
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
	require.NoError(t, err, "failed to create test tables")

	return db
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(setupTestDB(t), log)
}

func sampleTrades() []domain.Trade {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []domain.Trade{
		{ID: "a", Ticker: "AAPL", Date: date, Type: domain.TradeBuy, Currency: "USD", Quantity: 10, Price: 100},
		{ID: "b", Ticker: "MSFT", Date: date, Type: domain.TradeSell, Currency: "USD", Quantity: 5, Price: 300},
	}
}

func TestSaveAndLoad(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Save(sampleTrades()))

	trades, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestSave_ReplacesPreviousContent(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Save(sampleTrades()))
	require.NoError(t, repo.Save(sampleTrades()[:1]))

	trades, err := repo.Load()
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestExportImport_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Save(sampleTrades()))

	doc, err := repo.Export()
	require.NoError(t, err)
	assert.Equal(t, 2, doc.Metadata.TradeCount)

	// Import into a fresh mirror and compare.
	other := newTestRepo(t)
	require.NoError(t, other.Import(doc))

	trades, err := other.Load()
	require.NoError(t, err)
	require.Len(t, trades, 2)

	byID := map[string]domain.Trade{}
	for _, tr := range trades {
		byID[tr.ID] = tr
	}
	for _, want := range sampleTrades() {
		got, ok := byID[want.ID]
		require.True(t, ok, "trade %s survived the round-trip", want.ID)
		assert.Equal(t, want.Ticker, got.Ticker)
		assert.Equal(t, want.Quantity, got.Quantity)
		assert.Equal(t, want.Price, got.Price)
		assert.True(t, want.Date.Equal(got.Date))
	}
}

func TestTombstone_ExcludedFromViews(t *testing.T) {
	repo := newTestRepo(t)
	require.NoError(t, repo.Save(sampleTrades()))

	require.NoError(t, repo.Tombstone("a", "ownership_mismatch"))

	trades, err := repo.Load()
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "b", trades[0].ID)

	doc, err := repo.Export()
	require.NoError(t, err)
	assert.Len(t, doc.Trades, 1, "tombstoned trades never leave the device")

	tombs, err := repo.Tombstoned()
	require.NoError(t, err)
	assert.True(t, tombs["a"])
}

func TestTombstone_Idempotent(t *testing.T) {
	repo := newTestRepo(t)

	require.NoError(t, repo.Tombstone("a", ""))
	require.NoError(t, repo.Tombstone("a", ""))

	tombs, err := repo.Tombstoned()
	require.NoError(t, err)
	assert.Len(t, tombs, 1)
}

func TestCompactTombstones(t *testing.T) {
	repo := newTestRepo(t)

	// One stale tombstone, one fresh.
	_, err := repo.db.Exec(
		"INSERT INTO tombstones (trade_id, reason, created_at) VALUES ('old', 'ownership_mismatch', ?)",
		time.Now().Add(-100*24*time.Hour).Unix(),
	)
	require.NoError(t, err)
	require.NoError(t, repo.Tombstone("fresh", ""))

	removed, err := repo.CompactTombstones(90 * 24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	tombs, err := repo.Tombstoned()
	require.NoError(t, err)
	assert.False(t, tombs["old"])
	assert.True(t, tombs["fresh"])
}
