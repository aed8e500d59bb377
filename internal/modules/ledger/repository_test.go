package ledger

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
		CREATE TABLE trades (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			trade_date INTEGER NOT NULL,
			trade_type TEXT NOT NULL,
			quantity REAL NOT NULL,
			price REAL NOT NULL,
			currency TEXT NOT NULL DEFAULT 'USD',
			is_simulated INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	require.NoError(t, err, "failed to create test table")

	return db
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewRepository(setupTestDB(t), log)
}

func testTrade(ticker string) domain.Trade {
	return domain.Trade{
		Ticker:   ticker,
		Date:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Type:     domain.TradeBuy,
		Currency: "USD",
		Quantity: 10,
		Price:    100,
	}
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create("user-1", testTrade("AAPL"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	trades, err := repo.List("user-1", true)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, id, trades[0].ID)
	assert.Equal(t, "AAPL", trades[0].Ticker)
	assert.Equal(t, "user-1", trades[0].OwnerID)
}

func TestCreate_RejectsInvalidTrade(t *testing.T) {
	repo := newTestRepo(t)

	bad := testTrade("AAPL")
	bad.Quantity = 0

	_, err := repo.Create("user-1", bad)
	assert.Error(t, err)
}

func TestCreateWithID_PreservesID(t *testing.T) {
	repo := newTestRepo(t)

	err := repo.CreateWithID("user-1", "remote-id-7", testTrade("MSFT"))
	require.NoError(t, err)

	trade, err := repo.Get("remote-id-7")
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "MSFT", trade.Ticker)
}

func TestList_CacheAndForceFresh(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Create("user-1", testTrade("AAPL"))
	require.NoError(t, err)

	// Warm the cache.
	first, err := repo.List("user-1", false)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Write behind the repository's back; the cache does not see it.
	_, err = repo.db.Exec(
		`INSERT INTO trades (id, owner_id, ticker, trade_date, trade_type, quantity, price, currency, is_simulated, created_at, updated_at)
		 VALUES ('x', 'user-1', 'NVDA', 1704067200, 'BUY', 1, 500, 'USD', 0, 0, 0)`)
	require.NoError(t, err)

	cached, err := repo.List("user-1", false)
	require.NoError(t, err)
	assert.Len(t, cached, 1, "cached read misses out-of-band write")

	fresh, err := repo.List("user-1", true)
	require.NoError(t, err)
	assert.Len(t, fresh, 2, "forceFresh bypasses the cache")
}

func TestUpdate(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create("user-1", testTrade("AAPL"))
	require.NoError(t, err)

	qty := 15.0
	err = repo.Update("user-1", id, Patch{Quantity: &qty})
	require.NoError(t, err)

	trade, err := repo.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 15.0, trade.Quantity)
	assert.Equal(t, 100.0, trade.Price, "unpatched fields untouched")
}

func TestUpdate_NotFound(t *testing.T) {
	repo := newTestRepo(t)

	qty := 15.0
	err := repo.Update("user-1", "missing", Patch{Quantity: &qty})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdate_PermissionDenied(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create("user-2", testTrade("AAPL"))
	require.NoError(t, err)

	qty := 15.0
	err = repo.Update("user-1", id, Patch{Quantity: &qty})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDelete(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create("user-1", testTrade("AAPL"))
	require.NoError(t, err)

	deleted, err := repo.Delete("user-1", id)
	require.NoError(t, err)
	assert.True(t, deleted)

	trade, err := repo.Get(id)
	require.NoError(t, err)
	assert.Nil(t, trade)
}

func TestDelete_OwnershipMismatchSkips(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create("user-2", testTrade("AAPL"))
	require.NoError(t, err)

	deleted, err := repo.Delete("user-1", id)
	require.NoError(t, err, "ownership mismatch is a skip, not an error")
	assert.False(t, deleted)

	trade, err := repo.Get(id)
	require.NoError(t, err)
	assert.NotNil(t, trade, "record preserved")
}

func TestDelete_MissingCountsAsDeleted(t *testing.T) {
	repo := newTestRepo(t)

	deleted, err := repo.Delete("user-1", "missing")
	require.NoError(t, err)
	assert.True(t, deleted)
}

func TestBulkImport(t *testing.T) {
	repo := newTestRepo(t)

	withID := testTrade("AAPL")
	withID.ID = "keep-me"

	ids, err := repo.BulkImport("user-1", []domain.Trade{withID, testTrade("MSFT"), testTrade("NVDA")})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, "keep-me", ids[0])

	count, err := repo.Count("user-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestBulkImport_InvalidTradeRollsBack(t *testing.T) {
	repo := newTestRepo(t)

	bad := testTrade("MSFT")
	bad.Type = "HOLD"

	_, err := repo.BulkImport("user-1", []domain.Trade{testTrade("AAPL"), bad})
	require.Error(t, err)

	count, err := repo.Count("user-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count, "partial import rolled back")
}
