// Package ledger is the primary store adapter: the authoritative per-owner
// trade collection backed by the ledger database.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/database"
	"github.com/aristath/foliosync/internal/domain"
)

// ErrNotFound is returned when an update targets a trade that does not exist.
var ErrNotFound = errors.New("trade not found")

// ErrPermissionDenied is returned when a mutation targets a trade owned by a
// different principal.
var ErrPermissionDenied = errors.New("trade owned by different principal")

// tradesColumns is the list of columns for the trades table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match scanTrade() and scanTradeFromRows().
const tradesColumns = `id, owner_id, ticker, trade_date, trade_type, quantity, price, currency, is_simulated, created_at, updated_at`

// Repository handles trade database operations against the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger

	// List results are cached per owner; any mutation invalidates the
	// cache. Callers that must observe the latest committed state pass
	// forceFresh.
	mu    sync.RWMutex
	cache map[string][]domain.Trade
}

// NewRepository creates a new ledger repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:    db,
		log:   log.With().Str("repo", "ledger").Logger(),
		cache: make(map[string][]domain.Trade),
	}
}

// List returns all trades belonging to an owner, most recent first.
// forceFresh bypasses the in-memory cache and reads the database directly.
func (r *Repository) List(ownerID string, forceFresh bool) ([]domain.Trade, error) {
	if !forceFresh {
		r.mu.RLock()
		cached, ok := r.cache[ownerID]
		r.mu.RUnlock()
		if ok {
			out := make([]domain.Trade, len(cached))
			copy(out, cached)
			return out, nil
		}
	}

	query := "SELECT " + tradesColumns + " FROM trades WHERE owner_id = ? ORDER BY trade_date DESC, id"

	rows, err := r.db.Query(query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTradeFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trades: %w", err)
	}

	r.mu.Lock()
	snapshot := make([]domain.Trade, len(trades))
	copy(snapshot, trades)
	r.cache[ownerID] = snapshot
	r.mu.Unlock()

	return trades, nil
}

// Get retrieves a single trade by id regardless of owner. Callers use the
// returned OwnerID to detect cross-owner records.
func (r *Repository) Get(id string) (*domain.Trade, error) {
	query := "SELECT " + tradesColumns + " FROM trades WHERE id = ?"

	row := r.db.QueryRow(query, id)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", err)
	}

	return &trade, nil
}

// Create inserts a new trade with a generated id and returns it.
func (r *Repository) Create(ownerID string, trade domain.Trade) (string, error) {
	id := uuid.NewString()
	if err := r.insert(ownerID, id, trade); err != nil {
		return "", err
	}
	return id, nil
}

// CreateWithID inserts a new trade preserving an id assigned elsewhere
// (typically one carried in the remote document). Keeping the original id is
// what lets later reconciliation passes match the record exactly instead of
// falling back to fuzzy matching.
func (r *Repository) CreateWithID(ownerID, id string, trade domain.Trade) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("trade id is required")
	}
	return r.insert(ownerID, id, trade)
}

func (r *Repository) insert(ownerID, id string, trade domain.Trade) error {
	if err := trade.Validate(); err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	trade = trade.Normalized()
	now := time.Now().Unix()

	createdAt := now
	if !trade.CreatedAt.IsZero() {
		createdAt = trade.CreatedAt.Unix()
	}

	query := `
		INSERT INTO trades
		(id, owner_id, ticker, trade_date, trade_type, quantity, price,
		 currency, is_simulated, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		id,
		ownerID,
		trade.Ticker,
		trade.Date.Unix(),
		string(trade.Type),
		trade.Quantity,
		trade.Price,
		defaultCurrency(trade.Currency),
		boolToInt(trade.IsSimulated),
		createdAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}

	r.invalidate(ownerID)

	r.log.Info().
		Str("id", id).
		Str("ticker", trade.Ticker).
		Str("type", string(trade.Type)).
		Float64("quantity", trade.Quantity).
		Msg("Trade created")

	return nil
}

// Patch carries a partial update. Nil fields are left untouched.
type Patch struct {
	Quantity    *float64
	Price       *float64
	Currency    *string
	IsSimulated *bool
}

// Update applies a partial update to an owned trade.
// Returns ErrNotFound if the trade does not exist and ErrPermissionDenied if
// it belongs to a different owner.
func (r *Repository) Update(ownerID, id string, patch Patch) error {
	existing, err := r.Get(id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("failed to update trade %s: %w", id, ErrNotFound)
	}
	if existing.OwnerID != ownerID {
		return fmt.Errorf("failed to update trade %s: %w", id, ErrPermissionDenied)
	}

	var sets []string
	var args []interface{}

	if patch.Quantity != nil {
		sets = append(sets, "quantity = ?")
		args = append(args, *patch.Quantity)
	}
	if patch.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *patch.Price)
	}
	if patch.Currency != nil {
		sets = append(sets, "currency = ?")
		args = append(args, *patch.Currency)
	}
	if patch.IsSimulated != nil {
		sets = append(sets, "is_simulated = ?")
		args = append(args, boolToInt(*patch.IsSimulated))
	}

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix())
	args = append(args, id, ownerID)

	query := "UPDATE trades SET " + strings.Join(sets, ", ") + " WHERE id = ? AND owner_id = ?"

	if _, err := r.db.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to update trade %s: %w", id, err)
	}

	r.invalidate(ownerID)

	r.log.Debug().Str("id", id).Msg("Trade updated")

	return nil
}

// Delete removes an owned trade. Returns false (not an error) when the trade
// belongs to a different owner, so the caller can tombstone it instead. A
// missing trade counts as deleted.
func (r *Repository) Delete(ownerID, id string) (bool, error) {
	existing, err := r.Get(id)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, nil
	}
	if existing.OwnerID != ownerID {
		r.log.Warn().
			Str("id", id).
			Str("owner", existing.OwnerID).
			Str("principal", ownerID).
			Msg("Delete skipped: ownership mismatch")
		return false, nil
	}

	if _, err := r.db.Exec("DELETE FROM trades WHERE id = ? AND owner_id = ?", id, ownerID); err != nil {
		return false, fmt.Errorf("failed to delete trade %s: %w", id, err)
	}

	r.invalidate(ownerID)

	r.log.Info().Str("id", id).Msg("Trade deleted")

	return true, nil
}

// BulkImport inserts a batch of trades in one transaction and returns the
// assigned ids. Trades carrying an id keep it; the rest get generated ones.
func (r *Repository) BulkImport(ownerID string, trades []domain.Trade) ([]string, error) {
	ids := make([]string, 0, len(trades))

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO trades
			(id, owner_id, ticker, trade_date, trade_type, quantity, price,
			 currency, is_simulated, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		now := time.Now().Unix()
		for _, trade := range trades {
			if err := trade.Validate(); err != nil {
				return fmt.Errorf("invalid trade in import batch: %w", err)
			}

			trade = trade.Normalized()

			id := trade.ID
			if id == "" {
				id = uuid.NewString()
			}

			createdAt := now
			if !trade.CreatedAt.IsZero() {
				createdAt = trade.CreatedAt.Unix()
			}

			if _, err := tx.Exec(query,
				id,
				ownerID,
				trade.Ticker,
				trade.Date.Unix(),
				string(trade.Type),
				trade.Quantity,
				trade.Price,
				defaultCurrency(trade.Currency),
				boolToInt(trade.IsSimulated),
				createdAt,
				now,
			); err != nil {
				return fmt.Errorf("failed to import trade %s: %w", id, err)
			}

			ids = append(ids, id)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	r.invalidate(ownerID)

	r.log.Info().Int("count", len(ids)).Msg("Trades imported")

	return ids, nil
}

// Count returns the number of trades for an owner.
func (r *Repository) Count(ownerID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM trades WHERE owner_id = ?", ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count trades: %w", err)
	}
	return count, nil
}

func (r *Repository) invalidate(ownerID string) {
	r.mu.Lock()
	delete(r.cache, ownerID)
	r.mu.Unlock()
}

// scanTrade scans a single row into a Trade
func scanTrade(row *sql.Row) (domain.Trade, error) {
	var t domain.Trade
	var tradeDate, createdAt, updatedAt int64
	var tradeType string
	var isSimulated int

	err := row.Scan(
		&t.ID, &t.OwnerID, &t.Ticker, &tradeDate, &tradeType,
		&t.Quantity, &t.Price, &t.Currency, &isSimulated,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return t, err
	}

	t.Date = time.Unix(tradeDate, 0).UTC()
	t.Type = domain.TradeType(tradeType)
	t.IsSimulated = isSimulated != 0
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return t, nil
}

// scanTradeFromRows scans the current row of a Rows iterator into a Trade
func scanTradeFromRows(rows *sql.Rows) (domain.Trade, error) {
	var t domain.Trade
	var tradeDate, createdAt, updatedAt int64
	var tradeType string
	var isSimulated int

	err := rows.Scan(
		&t.ID, &t.OwnerID, &t.Ticker, &tradeDate, &tradeType,
		&t.Quantity, &t.Price, &t.Currency, &isSimulated,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return t, err
	}

	t.Date = time.Unix(tradeDate, 0).UTC()
	t.Type = domain.TradeType(tradeType)
	t.IsSimulated = isSimulated != 0
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return t, nil
}

func defaultCurrency(currency string) string {
	if strings.TrimSpace(currency) == "" {
		return "USD"
	}
	return strings.ToUpper(currency)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
