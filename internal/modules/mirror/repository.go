// Package mirror is the device-local trade store: the offline staging buffer
// used when no authoritative store is reachable, plus the tombstone ledger
// for records that cannot legally be deleted upstream.
package mirror

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/foliosync/internal/database"
	"github.com/aristath/foliosync/internal/domain"
)

const mirrorColumns = `id, owner_id, ticker, trade_date, trade_type, quantity, price, currency, is_simulated, created_at, updated_at`

// Repository handles the mirror database: a flat trade list and tombstones.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new mirror repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "mirror").Logger(),
	}
}

// Load returns the mirrored trade list. Tombstoned trades are excluded from
// every view.
func (r *Repository) Load() ([]domain.Trade, error) {
	query := "SELECT " + mirrorColumns + ` FROM mirror_trades
		WHERE id NOT IN (SELECT trade_id FROM tombstones)
		ORDER BY trade_date DESC, id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var tradeDate, createdAt, updatedAt int64
		var tradeType string
		var isSimulated int

		if err := rows.Scan(
			&t.ID, &t.OwnerID, &t.Ticker, &tradeDate, &tradeType,
			&t.Quantity, &t.Price, &t.Currency, &isSimulated,
			&createdAt, &updatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan mirror trade: %w", err)
		}

		t.Date = time.Unix(tradeDate, 0).UTC()
		t.Type = domain.TradeType(tradeType)
		t.IsSimulated = isSimulated != 0
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		t.UpdatedAt = time.Unix(updatedAt, 0).UTC()

		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mirror trades: %w", err)
	}

	return trades, nil
}

// Save replaces the mirrored trade list atomically. Trades without an id get
// a generated one so a later export/import round-trip is stable.
func (r *Repository) Save(trades []domain.Trade) error {
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM mirror_trades"); err != nil {
			return fmt.Errorf("failed to clear mirror: %w", err)
		}

		query := `
			INSERT INTO mirror_trades
			(id, owner_id, ticker, trade_date, trade_type, quantity, price,
			 currency, is_simulated, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`

		now := time.Now().Unix()
		for _, trade := range trades {
			trade = trade.Normalized()

			id := trade.ID
			if id == "" {
				id = uuid.NewString()
			}

			createdAt := now
			if !trade.CreatedAt.IsZero() {
				createdAt = trade.CreatedAt.Unix()
			}
			updatedAt := now
			if !trade.UpdatedAt.IsZero() {
				updatedAt = trade.UpdatedAt.Unix()
			}

			if _, err := tx.Exec(query,
				id,
				trade.OwnerID,
				trade.Ticker,
				trade.Date.Unix(),
				string(trade.Type),
				trade.Quantity,
				trade.Price,
				trade.Currency,
				boolToInt(trade.IsSimulated),
				createdAt,
				updatedAt,
			); err != nil {
				return fmt.Errorf("failed to save mirror trade %s: %w", id, err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("count", len(trades)).Msg("Mirror saved")

	return nil
}

// Export produces a document in the same schema as the remote file, so a
// mirror export can be imported anywhere the remote file can.
func (r *Repository) Export() (*domain.Document, error) {
	trades, err := r.Load()
	if err != nil {
		return nil, err
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	return domain.NewDocument(trades), nil
}

// Import replaces the mirror with a document's trade list.
func (r *Repository) Import(doc *domain.Document) error {
	if doc == nil {
		return fmt.Errorf("cannot import nil document")
	}
	return r.Save(doc.Trades)
}

// Tombstone marks a trade id as soft-deleted. Tombstoned ids are excluded
// from Load, Export and all future reconciliation diffs, which is what keeps
// an undeletable record from resurrecting on every pass.
func (r *Repository) Tombstone(tradeID, reason string) error {
	if reason == "" {
		reason = "ownership_mismatch"
	}

	_, err := r.db.Exec(
		"INSERT OR IGNORE INTO tombstones (trade_id, reason, created_at) VALUES (?, ?, ?)",
		tradeID, reason, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to tombstone trade %s: %w", tradeID, err)
	}

	r.log.Info().Str("id", tradeID).Str("reason", reason).Msg("Trade tombstoned")

	return nil
}

// Tombstoned returns the set of tombstoned trade ids.
func (r *Repository) Tombstoned() (map[string]bool, error) {
	rows, err := r.db.Query("SELECT trade_id FROM tombstones")
	if err != nil {
		return nil, fmt.Errorf("failed to load tombstones: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tombstones: %w", err)
	}

	return out, nil
}

// CompactTombstones drops tombstones older than the retention window.
// A tombstone only matters while the blocked record can still reappear in a
// remote document; after months it is just noise.
func (r *Repository) CompactTombstones(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()

	result, err := r.db.Exec("DELETE FROM tombstones WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to compact tombstones: %w", err)
	}

	removed, _ := result.RowsAffected()
	if removed > 0 {
		r.log.Info().Int64("removed", removed).Msg("Tombstones compacted")
	}

	return removed, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
