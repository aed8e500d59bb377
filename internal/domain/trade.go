// Package domain holds the core data model shared by the ledger, the mirror
// and the sync engine.
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/floats/scalar"
)

// TradeType is the side of a trade.
type TradeType string

const (
	TradeBuy  TradeType = "BUY"
	TradeSell TradeType = "SELL"
)

// Epsilon is the tolerance used when comparing quantities and prices.
// Values that survived a JSON round-trip are not guaranteed to be
// bit-identical, so exact float equality would produce spurious updates.
const Epsilon = 0.0001

// Trade is the atomic ledger entry. The JSON tags define the remote
// document's wire format and must round-trip exactly; owner and
// bookkeeping timestamps never leave the device.
type Trade struct {
	ID          string    `json:"id,omitempty"`
	Date        time.Time `json:"date"`
	Ticker      string    `json:"ticker"`
	Type        TradeType `json:"type"`
	Currency    string    `json:"currency"`
	Quantity    float64   `json:"qty"`
	Price       float64   `json:"price"`
	IsSimulated bool      `json:"mock,omitempty"`

	OwnerID   string    `json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
}

// tradeDateLayouts lists the accepted forms of the document's date field,
// most specific first. Hand-edited files routinely carry bare calendar
// dates instead of full timestamps.
var tradeDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTradeDate parses a document date string and normalizes it to UTC.
func ParseTradeDate(s string) (time.Time, error) {
	for _, layout := range tradeDateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized trade date %q", s)
}

// UnmarshalJSON decodes a trade, accepting any date form in
// tradeDateLayouts. A missing or empty date decodes to the zero time and is
// caught by Validate before the trade can be stored.
func (t *Trade) UnmarshalJSON(data []byte) error {
	type alias Trade
	aux := struct {
		Date string `json:"date"`
		*alias
	}{alias: (*alias)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Date == "" {
		t.Date = time.Time{}
		return nil
	}
	parsed, err := ParseTradeDate(aux.Date)
	if err != nil {
		return err
	}
	t.Date = parsed
	return nil
}

// Normalized returns a copy with the ticker and type uppercased and the date
// converted to UTC. Matching keys are always built from the normalized form.
func (t Trade) Normalized() Trade {
	t.Ticker = strings.ToUpper(strings.TrimSpace(t.Ticker))
	t.Type = TradeType(strings.ToUpper(strings.TrimSpace(string(t.Type))))
	t.Date = t.Date.UTC()
	return t
}

// StableKey identifies a trade by its business identity only. Quantity and
// price are deliberately excluded so an edited trade still matches its
// earlier self instead of looking like a delete-and-recreate.
func (t Trade) StableKey() string {
	n := t.Normalized()
	return fmt.Sprintf("%s-%s-%s", n.Ticker, n.Date.Format(time.RFC3339), n.Type)
}

// ContentKey extends the stable key with price and quantity. Used as the
// last-resort match for trades with no id and an ambiguous stable key.
func (t Trade) ContentKey() string {
	return fmt.Sprintf("%s-%g-%g", t.StableKey(), t.Price, t.Quantity)
}

// ContentEquals reports whether the mutable fields of two trades agree.
// Quantity and price use epsilon comparison.
func (t Trade) ContentEquals(other Trade) bool {
	return scalar.EqualWithinAbs(t.Quantity, other.Quantity, Epsilon) &&
		scalar.EqualWithinAbs(t.Price, other.Price, Epsilon) &&
		strings.EqualFold(t.Currency, other.Currency) &&
		t.IsSimulated == other.IsSimulated
}

// SameIdentity reports whether two trades share business identity
// (ticker, date, type) after normalization.
func (t Trade) SameIdentity(other Trade) bool {
	return t.StableKey() == other.StableKey()
}

// Validate checks the fields a trade needs before it can be stored.
func (t Trade) Validate() error {
	if strings.TrimSpace(t.Ticker) == "" {
		return fmt.Errorf("trade ticker is required")
	}
	if t.Date.IsZero() {
		return fmt.Errorf("trade date is required")
	}
	switch TradeType(strings.ToUpper(string(t.Type))) {
	case TradeBuy, TradeSell:
	default:
		return fmt.Errorf("trade type must be BUY or SELL, got %q", t.Type)
	}
	if t.Quantity <= 0 {
		return fmt.Errorf("trade quantity must be positive")
	}
	if t.Price < 0 {
		return fmt.Errorf("trade price must not be negative")
	}
	return nil
}
