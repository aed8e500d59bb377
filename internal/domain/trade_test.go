package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStableKey_NormalizesTickerAndType(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := Trade{Ticker: "aapl", Date: date, Type: "buy", Quantity: 10, Price: 100}
	b := Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 25, Price: 90}

	assert.Equal(t, a.StableKey(), b.StableKey(), "stable key ignores quantity and price")
}

func TestContentKey_IncludesQuantityAndPrice(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 10, Price: 100}
	b := Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 15, Price: 100}

	assert.NotEqual(t, a.ContentKey(), b.ContentKey())
}

func TestContentEquals_EpsilonComparison(t *testing.T) {
	base := Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "USD", Quantity: 10, Price: 100}

	tests := []struct {
		name  string
		other Trade
		want  bool
	}{
		{
			name:  "identical",
			other: Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "USD", Quantity: 10, Price: 100},
			want:  true,
		},
		{
			name:  "within epsilon",
			other: Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "USD", Quantity: 10.00001, Price: 99.99999},
			want:  true,
		},
		{
			name:  "quantity differs",
			other: Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "USD", Quantity: 15, Price: 100},
			want:  false,
		},
		{
			name:  "currency differs",
			other: Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "EUR", Quantity: 10, Price: 100},
			want:  false,
		},
		{
			name:  "simulated flag differs",
			other: Trade{Ticker: "MSFT", Type: TradeBuy, Currency: "USD", Quantity: 10, Price: 100, IsSimulated: true},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, base.ContentEquals(tt.other))
		})
	}
}

func TestTradeValidate(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		trade   Trade
		wantErr bool
	}{
		{
			name:    "valid buy",
			trade:   Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 10, Price: 100},
			wantErr: false,
		},
		{
			name:    "lowercase type accepted",
			trade:   Trade{Ticker: "AAPL", Date: date, Type: "sell", Quantity: 10, Price: 100},
			wantErr: false,
		},
		{
			name:    "missing ticker",
			trade:   Trade{Date: date, Type: TradeBuy, Quantity: 10, Price: 100},
			wantErr: true,
		},
		{
			name:    "zero date",
			trade:   Trade{Ticker: "AAPL", Type: TradeBuy, Quantity: 10, Price: 100},
			wantErr: true,
		},
		{
			name:    "bad type",
			trade:   Trade{Ticker: "AAPL", Date: date, Type: "HOLD", Quantity: 10, Price: 100},
			wantErr: true,
		},
		{
			name:    "zero quantity",
			trade:   Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 0, Price: 100},
			wantErr: true,
		},
		{
			name:    "negative price",
			trade:   Trade{Ticker: "AAPL", Date: date, Type: TradeBuy, Quantity: 10, Price: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.trade.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTradeJSON_WireFormat(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trade := Trade{
		ID:       "a",
		Ticker:   "AAPL",
		Date:     date,
		Type:     TradeBuy,
		Currency: "USD",
		Quantity: 10,
		Price:    100,
		OwnerID:  "user-1",
	}

	raw, err := json.Marshal(trade)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &fields))

	// Wire format uses short field names and never leaks device-local fields.
	assert.Contains(t, fields, "qty")
	assert.NotContains(t, fields, "quantity")
	assert.NotContains(t, fields, "ownerId")
	assert.NotContains(t, fields, "createdAt")
	assert.NotContains(t, fields, "mock", "mock omitted when false")

	var back Trade
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, trade.ID, back.ID)
	assert.Equal(t, trade.Quantity, back.Quantity)
	assert.True(t, trade.Date.Equal(back.Date))
}

func TestTradeJSON_DateForms(t *testing.T) {
	tests := []struct {
		name string
		date string
		want time.Time
	}{
		{
			name: "rfc3339",
			date: "2024-01-01T15:30:00Z",
			want: time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
		},
		{
			name: "rfc3339 with offset normalized to UTC",
			date: "2024-01-01T15:30:00+02:00",
			want: time.Date(2024, 1, 1, 13, 30, 0, 0, time.UTC),
		},
		{
			name: "timestamp without zone",
			date: "2024-01-01T15:30:00",
			want: time.Date(2024, 1, 1, 15, 30, 0, 0, time.UTC),
		},
		{
			name: "date only",
			date: "2024-01-01",
			want: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"id":"a","date":"` + tt.date + `","ticker":"AAPL","type":"BUY","currency":"USD","qty":10,"price":100}`

			var trade Trade
			require.NoError(t, json.Unmarshal([]byte(raw), &trade))
			assert.True(t, tt.want.Equal(trade.Date), "got %s", trade.Date)
		})
	}
}

func TestTradeJSON_UnparsableDateIsAnError(t *testing.T) {
	raw := `{"id":"a","date":"last tuesday","ticker":"AAPL","type":"BUY","currency":"USD","qty":10,"price":100}`

	var trade Trade
	assert.Error(t, json.Unmarshal([]byte(raw), &trade))
}
