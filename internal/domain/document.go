package domain

import (
	"encoding/json"
	"time"
)

// SchemaVersion is written into every document's metadata.
const SchemaVersion = "1.0"

// Metadata describes the document carrying a trade list. The remote file is
// hand-editable, so none of these fields can be trusted blindly; TradeCount
// in particular routinely disagrees with the array after manual edits.
type Metadata struct {
	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`
	Version     string    `json:"version"`
	TradeCount  int       `json:"tradeCount"`
	DataSize    int       `json:"dataSize"`
}

// Document is the externally-editable ledger file: a flat trade list plus
// metadata. The same schema is used for the remote file and for mirror
// exports.
type Document struct {
	Trades   []Trade  `json:"trades"`
	Metadata Metadata `json:"metadata"`
}

// NewDocument builds a fresh document around a trade list with consistent
// metadata.
func NewDocument(trades []Trade) *Document {
	doc := &Document{
		Trades: trades,
		Metadata: Metadata{
			CreatedAt: time.Now().UTC(),
			Version:   SchemaVersion,
		},
	}
	doc.Refresh()
	return doc
}

// Heal recomputes TradeCount from the trade array. The array is ground
// truth; a disagreeing count means the file was edited by hand. Returns
// true when a correction was made so callers can schedule a write-back.
func (d *Document) Heal() bool {
	if d.Metadata.TradeCount == len(d.Trades) {
		return false
	}
	d.Metadata.TradeCount = len(d.Trades)
	return true
}

// Refresh updates LastUpdated, TradeCount and DataSize to match the current
// trade list. Called before every upload.
func (d *Document) Refresh() {
	d.Metadata.LastUpdated = time.Now().UTC()
	d.Metadata.TradeCount = len(d.Trades)
	if d.Metadata.Version == "" {
		d.Metadata.Version = SchemaVersion
	}
	d.Metadata.DataSize = 0
	if raw, err := json.Marshal(d); err == nil {
		d.Metadata.DataSize = len(raw)
	}
}

// Encode serializes the document for upload or export.
func (d *Document) Encode() ([]byte, error) {
	d.Refresh()
	return json.MarshalIndent(d, "", "  ")
}

// DecodeDocument parses document bytes. A nil trades array is normalized to
// an empty slice so callers can always range over it; a parse failure is
// returned as-is and must never be treated as an empty document.
func DecodeDocument(raw []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc.Trades == nil {
		doc.Trades = []Trade{}
	}
	return &doc, nil
}
