// Package extract implements the tax-lot extraction core: the interaction
// protocol that reads one position's lot details, the accumulator that
// merges results, and the resumable state machine that walks every
// discovered position one at a time.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Lot is one tax lot read from the lot detail modal. Numeric fields default
// to 0 when the source cell is absent or unparseable; absence is not
// distinguished from zero. OpenDate keeps the page's locale formatting.
type Lot struct {
	OpenDate             string  `json:"open_date"`
	Quantity             float64 `json:"quantity"`
	Price                float64 `json:"price"`
	CostPerShare         float64 `json:"cost_per_share"`
	MarketValue          float64 `json:"market_value"`
	CostBasis            float64 `json:"cost_basis"`
	GainOrLoss           float64 `json:"gain_or_loss"`
	GainOrLossPercentage float64 `json:"gain_or_loss_percentage"`
	HoldingPeriod        string  `json:"holding_period"`
}

// SymbolLots pairs one symbol with its accumulated lots.
type SymbolLots struct {
	Symbol string
	Lots   []Lot
}

// AccountLots holds the symbol entries of one account in first-discovery
// order. Each symbol appears in at most one entry.
type AccountLots struct {
	AccountID string
	Symbols   []SymbolLots
}

// AccumulatedData is the nested per-account, per-symbol result structure.
// Account and symbol ordering reflects first-discovery order.
type AccumulatedData struct {
	Accounts []AccountLots
}

// HasData reports whether any account entry exists.
func (d *AccumulatedData) HasData() bool {
	return d != nil && len(d.Accounts) > 0
}

// SymbolCount returns the number of distinct symbol entries across all
// accounts.
func (d *AccumulatedData) SymbolCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, a := range d.Accounts {
		n += len(a.Symbols)
	}
	return n
}

// LotCount returns the total number of accumulated lots.
func (d *AccumulatedData) LotCount() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, a := range d.Accounts {
		for _, s := range a.Symbols {
			n += len(s.Lots)
		}
	}
	return n
}

// MarshalJSON renders the structure as a JSON object keyed by account id,
// each value an array of single-key symbol objects, preserving construction
// order. This matches the persisted/export shape exactly.
func (d *AccumulatedData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range d.Accounts {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.AccountID)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteString(":[")
		for j, s := range a.Symbols {
			if j > 0 {
				buf.WriteByte(',')
			}
			sym, err := json.Marshal(s.Symbol)
			if err != nil {
				return nil, err
			}
			lots, err := json.Marshal(s.Lots)
			if err != nil {
				return nil, err
			}
			buf.WriteByte('{')
			buf.Write(sym)
			buf.WriteByte(':')
			buf.Write(lots)
			buf.WriteByte('}')
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Progress is the persisted run position. CurrentIndex counts fully
// processed targets and never exceeds TotalPositions; IsRunning is false in
// both the initial and terminal states.
type Progress struct {
	IsRunning      bool       `json:"is_running"`
	CurrentIndex   int        `json:"current_index"`
	TotalPositions int        `json:"total_positions"`
	LastUpdated    *time.Time `json:"last_updated"`
}

// Ratio returns the "current/total" display string.
func (p Progress) Ratio() string {
	return fmt.Sprintf("%d/%d", p.CurrentIndex, p.TotalPositions)
}

// ErrorEntry records one target that failed after retries were exhausted.
type ErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	AccountID string    `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Error     string    `json:"error"`
}

// Summary describes a completed run.
type Summary struct {
	Total     int `json:"total"`
	Symbols   int `json:"symbols"`
	Positions int `json:"positions"`
	Errors    int `json:"errors"`
}

// Store persists the three extraction slots. Missing slots load as zero
// values; implementations must never invent data.
type Store interface {
	LoadProgress(ctx context.Context) (Progress, error)
	SaveProgress(ctx context.Context, p Progress) error
	LoadData(ctx context.Context) (*AccumulatedData, error)
	SaveData(ctx context.Context, d *AccumulatedData) error
	LoadErrors(ctx context.Context) ([]ErrorEntry, error)
	SaveErrors(ctx context.Context, errs []ErrorEntry) error
	ClearAll(ctx context.Context) error
}

// Notifier receives the machine's asynchronous events. Implementations must
// not block; the machine calls these from its single control goroutine.
type Notifier interface {
	Progress(status string, current, total int)
	Completed(s Summary)
	Stopped(progress string, hasData bool)
	RunError(message, progress string)
	ExportComplete(format string)
}
