// Package page abstracts the brokerage positions page. The extraction core
// talks to the Page interface only; the chromedp implementation in this
// package drives the live page, and tests substitute fakes.
package page

import "context"

// Target identifies one actionable position row on the page. Targets are
// ephemeral: they are recomputed on every discovery call and must not be
// persisted.
type Target struct {
	// Index is the position of the element among the currently visible
	// action controls, in document order.
	Index int `json:"index"`

	// AccountID is the id of the enclosing account grouping.
	AccountID string `json:"account_id"`

	// Symbol is the ticker from the enclosing position row. May contain
	// a slash (e.g. "BRK/B").
	Symbol string `json:"symbol"`
}

// Key returns the composite deduplication key for the target.
func (t Target) Key() string {
	return t.AccountID + "-" + t.Symbol
}

// LotRow holds the raw cell text of one data row in the lot detail table.
// A nil field means the cell is absent from the row.
type LotRow struct {
	OpenDate      *string `json:"open_date"`
	Quantity      *string `json:"quantity"`
	Price         *string `json:"price"`
	CostPerShare  *string `json:"cost_per_share"`
	MarketValue   *string `json:"market_value"`
	CostBasis     *string `json:"cost_basis"`
	GainLoss      *string `json:"gain_loss"`
	GainLossPct   *string `json:"gain_loss_pct"`
	HoldingPeriod *string `json:"holding_period"`
}

// Page is the set of interactions the extraction core performs against the
// positions page. Implementations must be safe to call repeatedly; none of
// the methods retain references to page elements across calls.
type Page interface {
	// URL returns the current page location.
	URL(ctx context.Context) (string, error)

	// FindTargets returns the visible position action controls in
	// document order. Controls with zero rendered width or height
	// (collapsed responsive-layout duplicates) are excluded.
	FindTargets(ctx context.Context) ([]Target, error)

	// ClickTarget triggers the target's primary action, toggling its
	// action menu.
	ClickTarget(ctx context.Context, t Target) error

	// MenuVisible reports whether the action menu is currently open.
	MenuVisible(ctx context.Context) (bool, error)

	// ClickMenuItem activates the menu entry whose visible text equals
	// label exactly. Returns false when no such entry exists.
	ClickMenuItem(ctx context.Context, label string) (bool, error)

	// ModalOpen reports whether the lot detail modal is open.
	ModalOpen(ctx context.Context) (bool, error)

	// ModalTitle returns the modal's title text.
	ModalTitle(ctx context.Context) (string, error)

	// ReadLotRows returns the raw cells of every data row in the lot
	// detail table.
	ReadLotRows(ctx context.Context) ([]LotRow, error)

	// CloseModal clicks the modal's close control. Returns false when
	// no close control is found.
	CloseModal(ctx context.Context) (bool, error)

	// Highlight and Unhighlight mark the target being processed.
	// Cosmetic; failures are ignored by callers.
	Highlight(ctx context.Context, t Target) error
	Unhighlight(ctx context.Context, t Target) error
}
