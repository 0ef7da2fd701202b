package extract

import (
	"context"
	"log/slog"
	"time"

	"lotcli/internal/page"
	"lotcli/internal/parse"
	"lotcli/internal/retry"
)

// LotDetailsLabel is the exact visible text of the menu entry that opens
// the lot detail modal.
const LotDetailsLabel = "Lot Details"

// Timings are the fixed settle delays between interaction steps. The page
// renders its menu and modal asynchronously with no readiness signal, so
// each step waits a fixed interval before inspecting the result.
type Timings struct {
	// MenuSettle is the wait after opening a target's action menu.
	MenuSettle time.Duration
	// MenuCloseSettle is the wait after re-clicking a target to close a
	// menu that is missing the Lot Details entry.
	MenuCloseSettle time.Duration
	// ModalSettle is the wait after activating Lot Details, before the
	// modal is inspected.
	ModalSettle time.Duration
	// CloseSettle is the wait after clicking the modal's close control.
	CloseSettle time.Duration
}

// DefaultTimings returns the delays the live page is known to need.
func DefaultTimings() Timings {
	return Timings{
		MenuSettle:      1500 * time.Millisecond,
		MenuCloseSettle: 500 * time.Millisecond,
		ModalSettle:     2000 * time.Millisecond,
		CloseSettle:     1000 * time.Millisecond,
	}
}

// Outcome is the result of one interaction-protocol run against a target.
type Outcome struct {
	// AlreadyProcessed is set when the target's composite key was found
	// in the processed set and no interaction was performed.
	AlreadyProcessed bool

	AccountID string
	Symbol    string
	Lots      []Lot
}

// Protocol performs the multi-step interaction that reveals and reads one
// target's lot details. A failure at any step returns a StepError; the
// machine wraps ExtractOne in the retry wrapper, so a StepError retries the
// whole sequence.
type Protocol struct {
	page    page.Page
	timings Timings
	sleep   retry.SleepFunc
	logger  *slog.Logger
}

// NewProtocol builds a protocol over the given page. A nil sleep uses real
// delays.
func NewProtocol(p page.Page, timings Timings, sleep retry.SleepFunc, logger *slog.Logger) *Protocol {
	if sleep == nil {
		sleep = retry.Sleep
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{
		page:    p,
		timings: timings,
		sleep:   sleep,
		logger:  logger.With(slog.String("component", "extract.protocol")),
	}
}

// ExtractOne runs the interaction sequence for one target. The processed
// set is consulted for the idempotent skip only; marking keys processed is
// the caller's responsibility so that retries re-enter the sequence.
func (p *Protocol) ExtractOne(ctx context.Context, t page.Target, processed map[string]struct{}) (Outcome, error) {
	if _, ok := processed[t.Key()]; ok {
		p.logger.Debug("target already processed, skipping",
			slog.String("account_id", t.AccountID),
			slog.String("symbol", t.Symbol))
		return Outcome{AlreadyProcessed: true, AccountID: t.AccountID, Symbol: t.Symbol}, nil
	}

	if err := p.page.ClickTarget(ctx, t); err != nil {
		return Outcome{}, err
	}
	if err := p.sleep(ctx, p.timings.MenuSettle); err != nil {
		return Outcome{}, err
	}

	open, err := p.page.MenuVisible(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !open {
		return Outcome{}, stepFailed("menu", "action menu did not open for %s", t.Symbol)
	}

	found, err := p.page.ClickMenuItem(ctx, LotDetailsLabel)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		// Close the menu so the page is not left with a stray open
		// dropdown before the retry re-clicks the target.
		if err := p.page.ClickTarget(ctx, t); err == nil {
			_ = p.sleep(ctx, p.timings.MenuCloseSettle)
		}
		return Outcome{}, stepFailed("menu", "%s entry not found for %s", LotDetailsLabel, t.Symbol)
	}

	if err := p.sleep(ctx, p.timings.ModalSettle); err != nil {
		return Outcome{}, err
	}

	modalOpen, err := p.page.ModalOpen(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !modalOpen {
		return Outcome{}, stepFailed("modal", "lot detail modal did not open for %s", t.Symbol)
	}

	title, err := p.page.ModalTitle(ctx)
	if err != nil {
		return Outcome{}, err
	}
	extracted := parse.SymbolFromTitle(title)
	if extracted == "" {
		return Outcome{}, stepFailed("modal", "could not extract symbol from title %q", title)
	}
	if extracted != t.Symbol {
		// Worth surfacing but not fatal; the row symbol is kept and the
		// mismatch only logged.
		p.logger.Warn("modal symbol differs from row symbol",
			slog.String("expected", t.Symbol),
			slog.String("extracted", extracted))
	}

	rows, err := p.page.ReadLotRows(ctx)
	if err != nil {
		return Outcome{}, err
	}
	lots := buildLots(rows)
	if len(lots) == 0 {
		return Outcome{}, stepFailed("table", "no lot rows found for %s", t.Symbol)
	}

	closed, err := p.page.CloseModal(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if closed {
		if err := p.sleep(ctx, p.timings.CloseSettle); err != nil {
			return Outcome{}, err
		}
	}

	p.logger.Info("extracted lots",
		slog.String("account_id", t.AccountID),
		slog.String("symbol", t.Symbol),
		slog.Int("lots", len(lots)))

	return Outcome{AccountID: t.AccountID, Symbol: t.Symbol, Lots: lots}, nil
}

// buildLots converts raw table rows into lots. A row must carry at least an
// open date, quantity and price cell; rows missing any of the three are
// skipped silently. All other cells default to zero values.
func buildLots(rows []page.LotRow) []Lot {
	var lots []Lot
	for _, r := range rows {
		if r.OpenDate == nil || r.Quantity == nil || r.Price == nil {
			continue
		}
		lots = append(lots, Lot{
			OpenDate:             parse.Date(*r.OpenDate),
			Quantity:             parse.Number(*r.Quantity),
			Price:                parse.Number(*r.Price),
			CostPerShare:         parse.Number(deref(r.CostPerShare)),
			MarketValue:          parse.Number(deref(r.MarketValue)),
			CostBasis:            parse.Number(deref(r.CostBasis)),
			GainOrLoss:           parse.Number(deref(r.GainLoss)),
			GainOrLossPercentage: parse.Number(deref(r.GainLossPct)),
			HoldingPeriod:        parse.Date(deref(r.HoldingPeriod)),
		})
	}
	return lots
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
