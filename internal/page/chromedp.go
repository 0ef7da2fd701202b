package page

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chromedp/chromedp"
)

// Structural selectors for the positions page. These identify the action
// controls, menu, and modal the same way regardless of account contents.
const (
	targetSelector    = `sdps-button[sdps-name="Next Steps"]`
	menuID            = "nextStepsList"
	modalID           = "open-lot-overlay"
	modalOpenClass    = "sdps-modal--open"
	modalTitleID      = "open-lot-overlay-modal-title"
	modalCloseSel     = ".sdps-modal__close"
	lotTableID        = "responsiveLotTable"
	highlightClass    = "lotcli-highlight"
	accountBodyFilter = `tbody[id*="holdingsAccount_"]`
)

// visibleTargetsJS expands to a JS expression evaluating to the array of
// visible action controls in document order. Shared by every snippet that
// needs to re-locate a target by index.
const visibleTargetsJS = `Array.from(document.querySelectorAll('` + targetSelector + `')).filter(b => {
	const r = b.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
})`

// Browser drives the live positions page over the Chrome DevTools Protocol.
type Browser struct {
	ctx    context.Context
	logger *slog.Logger
}

var _ Page = (*Browser)(nil)

// NewBrowser wraps an existing chromedp context. The caller owns the
// context's lifetime; all page operations run in its tab.
func NewBrowser(ctx context.Context, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{
		ctx:    ctx,
		logger: logger.With(slog.String("component", "page.browser")),
	}
}

// run executes actions in the browser tab. The caller context is consulted
// for cancellation only; CDP traffic always flows through the tab context.
func (b *Browser) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return chromedp.Run(b.ctx, actions...)
}

func (b *Browser) URL(ctx context.Context) (string, error) {
	var loc string
	if err := b.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("could not read page location: %w", err)
	}
	return loc, nil
}

func (b *Browser) FindTargets(ctx context.Context) ([]Target, error) {
	js := visibleTargetsJS + `.map((b, i) => {
		const acct = b.closest('` + accountBodyFilter + `');
		const row = b.closest('tr[data-symbol]');
		return {
			index: i,
			account_id: acct ? acct.id : 'holdingsAccount_unknown',
			symbol: row ? row.getAttribute('data-symbol') : 'unknown',
		};
	})`

	var targets []Target
	if err := b.run(ctx, chromedp.Evaluate(js, &targets)); err != nil {
		return nil, fmt.Errorf("could not discover targets: %w", err)
	}
	b.logger.Debug("discovered targets", slog.Int("count", len(targets)))
	return targets, nil
}

func (b *Browser) ClickTarget(ctx context.Context, t Target) error {
	js := fmt.Sprintf(`(() => {
		const buttons = %s;
		if (%d >= buttons.length) return false;
		buttons[%d].click();
		return true;
	})()`, visibleTargetsJS, t.Index, t.Index)

	var clicked bool
	if err := b.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return fmt.Errorf("could not click target %d: %w", t.Index, err)
	}
	if !clicked {
		return fmt.Errorf("target %d no longer present on page", t.Index)
	}
	return nil
}

func (b *Browser) MenuVisible(ctx context.Context) (bool, error) {
	js := `(() => {
		const d = document.getElementById('` + menuID + `');
		return !!d && d.classList.contains('show');
	})()`

	var open bool
	if err := b.run(ctx, chromedp.Evaluate(js, &open)); err != nil {
		return false, fmt.Errorf("could not inspect action menu: %w", err)
	}
	return open, nil
}

func (b *Browser) ClickMenuItem(ctx context.Context, label string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const d = document.getElementById('`+menuID+`');
		if (!d) return false;
		const span = Array.from(d.querySelectorAll('span')).find(s => s.textContent.trim() === %q);
		if (!span) return false;
		const button = span.closest('button');
		if (!button) return false;
		button.click();
		return true;
	})()`, label)

	var clicked bool
	if err := b.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, fmt.Errorf("could not activate menu item %q: %w", label, err)
	}
	return clicked, nil
}

func (b *Browser) ModalOpen(ctx context.Context) (bool, error) {
	js := `(() => {
		const m = document.getElementById('` + modalID + `');
		return !!m && m.classList.contains('` + modalOpenClass + `');
	})()`

	var open bool
	if err := b.run(ctx, chromedp.Evaluate(js, &open)); err != nil {
		return false, fmt.Errorf("could not inspect lot detail modal: %w", err)
	}
	return open, nil
}

func (b *Browser) ModalTitle(ctx context.Context) (string, error) {
	js := `(() => {
		const t = document.getElementById('` + modalTitleID + `');
		return t ? t.textContent : '';
	})()`

	var title string
	if err := b.run(ctx, chromedp.Evaluate(js, &title)); err != nil {
		return "", fmt.Errorf("could not read modal title: %w", err)
	}
	return title, nil
}

func (b *Browser) ReadLotRows(ctx context.Context) ([]LotRow, error) {
	js := `(() => {
		const table = document.getElementById('` + lotTableID + `');
		if (!table) return [];
		const text = el => el ? el.textContent : null;
		return Array.from(table.querySelectorAll('tbody tr.data-row')).map(row => ({
			open_date: text(row.querySelector('th span')),
			quantity: text(row.querySelector('td[name="Qty"]')),
			price: text(row.querySelector('td[name="Price"]')),
			cost_per_share: text(row.querySelector('td[name="CPS"] span')),
			market_value: text(row.querySelector('td[name="MktVal"] span')),
			cost_basis: text(row.querySelector('td[name="CostBasis"] span')),
			gain_loss: text(row.querySelector('td[name="GainLoss"] span')),
			gain_loss_pct: text(row.querySelector('td[name="GainLossPercent"] span')),
			holding_period: text(row.querySelector('td[name="HoldPeriod"] span')),
		}));
	})()`

	var rows []LotRow
	if err := b.run(ctx, chromedp.Evaluate(js, &rows)); err != nil {
		return nil, fmt.Errorf("could not read lot table: %w", err)
	}
	return rows, nil
}

func (b *Browser) CloseModal(ctx context.Context) (bool, error) {
	js := `(() => {
		const m = document.getElementById('` + modalID + `');
		if (!m) return false;
		const close = m.querySelector('` + modalCloseSel + `');
		if (!close) return false;
		close.click();
		return true;
	})()`

	var closed bool
	if err := b.run(ctx, chromedp.Evaluate(js, &closed)); err != nil {
		return false, fmt.Errorf("could not close modal: %w", err)
	}
	return closed, nil
}

func (b *Browser) Highlight(ctx context.Context, t Target) error {
	return b.setHighlight(ctx, t, true)
}

func (b *Browser) Unhighlight(ctx context.Context, t Target) error {
	return b.setHighlight(ctx, t, false)
}

func (b *Browser) setHighlight(ctx context.Context, t Target, on bool) error {
	op := "remove"
	if on {
		op = "add"
	}
	js := fmt.Sprintf(`(() => {
		const buttons = %s;
		if (%d >= buttons.length) return false;
		buttons[%d].classList.%s('%s');
		return true;
	})()`, visibleTargetsJS, t.Index, t.Index, op, highlightClass)

	var ok bool
	if err := b.run(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("could not toggle highlight: %w", err)
	}
	return nil
}
