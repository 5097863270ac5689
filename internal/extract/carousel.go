package extract

import (
	"context"
	"fmt"

	"github.com/starford/rankwatch/internal/browser"
)

const visibleItemsJS = `(cardSel, rankSel) => {
	const vw = window.innerWidth;
	const out = [];
	for (const el of document.querySelectorAll(cardSel)) {
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) continue;
		if (r.right <= 0 || r.left >= vw) continue;
		const st = getComputedStyle(el);
		if (st.visibility === 'hidden' || st.display === 'none' || parseFloat(st.opacity) === 0) continue;
		const a = el.matches('a[href]') ? el : el.querySelector('a[href]');
		const rk = rankSel ? el.querySelector(rankSel) : null;
		out.push({url: a ? a.href : '', rankText: rk ? rk.textContent.trim() : '', html: el.outerHTML});
	}
	return out;
}`

const advanceJS = `(cardSel) => {
	const cards = Array.from(document.querySelectorAll(cardSel)).filter((el) => {
		const r = el.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	});
	if (cards.length === 0) return 'none';
	let group = cards[0].parentElement;
	while (group && !cards.every((c) => group.contains(c))) group = group.parentElement;
	if (!group) return 'none';
	const scope = group.parentElement || group;
	const buttons = Array.from(scope.querySelectorAll('button, [role="button"]'))
		.filter((b) => !cards.some((c) => c.contains(b)));
	let best = null;
	let bestRight = -Infinity;
	for (const b of buttons) {
		const r = b.getBoundingClientRect();
		if (r.width === 0 && r.height === 0) continue;
		if (r.right > bestRight) {
			bestRight = r.right;
			best = b;
		}
	}
	if (!best) return 'none';
	const st = getComputedStyle(best);
	if (best.disabled || best.getAttribute('aria-disabled') === 'true' ||
		parseFloat(st.opacity) === 0 || st.visibility === 'hidden' || st.display === 'none') {
		return 'disabled';
	}
	best.scrollIntoView({block: 'center', inline: 'nearest'});
	best.dispatchEvent(new MouseEvent('mouseover', {bubbles: true}));
	best.click();
	return 'clicked';
}`

// PageCarousel implements Carousel with in-page scripts.
type PageCarousel struct {
	page browser.Page
	sel  Selectors
}

// NewPageCarousel wraps page.
func NewPageCarousel(page browser.Page, sel Selectors) *PageCarousel {
	return &PageCarousel{page: page, sel: sel}
}

// Visible returns the cards rendered inside the horizontal viewport.
func (c *PageCarousel) Visible(ctx context.Context) ([]VisibleItem, error) {
	var items []VisibleItem
	if err := c.page.Eval(ctx, visibleItemsJS, &items, c.sel.Card, c.sel.Rank); err != nil {
		return nil, fmt.Errorf("extract: visible items: %w", err)
	}
	return items, nil
}

// Advance locates the trailing-edge control next to the cards and clicks it.
func (c *PageCarousel) Advance(ctx context.Context) (AdvanceResult, error) {
	var res string
	if err := c.page.Eval(ctx, advanceJS, &res, c.sel.Card); err != nil {
		return AdvanceNone, fmt.Errorf("extract: advance: %w", err)
	}
	return AdvanceResult(res), nil
}
