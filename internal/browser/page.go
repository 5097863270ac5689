package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Page is the subset of page operations the extractors and enricher need.
type Page interface {
	Navigate(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) error
	// Count returns the number of elements matching selector.
	Count(ctx context.Context, selector string) (int, error)
	ScrollToBottom(ctx context.Context) error
	// WaitIdle blocks until network requests settle or timeout elapses.
	WaitIdle(ctx context.Context, timeout time.Duration) error
	HTML(ctx context.Context) (string, error)
	// Eval runs a JS function expression with args and decodes its result into out.
	Eval(ctx context.Context, js string, out any, args ...any) error
	// ClickText clicks the first element matching selector whose text matches label.
	// It reports false when no such element appears before timeout.
	ClickText(ctx context.Context, selector, label string, timeout time.Duration) (bool, error)
	Close() error
}

type rodPage struct {
	page *rod.Page
}

var _ Page = (*rodPage)(nil)

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitStrategy, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pg := p.page.Context(navCtx)
	waitEvent := pg.WaitNavigation(wait.event())
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	waitEvent()
	if err := navCtx.Err(); err != nil {
		return fmt.Errorf("wait %s: %w", wait, err)
	}
	return nil
}

func (p *rodPage) Count(ctx context.Context, selector string) (int, error) {
	res, err := p.page.Context(ctx).Eval(`(sel) => document.querySelectorAll(sel).length`, selector)
	if err != nil {
		return 0, fmt.Errorf("count %q: %w", selector, err)
	}
	return res.Value.Int(), nil
}

func (p *rodPage) ScrollToBottom(ctx context.Context) error {
	_, err := p.page.Context(ctx).Eval(`() => window.scrollTo({top: document.body.scrollHeight, behavior: 'smooth'})`)
	if err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

func (p *rodPage) WaitIdle(ctx context.Context, timeout time.Duration) error {
	idleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	p.page.Context(idleCtx).WaitRequestIdle(500*time.Millisecond, nil, nil, nil)()
	return idleCtx.Err()
}

func (p *rodPage) HTML(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("html: %w", err)
	}
	return html, nil
}

func (p *rodPage) Eval(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return fmt.Errorf("eval: %w", err)
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return fmt.Errorf("eval: decode result: %w", err)
	}
	return nil
}

func (p *rodPage) ClickText(ctx context.Context, selector, label string, timeout time.Duration) (bool, error) {
	findCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	el, err := p.page.Context(findCtx).ElementR(selector, label)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return false, nil
	}
	if err := el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("click %q: %w", label, err)
	}
	return true, nil
}

func (p *rodPage) Close() error {
	return p.page.Close()
}
