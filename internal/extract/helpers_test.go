package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testSelectors = Selectors{
	Card:        `a[href^="/@"]`,
	Name:        "h3",
	Description: ".line-clamp-2",
	Avatar:      `img[data-slot="avatar-image"]`,
	Price:       "span.font-jetbrains-mono",
}

func testParser() *cardParser {
	base, _ := url.Parse("https://example.com/")
	return &cardParser{base: base, sel: testSelectors, logger: discardLogger()}
}

func cardHTML(n int) string {
	return fmt.Sprintf(`<a href="/@author%d/agent-%d"><h3>Agent %d</h3><div class="line-clamp-2">Desc %d</div></a>`, n, n, n, n)
}

func pageHTML(n int) string {
	var b strings.Builder
	b.WriteString("<html><body><main>")
	for i := 1; i <= n; i++ {
		b.WriteString(cardHTML(i))
	}
	b.WriteString("</main></body></html>")
	return b.String()
}

// fakeScroll grows its card count by growth[i] on the i-th scroll.
type fakeScroll struct {
	cards      int
	growth     []int
	scrolls    int
	idleWaits  int
	emptyReads int
}

func (f *fakeScroll) Count(context.Context, string) (int, error) {
	if f.emptyReads > 0 {
		f.emptyReads--
		return 0, nil
	}
	return f.cards, nil
}

func (f *fakeScroll) ScrollToBottom(context.Context) error {
	if f.scrolls < len(f.growth) {
		f.cards += f.growth[f.scrolls]
	}
	f.scrolls++
	return nil
}

func (f *fakeScroll) WaitIdle(context.Context, time.Duration) error {
	f.idleWaits++
	return nil
}

func (f *fakeScroll) HTML(context.Context) (string, error) {
	return pageHTML(f.cards), nil
}

func item(n int) VisibleItem {
	return VisibleItem{
		URL:      fmt.Sprintf("https://example.com/@author%d/agent-%d", n, n),
		RankText: fmt.Sprintf("#%d", n),
		HTML:     cardHTML(n),
	}
}

func window(ns ...int) []VisibleItem {
	out := make([]VisibleItem, 0, len(ns))
	for _, n := range ns {
		out = append(out, item(n))
	}
	return out
}

// fakeCarousel shows windows[idx]. After an advance it first replays the
// transition reads, then settles on the next window.
type fakeCarousel struct {
	windows     [][]VisibleItem
	transitions [][]VisibleItem
	idx         int
	pending     [][]VisibleItem
	advances    int
	stuck       bool
}

func (f *fakeCarousel) Visible(context.Context) ([]VisibleItem, error) {
	if len(f.pending) > 0 {
		w := f.pending[0]
		f.pending = f.pending[1:]
		return w, nil
	}
	return f.windows[f.idx], nil
}

func (f *fakeCarousel) Advance(context.Context) (AdvanceResult, error) {
	if f.idx+1 >= len(f.windows) {
		return AdvanceDisabled, nil
	}
	f.advances++
	if f.stuck {
		return AdvanceClicked, nil
	}
	f.idx++
	f.pending = append([][]VisibleItem(nil), f.transitions...)
	return AdvanceClicked, nil
}
