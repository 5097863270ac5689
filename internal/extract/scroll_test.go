package extract

import (
	"context"
	"testing"
	"time"
)

func newScroll(cfg ScrollConfig, clock Clock) *ScrollStrategy {
	return NewScrollStrategy(cfg, time.Second, testParser(), discardLogger(), clock)
}

func TestScroll_StopsAtNoGrowthThreshold(t *testing.T) {
	s := &fakeScroll{cards: 5}
	st := newScroll(ScrollConfig{Delay: time.Second, MaxAttempts: 50, NoNewContentThreshold: 2}, newFakeClock())

	records, err := st.Extract(context.Background(), s)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if s.scrolls != 2 {
		t.Errorf("scrolls = %d, want 2 (stop after the 2nd consecutive no-growth)", s.scrolls)
	}
	if len(records) != 5 {
		t.Errorf("records = %d, want 5", len(records))
	}
}

func TestScroll_GrowthResetsCounter(t *testing.T) {
	s := &fakeScroll{cards: 2, growth: []int{2, 0, 1, 0, 0, 0}}
	st := newScroll(ScrollConfig{MaxAttempts: 50, NoNewContentThreshold: 2}, newFakeClock())

	records, err := st.Extract(context.Background(), s)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if s.scrolls != 5 {
		t.Errorf("scrolls = %d, want 5", s.scrolls)
	}
	if len(records) != 5 {
		t.Fatalf("records = %d, want 5", len(records))
	}
	for i, r := range records {
		if r.Position != i+1 || r.RankToken == "" {
			t.Errorf("record %d position=%d rank token=%q", i, r.Position, r.RankToken)
		}
	}
}

func TestScroll_MaxAttemptsCap(t *testing.T) {
	s := &fakeScroll{cards: 1, growth: []int{1, 1, 1, 1, 1, 1, 1, 1}}
	st := newScroll(ScrollConfig{MaxAttempts: 4, NoNewContentThreshold: 3}, newFakeClock())

	if _, err := st.Extract(context.Background(), s); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if s.scrolls != 4 {
		t.Errorf("scrolls = %d, want 4", s.scrolls)
	}
}

func TestScroll_IdleWaitOptional(t *testing.T) {
	s := &fakeScroll{cards: 1}
	st := newScroll(ScrollConfig{NoNewContentThreshold: 1, IdleTimeout: time.Second}, newFakeClock())
	_, _ = st.Extract(context.Background(), s)
	if s.idleWaits != 1 {
		t.Errorf("idle waits = %d, want 1", s.idleWaits)
	}

	s = &fakeScroll{cards: 1}
	st = newScroll(ScrollConfig{NoNewContentThreshold: 1}, newFakeClock())
	_, _ = st.Extract(context.Background(), s)
	if s.idleWaits != 0 {
		t.Errorf("idle waits = %d, want 0", s.idleWaits)
	}
}

func TestScroll_EmptyFirstReadRetriesOnce(t *testing.T) {
	clock := newFakeClock()
	s := &fakeScroll{cards: 0}
	st := newScroll(ScrollConfig{NoNewContentThreshold: 1}, clock)

	records, err := st.Extract(context.Background(), s)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
	if len(clock.slept) != 1 || clock.slept[0] != time.Second {
		t.Errorf("slept = %v, want one retry wait", clock.slept)
	}
	if s.scrolls != 0 {
		t.Errorf("scrolls = %d, want 0", s.scrolls)
	}
}

func TestScroll_EmptyThenCardsAppear(t *testing.T) {
	s := &fakeScroll{cards: 3, emptyReads: 1}
	st := newScroll(ScrollConfig{NoNewContentThreshold: 1}, newFakeClock())

	records, err := st.Extract(context.Background(), s)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("records = %d, want 3", len(records))
	}
}

func TestScroll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &fakeScroll{cards: 3}
	st := newScroll(ScrollConfig{NoNewContentThreshold: 2}, newFakeClock())
	if _, err := st.Extract(ctx, s); err == nil {
		t.Fatal("expected cancellation error")
	}
}
