package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/rankwatch/internal/models"
)

func testReport() models.CrawlReport {
	return models.CrawlReport{
		CrawlTime: time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC),
		Records:   12,
		Stats:     models.Statistics{ActiveAgents: 12, InactiveAgents: 3, TotalCrawls: 7},
		Added:     []models.Record{{Link: "https://example.com/@ann/new", Name: "New One", Author: "ann", Rank: 4}},
		Removed: []models.Agent{
			{Record: models.Record{Link: "https://example.com/@bob/gone", Name: "Gone", Author: "bob"}},
		},
	}
}

// webhook records the texts posted to it.
type webhook struct {
	mu    sync.Mutex
	texts []string
	code  int
}

func (w *webhook) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		var msg feishuMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil || msg.MsgType != "text" {
			rw.WriteHeader(http.StatusBadRequest)
			return
		}
		w.mu.Lock()
		w.texts = append(w.texts, msg.Content.Text)
		code := w.code
		w.mu.Unlock()
		fmt.Fprintf(rw, `{"code":%d,"msg":"bot error"}`, code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFeishu_NotifySendsRemovedAddedSummary(t *testing.T) {
	hook := &webhook{}
	srv := hook.server(t)
	f := NewFeishu(srv.URL, time.Second)
	f.NextRun = "in 24h"

	if err := f.Notify(context.Background(), testReport()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(hook.texts) != 3 {
		t.Fatalf("messages = %d, want 3", len(hook.texts))
	}
	if !strings.Contains(hook.texts[0], "Agent removed") || !strings.Contains(hook.texts[0], "https://example.com/@bob/gone") {
		t.Errorf("removed message = %q", hook.texts[0])
	}
	if !strings.Contains(hook.texts[1], "New agent") || !strings.Contains(hook.texts[1], "Rank: 4") {
		t.Errorf("added message = %q", hook.texts[1])
	}
	if !strings.Contains(hook.texts[2], "Active agents: 12") || !strings.Contains(hook.texts[2], "Next run: in 24h") {
		t.Errorf("summary = %q", hook.texts[2])
	}
}

func TestFeishu_SummaryOnlyWhenNoChanges(t *testing.T) {
	hook := &webhook{}
	f := NewFeishu(hook.server(t).URL, time.Second)
	r := testReport()
	r.Added, r.Removed = nil, nil

	if err := f.Notify(context.Background(), r); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(hook.texts) != 1 || !strings.HasPrefix(hook.texts[0], "✅ Crawl completed") {
		t.Errorf("texts = %q", hook.texts)
	}
}

func TestFeishu_NonZeroCodeIsFailure(t *testing.T) {
	hook := &webhook{code: 19001}
	f := NewFeishu(hook.server(t).URL, time.Second)
	err := f.Send(context.Background(), "hello")
	if err == nil || !strings.Contains(err.Error(), "19001") {
		t.Errorf("err = %v", err)
	}
}

func TestFeishu_HTTPErrorIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()
	if err := NewFeishu(srv.URL, time.Second).Send(context.Background(), "x"); err == nil {
		t.Error("expected error")
	}
}

func TestNewFeishu_DisabledWithoutURL(t *testing.T) {
	if NewFeishu("", 0) != nil {
		t.Error("expected nil notifier")
	}
}

func TestRemovedText_BatchListsFirstTen(t *testing.T) {
	var removed []models.Agent
	for i := 0; i < 13; i++ {
		removed = append(removed, models.Agent{Record: models.Record{Name: fmt.Sprintf("agent-%02d", i)}})
	}
	text := RemovedText(removed)
	if !strings.Contains(text, "13 agents removed") {
		t.Errorf("header missing: %q", text)
	}
	if !strings.Contains(text, "agent-09") || strings.Contains(text, "agent-10") {
		t.Errorf("should list exactly the first 10: %q", text)
	}
	if !strings.Contains(text, "... and 3 more") {
		t.Errorf("overflow line missing: %q", text)
	}
	if !strings.Contains(text, "(Unknown)") {
		t.Errorf("missing author should read Unknown: %q", text)
	}
}

func TestAddedText_Batch(t *testing.T) {
	text := AddedText([]models.Record{{Name: "A", Author: "x", Rank: 1}, {Name: "B", Rank: 2}})
	if !strings.Contains(text, "2 new agents") || !strings.Contains(text, "• #2 B (Unknown)") {
		t.Errorf("text = %q", text)
	}
}

type fakeConn struct {
	subject string
	data    []byte
	err     error
	drained bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.subject, c.data = subject, data
	return c.err
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATS_PublishesJSONReport(t *testing.T) {
	conn := &fakeConn{}
	n := newNATS(conn, "")
	if err := n.Notify(context.Background(), testReport()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if conn.subject != DefaultSubject {
		t.Errorf("subject = %q", conn.subject)
	}
	var got models.CrawlReport
	if err := json.Unmarshal(conn.data, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Records != 12 || len(got.Added) != 1 || got.Removed[0].Link != "https://example.com/@bob/gone" {
		t.Errorf("payload = %+v", got)
	}
	_ = n.Close()
	if !conn.drained {
		t.Error("Close should drain")
	}
}

func TestNATS_CancelledContext(t *testing.T) {
	conn := &fakeConn{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := newNATS(conn, "x").Notify(ctx, testReport()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if conn.data != nil {
		t.Error("nothing should be published")
	}
}

type countingNotifier struct {
	calls int
	err   error
}

func (c *countingNotifier) Notify(context.Context, models.CrawlReport) error {
	c.calls++
	return c.err
}

func TestMulti_ContinuesAfterFailure(t *testing.T) {
	failing := &countingNotifier{err: errors.New("down")}
	ok := &countingNotifier{}
	m := NewMulti(slog.New(slog.NewTextHandler(io.Discard, nil)), failing, nil, ok)
	if m.Len() != 2 {
		t.Fatalf("Len = %d", m.Len())
	}
	err := m.Notify(context.Background(), testReport())
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Errorf("err = %v", err)
	}
	if failing.calls != 1 || ok.calls != 1 {
		t.Errorf("calls = %d, %d", failing.calls, ok.calls)
	}
}
