package query

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/testutil"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func testPrinter(t *testing.T) (*Printer, *bytes.Buffer) {
	t.Helper()
	db := testutil.TestStore(t)
	testutil.Seed(t, db, t0,
		[]models.Record{
			{Link: "https://example.com/@a/one", Name: "One", Rank: 1, Author: "alice", Price: "3 / run"},
			{Link: "https://example.com/@b/two", Name: "Two", Rank: 2, Description: strings.Repeat("long ", 30)},
			{Link: "https://example.com/@c/three", Name: "Three", Rank: 3},
		},
		[]models.Record{
			{Link: "https://example.com/@b/two", Name: "Two", Rank: 1},
			{Link: "https://example.com/@a/one", Name: "One", Rank: 2, Author: "alice"},
		},
		[]models.Record{
			{Link: "https://example.com/@b/two", Name: "Two", Rank: 1},
			{Link: "https://example.com/@a/one", Name: "One", Rank: 2, Author: "alice"},
		},
	)
	var buf bytes.Buffer
	p := NewPrinter(&buf, db)
	p.now = func() time.Time { return t0.Add(5 * time.Hour) }
	return p, &buf
}

func TestArrow(t *testing.T) {
	tests := map[int]string{3: "↑3", -2: "↓2", 0: "→"}
	for in, want := range tests {
		if got := Arrow(in); got != want {
			t.Errorf("Arrow(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestResolveLink(t *testing.T) {
	got, err := ResolveLink("https://example.com/", "/@a/one")
	if err != nil || got != "https://example.com/@a/one" {
		t.Errorf("relative = %q, %v", got, err)
	}
	got, err = ResolveLink("https://example.com/", "https://other.org/@x/y")
	if err != nil || got != "https://other.org/@x/y" {
		t.Errorf("absolute = %q, %v", got, err)
	}
	if _, err := ResolveLink("https://example.com/", ""); err == nil {
		t.Error("expected error for empty link")
	}
}

func TestList_ActiveOnly(t *testing.T) {
	p, buf := testPrinter(t)
	if err := p.List(context.Background(), true, 0); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Active agents (2)") {
		t.Errorf("header missing:\n%s", out)
	}
	if strings.Index(out, "Two") > strings.Index(out, "One") {
		t.Errorf("not ordered by rank:\n%s", out)
	}
	if strings.Contains(out, "Three") {
		t.Errorf("inactive agent listed:\n%s", out)
	}
	if !strings.Contains(out, "3 hours ago") {
		t.Errorf("relative time missing:\n%s", out)
	}
}

func TestList_All(t *testing.T) {
	p, buf := testPrinter(t)
	if err := p.List(context.Background(), false, 0); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "All agents (3, 2 active)") || !strings.Contains(out, "✗ [   3] Three") {
		t.Errorf("output:\n%s", out)
	}
}

func TestHistory(t *testing.T) {
	p, buf := testPrinter(t)
	if err := p.History(context.Background(), "https://example.com/@a/one"); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Agent:  One", "Author: alice", "↓1", "→"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestHistory_Unknown(t *testing.T) {
	p, buf := testPrinter(t)
	if err := p.History(context.Background(), "https://example.com/@x/none"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No rank history") {
		t.Errorf("output: %s", buf.String())
	}
}

func TestStats(t *testing.T) {
	p, buf := testPrinter(t)
	if err := p.Stats(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Active agents:", "Total crawls:", "Largest rank changes", "No data yet"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestStats_NoCrawls(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, testutil.TestStore(t))
	if err := p.Stats(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "never") {
		t.Errorf("output: %s", buf.String())
	}
}
