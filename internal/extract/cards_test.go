package extract

import (
	"net/url"
	"testing"
)

func TestCanonicalize(t *testing.T) {
	base, _ := url.Parse("https://Example.com/")
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"/@alice/agent", "https://example.com/@alice/agent", true},
		{"/@alice/agent/#reviews", "https://example.com/@alice/agent", true},
		{"https://EXAMPLE.com/@bob/x?ref=1", "https://example.com/@bob/x?ref=1", true},
		{"", "", false},
		{"javascript:void(0)", "", false},
		{"mailto:a@b.c", "", false},
	}
	for _, tt := range tests {
		got, err := Canonicalize(base, tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("Canonicalize(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseDocument(t *testing.T) {
	html := `<html><body>
	<a href="/@alice/agent-one">
		<img data-slot="avatar-image" src="/img/a.png">
		<h3>Agent   One</h3>
		<div class="line-clamp-2">Does things</div>
		<span class="font-jetbrains-mono">50/ run (approx.)</span>
		<div class="meta"><div>by alice</div></div>
	</a>
	<a href="/@alice/agent-one#dup"><h3>Duplicate</h3></a>
	<a href="/@bob/agent-two"><h3>Agent Two</h3></a>
	</body></html>`

	records, err := testParser().parseDocument(html)
	if err != nil {
		t.Fatalf("parseDocument: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}

	r := records[0]
	if r.Link != "https://example.com/@alice/agent-one" {
		t.Errorf("link = %q", r.Link)
	}
	if r.Name != "Agent One" || r.Description != "Does things" {
		t.Errorf("name/description = %q/%q", r.Name, r.Description)
	}
	if r.AvatarURL != "https://example.com/img/a.png" {
		t.Errorf("avatar = %q", r.AvatarURL)
	}
	if r.PriceText != "50/ run" {
		t.Errorf("price = %q", r.PriceText)
	}
	if r.Author != "alice" {
		t.Errorf("author = %q", r.Author)
	}
	if r.Position != 1 || r.RankToken != "1" {
		t.Errorf("position/rank = %d/%q", r.Position, r.RankToken)
	}
	if records[1].Position != 3 || records[1].RankToken != "3" || records[1].Name != "Agent Two" {
		t.Errorf("second record = %+v", records[1])
	}
}

func TestParseDocument_RanksFollowDOMOrder(t *testing.T) {
	html := `<html><body>
	<a href="/@a/agent-1"><h3>Agent 1</h3></a>
	<a href="javascript:void(0)"><h3>Broken</h3></a>
	<a href="/@a/agent-1"><h3>Agent 1 again</h3></a>
	<a href="/@c/agent-3"><h3>Agent 3</h3></a>
	</body></html>`

	records, err := testParser().parseDocument(html)
	if err != nil {
		t.Fatalf("parseDocument: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Name != "Agent 1" || records[0].Position != 1 || records[0].RankToken != "1" {
		t.Errorf("first record = %+v", records[0])
	}
	if records[1].Link != "https://example.com/@c/agent-3" || records[1].Position != 4 || records[1].RankToken != "4" {
		t.Errorf("last record = %+v, want DOM position 4", records[1])
	}
}

func TestParseFragment(t *testing.T) {
	rec, err := testParser().parseFragment(cardHTML(7))
	if err != nil {
		t.Fatalf("parseFragment: %v", err)
	}
	if rec.Link != "https://example.com/@author7/agent-7" || rec.Name != "Agent 7" {
		t.Errorf("record = %+v", rec)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url", Selectors: testSelectors}, nil); err == nil {
		t.Error("expected invalid base url error")
	}
	if _, err := New(Config{BaseURL: "https://example.com"}, nil); err == nil {
		t.Error("expected missing card selector error")
	}
	if _, err := New(Config{Kind: "teleport", BaseURL: "https://example.com", Selectors: testSelectors}, nil); err == nil {
		t.Error("expected unknown strategy error")
	}
	e, err := New(Config{BaseURL: "https://example.com", Selectors: testSelectors}, nil)
	if err != nil || e.Kind() != KindScroll {
		t.Errorf("default kind = %v, %v", e, err)
	}
}
