package parser

import "testing"

func TestFirstInt(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"#3 of 50", 3, true},
		{"12", 12, true},
		{"rank: 007", 7, true},
		{"no digits", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := FirstInt(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("FirstInt(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestRunCost(t *testing.T) {
	tests := []struct{ in, want string }{
		{"50 / run (approx.)", "50"},
		{"Cost: 12.5/run", "12.5"},
		{"80 credits / run", ""},
		{"free", ""},
	}
	for _, tt := range tests {
		if got := RunCost(tt.in); got != tt.want {
			t.Errorf("RunCost(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestListPrice(t *testing.T) {
	if got := ListPrice("50/ run (approx.)"); got != "50/ run" {
		t.Errorf("ListPrice = %q", got)
	}
	if got := ListPrice("  Free  "); got != "Free" {
		t.Errorf("ListPrice fallback = %q", got)
	}
}

func TestVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Version v1.2.3", "1.2.3"},
		{"https://cdn.example.com/badge-2.0.png", "2.0"},
		{"no version here", ""},
	}
	for _, tt := range tests {
		if got := Version(tt.in); got != tt.want {
			t.Errorf("Version(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestLabeledVersion(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Released v2.1.0 yesterday", "2.1.0"},
		{"Version: 3.4", "3.4"},
		{"Rated 4.5 stars", ""},
	}
	for _, tt := range tests {
		if got := LabeledVersion(tt.in); got != tt.want {
			t.Errorf("LabeledVersion(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAuthor(t *testing.T) {
	if got := Author("by laughing_code"); got != "laughing_code" {
		t.Errorf("Author = %q", got)
	}
	if got := Author("By @someone "); got != "someone" {
		t.Errorf("Author = %q", got)
	}
	if got := Author("plain"); got != "plain" {
		t.Errorf("Author = %q", got)
	}
	if !HasAuthorPrefix("by x") || HasAuthorPrefix("bypass") {
		t.Error("HasAuthorPrefix mismatch")
	}
}

func TestStatPairs(t *testing.T) {
	got := StatPairs("1.2k runs  35 users 40 runs")
	if got["runs"] != "1.2k" {
		t.Errorf("runs = %q, want 1.2k", got["runs"])
	}
	if got["users"] != "35" {
		t.Errorf("users = %q, want 35", got["users"])
	}
	if StatPairs("nothing numeric") != nil {
		t.Error("expected nil for text without pairs")
	}
}

func TestLastUpdated(t *testing.T) {
	if got := LastUpdated("Last updated:  3 days ago"); got != "3 days ago" {
		t.Errorf("LastUpdated = %q", got)
	}
	if got := LastUpdated("created yesterday"); got != "" {
		t.Errorf("LastUpdated = %q, want empty", got)
	}
}
