// Package parser extracts ranks, prices, versions, authors and stat pairs from
// free-form text scraped off catalog pages.
package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	intRe       = regexp.MustCompile(`\d+`)
	runCostRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(?:[a-z.()]+\s+)?run`)
	listPriceRe = regexp.MustCompile(`(\d+)\s*/.*?run`)
	versionRe   = regexp.MustCompile(`\bv?(\d+\.\d+(?:\.\d+)?)\b`)
	labeledRe   = regexp.MustCompile(`(?i)(?:\bversion\s*:?\s*v?|\bv)(\d+\.\d+(?:\.\d+)?)\b`)
	authorRe    = regexp.MustCompile(`(?i)^\s*by\s+@?(\S.*?)\s*$`)
	statRe      = regexp.MustCompile(`(?i)(\d[\d,.]*\s*[kmb]?)\s+([a-z][a-z ]{1,24}[a-z])`)
	updatedRe   = regexp.MustCompile(`(?i)\b(?:last\s+)?updated:?\s+(.+)$`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// FirstInt returns the first run of digits in s as an integer.
func FirstInt(s string) (int, bool) {
	m := intRe.FindString(s)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// RunCost returns the numeric part of an "N / run" cost, or "" when absent.
func RunCost(s string) string {
	m := runCostRe.FindStringSubmatch(strings.ToLower(s))
	if m == nil {
		return ""
	}
	return m[1]
}

// ListPrice normalises a listing card's price text. It keeps the "N / ... run"
// fragment when present and falls back to the trimmed text.
func ListPrice(s string) string {
	if m := listPriceRe.FindString(s); m != "" {
		return m
	}
	return Clean(s)
}

// Version returns the first version-looking token (e.g. "1.2.0") in s.
func Version(s string) string {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// LabeledVersion returns a version written as "v1.2" or "Version 1.2" in
// visible text. Bare decimals are ignored.
func LabeledVersion(s string) string {
	m := labeledRe.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return m[1]
}

// Author strips a leading "by " (and "@") from s. Text without the prefix is
// returned trimmed.
func Author(s string) string {
	if m := authorRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return Clean(s)
}

// HasAuthorPrefix reports whether s reads like "by someone".
func HasAuthorPrefix(s string) bool {
	return authorRe.MatchString(s)
}

// StatPairs extracts "number label" pairs such as "1.2k runs" or "35 users".
// Labels are lower-cased; the first value seen for a label wins.
func StatPairs(s string) map[string]string {
	matches := statRe.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make(map[string]string, len(matches))
	for _, m := range matches {
		label := strings.ToLower(Clean(m[2]))
		if _, ok := out[label]; ok {
			continue
		}
		out[label] = strings.ReplaceAll(m[1], " ", "")
	}
	return out
}

// LastUpdated returns the text following "updated" (e.g. "3 days ago").
func LastUpdated(s string) string {
	m := updatedRe.FindStringSubmatch(Clean(s))
	if m == nil {
		return ""
	}
	return m[1]
}

// Clean collapses whitespace runs and trims s.
func Clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
