package enrich

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/parser"
)

// ParseOptions tunes the detail page heuristics.
type ParseOptions struct {
	MinDescriptionLength int
	MaxTagLength         int
	TagSelector          string
	StatsSelector        string
	// TagDenylist holds lower-case labels that are never tags.
	TagDenylist []string
}

func (o *ParseOptions) defaults() {
	if o.MinDescriptionLength <= 0 {
		o.MinDescriptionLength = 40
	}
	if o.MaxTagLength <= 0 {
		o.MaxTagLength = 24
	}
	if o.TagSelector == "" {
		o.TagSelector = `[data-slot="badge"], .badge, [class*="tag"]`
	}
	if o.StatsSelector == "" {
		o.StatsSelector = `[class*="stat"]`
	}
}

// ParseDetail extracts metadata from a detail page's HTML. pageURL is used to
// resolve relative links and to tell outbound links from site links.
func ParseDetail(html, pageURL string, opts ParseOptions) models.Detail {
	opts.defaults()
	var d models.Detail

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return d
	}
	page, err := url.Parse(pageURL)
	if err != nil {
		page = &url.URL{}
	}

	d.Title = title(doc)
	d.Owner = owner(doc, page)
	d.Description = description(doc, opts.MinDescriptionLength)
	d.Tags = tags(doc, opts)
	d.RunCost = parser.RunCost(doc.Find("body").Text())
	d.Stats = stats(doc, opts.StatsSelector)
	d.Version = version(doc)
	d.LastUpdatedText = lastUpdated(doc)
	d.ExternalLinks = externalLinks(doc, page)
	return d
}

func title(doc *goquery.Document) string {
	if t := parser.Clean(doc.Find("h1").First().Text()); t != "" {
		return t
	}
	if t, ok := doc.Find(`meta[property="og:title"]`).Attr("content"); ok && strings.TrimSpace(t) != "" {
		return parser.Clean(t)
	}
	return parser.Clean(doc.Find("title").First().Text())
}

// eachLeaf calls fn with the cleaned text of every element without element
// children until fn returns false.
func eachLeaf(doc *goquery.Document, fn func(text string) bool) {
	doc.Find("body *").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 || goquery.NodeName(s) == "script" || goquery.NodeName(s) == "style" {
			return true
		}
		t := parser.Clean(s.Text())
		if t == "" {
			return true
		}
		return fn(t)
	})
}

func owner(doc *goquery.Document, page *url.URL) string {
	var found string
	eachLeaf(doc, func(t string) bool {
		if parser.HasAuthorPrefix(t) {
			found = parser.Author(t)
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	doc.Find(`a[href*="/@"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		if u, err := page.Parse(href); err == nil {
			found = handle(u.Path)
		}
		return found == ""
	})
	if found != "" {
		return found
	}
	return handle(page.Path)
}

// handle returns the first "@name" path segment without the "@".
func handle(path string) string {
	for _, seg := range strings.Split(path, "/") {
		if strings.HasPrefix(seg, "@") && len(seg) > 1 {
			return seg[1:]
		}
	}
	return ""
}

func description(doc *goquery.Document, minLen int) string {
	for _, sel := range []string{`meta[name="description"]`, `meta[property="og:description"]`} {
		if c, ok := doc.Find(sel).Attr("content"); ok {
			if c = parser.Clean(c); c != "" {
				return c
			}
		}
	}
	var found string
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		t := parser.Clean(s.Text())
		if len(t) >= minLen {
			found = t
			return false
		}
		return true
	})
	return found
}

func tags(doc *goquery.Document, opts ParseOptions) []string {
	deny := make(map[string]struct{}, len(opts.TagDenylist))
	for _, t := range opts.TagDenylist {
		deny[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}

	var out []string
	seen := make(map[string]struct{})
	doc.Find(opts.TagSelector).Each(func(_ int, s *goquery.Selection) {
		t := parser.Clean(s.Text())
		if t == "" || len(t) > opts.MaxTagLength {
			return
		}
		if _, isNum := parser.FirstInt(t); isNum && strings.Trim(t, "0123456789.,kKmM+ ") == "" {
			return
		}
		key := strings.ToLower(t)
		if _, ok := deny[key]; ok {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, t)
	})
	return out
}

func stats(doc *goquery.Document, selector string) map[string]string {
	var out map[string]string
	doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		for k, v := range parser.StatPairs(parser.Clean(s.Text())) {
			if out == nil {
				out = make(map[string]string)
			}
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	})
	return out
}

func version(doc *goquery.Document) string {
	var found string
	eachLeaf(doc, func(t string) bool {
		found = parser.LabeledVersion(t)
		return found == ""
	})
	if found != "" {
		return found
	}
	doc.Find("img[src]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		found = parser.Version(src)
		return found == ""
	})
	return found
}

func lastUpdated(doc *goquery.Document) string {
	var found string
	eachLeaf(doc, func(t string) bool {
		found = parser.LastUpdated(t)
		return found == ""
	})
	return found
}

func siteHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}

func externalLinks(doc *goquery.Document, page *url.URL) []models.ExternalLink {
	host := siteHost(page.Hostname())
	var out []models.ExternalLink
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		u, err := page.Parse(strings.TrimSpace(href))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return
		}
		if siteHost(u.Hostname()) == host {
			return
		}
		u.Fragment = ""
		key := u.String()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, models.ExternalLink{URL: key, Text: parser.Clean(s.Text())})
	})
	return out
}
