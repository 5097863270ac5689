package extract

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/parser"
)

// Canonicalize resolves href against base and drops the fragment and any
// trailing slash so that equal targets compare equal.
func Canonicalize(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return "", errors.New("empty link")
	}
	u, err := base.Parse(href)
	if err != nil {
		return "", fmt.Errorf("parse link %q: %w", href, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	return u.String(), nil
}

type cardParser struct {
	base   *url.URL
	sel    Selectors
	logger *slog.Logger
}

// parseDocument extracts every card in html in DOM order. Position is the
// card's 1-based index among all matched cards, so skipped or duplicate
// cards leave gaps instead of shifting later ranks.
func (p *cardParser) parseDocument(html string) ([]models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}

	var out []models.RawRecord
	seen := make(map[string]struct{})
	doc.Find(p.sel.Card).Each(func(i int, card *goquery.Selection) {
		rec, err := p.parseCard(card)
		if err != nil {
			p.logger.Warn("extract: card skipped",
				slog.String("error", (&ItemError{Position: i + 1, Reason: err.Error()}).Error()))
			return
		}
		if _, dup := seen[rec.Link]; dup {
			return
		}
		seen[rec.Link] = struct{}{}
		rec.Position = i + 1
		if rec.RankToken == "" {
			rec.RankToken = strconv.Itoa(rec.Position)
		}
		out = append(out, rec)
	})
	return out, nil
}

// parseFragment parses the outer HTML of a single card.
func (p *cardParser) parseFragment(html string) (models.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.RawRecord{}, err
	}
	card := doc.Find(p.sel.Card).First()
	if card.Length() == 0 {
		card = doc.Find("body").Children().First()
	}
	return p.parseCard(card)
}

func (p *cardParser) parseCard(card *goquery.Selection) (models.RawRecord, error) {
	href, ok := card.Attr("href")
	if !ok {
		href, _ = card.Find("a[href]").First().Attr("href")
	}
	link, err := Canonicalize(p.base, href)
	if err != nil {
		return models.RawRecord{}, err
	}

	rec := models.RawRecord{
		Link:        link,
		Name:        p.text(card, p.sel.Name),
		Description: p.text(card, p.sel.Description),
		PriceText:   parser.ListPrice(p.text(card, p.sel.Price)),
		RankToken:   p.text(card, p.sel.Rank),
		Author:      p.author(card),
	}
	if p.sel.Avatar != "" {
		if src, ok := card.Find(p.sel.Avatar).First().Attr("src"); ok {
			if u, err := p.base.Parse(strings.TrimSpace(src)); err == nil {
				rec.AvatarURL = u.String()
			}
		}
	}
	return rec, nil
}

func (p *cardParser) text(card *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return parser.Clean(card.Find(selector).First().Text())
}

// author uses the configured selector when it yields text, otherwise the
// first leaf element reading "by someone".
func (p *cardParser) author(card *goquery.Selection) string {
	if t := p.text(card, p.sel.Author); t != "" {
		return parser.Author(t)
	}
	var found string
	card.Find("div, span, p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Children().Length() > 0 {
			return true
		}
		t := parser.Clean(s.Text())
		if parser.HasAuthorPrefix(t) {
			found = parser.Author(t)
			return false
		}
		return true
	})
	return found
}
