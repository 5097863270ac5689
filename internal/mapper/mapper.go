// Package mapper turns merged listing and detail data into canonical records.
package mapper

import (
	"html"
	"log/slog"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/parser"
)

var textPolicy = bluemonday.StrictPolicy()

// Mapper resolves ranks, names and prices and drops records that fail validation.
type Mapper struct {
	logger *slog.Logger
}

// New creates a Mapper.
func New(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{logger: logger}
}

// Map converts items in order. Items missing a link or name are logged and
// dropped, as are later duplicates of a link.
func (m *Mapper) Map(items []models.Merged) []models.Record {
	out := make([]models.Record, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		r := Resolve(it)
		if err := Validate(r); err != nil {
			m.logger.Warn("mapper: record rejected",
				slog.String("link", it.Raw.Link),
				slog.Int("position", it.Raw.Position),
				slog.String("error", err.Error()))
			continue
		}
		if _, dup := seen[r.Link]; dup {
			m.logger.Debug("mapper: duplicate link dropped", slog.String("link", r.Link))
			continue
		}
		seen[r.Link] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Resolve applies the field precedence rules without validating.
func Resolve(it models.Merged) models.Record {
	raw, d := it.Raw, it.Detail

	rank, ok := parser.FirstInt(raw.RankToken)
	if !ok {
		rank = raw.Position
	}

	name := Text(d.Title)
	if name == "" {
		name = Text(raw.Name)
	}

	price := Text(raw.PriceText)
	if d.RunCost != "" {
		price = d.RunCost + " / run (approx.)"
	}

	description := Text(raw.Description)
	if description == "" {
		description = Text(d.Description)
	}

	author := Text(raw.Author)
	if author == "" {
		author = Text(d.Owner)
	}

	return models.Record{
		Link:            strings.TrimSpace(raw.Link),
		Name:            name,
		Description:     description,
		AvatarURL:       strings.TrimSpace(raw.AvatarURL),
		Price:           price,
		Author:          author,
		Rank:            rank,
		Tags:            tagSet(d.Tags),
		Stats:           d.Stats,
		Version:         Text(d.Version),
		LastUpdatedText: Text(d.LastUpdatedText),
		ExternalLinks:   d.ExternalLinks,
	}
}

// Validate checks the fields every persisted record must carry.
func Validate(r models.Record) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Link, validation.Required),
		validation.Field(&r.Name, validation.Required),
		validation.Field(&r.Rank, validation.Required, validation.Min(1)),
	)
}

// Text strips markup, unescapes entities and collapses whitespace.
func Text(s string) string {
	if s == "" {
		return ""
	}
	return parser.Clean(html.UnescapeString(textPolicy.Sanitize(s)))
}

func tagSet(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = Text(t)
		if t == "" {
			continue
		}
		if _, ok := set[t]; ok {
			continue
		}
		set[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
