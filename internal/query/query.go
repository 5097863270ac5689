// Package query renders catalog queries for the command line.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/rankwatch/internal/apperr"
	"github.com/starford/rankwatch/internal/models"
)

const (
	timeLayout     = "2006-01-02 15:04:05"
	maxDescription = 80
	maxName        = 28
	changesLimit   = 10
)

// Catalog is the read side of the store.
type Catalog interface {
	ActiveAgents(ctx context.Context, limit int) ([]models.Agent, error)
	AllAgents(ctx context.Context, limit int) ([]models.Agent, error)
	GetAgent(ctx context.Context, link string) (*models.Agent, error)
	RankHistory(ctx context.Context, link string) ([]models.RankSample, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	RankChanges(ctx context.Context, limit int) ([]models.RankChange, error)
}

// Printer writes query results as plain text.
type Printer struct {
	w       io.Writer
	catalog Catalog
	now     func() time.Time
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, catalog Catalog) *Printer {
	return &Printer{w: w, catalog: catalog, now: time.Now}
}

// ResolveLink turns a site-relative link such as "/@owner/agent" into the
// canonical absolute URL. Absolute links are returned unchanged.
func ResolveLink(baseURL, link string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil || link == "" {
		return "", fmt.Errorf("query: invalid link %q", link)
	}
	if u.IsAbs() {
		return u.String(), nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("query: invalid base url: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

// List prints agents ordered by rank.
func (p *Printer) List(ctx context.Context, activeOnly bool, limit int) error {
	var (
		agents []models.Agent
		err    error
	)
	if activeOnly {
		agents, err = p.catalog.ActiveAgents(ctx, limit)
	} else {
		agents, err = p.catalog.AllAgents(ctx, limit)
	}
	if err != nil {
		return err
	}

	if activeOnly {
		fmt.Fprintf(p.w, "\nActive agents (%d):\n\n", len(agents))
	} else {
		active := 0
		for _, a := range agents {
			if a.IsActive {
				active++
			}
		}
		fmt.Fprintf(p.w, "\nAll agents (%d, %d active):\n\n", len(agents), active)
	}

	for _, a := range agents {
		status := "✓"
		if !a.IsActive {
			status = "✗"
		}
		fmt.Fprintf(p.w, "%s [%4d] %s\n", status, a.Rank, a.Name)
		fmt.Fprintf(p.w, "     Link:    %s\n", a.Link)
		fmt.Fprintf(p.w, "     Author:  %s\n", a.Author)
		fmt.Fprintf(p.w, "     Price:   %s\n", a.Price)
		if a.Description != "" {
			fmt.Fprintf(p.w, "     About:   %s\n", truncate(a.Description, maxDescription))
		}
		fmt.Fprintf(p.w, "     Updated: %s (%s)\n\n", a.LastUpdated.Local().Format(timeLayout),
			humanize.RelTime(a.LastUpdated, p.now(), "ago", "from now"))
	}
	return nil
}

// History prints the rank trail of one agent with the change between
// consecutive crawls.
func (p *Printer) History(ctx context.Context, link string) error {
	agent, err := p.catalog.GetAgent(ctx, link)
	if errors.Is(err, apperr.ErrNotFound) {
		fmt.Fprintf(p.w, "No rank history for %s\n", link)
		return nil
	}
	if err != nil {
		return err
	}
	history, err := p.catalog.RankHistory(ctx, link)
	if err != nil {
		return err
	}

	fmt.Fprintf(p.w, "\nAgent:  %s\nAuthor: %s\nLink:   %s\n\n", agent.Name, agent.Author, link)
	if len(history) == 0 {
		fmt.Fprintln(p.w, "No rank history")
		return nil
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CRAWL TIME\tRANK\tCHANGE")
	prev := 0
	for i, s := range history {
		change := ""
		if i > 0 {
			change = Arrow(prev - s.Rank)
		}
		prev = s.Rank
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.CrawlTime.Local().Format(timeLayout), s.Rank, change)
	}
	return tw.Flush()
}

// Stats prints catalog statistics and optionally the largest movers between
// the last two crawls.
func (p *Printer) Stats(ctx context.Context, showChanges bool) error {
	stats, err := p.catalog.Statistics(ctx)
	if err != nil {
		return err
	}

	latest := "never"
	if stats.LatestCrawl != nil {
		latest = fmt.Sprintf("%s (%s)", stats.LatestCrawl.Local().Format(timeLayout),
			humanize.RelTime(*stats.LatestCrawl, p.now(), "ago", "from now"))
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Active agents:\t"+humanize.Comma(int64(stats.ActiveAgents)))
	fmt.Fprintln(tw, "Inactive agents:\t"+humanize.Comma(int64(stats.InactiveAgents)))
	fmt.Fprintln(tw, "Total crawls:\t"+humanize.Comma(int64(stats.TotalCrawls)))
	fmt.Fprintln(tw, "Latest crawl:\t"+latest)
	if err := tw.Flush(); err != nil {
		return err
	}
	if !showChanges {
		return nil
	}

	changes, err := p.catalog.RankChanges(ctx, changesLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(p.w, "\nLargest rank changes (last two crawls):")
	if len(changes) == 0 {
		fmt.Fprintln(p.w, "No data yet")
		return nil
	}
	tw = tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLATEST\tPREVIOUS\tCHANGE")
	for _, c := range changes {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", truncate(c.Name, maxName), c.LatestRank, c.PreviousRank, Arrow(c.Change))
	}
	return tw.Flush()
}

// Arrow renders a rank change: positive moved up.
func Arrow(change int) string {
	switch {
	case change > 0:
		return fmt.Sprintf("↑%d", change)
	case change < 0:
		return fmt.Sprintf("↓%d", -change)
	default:
		return "→"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
