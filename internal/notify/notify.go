// Package notify delivers crawl reports to chat webhooks and message buses.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/starford/rankwatch/internal/models"
)

// Notifier delivers a crawl report.
type Notifier interface {
	Notify(ctx context.Context, report models.CrawlReport) error
}

// Multi fans a report out to every notifier. A failing notifier does not
// stop the others; their errors are joined.
type Multi struct {
	notifiers []Notifier
	logger    *slog.Logger
}

// NewMulti combines notifiers, skipping nil entries.
func NewMulti(logger *slog.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Multi{logger: logger}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Len returns the number of wrapped notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) Notify(ctx context.Context, report models.CrawlReport) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, report); err != nil {
			m.logger.Warn("notify: delivery failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
