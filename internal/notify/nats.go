package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/starford/rankwatch/internal/models"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "rankwatch.crawl.completed"

type publisher interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATS publishes each report as JSON on a core NATS subject.
type NATS struct {
	conn    publisher
	subject string
}

// NATSConfig configures the publisher.
type NATSConfig struct {
	URL     string
	Subject string
}

// NewNATS connects to the server with unlimited reconnects.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("rankwatch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return newNATS(nc, cfg.Subject), nil
}

func newNATS(conn publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{conn: conn, subject: subject}
}

// Notify publishes the report. ctx is checked before publishing; core NATS
// publish does not block on the server.
func (n *NATS) Notify(ctx context.Context, report models.CrawlReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("nats: encode: %w", err)
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("nats: publish %s: %w", n.subject, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
