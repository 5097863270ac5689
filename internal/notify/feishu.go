package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/rankwatch/internal/models"
)

// maxListed caps the agents named in one batch message.
const maxListed = 10

// Feishu posts text messages to a Feishu (Lark) bot webhook.
type Feishu struct {
	url    string
	client *http.Client
	// NextRun describes the next scheduled run in the summary, e.g. "in 24h".
	NextRun string
}

// NewFeishu creates a webhook notifier. An empty url yields nil.
func NewFeishu(url string, timeout time.Duration) *Feishu {
	if url == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Feishu{url: url, client: &http.Client{Timeout: timeout}}
}

type feishuMessage struct {
	MsgType string `json:"msg_type"`
	Content struct {
		Text string `json:"text"`
	} `json:"content"`
}

type feishuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Notify sends the removed, added and summary messages in that order.
func (f *Feishu) Notify(ctx context.Context, report models.CrawlReport) error {
	var errs []error
	if len(report.Removed) > 0 {
		errs = append(errs, f.Send(ctx, RemovedText(report.Removed)))
	}
	if len(report.Added) > 0 {
		errs = append(errs, f.Send(ctx, AddedText(report.Added)))
	}
	errs = append(errs, f.Send(ctx, SummaryText(report, f.NextRun)))
	return errors.Join(errs...)
}

// Send posts one text message.
func (f *Feishu) Send(ctx context.Context, text string) error {
	var msg feishuMessage
	msg.MsgType = "text"
	msg.Content.Text = text
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("feishu: encode: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("feishu: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("feishu: post: %w", err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("feishu: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var out feishuResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("feishu: decode response: %w", err)
	}
	if out.Code != 0 {
		return fmt.Errorf("feishu: code %d: %s", out.Code, out.Msg)
	}
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

// RemovedText formats the delisting message.
func RemovedText(removed []models.Agent) string {
	if len(removed) == 1 {
		a := removed[0]
		return fmt.Sprintf("⚠️ Agent removed\n\n📛 Name: %s\n🔗 Link: %s\n👤 Author: %s\n\nThis agent is no longer listed.",
			orUnknown(a.Name), a.Link, orUnknown(a.Author))
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ %d agents removed\n\n", len(removed))
	for i, a := range removed {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(removed)-maxListed)
			break
		}
		fmt.Fprintf(&b, "• %s (%s)\n", orUnknown(a.Name), orUnknown(a.Author))
	}
	return strings.TrimRight(b.String(), "\n")
}

// AddedText formats the new-listing message.
func AddedText(added []models.Record) string {
	if len(added) == 1 {
		r := added[0]
		return fmt.Sprintf("🆕 New agent\n\n📛 Name: %s\n🔗 Link: %s\n👤 Author: %s\n🏅 Rank: %d",
			orUnknown(r.Name), r.Link, orUnknown(r.Author), r.Rank)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🆕 %d new agents\n\n", len(added))
	for i, r := range added {
		if i == maxListed {
			fmt.Fprintf(&b, "... and %d more\n", len(added)-maxListed)
			break
		}
		fmt.Fprintf(&b, "• #%d %s (%s)\n", r.Rank, orUnknown(r.Name), orUnknown(r.Author))
	}
	return strings.TrimRight(b.String(), "\n")
}

// SummaryText formats the end-of-run statistics.
func SummaryText(report models.CrawlReport, nextRun string) string {
	var b strings.Builder
	b.WriteString("✅ Crawl completed\n\n📊 Statistics:\n")
	fmt.Fprintf(&b, "• Records this run: %d\n", report.Records)
	fmt.Fprintf(&b, "• Active agents: %d\n", report.Stats.ActiveAgents)
	fmt.Fprintf(&b, "• Inactive agents: %d\n", report.Stats.InactiveAgents)
	fmt.Fprintf(&b, "• Total crawls: %d\n", report.Stats.TotalCrawls)
	fmt.Fprintf(&b, "• Crawl time: %s", report.CrawlTime.UTC().Format("2006-01-02 15:04:05 UTC"))
	if nextRun != "" {
		fmt.Fprintf(&b, "\n\n⏰ Next run: %s", nextRun)
	}
	return b.String()
}
