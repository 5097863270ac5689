// Package models defines the catalog types shared across the crawl pipeline and the store.
package models

import "time"

// ExternalLink is an outbound link found on an item's detail page.
type ExternalLink struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// RawRecord is one catalog card as read from the listing page.
type RawRecord struct {
	Link        string `json:"link"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	PriceText   string `json:"price_text,omitempty"`
	Author      string `json:"author,omitempty"`
	RankToken   string `json:"rank_token,omitempty"`
	Position    int    `json:"position"`
}

// Detail holds the best-effort fields read from an item's detail page.
// Zero values mean the field was not found.
type Detail struct {
	Title           string            `json:"title,omitempty"`
	Owner           string            `json:"owner,omitempty"`
	Description     string            `json:"description,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	RunCost         string            `json:"run_cost,omitempty"`
	Stats           map[string]string `json:"stats,omitempty"`
	Version         string            `json:"version,omitempty"`
	LastUpdatedText string            `json:"last_updated_text,omitempty"`
	ExternalLinks   []ExternalLink    `json:"external_links,omitempty"`
}

// Merged pairs a listing record with its (possibly empty) detail.
type Merged struct {
	Raw    RawRecord
	Detail Detail
}

// Record is the canonical, validated form of one catalog item in a batch.
type Record struct {
	Link            string            `json:"link"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	AvatarURL       string            `json:"avatar_url,omitempty"`
	Price           string            `json:"price,omitempty"`
	Author          string            `json:"author,omitempty"`
	Rank            int               `json:"rank"`
	Tags            []string          `json:"tags,omitempty"`
	Stats           map[string]string `json:"stats,omitempty"`
	Version         string            `json:"version,omitempty"`
	LastUpdatedText string            `json:"last_updated_text,omitempty"`
	ExternalLinks   []ExternalLink    `json:"external_links,omitempty"`
}

// Agent is a persisted catalog item with its lifecycle fields.
type Agent struct {
	Record
	IsActive    bool      `json:"is_active"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// RankSample is one observation of an item's rank at a crawl time.
type RankSample struct {
	AgentLink string    `json:"agent_link"`
	Rank      int       `json:"rank"`
	CrawlTime time.Time `json:"crawl_time"`
}

// Statistics summarises the persisted catalog.
type Statistics struct {
	ActiveAgents   int        `json:"active_agents"`
	InactiveAgents int        `json:"inactive_agents"`
	TotalCrawls    int        `json:"total_crawls"`
	LatestCrawl    *time.Time `json:"latest_crawl,omitempty"`
}

// RankChange compares an item's rank between the two most recent crawls.
// Change is positive when the item moved up.
type RankChange struct {
	Link         string `json:"link"`
	Name         string `json:"name"`
	LatestRank   int    `json:"latest_rank"`
	PreviousRank int    `json:"previous_rank"`
	Change       int    `json:"change"`
}

// CrawlReport is what a finished run hands to notifiers.
type CrawlReport struct {
	CrawlTime time.Time  `json:"crawl_time"`
	Records   int        `json:"records"`
	Stats     Statistics `json:"stats"`
	Added     []Record   `json:"added"`
	Removed   []Agent    `json:"removed"`
}

// SearchResult is an agent matched by a text query.
type SearchResult struct {
	Link     string `json:"link"`
	Name     string `json:"name"`
	Rank     int    `json:"rank"`
	IsActive bool   `json:"is_active"`
	Snippet  string `json:"snippet"`
}
