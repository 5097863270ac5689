package api

import (
	"time"

	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/tasks"
)

// CrawlRequest is the request body for starting a crawl.
type CrawlRequest struct {
	// Async defaults to true; false blocks until the crawl finishes.
	Async *bool `json:"async,omitempty" example:"true"`
}

// CrawlResponse is returned when a crawl is started.
type CrawlResponse struct {
	TaskID  string       `json:"task_id" example:"6f1c0a5e-..." validate:"required"`
	Status  tasks.Status `json:"status" example:"running" validate:"required"`
	Message string       `json:"message" example:"crawl started" validate:"required"`
	Outcome string       `json:"outcome,omitempty" example:"success"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []tasks.Task `json:"tasks" validate:"required"`
	Total int          `json:"total" example:"3" validate:"required"`
}

// AgentListResponse wraps an agent listing.
type AgentListResponse struct {
	Agents []models.Agent `json:"agents" validate:"required"`
	Total  int            `json:"total" example:"120" validate:"required"`
}

// HistoryResponse wraps an agent's rank trail.
type HistoryResponse struct {
	Link    string              `json:"link" validate:"required"`
	History []models.RankSample `json:"history" validate:"required"`
}

// ChangesResponse wraps the rank movers between the last two crawls.
type ChangesResponse struct {
	Changes []models.RankChange `json:"changes" validate:"required"`
}

// SearchResponse wraps agent search results.
type SearchResponse struct {
	Query   string                `json:"query" example:"sticker" validate:"required"`
	Results []models.SearchResult `json:"results" validate:"required"`
}

// SchedulerConfigRequest updates the scheduler.
type SchedulerConfigRequest struct {
	Enabled       bool   `json:"enabled"`
	IntervalHours int    `json:"interval_hours" example:"24" validate:"required"`
	Timezone      string `json:"timezone,omitempty" example:"Asia/Shanghai"`
	RunOnStart    bool   `json:"run_on_start,omitempty"`
}

// MessageResponse is a plain acknowledgement.
type MessageResponse struct {
	Message string `json:"message" validate:"required"`
	Status  string `json:"status" example:"success" validate:"required"`
}

// HealthResponse is returned by GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service" example:"rankwatch"`
	Busy      bool      `json:"busy"`
}
