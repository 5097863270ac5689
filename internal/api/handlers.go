package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/rankwatch/internal/apperr"
	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/schedule"
	"github.com/starford/rankwatch/internal/tasks"
)

// Catalog is the read side of the store.
type Catalog interface {
	ActiveAgents(ctx context.Context, limit int) ([]models.Agent, error)
	AllAgents(ctx context.Context, limit int) ([]models.Agent, error)
	GetAgent(ctx context.Context, link string) (*models.Agent, error)
	RankHistory(ctx context.Context, link string) ([]models.RankSample, error)
	Statistics(ctx context.Context) (*models.Statistics, error)
	RankChanges(ctx context.Context, limit int) ([]models.RankChange, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
}

// Runner starts crawls and exposes their tasks.
type Runner interface {
	Start(trigger string) (tasks.Task, error)
	Run(ctx context.Context, trigger string) (tasks.Task, *crawl.Result, error)
	CancelCurrent() bool
	Current() (string, bool)
	Tasks() *tasks.Registry
}

// Scheduler controls the periodic trigger.
type Scheduler interface {
	Status() schedule.Status
	Config() schedule.Config
	Resume() error
	Stop()
	UpdateConfig(cfg schedule.Config) error
}

// Handler holds API route handlers.
type Handler struct {
	catalog   Catalog
	runner    Runner
	scheduler Scheduler
}

// NewHandler creates a new Handler. scheduler may be nil.
func NewHandler(catalog Catalog, runner Runner, scheduler Scheduler) *Handler {
	return &Handler{catalog: catalog, runner: runner, scheduler: scheduler}
}

// Health handles GET /api/health.
//
//	@Summary		Service health
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	_, busy := h.runner.Current()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   "rankwatch",
		Busy:      busy,
	})
}

// StartCrawl handles POST /api/crawl/start.
//
//	@Summary		Start a crawl
//	@Tags			crawl
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CrawlRequest	false	"Execution mode"
//	@Success		202		{object}	CrawlResponse
//	@Success		200		{object}	CrawlResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/crawl/start [post]
func (h *Handler) StartCrawl(w http.ResponseWriter, r *http.Request) {
	var req CrawlRequest
	if !decodeJSON(w, r, &req, true) {
		return
	}

	if req.Async == nil || *req.Async {
		task, err := h.runner.Start("api")
		if err != nil {
			h.crawlError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, CrawlResponse{
			TaskID:  task.ID,
			Status:  task.Status,
			Message: "crawl started",
		})
		return
	}

	task, res, err := h.runner.Run(r.Context(), "api")
	if err != nil {
		if task.ID == "" {
			h.crawlError(w, err)
			return
		}
		status := http.StatusInternalServerError
		if crawl.OutcomeOf(err) == crawl.OutcomeCancelled {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, CrawlResponse{
			TaskID:  task.ID,
			Status:  task.Status,
			Message: err.Error(),
			Outcome: string(crawl.OutcomeOf(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, CrawlResponse{
		TaskID:  task.ID,
		Status:  task.Status,
		Message: fmt.Sprintf("crawl completed: %d agents, %d added, %d removed", len(res.Records), len(res.Added), len(res.Removed)),
		Outcome: string(crawl.OutcomeSuccess),
	})
}

func (h *Handler) crawlError(w http.ResponseWriter, err error) {
	if errors.Is(err, apperr.ErrConflict) {
		writeJSON(w, http.StatusConflict, errorBody("a crawl is already running"))
		return
	}
	internalError(w, "start crawl", err)
}

// CancelCrawl handles POST /api/crawl/cancel.
//
//	@Summary		Cancel the running crawl
//	@Tags			crawl
//	@Produce		json
//	@Success		200	{object}	MessageResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/crawl/cancel [post]
func (h *Handler) CancelCrawl(w http.ResponseWriter, _ *http.Request) {
	if !h.runner.CancelCurrent() {
		writeJSON(w, http.StatusNotFound, errorBody("no crawl is running"))
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "cancellation requested", Status: "success"})
}

// GetTask handles GET /api/crawl/status/{id} and GET /api/tasks/{id}.
//
//	@Summary		Get a crawl task
//	@Tags			tasks
//	@Produce		json
//	@Param			id	path		string	true	"Task ID"
//	@Success		200	{object}	tasks.Task
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id} [get]
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	task, err := h.runner.Tasks().Get(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("task not found"))
		} else {
			internalError(w, "get task", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /api/tasks.
//
//	@Summary		List crawl tasks, newest first
//	@Tags			tasks
//	@Produce		json
//	@Param			limit	query		int	false	"Max tasks (1-1000, default 50)"
//	@Success		200		{object}	TaskListResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 50)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	list := h.runner.Tasks().List(limit)
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: list, Total: len(list)})
}

// ListAgents handles GET /api/agents.
//
//	@Summary		List agents ordered by rank
//	@Tags			agents
//	@Produce		json
//	@Param			active_only	query		bool	false	"Only active agents (default true)"
//	@Param			limit		query		int		false	"Max agents (1-1000)"
//	@Success		200			{object}	AgentListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/agents [get]
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 0)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	activeOnly := true
	if raw := r.URL.Query().Get("active_only"); raw != "" {
		if activeOnly, err = strconv.ParseBool(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("active_only must be a boolean"))
			return
		}
	}

	var agents []models.Agent
	if activeOnly {
		agents, err = h.catalog.ActiveAgents(r.Context(), limit)
	} else {
		agents, err = h.catalog.AllAgents(r.Context(), limit)
	}
	if err != nil {
		internalError(w, "list agents", err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	writeJSON(w, http.StatusOK, AgentListResponse{Agents: agents, Total: len(agents)})
}

// AgentHistory handles GET /api/agents/history?link=.
//
//	@Summary		Rank history of one agent, oldest first
//	@Tags			agents
//	@Produce		json
//	@Param			link	query		string	true	"Canonical agent URL"
//	@Success		200		{object}	HistoryResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/agents/history [get]
func (h *Handler) AgentHistory(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if link == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'link' is required"))
		return
	}
	if u, err := url.Parse(link); err != nil || !u.IsAbs() {
		writeJSON(w, http.StatusBadRequest, errorBody("link must be an absolute URL"))
		return
	}
	if _, err := h.catalog.GetAgent(r.Context(), link); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("agent not found"))
		} else {
			internalError(w, "get agent", err)
		}
		return
	}
	history, err := h.catalog.RankHistory(r.Context(), link)
	if err != nil {
		internalError(w, "rank history", err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Link: link, History: history})
}

// Statistics handles GET /api/agents/statistics.
//
//	@Summary		Catalog statistics
//	@Tags			agents
//	@Produce		json
//	@Success		200	{object}	models.Statistics
//	@Security		BearerAuth
//	@Router			/agents/statistics [get]
func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.catalog.Statistics(r.Context())
	if err != nil {
		internalError(w, "statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// RankChanges handles GET /api/agents/changes.
//
//	@Summary		Largest rank movers between the last two crawls
//	@Tags			agents
//	@Produce		json
//	@Param			limit	query		int	false	"Max rows (1-1000, default 10)"
//	@Success		200		{object}	ChangesResponse
//	@Security		BearerAuth
//	@Router			/agents/changes [get]
func (h *Handler) RankChanges(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, 10)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	changes, err := h.catalog.RankChanges(r.Context(), limit)
	if err != nil {
		internalError(w, "rank changes", err)
		return
	}
	if changes == nil {
		changes = []models.RankChange{}
	}
	writeJSON(w, http.StatusOK, ChangesResponse{Changes: changes})
}

// SearchAgents handles GET /api/agents/search?q=.
//
//	@Summary		Search agents by name, description, author and tags
//	@Tags			agents
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results (1-1000, default 20)"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/agents/search [get]
func (h *Handler) SearchAgents(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, err := parseLimit(r, 20)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	results, err := h.catalog.Search(r.Context(), q, limit)
	if err != nil {
		internalError(w, "search agents", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Query: q, Results: results})
}

// SchedulerStatus handles GET /api/tasks/scheduler/status.
//
//	@Summary		Scheduler state
//	@Tags			scheduler
//	@Produce		json
//	@Success		200	{object}	schedule.Status
//	@Security		BearerAuth
//	@Router			/tasks/scheduler/status [get]
func (h *Handler) SchedulerStatus(w http.ResponseWriter, _ *http.Request) {
	if h.scheduler == nil {
		writeJSON(w, http.StatusNotFound, errorBody("scheduler not configured"))
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}

// StartScheduler handles POST /api/tasks/scheduler/start.
//
//	@Summary		Start the scheduler
//	@Tags			scheduler
//	@Produce		json
//	@Success		200	{object}	MessageResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/scheduler/start [post]
func (h *Handler) StartScheduler(w http.ResponseWriter, _ *http.Request) {
	if h.scheduler == nil {
		writeJSON(w, http.StatusNotFound, errorBody("scheduler not configured"))
		return
	}
	if err := h.scheduler.Resume(); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			writeJSON(w, http.StatusConflict, errorBody("scheduler already running"))
		} else {
			internalError(w, "start scheduler", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "scheduler started", Status: "success"})
}

// StopScheduler handles POST /api/tasks/scheduler/stop.
//
//	@Summary		Stop the scheduler
//	@Tags			scheduler
//	@Produce		json
//	@Success		200	{object}	MessageResponse
//	@Security		BearerAuth
//	@Router			/tasks/scheduler/stop [post]
func (h *Handler) StopScheduler(w http.ResponseWriter, _ *http.Request) {
	if h.scheduler == nil {
		writeJSON(w, http.StatusNotFound, errorBody("scheduler not configured"))
		return
	}
	h.scheduler.Stop()
	writeJSON(w, http.StatusOK, MessageResponse{Message: "scheduler stopped", Status: "success"})
}

// UpdateSchedulerConfig handles PUT /api/tasks/scheduler/config.
//
//	@Summary		Update the scheduler interval and state
//	@Tags			scheduler
//	@Accept			json
//	@Produce		json
//	@Param			body	body		SchedulerConfigRequest	true	"New configuration"
//	@Success		200		{object}	schedule.Status
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/scheduler/config [put]
func (h *Handler) UpdateSchedulerConfig(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		writeJSON(w, http.StatusNotFound, errorBody("scheduler not configured"))
		return
	}
	var req SchedulerConfigRequest
	if !decodeJSON(w, r, &req, false) {
		return
	}

	cfg := h.scheduler.Config()
	cfg.Enabled = req.Enabled
	cfg.Interval = time.Duration(req.IntervalHours) * time.Hour
	cfg.RunOnStart = req.RunOnStart
	if req.Timezone != "" {
		cfg.Timezone = req.Timezone
	}
	if err := h.scheduler.UpdateConfig(cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	writeJSON(w, http.StatusOK, h.scheduler.Status())
}
