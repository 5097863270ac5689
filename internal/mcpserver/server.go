// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the rankwatch catalog for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/rankwatch/internal/apperr"
	"github.com/starford/rankwatch/internal/archive"
	"github.com/starford/rankwatch/internal/models"
	"github.com/starford/rankwatch/internal/tasks"
)

const maxLimit = 1000

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

// Crawls starts crawls and exposes their tasks.
type Crawls interface {
	Start(trigger string) (tasks.Task, error)
	Tasks() *tasks.Registry
}

// Snapshots lists archived batches.
type Snapshots interface {
	List() ([]archive.Info, error)
}

// Server wraps the MCP server with rankwatch tools.
type Server struct {
	mcp       *server.MCPServer
	catalog   Catalog
	crawls    Crawls
	snapshots Snapshots
}

// Option configures optional tools.
type Option func(*Server)

// WithCrawls registers the start_crawl and get_task tools.
func WithCrawls(c Crawls) Option {
	return func(s *Server) { s.crawls = c }
}

// WithSnapshots registers the list_snapshots tool.
func WithSnapshots(a Snapshots) Option {
	return func(s *Server) { s.snapshots = a }
}

// New creates a new MCP server with the catalog tools registered.
func New(catalog Catalog, opts ...Option) *Server {
	s := &Server{catalog: catalog}
	for _, o := range opts {
		o(s)
	}

	s.mcp = server.NewMCPServer(
		"rankwatch",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_agents",
		mcp.WithDescription("List catalog agents ordered by their latest rank."),
		mcp.WithBoolean("active_only", mcp.Description("Only agents present in the latest crawl (default true)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of agents (1-1000, default all)")),
	), s.listAgents)

	s.mcp.AddTool(mcp.NewTool("agent_history",
		mcp.WithDescription("Rank history of one agent, oldest crawl first."),
		mcp.WithString("link", mcp.Required(), mcp.Description("Canonical agent URL")),
	), s.agentHistory)

	s.mcp.AddTool(mcp.NewTool("crawl_statistics",
		mcp.WithDescription("Active and inactive agent counts, crawl count, and latest crawl time."),
	), s.crawlStatistics)

	s.mcp.AddTool(mcp.NewTool("rank_changes",
		mcp.WithDescription("Largest rank movers between the two most recent crawls."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 10)")),
	), s.rankChanges)

	s.mcp.AddTool(mcp.NewTool("search_agents",
		mcp.WithDescription("Full-text search over agent name, description, author and tags."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search terms")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
	), s.searchAgents)

	s.mcp.AddTool(mcp.NewTool("get_record_fields",
		mcp.WithDescription("Describes the fields of a catalog agent record and how they are derived."),
	), s.getRecordFields)

	if s.crawls != nil {
		s.mcp.AddTool(mcp.NewTool("start_crawl",
			mcp.WithDescription("Start a background crawl. Fails if one is already running."),
		), s.startCrawl)

		s.mcp.AddTool(mcp.NewTool("get_task",
			mcp.WithDescription("Status of a crawl task."),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID returned by start_crawl")),
		), s.getTask)
	}

	if s.snapshots != nil {
		s.mcp.AddTool(mcp.NewTool("list_snapshots",
			mcp.WithDescription("List archived crawl snapshots, oldest first."),
		), s.listSnapshots)
	}

	// Resource: record field reference.
	s.mcp.AddResource(
		mcp.NewResource("rankwatch://record-fields", "Agent Record Fields",
			mcp.WithResourceDescription("Reference for the fields of a catalog agent record."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRecordFieldsResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func limitArg(req mcp.CallToolRequest, def int) (int, error) {
	n := req.GetInt("limit", def)
	if n == def {
		return n, nil
	}
	if n < 1 || n > maxLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", maxLimit)
	}
	return n, nil
}

func (s *Server) listAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := limitArg(req, 0)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var agents []models.Agent
	if req.GetBool("active_only", true) {
		agents, err = s.catalog.ActiveAgents(ctx, limit)
	} else {
		agents, err = s.catalog.AllAgents(ctx, limit)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if agents == nil {
		agents = []models.Agent{}
	}
	return jsonResult(agents)
}

func (s *Server) agentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	link, err := req.RequireString("link")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if u, err := url.Parse(link); err != nil || !u.IsAbs() {
		return mcp.NewToolResultError("link must be an absolute URL"), nil
	}
	if _, err := s.catalog.GetAgent(ctx, link); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", link)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	history, err := s.catalog.RankHistory(ctx, link)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(history)
}

func (s *Server) crawlStatistics(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats, err := s.catalog.Statistics(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(stats)
}

func (s *Server) rankChanges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit, err := limitArg(req, 10)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	changes, err := s.catalog.RankChanges(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(changes) == 0 {
		return mcp.NewToolResultText("no rank changes"), nil
	}
	return jsonResult(changes)
}

func (s *Server) searchAgents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit, err := limitArg(req, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.catalog.Search(ctx, query, limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) startCrawl(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.crawls.Start("mcp")
	if err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return mcp.NewToolResultError("a crawl is already running"), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(task)
}

func (s *Server) getTask(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.crawls.Tasks().Get(id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", id)), nil
	}
	return jsonResult(task)
}

func (s *Server) listSnapshots(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.snapshots.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if infos == nil {
		infos = []archive.Info{}
	}
	return jsonResult(infos)
}

func (s *Server) getRecordFields(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RecordFields), nil
}

func (s *Server) readRecordFieldsResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "rankwatch://record-fields",
			MIMEType: "text/markdown",
			Text:     RecordFields,
		},
	}, nil
}
