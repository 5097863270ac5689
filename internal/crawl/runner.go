package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/rankwatch/internal/apperr"
	"github.com/starford/rankwatch/internal/tasks"
)

// Crawler runs one crawl.
type Crawler interface {
	Run(ctx context.Context) (*Result, error)
}

// Runner admits at most one crawl at a time and records every admitted run
// as a task. Triggers arriving while a run is in flight are rejected with
// apperr.ErrConflict.
type Runner struct {
	base    context.Context
	crawler Crawler
	tasks   *tasks.Registry
	logger  *slog.Logger

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRunner creates a Runner. Background runs derive from base, so
// cancelling base interrupts them.
func NewRunner(base context.Context, c Crawler, reg *tasks.Registry, logger *slog.Logger) *Runner {
	if reg == nil {
		reg = tasks.NewRegistry(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{base: base, crawler: c, tasks: reg, logger: logger}
}

// Tasks returns the registry runs are recorded in.
func (r *Runner) Tasks() *tasks.Registry { return r.tasks }

// Start launches a crawl in the background and returns its task.
func (r *Runner) Start(trigger string) (tasks.Task, error) {
	task, ctx, err := r.begin(r.base, trigger)
	if err != nil {
		return tasks.Task{}, err
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(ctx, task.ID)
	}()
	return task, nil
}

// Run executes a crawl on the calling goroutine.
func (r *Runner) Run(ctx context.Context, trigger string) (tasks.Task, *Result, error) {
	task, runCtx, err := r.begin(ctx, trigger)
	if err != nil {
		return tasks.Task{}, nil, err
	}
	res, err := r.execute(runCtx, task.ID)
	task, _ = r.tasks.Get(task.ID)
	return task, res, err
}

// Current returns the id of the task in flight.
func (r *Runner) Current() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current, r.current != ""
}

// CancelCurrent interrupts the run in flight, if any.
func (r *Runner) CancelCurrent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	return true
}

// Wait blocks until background runs have finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) begin(parent context.Context, trigger string) (tasks.Task, context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != "" {
		return tasks.Task{}, nil, fmt.Errorf("crawl: task %s in progress: %w", r.current, apperr.ErrConflict)
	}
	task := r.tasks.Create(trigger)
	if err := r.tasks.Start(task.ID); err != nil {
		return tasks.Task{}, nil, err
	}
	ctx, cancel := context.WithCancel(parent)
	r.current = task.ID
	r.cancel = cancel

	task, _ = r.tasks.Get(task.ID)
	return task, ctx, nil
}

func (r *Runner) end() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
	r.current = ""
	r.cancel = nil
}

func (r *Runner) execute(ctx context.Context, id string) (*Result, error) {
	defer r.end()

	log := r.logger.With(slog.String("task_id", id))
	res, err := r.crawler.Run(ctx)

	var recErr error
	switch OutcomeOf(err) {
	case OutcomeSuccess:
		recErr = r.tasks.Complete(id, tasks.Summary{
			Records:      len(res.Records),
			Added:        len(res.Added),
			Removed:      len(res.Removed),
			Updated:      res.Updated,
			ActiveAgents: res.Stats.ActiveAgents,
			CrawlTime:    res.CrawlTime,
		})
	case OutcomeCancelled:
		log.Warn("crawl: task cancelled")
		recErr = r.tasks.Cancel(id, err)
	default:
		recErr = r.tasks.Fail(id, err)
	}
	if recErr != nil {
		log.Error("crawl: record task result", slog.String("error", recErr.Error()))
	}
	return res, err
}
