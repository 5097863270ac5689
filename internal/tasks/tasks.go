// Package tasks keeps an in-memory record of crawl runs.
package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/rankwatch/internal/apperr"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Summary is the result of a completed crawl task.
type Summary struct {
	Records      int       `json:"records"`
	Added        int       `json:"added"`
	Removed      int       `json:"removed"`
	Updated      int       `json:"updated"`
	ActiveAgents int       `json:"active_agents"`
	CrawlTime    time.Time `json:"crawl_time"`
}

// Task is one crawl run.
type Task struct {
	ID         string     `json:"task_id"`
	Trigger    string     `json:"trigger"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Result     *Summary   `json:"result,omitempty"`
}

// Done reports whether t reached a terminal state.
func (t Task) Done() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Registry stores tasks. Only the newest Capacity tasks are retained.
type Registry struct {
	mu       sync.Mutex
	tasks    map[string]*Task
	capacity int
	now      func() time.Time
}

// NewRegistry creates a Registry. capacity <= 0 means 100.
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = 100
	}
	return &Registry{tasks: make(map[string]*Task), capacity: capacity, now: time.Now}
}

// Create registers a pending task.
func (r *Registry) Create(trigger string) Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := &Task{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    StatusPending,
		CreatedAt: r.now().UTC(),
	}
	r.tasks[t.ID] = t
	r.evict()
	return *t
}

// Start marks a pending task as running.
func (r *Registry) Start(id string) error {
	return r.update(id, func(t *Task) error {
		if t.Status != StatusPending {
			return fmt.Errorf("tasks: %s is %s: %w", id, t.Status, apperr.ErrConflict)
		}
		now := r.now().UTC()
		t.Status = StatusRunning
		t.StartedAt = &now
		return nil
	})
}

// Complete marks a task as completed with its summary.
func (r *Registry) Complete(id string, s Summary) error {
	return r.finish(id, StatusCompleted, &s, nil)
}

// Fail marks a task as failed.
func (r *Registry) Fail(id string, cause error) error {
	return r.finish(id, StatusFailed, nil, cause)
}

// Cancel marks a task as cancelled.
func (r *Registry) Cancel(id string, cause error) error {
	return r.finish(id, StatusCancelled, nil, cause)
}

func (r *Registry) finish(id string, status Status, s *Summary, cause error) error {
	return r.update(id, func(t *Task) error {
		if t.Done() {
			return fmt.Errorf("tasks: %s already %s: %w", id, t.Status, apperr.ErrConflict)
		}
		now := r.now().UTC()
		t.Status = status
		t.FinishedAt = &now
		t.Result = s
		if cause != nil {
			t.Error = cause.Error()
		}
		return nil
	})
}

func (r *Registry) update(id string, fn func(*Task) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("tasks: %s: %w", id, apperr.ErrNotFound)
	}
	return fn(t)
}

// Get returns a copy of the task with id.
func (r *Registry) Get(id string) (Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("tasks: %s: %w", id, apperr.ErrNotFound)
	}
	return *t, nil
}

// List returns up to limit tasks, newest first. limit <= 0 returns all.
func (r *Registry) List(limit int) []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.sorted()
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (r *Registry) sorted() []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// evict drops the oldest finished tasks above capacity. Caller holds mu.
func (r *Registry) evict() {
	if len(r.tasks) <= r.capacity {
		return
	}
	all := r.sorted()
	for i := len(all) - 1; i >= 0 && len(r.tasks) > r.capacity; i-- {
		if all[i].Done() {
			delete(r.tasks, all[i].ID)
		}
	}
}
