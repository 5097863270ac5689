// Package schedule triggers crawls on a fixed interval.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	_ "time/tzdata" // timezone names resolve without a system zoneinfo

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/robfig/cron/v3"

	"github.com/starford/rankwatch/internal/apperr"
)

const (
	MinInterval = time.Hour
	MaxInterval = 168 * time.Hour
)

// Config controls the trigger.
type Config struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	Interval   time.Duration `json:"interval" yaml:"interval"`
	Timezone   string        `json:"timezone" yaml:"timezone"`
	RunOnStart bool          `json:"run_on_start" yaml:"run_on_start"`
}

// Validate checks the interval bounds and the timezone name.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Interval, validation.Required, validation.Min(MinInterval), validation.Max(MaxInterval)),
		validation.Field(&c.Timezone, validation.Required, validation.By(func(any) error {
			_, err := time.LoadLocation(c.Timezone)
			return err
		})),
	)
}

// Job is what the scheduler runs on each tick.
type Job func(ctx context.Context) error

// Status is a snapshot of the scheduler state.
type Status struct {
	Enabled       bool       `json:"enabled"`
	Running       bool       `json:"running"`
	IntervalHours float64    `json:"interval_hours"`
	Timezone      string     `json:"timezone"`
	RunOnStart    bool       `json:"run_on_start"`
	NextRun       *time.Time `json:"next_run,omitempty"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// Scheduler owns a cron instance with a single interval entry.
type Scheduler struct {
	job    Job
	logger *slog.Logger

	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	cron    *cron.Cron
	ctx     context.Context
	lastRun *time.Time
	lastErr string
	wg      sync.WaitGroup
}

// New validates cfg and creates a stopped Scheduler.
func New(cfg Config, job Job, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("schedule: invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, _ := time.LoadLocation(cfg.Timezone)
	return &Scheduler{job: job, logger: logger, cfg: cfg, loc: loc}, nil
}

// Run starts the scheduler when enabled and stops it when ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	s.ctx = ctx
	s.mu.Unlock()

	if enabled {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()
	s.Stop()
	s.wg.Wait()
	return nil
}

// Start begins firing the job. Jobs receive ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return fmt.Errorf("schedule: already running: %w", apperr.ErrConflict)
	}
	s.ctx = ctx
	s.cfg.Enabled = true
	if err := s.startLocked(); err != nil {
		return err
	}
	if s.cfg.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.fire()
		}()
	}
	return nil
}

func (s *Scheduler) startLocked() error {
	l := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	if _, err := c.AddFunc("@every "+s.cfg.Interval.String(), s.fire); err != nil {
		return fmt.Errorf("schedule: add entry: %w", err)
	}
	c.Start()
	s.cron = c
	s.logger.Info("schedule: started",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("timezone", s.cfg.Timezone))
	return nil
}

// Resume starts the trigger with the context given to Run.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.Start(ctx)
}

// Stop halts the trigger and waits for a firing job to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.cfg.Enabled = false
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("schedule: stopped")
}

// UpdateConfig replaces the configuration and restarts the trigger when it
// is running or cfg enables it.
func (s *Scheduler) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("schedule: invalid config: %w", err)
	}
	loc, _ := time.LoadLocation(cfg.Timezone)

	s.mu.Lock()
	old := s.cron
	s.cron = nil
	s.cfg = cfg
	s.loc = loc
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	s.mu.Unlock()

	if old != nil {
		<-old.Stop().Done()
	}
	if !cfg.Enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	return s.startLocked()
}

// Config returns the current configuration.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Status reports the current state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:       s.cfg.Enabled,
		Running:       s.cron != nil,
		IntervalHours: s.cfg.Interval.Hours(),
		Timezone:      s.cfg.Timezone,
		RunOnStart:    s.cfg.RunOnStart,
		LastRun:       s.lastRun,
		LastError:     s.lastErr,
	}
	if s.cron != nil {
		for _, e := range s.cron.Entries() {
			next := e.Next
			if next.IsZero() {
				next = e.Schedule.Next(time.Now().In(s.loc))
			}
			st.NextRun = &next
		}
	}
	return st
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	start := time.Now().In(s.loc)
	s.logger.Info("schedule: triggering job")
	err := s.job(ctx)

	s.mu.Lock()
	s.lastRun = &start
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrConflict):
		s.logger.Warn("schedule: previous run still in progress, skipped")
	default:
		s.logger.Error("schedule: job failed", slog.String("error", err.Error()))
	}
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
