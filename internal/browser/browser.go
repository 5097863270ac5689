// Package browser drives a headless Chrome through Rod: launch, navigate with
// bounded retries, open isolated pages, and release everything exactly once.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/starford/rankwatch/internal/retry"
)

// WaitStrategy names the page lifecycle event navigation waits for.
type WaitStrategy string

// Wait strategies.
const (
	WaitLoad             WaitStrategy = "load"
	WaitDOMContentLoaded WaitStrategy = "domcontentloaded"
	WaitNetworkIdle      WaitStrategy = "networkidle"
)

func (w WaitStrategy) event() proto.PageLifecycleEventName {
	switch w {
	case WaitDOMContentLoaded:
		return proto.PageLifecycleEventNameDOMContentLoaded
	case WaitNetworkIdle:
		return proto.PageLifecycleEventNameNetworkIdle
	default:
		return proto.PageLifecycleEventNameLoad
	}
}

// Config configures a Session.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty launches a local one.
	RemoteURL string
	Headless  bool
	UserAgent string
	// Bin overrides the Chrome binary path.
	Bin string

	NavigationTimeout time.Duration
	WaitStrategy      WaitStrategy
	MaxRetries        int
	RetryDelay        time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.WaitStrategy == "" {
		c.WaitStrategy = WaitLoad
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// NavigationError is returned when navigation failed on every attempt.
type NavigationError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("browser: navigate %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }

// driver starts and stops the browser process behind a Session.
type driver interface {
	// start launches or connects to a browser and opens the main page.
	start(ctx context.Context) (Page, error)
	newPage() (Page, error)
	// stop closes the browser and kills any process started by start.
	stop()
}

// Session owns one Chrome process and its main page.
type Session struct {
	cfg Config
	drv driver

	mu       sync.Mutex
	page     Page
	released bool
}

// Acquire launches (or connects to) Chrome and opens the main page.
func Acquire(ctx context.Context, cfg Config) (*Session, error) {
	cfg.defaults()
	return acquire(ctx, cfg, &rodDriver{cfg: cfg})
}

func acquire(ctx context.Context, cfg Config, drv driver) (*Session, error) {
	s := &Session{cfg: cfg, drv: drv}
	if err := s.launch(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) launch(ctx context.Context) error {
	p, err := s.drv.start(ctx)
	if err != nil {
		return err
	}
	s.page = p
	return nil
}

// rodDriver runs Chrome through Rod, either launched locally or remote.
type rodDriver struct {
	cfg     Config
	browser *rod.Browser
	lnch    *launcher.Launcher
}

func (d *rodDriver) start(ctx context.Context) (Page, error) {
	log := d.cfg.Logger

	wsURL := d.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().
			Context(ctx).
			Headless(d.cfg.Headless).
			NoSandbox(true).
			Set("disable-dev-shm-usage").
			Set("disable-gpu").
			Set("disable-blink-features", "AutomationControlled")
		if d.cfg.Bin != "" {
			l = l.Bin(d.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		d.lnch = l
		log.Debug("browser: launched local chrome", slog.String("url", wsURL))
	} else {
		log.Debug("browser: connecting to remote", slog.String("url", wsURL))
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		d.stop()
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	d.browser = b

	p, err := d.newPage()
	if err != nil {
		d.stop()
		return nil, err
	}
	return p, nil
}

func (d *rodDriver) newPage() (Page, error) {
	if d.browser == nil {
		return nil, errors.New("browser: not running")
	}
	page, err := stealth.Page(d.browser)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	if d.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: d.cfg.UserAgent}); err != nil {
			d.cfg.Logger.Warn("browser: set user agent failed", slog.String("error", err.Error()))
		}
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1920, Height: 1080}); err != nil {
		d.cfg.Logger.Warn("browser: set viewport failed", slog.String("error", err.Error()))
	}
	return &rodPage{page: page}, nil
}

func (d *rodDriver) stop() {
	if d.browser != nil {
		_ = d.browser.Close()
		d.browser = nil
	}
	if d.lnch != nil {
		d.lnch.Kill()
		d.lnch.Cleanup()
		d.lnch = nil
	}
}

// Page returns the session's main page.
func (s *Session) Page() Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.page
}

// Navigate loads url on the main page. Failed attempts release and relaunch
// the browser before retrying; exhaustion yields a *NavigationError.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: s.cfg.MaxRetries,
		Delay:       s.cfg.RetryDelay,
		IsRetryable: func(error) bool { return ctx.Err() == nil },
		OnRetry: func(attempt int, err error) {
			s.cfg.Logger.Warn("browser: navigation failed, retrying",
				slog.String("url", url),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
		},
	}, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			if err := s.relaunch(ctx); err != nil {
				return err
			}
		}
		s.mu.Lock()
		p := s.page
		s.mu.Unlock()
		if p == nil {
			return errors.New("browser: session released")
		}
		return p.Navigate(ctx, url, s.cfg.WaitStrategy, s.cfg.NavigationTimeout)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ae *retry.AttemptsError
	if errors.As(err, &ae) {
		return &NavigationError{URL: url, Attempts: ae.Attempts, Err: ae.Err}
	}
	return &NavigationError{URL: url, Attempts: 1, Err: err}
}

func (s *Session) relaunch(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return errors.New("browser: session released")
	}
	s.cleanup()
	return s.launch(ctx)
}

// OpenIsolated opens a fresh page in the same browser. The caller must close it.
func (s *Session) OpenIsolated(_ context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.drv == nil {
		return nil, errors.New("browser: session released")
	}
	return s.drv.newPage()
}

// Release closes the page, the browser and the launched process. It is safe
// to call more than once.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	s.cleanup()
	s.cfg.Logger.Debug("browser: released")
	return nil
}

func (s *Session) cleanup() {
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.drv != nil {
		s.drv.stop()
	}
}
