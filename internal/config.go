package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/rankwatch/internal/browser"
	"github.com/starford/rankwatch/internal/crawl"
	"github.com/starford/rankwatch/internal/enrich"
	"github.com/starford/rankwatch/internal/extract"
	"github.com/starford/rankwatch/internal/notify"
	"github.com/starford/rankwatch/internal/schedule"
	"github.com/starford/rankwatch/internal/store"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Database  DatabaseConfig    `yaml:"database"`
	Crawler   CrawlerConfig     `yaml:"crawler"`
	Enrich    EnrichConfig      `yaml:"enrich"`
	Archive   ArchiveConfig     `yaml:"archive"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Notify    NotifyConfig      `yaml:"notify"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Crawler.Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	if err := c.Enrich.Validate(); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Notify.Validate(); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// DatabaseConfig selects the catalog store.
//
// Driver is "sqlite" (Path is the database file) or "postgres" (DSN is a
// connection URL, usually "${DATABASE_URL}").
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// Validate validates the database configuration.
func (c *DatabaseConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = store.DriverSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(store.DriverSQLite, store.DriverPostgres)),
		validation.Field(&c.Path, validation.When(c.Driver == store.DriverSQLite, validation.Required)),
		validation.Field(&c.DSN, validation.When(c.Driver == store.DriverPostgres, validation.Required)),
	)
}

// Source returns the driver-specific data source.
func (c *DatabaseConfig) Source() string {
	if c.Driver == store.DriverPostgres {
		return c.DSN
	}
	return c.Path
}

// SelectorsConfig holds the listing card selectors.
type SelectorsConfig struct {
	Card        string `yaml:"card"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Avatar      string `yaml:"avatar"`
	Price       string `yaml:"price"`
	Author      string `yaml:"author"`
	Rank        string `yaml:"rank"`
}

// ScrollConfig tunes infinite-scroll pagination.
type ScrollConfig struct {
	Delay                 time.Duration `yaml:"delay"`
	MaxAttempts           int           `yaml:"max_attempts"`
	NoNewContentThreshold int           `yaml:"no_new_content_threshold"`
	IdleTimeout           time.Duration `yaml:"idle_timeout"`
}

// ClickConfig tunes click-to-advance pagination.
type ClickConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	MaxClicks      int           `yaml:"max_clicks"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	AdvanceTimeout time.Duration `yaml:"advance_timeout"`
	StablePolls    int           `yaml:"stable_polls"`
}

// CrawlerConfig holds the browser and listing page configuration.
type CrawlerConfig struct {
	BaseURL   string `yaml:"base_url"`
	Strategy  string `yaml:"strategy"`
	SortLabel string `yaml:"sort_label"`

	Headless  bool   `yaml:"headless"`
	RemoteURL string `yaml:"remote_url"`
	ChromeBin string `yaml:"chrome_bin"`
	UserAgent string `yaml:"user_agent"`

	PageTimeout    time.Duration `yaml:"page_timeout"`
	WaitStrategy   string        `yaml:"wait_strategy"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	EmptyRetryWait time.Duration `yaml:"empty_retry_wait"`

	Selectors SelectorsConfig `yaml:"selectors"`
	Scroll    ScrollConfig    `yaml:"scroll"`
	Click     ClickConfig     `yaml:"click"`
}

var waitStrategies = []interface{}{
	string(browser.WaitLoad), string(browser.WaitDOMContentLoaded), string(browser.WaitNetworkIdle),
}

// Validate validates the crawler configuration.
func (c *CrawlerConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BaseURL, validation.Required, is.URL),
		validation.Field(&c.Strategy, validation.Required, validation.In(string(extract.KindScroll), string(extract.KindClick))),
		validation.Field(&c.PageTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.WaitStrategy, validation.Required, validation.In(waitStrategies...)),
		validation.Field(&c.MaxRetries, validation.Required, validation.Min(1)),
		validation.Field(&c.RetryDelay, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Selectors,
		validation.Field(&c.Selectors.Card, validation.Required),
	); err != nil {
		return fmt.Errorf("selectors: %w", err)
	}
	if err := validation.ValidateStruct(&c.Scroll,
		validation.Field(&c.Scroll.Delay, validation.Min(time.Duration(0))),
		validation.Field(&c.Scroll.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&c.Scroll.NoNewContentThreshold, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	if err := validation.ValidateStruct(&c.Click,
		validation.Field(&c.Click.BatchSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Click.MaxClicks, validation.Required, validation.Min(1)),
		validation.Field(&c.Click.StablePolls, validation.Required, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// BrowserConfig converts to a browser session configuration.
func (c *CrawlerConfig) BrowserConfig(logger *slog.Logger) browser.Config {
	return browser.Config{
		RemoteURL:         c.RemoteURL,
		Headless:          c.Headless,
		UserAgent:         c.UserAgent,
		Bin:               c.ChromeBin,
		NavigationTimeout: c.PageTimeout,
		WaitStrategy:      browser.WaitStrategy(c.WaitStrategy),
		MaxRetries:        c.MaxRetries,
		RetryDelay:        c.RetryDelay,
		Logger:            logger,
	}
}

// ExtractConfig converts to a list extractor configuration.
func (c *CrawlerConfig) ExtractConfig() extract.Config {
	s := c.Selectors
	return extract.Config{
		Kind:    extract.Kind(c.Strategy),
		BaseURL: c.BaseURL,
		Selectors: extract.Selectors{
			Card:        s.Card,
			Name:        s.Name,
			Description: s.Description,
			Avatar:      s.Avatar,
			Price:       s.Price,
			Author:      s.Author,
			Rank:        s.Rank,
		},
		Scroll:         extract.ScrollConfig(c.Scroll),
		Click:          extract.ClickConfig(c.Click),
		EmptyRetryWait: c.EmptyRetryWait,
	}
}

// CrawlConfig converts to a pipeline configuration.
func (c *CrawlerConfig) CrawlConfig() crawl.Config {
	return crawl.Config{BaseURL: c.BaseURL, SortLabel: c.SortLabel}
}

// EnrichConfig tunes detail page enrichment.
type EnrichConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Timeout     time.Duration `yaml:"timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Interval    time.Duration `yaml:"interval"`

	MinDescriptionLength int      `yaml:"min_description_length"`
	MaxTagLength         int      `yaml:"max_tag_length"`
	TagSelector          string   `yaml:"tag_selector"`
	StatsSelector        string   `yaml:"stats_selector"`
	TagDenylist          []string `yaml:"tag_denylist"`
}

// Validate validates the enrichment configuration.
func (c *EnrichConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Timeout, validation.When(c.Enabled, validation.Required, validation.Min(time.Second))),
		validation.Field(&c.SettleDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	)
}

// EnricherConfig converts to a detail enricher configuration.
func (c *EnrichConfig) EnricherConfig() enrich.Config {
	return enrich.Config{
		Timeout:     c.Timeout,
		SettleDelay: c.SettleDelay,
		Interval:    c.Interval,
		Parse: enrich.ParseOptions{
			MinDescriptionLength: c.MinDescriptionLength,
			MaxTagLength:         c.MaxTagLength,
			TagSelector:          c.TagSelector,
			StatsSelector:        c.StatsSelector,
			TagDenylist:          c.TagDenylist,
		},
	}
}

// ArchiveConfig holds the snapshot archive location. An empty Path disables it.
type ArchiveConfig struct {
	Path string `yaml:"path"`
	Keep int    `yaml:"keep"`
}

// Validate validates the archive configuration.
func (c *ArchiveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Keep, validation.Min(0)),
	)
}

// SchedulerConfig holds the periodic crawl trigger configuration.
type SchedulerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	Timezone      string `yaml:"timezone"`
	RunOnStart    bool   `yaml:"run_on_start"`
}

// Validate validates the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	sc := c.ScheduleConfig()
	return sc.Validate()
}

// ScheduleConfig converts to a scheduler configuration.
func (c *SchedulerConfig) ScheduleConfig() schedule.Config {
	return schedule.Config{
		Enabled:    c.Enabled,
		Interval:   time.Duration(c.IntervalHours) * time.Hour,
		Timezone:   c.Timezone,
		RunOnStart: c.RunOnStart,
	}
}

// NotifyConfig holds the crawl notification targets. Empty URLs disable them.
type NotifyConfig struct {
	FeishuWebhookURL string        `yaml:"feishu_webhook_url"`
	Timeout          time.Duration `yaml:"timeout"`
	NATS             NATSConfig    `yaml:"nats"`
}

// NATSConfig holds the NATS publisher configuration.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Validate validates the notify configuration.
func (c *NotifyConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FeishuWebhookURL, is.URL),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// NATSOptions converts to a NATS notifier configuration.
func (c *NotifyConfig) NATSOptions() notify.NATSConfig {
	return notify.NATSConfig{URL: c.NATS.URL, Subject: c.NATS.Subject}
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer or X-API-Key token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Database: DatabaseConfig{
			Driver: store.DriverSQLite,
			Path:   "./rankwatch.db",
		},
		Crawler: CrawlerConfig{
			BaseURL:        "https://mulerun.com/",
			Strategy:       string(extract.KindScroll),
			SortLabel:      "Most used",
			Headless:       true,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PageTimeout:    60 * time.Second,
			WaitStrategy:   string(browser.WaitLoad),
			MaxRetries:     3,
			RetryDelay:     5 * time.Second,
			EmptyRetryWait: 5 * time.Second,
			Selectors: SelectorsConfig{
				Card:        `a[href^="/@"]`,
				Name:        "h3",
				Description: ".line-clamp-2",
				Avatar:      `img[data-slot="avatar-image"]`,
				Price:       "span.font-jetbrains-mono",
				Author:      `div.font-inter`,
			},
			Scroll: ScrollConfig{
				Delay:                 2 * time.Second,
				MaxAttempts:           50,
				NoNewContentThreshold: 3,
				IdleTimeout:           5 * time.Second,
			},
			Click: ClickConfig{
				BatchSize:      4,
				MaxClicks:      100,
				PollInterval:   250 * time.Millisecond,
				AdvanceTimeout: 5 * time.Second,
				StablePolls:    2,
			},
		},
		Enrich: EnrichConfig{
			Enabled:     true,
			Timeout:     30 * time.Second,
			SettleDelay: time.Second,
			Interval:    time.Second,
		},
		Archive: ArchiveConfig{
			Path: "./snapshots",
			Keep: 90,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			IntervalHours: 24,
			Timezone:      "Asia/Shanghai",
		},
		Notify: NotifyConfig{
			Timeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
