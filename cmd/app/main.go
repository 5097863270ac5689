package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/rankwatch/internal"
	"github.com/starford/rankwatch/internal/query"
	pkgconfig "github.com/starford/rankwatch/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, string, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if cmd.IsSet("config") {
		if err := pkgconfig.Load(configPath, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, configPath, nil
	}

	// The default path is optional; without it the built-in defaults apply.
	read, err := pkgconfig.LoadOptional(configPath, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if !read {
		configPath = ""
	}
	return cfg, configPath, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithConfigFile(configPath),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func crawlOnce(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := internal.Crawl(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	return printJSON(res.Report())
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
}

func replay(ctx context.Context, cmd *cli.Command) error {
	file := cmd.Args().First()
	if file == "" {
		return fmt.Errorf("replay: snapshot file is required")
	}
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	res, err := internal.Replay(ctx, file, internal.WithConfig(cfg), internal.WithLogOutput(os.Stderr))
	if err != nil {
		return err
	}
	fmt.Printf("Replayed %s: %d added, %d removed, %d reactivated, %d updated\n",
		file, len(res.Added), len(res.Removed), len(res.Reactivated), res.Updated)
	return nil
}

// withPrinter opens the catalog for a query command.
func withPrinter(cmd *cli.Command, fn func(p *query.Printer, cfg *internal.Config) error) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := internal.OpenCatalog(internal.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(query.NewPrinter(os.Stdout, db), cfg)
}

func listAgents(ctx context.Context, cmd *cli.Command) error {
	return withPrinter(cmd, func(p *query.Printer, _ *internal.Config) error {
		return p.List(ctx, cmd.Bool("active-only"), int(cmd.Int("limit")))
	})
}

func rankHistory(ctx context.Context, cmd *cli.Command) error {
	return withPrinter(cmd, func(p *query.Printer, cfg *internal.Config) error {
		link, err := query.ResolveLink(cfg.Crawler.BaseURL, cmd.Args().First())
		if err != nil {
			return err
		}
		return p.History(ctx, link)
	})
}

func statistics(ctx context.Context, cmd *cli.Command) error {
	return withPrinter(cmd, func(p *query.Printer, _ *internal.Config) error {
		return p.Stats(ctx, cmd.Bool("show-changes"))
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:   "rankwatch",
		Usage:  "Catalog rank watcher: browser-driven crawls, reconciled history, REST and MCP queries",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the REST API and the crawl scheduler",
				Action: serve,
			},
			{
				Name:   "crawl",
				Usage:  "Run one crawl and print the report",
				Action: crawlOnce,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:      "replay",
				Usage:     "Reconcile an archived snapshot into the store",
				ArgsUsage: "<snapshot>",
				Action:    replay,
			},
			{
				Name:   "list",
				Usage:  "List agents ordered by rank",
				Action: listAgents,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active-only", Usage: "Only agents present in the latest crawl"},
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of agents"},
				},
			},
			{
				Name:      "history",
				Usage:     "Show the rank history of one agent",
				ArgsUsage: "<link>",
				Action:    rankHistory,
			},
			{
				Name:   "stats",
				Usage:  "Show catalog statistics",
				Action: statistics,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "show-changes", Usage: "Also show the largest rank movers"},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
