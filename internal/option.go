package internal

import (
	"io"
	"log/slog"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config     *Config
	configFile string
	logOutput  io.Writer
	level      *slog.LevelVar
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithConfigFile sets the file the configuration was loaded from. When set,
// the server watches it and applies scheduler and log level changes.
func WithConfigFile(path string) Option {
	return func(a *application) {
		a.configFile = path
	}
}

// WithLogOutput redirects the JSON log stream. The mcp mode logs to stderr
// because stdout carries the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}
