// Package config loads the server configuration and prompt templates.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Workflow variants.
const (
	VariantLinear  = "linear"
	VariantGuarded = "guarded"
)

// Checkpoint drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// AppConfig is the full server configuration.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Model      ModelConfig      `yaml:"model"`
	Database   DatabaseConfig   `yaml:"database"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Upload     UploadConfig     `yaml:"upload"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Search     SearchConfig     `yaml:"search"`
	Log        LogConfig        `yaml:"log"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`

	// Prompts optionally names a YAML file overriding the built-in templates.
	Prompts string `yaml:"prompts"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type ModelConfig struct {
	Name       string        `yaml:"name"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type CheckpointConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type UploadConfig struct {
	Dir string `yaml:"dir"`
}

type WorkflowConfig struct {
	Variant          string `yaml:"variant"`
	TopK             int    `yaml:"top_k"`
	MaxToolRounds    int    `yaml:"max_tool_rounds"`
	MaxQueryAttempts int    `yaml:"max_query_attempts"`
	MaxIterations    int    `yaml:"max_iterations"`
}

// SearchConfig reaches a web search tool over MCP. URL selects SSE,
// otherwise Command is started over stdio.
type SearchConfig struct {
	Enabled    bool              `yaml:"enabled"`
	ToolName   string            `yaml:"tool_name"`
	RemoteTool string            `yaml:"remote_tool"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	URL        string            `yaml:"url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is given.
func Default() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: 10 * time.Second,
		},
		Model: ModelConfig{
			Name:       "gpt-4o",
			MaxRetries: 3,
			Timeout:    2 * time.Minute,
		},
		Database:   DatabaseConfig{DSN: "data/sqlchat.db"},
		Checkpoint: CheckpointConfig{Driver: DriverMemory},
		Upload:     UploadConfig{Dir: "uploaded_files"},
		Workflow: WorkflowConfig{
			Variant:          VariantLinear,
			TopK:             5,
			MaxToolRounds:    6,
			MaxQueryAttempts: 3,
			MaxIterations:    50,
		},
		Search: SearchConfig{
			ToolName:   "tavily_search_results_json",
			RemoteTool: "tavily-search",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Validate reports every invalid setting.
func (c AppConfig) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Model.Name == "" {
		errs = append(errs, errors.New("model.name is required"))
	}
	if c.Model.MaxRetries < 1 {
		errs = append(errs, errors.New("model.max_retries must be at least 1"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}

	switch c.Checkpoint.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Checkpoint.Path == "" {
			errs = append(errs, errors.New("checkpoint.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.driver %q is not one of memory, sqlite", c.Checkpoint.Driver))
	}

	if c.Upload.Dir == "" {
		errs = append(errs, errors.New("upload.dir is required"))
	}

	w := c.Workflow
	if w.Variant != VariantLinear && w.Variant != VariantGuarded {
		errs = append(errs, fmt.Errorf("workflow.variant %q is not one of linear, guarded", w.Variant))
	}
	for name, v := range map[string]int{
		"workflow.top_k":              w.TopK,
		"workflow.max_tool_rounds":    w.MaxToolRounds,
		"workflow.max_query_attempts": w.MaxQueryAttempts,
		"workflow.max_iterations":     w.MaxIterations,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	if c.Search.Enabled {
		if c.Search.RemoteTool == "" {
			errs = append(errs, errors.New("search.remote_tool is required when search is enabled"))
		}
		if c.Search.Command == "" && c.Search.URL == "" {
			errs = append(errs, errors.New("search.command or search.url is required when search is enabled"))
		}
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger writing to w.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return level, fmt.Errorf("log.level %q: %w", s, err)
	}
	return level, nil
}
