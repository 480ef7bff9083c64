// Package config loads the runtime configuration from the environment.
// Configuration is read once at startup into an immutable struct; no
// component reads the environment after that.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/miniagent/miniagent/internal/aerrors"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAddr          = "127.0.0.1:8080"
	DefaultModel         = "gpt-4o"
	DefaultDataDir       = ".mini-agent"
	DefaultMaxIterations = 8
	DefaultToolTimeout   = 60 * time.Second
)

// Config is the process-wide configuration.
type Config struct {
	// Addr is the host:port the HTTP server binds to.
	Addr string

	// OpenAIAPIKey authenticates against the chat-completion provider.
	// Required.
	OpenAIAPIKey string

	// OpenAIBaseURL overrides the provider endpoint for OpenAI-compatible
	// gateways. Empty means the provider default.
	OpenAIBaseURL string

	// TavilyAPIKey enables the web_search tool when present.
	TavilyAPIKey string

	// Model is the chat model used for both reasoning and answer streaming.
	Model string

	// DataDir is the storage root holding sessions, context, and memory.
	DataDir string

	// WorkspaceDir is the root the filesystem tools operate under.
	WorkspaceDir string

	// SkillsDirs are scanned for SKILL.md definitions in increasing
	// precedence order: bundled, user-global, project-local.
	SkillsDirs []string

	// MaxIterations is the hard cap on reason/act iterations per query.
	MaxIterations int

	// ToolTimeout is the default per-tool-call timeout.
	ToolTimeout time.Duration

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// LogFormat is "json" or "text".
	LogFormat string

	// OTLPEndpoint enables trace export when set (host:port of an OTLP
	// gRPC collector).
	OTLPEndpoint string
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present. Returns a config error when a required
// variable is missing or a typed variable does not parse.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Addr:          envOr("MINIAGENT_ADDR", DefaultAddr),
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		TavilyAPIKey:  os.Getenv("TAVILY_API_KEY"),
		Model:         envOr("MINIAGENT_MODEL", DefaultModel),
		DataDir:       envOr("MINIAGENT_DATA_DIR", DefaultDataDir),
		WorkspaceDir:  envOr("MINIAGENT_WORKSPACE", "."),
		MaxIterations: DefaultMaxIterations,
		ToolTimeout:   DefaultToolTimeout,
		LogLevel:      envOr("MINIAGENT_LOG_LEVEL", "info"),
		LogFormat:     envOr("MINIAGENT_LOG_FORMAT", "text"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if v := os.Getenv("MINIAGENT_MAX_ITERATIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, aerrors.Newf(aerrors.KindConfig, "MINIAGENT_MAX_ITERATIONS must be a positive integer, got %q", v)
		}
		cfg.MaxIterations = n
	}
	if v := os.Getenv("MINIAGENT_TOOL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, aerrors.Newf(aerrors.KindConfig, "MINIAGENT_TOOL_TIMEOUT must be a positive duration, got %q", v)
		}
		cfg.ToolTimeout = d
	}

	if cfg.OpenAIAPIKey == "" {
		return nil, aerrors.New(aerrors.KindConfig, "OPENAI_API_KEY is required")
	}

	cfg.SkillsDirs = skillsDirs(cfg.DataDir)
	return cfg, nil
}

// skillsDirs returns the skill search path in increasing precedence order:
// bundled (under the data dir), user-global, project-local.
func skillsDirs(dataDir string) []string {
	dirs := []string{filepath.Join(dataDir, "skills")}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".mini-agent", "skills"))
	}
	dirs = append(dirs, "skills")
	return dirs
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
