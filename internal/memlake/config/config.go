// Package config loads memlake's configuration from an optional YAML file
// followed by MEMLAKE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/memlake/common/environment"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEMLAKE_"

// Backends for the topic index.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// Summarizer providers.
const (
	ProviderAuto      = "auto"
	ProviderOpenAI    = "openai"
	ProviderHeuristic = "heuristic"
)

// Config is the full application configuration.
type Config struct {
	Memory     MemoryConfig     `yaml:"memory"`
	Summarizer SummarizerConfig `yaml:"summarizer"`
	HTTP       HTTPConfig       `yaml:"http"`
	Log        LogConfig        `yaml:"log"`
}

// MemoryConfig controls the consolidation engine and its storage.
type MemoryConfig struct {
	// Backend selects the topic index storage: "json" (default) or "sqlite".
	Backend string `yaml:"backend"`
	// IndexPath is the JSON index document (json backend).
	IndexPath string `yaml:"index_path"`
	// DatabasePath is the SQLite file (sqlite backend).
	DatabasePath string `yaml:"database_path"`
	// LogDir receives archived session logs.
	LogDir string `yaml:"log_dir"`
	// Threshold is the batch size that triggers summarization.
	Threshold int `yaml:"threshold"`
	// SummaryAttempts bounds summarizer calls per flush (1..3).
	SummaryAttempts int `yaml:"summary_attempts"`
	// SummaryBackoff is the fixed wait between summarizer attempts.
	SummaryBackoff time.Duration `yaml:"summary_backoff"`
	// SummaryTimeout bounds one summarizer attempt.
	SummaryTimeout time.Duration `yaml:"summary_timeout"`
	// WriteAttempts bounds index file writes per save.
	WriteAttempts int `yaml:"write_attempts"`
	// UserLabel and AgentLabel prefix the sides of a turn transcript.
	UserLabel  string `yaml:"user_label"`
	AgentLabel string `yaml:"agent_label"`
	// ExtraKeywords extends the recall vocabulary.
	ExtraKeywords []string `yaml:"extra_keywords"`
	// Timezone is the IANA zone for entry dates; empty means local time.
	Timezone string `yaml:"timezone"`
}

// SummarizerConfig selects and configures the summarizer.
type SummarizerConfig struct {
	// Provider is "auto" (openai when an API key is set, else heuristic),
	// "openai" or "heuristic".
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// HTTPConfig configures the command API.
type HTTPConfig struct {
	BindAddr        string        `yaml:"bind_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Memory: MemoryConfig{
			Backend:         BackendJSON,
			IndexPath:       "memory_lake.json",
			DatabasePath:    "memlake.db",
			LogDir:          "chat_logs",
			Threshold:       3,
			SummaryAttempts: 3,
			SummaryBackoff:  2 * time.Second,
			SummaryTimeout:  60 * time.Second,
			WriteAttempts:   3,
			UserLabel:       "User",
			AgentLabel:      "Assistant",
		},
		Summarizer: SummarizerConfig{
			Provider:  ProviderAuto,
			Model:     "gpt-4o-mini",
			MaxTokens: 512,
		},
		HTTP: HTTPConfig{
			BindAddr:        ":8085",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    4 * time.Minute,
			ShutdownTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (skipped when empty or missing), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, environment.New(EnvPrefix))
}

func load(path string, env environment.Env) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(env environment.Env) error {
	m := &c.Memory
	env.String("BACKEND", &m.Backend)
	env.String("INDEX_PATH", &m.IndexPath)
	env.String("DATABASE_PATH", &m.DatabasePath)
	env.String("LOG_DIR", &m.LogDir)
	env.String("USER_LABEL", &m.UserLabel)
	env.String("AGENT_LABEL", &m.AgentLabel)
	env.String("TIMEZONE", &m.Timezone)
	env.StringSlice("EXTRA_KEYWORDS", &m.ExtraKeywords)

	s := &c.Summarizer
	env.String("SUMMARIZER_PROVIDER", &s.Provider)
	env.FirstString(&s.APIKey, "OPENAI_API_KEY", "DEEPSEEK_API_KEY")
	env.String("SUMMARIZER_API_KEY", &s.APIKey)
	env.String("SUMMARIZER_BASE_URL", &s.BaseURL)
	env.String("SUMMARIZER_MODEL", &s.Model)

	env.String("HTTP_ADDR", &c.HTTP.BindAddr)
	env.String("LOG_LEVEL", &c.Log.Level)
	env.String("LOG_FORMAT", &c.Log.Format)

	return errors.Join(
		env.Int("THRESHOLD", &m.Threshold),
		env.Int("SUMMARY_ATTEMPTS", &m.SummaryAttempts),
		env.Duration("SUMMARY_BACKOFF", &m.SummaryBackoff),
		env.Duration("SUMMARY_TIMEOUT", &m.SummaryTimeout),
		env.Int("WRITE_ATTEMPTS", &m.WriteAttempts),
		env.Int("SUMMARIZER_MAX_TOKENS", &s.MaxTokens),
		env.Duration("HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout),
	)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	m := c.Memory
	switch m.Backend {
	case BackendJSON:
		if m.IndexPath == "" {
			errs = append(errs, errors.New("memory.index_path is required for the json backend"))
		}
	case BackendSQLite:
		if m.DatabasePath == "" {
			errs = append(errs, errors.New("memory.database_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend %q: want %q or %q", m.Backend, BackendJSON, BackendSQLite))
	}
	if m.Threshold < 1 {
		errs = append(errs, fmt.Errorf("memory.threshold must be at least 1, got %d", m.Threshold))
	}
	if m.SummaryAttempts < 1 || m.SummaryAttempts > 3 {
		errs = append(errs, fmt.Errorf("memory.summary_attempts must be between 1 and 3, got %d", m.SummaryAttempts))
	}
	if m.SummaryBackoff < 0 || m.SummaryTimeout <= 0 {
		errs = append(errs, errors.New("memory.summary_backoff must be >= 0 and memory.summary_timeout > 0"))
	}
	if m.WriteAttempts < 1 {
		errs = append(errs, fmt.Errorf("memory.write_attempts must be at least 1, got %d", m.WriteAttempts))
	}
	if m.Timezone != "" {
		if _, err := time.LoadLocation(m.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("memory.timezone: %w", err))
		}
	}

	switch c.Summarizer.Provider {
	case ProviderAuto, ProviderHeuristic:
	case ProviderOpenAI:
		if c.Summarizer.APIKey == "" {
			errs = append(errs, errors.New("summarizer.api_key is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("summarizer.provider %q: want auto, openai or heuristic", c.Summarizer.Provider))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() *time.Location {
	if c.Memory.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Memory.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// UseLLM reports whether the model-backed summarizer should be used.
func (c *Config) UseLLM() bool {
	switch c.Summarizer.Provider {
	case ProviderOpenAI:
		return true
	case ProviderAuto:
		return c.Summarizer.APIKey != ""
	default:
		return false
	}
}
