// Package config loads runtime configuration from the environment, an
// optional .env file and Cobra flags, layered through Viper.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Mode selects the Orchestrator's DAG shape.
type Mode string

const (
	ModeFast Mode = "fast"
	ModeDeep Mode = "deep"
)

// Config holds all configuration for one process invocation.
type Config struct {
	// API keys
	LLMAPIKey    string
	SearchAPIKey string

	// Paths
	VaultPath     string
	HistoryFile   string
	EventStoreDir string

	// Timeouts
	ToolTimeout    time.Duration
	LLMTimeout     time.Duration
	WorkerTimeout  time.Duration
	SessionTimeout time.Duration

	// Agent / orchestrator settings
	MaxIterations  int
	MaxWorkers     int
	MaxConcurrency int
	MaxRetries     int
	HeavyFanout    int

	Mode  Mode
	Model string

	// LLMProvider selects which ChatClient implementation the orchestrator
	// constructs: "openai" (default, OpenAI-compatible endpoint) or
	// "anthropic" (Anthropic Messages API).
	LLMProvider string

	ClassifierModel string
	Verbose         bool

	// HTTPAddr, when non-empty, starts the read-only session introspection
	// API (internal/httpapi) alongside the CLI.
	HTTPAddr string

	// One-shot query, when set via --query.
	Query     string
	SessionID string
}

// Load reads configuration from environment variables, an optional .env
// file and a Viper-bound flag set, with flags taking precedence.
func Load(v *viper.Viper) (*Config, error) {
	_ = godotenv.Load()

	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	home, _ := os.UserHomeDir()

	setDefault(v, "vault_path", os.Getenv("VAULT_PATH"), filepath.Join(home, "research-vault"))
	setDefault(v, "history_file", os.Getenv("HISTORY_FILE"), filepath.Join(home, ".research_history"))
	v.SetDefault("event_store_dir", filepath.Join(home, ".research_events"))
	v.SetDefault("tool_timeout", 20*time.Second)
	v.SetDefault("llm_timeout", 120*time.Second)
	v.SetDefault("worker_timeout", 30*time.Minute)
	v.SetDefault("session_timeout", 2*time.Hour)
	v.SetDefault("max_iterations", 3)
	v.SetDefault("max_workers", 5)
	v.SetDefault("max_concurrency", 5)
	v.SetDefault("max_retries", 2)
	v.SetDefault("heavy_fanout", 1)
	v.SetDefault("mode", string(ModeDeep))
	v.SetDefault("model", "alibaba/tongyi-deepresearch-30b-a3b")
	v.SetDefault("llm_provider", "openai")

	cfg := &Config{
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
		SearchAPIKey:    os.Getenv("SEARCH_API_KEY"),
		VaultPath:       v.GetString("vault_path"),
		HistoryFile:     v.GetString("history_file"),
		EventStoreDir:   v.GetString("event_store_dir"),
		ToolTimeout:     v.GetDuration("tool_timeout"),
		LLMTimeout:      v.GetDuration("llm_timeout"),
		WorkerTimeout:   v.GetDuration("worker_timeout"),
		SessionTimeout:  v.GetDuration("session_timeout"),
		MaxIterations:   v.GetInt("max_iterations"),
		MaxWorkers:      v.GetInt("max_workers"),
		MaxConcurrency:  v.GetInt("max_concurrency"),
		MaxRetries:      v.GetInt("max_retries"),
		HeavyFanout:     v.GetInt("heavy_fanout"),
		Mode:            Mode(v.GetString("mode")),
		Model:           v.GetString("model"),
		LLMProvider:     coalesce(os.Getenv("LLM_PROVIDER"), v.GetString("llm_provider")),
		ClassifierModel: coalesce(os.Getenv("CLASSIFIER_MODEL"), v.GetString("model")),
		Verbose:         os.Getenv("VERBOSE") == "1" || v.GetBool("verbose"),
		Query:           v.GetString("query"),
		SessionID:       v.GetString("session"),
		HTTPAddr:        v.GetString("http_addr"),
	}

	return cfg, nil
}

// Validate checks for required configuration, returning a configuration
// error that should map to exit code 2.
func (c *Config) Validate() error {
	if c.LLMAPIKey == "" {
		return errMissingEnv("LLM_API_KEY")
	}
	if c.SearchAPIKey == "" {
		return errMissingEnv("SEARCH_API_KEY")
	}
	return nil
}

type missingEnvError string

func (e missingEnvError) Error() string { return string(e) + " environment variable not set" }

func errMissingEnv(name string) error { return missingEnvError(name) }

func setDefault(v *viper.Viper, key, envVal, def string) {
	if envVal != "" {
		v.SetDefault(key, envVal)
		return
	}
	v.SetDefault(key, def)
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
