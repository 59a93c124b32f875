// Package config loads runtime configuration from an optional YAML file and
// the environment. It is the only package that reads environment variables;
// everything else receives a Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/WessleyAI/secrag/engine/domain"
)

// EnvPrefix prefixes every environment override, e.g. SECRAG_RUN_WORKERS.
const EnvPrefix = "SECRAG"

// ErrMissingCredential reports a required setting that is empty.
var ErrMissingCredential = errors.New("missing required setting")

// ErrInvalid reports a setting outside its allowed range.
var ErrInvalid = errors.New("invalid setting")

type Config struct {
	Data    DataConfig    `mapstructure:"data"`
	Embed   EmbedConfig   `mapstructure:"embed"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Store   StoreConfig   `mapstructure:"store"`
	Qdrant  QdrantConfig  `mapstructure:"qdrant"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Run     RunConfig     `mapstructure:"run"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type DataConfig struct {
	Dataset  string `mapstructure:"dataset"`
	IndexDir string `mapstructure:"index_dir"`
	Output   string `mapstructure:"output"`
}

type EmbedConfig struct {
	Provider    string `mapstructure:"provider"`
	Model       string `mapstructure:"model"`
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Concurrency int    `mapstructure:"concurrency"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	// Model overrides the per-command default model when set.
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type StoreConfig struct {
	// Backend is "neo4j" or "sqlite".
	Backend    string      `mapstructure:"backend"`
	Neo4j      Neo4jConfig `mapstructure:"neo4j"`
	SQLitePath string      `mapstructure:"sqlite_path"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	Collection string `mapstructure:"collection"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type RunConfig struct {
	Workers       int `mapstructure:"workers"`
	TopK          int `mapstructure:"top_k"`
	ProgressEvery int `mapstructure:"progress_every"`
	// LanguageFilter restricts Qdrant searches to items tagged with the
	// prompt's language.
	LanguageFilter bool `mapstructure:"language_filter"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	// Addr is the listen address for /metrics; empty disables the server.
	Addr string `mapstructure:"addr"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Data: DataConfig{
			Dataset:  "LLMVulGen.json",
			IndexDir: "index",
			Output:   "results.json",
		},
		Embed: EmbedConfig{Provider: "ollama", Model: "all-minilm", BaseURL: "http://localhost:11434", Concurrency: 4},
		LLM: LLMConfig{
			Provider:    "openai",
			Temperature: 0.2,
			Timeout:     2 * time.Minute,
			RatePerSec:  2,
			Burst:       4,
			MaxAttempts: 4,
		},
		Store: StoreConfig{
			Backend:    "neo4j",
			Neo4j:      Neo4jConfig{URI: "bolt://localhost:7687", User: "neo4j", Database: "neo4j"},
			SQLitePath: "records.db",
		},
		Qdrant:  QdrantConfig{Addr: "localhost:6334", Collection: "secrag_prompts"},
		NATS:    NATSConfig{Subject: "secrag.results"},
		Run:     RunConfig{Workers: 4, TopK: 1, ProgressEvery: 5},
		Log:     LogConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{},
	}
}

// Load merges defaults, the YAML file at path (skipped when path is empty)
// and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Well-known variables outside the prefix.
	_ = v.BindEnv("store.neo4j.uri", EnvPrefix+"_STORE_NEO4J_URI", "NEO4J_URI")
	_ = v.BindEnv("store.neo4j.user", EnvPrefix+"_STORE_NEO4J_USER", "NEO4J_USER")
	_ = v.BindEnv("store.neo4j.password", EnvPrefix+"_STORE_NEO4J_PASSWORD", "NEO4J_PASSWORD")
	_ = v.BindEnv("qdrant.addr", EnvPrefix+"_QDRANT_ADDR", "QDRANT_ADDR")
	_ = v.BindEnv("nats.url", EnvPrefix+"_NATS_URL", "NATS_URL")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = providerKey(cfg.LLM.Provider)
	}
	if cfg.Embed.APIKey == "" {
		cfg.Embed.APIKey = providerKey(cfg.Embed.Provider)
	}
	return &cfg, nil
}

func providerKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	d := Default()
	for k, val := range map[string]any{
		"data.dataset":         d.Data.Dataset,
		"data.index_dir":       d.Data.IndexDir,
		"data.output":          d.Data.Output,
		"embed.provider":       d.Embed.Provider,
		"embed.model":          d.Embed.Model,
		"embed.base_url":       d.Embed.BaseURL,
		"embed.api_key":        d.Embed.APIKey,
		"embed.concurrency":    d.Embed.Concurrency,
		"llm.provider":         d.LLM.Provider,
		"llm.model":            d.LLM.Model,
		"llm.base_url":         d.LLM.BaseURL,
		"llm.api_key":          d.LLM.APIKey,
		"llm.temperature":      d.LLM.Temperature,
		"llm.max_tokens":       d.LLM.MaxTokens,
		"llm.timeout":          d.LLM.Timeout,
		"llm.rate_per_sec":     d.LLM.RatePerSec,
		"llm.burst":            d.LLM.Burst,
		"llm.max_attempts":     d.LLM.MaxAttempts,
		"store.backend":        d.Store.Backend,
		"store.neo4j.uri":      d.Store.Neo4j.URI,
		"store.neo4j.user":     d.Store.Neo4j.User,
		"store.neo4j.password": d.Store.Neo4j.Password,
		"store.neo4j.database": d.Store.Neo4j.Database,
		"store.sqlite_path":    d.Store.SQLitePath,
		"qdrant.enabled":       d.Qdrant.Enabled,
		"qdrant.addr":          d.Qdrant.Addr,
		"qdrant.collection":    d.Qdrant.Collection,
		"nats.url":             d.NATS.URL,
		"nats.subject":         d.NATS.Subject,
		"run.workers":          d.Run.Workers,
		"run.top_k":            d.Run.TopK,
		"run.progress_every":   d.Run.ProgressEvery,
		"run.language_filter":  d.Run.LanguageFilter,
		"log.level":            d.Log.Level,
		"log.format":           d.Log.Format,
		"metrics.addr":         d.Metrics.Addr,
	} {
		v.SetDefault(k, val)
	}
}

// Mode names the command a configuration is validated for.
type Mode string

const (
	ModeIngest   Mode = "ingest"
	ModeGenerate Mode = "generate"
	ModeBaseline Mode = "baseline"
	ModeFilter   Mode = "filter"
	ModeTail     Mode = "tail"
)

// Validate checks that everything mode needs is present. Failures wrap
// domain.ErrSetup.
func (c *Config) Validate(mode Mode) error {
	var missing []string
	need := func(ok bool, key string) {
		if !ok {
			missing = append(missing, key)
		}
	}
	usesStore := mode == ModeIngest || mode == ModeGenerate
	usesEmbed := usesStore
	usesLLM := mode == ModeGenerate || mode == ModeBaseline

	if mode == ModeTail {
		need(c.NATS.URL != "", "nats.url")
	} else {
		need(c.Data.Dataset != "", "data.dataset")
	}
	if mode != ModeIngest && mode != ModeTail {
		need(c.Data.Output != "", "data.output")
	}
	if usesStore {
		need(c.Data.IndexDir != "", "data.index_dir")
		switch c.Store.Backend {
		case "neo4j":
			need(c.Store.Neo4j.URI != "", "store.neo4j.uri")
			need(c.Store.Neo4j.User != "", "store.neo4j.user")
			need(c.Store.Neo4j.Password != "", "store.neo4j.password")
		case "sqlite":
			need(c.Store.SQLitePath != "", "store.sqlite_path")
		default:
			return domain.SetupError("config", fmt.Errorf("%w: store.backend %q", ErrInvalid, c.Store.Backend))
		}
		if c.Qdrant.Enabled {
			need(c.Qdrant.Addr != "", "qdrant.addr")
			need(c.Qdrant.Collection != "", "qdrant.collection")
		}
	}
	if usesEmbed && c.Embed.Provider != "ollama" && c.Embed.Provider != "" {
		need(c.Embed.APIKey != "", "embed.api_key")
	}
	if usesLLM {
		need(c.LLM.APIKey != "", "llm.api_key")
		if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
			return domain.SetupError("config", fmt.Errorf("%w: llm.temperature %.2f outside [0,1]", ErrInvalid, c.LLM.Temperature))
		}
	}
	if c.Run.Workers < 1 || c.Run.TopK < 1 {
		return domain.SetupError("config", fmt.Errorf("%w: run.workers and run.top_k must be at least 1", ErrInvalid))
	}
	if len(missing) > 0 {
		return domain.SetupError("config", fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", ")))
	}
	return nil
}
