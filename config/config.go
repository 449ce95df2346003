// Package config loads traceflow configuration from defaults, an optional YAML file,
// an optional .env file and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Default values for the reference workflow.
const (
	DefaultModel        = "claude-3-opus-20240229"
	DefaultMaxTokens    = 1024
	DefaultWorkflowName = "pirate_joke_generator"
	DefaultPrompt       = "Tell me a joke about OpenTelemetry"
	DefaultServiceName  = "traceflow"
)

// Config holds the application configuration
type Config struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Storage   StorageConfig   `yaml:"storage"`
	Traces    TracesConfig    `yaml:"traces"`
	Cache     CacheConfig     `yaml:"cache"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// AnthropicConfig holds Messages API settings
type AnthropicConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	MaxTokens  int    `yaml:"max_tokens"`
	MaxRetries *int   `yaml:"max_retries"`
}

// WorkflowConfig names the workflow and its prompt
type WorkflowConfig struct {
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

// Exporter names accepted by TracingConfig.Exporter.
const (
	ExporterStdout  = "stdout"
	ExporterStorage = "storage"
	ExporterNone    = "none"
)

// TracingConfig configures the OpenTelemetry tracer provider
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
	// CaptureContent records prompt and completion text on model spans
	CaptureContent bool `yaml:"capture_content"`
}

// StorageConfig selects the database used to persist trace records
type StorageConfig struct {
	Type       string           `yaml:"type"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	PostgreSQL PostgreSQLConfig `yaml:"postgresql"`
	MongoDB    MongoDBConfig    `yaml:"mongodb"`
}

// SQLiteConfig holds SQLite settings
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgreSQLConfig holds PostgreSQL settings
type PostgreSQLConfig struct {
	URL      string `yaml:"url"`
	MaxConns int    `yaml:"max_conns"`
}

// MongoDBConfig holds MongoDB settings
type MongoDBConfig struct {
	URL      string `yaml:"url"`
	Database string `yaml:"database"`
}

// TracesConfig tunes the buffered trace record writer
type TracesConfig struct {
	BufferSize    int `yaml:"buffer_size"`
	FlushInterval int `yaml:"flush_interval"` // seconds
	RetentionDays int `yaml:"retention_days"`
}

// Cache backend names accepted by CacheConfig.Type.
const (
	CacheLocal = "local"
	CacheRedis = "redis"
)

// CacheConfig configures the model response cache
type CacheConfig struct {
	Enabled bool             `yaml:"enabled"`
	Type    string           `yaml:"type"`
	Local   LocalCacheConfig `yaml:"local"`
	Redis   RedisCacheConfig `yaml:"redis"`
}

// LocalCacheConfig holds file cache settings
type LocalCacheConfig struct {
	Dir string `yaml:"dir"`
}

// RedisCacheConfig holds Redis cache settings
type RedisCacheConfig struct {
	URL string `yaml:"url"`
	TTL int    `yaml:"ttl"` // seconds
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string `yaml:"port"`
	MasterKey string `yaml:"master_key"`
}

// HTTPConfig holds outbound HTTP timeouts (integer seconds or Go durations)
type HTTPConfig struct {
	Timeout               string `yaml:"timeout"`
	ResponseHeaderTimeout string `yaml:"response_header_timeout"`
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Workflow: WorkflowConfig{
			Name:   DefaultWorkflowName,
			Prompt: DefaultPrompt,
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: DefaultServiceName,
			Exporter:    ExporterStdout,
			SampleRatio: 1.0,
		},
		Storage: StorageConfig{
			Type:       "sqlite",
			SQLite:     SQLiteConfig{Path: ".cache/traceflow.db"},
			PostgreSQL: PostgreSQLConfig{MaxConns: 10},
			MongoDB:    MongoDBConfig{Database: "traceflow"},
		},
		Traces: TracesConfig{
			BufferSize:    1000,
			FlushInterval: 5,
			RetentionDays: 30,
		},
		Cache: CacheConfig{
			Type:  CacheLocal,
			Local: LocalCacheConfig{Dir: ".cache/responses"},
			Redis: RedisCacheConfig{TTL: 86400},
		},
		Metrics: MetricsConfig{
			Endpoint: "/metrics",
		},
		Server: ServerConfig{
			Port: "8080",
		},
	}
}

// Load reads configuration from config.yaml (if any), .env (if any) and the environment.
func Load() (*Config, error) {
	// .env never overrides variables already present in the environment.
	_ = godotenv.Load()

	cfg := Default()

	path := configPath()
	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func configPath() string {
	if p := os.Getenv("TRACEFLOW_CONFIG"); p != "" {
		return p
	}
	for _, candidate := range []string{"config.yaml", "config/config.yaml"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if len(root.Content) == 0 {
		return nil
	}

	expandNode(&root)

	if err := root.Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode config file %s: %w", path, err)
	}
	return nil
}

// expandNode expands ${VAR} placeholders in every scalar of the document.
func expandNode(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		n.Value = expandString(n.Value)
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandString replaces ${VAR} and ${VAR:-default}. A placeholder whose variable is
// unset or empty and which has no default is left untouched.
func expandString(s string) string {
	if s == "" {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		name, hasDefault, def := parts[1], parts[2] != "", parts[3]
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasDefault {
			return def
		}
		return match
	})
}

func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = b
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
				return
			}
			*dst = f
		}
	}

	setString("ANTHROPIC_API_KEY", &cfg.Anthropic.APIKey)
	setString("ANTHROPIC_BASE_URL", &cfg.Anthropic.BaseURL)
	setString("ANTHROPIC_MODEL", &cfg.Anthropic.Model)
	setInt("ANTHROPIC_MAX_TOKENS", &cfg.Anthropic.MaxTokens)
	if v := os.Getenv("ANTHROPIC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid ANTHROPIC_MAX_RETRIES %q: %w", v, err))
		} else {
			cfg.Anthropic.MaxRetries = &n
		}
	}

	setString("TRACEFLOW_WORKFLOW", &cfg.Workflow.Name)
	setString("TRACEFLOW_PROMPT", &cfg.Workflow.Prompt)

	setBool("TRACING_ENABLED", &cfg.Tracing.Enabled)
	setString("TRACING_EXPORTER", &cfg.Tracing.Exporter)
	setString("OTEL_SERVICE_NAME", &cfg.Tracing.ServiceName)
	setFloat("TRACING_SAMPLE_RATIO", &cfg.Tracing.SampleRatio)
	setBool("TRACING_CAPTURE_CONTENT", &cfg.Tracing.CaptureContent)

	setString("STORAGE_TYPE", &cfg.Storage.Type)
	setString("SQLITE_PATH", &cfg.Storage.SQLite.Path)
	setString("POSTGRES_URL", &cfg.Storage.PostgreSQL.URL)
	setInt("POSTGRES_MAX_CONNS", &cfg.Storage.PostgreSQL.MaxConns)
	setString("MONGODB_URL", &cfg.Storage.MongoDB.URL)
	setString("MONGODB_DATABASE", &cfg.Storage.MongoDB.Database)

	setInt("TRACES_BUFFER_SIZE", &cfg.Traces.BufferSize)
	setInt("TRACES_FLUSH_INTERVAL", &cfg.Traces.FlushInterval)
	setInt("TRACES_RETENTION_DAYS", &cfg.Traces.RetentionDays)

	setBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	setString("CACHE_TYPE", &cfg.Cache.Type)
	setString("CACHE_DIR", &cfg.Cache.Local.Dir)
	setString("REDIS_URL", &cfg.Cache.Redis.URL)
	setInt("REDIS_TTL", &cfg.Cache.Redis.TTL)

	setBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	setString("METRICS_ENDPOINT", &cfg.Metrics.Endpoint)

	setString("PORT", &cfg.Server.Port)
	setString("TRACEFLOW_MASTER_KEY", &cfg.Server.MasterKey)

	setString("HTTP_TIMEOUT", &cfg.HTTP.Timeout)
	setString("HTTP_RESPONSE_HEADER_TIMEOUT", &cfg.HTTP.ResponseHeaderTimeout)

	return errors.Join(errs...)
}

// Validate rejects configurations that cannot produce a valid model request or pipeline.
func (c *Config) Validate() error {
	var errs []error

	if c.Anthropic.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("anthropic.max_tokens must be positive, got %d", c.Anthropic.MaxTokens))
	}
	if strings.TrimSpace(c.Anthropic.Model) == "" {
		errs = append(errs, errors.New("anthropic.model is required"))
	}
	if c.Anthropic.MaxRetries != nil && *c.Anthropic.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("anthropic.max_retries must not be negative, got %d", *c.Anthropic.MaxRetries))
	}
	if strings.TrimSpace(c.Workflow.Name) == "" {
		errs = append(errs, errors.New("workflow.name is required"))
	}

	switch c.Tracing.Exporter {
	case ExporterStdout, ExporterStorage, ExporterNone:
	default:
		errs = append(errs, fmt.Errorf("unknown tracing.exporter %q (valid: stdout, storage, none)", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0,1], got %v", c.Tracing.SampleRatio))
	}

	switch c.Storage.Type {
	case "sqlite", "postgresql", "mongodb":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q (valid: sqlite, postgresql, mongodb)", c.Storage.Type))
	}

	if c.Cache.Enabled {
		switch c.Cache.Type {
		case CacheLocal:
		case CacheRedis:
			if c.Cache.Redis.URL == "" {
				errs = append(errs, errors.New("cache.redis.url is required when cache.type is redis"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown cache.type %q (valid: local, redis)", c.Cache.Type))
		}
	}

	return errors.Join(errs...)
}
