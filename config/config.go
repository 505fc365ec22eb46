package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the planner service
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Planner    PlannerConfig    `mapstructure:"planner"`
	Catalog    CatalogConfig    `mapstructure:"catalog"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// AsyncRunsEnabled exposes queued runs on POST /v1/runs; requires redis.
	AsyncRunsEnabled bool `mapstructure:"async_runs_enabled"`
	// StoreRunsEnabled persists run transcripts; requires postgres.
	StoreRunsEnabled bool `mapstructure:"store_runs_enabled"`
}

// LLMConfig contains the model backend configuration
type LLMConfig struct {
	Provider       string        `mapstructure:"provider"` // openai
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// Validate checks the backend settings.
func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.Provider) == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	if l.Timeout < 0 {
		return fmt.Errorf("llm.timeout cannot be negative")
	}
	return nil
}

// Unknown step policies understood by the orchestrator.
const (
	UnknownStepAbort = "abort"
	UnknownStepSkip  = "skip"
)

// PlannerConfig controls the plan orchestrator
type PlannerConfig struct {
	Capability  string `mapstructure:"capability"`
	UnknownStep string `mapstructure:"unknown_step"` // abort | skip
	MaxSteps    int    `mapstructure:"max_steps"`
}

// Normalize applies defaults for unset planner values.
func (p PlannerConfig) Normalize() PlannerConfig {
	p.Capability = strings.TrimSpace(p.Capability)
	if p.Capability == "" {
		p.Capability = "party_planner"
	}
	p.UnknownStep = strings.ToLower(strings.TrimSpace(p.UnknownStep))
	if p.UnknownStep == "" {
		p.UnknownStep = UnknownStepAbort
	}
	return p
}

// Validate ensures planner settings are usable.
func (p PlannerConfig) Validate() error {
	switch p.UnknownStep {
	case UnknownStepAbort, UnknownStepSkip:
	default:
		return fmt.Errorf("planner.unknown_step must be %q or %q, got %q", UnknownStepAbort, UnknownStepSkip, p.UnknownStep)
	}
	if p.MaxSteps < 0 {
		return fmt.Errorf("planner.max_steps cannot be negative")
	}
	return nil
}

// CatalogConfig points at an optional action catalog override file.
type CatalogConfig struct {
	File          string `mapstructure:"file"`
	SigningSecret string `mapstructure:"signing_secret"`
}

// EmbeddingsConfig controls the embeddings endpoint.
type EmbeddingsConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DefaultModel string `mapstructure:"default_model"`
	MaxInputs    int    `mapstructure:"max_inputs"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MetricsPort int    `mapstructure:"metrics_port"`
	ServiceName string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return fmt.Errorf("telemetry.metrics_port cannot be negative")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Stream   string        `mapstructure:"stream"`
	Group    string        `mapstructure:"group"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a connection string, preferring the explicit URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// WorkerConfig controls the queued run consumer.
type WorkerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	Block       time.Duration `mapstructure:"block"`
	BatchSize   int64         `mapstructure:"batch_size"`
	// ReclaimIdle is how long a delivered run may stay unacknowledged before
	// another worker takes it over. Zero disables reclaiming.
	ReclaimIdle time.Duration `mapstructure:"reclaim_idle"`
}

// Normalize applies worker defaults.
func (w WorkerConfig) Normalize() WorkerConfig {
	if w.Concurrency <= 0 {
		w.Concurrency = 4
	}
	if w.Block <= 0 {
		w.Block = 5 * time.Second
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	return w
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "60s")
	v.SetDefault("server.address", ":10001")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.embedding_model", "text-embedding-3-small")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout", "30s")
	v.SetDefault("planner.capability", "party_planner")
	v.SetDefault("planner.unknown_step", UnknownStepAbort)
	v.SetDefault("planner.max_steps", 0)
	v.SetDefault("catalog.file", "")
	v.SetDefault("catalog.signing_secret", "")
	v.SetDefault("embeddings.enabled", true)
	v.SetDefault("embeddings.default_model", "bge-small")
	v.SetDefault("embeddings.max_inputs", 64)
	v.SetDefault("telemetry.service_name", "partyplanner")
	v.SetDefault("storage.redis.stream", "partyplanner:runs")
	v.SetDefault("storage.redis.group", "partyplanner-workers")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", "5s")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.block", "5s")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.reclaim_idle", "2m")
}

// Load reads config from path (or the default search paths when empty) and
// returns validation errors instead of panicking.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PARTYPLANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// env + defaults are enough to run when no file is present on the search path
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Planner = cfg.Planner.Normalize()
	cfg.Worker = cfg.Worker.Normalize()
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Planner.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.Server.AsyncRunsEnabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Server.StoreRunsEnabled {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file and panics on failure
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}
