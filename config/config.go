package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chatvault service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Search    SearchConfig    `mapstructure:"search"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Listen      string   `mapstructure:"listen"`
	Debug       bool     `mapstructure:"debug"`
	LogLevel    string   `mapstructure:"log_level"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// ProvidersConfig wraps external model providers.
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig contains the completion/embedding provider settings. An empty
// APIKey selects degraded mode: the deterministic hash embedder and canned
// answers instead of live completions.
type OpenAIConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// StorageConfig groups persistent storage backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
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

// DSN assembles a connection string from the discrete fields unless an
// explicit URL was configured.
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

// RedisConfig contains the optional answer-cache settings. Leaving Host empty
// disables the cache entirely.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// IngestConfig bounds the chunking and chunk-persistence phases.
type IngestConfig struct {
	MaxTokensPerChunk   int `mapstructure:"max_tokens_per_chunk"`
	ChunkBatchSize      int `mapstructure:"chunk_batch_size"`
	EmbeddingDimensions int `mapstructure:"embedding_dimensions"`
}

func (i IngestConfig) Validate() error {
	if i.MaxTokensPerChunk <= 0 {
		return fmt.Errorf("ingest.max_tokens_per_chunk must be > 0")
	}
	if i.ChunkBatchSize <= 0 {
		return fmt.Errorf("ingest.chunk_batch_size must be > 0")
	}
	if i.EmbeddingDimensions <= 0 {
		return fmt.Errorf("ingest.embedding_dimensions must be > 0")
	}
	return nil
}

// SearchConfig tunes retrieval and answer confidence.
type SearchConfig struct {
	Threshold          float64  `mapstructure:"threshold"`
	ThresholdFloor     float64  `mapstructure:"threshold_floor"`
	Limit              int      `mapstructure:"limit"`
	MaxSources         int      `mapstructure:"max_sources"`
	LowConfidenceFloor float64  `mapstructure:"low_confidence_floor"`
	ReservedSessionIDs []string `mapstructure:"reserved_session_ids"`
}

func (s SearchConfig) Validate() error {
	if s.Threshold <= 0 || s.Threshold > 1 {
		return fmt.Errorf("search.threshold must be in (0,1]")
	}
	if s.ThresholdFloor <= 0 || s.ThresholdFloor > s.Threshold {
		return fmt.Errorf("search.threshold_floor must be in (0, threshold]")
	}
	if s.Limit <= 0 {
		return fmt.Errorf("search.limit must be > 0")
	}
	return nil
}

// HooksConfig selects the post-archive hook implementation.
type HooksConfig struct {
	Archiver string `mapstructure:"archiver"` // "none" (default) or "log"
}

// LoadConfig loads config from file, with CHATVAULT_* env overrides.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("general.listen", ":8080")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("providers.openai.completion_model", "gpt-4o-mini")
	viper.SetDefault("providers.openai.embedding_model", "text-embedding-3-small")
	viper.SetDefault("providers.openai.temperature", 0.2)
	viper.SetDefault("providers.openai.max_tokens", 1024)
	viper.SetDefault("providers.openai.timeout", 60*time.Second)
	viper.SetDefault("ingest.max_tokens_per_chunk", 500)
	viper.SetDefault("ingest.chunk_batch_size", 10)
	viper.SetDefault("ingest.embedding_dimensions", 1536)
	viper.SetDefault("search.threshold", 0.3)
	viper.SetDefault("search.threshold_floor", 0.1)
	viper.SetDefault("search.limit", 5)
	viper.SetDefault("search.max_sources", 3)
	viper.SetDefault("search.low_confidence_floor", 0.4)
	viper.SetDefault("storage.redis.ttl", 10*time.Minute)
	viper.SetDefault("hooks.archiver", "none")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("CHATVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Ingest.Validate(); err != nil {
		panic(err)
	}
	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	return &config
}
