package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the filing search system
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Edgar     EdgarConfig     `mapstructure:"edgar"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Search    SearchConfig    `mapstructure:"search"`
	Tasks     TasksConfig     `mapstructure:"tasks"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address       string `mapstructure:"address"`
	StreamEnabled bool   `mapstructure:"stream_enabled"`
}

// EdgarConfig identifies this client to the SEC and bounds request volume.
// The SEC rejects requests without a declared contact identity.
type EdgarConfig struct {
	IdentityName   string        `mapstructure:"identity_name"`
	IdentityEmail  string        `mapstructure:"identity_email"`
	DataBaseURL    string        `mapstructure:"data_base_url"`
	ArchiveURL     string        `mapstructure:"archive_url"`
	TickerURL      string        `mapstructure:"ticker_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RequestsPerSec float64       `mapstructure:"requests_per_sec"`
}

func (e EdgarConfig) Validate() error {
	if strings.TrimSpace(e.IdentityName) == "" || strings.TrimSpace(e.IdentityEmail) == "" {
		return fmt.Errorf("edgar.identity_name and edgar.identity_email are required by SEC fair-access rules")
	}
	if e.RequestsPerSec <= 0 {
		return fmt.Errorf("edgar.requests_per_sec must be > 0")
	}
	return nil
}

// UserAgent renders the identity header the SEC expects.
func (e EdgarConfig) UserAgent() string {
	return fmt.Sprintf("%s %s", strings.TrimSpace(e.IdentityName), strings.TrimSpace(e.IdentityEmail))
}

// EmbeddingConfig configures the local Ollama embedding model.
type EmbeddingConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	Dimensions      int           `mapstructure:"dimensions"`
	BatchSize       int           `mapstructure:"batch_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	IdleUnloadAfter time.Duration `mapstructure:"idle_unload_after"` // 0 disables the idle reaper
}

func (e EmbeddingConfig) Validate() error {
	if strings.TrimSpace(e.BaseURL) == "" {
		return fmt.Errorf("embedding.base_url required")
	}
	if strings.TrimSpace(e.Model) == "" {
		return fmt.Errorf("embedding.model required")
	}
	if e.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be > 0")
	}
	if e.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be > 0")
	}
	return nil
}

// ChunkingConfig bounds chunk sizes produced by the pipeline.
type ChunkingConfig struct {
	TokenLimit int `mapstructure:"token_limit"`
	Tolerance  int `mapstructure:"tolerance"`
}

func (c ChunkingConfig) Validate() error {
	if c.TokenLimit <= 0 {
		return fmt.Errorf("chunking.token_limit must be > 0")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("chunking.tolerance must be >= 0")
	}
	return nil
}

// StorageConfig contains both stores: Postgres for chunk vectors,
// SQLite for the filing registry.
type StorageConfig struct {
	Postgres   PostgresConfig `mapstructure:"postgres"`
	SQLite     SQLiteConfig   `mapstructure:"sqlite"`
	MaxFilings int            `mapstructure:"max_filings"`
}

func (s StorageConfig) Validate() error {
	if s.MaxFilings <= 0 {
		return fmt.Errorf("storage.max_filings must be > 0")
	}
	if err := s.Postgres.Validate(); err != nil {
		return err
	}
	return s.SQLite.Validate()
}

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
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN renders a lib/pq connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, sslmode)
}

// MigrateURL renders a postgres:// URL, which is the form golang-migrate
// expects.
func (p PostgresConfig) MigrateURL() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, p.DBName, sslmode)
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

func (s SQLiteConfig) Validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("storage.sqlite.path required")
	}
	return nil
}

// SearchConfig holds query-side defaults.
type SearchConfig struct {
	TopK          int     `mapstructure:"top_k"`
	MinSimilarity float64 `mapstructure:"min_similarity"`
}

func (s SearchConfig) Validate() error {
	if s.TopK <= 0 {
		return fmt.Errorf("search.top_k must be > 0")
	}
	if s.MinSimilarity < 0 || s.MinSimilarity > 1 {
		return fmt.Errorf("search.min_similarity must be within [0,1]")
	}
	return nil
}

// TasksConfig tunes the background ingestion manager.
type TasksConfig struct {
	RetainFor     time.Duration `mapstructure:"retain_for"`
	PruneInterval time.Duration `mapstructure:"prune_interval"`
}

func (t TasksConfig) Validate() error {
	if t.RetainFor <= 0 {
		return fmt.Errorf("tasks.retain_for must be > 0")
	}
	if t.PruneInterval <= 0 {
		return fmt.Errorf("tasks.prune_interval must be > 0")
	}
	return nil
}

// LoadConfig reads configuration from the given file, or searches the
// usual locations when path is empty. Environment variables with the
// SECSEARCH_ prefix override file values.
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.stream_enabled", true)
	viper.SetDefault("edgar.data_base_url", "https://data.sec.gov")
	viper.SetDefault("edgar.archive_url", "https://www.sec.gov/Archives/edgar/data")
	viper.SetDefault("edgar.ticker_url", "https://www.sec.gov/files/company_tickers.json")
	viper.SetDefault("edgar.timeout", "30s")
	viper.SetDefault("edgar.requests_per_sec", 8.0)
	viper.SetDefault("embedding.base_url", "http://localhost:11434")
	viper.SetDefault("embedding.model", "nomic-embed-text")
	viper.SetDefault("embedding.dimensions", 768)
	viper.SetDefault("embedding.batch_size", 32)
	viper.SetDefault("embedding.timeout", "120s")
	viper.SetDefault("embedding.idle_unload_after", "0s")
	viper.SetDefault("chunking.token_limit", 500)
	viper.SetDefault("chunking.tolerance", 50)
	viper.SetDefault("storage.max_filings", 20)
	viper.SetDefault("storage.sqlite.path", "filings.db")
	viper.SetDefault("search.top_k", 5)
	viper.SetDefault("search.min_similarity", 0.0)
	viper.SetDefault("tasks.retain_for", "1h")
	viper.SetDefault("tasks.prune_interval", "1m")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SECSEARCH")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.Edgar.Validate(); err != nil {
		panic(err)
	}
	if err := config.Embedding.Validate(); err != nil {
		panic(err)
	}
	if err := config.Chunking.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Validate(); err != nil {
		panic(err)
	}
	if err := config.Search.Validate(); err != nil {
		panic(err)
	}
	if err := config.Tasks.Validate(); err != nil {
		panic(err)
	}
	return &config
}
