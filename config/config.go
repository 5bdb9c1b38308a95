package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App         AppConfig
	Paths       PathsConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	LLM         LLMConfig
	DataSources DataSourceConfig
	Runner      RunnerConfig
	Cache       CacheConfig
	Debug       DebugConfig
}

type AppConfig struct {
	LogLevel string `envconfig:"TRADINGAGENTS_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"TRADINGAGENTS_LOG_DIR"`
	Docker   bool   `envconfig:"DOCKER_CONTAINER" default:"false"`
}

type PathsConfig struct {
	ProjectDir string `envconfig:"TRADINGAGENTS_PROJECT_DIR"`
	DataDir    string `envconfig:"TRADINGAGENTS_DATA_DIR" default:"data"`
	ResultsDir string `envconfig:"TRADINGAGENTS_RESULTS_DIR" default:"results"`
	CacheDir   string `envconfig:"TRADINGAGENTS_CACHE_DIR" default:"data/cache"`
}

type MongoConfig struct {
	ConnectionString string `envconfig:"MONGODB_CONNECTION_STRING"`
	Host             string `envconfig:"MONGODB_HOST"`
	Port             int    `envconfig:"MONGODB_PORT" default:"27017"`
	Username         string `envconfig:"MONGODB_USERNAME"`
	Password         string `envconfig:"MONGODB_PASSWORD"`
	Database         string `envconfig:"MONGODB_DATABASE" default:"tradingagents"`
	AuthSource       string `envconfig:"MONGODB_AUTH_SOURCE" default:"admin"`
}

// Enabled reports whether a Mongo deployment is configured.
func (c MongoConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// URI returns the connection string, building it from parts when needed.
func (c MongoConfig) URI() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	u := url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%d", c.Host, c.Port), Path: "/"}
	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
		q := url.Values{}
		q.Set("authSource", c.AuthSource)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Enabled() bool {
	return c.Host != ""
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type LLMConfig struct {
	DefaultProvider string        `envconfig:"TRADINGAGENTS_LLM_PROVIDER" default:"openai"`
	DefaultModel    string        `envconfig:"TRADINGAGENTS_LLM_MODEL" default:"gpt-4o-mini"`
	Temperature     float32       `envconfig:"TRADINGAGENTS_LLM_TEMPERATURE" default:"0.2"`
	MaxTokens       int           `envconfig:"TRADINGAGENTS_LLM_MAX_TOKENS" default:"4096"`
	Timeout         time.Duration `envconfig:"TRADINGAGENTS_LLM_TIMEOUT" default:"120s"`
	MaxAttempts     int           `envconfig:"TRADINGAGENTS_LLM_MAX_ATTEMPTS" default:"5"`
	RetryBase       time.Duration `envconfig:"TRADINGAGENTS_LLM_RETRY_BASE" default:"2s"`
	RetryCap        time.Duration `envconfig:"TRADINGAGENTS_LLM_RETRY_CAP" default:"60s"`
	RequestsPerMin  int           `envconfig:"TRADINGAGENTS_LLM_RPM" default:"0"`
	CatalogPath     string        `envconfig:"TRADINGAGENTS_PROVIDER_CATALOG"`
	CustomBaseURL   string        `envconfig:"CUSTOM_OPENAI_BASE_URL"`
}

type DataSourceConfig struct {
	FinnhubAPIKey       string        `envconfig:"FINNHUB_API_KEY"`
	LongportAppKey      string        `envconfig:"LONGPORT_APP_KEY"`
	LongportAppSecret   string        `envconfig:"LONGPORT_APP_SECRET"`
	LongportAccessToken string        `envconfig:"LONGPORT_ACCESS_TOKEN"`
	RedditUserAgent     string        `envconfig:"REDDIT_USER_AGENT" default:"TradingAgentsGo/1.0"`
	RemoteTimeout       time.Duration `envconfig:"TRADINGAGENTS_REMOTE_TIMEOUT" default:"30s"`
	Offline             bool          `envconfig:"TRADINGAGENTS_OFFLINE" default:"false"`
}

// LongportEnabled reports whether all LongPort credentials are present.
func (c DataSourceConfig) LongportEnabled() bool {
	return c.LongportAppKey != "" && c.LongportAppSecret != "" && c.LongportAccessToken != ""
}

type RunnerConfig struct {
	MaxConcurrentRuns int           `envconfig:"TRADINGAGENTS_MAX_CONCURRENT_RUNS" default:"3"`
	MaxTrackedRuns    int           `envconfig:"TRADINGAGENTS_MAX_TRACKED_RUNS" default:"100"`
	ParallelAnalysts  bool          `envconfig:"TRADINGAGENTS_PARALLEL_ANALYSTS" default:"false"`
	StreamTimeout     time.Duration `envconfig:"TRADINGAGENTS_STREAM_TIMEOUT" default:"30m"`
	Heartbeat         time.Duration `envconfig:"TRADINGAGENTS_HEARTBEAT" default:"30s"`
	SettingsPath      string        `envconfig:"TRADINGAGENTS_SETTINGS"`
}

type CacheConfig struct {
	TTLBars         time.Duration `envconfig:"TRADINGAGENTS_TTL_BARS" default:"2h"`
	TTLNews         time.Duration `envconfig:"TRADINGAGENTS_TTL_NEWS" default:"6h"`
	TTLFundamentals time.Duration `envconfig:"TRADINGAGENTS_TTL_FUNDAMENTALS" default:"24h"`
	TTLSentiment    time.Duration `envconfig:"TRADINGAGENTS_TTL_SENTIMENT" default:"6h"`
	TTLIndices      time.Duration `envconfig:"TRADINGAGENTS_TTL_INDICES" default:"10m"`
	MemoSize        int           `envconfig:"TRADINGAGENTS_MEMO_SIZE" default:"512"`
}

// TTLs returns the TTL table keyed by category name.
func (c CacheConfig) TTLs() map[string]time.Duration {
	return map[string]time.Duration{
		"bars":         c.TTLBars,
		"news":         c.TTLNews,
		"fundamentals": c.TTLFundamentals,
		"sentiment":    c.TTLSentiment,
		"indices":      c.TTLIndices,
	}
}

type DebugConfig struct {
	EinoDebugEnabled bool   `envconfig:"EINO_DEBUG_ENABLED" default:"false"`
	EinoDebugPort    int    `envconfig:"EINO_DEBUG_PORT" default:"52538"`
	Tracing          bool   `envconfig:"TRADINGAGENTS_TRACING" default:"false"`
	MetricsAddr      string `envconfig:"TRADINGAGENTS_METRICS_ADDR"`
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfigWithRoot processes the environment without .env loading or
// validation and roots relative paths at dir.
func DefaultConfigWithRoot(dir string) *Config {
	cfg := &Config{}
	_ = envconfig.Process("", cfg)
	cfg.Paths.ProjectDir = dir
	_ = cfg.resolve()
	return cfg
}

func (c *Config) resolve() error {
	root := c.Paths.ProjectDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working dir: %w", err)
		}
		root = wd
	}
	c.Paths.ProjectDir = root
	abs := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	c.Paths.DataDir = abs(c.Paths.DataDir)
	c.Paths.ResultsDir = abs(c.Paths.ResultsDir)
	c.Paths.CacheDir = abs(c.Paths.CacheDir)
	c.App.LogDir = abs(c.App.LogDir)
	c.LLM.CatalogPath = abs(c.LLM.CatalogPath)
	c.Runner.SettingsPath = abs(c.Runner.SettingsPath)

	if c.App.Docker {
		if c.Mongo.ConnectionString == "" && c.Mongo.Host == "" {
			c.Mongo.Host = "mongodb"
		}
		if c.Redis.Host == "" {
			c.Redis.Host = "redis"
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Runner.MaxConcurrentRuns < 1 {
		return fmt.Errorf("max concurrent runs must be positive, got %d", c.Runner.MaxConcurrentRuns)
	}
	if c.Runner.MaxTrackedRuns < c.Runner.MaxConcurrentRuns {
		return fmt.Errorf("max tracked runs (%d) must be >= max concurrent runs (%d)",
			c.Runner.MaxTrackedRuns, c.Runner.MaxConcurrentRuns)
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm max attempts must be positive, got %d", c.LLM.MaxAttempts)
	}
	if c.Runner.Heartbeat <= 0 || c.Runner.Heartbeat > 30*time.Second {
		return fmt.Errorf("heartbeat must be in (0, 30s], got %s", c.Runner.Heartbeat)
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.ResultsDir, c.Paths.CacheDir}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}
