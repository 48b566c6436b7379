package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration tree, loaded by Load from ./config/app.yaml
// overlaid with environment variables — adapted from the teacher's viper
// wiring, regrouped around the upstream/LLM/scoring/threshold domain.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Neo4j      Neo4jConfig      `mapstructure:"neo4j"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Thresholds ThresholdConfig  `mapstructure:"thresholds"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Security   SecurityConfig   `mapstructure:"security"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxIdleTime    time.Duration `mapstructure:"max_idle_time"`
	MaxLifetime    time.Duration `mapstructure:"max_lifetime"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig is two-tier: Hot backs rate limiting, Warm backs the
// recommendation page cache. The teacher's third Cold tier backed an
// embedding cache this domain has no equivalent of (see internal/database).
type RedisConfig struct {
	Hot  RedisInstanceConfig `mapstructure:"hot"`
	Warm RedisInstanceConfig `mapstructure:"warm"`
}

type RedisInstanceConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	PoolSize   int           `mapstructure:"pool_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type Neo4jConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topics  struct {
		BehaviorEvents string `mapstructure:"behavior_events"`
	} `mapstructure:"topics"`
}

// AuthConfig gates the optional admin JWT (§6: reserved for future, active
// only when JWT_SECRET_KEY is set).
type AuthConfig struct {
	JWTSecret string          `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration   `mapstructure:"token_ttl"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds per-client request volume against the Hot Redis tier.
type RateLimitConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// UpstreamConfig addresses the encrypted content-platform RPC (§4.3, §6).
type UpstreamConfig struct {
	BaseURL                string        `mapstructure:"base_url"`
	Username               string        `mapstructure:"username"`
	Password               string        `mapstructure:"password"`
	Timeout                time.Duration `mapstructure:"timeout"`
	MaxRetries             int           `mapstructure:"max_retries"`
	DisablePersonalization bool          `mapstructure:"disable_personalization"`
}

// LLMConfig addresses the OpenAI-compatible chat-completions endpoint used
// for AI-mode scoring (§4.4).
type LLMConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ScoringConfig holds the §4.4 batch/concurrency tunables.
type ScoringConfig struct {
	DefaultMode     string        `mapstructure:"default_mode"` // ai | random | mixed
	SubBatchSize    int           `mapstructure:"sub_batch_size"`
	MaxConcurrency  int           `mapstructure:"max_concurrency"`
	InterBatchPause time.Duration `mapstructure:"inter_batch_pause"`
	MaxRetries      int           `mapstructure:"max_retries"`
}

// ThresholdConfig holds the §4.5 re-derivation thresholds.
type ThresholdConfig struct {
	UserBehaviors   int64 `mapstructure:"user_behaviors"`   // T_user
	ContentTouchers int64 `mapstructure:"content_touchers"` // T_content
	RecentBehaviors int   `mapstructure:"recent_behaviors"` // L
	MinBehaviors    int   `mapstructure:"min_behaviors"`    // M_min
}

// WorkerConfig sizes the bounded background job pool (§4.7, §5).
type WorkerConfig struct {
	PoolSize      int           `mapstructure:"pool_size"` // W
	QueueCapacity int           `mapstructure:"queue_capacity"`
	DrainGrace    time.Duration `mapstructure:"drain_grace"`
}

// RecommendConfig controls the Warm-tier recommendation page cache.
type RecommendConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type MonitoringConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        string `mapstructure:"port"`
	MetricsPath string `mapstructure:"metrics_path"`
}

type SecurityConfig struct {
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// Load reads ./config/app.yaml (if present) and overlays environment
// variables, following the teacher's viper AutomaticEnv + "." -> "_"
// replacer convention.
func Load() (*Config, error) {
	viper.SetConfigName("app")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.BindEnv("database.url", "DATABASE_URL")
	_ = viper.BindEnv("llm.api_key", "SILICONFLOW_API_KEY")
	_ = viper.BindEnv("llm.base_url", "SILICONFLOW_BASE_URL")
	_ = viper.BindEnv("upstream.base_url", "SOHU_BASE_URL")
	_ = viper.BindEnv("upstream.username", "SOHU_USERNAME")
	_ = viper.BindEnv("upstream.password", "SOHU_PASSWORD")
	_ = viper.BindEnv("auth.jwt_secret", "JWT_SECRET_KEY")
	_ = viper.BindEnv("server.port", "PORT")
	_ = viper.BindEnv("redis.hot.url", "REDIS_HOT_URL")
	_ = viper.BindEnv("redis.warm.url", "REDIS_WARM_URL")
	_ = viper.BindEnv("neo4j.url", "NEO4J_URL")
	_ = viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional, continue with env vars and defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "development")

	// Database defaults
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_time", "15m")
	viper.SetDefault("database.max_lifetime", "1h")
	viper.SetDefault("database.connect_timeout", "10s")

	// Redis defaults
	viper.SetDefault("redis.hot.max_retries", 3)
	viper.SetDefault("redis.hot.pool_size", 10)
	viper.SetDefault("redis.hot.timeout", "5s")
	viper.SetDefault("redis.warm.max_retries", 3)
	viper.SetDefault("redis.warm.pool_size", 5)
	viper.SetDefault("redis.warm.timeout", "10s")

	viper.SetDefault("kafka.topics.behavior_events", "mbti-behavior-events")

	// Auth defaults
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.rate_limit.requests_per_window", 120)
	viper.SetDefault("auth.rate_limit.window", "1m")

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	// Upstream defaults
	viper.SetDefault("upstream.timeout", "15s")
	viper.SetDefault("upstream.max_retries", 3)
	viper.SetDefault("upstream.disable_personalization", true)

	// LLM defaults
	viper.SetDefault("llm.model", "Qwen/Qwen2.5-7B-Instruct")
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.max_tokens", 4000)
	viper.SetDefault("llm.timeout", "30s")

	// Scoring defaults
	viper.SetDefault("scoring.default_mode", "random")
	viper.SetDefault("scoring.sub_batch_size", 10)
	viper.SetDefault("scoring.max_concurrency", 3)
	viper.SetDefault("scoring.inter_batch_pause", "1s")
	viper.SetDefault("scoring.max_retries", 3)

	// Threshold defaults
	viper.SetDefault("thresholds.user_behaviors", 50)
	viper.SetDefault("thresholds.content_touchers", 50)
	viper.SetDefault("thresholds.recent_behaviors", 200)
	viper.SetDefault("thresholds.min_behaviors", 10)

	// Worker pool defaults
	viper.SetDefault("worker.pool_size", 4)
	viper.SetDefault("worker.queue_capacity", 1000)
	viper.SetDefault("worker.drain_grace", "30s")

	// Recommendation cache defaults
	viper.SetDefault("recommend.cache_ttl", "15m")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.port", "9090")
	viper.SetDefault("monitoring.metrics_path", "/metrics")

	// Security defaults
	viper.SetDefault("security.cors.allowed_origins", []string{"*"})
	viper.SetDefault("security.cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("security.cors.allowed_headers", []string{"*"})
}
