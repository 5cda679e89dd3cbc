// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Database      DatabaseConfig
	App           AppConfig
	Crawler       CrawlerConfig
	Parser        ParserConfig
	OLLAMA        OLLAMAConfig
	Discord       DiscordConfig
	Prometheus    PrometheusConfig
	Security      SecurityConfig
	Performance   PerformanceConfig
	Summarization SummarizationConfig
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// AppConfig holds general application configuration.
type AppConfig struct {
	Port         int
	FeedsFile    string
	LogLevel     string
	CronSchedule string // optional; empty disables cron-based batch resubmission

	// EpisodeCutoffDate, if non-zero, discards episodes published strictly
	// before it when persisting/notifying a parsed feed. InitiationDate is
	// a second, independently configurable floor kept for deployments that
	// rolled out the cutoff after already ingesting older history.
	EpisodeCutoffDate time.Time
	InitiationDate    time.Time
}

// CrawlerConfig holds the task management subsystem's tunables.
type CrawlerConfig struct {
	MaxConcurrency   int           // number of workers (W)
	InboxCapacity    int           // per-worker queue depth
	MaxRetries       int           // per-task network retry budget
	RequestTimeout   time.Duration // per-fetch deadline
	MaxBodyBytes     int64         // reject larger responses
	UserAgent        string        // HTTP UA header
	MaxRedirects     int
	SubmitTimeout    time.Duration // blocking-submit upper bound
	ShutdownTimeout  time.Duration // force-stop deadline
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	RateLimitMin     time.Duration // loaded but not read: the fetcher clamps RateLimited delays to a fixed 1s floor
	RateLimitMax     time.Duration // loaded but not read: the fetcher clamps RateLimited delays to a fixed 60s ceiling
	MaxConcurrentReq int           // per-host token bucket burst
}

// ParserConfig holds the streaming RSS/Atom parser's policy knobs.
type ParserConfig struct {
	StrictMode   bool
	CleanHTML    bool
	ValidateURLs bool
}

// OLLAMAConfig holds OLLAMA AI summarization sidecar configuration.
type OLLAMAConfig struct {
	URL        string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	WebhookURLs []string
	MaxRetries  int
	Timeout     time.Duration
}

// PrometheusConfig holds Prometheus metrics configuration.
type PrometheusConfig struct {
	MetricsPath string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	CORSAllowedOrigins string
	CORSAllowedMethods string
	CORSAllowedHeaders string
}

// PerformanceConfig holds HTTP server performance configuration.
type PerformanceConfig struct {
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// SummarizationConfig holds summarization queue/retry settings loaded from
// the environment. No component in this module reads them; the Ollama
// summarizer is configured through OLLAMAConfig.
type SummarizationConfig struct {
	MaxQueueSize     int
	WorkerTimeout    time.Duration
	MaxRetries       int
	RetryBackoffBase time.Duration
	MetricsInterval  time.Duration
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "podcast_crawler"),
		},
		App: AppConfig{
			Port:              getEnvInt("APP_PORT", 8080),
			FeedsFile:         getEnv("FEEDS_FILE", "/app/feeds.txt"),
			LogLevel:          getEnv("LOG_LEVEL", "info"),
			CronSchedule:      getEnv("CRON_SCHEDULE", ""),
			EpisodeCutoffDate: getEnvTime("EPISODE_CUTOFF_DATE", time.Time{}),
			InitiationDate:    getEnvTime("INITIATION_DATE", time.Time{}),
		},
		Crawler: CrawlerConfig{
			MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 8),
			InboxCapacity:    getEnvInt("INBOX_CAPACITY", 256),
			MaxRetries:       getEnvInt("MAX_RETRIES", 3),
			RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
			MaxBodyBytes:     int64(getEnvInt("MAX_BODY_BYTES", 16<<20)),
			UserAgent:        getEnv("USER_AGENT", "PodcastCrawler/1.0"),
			MaxRedirects:     getEnvInt("MAX_REDIRECTS", 5),
			SubmitTimeout:    getEnvDuration("SUBMIT_TIMEOUT", 5*time.Second),
			ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			BackoffBase:      getEnvDuration("BACKOFF_BASE", 500*time.Millisecond),
			BackoffCap:       getEnvDuration("BACKOFF_CAP", 30*time.Second),
			RateLimitMin:     getEnvDuration("RATE_LIMIT_MIN", 1*time.Second),
			RateLimitMax:     getEnvDuration("RATE_LIMIT_MAX", 60*time.Second),
			MaxConcurrentReq: getEnvInt("MAX_CONCURRENT_REQUESTS_PER_HOST", 4),
		},
		Parser: ParserConfig{
			StrictMode:   getEnvBool("PARSER_STRICT_MODE", false),
			CleanHTML:    getEnvBool("PARSER_CLEAN_HTML", true),
			ValidateURLs: getEnvBool("PARSER_VALIDATE_URLS", true),
		},
		OLLAMA: OLLAMAConfig{
			URL:        getEnv("OLLAMA_URL", "http://localhost:11434"),
			Model:      getEnv("OLLAMA_MODEL", "llama2"),
			Timeout:    getEnvDuration("OLLAMA_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvInt("OLLAMA_MAX_RETRIES", 3),
		},
		Discord: DiscordConfig{
			WebhookURLs: getEnvStringSlice("DISCORD_WEBHOOK_URLS", []string{}),
			MaxRetries:  getEnvInt("DISCORD_MAX_RETRIES", 2),
			Timeout:     getEnvDuration("DISCORD_TIMEOUT", 30*time.Second),
		},
		Prometheus: PrometheusConfig{
			MetricsPath: getEnv("PROMETHEUS_METRICS_PATH", "/metrics"),
		},
		Security: SecurityConfig{
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),
			CORSAllowedMethods: getEnv("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			CORSAllowedHeaders: getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Performance: PerformanceConfig{
			HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Summarization: SummarizationConfig{
			MaxQueueSize:     getEnvInt("SUMMARIZATION_MAX_QUEUE_SIZE", 100),
			WorkerTimeout:    getEnvDuration("SUMMARIZATION_WORKER_TIMEOUT", 120*time.Second),
			MaxRetries:       getEnvInt("SUMMARIZATION_MAX_RETRIES", 3),
			RetryBackoffBase: getEnvDuration("SUMMARIZATION_RETRY_BACKOFF_BASE", 1*time.Second),
			MetricsInterval:  getEnvDuration("SUMMARIZATION_METRICS_INTERVAL", 10*time.Second),
		},
	}
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvTime(key string, defaultValue time.Time) time.Time {
	if value := os.Getenv(key); value != "" {
		if t, err := time.Parse(time.RFC3339, value); err == nil {
			return t
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// GetConnectionString returns the database connection string.
func (c *Config) GetConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}
