package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dorofeevb1/sodrugestvobot/internal/database"
)

type Config struct {
	Server    ServerConfig
	Scraper   ScraperConfig
	Browser   BrowserConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Relay     RelayConfig
	Import    ImportConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Memcache  MemcacheConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	ParsingTimeout  time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RetryJitter     time.Duration
	ElementTimeout  time.Duration
	SettleMin       time.Duration
	SettleMax       time.Duration
	RequestInterval time.Duration
	BlockCooldown   time.Duration
	LocatorsFile    string
}

type BrowserConfig struct {
	Headless       bool
	ProfileDir     string
	ProxyServer    string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgents     []string
}

type SchedulerConfig struct {
	PriceUpdateInterval   time.Duration
	NotificationThreshold float64
}

type NotifyConfig struct {
	QueueCapacity    int
	DispatchInterval time.Duration
	Stream           string
	StreamMaxLen     int64
	PublishRetries   int
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	EventsStream string
	StreamMaxLen int64
}

type ImportConfig struct {
	LineDelay time.Duration
	MaxLines  int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
	MinConns int32
	Migrate  bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MemcacheConfig struct {
	Addr string
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads .env (if present) and the process environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a Config from the environment without validating ranges.
// Malformed values for the core parsing and scheduling keys are errors.
func FromEnv() (*Config, error) {
	s := &strict{}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Scraper: ScraperConfig{
			ParsingTimeout:  s.seconds("PARSING_TIMEOUT", 30),
			MaxRetries:      s.integer("MAX_RETRIES", 3),
			RetryDelay:      s.seconds("RETRY_DELAY", 5),
			RetryJitter:     getDurationOrDefault("RETRY_JITTER", 0),
			ElementTimeout:  getDurationOrDefault("SCRAPER_ELEMENT_TIMEOUT", 10*time.Second),
			SettleMin:       getDurationOrDefault("SCRAPER_SETTLE_MIN", 2*time.Second),
			SettleMax:       getDurationOrDefault("SCRAPER_SETTLE_MAX", 3*time.Second),
			RequestInterval: getDurationOrDefault("SCRAPER_REQUEST_INTERVAL", time.Second),
			BlockCooldown:   getDurationOrDefault("SCRAPER_BLOCK_COOLDOWN", 10*time.Minute),
			LocatorsFile:    getEnvOrDefault("EXTRACTOR_LOCATORS_FILE", ""),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			ProfileDir:     getEnvOrDefault("BROWSER_PROFILE_DIR", "chrome_profile"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Europe/Moscow"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "ru-RU"),
			UserAgents:     getStringSliceOrDefault("BROWSER_USER_AGENTS", DefaultUserAgents()),
		},
		Scheduler: SchedulerConfig{
			PriceUpdateInterval:   s.seconds("PRICE_UPDATE_INTERVAL", 3600),
			NotificationThreshold: s.number("NOTIFICATION_THRESHOLD", 0.1),
		},
		Notify: NotifyConfig{
			QueueCapacity:    getIntOrDefault("NOTIFY_QUEUE_CAPACITY", 1000),
			DispatchInterval: getDurationOrDefault("NOTIFY_DISPATCH_INTERVAL", 5*time.Second),
			Stream:           getEnvOrDefault("NOTIFY_STREAM", "stream:price_alerts"),
			StreamMaxLen:     int64(getIntOrDefault("NOTIFY_STREAM_MAXLEN", 10000)),
			PublishRetries:   getIntOrDefault("NOTIFY_PUBLISH_RETRIES", 3),
		},
		Relay: RelayConfig{
			PollInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			BatchSize:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			EventsStream: getEnvOrDefault("EVENTS_STREAM", "stream:price_updates"),
			StreamMaxLen: int64(getIntOrDefault("EVENTS_STREAM_MAXLEN", 100000)),
		},
		Import: ImportConfig{
			LineDelay: getDurationOrDefault("IMPORT_LINE_DELAY", time.Second),
			MaxLines:  getIntOrDefault("IMPORT_MAX_LINES", 500),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "pricewatch"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
			MinConns: int32(getIntOrDefault("DB_MIN_CONNS", 1)),
			Migrate:  getBoolOrDefault("DB_MIGRATE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
		},
		Memcache: MemcacheConfig{
			Addr: getEnvOrDefault("MEMCACHE_ADDR", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	if len(s.errs) > 0 {
		return nil, errors.Join(s.errs...)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ParsingTimeout <= 0 {
		return fmt.Errorf("PARSING_TIMEOUT must be positive")
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}

	if c.Scraper.RetryDelay <= 0 {
		return fmt.Errorf("RETRY_DELAY must be positive")
	}

	if c.Scheduler.PriceUpdateInterval <= 0 {
		return fmt.Errorf("PRICE_UPDATE_INTERVAL must be positive")
	}

	if c.Scheduler.NotificationThreshold < 0 || c.Scheduler.NotificationThreshold > 1 {
		return fmt.Errorf("NOTIFICATION_THRESHOLD must be between 0 and 1")
	}

	if c.Scraper.SettleMin > c.Scraper.SettleMax {
		return fmt.Errorf("SCRAPER_SETTLE_MIN cannot be greater than SCRAPER_SETTLE_MAX")
	}

	if len(c.Browser.UserAgents) == 0 {
		return fmt.Errorf("BROWSER_USER_AGENTS must not be empty")
	}

	if c.Notify.QueueCapacity < 1 {
		return fmt.Errorf("NOTIFY_QUEUE_CAPACITY must be at least 1")
	}

	if c.Relay.BatchSize < 1 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be at least 1")
	}

	if c.Import.MaxLines < 1 {
		return fmt.Errorf("IMPORT_MAX_LINES must be at least 1")
	}

	return nil
}

// Postgres converts the section into pool settings.
func (d DatabaseConfig) Postgres() database.Config {
	return database.Config{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		Database: d.DBName,
		SSLMode:  d.SSLMode,
		MaxConns: d.MaxConns,
		MinConns: d.MinConns,
	}
}

// strict collects parse failures instead of silently falling back.
type strict struct {
	errs []error
}

func (s *strict) integer(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s must be an integer, got %q", key, value))
		return defaultValue
	}
	return i
}

// seconds reads a whole number of seconds.
func (s *strict) seconds(key string, defaultValue int) time.Duration {
	return time.Duration(s.integer(key, defaultValue)) * time.Second
}

func (s *strict) number(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s must be a number, got %q", key, value))
		return defaultValue
	}
	return f
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

// DefaultUserAgents is the rotation pool used when BROWSER_USER_AGENTS is unset.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:123.0) Gecko/20100101 Firefox/123.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:123.0) Gecko/20100101 Firefox/123.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3.1 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36 Edg/137.0.0.0",
	}
}
