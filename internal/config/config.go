package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Server      ServerConfig
	Slack       SlackConfig
	QTSP        QTSPConfig
	Health      HealthConfig
	Scheduler   SchedulerConfig
	Storage     StorageConfig
	Export      ExportConfig
	Development bool
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string //nolint:gosec // G117: DB connection config
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// JWTConfig holds the secret used to verify tokens issued by the identity
// service.
type JWTConfig struct {
	Secret string //nolint:gosec // G117: JWT signing secret config
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string

	// Per-company budgets for all API requests and for the subset that
	// reaches the provider, and a per-address budget for WebSocket
	// handshakes.
	RequestsPerSecond         float64
	Burst                     int
	ProviderRequestsPerSecond float64
	ProviderBurst             int
	WSRequestsPerSecond       float64
	WSBurst                   int
}

// SlackConfig holds alert delivery settings. Alerts are disabled when either
// value is empty.
type SlackConfig struct {
	BotToken     string
	AlertChannel string
}

// QTSPConfig holds trust service provider settings.
type QTSPConfig struct {
	APIURL            string
	TokenURL          string
	ClientID          string
	ClientSecret      string //nolint:gosec // G117: OAuth2 client secret config
	Provider          string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxConcurrency    int
	ProcessingSLA     time.Duration
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// HealthConfig holds provider health monitoring settings.
type HealthConfig struct {
	Enabled          bool
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold int
}

// SchedulerConfig holds background job settings.
type SchedulerConfig struct {
	Enabled            bool
	DailyInterval      time.Duration
	RetryInterval      time.Duration
	CheckInterval      time.Duration
	WindowStartHour    int
	WindowEndHour      int
	CompanyConcurrency int
}

// StorageConfig holds artifact storage settings.
type StorageConfig struct {
	ArtifactDir string
}

// ExportConfig holds package export settings.
type ExportConfig struct {
	MaxRangeDays int
}

// Load reads configuration from environment variables.
// Defaults are safe for local development only. In production,
// sensitive values (JWT secret, DB password, QTSP credentials) must be set
// explicitly.
func Load() (*Config, error) {
	dbPort, err := getEnvInt("TIMEPROOF_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	dbMaxConns, err := getEnvInt("TIMEPROOF_DB_MAX_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("TIMEPROOF_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	readTimeout, err := getEnvDuration("TIMEPROOF_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	// Exports are synchronous, so writes get more room than reads.
	writeTimeout, err := getEnvDuration("TIMEPROOF_SERVER_WRITE_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	apiRPS, err := getEnvFloat("TIMEPROOF_SERVER_REQUESTS_PER_SECOND", 20)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	apiBurst, err := getEnvInt("TIMEPROOF_SERVER_BURST", 40)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	providerRPS, err := getEnvFloat("TIMEPROOF_SERVER_PROVIDER_REQUESTS_PER_SECOND", 0.5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	providerBurst, err := getEnvInt("TIMEPROOF_SERVER_PROVIDER_BURST", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	wsRPS, err := getEnvFloat("TIMEPROOF_SERVER_WS_REQUESTS_PER_SECOND", 1)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	wsBurst, err := getEnvInt("TIMEPROOF_SERVER_WS_BURST", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspTimeout, err := getEnvDuration("TIMEPROOF_QTSP_REQUEST_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspRPS, err := getEnvFloat("TIMEPROOF_QTSP_REQUESTS_PER_SECOND", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspBurst, err := getEnvInt("TIMEPROOF_QTSP_BURST", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspConcurrency, err := getEnvInt("TIMEPROOF_QTSP_MAX_CONCURRENCY", 3)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspSLA, err := getEnvDuration("TIMEPROOF_QTSP_PROCESSING_SLA", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspMaxRetries, err := getEnvInt("TIMEPROOF_QTSP_MAX_RETRIES", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspBackoffBase, err := getEnvDuration("TIMEPROOF_QTSP_BACKOFF_BASE", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	qtspBackoffMax, err := getEnvDuration("TIMEPROOF_QTSP_BACKOFF_MAX", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	healthEnabled, err := getEnvBool("TIMEPROOF_HEALTH_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	healthInterval, err := getEnvDuration("TIMEPROOF_HEALTH_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	healthTimeout, err := getEnvDuration("TIMEPROOF_HEALTH_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	healthThreshold, err := getEnvInt("TIMEPROOF_HEALTH_FAILURE_THRESHOLD", 10)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedEnabled, err := getEnvBool("TIMEPROOF_SCHEDULER_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedDaily, err := getEnvDuration("TIMEPROOF_SCHEDULER_DAILY_INTERVAL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedRetry, err := getEnvDuration("TIMEPROOF_SCHEDULER_RETRY_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	schedCheck, err := getEnvDuration("TIMEPROOF_SCHEDULER_CHECK_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	windowStart, err := getEnvInt("TIMEPROOF_SCHEDULER_WINDOW_START_HOUR", 2)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	windowEnd, err := getEnvInt("TIMEPROOF_SCHEDULER_WINDOW_END_HOUR", 5)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	companyConcurrency, err := getEnvInt("TIMEPROOF_SCHEDULER_COMPANY_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	exportMaxDays, err := getEnvInt("TIMEPROOF_EXPORT_MAX_RANGE_DAYS", 366)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	development, err := getEnvBool("TIMEPROOF_DEVELOPMENT", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	corsOrigins := getEnvList("TIMEPROOF_CORS_ORIGINS", []string{"http://localhost:5173"})

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("TIMEPROOF_DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("TIMEPROOF_DB_USER", "timeproof"),
			Password: getEnv("TIMEPROOF_DB_PASSWORD", ""),
			DBName:   getEnv("TIMEPROOF_DB_NAME", "timeproof_dev"),
			SSLMode:  getEnv("TIMEPROOF_DB_SSLMODE", "disable"),
			MaxConns: dbMaxConns,
		},
		Redis: RedisConfig{
			Addr:     getEnv("TIMEPROOF_REDIS_ADDR", "localhost:6379"),
			Password: getEnv("TIMEPROOF_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		JWT: JWTConfig{
			Secret: getEnv("TIMEPROOF_JWT_SECRET", ""),
		},
		Server: ServerConfig{
			Addr:         getEnv("TIMEPROOF_SERVER_ADDR", ":8080"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  corsOrigins,

			RequestsPerSecond:         apiRPS,
			Burst:                     apiBurst,
			ProviderRequestsPerSecond: providerRPS,
			ProviderBurst:             providerBurst,
			WSRequestsPerSecond:       wsRPS,
			WSBurst:                   wsBurst,
		},
		Slack: SlackConfig{
			BotToken:     getEnv("TIMEPROOF_SLACK_BOT_TOKEN", ""),
			AlertChannel: getEnv("TIMEPROOF_SLACK_ALERT_CHANNEL", ""),
		},
		QTSP: QTSPConfig{
			APIURL:            getEnv("TIMEPROOF_QTSP_API_URL", "https://api.eadtrust.eu/digital-trust/v1"),
			TokenURL:          getEnv("TIMEPROOF_QTSP_TOKEN_URL", "https://auth.eadtrust.eu/oauth2/token"),
			ClientID:          getEnv("TIMEPROOF_QTSP_CLIENT_ID", ""),
			ClientSecret:      getEnv("TIMEPROOF_QTSP_CLIENT_SECRET", ""),
			Provider:          getEnv("TIMEPROOF_QTSP_PROVIDER", "EADTRUST"),
			RequestTimeout:    qtspTimeout,
			RequestsPerSecond: qtspRPS,
			Burst:             qtspBurst,
			MaxConcurrency:    qtspConcurrency,
			ProcessingSLA:     qtspSLA,
			MaxRetries:        qtspMaxRetries,
			BackoffBase:       qtspBackoffBase,
			BackoffMax:        qtspBackoffMax,
		},
		Health: HealthConfig{
			Enabled:          healthEnabled,
			Interval:         healthInterval,
			Timeout:          healthTimeout,
			FailureThreshold: healthThreshold,
		},
		Scheduler: SchedulerConfig{
			Enabled:            schedEnabled,
			DailyInterval:      schedDaily,
			RetryInterval:      schedRetry,
			CheckInterval:      schedCheck,
			WindowStartHour:    windowStart,
			WindowEndHour:      windowEnd,
			CompanyConcurrency: companyConcurrency,
		},
		Storage: StorageConfig{
			ArtifactDir: getEnv("TIMEPROOF_ARTIFACT_DIR", "./data/artifacts"),
		},
		Export: ExportConfig{
			MaxRangeDays: exportMaxDays,
		},
		Development: development,
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	// JWT secret is required (no insecure default).
	if c.JWT.Secret == "" {
		return errors.New("TIMEPROOF_JWT_SECRET is required")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("TIMEPROOF_JWT_SECRET must be at least 32 characters")
	}

	if c.Database.SSLMode == "disable" && !c.Development {
		log.Warn().Msg("TIMEPROOF_DB_SSLMODE=disable is insecure for production; set to 'require' or 'verify-full'")
	}
	if c.QTSP.ClientID == "" || c.QTSP.ClientSecret == "" {
		log.Warn().Msg("TIMEPROOF_QTSP_CLIENT_ID/SECRET not set; notarization calls will fail")
	}

	// Bounds checks.
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("TIMEPROOF_DB_PORT must be 1-65535, got %d", c.Database.Port)
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("TIMEPROOF_DB_MAX_CONNS must be >= 1, got %d", c.Database.MaxConns)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("TIMEPROOF_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("TIMEPROOF_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	for _, l := range []struct {
		name  string
		rps   float64
		burst int
	}{
		{"TIMEPROOF_SERVER", c.Server.RequestsPerSecond, c.Server.Burst},
		{"TIMEPROOF_SERVER_PROVIDER", c.Server.ProviderRequestsPerSecond, c.Server.ProviderBurst},
		{"TIMEPROOF_SERVER_WS", c.Server.WSRequestsPerSecond, c.Server.WSBurst},
	} {
		if l.rps <= 0 {
			return fmt.Errorf("%s_REQUESTS_PER_SECOND must be positive, got %g", l.name, l.rps)
		}
		if l.burst < 1 {
			return fmt.Errorf("%s_BURST must be >= 1, got %d", l.name, l.burst)
		}
	}
	if c.QTSP.RequestTimeout <= 0 {
		return fmt.Errorf("TIMEPROOF_QTSP_REQUEST_TIMEOUT must be positive, got %s", c.QTSP.RequestTimeout)
	}
	if c.QTSP.RequestsPerSecond < 0 {
		return fmt.Errorf("TIMEPROOF_QTSP_REQUESTS_PER_SECOND must be >= 0, got %g", c.QTSP.RequestsPerSecond)
	}
	if c.QTSP.Burst < 1 {
		return fmt.Errorf("TIMEPROOF_QTSP_BURST must be >= 1, got %d", c.QTSP.Burst)
	}
	if c.QTSP.MaxConcurrency < 1 {
		return fmt.Errorf("TIMEPROOF_QTSP_MAX_CONCURRENCY must be >= 1, got %d", c.QTSP.MaxConcurrency)
	}
	if c.QTSP.MaxRetries < 1 {
		return fmt.Errorf("TIMEPROOF_QTSP_MAX_RETRIES must be >= 1, got %d", c.QTSP.MaxRetries)
	}
	if c.QTSP.BackoffBase <= 0 || c.QTSP.BackoffMax < c.QTSP.BackoffBase {
		return fmt.Errorf("TIMEPROOF_QTSP_BACKOFF_BASE/MAX must satisfy 0 < base <= max, got %s/%s", c.QTSP.BackoffBase, c.QTSP.BackoffMax)
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("TIMEPROOF_HEALTH_INTERVAL must be positive, got %s", c.Health.Interval)
	}
	if c.Health.Timeout <= 0 || c.Health.Timeout > c.Health.Interval {
		return fmt.Errorf("TIMEPROOF_HEALTH_TIMEOUT must be positive and not exceed the interval, got %s", c.Health.Timeout)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("TIMEPROOF_HEALTH_FAILURE_THRESHOLD must be >= 1, got %d", c.Health.FailureThreshold)
	}
	if c.Scheduler.WindowStartHour < 0 || c.Scheduler.WindowEndHour > 23 || c.Scheduler.WindowStartHour > c.Scheduler.WindowEndHour {
		return fmt.Errorf("TIMEPROOF_SCHEDULER_WINDOW_START_HOUR/END_HOUR must satisfy 0 <= start <= end <= 23, got %d/%d",
			c.Scheduler.WindowStartHour, c.Scheduler.WindowEndHour)
	}
	if c.Scheduler.CompanyConcurrency < 1 {
		return fmt.Errorf("TIMEPROOF_SCHEDULER_COMPANY_CONCURRENCY must be >= 1, got %d", c.Scheduler.CompanyConcurrency)
	}
	if c.Export.MaxRangeDays < 1 {
		return fmt.Errorf("TIMEPROOF_EXPORT_MAX_RANGE_DAYS must be >= 1, got %d", c.Export.MaxRangeDays)
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// URL returns the connection string in the pgx5:// form the migration
// driver expects.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
