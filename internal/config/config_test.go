package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-that-is-at-least-32ch"

// ---------------------------------------------------------------------------
// Helper function tests
// ---------------------------------------------------------------------------

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string // nil = don't set; pointer to distinguish "" from unset
		fallback string
		want     string
	}{
		{name: "returns fallback when unset", key: "TIMEPROOF_TEST_GETENV_UNSET", setVal: nil, fallback: "default", want: "default"},
		{name: "returns env value when set", key: "TIMEPROOF_TEST_GETENV_SET", setVal: strPtr("custom"), fallback: "default", want: "custom"},
		{name: "returns fallback when empty string", key: "TIMEPROOF_TEST_GETENV_EMPTY", setVal: strPtr(""), fallback: "default", want: "default"},
		{name: "preserves whitespace", key: "TIMEPROOF_TEST_GETENV_WS", setVal: strPtr("  spaced  "), fallback: "x", want: "  spaced  "},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got := getEnv(tc.key, tc.fallback)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback int
		want     int
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TIMEPROOF_TEST_INT_UNSET", setVal: nil, fallback: 42, want: 42},
		{name: "parses valid int", key: "TIMEPROOF_TEST_INT_VALID", setVal: strPtr("8080"), fallback: 0, want: 8080},
		{name: "parses negative int", key: "TIMEPROOF_TEST_INT_NEG", setVal: strPtr("-1"), fallback: 0, want: -1},
		{name: "parses zero", key: "TIMEPROOF_TEST_INT_ZERO", setVal: strPtr("0"), fallback: 99, want: 0},
		{name: "returns fallback for empty string", key: "TIMEPROOF_TEST_INT_EMPTY", setVal: strPtr(""), fallback: 25, want: 25},
		{name: "errors on non-numeric", key: "TIMEPROOF_TEST_INT_NAN", setVal: strPtr("abc"), fallback: 0, wantErr: true},
		{name: "errors on float", key: "TIMEPROOF_TEST_INT_FLOAT", setVal: strPtr("3.14"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvInt(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback float64
		want     float64
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TIMEPROOF_TEST_FLOAT_UNSET", setVal: nil, fallback: 2, want: 2},
		{name: "parses decimal", key: "TIMEPROOF_TEST_FLOAT_DEC", setVal: strPtr("0.5"), fallback: 0, want: 0.5},
		{name: "parses integer", key: "TIMEPROOF_TEST_FLOAT_INT", setVal: strPtr("10"), fallback: 0, want: 10},
		{name: "errors on text", key: "TIMEPROOF_TEST_FLOAT_NAN", setVal: strPtr("fast"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvFloat(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback bool
		want     bool
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TIMEPROOF_TEST_BOOL_UNSET", setVal: nil, fallback: false, want: false},
		{name: "fallback true when unset", key: "TIMEPROOF_TEST_BOOL_UNSETTRUE", setVal: nil, fallback: true, want: true},
		{name: "parses true", key: "TIMEPROOF_TEST_BOOL_TRUE", setVal: strPtr("true"), fallback: false, want: true},
		{name: "parses 0", key: "TIMEPROOF_TEST_BOOL_ZERO", setVal: strPtr("0"), fallback: true, want: false},
		{name: "errors on invalid", key: "TIMEPROOF_TEST_BOOL_INV", setVal: strPtr("yes"), fallback: false, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvBool(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		setVal   *string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{name: "returns fallback when unset", key: "TIMEPROOF_TEST_DUR_UNSET", setVal: nil, fallback: 5 * time.Second, want: 5 * time.Second},
		{name: "parses minutes", key: "TIMEPROOF_TEST_DUR_MIN", setVal: strPtr("15m"), fallback: 0, want: 15 * time.Minute},
		{name: "parses composite", key: "TIMEPROOF_TEST_DUR_COMP", setVal: strPtr("1h30m"), fallback: 0, want: 90 * time.Minute},
		{name: "errors on invalid", key: "TIMEPROOF_TEST_DUR_INV", setVal: strPtr("notaduration"), fallback: 0, wantErr: true},
		{name: "errors on bare number", key: "TIMEPROOF_TEST_DUR_BARE", setVal: strPtr("30"), fallback: 0, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.setVal != nil {
				t.Setenv(tc.key, *tc.setVal)
			}

			got, err := getEnvDuration(tc.key, tc.fallback)
			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.key)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TIMEPROOF_TEST_LIST", " https://a.example , ,https://b.example")

	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("TIMEPROOF_TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("TIMEPROOF_TEST_LIST_UNSET", []string{"x"}))
}

// ---------------------------------------------------------------------------
// Load() error cases
// ---------------------------------------------------------------------------

func TestLoad_MissingJWTSecret(t *testing.T) {
	// All defaults apply; JWT secret is empty => must fail.
	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "TIMEPROOF_JWT_SECRET")
}

func TestLoad_InvalidEnvVars(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		errMsg string
	}{
		// Database
		{name: "DB_PORT not a number", envKey: "TIMEPROOF_DB_PORT", envVal: "abc", errMsg: "TIMEPROOF_DB_PORT"},
		{name: "DB_PORT too high", envKey: "TIMEPROOF_DB_PORT", envVal: "65536", errMsg: "TIMEPROOF_DB_PORT"},
		{name: "DB_MAX_CONNS zero", envKey: "TIMEPROOF_DB_MAX_CONNS", envVal: "0", errMsg: "TIMEPROOF_DB_MAX_CONNS"},

		// Redis DB
		{name: "REDIS_DB not a number", envKey: "TIMEPROOF_REDIS_DB", envVal: "abc", errMsg: "TIMEPROOF_REDIS_DB"},

		// Server timeouts
		{name: "SERVER_READ_TIMEOUT invalid", envKey: "TIMEPROOF_SERVER_READ_TIMEOUT", envVal: "notduration", errMsg: "TIMEPROOF_SERVER_READ_TIMEOUT"},
		{name: "SERVER_WRITE_TIMEOUT zero", envKey: "TIMEPROOF_SERVER_WRITE_TIMEOUT", envVal: "0s", errMsg: "TIMEPROOF_SERVER_WRITE_TIMEOUT"},

		// Server rate limits
		{name: "SERVER_REQUESTS_PER_SECOND text", envKey: "TIMEPROOF_SERVER_REQUESTS_PER_SECOND", envVal: "lots", errMsg: "TIMEPROOF_SERVER_REQUESTS_PER_SECOND"},
		{name: "SERVER_REQUESTS_PER_SECOND zero", envKey: "TIMEPROOF_SERVER_REQUESTS_PER_SECOND", envVal: "0", errMsg: "TIMEPROOF_SERVER_REQUESTS_PER_SECOND"},
		{name: "SERVER_BURST zero", envKey: "TIMEPROOF_SERVER_BURST", envVal: "0", errMsg: "TIMEPROOF_SERVER_BURST"},
		{name: "SERVER_PROVIDER_REQUESTS_PER_SECOND negative", envKey: "TIMEPROOF_SERVER_PROVIDER_REQUESTS_PER_SECOND", envVal: "-0.5", errMsg: "TIMEPROOF_SERVER_PROVIDER_REQUESTS_PER_SECOND"},
		{name: "SERVER_PROVIDER_BURST zero", envKey: "TIMEPROOF_SERVER_PROVIDER_BURST", envVal: "0", errMsg: "TIMEPROOF_SERVER_PROVIDER_BURST"},
		{name: "SERVER_WS_REQUESTS_PER_SECOND zero", envKey: "TIMEPROOF_SERVER_WS_REQUESTS_PER_SECOND", envVal: "0", errMsg: "TIMEPROOF_SERVER_WS_REQUESTS_PER_SECOND"},
		{name: "SERVER_WS_BURST text", envKey: "TIMEPROOF_SERVER_WS_BURST", envVal: "ten", errMsg: "TIMEPROOF_SERVER_WS_BURST"},

		// QTSP
		{name: "QTSP_REQUEST_TIMEOUT zero", envKey: "TIMEPROOF_QTSP_REQUEST_TIMEOUT", envVal: "0s", errMsg: "TIMEPROOF_QTSP_REQUEST_TIMEOUT"},
		{name: "QTSP_REQUESTS_PER_SECOND text", envKey: "TIMEPROOF_QTSP_REQUESTS_PER_SECOND", envVal: "fast", errMsg: "TIMEPROOF_QTSP_REQUESTS_PER_SECOND"},
		{name: "QTSP_REQUESTS_PER_SECOND negative", envKey: "TIMEPROOF_QTSP_REQUESTS_PER_SECOND", envVal: "-1", errMsg: "TIMEPROOF_QTSP_REQUESTS_PER_SECOND"},
		{name: "QTSP_BURST zero", envKey: "TIMEPROOF_QTSP_BURST", envVal: "0", errMsg: "TIMEPROOF_QTSP_BURST"},
		{name: "QTSP_MAX_CONCURRENCY zero", envKey: "TIMEPROOF_QTSP_MAX_CONCURRENCY", envVal: "0", errMsg: "TIMEPROOF_QTSP_MAX_CONCURRENCY"},
		{name: "QTSP_MAX_RETRIES zero", envKey: "TIMEPROOF_QTSP_MAX_RETRIES", envVal: "0", errMsg: "TIMEPROOF_QTSP_MAX_RETRIES"},
		{name: "QTSP_BACKOFF_MAX below base", envKey: "TIMEPROOF_QTSP_BACKOFF_MAX", envVal: "30s", errMsg: "TIMEPROOF_QTSP_BACKOFF_BASE"},

		// Health
		{name: "HEALTH_ENABLED not a bool", envKey: "TIMEPROOF_HEALTH_ENABLED", envVal: "yes", errMsg: "TIMEPROOF_HEALTH_ENABLED"},
		{name: "HEALTH_TIMEOUT above interval", envKey: "TIMEPROOF_HEALTH_TIMEOUT", envVal: "1m", errMsg: "TIMEPROOF_HEALTH_TIMEOUT"},
		{name: "HEALTH_FAILURE_THRESHOLD zero", envKey: "TIMEPROOF_HEALTH_FAILURE_THRESHOLD", envVal: "0", errMsg: "TIMEPROOF_HEALTH_FAILURE_THRESHOLD"},

		// Scheduler
		{name: "WINDOW_END_HOUR 24", envKey: "TIMEPROOF_SCHEDULER_WINDOW_END_HOUR", envVal: "24", errMsg: "TIMEPROOF_SCHEDULER_WINDOW"},
		{name: "WINDOW_START after end", envKey: "TIMEPROOF_SCHEDULER_WINDOW_START_HOUR", envVal: "6", errMsg: "TIMEPROOF_SCHEDULER_WINDOW"},
		{name: "COMPANY_CONCURRENCY zero", envKey: "TIMEPROOF_SCHEDULER_COMPANY_CONCURRENCY", envVal: "0", errMsg: "TIMEPROOF_SCHEDULER_COMPANY_CONCURRENCY"},

		// Export
		{name: "EXPORT_MAX_RANGE_DAYS zero", envKey: "TIMEPROOF_EXPORT_MAX_RANGE_DAYS", envVal: "0", errMsg: "TIMEPROOF_EXPORT_MAX_RANGE_DAYS"},

		// Development
		{name: "DEVELOPMENT not a bool", envKey: "TIMEPROOF_DEVELOPMENT", envVal: "sure", errMsg: "TIMEPROOF_DEVELOPMENT"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			// Always set JWT secret so failures are from the var under test.
			t.Setenv("TIMEPROOF_JWT_SECRET", testSecret)
			t.Setenv(tc.envKey, tc.envVal)

			cfg, err := Load()
			require.Error(t, err, "expected error for %s=%q", tc.envKey, tc.envVal)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() edge cases -- boundary values
// ---------------------------------------------------------------------------

func TestLoad_BoundaryValues(t *testing.T) {
	tests := []struct {
		name     string
		envs     map[string]string
		assertFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "port max boundary 65535",
			envs: map[string]string{"TIMEPROOF_DB_PORT": "65535"},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 65535, cfg.Database.Port)
			},
		},
		{
			name: "single hour window",
			envs: map[string]string{
				"TIMEPROOF_SCHEDULER_WINDOW_START_HOUR": "3",
				"TIMEPROOF_SCHEDULER_WINDOW_END_HOUR":   "3",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 3, cfg.Scheduler.WindowStartHour)
				assert.Equal(t, 3, cfg.Scheduler.WindowEndHour)
			},
		},
		{
			name: "health timeout equal to interval",
			envs: map[string]string{
				"TIMEPROOF_HEALTH_INTERVAL": "10s",
				"TIMEPROOF_HEALTH_TIMEOUT":  "10s",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Equal(t, 10*time.Second, cfg.Health.Timeout)
			},
		},
		{
			name: "zero rate disables limiting",
			envs: map[string]string{"TIMEPROOF_QTSP_REQUESTS_PER_SECOND": "0"},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Zero(t, cfg.QTSP.RequestsPerSecond)
			},
		},
		{
			name: "scheduler intervals may be zero",
			envs: map[string]string{
				"TIMEPROOF_SCHEDULER_RETRY_INTERVAL": "0s",
				"TIMEPROOF_SCHEDULER_CHECK_INTERVAL": "0s",
			},
			assertFn: func(t *testing.T, cfg *Config) {
				t.Helper()
				assert.Zero(t, cfg.Scheduler.RetryInterval)
				assert.Zero(t, cfg.Scheduler.CheckInterval)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("TIMEPROOF_JWT_SECRET", testSecret)
			for k, v := range tc.envs {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tc.assertFn(t, cfg)
		})
	}
}

// ---------------------------------------------------------------------------
// Load() happy paths
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	// Only the required JWT secret is set; everything else uses defaults.
	t.Setenv("TIMEPROOF_JWT_SECRET", "my-dev-secret-at-least-32-chars!!")

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Database defaults.
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "timeproof", cfg.Database.User)
	assert.Empty(t, cfg.Database.Password)
	assert.Equal(t, "timeproof_dev", cfg.Database.DBName)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 25, cfg.Database.MaxConns)

	// Redis defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	// Server defaults.
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 20.0, cfg.Server.RequestsPerSecond, 1e-9)
	assert.Equal(t, 40, cfg.Server.Burst)
	assert.InDelta(t, 0.5, cfg.Server.ProviderRequestsPerSecond, 1e-9)
	assert.Equal(t, 5, cfg.Server.ProviderBurst)
	assert.InDelta(t, 1.0, cfg.Server.WSRequestsPerSecond, 1e-9)
	assert.Equal(t, 10, cfg.Server.WSBurst)

	// Slack defaults.
	assert.Empty(t, cfg.Slack.BotToken)
	assert.Empty(t, cfg.Slack.AlertChannel)

	// QTSP defaults.
	assert.Equal(t, "EADTRUST", cfg.QTSP.Provider)
	assert.Equal(t, 30*time.Second, cfg.QTSP.RequestTimeout)
	assert.InDelta(t, 2.0, cfg.QTSP.RequestsPerSecond, 1e-9)
	assert.Equal(t, 4, cfg.QTSP.Burst)
	assert.Equal(t, 3, cfg.QTSP.MaxConcurrency)
	assert.Equal(t, 10*time.Minute, cfg.QTSP.ProcessingSLA)
	assert.Equal(t, 10, cfg.QTSP.MaxRetries)
	assert.Equal(t, time.Minute, cfg.QTSP.BackoffBase)
	assert.Equal(t, time.Hour, cfg.QTSP.BackoffMax)

	// Health defaults.
	assert.True(t, cfg.Health.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Health.Interval)
	assert.Equal(t, 5*time.Second, cfg.Health.Timeout)
	assert.Equal(t, 10, cfg.Health.FailureThreshold)

	// Scheduler defaults.
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Scheduler.DailyInterval)
	assert.Equal(t, 2, cfg.Scheduler.WindowStartHour)
	assert.Equal(t, 5, cfg.Scheduler.WindowEndHour)
	assert.Equal(t, 4, cfg.Scheduler.CompanyConcurrency)

	assert.Equal(t, "./data/artifacts", cfg.Storage.ArtifactDir)
	assert.Equal(t, 366, cfg.Export.MaxRangeDays)
	assert.False(t, cfg.Development)
}

func TestLoad_AllCustomValues(t *testing.T) {
	envs := map[string]string{
		// Database
		"TIMEPROOF_DB_HOST":      "db.prod.internal",
		"TIMEPROOF_DB_PORT":      "5433",
		"TIMEPROOF_DB_USER":      "prod_user",
		"TIMEPROOF_DB_PASSWORD":  "s3cret!",
		"TIMEPROOF_DB_NAME":      "timeproof_prod",
		"TIMEPROOF_DB_SSLMODE":   "require",
		"TIMEPROOF_DB_MAX_CONNS": "50",
		// Redis
		"TIMEPROOF_REDIS_ADDR":     "redis.prod:6380",
		"TIMEPROOF_REDIS_PASSWORD": "redis-pass",
		"TIMEPROOF_REDIS_DB":       "3",
		// JWT
		"TIMEPROOF_JWT_SECRET": "prod-jwt-secret-256-bits-long!!!",
		// Server
		"TIMEPROOF_SERVER_ADDR":          ":9090",
		"TIMEPROOF_SERVER_READ_TIMEOUT":  "5s",
		"TIMEPROOF_SERVER_WRITE_TIMEOUT": "15s",
		"TIMEPROOF_CORS_ORIGINS":         "https://app.example,https://admin.example",

		"TIMEPROOF_SERVER_REQUESTS_PER_SECOND":          "50",
		"TIMEPROOF_SERVER_BURST":                        "100",
		"TIMEPROOF_SERVER_PROVIDER_REQUESTS_PER_SECOND": "0.2",
		"TIMEPROOF_SERVER_PROVIDER_BURST":               "2",
		"TIMEPROOF_SERVER_WS_REQUESTS_PER_SECOND":       "3",
		"TIMEPROOF_SERVER_WS_BURST":                     "6",
		// Slack
		"TIMEPROOF_SLACK_BOT_TOKEN":     "xoxb-test",
		"TIMEPROOF_SLACK_ALERT_CHANNEL": "C0ALERTS",
		// QTSP
		"TIMEPROOF_QTSP_API_URL":             "https://qtsp.test/api",
		"TIMEPROOF_QTSP_TOKEN_URL":           "https://qtsp.test/token",
		"TIMEPROOF_QTSP_CLIENT_ID":           "client",
		"TIMEPROOF_QTSP_CLIENT_SECRET":       "secret",
		"TIMEPROOF_QTSP_PROVIDER":            "OTHERTSP",
		"TIMEPROOF_QTSP_REQUEST_TIMEOUT":     "20s",
		"TIMEPROOF_QTSP_REQUESTS_PER_SECOND": "0.5",
		"TIMEPROOF_QTSP_BURST":               "1",
		"TIMEPROOF_QTSP_MAX_CONCURRENCY":     "8",
		"TIMEPROOF_QTSP_PROCESSING_SLA":      "20m",
		"TIMEPROOF_QTSP_MAX_RETRIES":         "5",
		"TIMEPROOF_QTSP_BACKOFF_BASE":        "30s",
		"TIMEPROOF_QTSP_BACKOFF_MAX":         "10m",
		// Health
		"TIMEPROOF_HEALTH_ENABLED":           "false",
		"TIMEPROOF_HEALTH_INTERVAL":          "1m",
		"TIMEPROOF_HEALTH_TIMEOUT":           "3s",
		"TIMEPROOF_HEALTH_FAILURE_THRESHOLD": "5",
		// Scheduler
		"TIMEPROOF_SCHEDULER_ENABLED":             "false",
		"TIMEPROOF_SCHEDULER_DAILY_INTERVAL":      "30m",
		"TIMEPROOF_SCHEDULER_RETRY_INTERVAL":      "2m",
		"TIMEPROOF_SCHEDULER_CHECK_INTERVAL":      "1m",
		"TIMEPROOF_SCHEDULER_WINDOW_START_HOUR":   "1",
		"TIMEPROOF_SCHEDULER_WINDOW_END_HOUR":     "4",
		"TIMEPROOF_SCHEDULER_COMPANY_CONCURRENCY": "16",
		// Storage and export
		"TIMEPROOF_ARTIFACT_DIR":          "/var/lib/timeproof",
		"TIMEPROOF_EXPORT_MAX_RANGE_DAYS": "92",
		"TIMEPROOF_DEVELOPMENT":           "true",
	}

	for k, v := range envs {
		t.Setenv(k, v)
	}

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Database
	assert.Equal(t, "db.prod.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "prod_user", cfg.Database.User)
	assert.Equal(t, "s3cret!", cfg.Database.Password)
	assert.Equal(t, "timeproof_prod", cfg.Database.DBName)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.Equal(t, 50, cfg.Database.MaxConns)

	// Redis
	assert.Equal(t, "redis.prod:6380", cfg.Redis.Addr)
	assert.Equal(t, "redis-pass", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)

	// Server
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"https://app.example", "https://admin.example"}, cfg.Server.CORSOrigins)
	assert.InDelta(t, 50.0, cfg.Server.RequestsPerSecond, 1e-9)
	assert.Equal(t, 100, cfg.Server.Burst)
	assert.InDelta(t, 0.2, cfg.Server.ProviderRequestsPerSecond, 1e-9)
	assert.Equal(t, 2, cfg.Server.ProviderBurst)
	assert.InDelta(t, 3.0, cfg.Server.WSRequestsPerSecond, 1e-9)
	assert.Equal(t, 6, cfg.Server.WSBurst)

	// Slack
	assert.Equal(t, "xoxb-test", cfg.Slack.BotToken)
	assert.Equal(t, "C0ALERTS", cfg.Slack.AlertChannel)

	// QTSP
	assert.Equal(t, "https://qtsp.test/api", cfg.QTSP.APIURL)
	assert.Equal(t, "https://qtsp.test/token", cfg.QTSP.TokenURL)
	assert.Equal(t, "client", cfg.QTSP.ClientID)
	assert.Equal(t, "secret", cfg.QTSP.ClientSecret)
	assert.Equal(t, "OTHERTSP", cfg.QTSP.Provider)
	assert.Equal(t, 20*time.Second, cfg.QTSP.RequestTimeout)
	assert.InDelta(t, 0.5, cfg.QTSP.RequestsPerSecond, 1e-9)
	assert.Equal(t, 1, cfg.QTSP.Burst)
	assert.Equal(t, 8, cfg.QTSP.MaxConcurrency)
	assert.Equal(t, 20*time.Minute, cfg.QTSP.ProcessingSLA)
	assert.Equal(t, 5, cfg.QTSP.MaxRetries)
	assert.Equal(t, 30*time.Second, cfg.QTSP.BackoffBase)
	assert.Equal(t, 10*time.Minute, cfg.QTSP.BackoffMax)

	// Health
	assert.False(t, cfg.Health.Enabled)
	assert.Equal(t, time.Minute, cfg.Health.Interval)
	assert.Equal(t, 3*time.Second, cfg.Health.Timeout)
	assert.Equal(t, 5, cfg.Health.FailureThreshold)

	// Scheduler
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.DailyInterval)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.RetryInterval)
	assert.Equal(t, time.Minute, cfg.Scheduler.CheckInterval)
	assert.Equal(t, 1, cfg.Scheduler.WindowStartHour)
	assert.Equal(t, 4, cfg.Scheduler.WindowEndHour)
	assert.Equal(t, 16, cfg.Scheduler.CompanyConcurrency)

	assert.Equal(t, "/var/lib/timeproof", cfg.Storage.ArtifactDir)
	assert.Equal(t, 92, cfg.Export.MaxRangeDays)
	assert.True(t, cfg.Development)
}

// ---------------------------------------------------------------------------
// DSN() and URL() output format
// ---------------------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "default dev values",
			cfg: DatabaseConfig{
				Host: "localhost", Port: 5432, User: "timeproof",
				Password: "", DBName: "timeproof_dev", SSLMode: "disable",
			},
			want: "host=localhost port=5432 user=timeproof password= dbname=timeproof_dev sslmode=disable",
		},
		{
			name: "production values",
			cfg: DatabaseConfig{
				Host: "db.prod", Port: 5433, User: "admin",
				Password: "p@ss!", DBName: "timeproof_prod", SSLMode: "require",
			},
			want: "host=db.prod port=5433 user=admin password=p@ss! dbname=timeproof_prod sslmode=require",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, tc.cfg.DSN())
		})
	}
}

func TestDatabaseConfig_URL(t *testing.T) {
	t.Parallel()

	cfg := DatabaseConfig{
		Host: "db", Port: 5432, User: "tp",
		Password: "pw", DBName: "timeproof", SSLMode: "require",
	}
	assert.Equal(t, "pgx5://tp:pw@db:5432/timeproof?sslmode=require", cfg.URL())
}

// ---------------------------------------------------------------------------
// validate() direct tests
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	t.Parallel()

	// validBase returns a Config that passes validation.
	validBase := func() *Config {
		return &Config{
			Database: DatabaseConfig{Port: 5432, MaxConns: 25, SSLMode: "require"},
			JWT:      JWTConfig{Secret: testSecret},
			Server: ServerConfig{
				ReadTimeout:               10 * time.Second,
				WriteTimeout:              30 * time.Second,
				RequestsPerSecond:         20,
				Burst:                     40,
				ProviderRequestsPerSecond: 0.5,
				ProviderBurst:             5,
				WSRequestsPerSecond:       1,
				WSBurst:                   10,
			},
			QTSP: QTSPConfig{
				ClientID:          "client",
				ClientSecret:      "secret",
				RequestTimeout:    30 * time.Second,
				RequestsPerSecond: 2,
				Burst:             4,
				MaxConcurrency:    3,
				MaxRetries:        10,
				BackoffBase:       time.Minute,
				BackoffMax:        time.Hour,
			},
			Health: HealthConfig{
				Interval:         30 * time.Second,
				Timeout:          5 * time.Second,
				FailureThreshold: 10,
			},
			Scheduler: SchedulerConfig{
				WindowStartHour:    2,
				WindowEndHour:      5,
				CompanyConcurrency: 4,
			},
			Export: ExportConfig{MaxRangeDays: 366},
		}
	}

	t.Run("valid config passes", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, validBase().validate())
	})

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "empty JWT secret", mutate: func(c *Config) { c.JWT.Secret = "" }, errMsg: "TIMEPROOF_JWT_SECRET"},
		{name: "JWT secret too short", mutate: func(c *Config) { c.JWT.Secret = "only-31-characters-long-secret!" }, errMsg: "TIMEPROOF_JWT_SECRET"},
		{name: "port 0", mutate: func(c *Config) { c.Database.Port = 0 }, errMsg: "TIMEPROOF_DB_PORT"},
		{name: "MaxConns 0", mutate: func(c *Config) { c.Database.MaxConns = 0 }, errMsg: "TIMEPROOF_DB_MAX_CONNS"},
		{name: "ReadTimeout negative", mutate: func(c *Config) { c.Server.ReadTimeout = -time.Second }, errMsg: "TIMEPROOF_SERVER_READ_TIMEOUT"},
		{name: "provider burst 0", mutate: func(c *Config) { c.Server.ProviderBurst = 0 }, errMsg: "TIMEPROOF_SERVER_PROVIDER_BURST"},
		{name: "ws rate 0", mutate: func(c *Config) { c.Server.WSRequestsPerSecond = 0 }, errMsg: "TIMEPROOF_SERVER_WS_REQUESTS_PER_SECOND"},
		{name: "QTSP timeout 0", mutate: func(c *Config) { c.QTSP.RequestTimeout = 0 }, errMsg: "TIMEPROOF_QTSP_REQUEST_TIMEOUT"},
		{name: "backoff base 0", mutate: func(c *Config) { c.QTSP.BackoffBase = 0 }, errMsg: "TIMEPROOF_QTSP_BACKOFF_BASE"},
		{name: "health interval 0", mutate: func(c *Config) { c.Health.Interval = 0 }, errMsg: "TIMEPROOF_HEALTH_INTERVAL"},
		{name: "window start negative", mutate: func(c *Config) { c.Scheduler.WindowStartHour = -1 }, errMsg: "TIMEPROOF_SCHEDULER_WINDOW"},
		{name: "max range 0", mutate: func(c *Config) { c.Export.MaxRangeDays = 0 }, errMsg: "TIMEPROOF_EXPORT_MAX_RANGE_DAYS"},
	}
	for _, tc := range tests {
		t.Run(tc.name+" fails", func(t *testing.T) {
			t.Parallel()
			c := validBase()
			tc.mutate(c)
			assert.ErrorContains(t, c.validate(), tc.errMsg)
		})
	}

	t.Run("JWT secret exactly 32 chars passes", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.JWT.Secret = "exactly-32-characters-long-sec!!"
		assert.NoError(t, c.validate())
	})

	t.Run("missing QTSP credentials only warns", func(t *testing.T) {
		t.Parallel()
		c := validBase()
		c.QTSP.ClientID = ""
		assert.NoError(t, c.validate())
	})
}

// ---------------------------------------------------------------------------
// Test helper
// ---------------------------------------------------------------------------

func strPtr(s string) *string {
	return &s
}
