package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Session  SessionConfig
	Notifier NotifierConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	CookieDomain   string
}

// SecurityConfig holds the login-security policy surface.
// CaptchaThreshold must be below LockoutThreshold: the escalation ladder is
// captcha first, lockout second.
type SecurityConfig struct {
	Disabled bool // DISABLE_LOGIN_SECURITY escape hatch for test environments

	LockoutThreshold int           // failed attempts per identifier before lockout
	IPBlockThreshold int           // failed attempts per IP before block (higher: NAT)
	CaptchaThreshold int           // failed attempts before captcha is demanded
	AttemptWindow    time.Duration // rolling window for all counts

	DelayBase time.Duration // progressive delay base
	DelayMax  time.Duration // hard cap on the synchronous delay

	SuspicionVelocityPerMinute int  // attempt velocity above which a pattern is suspicious
	SuspicionRiskThreshold     int  // risk score at or above which the report flags suspicious
	StrictFingerprint          bool // if true, fingerprint drift fails validation instead of logging

	CaptchaFailClosed bool // provider outage policy; default fail open
	CaptchaVerifyURL  string
	CaptchaSecret     string

	RequestsPerMinute int           // blunt per-IP pre-filter, independent of lockout thresholds
	CleanupInterval   time.Duration // background sweep cadence
}

type SessionConfig struct {
	DefaultMaxAge    time.Duration // session lifetime without remember-me
	RememberMeMaxAge time.Duration // remember-me token lifetime, 30 days
	FreshnessMaxAge  time.Duration // default "fresh session" bar for sensitive operations
	TrackActivity    bool          // update last_activity/expires_at on every validated request
	TOTPIssuer       string
}

type NotifierConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
	AlertsTo    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatehouse"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			QueryTimeout:      getEnvAsDuration("DB_QUERY_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseList(getEnv("ALLOWED_ORIGINS", "")),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			CookieDomain:   getEnv("COOKIE_DOMAIN", ""),
		},
		Security: SecurityConfig{
			Disabled:                   getEnvAsBool("DISABLE_LOGIN_SECURITY", false),
			LockoutThreshold:           getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			IPBlockThreshold:           getEnvAsInt("IP_BLOCK_THRESHOLD", 20),
			CaptchaThreshold:           getEnvAsInt("CAPTCHA_THRESHOLD", 3),
			AttemptWindow:              getEnvAsDuration("ATTEMPT_WINDOW", 1*time.Hour),
			DelayBase:                  getEnvAsDuration("PROGRESSIVE_DELAY_BASE", 500*time.Millisecond),
			DelayMax:                   getEnvAsDuration("PROGRESSIVE_DELAY_MAX", 8*time.Second),
			SuspicionVelocityPerMinute: getEnvAsInt("SUSPICION_VELOCITY_PER_MINUTE", 10),
			SuspicionRiskThreshold:     getEnvAsInt("SUSPICION_RISK_THRESHOLD", 50),
			StrictFingerprint:          getEnvAsBool("STRICT_FINGERPRINT", false),
			CaptchaFailClosed:          getEnvAsBool("CAPTCHA_FAIL_CLOSED", false),
			CaptchaVerifyURL:           getEnv("CAPTCHA_VERIFY_URL", ""),
			CaptchaSecret:              getEnv("CAPTCHA_SECRET", ""),
			RequestsPerMinute:          getEnvAsInt("AUTH_REQUESTS_PER_MINUTE", 30),
			CleanupInterval:            getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Session: SessionConfig{
			DefaultMaxAge:    getEnvAsDuration("SESSION_MAX_AGE", 24*time.Hour),
			RememberMeMaxAge: getEnvAsDuration("REMEMBER_ME_MAX_AGE", 30*24*time.Hour),
			FreshnessMaxAge:  getEnvAsDuration("SESSION_FRESHNESS_MAX_AGE", 15*time.Minute),
			TrackActivity:    getEnvAsBool("SESSION_TRACK_ACTIVITY", true),
			TOTPIssuer:       getEnv("TOTP_ISSUER", "gatehouse"),
		},
		Notifier: NotifierConfig{
			Enabled:     getEnvAsBool("SECURITY_ALERTS_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("ALERT_FROM_ADDRESS", ""),
			AlertsTo:    getEnv("ALERT_TO_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.Security.Validate(); err != nil {
		return nil, err
	}

	if cfg.Notifier.Enabled && (cfg.Notifier.FromAddress == "" || cfg.Notifier.AlertsTo == "") {
		return nil, fmt.Errorf("ALERT_FROM_ADDRESS and ALERT_TO_ADDRESS are required when SECURITY_ALERTS_ENABLED")
	}

	return cfg, nil
}

// Validate rejects invalid policy combinations at configuration time
func (c *SecurityConfig) Validate() error {
	if c.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", c.LockoutThreshold)
	}
	if c.IPBlockThreshold < 1 {
		return fmt.Errorf("IP_BLOCK_THRESHOLD must be at least 1 (got %d)", c.IPBlockThreshold)
	}
	if c.CaptchaThreshold < 1 {
		return fmt.Errorf("CAPTCHA_THRESHOLD must be at least 1 (got %d)", c.CaptchaThreshold)
	}
	// The escalation ladder requires captcha to trip before lockout
	if c.LockoutThreshold < c.CaptchaThreshold {
		return fmt.Errorf("LOCKOUT_THRESHOLD (%d) must not be below CAPTCHA_THRESHOLD (%d)",
			c.LockoutThreshold, c.CaptchaThreshold)
	}
	if c.AttemptWindow <= 0 {
		return fmt.Errorf("ATTEMPT_WINDOW must be positive")
	}
	if c.DelayBase < 0 || c.DelayMax < 0 {
		return fmt.Errorf("progressive delay durations must not be negative")
	}
	if c.DelayMax < c.DelayBase {
		return fmt.Errorf("PROGRESSIVE_DELAY_MAX (%s) must not be below PROGRESSIVE_DELAY_BASE (%s)",
			c.DelayMax, c.DelayBase)
	}
	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
