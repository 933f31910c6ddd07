package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Config holds everything loaded from the environment.
type Config struct {
	Port             int
	DBDSN            string
	RedisURL         string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	JWTSecret        string
	AllowOrigins     []string
	MigrateOnStart   bool
	MetricsEnabled   bool
	RateLimitPublic  RateLimitConfig
	RateLimitAuth    RateLimitConfig
	RateLimitLogin   RateLimitConfig
	WebAuthnRPID     string
	WebAuthnRPOrigin string
	WebAuthnRPName   string
	PasswordResetTTL time.Duration
	SMTP             SMTPConfig
	Storage          StorageConfig
	AlertWebhookURL  string
	TariffLocation   *time.Location
}

// RateLimitConfig is a token bucket definition.
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// SMTPConfig configures the password reset mailer. An empty Host selects the log sender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// StorageConfig selects where fine evidence images go.
type StorageConfig struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

// Load reads .env (when present) and the environment, applying defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	port, err := parseIntEnv("PORT", 8080)
	if err != nil || port <= 0 {
		return nil, errors.New("invalid PORT")
	}
	cfg.Port = port

	cfg.DBDSN = getEnv("DB_DSN", "")
	if cfg.DBDSN == "" {
		return nil, errors.New("DB_DSN is required")
	}

	cfg.RedisURL = getEnv("REDIS_URL", "")
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	cfg.JWTSecret = strings.TrimSpace(getEnv("JWT_SECRET", ""))
	if len(cfg.JWTSecret) < 32 {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	if cfg.JWTAccessTTL, err = parseDurationEnv("JWT_ACCESS_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.JWTRefreshTTL, err = parseDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.PasswordResetTTL, err = parseDurationEnv("PASSWORD_RESET_TTL", 30*time.Minute); err != nil {
		return nil, err
	}

	cfg.AllowOrigins = splitList(getEnv("ALLOW_ORIGINS", ""))
	cfg.MigrateOnStart = parseBoolEnv("MIGRATE_ON_START", false)
	cfg.MetricsEnabled = parseBoolEnv("METRICS_ENABLED", true)

	cfg.RateLimitPublic = RateLimitConfig{RequestsPerSecond: 10, Burst: 20}
	cfg.RateLimitAuth = RateLimitConfig{RequestsPerSecond: 10, Burst: 40}
	cfg.RateLimitLogin = RateLimitConfig{RequestsPerSecond: 1, Burst: 5}

	cfg.WebAuthnRPID = nonEmpty(getEnv("WEBAUTHN_RP_ID", ""), "localhost")
	cfg.WebAuthnRPOrigin = nonEmpty(getEnv("WEBAUTHN_RP_ORIGIN", ""), "http://localhost:5173")
	cfg.WebAuthnRPName = nonEmpty(getEnv("WEBAUTHN_RP_NAME", ""), "TPS Parking")

	smtpPort, err := parseIntEnv("SMTP_PORT", 587)
	if err != nil {
		return nil, errors.New("invalid SMTP_PORT")
	}
	cfg.SMTP = SMTPConfig{
		Host:     strings.TrimSpace(getEnv("SMTP_HOST", "")),
		Port:     smtpPort,
		Username: getEnv("SMTP_USERNAME", ""),
		Password: getEnv("SMTP_PASSWORD", ""),
		From:     nonEmpty(getEnv("SMTP_FROM", ""), "no-reply@tpsparking.local"),
	}

	cfg.Storage = StorageConfig{
		Provider:  strings.ToLower(nonEmpty(getEnv("STORAGE_PROVIDER", ""), "noop")),
		Endpoint:  strings.TrimSpace(getEnv("S3_ENDPOINT", "")),
		Region:    nonEmpty(getEnv("S3_REGION", ""), "auto"),
		Bucket:    strings.TrimSpace(getEnv("S3_BUCKET", "")),
		AccessKey: getEnv("S3_ACCESS_KEY", ""),
		SecretKey: getEnv("S3_SECRET_KEY", ""),
		PublicURL: strings.TrimSpace(getEnv("S3_PUBLIC_URL", "")),
	}
	switch cfg.Storage.Provider {
	case "noop":
	case "s3", "r2":
		if cfg.Storage.Endpoint == "" || cfg.Storage.Bucket == "" || cfg.Storage.AccessKey == "" || cfg.Storage.SecretKey == "" {
			return nil, errors.New("S3_ENDPOINT, S3_BUCKET, S3_ACCESS_KEY and S3_SECRET_KEY are required for STORAGE_PROVIDER " + cfg.Storage.Provider)
		}
	default:
		return nil, errors.New("unknown STORAGE_PROVIDER " + cfg.Storage.Provider)
	}

	cfg.AlertWebhookURL = strings.TrimSpace(getEnv("ALERT_SLACK_WEBHOOK_URL", ""))

	// Day and night tariff bands are evaluated in this zone.
	loc, err := time.LoadLocation(nonEmpty(getEnv("TARIFF_TIMEZONE", ""), "Asia/Jerusalem"))
	if err != nil {
		return nil, errors.New("invalid TARIFF_TIMEZONE")
	}
	cfg.TariffLocation = loc

	return cfg, nil
}

func getEnv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

func nonEmpty(val, def string) string {
	val = strings.TrimSpace(val)
	if val == "" {
		return def
	}
	return val
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIntEnv(key string, def int) (int, error) {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def, nil
	}
	return strconv.Atoi(val)
}

func parseBoolEnv(key string, def bool) bool {
	val := strings.TrimSpace(getEnv(key, ""))
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	val := getEnv(key, "")
	if val == "" {
		return def, nil
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return 0, errors.New("invalid " + key)
	}
	return dur, nil
}
