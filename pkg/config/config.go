package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database       DatabaseConfig
	Redis          RedisConfig
	JWT            JWTConfig
	CORS           CORSConfig
	Log            LogConfig
	Upstream       UpstreamConfig
	Sessions       SessionConfig
	Cache          CacheConfig
	DuplicateCheck DuplicateCheckConfig
	BulkSave       BulkSaveConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// JWTConfig describes how identity provider tokens are verified.
type JWTConfig struct {
	Secret       string
	PublicKeyPEM string
	Issuer       string
	Audience     []string
	Leeway       time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// UpstreamConfig points at the JSON:API back-ends.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
	Compact bool
	// ServiceURLs overrides BaseURL per service, parsed from "agent-api=http://host/api" pairs.
	ServiceURLs map[string]string
}

// SessionConfig governs edit sessions.
type SessionConfig struct {
	TTL            time.Duration
	SubmitLockTTL  time.Duration
	ConfirmDisable bool
}

// CacheConfig governs read caching of joined resources and look-ups.
type CacheConfig struct {
	Enabled   bool
	TTL       time.Duration
	LookupTTL time.Duration
}

// DuplicateCheckConfig toggles the material sample name probe.
type DuplicateCheckConfig struct {
	Enabled bool
}

// BulkSaveConfig tunes the background bulk save queue.
type BulkSaveConfig struct {
	Workers              int
	BufferSize           int
	MaxRetries           int
	RetryDelay           time.Duration
	MaxRetryDelay        time.Duration
	RecoverLimit         int
	ServiceAuthorization string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:      v.GetString("REDIS_HOST"),
		Port:      v.GetInt("REDIS_PORT"),
		Password:  v.GetString("REDIS_PASSWORD"),
		DB:        v.GetInt("REDIS_DB"),
		KeyPrefix: v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{
		Secret:       v.GetString("JWT_SECRET"),
		PublicKeyPEM: strings.ReplaceAll(v.GetString("JWT_PUBLIC_KEY"), `\n`, "\n"),
		Issuer:       v.GetString("JWT_ISSUER"),
		Audience:     splitAndTrim(v.GetString("JWT_AUDIENCE")),
		Leeway:       parseDuration(v.GetString("JWT_LEEWAY"), 30*time.Second),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Upstream = UpstreamConfig{
		BaseURL:     v.GetString("UPSTREAM_BASE_URL"),
		Timeout:     parseDuration(v.GetString("UPSTREAM_TIMEOUT"), 30*time.Second),
		Compact:     v.GetBool("UPSTREAM_CRNK_COMPACT"),
		ServiceURLs: parsePairs(v.GetString("UPSTREAM_SERVICE_URLS")),
	}

	cfg.Sessions = SessionConfig{
		TTL:            parseDuration(v.GetString("SESSION_TTL"), 12*time.Hour),
		SubmitLockTTL:  parseDuration(v.GetString("SESSION_SUBMIT_LOCK_TTL"), 2*time.Minute),
		ConfirmDisable: v.GetBool("SESSION_CONFIRM_DISABLE"),
	}

	cfg.Cache = CacheConfig{
		Enabled:   v.GetBool("ENABLE_CACHE"),
		TTL:       parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
		LookupTTL: parseDuration(v.GetString("CACHE_LOOKUP_TTL"), 10*time.Minute),
	}

	cfg.DuplicateCheck = DuplicateCheckConfig{Enabled: v.GetBool("ENABLE_DUPLICATE_NAME_CHECK")}

	cfg.BulkSave = BulkSaveConfig{
		Workers:              v.GetInt("BULK_SAVE_WORKERS"),
		BufferSize:           v.GetInt("BULK_SAVE_BUFFER"),
		MaxRetries:           v.GetInt("BULK_SAVE_RETRIES"),
		RetryDelay:           parseDuration(v.GetString("BULK_SAVE_RETRY_DELAY"), 2*time.Second),
		MaxRetryDelay:        parseDuration(v.GetString("BULK_SAVE_MAX_RETRY_DELAY"), time.Minute),
		RecoverLimit:         v.GetInt("BULK_SAVE_RECOVER_LIMIT"),
		ServiceAuthorization: v.GetString("BULK_SAVE_SERVICE_AUTHORIZATION"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "collections_gateway")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_KEY_PREFIX", "collections")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_AUDIENCE", "")
	v.SetDefault("JWT_LEEWAY", "30s")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("UPSTREAM_BASE_URL", "http://localhost:8081/api")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("UPSTREAM_CRNK_COMPACT", true)
	v.SetDefault("UPSTREAM_SERVICE_URLS", "")

	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("SESSION_SUBMIT_LOCK_TTL", "2m")
	v.SetDefault("SESSION_CONFIRM_DISABLE", true)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("CACHE_LOOKUP_TTL", "10m")

	v.SetDefault("ENABLE_DUPLICATE_NAME_CHECK", true)

	v.SetDefault("BULK_SAVE_WORKERS", 1)
	v.SetDefault("BULK_SAVE_BUFFER", 64)
	v.SetDefault("BULK_SAVE_RETRIES", 3)
	v.SetDefault("BULK_SAVE_RETRY_DELAY", "2s")
	v.SetDefault("BULK_SAVE_MAX_RETRY_DELAY", "1m")
	v.SetDefault("BULK_SAVE_RECOVER_LIMIT", 50)
	v.SetDefault("BULK_SAVE_SERVICE_AUTHORIZATION", "")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}

// parsePairs reads "key=value" items from a comma separated list.
func parsePairs(raw string) map[string]string {
	items := splitAndTrim(raw)
	if len(items) == 0 {
		return nil
	}
	result := make(map[string]string, len(items))
	for _, item := range items {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}
