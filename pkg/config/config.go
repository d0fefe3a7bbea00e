package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mustardtree/portal/pkg/objectstore"
	"github.com/mustardtree/portal/pkg/observability"
	"github.com/mustardtree/portal/pkg/storage"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	AuthModeLocal     = "local"
	AuthModeZeroTrust = "zerotrust"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Key-value storage for records
	Storage storage.Config

	// Object storage for document bytes
	Objects objectstore.Config

	Auth AuthConfig

	Content ContentConfig

	Documents DocumentsConfig

	// Observability configuration
	Observability ObservabilityConfig

	Webhooks WebhooksConfig

	Maintenance MaintenanceConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	Environment string
	CORSOrigins []string

	// Trust CF-Connecting-IP / X-Forwarded-For for client addresses
	TrustProxy bool
}

// IsProduction reports whether the server runs in production mode
func (s ServerConfig) IsProduction() bool {
	return s.Environment == EnvProduction
}

// RuleSetConfig lists the emails, domains and groups granted a role
type RuleSetConfig struct {
	Emails  []string
	Domains []string
	Groups  []string
}

// AuthConfig holds authentication and authorization settings
type AuthConfig struct {
	Mode string // "local" or "zerotrust"

	// Local sessions
	SessionTTL          time.Duration
	SessionCookie       string
	LoginMaxAttempts    int
	LoginWindow         time.Duration
	LimiterBackend      string // "memory" or "redis"
	LimiterRedisURL     string
	PasswordMinLength   int
	BootstrapUsername   string
	BootstrapEmail      string
	BootstrapPassword   string // bcrypt hash
	DevBootstrapEnabled bool

	// Zero-Trust (Cloudflare Access)
	AccessDomain   string
	AccessAudience string
	AccessIssuer   string
	AccessCertsURL string
	AccessCookie   string
	KeyCacheTTL    time.Duration
	ResolveTimeout time.Duration

	// Identity returned without a token in development
	DevIdentityEmail  string
	DevIdentityGroups []string

	// Role policy
	PolicyFile string
	Admin      RuleSetConfig
	Staff      RuleSetConfig
	Customer   RuleSetConfig
}

// ContentConfig holds blog settings
type ContentConfig struct {
	AuthorDeletePolicy string // "restrict", "orphan", "cascade"
}

// DocumentsConfig holds document portal settings
type DocumentsConfig struct {
	MaxUploadBytes     int64
	AccessLogRetention int
	DemoCustomers      []string
	ListTimeout        time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// MaintenanceConfig holds cron schedules for background cleanup
type MaintenanceConfig struct {
	Enabled        bool
	SessionCleanup string
	LimiterCleanup string
	AccessLogPrune string
	WebhookRetry   string
}

// WebhooksConfig holds outbound event delivery settings
type WebhooksConfig struct {
	Enabled     bool
	Timeout     time.Duration
	PerMinute   int // per webhook
	MaxAttempts int
	MaxLogs     int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Objects:       loadObjectsConfig(),
		Auth:          loadAuthConfig(),
		Content:       loadContentConfig(),
		Documents:     loadDocumentsConfig(),
		Observability: loadObservabilityConfig(),
		Webhooks:      loadWebhooksConfig(),
		Maintenance:   loadMaintenanceConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("PORTAL_HOST", "0.0.0.0"),
		Port:            getEnv("PORTAL_PORT", "8080"),
		ReadTimeout:     getEnvDuration("PORTAL_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PORTAL_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("PORTAL_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("PORTAL_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("PORTAL_HEALTH_PORT", "9090"),
		Environment:     strings.ToLower(getEnv("PORTAL_ENV", EnvDevelopment)),
		CORSOrigins:     getEnvList("PORTAL_CORS_ORIGINS", nil),
		TrustProxy:      getEnvBool("PORTAL_TRUST_PROXY", false),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("PORTAL_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	cfg.FilesystemRoot = getEnv("PORTAL_FILESYSTEM_ROOT", cfg.FilesystemRoot)

	// Redis config
	cfg.RedisURL = getEnv("PORTAL_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("PORTAL_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("PORTAL_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("PORTAL_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("PORTAL_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
	cfg.RedisKeyPrefix = getEnv("PORTAL_REDIS_KEY_PREFIX", cfg.RedisKeyPrefix)

	// SQL config
	cfg.PostgresURL = getEnv("PORTAL_POSTGRES_URL", cfg.PostgresURL)
	cfg.SQLitePath = getEnv("PORTAL_SQLITE_PATH", cfg.SQLitePath)
	if maxConns := getEnvInt("PORTAL_SQL_MAX_CONNS", 0); maxConns > 0 {
		cfg.SQLMaxConns = maxConns
	}
	if timeout := getEnvDuration("PORTAL_SQL_TIMEOUT", 0); timeout > 0 {
		cfg.SQLTimeout = timeout
	}

	// Cache config
	cfg.CacheEnabled = getEnvBool("PORTAL_CACHE_ENABLED", cfg.CacheEnabled)
	if size := getEnvInt("PORTAL_L1_CACHE_SIZE", 0); size > 0 {
		cfg.CacheSize = size
	}
	if ttl := getEnvDuration("PORTAL_L1_CACHE_TTL", 0); ttl > 0 {
		cfg.CacheTTL = ttl
	}

	cfg.CorruptPolicy = storage.CorruptPolicy(strings.ToLower(getEnv("PORTAL_STORAGE_CORRUPT_POLICY", string(cfg.CorruptPolicy))))
	return cfg
}

func loadObjectsConfig() objectstore.Config {
	cfg := objectstore.DefaultConfig()

	cfg.Type = getEnv("PORTAL_OBJECTS_TYPE", cfg.Type)
	cfg.FilesystemRoot = getEnv("PORTAL_OBJECTS_ROOT", cfg.FilesystemRoot)
	cfg.PublicBaseURL = getEnv("PORTAL_OBJECTS_BASE_URL", cfg.PublicBaseURL)
	cfg.SigningKey = getEnv("PORTAL_OBJECTS_SIGNING_KEY", cfg.SigningKey)

	// S3 / R2 config
	cfg.S3Endpoint = getEnv("PORTAL_S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3AccountID = getEnv("PORTAL_R2_ACCOUNT_ID", cfg.S3AccountID)
	cfg.S3Region = getEnv("PORTAL_S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("PORTAL_S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("PORTAL_S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("PORTAL_S3_SECRET_KEY", cfg.S3SecretKey)
	cfg.S3UsePathStyle = getEnvBool("PORTAL_S3_USE_PATH_STYLE", cfg.S3UsePathStyle)
	cfg.URLExpiry = getEnvDuration("PORTAL_DOWNLOAD_URL_TTL", cfg.URLExpiry)

	return cfg
}

func loadAuthConfig() AuthConfig {
	cfg := AuthConfig{
		Mode: strings.ToLower(getEnv("PORTAL_AUTH_MODE", AuthModeLocal)),

		SessionTTL:          getEnvDuration("PORTAL_SESSION_TTL", 24*time.Hour),
		SessionCookie:       getEnv("PORTAL_SESSION_COOKIE", "portal_session"),
		LoginMaxAttempts:    getEnvInt("PORTAL_LOGIN_MAX_ATTEMPTS", 5),
		LoginWindow:         getEnvDuration("PORTAL_LOGIN_WINDOW", 15*time.Minute),
		LimiterBackend:      strings.ToLower(getEnv("PORTAL_LIMITER_BACKEND", "memory")),
		LimiterRedisURL:     getEnv("PORTAL_LIMITER_REDIS_URL", getEnv("PORTAL_REDIS_URL", "")),
		PasswordMinLength:   getEnvInt("PORTAL_PASSWORD_MIN_LENGTH", 12),
		BootstrapUsername:   getEnv("PORTAL_BOOTSTRAP_USERNAME", "admin"),
		BootstrapEmail:      getEnv("PORTAL_BOOTSTRAP_EMAIL", "admin@mustardtree.com"),
		BootstrapPassword:   getEnv("PORTAL_BOOTSTRAP_PASSWORD_HASH", ""),
		DevBootstrapEnabled: getEnvBool("PORTAL_DEV_BOOTSTRAP", true),

		AccessDomain:   getEnv("PORTAL_ACCESS_DOMAIN", ""),
		AccessAudience: getEnv("PORTAL_ACCESS_AUDIENCE", ""),
		AccessIssuer:   getEnv("PORTAL_ACCESS_ISSUER", ""),
		AccessCertsURL: getEnv("PORTAL_ACCESS_CERTS_URL", ""),
		AccessCookie:   getEnv("PORTAL_ACCESS_COOKIE", "CF_Authorization"),
		KeyCacheTTL:    getEnvDuration("PORTAL_ACCESS_KEY_TTL", time.Hour),
		ResolveTimeout: getEnvDuration("PORTAL_RESOLVE_TIMEOUT", 5*time.Second),

		DevIdentityEmail:  getEnv("PORTAL_DEV_IDENTITY_EMAIL", ""),
		DevIdentityGroups: getEnvList("PORTAL_DEV_IDENTITY_GROUPS", nil),

		PolicyFile: getEnv("PORTAL_POLICY_FILE", ""),
		Admin:      loadRuleSet("ADMIN"),
		Staff:      loadRuleSet("STAFF"),
		Customer:   loadRuleSet("CUSTOMER"),
	}
	return cfg
}

func loadRuleSet(role string) RuleSetConfig {
	return RuleSetConfig{
		Emails:  getEnvList("PORTAL_"+role+"_EMAILS", nil),
		Domains: getEnvList("PORTAL_"+role+"_DOMAINS", nil),
		Groups:  getEnvList("PORTAL_"+role+"_GROUPS", nil),
	}
}

func loadContentConfig() ContentConfig {
	return ContentConfig{
		AuthorDeletePolicy: strings.ToLower(getEnv("PORTAL_AUTHOR_DELETE_POLICY", "restrict")),
	}
}

func loadDocumentsConfig() DocumentsConfig {
	return DocumentsConfig{
		MaxUploadBytes:     getEnvInt64("PORTAL_MAX_UPLOAD_BYTES", 100*1024*1024),
		AccessLogRetention: getEnvInt("PORTAL_ACCESS_LOG_RETENTION", 10000),
		DemoCustomers:      getEnvList("PORTAL_DEMO_CUSTOMERS", []string{"customer-1"}),
		ListTimeout:        getEnvDuration("PORTAL_DOCUMENT_LIST_TIMEOUT", 5*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("PORTAL_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("PORTAL_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("PORTAL_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("PORTAL_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("PORTAL_OTEL_SERVICE_NAME", "mustardtree-portal"),
		OTelServiceVersion: getEnv("PORTAL_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("PORTAL_OTEL_INSECURE", true),
	}
}

func loadMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:        getEnvBool("PORTAL_MAINTENANCE_ENABLED", true),
		SessionCleanup: getEnv("PORTAL_SESSION_CLEANUP_SCHEDULE", "@every 10m"),
		LimiterCleanup: getEnv("PORTAL_LIMITER_CLEANUP_SCHEDULE", "@every 5m"),
		AccessLogPrune: getEnv("PORTAL_ACCESS_LOG_PRUNE_SCHEDULE", "@daily"),
		WebhookRetry:   getEnv("PORTAL_WEBHOOK_RETRY_SCHEDULE", "@every 30s"),
	}
}

func loadWebhooksConfig() WebhooksConfig {
	return WebhooksConfig{
		Enabled:     getEnvBool("PORTAL_WEBHOOKS_ENABLED", true),
		Timeout:     getEnvDuration("PORTAL_WEBHOOK_TIMEOUT", 10*time.Second),
		PerMinute:   getEnvInt("PORTAL_WEBHOOK_RATE_PER_MINUTE", 100),
		MaxAttempts: getEnvInt("PORTAL_WEBHOOK_MAX_ATTEMPTS", 5),
		MaxLogs:     getEnvInt("PORTAL_WEBHOOK_MAX_LOGS", 1000),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	switch c.Server.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid environment: %s (must be development or production)", c.Server.Environment)
	}

	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Objects.Validate(); err != nil {
		return err
	}
	if c.Server.IsProduction() && c.Objects.Type == "memory" {
		return fmt.Errorf("memory object storage is not allowed in production")
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	switch c.Content.AuthorDeletePolicy {
	case "restrict", "orphan", "cascade":
	default:
		return fmt.Errorf("invalid author delete policy: %s (must be restrict, orphan, or cascade)", c.Content.AuthorDeletePolicy)
	}

	if c.Documents.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}
	if c.Documents.AccessLogRetention <= 0 {
		return fmt.Errorf("access log retention must be positive")
	}

	if c.Webhooks.Enabled {
		if c.Webhooks.Timeout <= 0 || c.Webhooks.PerMinute <= 0 || c.Webhooks.MaxAttempts <= 0 {
			return fmt.Errorf("webhook timeout, rate and attempts must be positive")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func (c *Config) validateAuth() error {
	a := c.Auth
	switch a.Mode {
	case AuthModeLocal:
		if c.Server.IsProduction() && a.BootstrapPassword == "" {
			return fmt.Errorf("PORTAL_BOOTSTRAP_PASSWORD_HASH is required for local auth in production")
		}
		if a.SessionTTL <= 0 {
			return fmt.Errorf("session TTL must be positive")
		}
	case AuthModeZeroTrust:
		if a.AccessDomain == "" {
			return fmt.Errorf("access domain is required for zerotrust auth")
		}
		if a.AccessAudience == "" {
			return fmt.Errorf("access audience is required for zerotrust auth")
		}
	default:
		return fmt.Errorf("invalid auth mode: %s (must be local or zerotrust)", a.Mode)
	}

	switch a.LimiterBackend {
	case "memory":
	case "redis":
		if a.LimiterRedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limiter")
		}
	default:
		return fmt.Errorf("invalid limiter backend: %s (must be memory or redis)", a.LimiterBackend)
	}

	if a.LoginMaxAttempts <= 0 || a.LoginWindow <= 0 {
		return fmt.Errorf("login rate limit must allow at least one attempt per positive window")
	}
	if a.PasswordMinLength < 8 {
		return fmt.Errorf("password minimum length must be at least 8")
	}
	if a.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve timeout must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping empty items
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
