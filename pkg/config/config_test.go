package config

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mustardtree/portal/pkg/storage"
)

// TestGetEnvHelpers tests the typed environment helpers
func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "custom")
	t.Setenv("TEST_BOOL_TRUE", "TRUE")
	t.Setenv("TEST_BOOL_ONE", "1")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "forty")
	t.Setenv("TEST_INT64", "9223372036854775807")
	t.Setenv("TEST_DURATION", "30s")
	t.Setenv("TEST_DURATION_BAD", "soon")

	if got := getEnv("TEST_STR", "default"); got != "custom" {
		t.Errorf("getEnv() = %v, want custom", got)
	}
	if got := getEnv("TEST_STR_NOT_SET", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
	if !getEnvBool("TEST_BOOL_TRUE", false) || !getEnvBool("TEST_BOOL_ONE", false) {
		t.Error("getEnvBool() should accept TRUE and 1")
	}
	if !getEnvBool("TEST_BOOL_NOT_SET", true) {
		t.Error("getEnvBool() should fall back to the default")
	}
	if got := getEnvInt("TEST_INT", 10); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_BAD", 10); got != 10 {
		t.Errorf("getEnvInt() = %v, want 10 for invalid input", got)
	}
	if got := getEnvInt64("TEST_INT64", 10); got != 9223372036854775807 {
		t.Errorf("getEnvInt64() = %v", got)
	}
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want 30s", got)
	}
	if got := getEnvDuration("TEST_DURATION_BAD", time.Second); got != time.Second {
		t.Errorf("getEnvDuration() = %v, want 1s for invalid input", got)
	}
}

// TestGetEnvList tests comma-separated list parsing
func TestGetEnvList(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      []string
		want     []string
	}{
		{name: "unset uses default", envValue: "", def: []string{"a"}, want: []string{"a"}},
		{name: "single", envValue: "ops@mustardtree.com", want: []string{"ops@mustardtree.com"}},
		{name: "trims and drops empties", envValue: " a , ,b,", want: []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_LIST", tt.envValue)
			got := getEnvList("TEST_LIST", tt.def)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("getEnvList() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLoadAuthConfig tests defaults and overrides of the auth section
func TestLoadAuthConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := loadAuthConfig()
		if cfg.Mode != AuthModeLocal {
			t.Errorf("Mode = %v, want local", cfg.Mode)
		}
		if cfg.LoginMaxAttempts != 5 || cfg.LoginWindow != 15*time.Minute {
			t.Errorf("limiter = %d/%v, want 5/15m", cfg.LoginMaxAttempts, cfg.LoginWindow)
		}
		if cfg.SessionTTL != 24*time.Hour {
			t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
		}
		if cfg.KeyCacheTTL != time.Hour || cfg.ResolveTimeout != 5*time.Second {
			t.Errorf("key ttl/resolve timeout = %v/%v", cfg.KeyCacheTTL, cfg.ResolveTimeout)
		}
		if cfg.AccessCookie != "CF_Authorization" {
			t.Errorf("AccessCookie = %v", cfg.AccessCookie)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("PORTAL_AUTH_MODE", "ZeroTrust")
		t.Setenv("PORTAL_ACCESS_DOMAIN", "mustardtree.cloudflareaccess.com")
		t.Setenv("PORTAL_ADMIN_EMAILS", "ceo@mustardtree.com, cto@mustardtree.com")
		t.Setenv("PORTAL_STAFF_DOMAINS", "mustardtree.com")
		t.Setenv("PORTAL_CUSTOMER_GROUPS", "customers")

		cfg := loadAuthConfig()
		if cfg.Mode != AuthModeZeroTrust {
			t.Errorf("Mode = %v, want zerotrust", cfg.Mode)
		}
		if !reflect.DeepEqual(cfg.Admin.Emails, []string{"ceo@mustardtree.com", "cto@mustardtree.com"}) {
			t.Errorf("Admin.Emails = %v", cfg.Admin.Emails)
		}
		if !reflect.DeepEqual(cfg.Staff.Domains, []string{"mustardtree.com"}) {
			t.Errorf("Staff.Domains = %v", cfg.Staff.Domains)
		}
		if !reflect.DeepEqual(cfg.Customer.Groups, []string{"customers"}) {
			t.Errorf("Customer.Groups = %v", cfg.Customer.Groups)
		}
	})
}

// TestLoadStorageConfig tests the key-value and object storage sections
func TestLoadStorageConfig(t *testing.T) {
	t.Setenv("PORTAL_STORAGE_TYPE", "redis")
	t.Setenv("PORTAL_REDIS_URL", "redis://cache:6379")
	t.Setenv("PORTAL_REDIS_DB", "2")
	t.Setenv("PORTAL_STORAGE_CORRUPT_POLICY", "RESEED")
	t.Setenv("PORTAL_OBJECTS_TYPE", "s3")
	t.Setenv("PORTAL_R2_ACCOUNT_ID", "acct")
	t.Setenv("PORTAL_S3_USE_PATH_STYLE", "true")

	kv := loadStorageConfig()
	if kv.Type != "redis" || kv.RedisURL != "redis://cache:6379" || kv.RedisDB != 2 {
		t.Errorf("storage = %+v", kv)
	}
	if kv.CorruptPolicy != storage.CorruptReseed {
		t.Errorf("CorruptPolicy = %v, want reseed", kv.CorruptPolicy)
	}

	objects := loadObjectsConfig()
	if objects.Type != "s3" || !objects.S3UsePathStyle {
		t.Errorf("objects = %+v", objects)
	}
	if objects.Endpoint() != "https://acct.r2.cloudflarestorage.com" {
		t.Errorf("Endpoint() = %v", objects.Endpoint())
	}
	if objects.S3Bucket != "mustardtree-documents" {
		t.Errorf("S3Bucket = %v", objects.S3Bucket)
	}
}

func validConfig() *Config {
	return &Config{
		Server:        loadServerConfig(),
		Storage:       storage.DefaultConfig(),
		Objects:       loadObjectsConfig(),
		Auth:          loadAuthConfig(),
		Content:       loadContentConfig(),
		Documents:     loadDocumentsConfig(),
		Observability: loadObservabilityConfig(),
		Webhooks:      loadWebhooksConfig(),
		Maintenance:   loadMaintenanceConfig(),
	}
}

// TestConfigValidate tests the Validate method
func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{
			name:    "same ports",
			mutate:  func(c *Config) { c.Server.HealthPort = c.Server.Port },
			wantErr: "must be different",
		},
		{
			name:    "unknown environment",
			mutate:  func(c *Config) { c.Server.Environment = "staging" },
			wantErr: "invalid environment",
		},
		{
			name: "production local auth needs bootstrap hash",
			mutate: func(c *Config) {
				c.Server.Environment = EnvProduction
				c.Objects.Type = "filesystem"
				c.Objects.SigningKey = "k"
			},
			wantErr: "PORTAL_BOOTSTRAP_PASSWORD_HASH",
		},
		{
			name: "production with hash",
			mutate: func(c *Config) {
				c.Server.Environment = EnvProduction
				c.Objects.Type = "filesystem"
				c.Objects.SigningKey = "k"
				c.Auth.BootstrapPassword = "$2a$12$abc"
			},
		},
		{
			name: "production rejects memory objects",
			mutate: func(c *Config) {
				c.Server.Environment = EnvProduction
				c.Auth.BootstrapPassword = "$2a$12$abc"
			},
			wantErr: "memory object storage",
		},
		{
			name:    "zerotrust needs domain",
			mutate:  func(c *Config) { c.Auth.Mode = AuthModeZeroTrust },
			wantErr: "access domain",
		},
		{
			name: "zerotrust needs audience",
			mutate: func(c *Config) {
				c.Auth.Mode = AuthModeZeroTrust
				c.Auth.AccessDomain = "team.cloudflareaccess.com"
			},
			wantErr: "access audience",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Auth.Mode = "saml" },
			wantErr: "invalid auth mode",
		},
		{
			name:    "redis limiter needs url",
			mutate:  func(c *Config) { c.Auth.LimiterBackend = "redis"; c.Auth.LimiterRedisURL = "" },
			wantErr: "rate limiter",
		},
		{
			name:    "bad author delete policy",
			mutate:  func(c *Config) { c.Content.AuthorDeletePolicy = "shred" },
			wantErr: "author delete policy",
		},
		{
			name:    "webhook rate must be positive",
			mutate:  func(c *Config) { c.Webhooks.PerMinute = 0 },
			wantErr: "webhook timeout",
		},
		{
			name:   "disabled webhooks skip checks",
			mutate: func(c *Config) { c.Webhooks.Enabled = false; c.Webhooks.PerMinute = 0 },
		},
		{
			name:    "bad storage type",
			mutate:  func(c *Config) { c.Storage.Type = "etcd" },
			wantErr: "invalid storage type",
		},
		{
			name: "otel needs endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "endpoint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfig tests end to end loading from the environment
func TestLoadConfig(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		t.Setenv("PORTAL_PORT", "8080")
		t.Setenv("PORTAL_HEALTH_PORT", "9090")
		t.Setenv("PORTAL_STORAGE_TYPE", "filesystem")
		t.Setenv("PORTAL_FILESYSTEM_ROOT", t.TempDir())

		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		if cfg.Documents.MaxUploadBytes != 100*1024*1024 {
			t.Errorf("MaxUploadBytes = %d", cfg.Documents.MaxUploadBytes)
		}
		if cfg.Documents.AccessLogRetention != 10000 {
			t.Errorf("AccessLogRetention = %d", cfg.Documents.AccessLogRetention)
		}
	})

	t.Run("invalid config - same ports", func(t *testing.T) {
		t.Setenv("PORTAL_PORT", "8080")
		t.Setenv("PORTAL_HEALTH_PORT", "8080")

		if _, err := LoadConfig(); err == nil {
			t.Error("LoadConfig() expected error for equal ports")
		}
	})
}
