package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// 資格情報ストアの種類。
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Credential Store
	CredentialStore    string
	DatabaseURL        string
	StoreLookupTimeout time.Duration

	// memoryストアの初期管理ユーザー
	AdminEmail        string
	AdminPasswordHash string
	AdminRole         string

	// Upstream
	UpstreamURL     string
	UpstreamTimeout time.Duration

	// Session
	SessionSecret         string
	SessionLegacyUnsigned bool

	// Gate
	LoginPath      string
	LoginRateLimit int
	CSRFProtection bool

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string

	// Tracing
	OTelEndpoint string
	OTelInsecure bool
}

// Load はserveコマンド用のConfigを環境変数から読み込む。
// 必須環境変数が未設定の場合は、不足しているものをまとめてエラーで返す。
func Load() (*Config, error) {
	cfg, missing, err := load()
	if err != nil {
		return nil, err
	}

	cfg.UpstreamURL = os.Getenv("UPSTREAM_URL")
	if cfg.UpstreamURL == "" {
		missing = append(missing, "UPSTREAM_URL")
	}

	cfg.SessionSecret = os.Getenv("SESSION_SECRET")
	if cfg.SessionSecret == "" && !cfg.SessionLegacyUnsigned {
		missing = append(missing, "SESSION_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := validateUpstreamURL(cfg.UpstreamURL); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadStore はmigrate / create-adminコマンド用に、資格情報ストアの設定だけを検証して読み込む。
func LoadStore() (*Config, error) {
	cfg, missing, err := load()
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return cfg, nil
}

func load() (*Config, []string, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.CredentialStore = strings.ToLower(getEnvString("CREDENTIAL_STORE", StorePostgres))
	switch cfg.CredentialStore {
	case StorePostgres:
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case StoreMemory:
	default:
		return nil, nil, fmt.Errorf("unknown CREDENTIAL_STORE %q: must be %q or %q", cfg.CredentialStore, StorePostgres, StoreMemory)
	}

	cfg.LoginPath = getEnvString("LOGIN_PATH", "/admin")
	if !strings.HasPrefix(cfg.LoginPath, "/") {
		return nil, nil, fmt.Errorf("LOGIN_PATH must start with '/': %q", cfg.LoginPath)
	}
	if strings.Trim(cfg.LoginPath, "/") == "" {
		return nil, nil, fmt.Errorf("LOGIN_PATH must not be the site root: %q", cfg.LoginPath)
	}

	// Optional fields with defaults
	cfg.StoreLookupTimeout = getEnvDuration("STORE_LOOKUP_TIMEOUT", 3*time.Second)
	cfg.AdminEmail = os.Getenv("ADMIN_EMAIL")
	cfg.AdminPasswordHash = os.Getenv("ADMIN_PASSWORD_HASH")
	cfg.AdminRole = getEnvString("ADMIN_ROLE", "super_admin")
	cfg.UpstreamTimeout = getEnvDuration("UPSTREAM_TIMEOUT", 30*time.Second)
	cfg.SessionLegacyUnsigned = getEnvBool("SESSION_LEGACY_UNSIGNED", false)
	cfg.LoginRateLimit = getEnvInt("LOGIN_RATE_LIMIT", 10)
	cfg.CSRFProtection = getEnvBool("CSRF_PROTECTION", false)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTelInsecure = getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false)

	return cfg, missing, nil
}

func validateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL: %q", raw)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
