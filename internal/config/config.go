package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nexconsult/cookie-refresher/internal/models"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `json:"server"`
	Redis       RedisConfig       `json:"redis"`
	Log         LogConfig         `json:"log"`
	Security    SecurityConfig    `json:"security"`
	Browser     BrowserConfig     `json:"browser"`
	Portal      PortalConfig      `json:"portal"`
	Timeouts    TimeoutConfig     `json:"timeouts"`
	Notify      NotifyConfig      `json:"notify"`
	Input       InputConfig       `json:"input"`
	Diagnostics DiagnosticsConfig `json:"diagnostics"`
	Schedule    ScheduleConfig    `json:"schedule"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int    `json:"port"`
	Environment  string `json:"environment"`
	ReadTimeout  int    `json:"read_timeout"`
	WriteTimeout int    `json:"write_timeout"`
	IdleTimeout  int    `json:"idle_timeout"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	PoolSize     int           `json:"pool_size"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	File       string `json:"file"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// SecurityConfig holds security configuration
type SecurityConfig struct {
	APIKey    string          `json:"-"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	CORS      CORSConfig      `json:"cors"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute"`
	BurstSize         int           `json:"burst_size"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// BrowserConfig holds browser automation configuration
type BrowserConfig struct {
	Headless       bool   `json:"headless"`
	ExecPath       string `json:"exec_path"`
	UserAgent      string `json:"user_agent"`
	Locale         string `json:"locale"`
	Timezone       string `json:"timezone"`
	ViewportWidth  int    `json:"viewport_width"`
	ViewportHeight int    `json:"viewport_height"`
	ProxyURL       string `json:"-"`
}

// PortalConfig describes the pages and cookies of the target portal
type PortalConfig struct {
	HomeURL         string                   `json:"home_url"`
	ToolURLPattern  string                   `json:"tool_url_pattern"`
	TriggerSelector string                   `json:"trigger_selector"`
	TriggerFrame    string                   `json:"trigger_frame"`
	FallbackURL     string                   `json:"fallback_url"`
	RequiredCookies models.RequiredCookieSet `json:"required_cookies"`
}

// NotifyConfig holds webhook delivery configuration
type NotifyConfig struct {
	WebhookURL string        `json:"webhook_url"`
	Timeout    time.Duration `json:"timeout"`
}

// InputConfig says where the previous session cookies come from
type InputConfig struct {
	CookiesFile string `json:"cookies_file"`
	CookiesJSON string `json:"-"`
}

// DiagnosticsConfig holds diagnostic store configuration
type DiagnosticsConfig struct {
	KeyPrefix string        `json:"key_prefix"`
	TTL       time.Duration `json:"ttl"`
}

// ScheduleConfig holds periodic refresh configuration for serve mode
type ScheduleConfig struct {
	Interval time.Duration `json:"interval"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("PORT", 8080),
			Environment:  getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvAsInt("READ_TIMEOUT", 30),
			WriteTimeout: getEnvAsInt("WRITE_TIMEOUT", 30),
			IdleTimeout:  getEnvAsInt("IDLE_TIMEOUT", 60),
		},
		Redis: RedisConfig{
			Enabled:      getEnvAsBool("REDIS_ENABLED", true),
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnvAsInt("REDIS_PORT", 6379),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           getEnvAsInt("REDIS_DB", 0),
			PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 4),
			DialTimeout:  time.Duration(getEnvAsInt("REDIS_DIAL_TIMEOUT", 5)) * time.Second,
			ReadTimeout:  time.Duration(getEnvAsInt("REDIS_READ_TIMEOUT", 3)) * time.Second,
			WriteTimeout: time.Duration(getEnvAsInt("REDIS_WRITE_TIMEOUT", 3)) * time.Second,
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "text"),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_MAX_SIZE_MB", 50),
			MaxBackups: getEnvAsInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: getEnvAsInt("LOG_MAX_AGE_DAYS", 14),
		},
		Security: SecurityConfig{
			APIKey: getEnv("API_KEY", ""),
			RateLimit: RateLimitConfig{
				RequestsPerMinute: getEnvAsInt("RATE_LIMIT_RPM", 30),
				BurstSize:         getEnvAsInt("RATE_LIMIT_BURST", 5),
				CleanupInterval:   time.Duration(getEnvAsInt("RATE_LIMIT_CLEANUP", 60)) * time.Second,
			},
			CORS: CORSConfig{
				AllowedOrigins:   getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type", "X-API-Key", "X-Request-ID"},
				AllowCredentials: false,
			},
		},
		Browser: BrowserConfig{
			Headless:       getEnvAsBool("BROWSER_HEADLESS", true),
			ExecPath:       getEnv("BROWSER_EXEC_PATH", ""),
			UserAgent:      getEnv("BROWSER_USER_AGENT", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
			Locale:         getEnv("BROWSER_LOCALE", "en-CA"),
			Timezone:       getEnv("BROWSER_TIMEZONE", "America/Edmonton"),
			ViewportWidth:  getEnvAsInt("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getEnvAsInt("BROWSER_VIEWPORT_HEIGHT", 1080),
			ProxyURL:       getEnv("PROXY_URL", ""),
		},
		Portal: PortalConfig{
			HomeURL:         getEnv("PORTAL_HOME_URL", "https://www.manheim.com/"),
			ToolURLPattern:  getEnv("PORTAL_TOOL_URL_PATTERN", "mmr.manheim.com"),
			TriggerSelector: getEnv("PORTAL_TRIGGER_SELECTOR", `[data-test-id="mmr-btn"]`),
			TriggerFrame:    getEnv("PORTAL_TRIGGER_FRAME", "mcom-header-footer"),
			FallbackURL:     getEnv("PORTAL_FALLBACK_URL", "https://mmr.manheim.com/ui-mmr/?country=US&popup=true&source=man"),
			RequiredCookies: models.DefaultRequiredCookies,
		},
		Timeouts: *DefaultTimeoutConfig(),
		Notify: NotifyConfig{
			WebhookURL: getEnv("WEBHOOK_URL", ""),
			Timeout:    getEnvAsDuration("NOTIFY_TIMEOUT", 30*time.Second),
		},
		Input: InputConfig{
			CookiesFile: getEnv("SESSION_COOKIES_FILE", ""),
			CookiesJSON: getEnv("SESSION_COOKIES_JSON", ""),
		},
		Diagnostics: DiagnosticsConfig{
			KeyPrefix: getEnv("DIAGNOSTICS_KEY_PREFIX", "cookie-refresher"),
			TTL:       getEnvAsDuration("DIAGNOSTICS_TTL", 7*24*time.Hour),
		},
		Schedule: ScheduleConfig{
			Interval: getEnvAsDuration("REFRESH_INTERVAL", 0),
		},
	}

	cfg.Timeouts.ApplyEnv()

	if raw := getEnv("REQUIRED_COOKIES", ""); raw != "" {
		set, err := models.ParseRequiredCookies(raw)
		if err != nil {
			return nil, fmt.Errorf("REQUIRED_COOKIES: %w", err)
		}
		cfg.Portal.RequiredCookies = set
	}

	if cfg.Portal.HomeURL == "" || cfg.Portal.FallbackURL == "" {
		return nil, fmt.Errorf("PORTAL_HOME_URL and PORTAL_FALLBACK_URL are required")
	}

	return cfg, nil
}

// LoadInputCookies reads the previous session cookies from the configured
// file or inline JSON. The file wins when both are set.
func (c *Config) LoadInputCookies() ([]models.SessionCookie, error) {
	var data []byte
	switch {
	case c.Input.CookiesFile != "":
		raw, err := os.ReadFile(c.Input.CookiesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read cookies file: %w", err)
		}
		data = raw
	case c.Input.CookiesJSON != "":
		data = []byte(c.Input.CookiesJSON)
	default:
		return nil, nil
	}

	return ParseCookies(data)
}

// ParseCookies decodes a JSON array of cookies
func ParseCookies(data []byte) ([]models.SessionCookie, error) {
	var cookies []models.SessionCookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse cookies: %w", err)
	}
	return cookies, nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
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
