// Package config defines the application's configuration surface and loads it
// through Viper from config.yaml, environment variables, and CLI flags.
package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Target    TargetConfig    `mapstructure:"target"`
	Session   SessionConfig   `mapstructure:"session"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	AddSource   bool   `mapstructure:"add_source"`
	ServiceName string `mapstructure:"service_name"`
	LogFile     string `mapstructure:"log_file"`
	MaxSize     int    `mapstructure:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAge      int    `mapstructure:"max_age"`
	Compress    bool   `mapstructure:"compress"`
}

// TargetConfig identifies the application under test and the credentials the
// generated login units will use. Populated from CLI flags or config.
type TargetConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SessionConfig controls the session reuse lifecycle.
type SessionConfig struct {
	TimeoutMinutes int    `mapstructure:"timeout_minutes"`
	Persist        bool   `mapstructure:"persist"`
	Dir            string `mapstructure:"dir"`
	ForceNew       bool   `mapstructure:"force_new"`
}

// Timeout returns the configured session validity window.
func (s SessionConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMinutes) * time.Minute
}

// RunnerConfig controls per-unit execution and the auth-failure heuristic.
type RunnerConfig struct {
	UnitTimeoutSeconds int `mapstructure:"unit_timeout_seconds"`
	// AuthFailureStatuses are HTTP statuses treated as authentication
	// rejections when observed after a session injection.
	AuthFailureStatuses []int `mapstructure:"auth_failure_statuses"`
	// LoginRedirectPattern matches final URLs that indicate the application
	// bounced the unit back to a login page.
	LoginRedirectPattern string `mapstructure:"login_redirect_pattern"`
}

// UnitTimeout returns the per-unit execution deadline.
func (r RunnerConfig) UnitTimeout() time.Duration {
	return time.Duration(r.UnitTimeoutSeconds) * time.Second
}

// BrowserConfig holds settings for the headless browser.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	IgnoreTLSErrors bool     `mapstructure:"ignore_tls_errors"`
	Args            []string `mapstructure:"args"`
	// StabilizeWait is how long Run waits after navigation before evaluating
	// the unit script, letting late XHR-driven DOM settle.
	StabilizeWait time.Duration `mapstructure:"stabilize_wait"`
}

// Provider names the supported AI backends for test synthesis.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// GeneratorConfig holds settings for the AI test-generation layer.
type GeneratorConfig struct {
	Provider    Provider      `mapstructure:"provider"`
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	Endpoint    string        `mapstructure:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	// Categories restricts which unit categories are requested; empty means
	// every category the page analysis makes applicable.
	Categories []string `mapstructure:"categories"`
}

// PostgresConfig holds settings for optional outcome persistence. An empty
// URL disables the store entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// SetDefaults registers the default values so the app can run with a minimal
// or absent config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "autoplaytest")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)

	v.SetDefault("session.timeout_minutes", 30)
	v.SetDefault("session.persist", true)
	v.SetDefault("session.dir", "sessions")
	v.SetDefault("session.force_new", false)

	v.SetDefault("runner.unit_timeout_seconds", 30)
	v.SetDefault("runner.auth_failure_statuses", []int{401, 403})
	v.SetDefault("runner.login_redirect_pattern", `(?i)/(log[-_]?in|sign[-_]?in|auth)(/|$|\?)`)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stabilize_wait", 500*time.Millisecond)

	v.SetDefault("generator.provider", string(ProviderOpenAI))
	v.SetDefault("generator.model", "gpt-4o")
	v.SetDefault("generator.api_timeout", 60*time.Second)
	v.SetDefault("generator.temperature", 0.2)
	v.SetDefault("generator.max_tokens", 2048)
}

// Load unmarshals the Viper state into a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefaultConfig returns a Config populated purely from defaults. Used by
// tests and as the fallback when no config file exists.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v)
	if err != nil {
		// Defaults are maintained alongside Validate; a failure here is a bug.
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}

// Validate checks cross-field constraints that Viper cannot express.
func (c *Config) Validate() error {
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("session.timeout_minutes must be positive, got %d", c.Session.TimeoutMinutes)
	}
	if c.Session.Persist && c.Session.Dir == "" {
		return fmt.Errorf("session.dir is required when session.persist is enabled")
	}
	if c.Runner.UnitTimeoutSeconds <= 0 {
		return fmt.Errorf("runner.unit_timeout_seconds must be positive, got %d", c.Runner.UnitTimeoutSeconds)
	}
	if c.Runner.LoginRedirectPattern != "" {
		if _, err := regexp.Compile(c.Runner.LoginRedirectPattern); err != nil {
			return fmt.Errorf("runner.login_redirect_pattern is not a valid regexp: %w", err)
		}
	}
	switch c.Generator.Provider {
	case ProviderOpenAI, ProviderGemini, "":
	default:
		return fmt.Errorf("unsupported generator provider %q", c.Generator.Provider)
	}
	return nil
}
