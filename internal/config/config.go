// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Vision  VisionConfig  `mapstructure:"vision" yaml:"vision"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the managed browser instance.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// UserDataDir keeps a persistent profile between runs so logins survive.
	// Empty means ~/.webpilot/profile.
	UserDataDir     string         `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	// ScreenshotDir, when set, receives a PNG dump of every captured view.
	ScreenshotDir string `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// NetworkConfig tunes timeouts for page interactions.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// VisionConfig defines the connection to the multimodal model endpoint.
type VisionConfig struct {
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	Model             string        `mapstructure:"model" yaml:"model"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	LocateMaxTokens   int           `mapstructure:"locate_max_tokens" yaml:"locate_max_tokens"`
	Temperature       float32       `mapstructure:"temperature" yaml:"temperature"`
	RequestsPerMinute float64       `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	RetryMaxElapsed   time.Duration `mapstructure:"retry_max_elapsed" yaml:"retry_max_elapsed"`
	RetryMaxInterval  time.Duration `mapstructure:"retry_max_interval" yaml:"retry_max_interval"`
}

// AgentConfig holds the knobs of the planning loop.
type AgentConfig struct {
	MaxSteps        int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	ChangeThreshold float64       `mapstructure:"change_threshold" yaml:"change_threshold"`
	HistoryLimit    int           `mapstructure:"history_limit" yaml:"history_limit"`
	LoopWindow      int           `mapstructure:"loop_window" yaml:"loop_window"`
	PlanCache       bool          `mapstructure:"plan_cache" yaml:"plan_cache"`
	TypeDelay       time.Duration `mapstructure:"type_delay" yaml:"type_delay"`
	ScrollAmount    int           `mapstructure:"scroll_amount" yaml:"scroll_amount"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.log_file", "webpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1280, "height": 800})

	// -- Network --
	v.SetDefault("network.navigation_timeout", "20s")
	v.SetDefault("network.action_timeout", "10s")
	v.SetDefault("network.post_load_wait", "1s")

	// -- Vision --
	v.SetDefault("vision.model", "Qwen/Qwen3-VL-235B-A22B-Instruct")
	v.SetDefault("vision.api_timeout", "90s")
	v.SetDefault("vision.max_tokens", 400)
	v.SetDefault("vision.locate_max_tokens", 150)
	v.SetDefault("vision.temperature", 0.1)
	v.SetDefault("vision.requests_per_minute", 30.0)
	v.SetDefault("vision.retry_max_elapsed", "2m")
	v.SetDefault("vision.retry_max_interval", "30s")

	// -- Agent --
	v.SetDefault("agent.max_steps", 40)
	v.SetDefault("agent.max_attempts", 5)
	v.SetDefault("agent.change_threshold", 0.08)
	v.SetDefault("agent.history_limit", 5)
	v.SetDefault("agent.loop_window", 4)
	v.SetDefault("agent.plan_cache", true)
	v.SetDefault("agent.type_delay", "50ms")
	v.SetDefault("agent.scroll_amount", 600)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Credentials come from the environment, never the config file.
	// The OPENAI_* names match what the serving endpoints document.
	v.BindEnv("vision.api_key", "WEBPILOT_VISION_API_KEY", "OPENAI_API_KEY")
	v.BindEnv("vision.base_url", "WEBPILOT_VISION_BASE_URL", "OPENAI_API_BASE")
	v.BindEnv("vision.model", "WEBPILOT_VISION_MODEL", "VISION_MODEL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Vision.BaseURL == "" {
		return fmt.Errorf("vision.base_url is required; set OPENAI_API_BASE or WEBPILOT_VISION_BASE_URL")
	}
	if c.Vision.APIKey == "" {
		return fmt.Errorf("vision.api_key is required; set OPENAI_API_KEY or WEBPILOT_VISION_API_KEY")
	}
	if c.Vision.Model == "" {
		return fmt.Errorf("vision.model must not be empty")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be a positive integer")
	}
	if c.Agent.MaxAttempts <= 0 {
		return fmt.Errorf("agent.max_attempts must be a positive integer")
	}
	if c.Agent.ChangeThreshold < 0.0 || c.Agent.ChangeThreshold > 1.0 {
		return fmt.Errorf("agent.change_threshold must be between 0.0 and 1.0")
	}
	if c.Agent.HistoryLimit <= 0 {
		return fmt.Errorf("agent.history_limit must be a positive integer")
	}
	if c.Agent.LoopWindow <= 1 {
		return fmt.Errorf("agent.loop_window must be greater than 1")
	}
	return nil
}
