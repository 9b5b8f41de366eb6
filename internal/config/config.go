package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/abhisek/doctorai/internal/consult"
	"github.com/abhisek/doctorai/internal/llm"
)

// Config holds all DoctorAI configuration.
type Config struct {
	// Environment is reported by /health. "local" enables development
	// logging when Logging.Development is set.
	Environment string `yaml:"environment"`

	LLM     LLMConfig     `yaml:"llm"`
	Consult ConsultConfig `yaml:"consult"`
	Server  ServerConfig  `yaml:"server"`
	Bot     BotConfig     `yaml:"bot"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig selects the model client. Fields left empty keep the llm
// package defaults.
type LLMConfig struct {
	Provider      string `yaml:"provider"` // openai, anthropic, gemini, openrouter, mock; empty discovers
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	VerifierModel string `yaml:"verifier_model"`
	BaseURL       string `yaml:"base_url"`
	Timeout       string `yaml:"timeout"`
	MaxAttempts   int    `yaml:"max_attempts"`
}

// ConsultConfig tunes the two-stage pipeline.
type ConsultConfig struct {
	DefaultAgent            string  `yaml:"default_agent"`
	AnalysisTemperature     float64 `yaml:"analysis_temperature"`
	AnalysisMaxTokens       int     `yaml:"analysis_max_tokens"`
	VerificationTemperature float64 `yaml:"verification_temperature"`
	VerificationMaxTokens   int     `yaml:"verification_max_tokens"`
	MaxHistoryTurns         int     `yaml:"max_history_turns"`
	RiskFlagCeiling         float64 `yaml:"risk_flag_ceiling"`
	NoImageCeiling          float64 `yaml:"no_image_ceiling"`
	LowSpecificityCeiling   float64 `yaml:"low_specificity_ceiling"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxConcurrent   int      `yaml:"max_concurrent"`
	StaticDir       string   `yaml:"static_dir"`
	ReadTimeout     string   `yaml:"read_timeout"`
	WriteTimeout    string   `yaml:"write_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// BotConfig configures the Telegram front end.
type BotConfig struct {
	Token        string `yaml:"token"`
	WebAppURL    string `yaml:"web_app_url"`
	HistoryTurns int    `yaml:"history_turns"`
	PollTimeout  int    `yaml:"poll_timeout"` // seconds
}

// StoreConfig configures the usage metrics database.
type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	pipeline := consult.DefaultConfig()
	return &Config{
		Environment: "local",
		LLM: LLMConfig{
			Timeout: "30s",
		},
		Consult: ConsultConfig{
			DefaultAgent:            pipeline.DefaultAgent,
			AnalysisTemperature:     pipeline.Analysis.Temperature,
			AnalysisMaxTokens:       pipeline.Analysis.MaxTokens,
			VerificationTemperature: pipeline.Verification.Temperature,
			VerificationMaxTokens:   pipeline.Verification.MaxTokens,
			MaxHistoryTurns:         pipeline.MaxHistoryTurns,
			RiskFlagCeiling:         pipeline.Calibration.RiskFlagCeiling,
			NoImageCeiling:          pipeline.Calibration.NoImageCeiling,
			LowSpecificityCeiling:   pipeline.Calibration.LowSpecificityCeiling,
		},
		Server: ServerConfig{
			Addr:            ":8000",
			MaxUploadBytes:  10 << 20,
			AllowedOrigins:  []string{"*"},
			MaxConcurrent:   16,
			ReadTimeout:     "30s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "10s",
		},
		Bot: BotConfig{
			WebAppURL:    "http://localhost:8000",
			HistoryTurns: 4,
			PollTimeout:  60,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ResolvePath returns the config file path: the flag value, then
// DOCTORAI_CONFIG. An empty result means no file.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv("DOCTORAI_CONFIG")
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file or empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", filepath.Base(path), err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. The bare names
// are the ones the original deployment used.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		c.Environment = v
	}
	if v := os.Getenv("DOCTORAI_ENVIRONMENT"); v != "" {
		c.Environment = v
	}

	if v := os.Getenv("OPENAI_VERIFIER_MODEL"); v != "" {
		c.LLM.VerifierModel = v
	}
	if v := os.Getenv("DOCTORAI_VERIFIER_MODEL"); v != "" {
		c.LLM.VerifierModel = v
	}

	if v := os.Getenv("DEFAULT_AGENT"); v != "" {
		c.Consult.DefaultAgent = v
	}
	if v := os.Getenv("DOCTORAI_DEFAULT_AGENT"); v != "" {
		c.Consult.DefaultAgent = v
	}

	if v := os.Getenv("DOCTORAI_ADDR"); v != "" {
		c.Server.Addr = v
	} else if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("DOCTORAI_MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Server.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("DOCTORAI_STATIC_DIR"); v != "" {
		c.Server.StaticDir = v
	}

	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Bot.Token = v
	}
	if v := os.Getenv("WEB_APP_URL"); v != "" {
		c.Bot.WebAppURL = v
	}

	if v := os.Getenv("DOCTORAI_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("DOCTORAI_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks value ranges and duration syntax.
func (c *Config) Validate() error {
	for name, d := range map[string]string{
		"llm.timeout":             c.LLM.Timeout,
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}

	for name, v := range map[string]float64{
		"consult.risk_flag_ceiling":       c.Consult.RiskFlagCeiling,
		"consult.no_image_ceiling":        c.Consult.NoImageCeiling,
		"consult.low_specificity_ceiling": c.Consult.LowSpecificityCeiling,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", name, v)
		}
	}
	for name, v := range map[string]float64{
		"consult.analysis_temperature":     c.Consult.AnalysisTemperature,
		"consult.verification_temperature": c.Consult.VerificationTemperature,
	} {
		if v < 0 || v > 2 {
			return fmt.Errorf("%s must be within [0, 2], got %g", name, v)
		}
	}

	if c.Consult.MaxHistoryTurns < 0 {
		return fmt.Errorf("consult.max_history_turns must not be negative")
	}
	if c.Server.MaxConcurrent < 0 {
		return fmt.Errorf("server.max_concurrent must not be negative")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server.max_upload_bytes must be positive")
	}
	return nil
}

// IsDevelopment reports whether the development logger should be used.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "local" && c.Logging.Development
}

// ConsultConfig converts the pipeline settings.
func (c *Config) ConsultConfig() consult.Config {
	return consult.Config{
		Analysis: consult.PromptConfig{
			Temperature: c.Consult.AnalysisTemperature,
			MaxTokens:   c.Consult.AnalysisMaxTokens,
		},
		Verification: consult.PromptConfig{
			Temperature: c.Consult.VerificationTemperature,
			MaxTokens:   c.Consult.VerificationMaxTokens,
		},
		MaxHistoryTurns: c.Consult.MaxHistoryTurns,
		DefaultAgent:    c.Consult.DefaultAgent,
		Calibration: consult.CalibrationConfig{
			RiskFlagCeiling:       c.Consult.RiskFlagCeiling,
			NoImageCeiling:        c.Consult.NoImageCeiling,
			LowSpecificityCeiling: c.Consult.LowSpecificityCeiling,
		},
	}
}

// AnalysisLLMConfig builds the model client config for the analysis stage.
// Environment variables understood by the llm package take precedence over
// the file. With no provider named anywhere, the first standard API key
// found in the environment picks one.
func (c *Config) AnalysisLLMConfig() llm.Config {
	cfg := llm.DefaultConfig()
	switch {
	case c.LLM.Provider != "":
		cfg.Provider = c.LLM.Provider
	case os.Getenv("DOCTORAI_LLM_PROVIDER") == "":
		if found, ok := llm.DiscoverConfig(); ok {
			cfg = found
		}
	}

	switch cfg.Provider {
	case "anthropic":
		setIf(&cfg.Anthropic.APIKey, c.LLM.APIKey)
	case "openai":
		setIf(&cfg.OpenAI.APIKey, c.LLM.APIKey)
		setIf(&cfg.OpenAI.BaseURL, c.LLM.BaseURL)
	case "gemini":
		setIf(&cfg.Gemini.APIKey, c.LLM.APIKey)
	case "openrouter":
		setIf(&cfg.OpenRouter.APIKey, c.LLM.APIKey)
		setIf(&cfg.OpenRouter.BaseURL, c.LLM.BaseURL)
	}
	cfg = cfg.WithModel(c.LLM.Model)

	if d := c.LLMTimeout(); d > 0 {
		cfg.Timeout = d
	}
	if c.LLM.MaxAttempts > 0 {
		cfg.Retry.MaxAttempts = c.LLM.MaxAttempts
	}

	cfg.ApplyEnv()
	return cfg
}

// VerificationLLMConfig is AnalysisLLMConfig with the verifier model, if
// one is configured.
func (c *Config) VerificationLLMConfig() llm.Config {
	return c.AnalysisLLMConfig().WithModel(c.LLM.VerifierModel)
}

// LLMTimeout returns the per-request model timeout.
func (c *Config) LLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 30*time.Second)
}

// ReadTimeout returns the HTTP server read timeout.
func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 30*time.Second)
}

// WriteTimeout returns the HTTP server write timeout. It must outlast two
// sequential model calls.
func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 120*time.Second)
}

// ShutdownTimeout bounds graceful shutdown.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseDuration(c.Server.ShutdownTimeout, 10*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
