package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	DocauditAPIKey string `yaml:"api_key"`

	// Claude audit
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicModel   string `yaml:"anthropic_model"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	MaxReportTokens  int    `yaml:"max_report_tokens"`
	PromptFile       string `yaml:"prompt_file"`

	// Audit endpoint throttling
	AuditRatePerMinute int `yaml:"audit_rate_per_minute"`
	AuditBurst         int `yaml:"audit_burst"`

	// Rules memory
	RulesPath string `yaml:"rules_path"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Decoding
	MaxImageEdge int `yaml:"max_image_edge"`

	// Session state
	SessionTTL time.Duration `yaml:"session_ttl"`

	// PDF
	PDFFallbackPdftotext bool    `yaml:"pdf_fallback_pdftotext"`
	HighlightZoom        float64 `yaml:"highlight_zoom"`
}

func defaults() Config {
	return Config{
		Port:                 "8090",
		AnthropicModel:       "claude-sonnet-4-5-20250929",
		AnthropicBaseURL:     "https://api.anthropic.com",
		MaxReportTokens:      8192,
		AuditRatePerMinute:   6,
		AuditBurst:           2,
		RulesPath:            "saved_rules.json",
		MaxUploadBytes:       52428800, // 50MB
		MaxImageEdge:         1500,
		SessionTTL:           2 * time.Hour,
		PDFFallbackPdftotext: true,
		HighlightZoom:        2,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// DOCAUDIT_CONFIG, and finally environment variables.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv("DOCAUDIT_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)

	cfg.DocauditAPIKey = envOr("DOCAUDIT_API_KEY", cfg.DocauditAPIKey)

	cfg.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.AnthropicModel = envOr("ANTHROPIC_MODEL", cfg.AnthropicModel)
	cfg.AnthropicBaseURL = envOr("ANTHROPIC_BASE_URL", cfg.AnthropicBaseURL)
	cfg.MaxReportTokens = envInt("MAX_REPORT_TOKENS", cfg.MaxReportTokens)
	cfg.PromptFile = envOr("PROMPT_FILE", cfg.PromptFile)

	cfg.AuditRatePerMinute = envInt("AUDIT_RATE_PER_MINUTE", cfg.AuditRatePerMinute)
	cfg.AuditBurst = envInt("AUDIT_BURST", cfg.AuditBurst)

	cfg.RulesPath = envOr("RULES_PATH", cfg.RulesPath)

	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.MaxImageEdge = envInt("MAX_IMAGE_EDGE", cfg.MaxImageEdge)

	cfg.SessionTTL = envDuration("SESSION_TTL", cfg.SessionTTL)

	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)
	cfg.HighlightZoom = envFloat("HIGHLIGHT_ZOOM", cfg.HighlightZoom)

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	d := defaults()
	if c.MaxReportTokens <= 0 {
		c.MaxReportTokens = d.MaxReportTokens
	}
	if c.AuditRatePerMinute <= 0 {
		c.AuditRatePerMinute = d.AuditRatePerMinute
	}
	if c.AuditBurst <= 0 {
		c.AuditBurst = d.AuditBurst
	}
	if c.RulesPath == "" {
		c.RulesPath = d.RulesPath
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if c.MaxImageEdge <= 0 {
		c.MaxImageEdge = d.MaxImageEdge
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = d.SessionTTL
	}
	if c.HighlightZoom <= 0 {
		c.HighlightZoom = d.HighlightZoom
	}
}

func (c Config) Validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.PromptFile != "" {
		if _, err := os.Stat(c.PromptFile); err != nil {
			return fmt.Errorf("PROMPT_FILE: %w", err)
		}
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
