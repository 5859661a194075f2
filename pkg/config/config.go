// Package config loads the orchestrator configuration from the environment,
// with an optional YAML file for the model pricing table.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Swarm tuning limits. The swarm size clamps to [1, MaxAgents]; the stagger
// keeps the free-tier upstream under its per-minute rate limit.
const (
	DefaultSwarmSize = 8
	MaxAgents        = 20

	DefaultThrottle = 6 * time.Second

	// DefaultMaxBudget is the per-mission budget ceiling in dollars when the
	// caller does not supply one. Requests may raise it up to MaxBudgetCap.
	DefaultMaxBudget = 1.25
	MinBudget        = 0.01
	MaxBudgetCap     = 5.0
)

// ModelRate is the per-1000-token price for one model, split input/output.
type ModelRate struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Config is the umbrella configuration object wired into every component at
// startup. Fields are read-only after Load.
type Config struct {
	// HTTP
	HTTPPort string

	// Upstream chat-completions API
	APIKey     string
	APIBaseURL string
	Referer    string // optional HTTP-Referer identification header
	Title      string // optional X-Title identification header

	// Models
	SwarmModel     string // free model used by fan-out agents
	ReviewerModel  string // higher-quality model for critique rounds
	SynthesisModel string
	FallbackModel  string

	// Swarm tuning
	Throttle  time.Duration
	MaxBudget float64

	// Pricing table: model name → per-1000-token rates. Models absent from
	// the table are free (rate 0), which covers the free swarm model.
	ModelRates map[string]ModelRate

	// Trace persistence directory
	TraceDir string

	// Per-IP rate limits (requests per minute + burst). The execute limit
	// is much stricter than the general API limit.
	GeneralRPM   int
	GeneralBurst int
	ExecuteRPM   int
	ExecuteBurst int
}

// Stats returns configuration statistics for startup logging.
type Stats struct {
	Version  string
	Models   int
	TraceDir string
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	return Stats{Version: Version(), Models: len(c.ModelRates), TraceDir: c.TraceDir}
}

// Load builds a Config from the process environment. A missing API key is
// not an error here — the upstream client fails fast at construction so
// estimate-only and test deployments still start.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		APIKey:         os.Getenv("OPENROUTER_API_KEY"),
		APIBaseURL:     getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		Referer:        os.Getenv("APP_REFERER"),
		Title:          os.Getenv("APP_TITLE"),
		SwarmModel:     getEnv("SWARM_MODEL", "meta-llama/llama-3.3-70b-instruct:free"),
		ReviewerModel:  getEnv("REVIEWER_MODEL", "anthropic/claude-sonnet-4"),
		SynthesisModel: getEnv("SYNTHESIS_MODEL", "anthropic/claude-sonnet-4"),
		FallbackModel:  getEnv("FALLBACK_MODEL", "openai/gpt-4o-mini"),
		Throttle:       DefaultThrottle,
		MaxBudget:      DefaultMaxBudget,
		TraceDir:       getEnv("TRACE_DIR", "./data/traces"),
		ModelRates:     defaultModelRates(),
		GeneralRPM:     120,
		GeneralBurst:   40,
		ExecuteRPM:     10,
		ExecuteBurst:   3,
	}

	if v := os.Getenv("SWARM_THROTTLE_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("invalid SWARM_THROTTLE_MS %q", v)
		}
		cfg.Throttle = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("MAX_BUDGET"); v != "" {
		b, err := strconv.ParseFloat(v, 64)
		if err != nil || b < MinBudget || b > MaxBudgetCap {
			return nil, fmt.Errorf("invalid MAX_BUDGET %q: must be in [%v, %v]", v, MinBudget, MaxBudgetCap)
		}
		cfg.MaxBudget = b
	}

	// Optional pricing file overrides the built-in table.
	if path := os.Getenv("MODEL_RATES_FILE"); path != "" {
		rates, err := loadModelRates(path)
		if err != nil {
			return nil, fmt.Errorf("loading model rates from %s: %w", path, err)
		}
		cfg.ModelRates = rates
	}

	return cfg, nil
}

// loadModelRates reads a YAML mapping of model name → {input, output} rates.
func loadModelRates(path string) (map[string]ModelRate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rates map[string]ModelRate
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if len(rates) == 0 {
		return nil, fmt.Errorf("pricing table is empty")
	}
	return rates, nil
}

// defaultModelRates is the built-in per-1000-token price table. The free
// swarm model is intentionally absent (zero rate).
func defaultModelRates() map[string]ModelRate {
	return map[string]ModelRate{
		"anthropic/claude-sonnet-4": {Input: 0.003, Output: 0.015},
		"openai/gpt-4o":             {Input: 0.0025, Output: 0.01},
		"openai/gpt-4o-mini":        {Input: 0.00015, Output: 0.0006},
	}
}

// Rate returns the pricing entry for a model; absent models are free.
func (c *Config) Rate(model string) ModelRate {
	return c.ModelRates[model]
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
