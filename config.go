package summarizer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Provider names accepted in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is the top-level summarizer configuration.
// MaxRetriesPerTier is taken literally: 0 escalates on the first rate limit.
// Start from DefaultConfig to get the default of 2.
type Config struct {
	APIKey            string      `yaml:"api_key"`
	Provider          string      `yaml:"provider"`
	BaseURL           string      `yaml:"base_url"`
	MaxRetriesPerTier int         `yaml:"max_retries_per_tier"`
	Temperature       float64     `yaml:"temperature"`
	MaxOutputTokens   int         `yaml:"max_output_tokens"`
	Tiers             []ModelTier `yaml:"tiers"`
}

// DefaultTiers is the ladder used when a config names none: cheapest first.
func DefaultTiers() []ModelTier {
	return []ModelTier{
		{ID: "gemini-flash-lite-latest", DailyQuota: 1000, RPMQuota: 15, Rank: 1},
		{ID: "gemini-2.5-flash-lite", DailyQuota: 1000, RPMQuota: 15, Rank: 2},
		{ID: "gemini-2.5-flash", DailyQuota: 250, RPMQuota: 10, Rank: 3},
	}
}

// DefaultConfig returns a Gemini config with the default ladder and no API key.
func DefaultConfig() Config {
	return Config{
		Provider:          ProviderGemini,
		MaxRetriesPerTier: DefaultMaxRetries,
		Temperature:       0.3,
		MaxOutputTokens:   150,
		Tiers:             DefaultTiers(),
	}
}

// LoadConfig reads and parses a YAML config file over DefaultConfig.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("summarizer: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML config bytes over DefaultConfig.
func ParseConfig(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	cfg.Tiers = nil
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("summarizer: parse config: %w", err)
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
// A missing API key is valid: the engine then falls back for every task.
func (c Config) Validate() error {
	switch c.Provider {
	case "", ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("summarizer: config: unknown provider %q", c.Provider)
	}
	if c.MaxRetriesPerTier < 0 {
		return fmt.Errorf("summarizer: config: max_retries_per_tier must not be negative")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("summarizer: config: temperature %v out of range [0, 2]", c.Temperature)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("summarizer: config: max_output_tokens must not be negative")
	}
	if _, err := NewTierLadder(c.Tiers); err != nil {
		return fmt.Errorf("summarizer: config: %w", err)
	}
	return nil
}
