package chat

import (
	"fmt"
	"net/url"
	"strings"
)

// Defaults applied when no model configuration has been saved
const (
	DefaultProvider    = "openai"
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4"
	DefaultTemperature = float32(0.7)
	DefaultMaxTokens   = 4096
)

// ModelConfig selects the provider endpoint and sampling parameters.
// It is a comparable value; two configs are the same client when they are ==.
type ModelConfig struct {
	Provider    string  `json:"provider" yaml:"provider" mapstructure:"provider"`
	BaseURL     string  `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
	Model       string  `json:"model" yaml:"model" mapstructure:"model"`
	Temperature float32 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`
}

// DefaultConfig returns the built-in defaults with an empty API key
func DefaultConfig() ModelConfig {
	return ModelConfig{
		Provider:    DefaultProvider,
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
}

// WithDefaults fills unset fields from d
func (c ModelConfig) WithDefaults(d ModelConfig) ModelConfig {
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.BaseURL == "" {
		c.BaseURL = d.BaseURL
	}
	if c.APIKey == "" {
		c.APIKey = d.APIKey
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Validate reports configuration problems as a config Error
func (c ModelConfig) Validate() error {
	var problems []string

	if strings.TrimSpace(c.BaseURL) == "" {
		problems = append(problems, "base URL is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems = append(problems, fmt.Sprintf("base URL %q is not a valid http(s) URL", c.BaseURL))
	}
	if strings.TrimSpace(c.APIKey) == "" {
		problems = append(problems, "API key is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		problems = append(problems, "model is required")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		problems = append(problems, "temperature must be between 0 and 2")
	}
	if c.MaxTokens < 0 {
		problems = append(problems, "max tokens must not be negative")
	}

	if len(problems) > 0 {
		return &Error{Kind: KindConfig, Message: strings.Join(problems, "; ")}
	}
	return nil
}

// Endpoint joins the base URL and a path such as "/chat/completions"
func (c ModelConfig) Endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// MaskedAPIKey returns the key with all but the last four characters hidden
func (c ModelConfig) MaskedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + c.APIKey[len(c.APIKey)-4:]
}
