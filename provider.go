package summarizer

import "context"

// Provider is the interface that generative-text adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "gemini", "openai").
	Name() string

	// Generate produces text for a single prompt against req.Model.
	// Failures should be *APIError for HTTP responses and wrap
	// ErrProviderUnavailable when no response was received.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// Auth holds authentication credentials for a provider.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// GenerateRequest is the request sent to a provider adapter.
type GenerateRequest struct {
	Auth   Auth
	Model  string
	Prompt string

	Temperature     *float64
	MaxOutputTokens *int
}

// GenerateResponse is the response from a provider adapter.
type GenerateResponse struct {
	Text         string
	FinishReason string
	Usage        Usage
	Model        string
}

// Usage represents token usage information.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }

// Float64Ptr returns a pointer to the given float64.
func Float64Ptr(v float64) *float64 { return &v }
