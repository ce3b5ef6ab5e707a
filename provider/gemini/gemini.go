// Package gemini adapts the Google Generative Language API to summarizer.Provider.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ineyio/summarizer"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

const (
	retryInfoType    = "type.googleapis.com/google.rpc.RetryInfo"
	quotaFailureType = "type.googleapis.com/google.rpc.QuotaFailure"
)

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	httpClient *http.Client
	mimeType   string
}

var _ summarizer.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithResponseMIMEType overrides the requested response MIME type (default "text/plain").
func WithResponseMIMEType(mime string) Option {
	return func(p *Provider) { p.mimeType = mime }
}

// New creates a new Gemini provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		mimeType:   "text/plain",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return summarizer.ProviderGemini }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxOutputTokens  *int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
		TotalTokenCount      int64 `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// geminiError is the google.rpc.Status envelope returned on failures.
type geminiError struct {
	Error struct {
		Code    int               `json:"code"`
		Message string            `json:"message"`
		Status  string            `json:"status"`
		Details []json.RawMessage `json:"details"`
	} `json:"error"`
}

type errorDetail struct {
	Type       string `json:"@type"`
	RetryDelay string `json:"retryDelay"`
	Violations []struct {
		QuotaMetric string `json:"quotaMetric"`
		QuotaID     string `json:"quotaId"`
	} `json:"violations"`
}

// Generate calls models/{model}:generateContent with a single user turn.
func (p *Provider) Generate(ctx context.Context, req summarizer.GenerateRequest) (summarizer.GenerateResponse, error) {
	body := p.buildRequest(req)
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)

	httpResp, err := p.doRequest(ctx, url, req.Auth.APIKey, body)
	if err != nil {
		return summarizer.GenerateResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return summarizer.GenerateResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return summarizer.GenerateResponse{}, fmt.Errorf("summarizer: decode gemini response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return summarizer.GenerateResponse{}, summarizer.ErrEmptyResponse
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return summarizer.GenerateResponse{}, summarizer.ErrEmptyResponse
	}

	model := req.Model
	if resp.ModelVersion != "" {
		model = resp.ModelVersion
	}

	return summarizer.GenerateResponse{
		Text:         text.String(),
		FinishReason: strings.ToLower(resp.Candidates[0].FinishReason),
		Model:        model,
		Usage: summarizer.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
	}, nil
}

func (p *Provider) buildRequest(req summarizer.GenerateRequest) geminiRequest {
	gr := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: req.Prompt}},
		}},
	}

	gr.GenerationConfig = &geminiGenerationConfig{
		Temperature:      req.Temperature,
		MaxOutputTokens:  req.MaxOutputTokens,
		ResponseMIMEType: p.mimeType,
	}

	return gr
}

func (p *Provider) doRequest(ctx context.Context, url, apiKey string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("summarizer: marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("summarizer: create gemini request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: gemini: %v", summarizer.ErrProviderUnavailable, err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<10))

	apiErr := &summarizer.APIError{
		Provider:   summarizer.ProviderGemini,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}

	var envelope geminiError
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apiErr
	}

	apiErr.Status = envelope.Error.Status
	apiErr.Message = envelope.Error.Message
	for _, raw := range envelope.Error.Details {
		var d errorDetail
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		switch d.Type {
		case retryInfoType:
			if delay, err := time.ParseDuration(d.RetryDelay); err == nil && delay > 0 {
				apiErr.RetryDelay = delay
			}
		case quotaFailureType:
			for _, v := range d.Violations {
				if v.QuotaID != "" {
					apiErr.QuotaIDs = append(apiErr.QuotaIDs, v.QuotaID)
				}
			}
		}
	}
	return apiErr
}
