// Package mock provides a scriptable summarizer.Provider for tests.
package mock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/summarizer"
)

// Step is one scripted reply. A non-nil Err is returned instead of Text.
type Step struct {
	Text string
	Err  error
}

// Reply returns a successful step.
func Reply(text string) Step { return Step{Text: text} }

// Fail returns a failing step.
func Fail(err error) Step { return Step{Err: err} }

// Provider is a mock generative-text provider for testing.
type Provider struct {
	name         string
	latency      time.Duration
	staticErr    error
	defaultText  string
	usage        summarizer.Usage
	responseFunc func(summarizer.GenerateRequest) (summarizer.GenerateResponse, error)

	callCount atomic.Int64

	mu       sync.Mutex
	scripts  map[string][]Step
	perModel map[string]int
	prompts  []string
	onCall   func(model string, n int)
}

var _ summarizer.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name:        "mock",
		defaultText: "Hello from mock provider",
		usage: summarizer.Usage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		scripts:  make(map[string][]Step),
		perModel: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithText sets the reply used once a model's script is used up.
func WithText(text string) Option {
	return func(p *Provider) { p.defaultText = text }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u summarizer.Usage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithScript queues steps for a model, consumed one per call.
func WithScript(model string, steps ...Step) Option {
	return func(p *Provider) { p.scripts[model] = append(p.scripts[model], steps...) }
}

// WithResponseFunc sets a custom response function. It runs after scripts are used up.
func WithResponseFunc(fn func(summarizer.GenerateRequest) (summarizer.GenerateResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

// WithOnCall registers a hook invoked with the model and its 1-based call number.
func WithOnCall(fn func(model string, n int)) Option {
	return func(p *Provider) { p.onCall = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Generate(ctx context.Context, req summarizer.GenerateRequest) (summarizer.GenerateResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return summarizer.GenerateResponse{}, ctx.Err()
		}
	}

	p.callCount.Add(1)

	p.mu.Lock()
	p.perModel[req.Model]++
	n := p.perModel[req.Model]
	p.prompts = append(p.prompts, req.Prompt)
	var step *Step
	if queue := p.scripts[req.Model]; len(queue) > 0 {
		step = &queue[0]
		p.scripts[req.Model] = queue[1:]
	}
	onCall := p.onCall
	p.mu.Unlock()

	if onCall != nil {
		onCall(req.Model, n)
	}

	if step != nil {
		if step.Err != nil {
			return summarizer.GenerateResponse{}, step.Err
		}
		return p.reply(req, step.Text), nil
	}

	if p.staticErr != nil {
		return summarizer.GenerateResponse{}, p.staticErr
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return p.reply(req, p.defaultText), nil
}

func (p *Provider) reply(req summarizer.GenerateRequest, text string) summarizer.GenerateResponse {
	return summarizer.GenerateResponse{
		Text:         text,
		FinishReason: "stop",
		Usage:        p.usage,
		Model:        req.Model,
	}
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// ModelCalls returns the number of calls made against one model.
func (p *Provider) ModelCalls(model string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.perModel[model]
}

// Prompts returns the prompts received so far, in call order.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.prompts...)
}
