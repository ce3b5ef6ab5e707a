// Package summarizer turns task fields into short status summaries with a
// generative-text service. Calls escalate through a rank-ordered ladder of
// model tiers, back off on transient rate limits, and stop calling out for
// the rest of the process once a daily quota is hit. Every failure resolves
// to a fallback Result that tells the caller to show the original content.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine drives summarization requests through the tier ladder.
type Engine struct {
	cfg      Config
	provider Provider
	ladder   *TierLadder
	state    *QuotaState
	backoff  Backoff
	budget   TierBudget
	meter    Meter
	progress Progress
	sleep    Sleeper
	logger   *slog.Logger

	disabledOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithBudget sets the local per-tier quota budget.
func WithBudget(b TierBudget) Option {
	return func(e *Engine) { e.budget = b }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(e *Engine) { e.meter = m }
}

// WithProgress sets the sink for backoff countdowns.
func WithProgress(p Progress) Option {
	return func(e *Engine) { e.progress = p }
}

// WithSleeper replaces the backoff wait. Tests use NoSleep.
func WithSleeper(s Sleeper) Option {
	return func(e *Engine) { e.sleep = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine. A nil provider or an empty cfg.APIKey is allowed and
// makes every Summarize call fall back without calling out. state is shared
// by every engine that should observe the same daily exhaustion and is required.
func New(cfg Config, provider Provider, state *QuotaState, opts ...Option) (*Engine, error) {
	if state == nil {
		return nil, ErrNilQuotaState
	}
	if cfg.MaxRetriesPerTier < 0 {
		return nil, fmt.Errorf("summarizer: max retries per tier must not be negative")
	}

	ladder, err := NewTierLadder(cfg.Tiers)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		provider: provider,
		ladder:   ladder,
		state:    state,
		backoff:  Backoff{MaxRetries: cfg.MaxRetriesPerTier},
	}

	for _, opt := range opts {
		opt(e)
	}

	// Apply defaults after options.
	if e.budget == nil {
		e.budget = noopBudget{}
	}
	if e.meter == nil {
		e.meter = noopMeter{}
	}
	if e.progress == nil {
		e.progress = noopProgress{}
	}
	if e.sleep == nil {
		e.sleep = CountdownSleeper
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}

	if bi, ok := e.budget.(BudgetInitializer); ok {
		for _, t := range ladder.Tiers() {
			bi.SetLimits(t.ID, t.DailyQuota, t.RPMQuota)
		}
	}

	return e, nil
}

// Ladder returns the engine's tier ladder.
func (e *Engine) Ladder() *TierLadder { return e.ladder }

// ResetDailyQuotaState clears the shared daily-exhausted flag. It is meant for
// tests and long-running processes that cross a quota reset boundary.
func (e *Engine) ResetDailyQuotaState() {
	e.state.Reset()
}

// Summarize returns a summary of the task, or a fallback Result whose Text is
// the original field content. It never fails on service errors.
func (e *Engine) Summarize(ctx context.Context, taskName string, fields []FieldEntry) Result {
	start := time.Now()
	normalized := NormalizeFields(fields)
	rc := &RetryContext{RequestID: uuid.New().String()}

	res := e.summarize(ctx, taskName, normalized, rc)
	res.Original = FieldBlock(normalized)
	res.Attempts = rc.TotalAttempts

	e.meter.OnResult(ResultEvent{
		RequestID: rc.RequestID,
		TaskName:  taskName,
		Tier:      res.Tier,
		Fallback:  res.Fallback,
		Reason:    res.Reason,
		Detail:    res.Detail,
		Attempts:  res.Attempts,
		Duration:  time.Since(start),
	})
	return res
}

func (e *Engine) summarize(ctx context.Context, taskName string, fields []FieldEntry, rc *RetryContext) Result {
	if !hasContent(fields) {
		return fallback(ReasonNoContent, "nothing to summarize")
	}

	if reason := e.disabledReason(); reason != "" {
		e.disabledOnce.Do(func() {
			e.logger.Warn("ai summaries disabled, using original content", "reason", reason)
		})
		return fallback(ReasonDisabled, reason)
	}

	if exhausted, msg := e.state.Exhausted(); exhausted {
		return fallback(ReasonDailyExhausted, msg)
	}

	prompt := BuildPrompt(PromptPayload{TaskName: taskName, Fields: fields})
	return e.runLadder(ctx, taskName, prompt, rc)
}

func (e *Engine) disabledReason() string {
	if e.provider == nil {
		return "generative-text provider not available"
	}
	if e.cfg.APIKey == "" {
		return "no API key configured"
	}
	return ""
}

// runLadder executes the escalation state machine until it reaches a terminal state.
func (e *Engine) runLadder(ctx context.Context, taskName, prompt string, rc *RetryContext) Result {
	var (
		last     Attempt
		sawDaily bool
		state    = stateAttempting
	)

	for !state.terminal() {
		tier := e.ladder.Tier(rc.TierIndex)

		switch state {
		case stateAttempting:
			last = e.attempt(ctx, taskName, prompt, tier, rc)
			if last.Outcome != OutcomeSuccess && ctx.Err() != nil {
				state = stateCanceled
				continue
			}
			if last.Outcome == OutcomeDailyExhausted {
				sawDaily = true
				e.markExhausted(rc, tier, last.Message)
			}
			state = nextState(last.Outcome, e.backoff.ShouldRetry(rc.AttemptWithinTier))

		case stateBackoff:
			if err := e.wait(ctx, taskName, tier, last, rc); err != nil {
				state = stateCanceled
				continue
			}
			rc.AttemptWithinTier++
			state = stateAttempting

		case stateEscalate:
			state = escalate(rc, e.ladder.Len())
			if state == stateAttempting {
				e.logger.Info("escalating to next tier",
					"task", taskName,
					"from", tier.ID,
					"to", e.ladder.Tier(rc.TierIndex).ID,
					"outcome", last.Outcome.String(),
				)
			}
		}
	}

	return e.terminal(ctx, state, taskName, last, sawDaily, rc)
}

func (e *Engine) terminal(ctx context.Context, state ladderState, taskName string, last Attempt, sawDaily bool, rc *RetryContext) Result {
	tier := e.ladder.Tier(rc.TierIndex)

	switch state {
	case stateDelivered:
		summary := FinalizeSummary(last.Text)
		if summary == "" {
			e.logger.Warn("empty response from model, using original content", "task", taskName, "tier", tier.ID)
			return fallback(ReasonEmptyResponse, "model returned no text")
		}
		e.logger.Info("summary generated", "task", taskName, "tier", tier.ID, "attempts", rc.TotalAttempts)
		return Result{Summary: summary, Tier: tier.ID}

	case stateFatal:
		e.logger.Warn("summary failed, using original content",
			"task", taskName, "tier", tier.ID, "error", last.Message)
		return fallback(ReasonFatal, last.Message)

	case stateCanceled:
		detail := "canceled"
		if err := ctx.Err(); err != nil {
			detail = err.Error()
		}
		e.logger.Info("summary canceled", "task", taskName, "tier", tier.ID)
		return fallback(ReasonCanceled, detail)

	default:
		if exhausted, msg := e.state.Exhausted(); sawDaily || exhausted {
			e.logger.Warn("daily limit hit, summaries disabled until reset",
				"task", taskName, "message", msg)
			return fallback(ReasonDailyExhausted, msg)
		}
		e.logger.Warn("all tiers rate limited, try again later",
			"task", taskName, "tiers", e.ladder.Len(), "attempts", rc.TotalAttempts)
		return fallback(ReasonAllTiersExhausted, last.Message)
	}
}

// attempt reserves local budget and makes one call against tier.
func (e *Engine) attempt(ctx context.Context, taskName, prompt string, tier ModelTier, rc *RetryContext) Attempt {
	rc.TotalAttempts++
	idemKey := fmt.Sprintf("%s-%d", rc.RequestID, rc.TotalAttempts)

	reservation, err := e.budget.Reserve(ctx, tier.ID, idemKey)
	if err != nil {
		switch {
		case errors.Is(err, ErrQuotaExceeded):
			a := Attempt{Outcome: OutcomeTierQuotaExhausted, Message: err.Error()}
			e.recordAttempt(rc, taskName, tier, a, 0, 0, Usage{}, err)
			return a
		case errors.Is(err, ErrRateLimited):
			a := Attempt{Outcome: OutcomeRateLimited, Message: err.Error()}
			e.recordAttempt(rc, taskName, tier, a, 0, 0, Usage{}, err)
			return a
		default:
			// Budget store failures must not block summaries.
			e.logger.Warn("tier budget unavailable", "tier", tier.ID, "error", err)
			reservation = Reservation{}
		}
	}

	req := GenerateRequest{
		Auth:   Auth{APIKey: e.cfg.APIKey},
		Model:  tier.ID,
		Prompt: prompt,
	}
	req.Temperature = Float64Ptr(e.cfg.Temperature)
	if e.cfg.MaxOutputTokens > 0 {
		req.MaxOutputTokens = IntPtr(e.cfg.MaxOutputTokens)
	}

	start := time.Now()
	resp, err := e.provider.Generate(ctx, req)
	duration := time.Since(start)

	var a Attempt
	switch {
	case err == nil:
		a = Attempt{Outcome: OutcomeSuccess, Text: resp.Text}
	case errors.Is(err, ErrEmptyResponse):
		a = Attempt{Outcome: OutcomeSuccess}
	default:
		a = Classify(err)
	}

	if reservation.ID != "" {
		if a.Outcome == OutcomeSuccess {
			err = errors.Join(err, e.budget.Commit(ctx, reservation))
		} else {
			err = errors.Join(err, e.budget.Rollback(context.WithoutCancel(ctx), reservation))
		}
	}

	e.recordAttempt(rc, taskName, tier, a, duration, EstimateTokens(prompt), resp.Usage, err)
	return a
}

func (e *Engine) recordAttempt(rc *RetryContext, taskName string, tier ModelTier, a Attempt, d time.Duration, estimated int64, usage Usage, err error) {
	var tierErr error
	if err != nil {
		tierErr = &TierError{
			Err:      err,
			Provider: e.providerName(),
			Tier:     tier.ID,
			Attempt:  rc.AttemptWithinTier + 1,
		}
	}
	e.meter.OnAttempt(AttemptEvent{
		RequestID:       rc.RequestID,
		TaskName:        taskName,
		Provider:        e.providerName(),
		Tier:            tier.ID,
		TierIndex:       rc.TierIndex,
		Attempt:         rc.AttemptWithinTier + 1,
		Outcome:         a.Outcome,
		Duration:        d,
		EstimatedTokens: estimated,
		Usage:           usage,
		Error:           tierErr,
	})
}

// wait sleeps out a rate limit on the current tier, reporting progress.
func (e *Engine) wait(ctx context.Context, taskName string, tier ModelTier, last Attempt, rc *RetryContext) error {
	d := e.backoff.WaitDuration(rc.AttemptWithinTier, last.RetryAfter)
	retry := rc.AttemptWithinTier + 1

	e.logger.Warn("rate limited, waiting before retry",
		"task", taskName,
		"tier", tier.ID,
		"wait", d,
		"retry", retry,
		"max_retries", e.backoff.MaxRetries,
	)
	e.meter.OnBackoff(BackoffEvent{
		RequestID: rc.RequestID,
		TaskName:  taskName,
		Tier:      tier.ID,
		Retry:     retry,
		Wait:      d,
		Hinted:    last.RetryAfter > 0,
	})

	e.progress.WaitStarted(WaitInfo{
		TaskName:   taskName,
		Tier:       tier.ID,
		Duration:   d,
		Retry:      retry,
		MaxRetries: e.backoff.MaxRetries,
	})
	defer e.progress.WaitDone()

	return e.sleep(ctx, d, e.progress)
}

func (e *Engine) markExhausted(rc *RetryContext, tier ModelTier, message string) {
	if exhausted, _ := e.state.Exhausted(); !exhausted {
		e.logger.Warn("daily quota exhausted, summaries will use original content until reset",
			"tier", tier.ID, "message", message)
		e.meter.OnDailyExhausted(ExhaustedEvent{
			RequestID: rc.RequestID,
			Tier:      tier.ID,
			Message:   message,
		})
	}
	e.state.MarkExhausted(message)
}

func (e *Engine) providerName() string {
	if e.provider == nil {
		return ""
	}
	return e.provider.Name()
}

func fallback(reason FallbackReason, detail string) Result {
	return Result{Fallback: true, Reason: reason, Detail: detail}
}
