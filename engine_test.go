package summarizer_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/summarizer"
	"github.com/ineyio/summarizer/meter"
	"github.com/ineyio/summarizer/provider/mock"
	"github.com/ineyio/summarizer/quota"
)

var (
	errRateLimited = errors.New("429 RESOURCE_EXHAUSTED: Resource has been exhausted")
	errDaily       = errors.New("429 Quota exceeded for metric: generate_content requests per day")
)

func testConfig() summarizer.Config {
	cfg := summarizer.DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Tiers = []summarizer.ModelTier{
		{ID: "tier-1", Rank: 1},
		{ID: "tier-2", Rank: 2},
		{ID: "tier-3", Rank: 3},
	}
	return cfg
}

func someFields() []summarizer.FieldEntry {
	return []summarizer.FieldEntry{
		{Label: "Status", Value: "in progress"},
		{Label: "Notes", Value: "waiting on review"},
	}
}

// recordingSleeper stores requested waits and returns immediately.
type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration, _ summarizer.Progress) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

type countingMeter struct {
	mu        sync.Mutex
	attempts  []summarizer.AttemptEvent
	backoffs  []summarizer.BackoffEvent
	results   []summarizer.ResultEvent
	exhausted []summarizer.ExhaustedEvent
}

func (m *countingMeter) OnAttempt(e summarizer.AttemptEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, e)
}

func (m *countingMeter) OnBackoff(e summarizer.BackoffEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoffs = append(m.backoffs, e)
}

func (m *countingMeter) OnResult(e summarizer.ResultEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, e)
}

func (m *countingMeter) OnDailyExhausted(e summarizer.ExhaustedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exhausted = append(m.exhausted, e)
}

func newTestEngine(t *testing.T, cfg summarizer.Config, p summarizer.Provider, state *summarizer.QuotaState, opts ...summarizer.Option) *summarizer.Engine {
	t.Helper()
	if state == nil {
		state = summarizer.NewQuotaState()
	}
	base := []summarizer.Option{
		summarizer.WithSleeper(summarizer.NoSleep),
		summarizer.WithMeter(&meter.NoopMeter{}),
		summarizer.WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}
	e, err := summarizer.New(cfg, p, state, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

// Test 1: Success is finalized with a trailing period
func TestSummarize_AppendsPeriod(t *testing.T) {
	prov := mock.New(mock.WithScript("tier-1", mock.Reply("task is on track")))
	e := newTestEngine(t, testConfig(), prov, nil)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "task is on track.", res.Summary)
	assert.Equal(t, "task is on track.", res.Text())
	assert.Equal(t, "tier-1", res.Tier)
	assert.Equal(t, 1, res.Attempts)
}

// Test 2: Empty fields never reach the provider
func TestSummarize_EmptyFieldsNoCall(t *testing.T) {
	prov := mock.New()
	e := newTestEngine(t, testConfig(), prov, nil)

	res := e.Summarize(context.Background(), "Write docs", nil)
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonNoContent, res.Reason)

	res = e.Summarize(context.Background(), "Write docs", []summarizer.FieldEntry{
		{Label: "Status", Value: ""},
		{Label: "Notes", Value: "  "},
	})
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonNoContent, res.Reason)
	assert.Equal(t, "Status: (not provided)\nNotes: (not provided)", res.Text())

	assert.Equal(t, int64(0), prov.CallCount())
}

// Test 3: Three always-rate-limited tiers exhaust after nine attempts
func TestSummarize_AllTiersRateLimited(t *testing.T) {
	prov := mock.New(mock.WithError(errRateLimited))
	sleeper := &recordingSleeper{}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithSleeper(sleeper.Sleep))

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonAllTiersExhausted, res.Reason)
	assert.Equal(t, int64(9), prov.CallCount())
	assert.Equal(t, 9, res.Attempts)
	for _, tier := range []string{"tier-1", "tier-2", "tier-3"} {
		assert.Equal(t, 3, prov.ModelCalls(tier), tier)
	}

	want := []time.Duration{
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second,
		time.Second, 2 * time.Second,
	}
	assert.Equal(t, want, sleeper.waits)
}

// Test 4: Retries on the same tier and never escalates after success
func TestSummarize_RetryThenSuccess(t *testing.T) {
	prov := mock.New(mock.WithScript("tier-1",
		mock.Fail(errRateLimited),
		mock.Fail(errRateLimited),
		mock.Reply("done"),
	))
	e := newTestEngine(t, testConfig(), prov, nil)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "done.", res.Summary)
	assert.Equal(t, 3, prov.ModelCalls("tier-1"))
	assert.Equal(t, 0, prov.ModelCalls("tier-2"))
}

// Test 5: Daily exhaustion escalates, sets shared state and short-circuits later calls
func TestSummarize_DailyExhaustedThenShortCircuit(t *testing.T) {
	prov := mock.New(
		mock.WithScript("tier-1", mock.Fail(errDaily)),
		mock.WithScript("tier-2", mock.Reply("caught up")),
	)
	state := summarizer.NewQuotaState()
	m := &countingMeter{}
	e := newTestEngine(t, testConfig(), prov, state, summarizer.WithMeter(m))

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "caught up.", res.Summary)
	assert.Equal(t, "tier-2", res.Tier)

	exhausted, msg := state.Exhausted()
	assert.True(t, exhausted)
	assert.Equal(t, errDaily.Error(), msg)

	res = e.Summarize(context.Background(), "Another task", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonDailyExhausted, res.Reason)
	assert.Equal(t, 1, prov.ModelCalls("tier-1"))
	assert.Equal(t, int64(2), prov.CallCount())

	require.Len(t, m.exhausted, 1)
	assert.Equal(t, "tier-1", m.exhausted[0].Tier)
}

// Test 6: Daily exhaustion on every tier reports the daily reason
func TestSummarize_DailyExhaustedEverywhere(t *testing.T) {
	prov := mock.New(mock.WithError(errDaily))
	m := &countingMeter{}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithMeter(m))

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonDailyExhausted, res.Reason)
	assert.Equal(t, int64(3), prov.CallCount())
	assert.Len(t, m.exhausted, 1)
}

// Test 7: Reset clears the short-circuit
func TestSummarize_ResetDailyQuotaState(t *testing.T) {
	state := summarizer.NewQuotaState()
	state.MarkExhausted("requests per day")

	prov := mock.New(mock.WithText("back online"))
	e := newTestEngine(t, testConfig(), prov, state)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, summarizer.ReasonDailyExhausted, res.Reason)
	assert.Equal(t, int64(0), prov.CallCount())

	e.ResetDailyQuotaState()
	e.ResetDailyQuotaState()

	res = e.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "back online.", res.Summary)
}

// Test 8: Shared state is observed by every engine that holds it
func TestSummarize_SharedQuotaState(t *testing.T) {
	state := summarizer.NewQuotaState()
	first := newTestEngine(t, testConfig(), mock.New(mock.WithError(errDaily)), state)
	secondProv := mock.New()
	second := newTestEngine(t, testConfig(), secondProv, state)

	first.Summarize(context.Background(), "Write docs", someFields())

	res := second.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, summarizer.ReasonDailyExhausted, res.Reason)
	assert.Equal(t, int64(0), secondProv.CallCount())

	other := newTestEngine(t, testConfig(), mock.New(), nil)
	res = other.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
}

// Test 9: Fatal errors stop the ladder
func TestSummarize_FatalStopsLadder(t *testing.T) {
	prov := mock.New(mock.WithError(&summarizer.APIError{
		Provider:   "mock",
		StatusCode: 400,
		Message:    "invalid argument",
	}))
	e := newTestEngine(t, testConfig(), prov, nil)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonFatal, res.Reason)
	assert.Contains(t, res.Detail, "invalid argument")
	assert.Equal(t, int64(1), prov.CallCount())
	assert.Equal(t, "Status: in progress\nNotes: waiting on review", res.Text())
}

// Test 10: Unavailable escalates without retrying the tier
func TestSummarize_UnavailableEscalates(t *testing.T) {
	prov := mock.New(
		mock.WithScript("tier-1", mock.Fail(fmt.Errorf("%w: connection reset", summarizer.ErrProviderUnavailable))),
		mock.WithScript("tier-2", mock.Reply("recovered")),
	)
	sleeper := &recordingSleeper{}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithSleeper(sleeper.Sleep))

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, "recovered.", res.Summary)
	assert.Equal(t, 1, prov.ModelCalls("tier-1"))
	assert.Empty(t, sleeper.waits)
}

// Test 11: Service retry hints replace the computed wait
func TestSummarize_RetryHintUsed(t *testing.T) {
	hinted := &summarizer.APIError{Provider: "mock", StatusCode: 429, RetryDelay: 7 * time.Second}
	prov := mock.New(mock.WithScript("tier-1", mock.Fail(hinted), mock.Reply("ok")))
	sleeper := &recordingSleeper{}
	m := &countingMeter{}
	e := newTestEngine(t, testConfig(), prov, nil,
		summarizer.WithSleeper(sleeper.Sleep),
		summarizer.WithMeter(m),
	)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, "ok.", res.Summary)
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.waits)
	require.Len(t, m.backoffs, 1)
	assert.True(t, m.backoffs[0].Hinted)
	assert.Equal(t, 1, m.backoffs[0].Retry)
}

// Test 12: Progress sees every wait
func TestSummarize_ReportsProgress(t *testing.T) {
	prov := mock.New(mock.WithScript("tier-1", mock.Fail(errRateLimited), mock.Reply("ok")))
	p := &recordingProgress{}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithProgress(p))

	e.Summarize(context.Background(), "Write docs", someFields())

	require.Len(t, p.started, 1)
	assert.Equal(t, "Write docs", p.started[0].TaskName)
	assert.Equal(t, "tier-1", p.started[0].Tier)
	assert.Equal(t, time.Second, p.started[0].Duration)
	assert.Equal(t, 2, p.started[0].MaxRetries)
	assert.Equal(t, 1, p.done)
}

// Test 13: Cancellation during backoff ends the request
func TestSummarize_CanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prov := mock.New(mock.WithError(errRateLimited))
	sleeper := func(ctx context.Context, _ time.Duration, _ summarizer.Progress) error {
		cancel()
		return ctx.Err()
	}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithSleeper(sleeper))

	res := e.Summarize(ctx, "Write docs", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonCanceled, res.Reason)
	assert.Equal(t, int64(1), prov.CallCount())
}

// Test 14: No API key or provider disables calls and logs once
func TestSummarize_DisabledLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	cfg := testConfig()
	cfg.APIKey = ""
	prov := mock.New()
	e := newTestEngine(t, cfg, prov, nil, summarizer.WithLogger(logger))

	for i := 0; i < 3; i++ {
		res := e.Summarize(context.Background(), "Write docs", someFields())
		assert.True(t, res.Fallback)
		assert.Equal(t, summarizer.ReasonDisabled, res.Reason)
	}
	assert.Equal(t, int64(0), prov.CallCount())
	assert.Equal(t, 1, strings.Count(buf.String(), "ai summaries disabled"))

	nilProv := newTestEngine(t, testConfig(), nil, nil)
	res := nilProv.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, summarizer.ReasonDisabled, res.Reason)
}

// Test 15: Whitespace-only model output falls back
func TestSummarize_EmptyResponse(t *testing.T) {
	prov := mock.New(mock.WithScript("tier-1", mock.Reply(" \n ")))
	e := newTestEngine(t, testConfig(), prov, nil)

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.True(t, res.Fallback)
	assert.Equal(t, summarizer.ReasonEmptyResponse, res.Reason)

	prov = mock.New(mock.WithScript("tier-1", mock.Fail(summarizer.ErrEmptyResponse)))
	e = newTestEngine(t, testConfig(), prov, nil)
	res = e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, summarizer.ReasonEmptyResponse, res.Reason)
	assert.Equal(t, int64(1), prov.CallCount())
}

// Test 16: Prompt and generation settings reach the provider
func TestSummarize_RequestShape(t *testing.T) {
	var got summarizer.GenerateRequest
	prov := mock.New(mock.WithResponseFunc(func(req summarizer.GenerateRequest) (summarizer.GenerateResponse, error) {
		got = req
		return summarizer.GenerateResponse{Text: "ok"}, nil
	}))
	e := newTestEngine(t, testConfig(), prov, nil)

	e.Summarize(context.Background(), "Write docs", []summarizer.FieldEntry{
		{Label: "Status", Value: "in progress"},
		{Label: "Notes", Value: ""},
	})

	assert.Equal(t, "tier-1", got.Model)
	assert.Equal(t, "test-key", got.Auth.APIKey)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.3, *got.Temperature)
	require.NotNil(t, got.MaxOutputTokens)
	assert.Equal(t, 150, *got.MaxOutputTokens)
	assert.True(t, strings.HasPrefix(got.Prompt, "Task: Write docs\n\nStatus: in progress\nNotes: (not provided)\n\n"))
}

// Test 17: Local tier budget escalates without calling the provider
func TestSummarize_TierBudgetEscalates(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers[0].DailyQuota = 1

	prov := mock.New(mock.WithText("ok"))
	budget := quota.NewMemoryBudget()
	e := newTestEngine(t, cfg, prov, nil, summarizer.WithBudget(budget))

	res := e.Summarize(context.Background(), "First", someFields())
	assert.Equal(t, "tier-1", res.Tier)

	res = e.Summarize(context.Background(), "Second", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "tier-2", res.Tier)
	assert.Equal(t, 1, prov.ModelCalls("tier-1"))

	remaining, err := budget.Remaining(context.Background(), "tier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

// Test 18: Failed calls release their reservation
func TestSummarize_BudgetRollbackOnFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers = []summarizer.ModelTier{{ID: "tier-1", Rank: 1, DailyQuota: 5}}

	prov := mock.New(mock.WithError(errRateLimited))
	budget := quota.NewMemoryBudget()
	e := newTestEngine(t, cfg, prov, nil, summarizer.WithBudget(budget))

	e.Summarize(context.Background(), "Write docs", someFields())

	remaining, err := budget.Remaining(context.Background(), "tier-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), remaining)
}

// Test 19: Meter sees attempts and one result per call
func TestSummarize_MeterEvents(t *testing.T) {
	prov := mock.New(mock.WithScript("tier-1", mock.Fail(errRateLimited), mock.Reply("ok")))
	m := &countingMeter{}
	e := newTestEngine(t, testConfig(), prov, nil, summarizer.WithMeter(m))

	e.Summarize(context.Background(), "Write docs", someFields())

	require.Len(t, m.attempts, 2)
	assert.Equal(t, summarizer.OutcomeRateLimited, m.attempts[0].Outcome)
	assert.Error(t, m.attempts[0].Error)
	assert.Equal(t, summarizer.OutcomeSuccess, m.attempts[1].Outcome)
	assert.Equal(t, 2, m.attempts[1].Attempt)
	assert.Positive(t, m.attempts[1].EstimatedTokens)
	assert.Equal(t, m.attempts[0].RequestID, m.attempts[1].RequestID)

	require.Len(t, m.results, 1)
	assert.False(t, m.results[0].Fallback)
	assert.Equal(t, 2, m.results[0].Attempts)
}

// Test 20: Constructor contract violations
func TestNew_Validation(t *testing.T) {
	_, err := summarizer.New(testConfig(), mock.New(), nil)
	assert.ErrorIs(t, err, summarizer.ErrNilQuotaState)

	cfg := testConfig()
	cfg.MaxRetriesPerTier = -1
	_, err = summarizer.New(cfg, mock.New(), summarizer.NewQuotaState())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.Tiers = nil
	_, err = summarizer.New(cfg, mock.New(), summarizer.NewQuotaState())
	assert.ErrorIs(t, err, summarizer.ErrNoTiers)

	cfg = testConfig()
	cfg.MaxRetriesPerTier = 0
	prov := mock.New(mock.WithError(errRateLimited))
	sleeper := &recordingSleeper{}
	e := newTestEngine(t, cfg, prov, nil, summarizer.WithSleeper(sleeper.Sleep))
	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, summarizer.ReasonAllTiersExhausted, res.Reason)
	assert.Equal(t, int64(3), prov.CallCount())
	assert.Empty(t, sleeper.waits)
}

// Test 21: Ladder follows rank, not declaration order
func TestSummarize_RankOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Tiers = []summarizer.ModelTier{
		{ID: "expensive", Rank: 2},
		{ID: "cheap", Rank: 1},
	}
	var order []string
	prov := mock.New(
		mock.WithError(errors.New("503 unavailable")),
		mock.WithOnCall(func(model string, _ int) { order = append(order, model) }),
	)
	cfg.MaxRetriesPerTier = 1
	e := newTestEngine(t, cfg, prov, nil)

	e.Summarize(context.Background(), "Write docs", someFields())
	assert.Equal(t, []string{"cheap", "cheap", "expensive", "expensive"}, order)
	assert.Equal(t, []string{"cheap", "expensive"}, []string{e.Ladder().Tier(0).ID, e.Ladder().Tier(1).ID})
}

// Test 22: Exhausted gauge stays up after a later tier answers, until reset
func TestSummarize_DailyExhaustedGaugeHoldsUntilReset(t *testing.T) {
	prov := mock.New(
		mock.WithScript("tier-1", mock.Fail(errDaily)),
		mock.WithScript("tier-2", mock.Reply("caught up")),
	)
	state := summarizer.NewQuotaState()
	pm := meter.NewPromMeter(prometheus.NewRegistry(), state)
	e := newTestEngine(t, testConfig(), prov, state, summarizer.WithMeter(pm))

	res := e.Summarize(context.Background(), "Write docs", someFields())
	assert.False(t, res.Fallback)
	assert.Equal(t, "caught up.", res.Summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.DailyExhausted))
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.Exhaustions))

	res = e.Summarize(context.Background(), "Another task", someFields())
	assert.Equal(t, summarizer.ReasonDailyExhausted, res.Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(pm.DailyExhausted))

	e.ResetDailyQuotaState()
	assert.Equal(t, 0.0, testutil.ToFloat64(pm.DailyExhausted))
}
