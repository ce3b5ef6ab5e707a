package meter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ineyio/summarizer"
)

// PromMeter exports engine events as Prometheus metrics.
type PromMeter struct {
	Attempts        *prometheus.CounterVec
	AttemptLatency  *prometheus.HistogramVec
	BackoffSeconds  *prometheus.HistogramVec
	Results         *prometheus.CounterVec
	DailyExhausted  prometheus.GaugeFunc
	Exhaustions     prometheus.Counter
	TokensCompleted *prometheus.CounterVec
}

var _ summarizer.Meter = (*PromMeter)(nil)

// NewPromMeter registers the summarizer metrics on reg.
// If reg is nil, prometheus.DefaultRegisterer is used. The daily-exhausted
// gauge reads state on every scrape and is only registered when state is set.
func NewPromMeter(reg prometheus.Registerer, state *summarizer.QuotaState) *PromMeter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	m := &PromMeter{
		// Attempts tracks calls per tier and outcome
		Attempts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_attempts_total",
				Help: "Total number of generation attempts",
			},
			[]string{"tier", "outcome"},
		),
		AttemptLatency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_attempt_latency_seconds",
				Help:    "Generation call latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier"},
		),
		BackoffSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "summarizer_backoff_seconds",
				Help:    "Time spent waiting out rate limits",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
			},
			[]string{"tier"},
		),
		// Results tracks summaries by fallback reason; "none" means generated
		Results: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_results_total",
				Help: "Total number of summarize calls by fallback reason",
			},
			[]string{"reason"},
		),
		Exhaustions: f.NewCounter(
			prometheus.CounterOpts{
				Name: "summarizer_daily_exhaustions_total",
				Help: "Times the shared quota state flipped to exhausted",
			},
		),
		TokensCompleted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "summarizer_completion_tokens_total",
				Help: "Completion tokens reported by the service",
			},
			[]string{"tier"},
		),
	}

	if state != nil {
		m.DailyExhausted = f.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "summarizer_daily_exhausted",
				Help: "1 while generation is disabled by an exhausted daily quota",
			},
			func() float64 {
				if exhausted, _ := state.Exhausted(); exhausted {
					return 1
				}
				return 0
			},
		)
	}
	return m
}

func (m *PromMeter) OnAttempt(e summarizer.AttemptEvent) {
	m.Attempts.WithLabelValues(e.Tier, e.Outcome.String()).Inc()
	m.AttemptLatency.WithLabelValues(e.Tier).Observe(e.Duration.Seconds())
	if e.Usage.CompletionTokens > 0 {
		m.TokensCompleted.WithLabelValues(e.Tier).Add(float64(e.Usage.CompletionTokens))
	}
}

func (m *PromMeter) OnBackoff(e summarizer.BackoffEvent) {
	m.BackoffSeconds.WithLabelValues(e.Tier).Observe(e.Wait.Seconds())
}

func (m *PromMeter) OnResult(e summarizer.ResultEvent) {
	reason := string(e.Reason)
	if reason == "" {
		reason = "none"
	}
	m.Results.WithLabelValues(reason).Inc()
}

func (m *PromMeter) OnDailyExhausted(summarizer.ExhaustedEvent) {
	m.Exhaustions.Inc()
}
