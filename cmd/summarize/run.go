package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ineyio/summarizer"
	"github.com/ineyio/summarizer/meter"
	"github.com/ineyio/summarizer/provider/gemini"
	"github.com/ineyio/summarizer/provider/openaicompat"
)

var (
	runConfigPath  string
	runInputPath   string
	runBudget      string
	runRedisAddr   string
	runDatabaseURL string
	runMetricsAddr string
	runFailOnFatal bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Summarize every task in an input file",
	Long: `Run reads a YAML list of tasks and prints one line per task: the generated
summary, or the original fields when no summary could be produced.

Input format:
  - name: Write release notes
    fields:
      - {label: Status, value: in progress}
      - {label: Notes, value: drafted the changelog}

Budget backends (--budget):
  - memory:   per-process daily and per-minute counters (default)
  - redis:    counters shared by every process using --redis-addr
  - postgres: counters persisted in --database-url`,
	RunE: runSummaries,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "config file (default: built-in Gemini ladder)")
	runCmd.Flags().StringVar(&runInputPath, "input", "", "YAML file with the tasks to summarize")
	runCmd.Flags().StringVar(&runBudget, "budget", budgetMemory, "tier budget backend: memory, redis or postgres")
	runCmd.Flags().StringVar(&runRedisAddr, "redis-addr", "localhost:6379", "Redis address for --budget redis")
	runCmd.Flags().StringVar(&runDatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL URL for --budget postgres")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().BoolVar(&runFailOnFatal, "fail-on-fatal", false, "exit non-zero if any task hit a non-retryable error")
	_ = runCmd.MarkFlagRequired("input")
}

func runSummaries(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	tasks, err := loadTasks(runInputPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	budget, closeBudget, err := openBudget(ctx, runBudget, runRedisAddr, runDatabaseURL)
	if err != nil {
		return err
	}
	defer closeBudget()

	state := summarizer.NewQuotaState()
	meters := []summarizer.Meter{meter.NewLogMeter(slog.Default().With("component", "meter"))}
	if runMetricsAddr != "" {
		meters = append(meters, meter.NewPromMeter(nil, state))
		srv := serveMetrics(runMetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	engine, err := summarizer.New(cfg, newProvider(cfg), state,
		summarizer.WithBudget(budget),
		summarizer.WithMeter(meter.NewMulti(meters...)),
		summarizer.WithProgress(newCountdown(os.Stderr)),
	)
	if err != nil {
		return err
	}

	stats := summarizeAll(ctx, engine, tasks, cmd.OutOrStdout())

	slog.Info("run finished",
		"tasks", len(tasks),
		"summarized", stats.summarized,
		"fallbacks", stats.fallbacks,
		"fatal", stats.fatal,
	)

	if runFailOnFatal && stats.fatal > 0 {
		return fmt.Errorf("%d task(s) failed with a non-retryable error", stats.fatal)
	}
	return nil
}

type runStats struct {
	summarized int
	fallbacks  int
	fatal      int
}

// summarizeAll runs tasks sequentially and prints one block per task.
func summarizeAll(ctx context.Context, engine *summarizer.Engine, tasks []Task, out io.Writer) runStats {
	var stats runStats
	header := color.New(color.Bold)
	tag := color.New(color.FgYellow)

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		res := engine.Summarize(ctx, task.Name, task.Fields)

		switch {
		case !res.Fallback:
			stats.summarized++
			fmt.Fprintf(out, "%s\n%s\n\n", header.Sprint(task.Name), res.Text())
		default:
			stats.fallbacks++
			if res.Reason == summarizer.ReasonFatal {
				stats.fatal++
			}
			fmt.Fprintf(out, "%s %s\n%s\n\n", header.Sprint(task.Name), tag.Sprintf("(%s)", res.Reason), res.Text())
		}
	}
	return stats
}

func loadConfig(path string) (summarizer.Config, error) {
	if path == "" {
		cfg := summarizer.DefaultConfig()
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		return cfg, nil
	}
	return summarizer.LoadConfig(path)
}

// newProvider returns nil when no API key is configured; the engine then falls back.
func newProvider(cfg summarizer.Config) summarizer.Provider {
	if cfg.APIKey == "" {
		return nil
	}
	switch cfg.Provider {
	case summarizer.ProviderOpenAI:
		if cfg.BaseURL != "" {
			return openaicompat.New(summarizer.ProviderOpenAI, cfg.BaseURL)
		}
		return openaicompat.NewOpenAI()
	default:
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return gemini.New(opts...)
	}
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
