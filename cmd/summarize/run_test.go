package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/summarizer"
	"github.com/ineyio/summarizer/provider/gemini"
	"github.com/ineyio/summarizer/provider/mock"
	"github.com/ineyio/summarizer/provider/openaicompat"
	"github.com/ineyio/summarizer/quota"
)

func init() {
	color.NoColor = true
}

func TestParseTasks_List(t *testing.T) {
	tasks, err := parseTasks([]byte(`
- name: Write docs
  fields:
    - {label: Status, value: in progress}
    - {label: Notes, value: ""}
- name: Ship
`))
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "Write docs", tasks[0].Name)
	assert.Equal(t, summarizer.FieldEntry{Label: "Status", Value: "in progress"}, tasks[0].Fields[0])
	assert.Empty(t, tasks[1].Fields)
}

func TestParseTasks_Document(t *testing.T) {
	tasks, err := parseTasks([]byte(`
tasks:
  - name: Write docs
    fields:
      - {label: Status, value: done}
`))
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "done", tasks[0].Fields[0].Value)
}

func TestParseTasks_Invalid(t *testing.T) {
	_, err := parseTasks([]byte("tasks: [unterminated"))
	assert.Error(t, err)
}

func TestOpenBudget(t *testing.T) {
	b, closeFn, err := openBudget(context.Background(), "", "", "")
	require.NoError(t, err)
	assert.IsType(t, &quota.MemoryBudget{}, b)
	closeFn()

	_, _, err = openBudget(context.Background(), "postgres", "", "")
	assert.Error(t, err)

	_, _, err = openBudget(context.Background(), "sqlite", "", "")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	assert.Nil(t, newProvider(summarizer.DefaultConfig()))

	cfg := summarizer.DefaultConfig()
	cfg.APIKey = "k"
	assert.IsType(t, &gemini.Provider{}, newProvider(cfg))

	cfg.Provider = summarizer.ProviderOpenAI
	p := newProvider(cfg)
	assert.IsType(t, &openaicompat.Provider{}, p)
	assert.Equal(t, "openai", p.Name())
}

func TestSummarizeAll_CountsOutcomes(t *testing.T) {
	cfg := summarizer.DefaultConfig()
	cfg.APIKey = "k"
	cfg.Tiers = []summarizer.ModelTier{{ID: "m1", Rank: 1}}

	prov := mock.New(
		mock.WithScript("m1",
			mock.Reply("I drafted the changelog"),
			mock.Fail(&summarizer.APIError{Provider: "mock", StatusCode: 403, Message: "API key not valid"}),
		),
	)
	engine, err := summarizer.New(cfg, prov, summarizer.NewQuotaState(), summarizer.WithSleeper(summarizer.NoSleep))
	require.NoError(t, err)

	tasks := []Task{
		{Name: "Release notes", Fields: []summarizer.FieldEntry{{Label: "Notes", Value: "drafted the changelog"}}},
		{Name: "Deploy", Fields: []summarizer.FieldEntry{{Label: "Status", Value: "blocked"}}},
		{Name: "Empty", Fields: []summarizer.FieldEntry{{Label: "Notes", Value: "  "}}},
	}

	var out bytes.Buffer
	stats := summarizeAll(context.Background(), engine, tasks, &out)

	assert.Equal(t, 1, stats.summarized)
	assert.Equal(t, 2, stats.fallbacks)
	assert.Equal(t, 1, stats.fatal)

	text := out.String()
	assert.Contains(t, text, "Release notes\nI drafted the changelog.\n")
	assert.Contains(t, text, "Deploy (fatal)\nStatus: blocked\n")
	assert.Contains(t, text, "Empty (no-content)\nNotes: (not provided)\n")
}

func TestSummarizeAll_StopsWhenCanceled(t *testing.T) {
	cfg := summarizer.DefaultConfig()
	cfg.APIKey = "k"
	cfg.Tiers = []summarizer.ModelTier{{ID: "m1", Rank: 1}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	prov := mock.New(
		mock.WithText("I drafted the changelog"),
		mock.WithOnCall(func(string, int) { cancel() }),
	)
	engine, err := summarizer.New(cfg, prov, summarizer.NewQuotaState(), summarizer.WithSleeper(summarizer.NoSleep))
	require.NoError(t, err)

	tasks := []Task{
		{Name: "Release notes", Fields: []summarizer.FieldEntry{{Label: "Notes", Value: "drafted the changelog"}}},
		{Name: "Deploy", Fields: []summarizer.FieldEntry{{Label: "Status", Value: "blocked"}}},
		{Name: "Docs", Fields: []summarizer.FieldEntry{{Label: "Status", Value: "todo"}}},
	}

	var out bytes.Buffer
	stats := summarizeAll(ctx, engine, tasks, &out)

	assert.Equal(t, int64(1), prov.CallCount())
	assert.Equal(t, 1, stats.summarized+stats.fallbacks)
	assert.Contains(t, out.String(), "Release notes")
	assert.NotContains(t, out.String(), "Deploy")
	assert.NotContains(t, out.String(), "Docs")
}

func TestCountdown_Output(t *testing.T) {
	var buf bytes.Buffer
	c := newCountdown(&buf)

	c.WaitStarted(summarizer.WaitInfo{TaskName: "Deploy", Tier: "m1", Duration: 4 * time.Second, Retry: 1, MaxRetries: 2})
	c.WaitTick(3 * time.Second)
	c.WaitDone()

	out := buf.String()
	assert.Contains(t, out, "Deploy on m1, retry 1/2 in 4s")
	assert.Contains(t, out, "retry 1/2 in 3s")
}
