package summarizer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/summarizer"
)

func TestNormalizeFields(t *testing.T) {
	got := summarizer.NormalizeFields([]summarizer.FieldEntry{
		{Label: " Status ", Value: " in progress "},
		{Label: "", Value: "orphan"},
		{Label: "Notes", Value: "   "},
	})
	assert.Equal(t, []summarizer.FieldEntry{
		{Label: "Status", Value: "in progress"},
		{Label: "Notes", Value: summarizer.NotProvided},
	}, got)
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	payload := summarizer.PromptPayload{
		TaskName: "Write docs",
		Fields: []summarizer.FieldEntry{
			{Label: "Status", Value: "in progress"},
			{Label: "Notes", Value: summarizer.NotProvided},
		},
	}

	p := summarizer.BuildPrompt(payload)
	assert.Equal(t, p, summarizer.BuildPrompt(payload))
	assert.Contains(t, p, "Task: Write docs\n\nStatus: in progress\nNotes: (not provided)\n\n")
	assert.Contains(t, p, "first person")
	assert.Contains(t, p, "1-2 sentence")
}

func TestFinalizeSummary(t *testing.T) {
	tests := map[string]string{
		"task is on track":               "task is on track.",
		"  done  ":                       "done.",
		"Shipped it!":                    "Shipped it!",
		"Blocked?":                       "Blocked?",
		"Already ends.":                  "Already ends.",
		"I fixed\nthe build\n\nand left": "I fixed the build and left.",
		"   \n ":                         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, summarizer.FinalizeSummary(in), "%q", in)
	}
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), summarizer.EstimateTokens(""))
	assert.Equal(t, int64(10), summarizer.EstimateTokens("123456789012"))
}
