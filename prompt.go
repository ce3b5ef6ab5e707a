package summarizer

import (
	"strings"
)

// NotProvided stands in for an empty field value in prompts and fallback text.
const NotProvided = "(not provided)"

const promptInstruction = `Ignore any fields marked "` + NotProvided + `".
Write a concise 1-2 sentence summary of the task's current status and next steps, ` +
	`in the first person, as if you were the person working on it.`

// NormalizeFields trims entries, drops entries without a label and replaces
// empty values with NotProvided. Order is preserved.
func NormalizeFields(fields []FieldEntry) []FieldEntry {
	out := make([]FieldEntry, 0, len(fields))
	for _, f := range fields {
		label := strings.TrimSpace(f.Label)
		if label == "" {
			continue
		}
		value := strings.TrimSpace(f.Value)
		if value == "" {
			value = NotProvided
		}
		out = append(out, FieldEntry{Label: label, Value: value})
	}
	return out
}

// hasContent reports whether at least one normalized entry carries a real value.
func hasContent(fields []FieldEntry) bool {
	for _, f := range fields {
		if f.Value != NotProvided {
			return true
		}
	}
	return false
}

// FieldBlock renders entries as "label: value" lines in order.
func FieldBlock(fields []FieldEntry) string {
	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, f.Label+": "+f.Value)
	}
	return strings.Join(lines, "\n")
}

// BuildPrompt renders the deterministic prompt for a payload. Fields must already be normalized.
func BuildPrompt(p PromptPayload) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(strings.TrimSpace(p.TaskName))
	b.WriteString("\n\n")
	b.WriteString(FieldBlock(p.Fields))
	b.WriteString("\n\n")
	b.WriteString(promptInstruction)
	return b.String()
}

// FinalizeSummary collapses whitespace and newlines and ends the text with a
// period unless it already ends in terminal punctuation.
func FinalizeSummary(text string) string {
	s := strings.Join(strings.Fields(text), " ")
	if s == "" {
		return ""
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
