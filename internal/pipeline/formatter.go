package pipeline

import "strings"

const (
	DefaultTitle = "LANGSMITH Q&A AGENT"
	ruleWidth    = 80
)

// Format lays out a question and its answer under a banner. Both are inserted verbatim.
func Format(title, question, answer string) string {
	rule := strings.Repeat("=", ruleWidth)

	var b strings.Builder
	b.WriteString(rule + "\n")
	b.WriteString(title + "\n")
	b.WriteString(rule + "\n\n")
	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer:\n")
	b.WriteString(answer)
	b.WriteString("\n\n" + rule + "\n")
	return b.String()
}
