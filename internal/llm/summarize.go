package llm

import (
	"context"
	"fmt"
	"strings"
)

const (
	summaryPromptZH = `你是专业的文档解读专家。请详细总结并解读文件'%s'的内容，要求：
1. 提炼关键要点和重要数据；
2. 分析潜在含义和实际应用建议；
3. 用结构化的 Markdown 格式呈现，确保可读性。`

	summaryPromptEN = `You are a professional document interpreter. Summarize and interpret the content of the file '%s' in detail:
1. Key points and important figures.
2. Implications and practical suggestions.
3. Structured Markdown formatting for readability.`
)

// Summarizer produces a structured interpretation of extracted text.
type Summarizer struct {
	client *Client
	prompt string
}

// NewSummarizer wraps client. A non-empty prompt overrides the built-in
// language-specific prompts and may contain one %s for the file name.
func NewSummarizer(client *Client, prompt string) *Summarizer {
	return &Summarizer{client: client, prompt: prompt}
}

// Summarize returns a Markdown summary of text. lang selects the prompt
// language ("zh" or "en").
func (s *Summarizer) Summarize(ctx context.Context, text, lang, displayName string) (string, error) {
	tmpl := s.prompt
	if tmpl == "" {
		tmpl = summaryPromptEN
		if lang == "zh" {
			tmpl = summaryPromptZH
		}
	}
	system := tmpl
	if strings.Contains(tmpl, "%s") {
		system = fmt.Sprintf(tmpl, displayName)
	}
	return s.client.Complete(ctx, []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: text},
	})
}
