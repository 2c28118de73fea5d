package agent

import "strings"

const (
	// DefaultInstruction prefixes a prompt that carries no history.
	DefaultInstruction = "请用中文回答以下问题："

	// DefaultHistoryPreamble introduces the rendered history block.
	DefaultHistoryPreamble = "以下是我们之前的对话历史，请基于这个上下文用中文回答我的问题："

	// DefaultHistoryQuestion introduces the current message after the history block.
	DefaultHistoryQuestion = "现在，请用中文回答我的问题："
)

// PromptBuilder assembles the text handed to q chat.
type PromptBuilder struct {
	Instruction     string
	HistoryPreamble string
	HistoryQuestion string
}

// DefaultPromptBuilder returns a builder with the stock Chinese instructions.
func DefaultPromptBuilder() PromptBuilder {
	return PromptBuilder{
		Instruction:     DefaultInstruction,
		HistoryPreamble: DefaultHistoryPreamble,
		HistoryQuestion: DefaultHistoryQuestion,
	}
}

// Build returns the prompt for message. The history block is included only
// when history is non-empty.
func (b PromptBuilder) Build(history, message string) string {
	if strings.TrimSpace(history) == "" {
		return b.Instruction + message
	}

	var sb strings.Builder
	sb.WriteString(b.HistoryPreamble)
	sb.WriteString("\n\n")
	sb.WriteString(history)
	sb.WriteString("\n\n")
	sb.WriteString(b.HistoryQuestion)
	sb.WriteString(message)
	return sb.String()
}
