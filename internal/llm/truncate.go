package llm

import (
	"github.com/cloudwego/eino/schema"
)

// safetyMargin is kept free on top of the reply budget.
const safetyMargin = 512

// EstimateTokens approximates the prompt size at four characters per token
// plus a small per-message overhead.
func EstimateTokens(messages []*schema.Message) int {
	n := 0
	for _, m := range messages {
		if m == nil {
			continue
		}
		chars := len(m.Content) + len(m.ReasoningContent)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Function.Name) + len(tc.Function.Arguments)
		}
		n += chars/4 + 4
	}
	return n
}

// Truncate drops the oldest messages until the estimate fits budget. System
// messages and the most recent user turn are never dropped. Tool replies
// are dropped together with the assistant message that requested them.
func Truncate(messages []*schema.Message, budget int) ([]*schema.Message, bool) {
	if budget <= 0 || EstimateTokens(messages) <= budget {
		return messages, false
	}

	lastUser := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == schema.User {
			lastUser = i
			break
		}
	}

	keep := make([]bool, len(messages))
	for i := range keep {
		keep[i] = true
	}
	total := EstimateTokens(messages)
	truncated := false
	for i := 0; i < len(messages) && total > budget; i++ {
		m := messages[i]
		if !keep[i] || m == nil || m.Role == schema.System || i == lastUser {
			continue
		}
		keep[i] = false
		total -= EstimateTokens([]*schema.Message{m})
		truncated = true
		// a tool reply without its call is rejected by providers
		if m.Role == schema.Assistant && len(m.ToolCalls) > 0 {
			for j := i + 1; j < len(messages) && messages[j] != nil && messages[j].Role == schema.Tool; j++ {
				if keep[j] {
					keep[j] = false
					total -= EstimateTokens([]*schema.Message{messages[j]})
				}
			}
		}
	}

	out := make([]*schema.Message, 0, len(messages))
	for i, m := range messages {
		if keep[i] {
			out = append(out, m)
		}
	}
	// orphaned tool replies at the front of history
	for len(out) > 0 {
		first := -1
		for i, m := range out {
			if m.Role != schema.System {
				first = i
				break
			}
		}
		if first < 0 || out[first].Role != schema.Tool {
			break
		}
		out = append(out[:first], out[first+1:]...)
	}
	return out, truncated
}
