package agent

import (
	"fmt"
	"strings"

	"github.com/miniagent/miniagent/internal/tools"
	"github.com/miniagent/miniagent/pkg/models"
)

const systemPrompt = `You are a capable assistant that answers questions by reasoning step by step and calling tools when they help.

Guidelines:
- Call a tool only when you need information or effects you cannot produce yourself.
- After seeing a tool result, decide whether you have enough to answer; avoid redundant calls.
- When you answer, be direct and concise, and cite tool findings where relevant.`

const answerInstruction = `Give your final answer to the user's question now. Do not call any more tools; use what you have gathered.`

const continueInstruction = `Continue working on the user's question. Either call another tool or, if you have enough information, respond with your final answer as plain text.`

// buildSystem assembles the system prompt: base instructions, the verbatim
// tool descriptions, and the relevant-memory block when recall found any.
func buildSystem(specs []*tools.Spec, memories []*models.MemoryEntry) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if len(specs) > 0 {
		b.WriteString("\n\nAvailable tools:\n")
		for _, s := range specs {
			fmt.Fprintf(&b, "\n## %s\n%s\n", s.Name, s.Description)
		}
	}

	if len(memories) > 0 {
		b.WriteString("\nRelevant memories from earlier in this conversation:\n")
		for _, m := range memories {
			fmt.Fprintf(&b, "- Q: %s\n  A: %s\n", m.Question, m.AnswerSummary)
		}
	}
	return b.String()
}

// progressMessage wraps the scratchpad render into the user-role message
// appended on each iteration after the first.
func progressMessage(pad *scratchpad, instruction string) string {
	return "Progress so far:\n" + pad.render() + "\n" + instruction
}
