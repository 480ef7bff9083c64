package agent

import (
	"context"
	"encoding/json"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/miniagent/miniagent/internal/llm"
	"github.com/miniagent/miniagent/internal/tools"
)

func TestQueryEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p := &fakeProvider{
		completions: []*llm.Completion{
			{ToolCalls: []llm.ToolCall{{ID: "c1", Name: "echo", Arguments: json.RawMessage(`{}`)}}},
			{Text: "done"},
		},
		answerChunks: []string{"ok"},
	}
	echo := &tools.Spec{
		Name:            "echo",
		Description:     "Echoes back.",
		ArgumentsSchema: json.RawMessage(permissiveSchema),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "echoed", nil
		},
	}
	ag, _, _ := newTestAgent(t, p, 8, echo)

	collectEvents(t, ag.Run(context.Background(), "traced", "run the tool"))

	byName := map[string]int{}
	for _, span := range recorder.Ended() {
		byName[span.Name()]++
	}
	for _, want := range []string{"agent.query", "llm.complete", "tool.invoke", "llm.stream"} {
		if byName[want] == 0 {
			t.Errorf("no %s span recorded; got %v", want, byName)
		}
	}
	// One reasoning round per completion: the tool call round and the final one.
	if byName["llm.complete"] != 2 {
		t.Errorf("llm.complete spans = %d, want 2", byName["llm.complete"])
	}
	if byName["agent.query"] != 1 {
		t.Errorf("agent.query spans = %d, want 1", byName["agent.query"])
	}
}
