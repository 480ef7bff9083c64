package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

// sseServer streams the given data frames in the chat completions wire
// format and terminates with [DONE].
func sseServer(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range frames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestProvider(baseURL string) *OpenAIProvider {
	p := NewOpenAIProvider("test-key", baseURL+"/v1")
	p.retryDelay = time.Millisecond
	return p
}

func collect(t *testing.T, ch <-chan *Chunk) []*Chunk {
	t.Helper()
	var out []*Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestCompleteText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Hello there."},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	comp, err := p.Complete(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Text != "Hello there." {
		t.Errorf("text = %q", comp.Text)
	}
	if len(comp.ToolCalls) != 0 {
		t.Errorf("unexpected tool calls: %+v", comp.ToolCalls)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Let me look that up.","tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"go\"}"}}]},"finish_reason":"tool_calls"}]}`)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	comp, err := p.Complete(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "search"}},
		Tools:    []ToolDef{{Name: "web_search", Parameters: []byte(`{"type":"object"}`)}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if comp.Text != "Let me look that up." {
		t.Errorf("text = %q", comp.Text)
	}
	if len(comp.ToolCalls) != 1 || comp.ToolCalls[0].Name != "web_search" {
		t.Fatalf("tool calls = %+v", comp.ToolCalls)
	}
	if string(comp.ToolCalls[0].Arguments) != `{"query":"go"}` {
		t.Errorf("arguments = %s", comp.ToolCalls[0].Arguments)
	}
}

func TestStreamText(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ch, err := p.Stream(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	chunks := collect(t, ch)
	var text string
	for _, c := range chunks {
		text += c.Text
	}
	if text != "Hello" {
		t.Errorf("text = %q", text)
	}
	last := chunks[len(chunks)-1]
	if !last.Done || last.Err != nil {
		t.Errorf("final chunk = %+v", last)
	}
}

func TestStreamAccumulatesToolCallDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":""}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"query\":"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ch, err := p.Stream(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "search"}},
		Tools: []ToolDef{{
			Name:       "web_search",
			Parameters: []byte(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var calls []*ToolCall
	for _, c := range collect(t, ch) {
		if c.ToolCall != nil {
			calls = append(calls, c.ToolCall)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "web_search" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"query":"go"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestStreamFlushesNonZeroToolCallIndex(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"go\"}"}}]}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	p := newTestProvider(srv.URL)
	ch, err := p.Stream(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "search"}},
		Tools: []ToolDef{{
			Name:       "web_search",
			Parameters: []byte(`{"type":"object"}`),
		}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var calls []*ToolCall
	for _, c := range collect(t, ch) {
		if c.ToolCall != nil {
			calls = append(calls, c.ToolCall)
		}
	}
	if len(calls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(calls))
	}
	if calls[0].ID != "call_b" || calls[0].Name != "web_search" {
		t.Errorf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"query":"go"}` {
		t.Errorf("arguments = %s", calls[0].Arguments)
	}
}

func TestStreamRateLimitClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"Rate limit reached","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Stream(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if !aerrors.Is(err, aerrors.KindLLMRateLimit) {
		t.Errorf("error = %v, want llm_rate_limit", err)
	}
}

func TestStreamServerErrorClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad request","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := newTestProvider(srv.URL)
	_, err := p.Stream(context.Background(), &Request{
		Model:    "gpt-4o",
		Messages: []models.Message{{Role: models.RoleUser, Content: "hi"}},
	})
	if !aerrors.Is(err, aerrors.KindLLMError) {
		t.Errorf("error = %v, want llm_error", err)
	}
}
