package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/internal/llm"
	"github.com/miniagent/miniagent/internal/memory"
	"github.com/miniagent/miniagent/internal/observability"
	"github.com/miniagent/miniagent/internal/sessions"
	"github.com/miniagent/miniagent/internal/toolctx"
	"github.com/miniagent/miniagent/internal/tools"
	"github.com/miniagent/miniagent/pkg/models"
)

const (
	// eventBuffer bounds the event channel; a stalled SSE client applies
	// backpressure to the loop instead of growing memory.
	eventBuffer = 64

	// Soft limits: exceeding one injects a wrap-up hint into the next
	// prompt, it never terminates the loop. Only MaxIterations is hard.
	searchSoftLimit  = 4
	overallSoftLimit = 8

	// memorySummaryChars bounds the question/answer heads recorded to the
	// memory index after a successful query.
	memorySummaryChars = 200

	// memoryRecallK is how many memories seed the prompt.
	memoryRecallK = 3

	apologyAnswer = "I'm sorry, I ran into a problem talking to the language model and couldn't finish answering. Please try again."
)

var tracer = otel.Tracer("github.com/miniagent/miniagent/internal/agent")

// endSpan closes a span, recording err when the operation failed.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Agent owns the per-query reason/act loop. It is safe for concurrent use;
// each Run call gets its own scratchpad and event stream.
type Agent struct {
	provider llm.Provider
	registry *tools.Registry
	store    sessions.Store
	ctxStore *toolctx.Store
	mem      *memory.Index
	model    string
	maxIter  int
	logger   *slog.Logger
}

// New assembles an Agent over its collaborators.
func New(provider llm.Provider, registry *tools.Registry, store sessions.Store, ctxStore *toolctx.Store, mem *memory.Index, model string, maxIterations int) *Agent {
	return &Agent{
		provider: provider,
		registry: registry,
		store:    store,
		ctxStore: ctxStore,
		mem:      mem,
		model:    model,
		maxIter:  maxIterations,
		logger:   slog.Default().With("component", "agent"),
	}
}

// Run executes one query and returns its ordered event stream. The channel
// is closed when the query finishes or ctx is cancelled; after cancellation
// no further events are sent and no assistant message is persisted.
func (a *Agent) Run(ctx context.Context, sessionKey, query string) <-chan models.AgentEvent {
	events := make(chan models.AgentEvent, eventBuffer)
	go func() {
		defer close(events)
		a.run(ctx, sessions.SafeKey(sessionKey), query, events)
	}()
	return events
}

// emit sends one event unless the query has been cancelled. It reports
// whether the caller may keep going.
func emit(ctx context.Context, events chan<- models.AgentEvent, ev models.AgentEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- ev:
		return true
	}
}

func (a *Agent) run(ctx context.Context, key, query string, events chan<- models.AgentEvent) {
	logger := a.logger.With("session", key)
	start := time.Now()

	ctx, span := tracer.Start(ctx, "agent.query",
		trace.WithAttributes(attribute.String("session.key", key)))
	defer span.End()

	// Setup: history, memory recall, and the immediate user-message append.
	history, err := a.store.List(ctx, key)
	if err != nil && !aerrors.Is(err, aerrors.KindNotFound) {
		logger.Error("failed to load session history", "error", err)
	}
	memories, err := a.mem.Recall(ctx, key, query, memoryRecallK)
	if err != nil {
		logger.Warn("memory recall failed", "error", err)
	}

	userMsg := &models.Message{Role: models.RoleUser, Content: query, Timestamp: time.Now().UTC()}
	if err := a.store.Append(ctx, key, userMsg); err != nil {
		logger.Error("failed to persist user message", "error", err)
	}

	specs := a.registry.List()
	system := buildSystem(specs, memories)
	base := make([]models.Message, 0, len(history)+1)
	for _, m := range history {
		base = append(base, *m)
	}
	base = append(base, *userMsg)

	toolDefs := make([]llm.ToolDef, len(specs))
	for i, s := range specs {
		toolDefs[i] = llm.ToolDef{Name: s.Name, Description: s.Description, Parameters: s.ArgumentsSchema}
	}

	pad := newScratchpad()
	var callRefs []models.ToolCallRef
	warned := map[string]bool{}
	iterations := 0
	capped := true

	// Reason/act loop. Terminates on a tool-free response, the iteration
	// cap, or cancellation.
	for iterations < a.maxIter {
		iterations++

		msgs := base
		if !pad.empty() {
			msgs = append(append([]models.Message{}, base...), models.Message{
				Role:    models.RoleUser,
				Content: progressMessage(pad, continueInstruction),
			})
		}

		llmCtx, llmSpan := tracer.Start(ctx, "llm.complete")
		comp, err := a.provider.Complete(llmCtx, &llm.Request{
			Model:    a.model,
			System:   system,
			Messages: msgs,
			Tools:    toolDefs,
		})
		endSpan(llmSpan, err)
		if err != nil {
			if cancelled(ctx, err) {
				observability.QueriesTotal.WithLabelValues("cancelled").Inc()
				return
			}
			observability.LLMRequests.WithLabelValues("complete", "error").Inc()
			logger.Error("completion failed", "error", err)
			a.apologise(ctx, events, iterations, callRefs)
			return
		}
		observability.LLMRequests.WithLabelValues("complete", "ok").Inc()

		if len(comp.ToolCalls) == 0 {
			capped = false
			break
		}

		if comp.Text != "" {
			pad.addThought(comp.Text)
			if !emit(ctx, events, models.AgentEvent{Type: models.EventThinking, Message: comp.Text}) {
				observability.QueriesTotal.WithLabelValues("cancelled").Inc()
				return
			}
		}

		// Tool calls of one round run sequentially so the scratchpad and
		// the event stream stay linear.
		records := make([]models.ToolCallRecord, 0, len(comp.ToolCalls))
		for _, call := range comp.ToolCalls {
			rec, ok := a.invokeOne(ctx, events, pad, warned, call, &callRefs)
			if !ok {
				observability.QueriesTotal.WithLabelValues("cancelled").Inc()
				return
			}
			records = append(records, *rec)
		}

		// Persist the round: one assistant message with the trace, then a
		// tool message per call, so history replay rebuilds the same prompt.
		assistant := &models.Message{Role: models.RoleAssistant, ToolCalls: records, Timestamp: time.Now().UTC()}
		if err := a.store.Append(ctx, key, assistant); err != nil {
			logger.Error("failed to persist tool trace", "error", err)
		}
		for _, rec := range records {
			content := rec.Result
			if rec.Error != "" {
				content = "ERROR: " + rec.Error
			}
			toolMsg := &models.Message{
				Role:       models.RoleTool,
				Content:    content,
				ToolCallID: rec.ID,
				Timestamp:  time.Now().UTC(),
			}
			if err := a.store.Append(ctx, key, toolMsg); err != nil {
				logger.Error("failed to persist tool result", "error", err)
			}
		}
	}

	if capped && pad.toolCallCount("") > 0 {
		reason := fmt.Sprintf("iteration limit of %d reached; answering with what has been gathered", a.maxIter)
		pad.addLimitNotice(reason)
		if !emit(ctx, events, models.AgentEvent{Type: models.EventToolLimit, Reason: reason}) {
			observability.QueriesTotal.WithLabelValues("cancelled").Inc()
			return
		}
	}

	// Answer phase: a fresh streaming call with no tools advertised.
	answer, ok := a.streamAnswer(ctx, events, base, pad, system)
	if !ok {
		observability.QueriesTotal.WithLabelValues("cancelled").Inc()
		return
	}

	if !emit(ctx, events, models.DoneEvent(answer, iterations, callRefs)) {
		observability.QueriesTotal.WithLabelValues("cancelled").Inc()
		return
	}

	final := &models.Message{Role: models.RoleAssistant, Content: answer, Timestamp: time.Now().UTC()}
	if err := a.store.Append(ctx, key, final); err != nil {
		logger.Error("failed to persist answer", "error", err)
	}
	if err := a.mem.Record(ctx, key, truncate(query, memorySummaryChars), truncate(answer, memorySummaryChars)); err != nil {
		logger.Warn("failed to record memory", "error", err)
	}

	observability.QueriesTotal.WithLabelValues("done").Inc()
	observability.QueryIterations.Observe(float64(iterations))
	logger.Info("query finished", "iterations", iterations, "tool_calls", len(callRefs), "duration", time.Since(start))
}

// invokeOne runs a single tool call end to end: events, scratchpad steps,
// context-store persistence, and soft-limit accounting. It returns false
// only on cancellation.
func (a *Agent) invokeOne(ctx context.Context, events chan<- models.AgentEvent, pad *scratchpad, warned map[string]bool, call llm.ToolCall, callRefs *[]models.ToolCallRef) (*models.ToolCallRecord, bool) {
	callID := call.ID
	if callID == "" {
		callID = uuid.NewString()
	}
	category := ""
	if spec, err := a.registry.Get(call.Name); err == nil {
		category = spec.Category
	}

	if !emit(ctx, events, models.AgentEvent{Type: models.EventToolStart, Tool: call.Name, Args: call.Arguments}) {
		return nil, false
	}
	pad.addAct(callID, call.Name, call.Arguments, category)
	*callRefs = append(*callRefs, models.ToolCallRef{Tool: call.Name, Args: call.Arguments})

	start := time.Now()
	callCtx, callSpan := tracer.Start(ctx, "tool.invoke",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	result, err := a.registry.Invoke(callCtx, call.Name, call.Arguments)
	endSpan(callSpan, err)
	durationMs := time.Since(start).Milliseconds()
	observability.ToolDuration.WithLabelValues(call.Name).Observe(time.Since(start).Seconds())

	rec := models.ToolCallRecord{ID: callID, Name: call.Name, Arguments: call.Arguments, DurationMs: durationMs}
	if err != nil {
		if cancelled(ctx, err) {
			return nil, false
		}
		// Tool-scope failures feed back to the model; the loop continues.
		msg := aerrors.MessageOf(err)
		outcome := "error"
		if aerrors.Is(err, aerrors.KindToolTimeout) {
			outcome = "timeout"
		}
		observability.ToolInvocations.WithLabelValues(call.Name, outcome).Inc()
		rec.Error = msg
		pad.addObserve(callID, false, msg, durationMs)
		if !emit(ctx, events, models.AgentEvent{Type: models.EventToolError, Tool: call.Name, Error: msg, DurationMs: durationMs}) {
			return nil, false
		}
	} else {
		observability.ToolInvocations.WithLabelValues(call.Name, "ok").Inc()
		rendered := result
		ptr, perr := a.ctxStore.Put(ctx, call.Name, call.Arguments, result)
		if perr != nil {
			a.logger.Warn("failed to store tool output", "tool", call.Name, "error", perr)
		} else {
			rendered = toolctx.RenderText(result, ptr, toolctx.DefaultInlineChars)
		}
		rec.Result = rendered
		pad.addObserve(callID, true, rendered, durationMs)
		if !emit(ctx, events, models.AgentEvent{Type: models.EventToolEnd, Tool: call.Name, Result: rendered, DurationMs: durationMs}) {
			return nil, false
		}
	}

	if reason, hit := a.softLimitHit(pad, category, warned); hit {
		pad.addLimitNotice(reason)
		if !emit(ctx, events, models.AgentEvent{Type: models.EventToolLimit, Reason: reason}) {
			return nil, false
		}
	}
	return &rec, true
}

// softLimitHit checks the advisory caps, firing once per threshold.
func (a *Agent) softLimitHit(pad *scratchpad, category string, warned map[string]bool) (string, bool) {
	if category == "search" && pad.toolCallCount("search") > searchSoftLimit && !warned["search"] {
		warned["search"] = true
		return fmt.Sprintf("more than %d search calls used; wrap up with what you have", searchSoftLimit), true
	}
	if pad.toolCallCount("") > overallSoftLimit && !warned["overall"] {
		warned["overall"] = true
		return fmt.Sprintf("more than %d tool calls used; wrap up with what you have", overallSoftLimit), true
	}
	return "", false
}

// streamAnswer runs the final streaming call and relays chunks. A provider
// failure mid-stream is best effort: whatever was buffered still flows into
// done. Returns false only on cancellation.
func (a *Agent) streamAnswer(ctx context.Context, events chan<- models.AgentEvent, base []models.Message, pad *scratchpad, system string) (string, bool) {
	if !emit(ctx, events, models.AgentEvent{Type: models.EventAnswerStart}) {
		return "", false
	}

	msgs := base
	if !pad.empty() {
		msgs = append(append([]models.Message{}, base...), models.Message{
			Role:    models.RoleUser,
			Content: progressMessage(pad, answerInstruction),
		})
	}

	streamCtx, streamSpan := tracer.Start(ctx, "llm.stream")
	defer streamSpan.End()
	chunks, err := a.provider.Stream(streamCtx, &llm.Request{
		Model:    a.model,
		System:   system,
		Messages: msgs,
	})
	if err != nil {
		streamSpan.RecordError(err)
		streamSpan.SetStatus(codes.Error, err.Error())
		if cancelled(ctx, err) {
			return "", false
		}
		observability.LLMRequests.WithLabelValues("stream", "error").Inc()
		a.logger.Error("answer stream failed to start", "error", err)
		if !emit(ctx, events, models.AgentEvent{Type: models.EventAnswerChunk, Chunk: apologyAnswer}) {
			return "", false
		}
		return apologyAnswer, true
	}

	var answer string
	failed := false
	for chunk := range chunks {
		if chunk.Err != nil {
			if cancelled(ctx, chunk.Err) {
				drain(chunks)
				return "", false
			}
			a.logger.Error("answer stream failed", "error", chunk.Err)
			failed = true
			drain(chunks)
			break
		}
		if chunk.Text == "" {
			continue
		}
		answer += chunk.Text
		if !emit(ctx, events, models.AgentEvent{Type: models.EventAnswerChunk, Chunk: chunk.Text}) {
			drain(chunks)
			return "", false
		}
	}
	if failed {
		observability.LLMRequests.WithLabelValues("stream", "error").Inc()
	} else {
		observability.LLMRequests.WithLabelValues("stream", "ok").Inc()
	}
	return answer, true
}

// apologise terminates a query whose reasoning round failed: the client
// still gets a well-formed answer sequence, just an apologetic one.
func (a *Agent) apologise(ctx context.Context, events chan<- models.AgentEvent, iterations int, callRefs []models.ToolCallRef) {
	observability.QueriesTotal.WithLabelValues("llm_error").Inc()
	if !emit(ctx, events, models.AgentEvent{Type: models.EventAnswerStart}) {
		return
	}
	if !emit(ctx, events, models.AgentEvent{Type: models.EventAnswerChunk, Chunk: apologyAnswer}) {
		return
	}
	emit(ctx, events, models.DoneEvent(apologyAnswer, iterations, callRefs))
}

func cancelled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || aerrors.Is(err, aerrors.KindCancelled)
}

func drain(ch <-chan *llm.Chunk) {
	for range ch {
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
