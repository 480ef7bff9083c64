package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/miniagent/miniagent/internal/aerrors"
	"github.com/miniagent/miniagent/pkg/models"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any
// compatible endpoint selected via base URL.
type OpenAIProvider struct {
	client     *openai.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider builds a provider for the given key. baseURL overrides
// the API endpoint when non-empty.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:     openai.NewClientWithConfig(cfg),
		logger:     slog.Default().With("component", "llm"),
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs a single non-streaming round trip with tool choice
// left to the model.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Completion, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.System, req.Messages),
		Temperature: req.Temperature,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, aerrors.Wrap(aerrors.KindCancelled, "completion cancelled", ctx.Err())
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = p.client.CreateChatCompletion(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, classifyAPIErr(lastErr)
		}
		p.logger.Warn("completion request failed, retrying", "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, classifyAPIErr(lastErr)
	}
	if len(resp.Choices) == 0 {
		return nil, aerrors.New(aerrors.KindLLMError, "provider returned no choices")
	}

	msg := resp.Choices[0].Message
	out := &Completion{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// Stream opens a streaming completion. Transient failures (429, 5xx) are
// retried with linear backoff before giving up; the returned error is
// classified so the loop can tell rate limits from hard failures.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    convertMessages(req.System, req.Messages),
		Temperature: req.Temperature,
		Stream:      true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, aerrors.Wrap(aerrors.KindCancelled, "completion cancelled", ctx.Err())
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !isRetryable(lastErr) {
			return nil, classifyAPIErr(lastErr)
		}
		p.logger.Warn("completion request failed, retrying", "attempt", attempt+1, "error", lastErr)
	}
	if lastErr != nil {
		return nil, classifyAPIErr(lastErr)
	}

	chunks := make(chan *Chunk)
	go p.pump(ctx, stream, chunks)
	return chunks, nil
}

// pump converts the SDK stream into Chunks. Tool calls arrive as deltas
// spread across frames and are accumulated by index until the stream ends
// or the finish reason reports them complete.
func (p *OpenAIProvider) pump(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *Chunk) {
	defer close(chunks)
	defer stream.Close()

	pending := map[int]*ToolCall{}
	args := map[int][]byte{}
	flush := func() {
		idxs := make([]int, 0, len(pending))
		for i := range pending {
			idxs = append(idxs, i)
		}
		sort.Ints(idxs)
		for _, i := range idxs {
			tc := pending[i]
			if tc.Name == "" {
				continue
			}
			tc.Arguments = json.RawMessage(args[i])
			if len(tc.Arguments) == 0 {
				tc.Arguments = json.RawMessage(`{}`)
			}
			chunks <- &Chunk{ToolCall: tc}
		}
		pending = map[int]*ToolCall{}
		args = map[int][]byte{}
	}

	for {
		select {
		case <-ctx.Done():
			chunks <- &Chunk{Done: true, Err: aerrors.Wrap(aerrors.KindCancelled, "completion cancelled", ctx.Err())}
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				flush()
				chunks <- &Chunk{Done: true}
				return
			}
			chunks <- &Chunk{Done: true, Err: classifyAPIErr(err)}
			return
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]

		if choice.Delta.Content != "" {
			chunks <- &Chunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			if pending[idx] == nil {
				pending[idx] = &ToolCall{}
			}
			if tc.ID != "" {
				pending[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				pending[idx].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				args[idx] = append(args[idx], tc.Function.Arguments...)
			}
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			flush()
		}
	}
}

func convertMessages(system string, msgs []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, m := range msgs {
		oai := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			oai.ToolCalls = append(oai.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(tc.Arguments),
				},
			})
		}
		out = append(out, oai)
	}
	return out
}

func convertTools(tools []ToolDef) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var params map[string]any
		if err := json.Unmarshal(t.Parameters, &params); err != nil {
			// A bad schema for one tool must not break the whole request.
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// classifyAPIErr maps SDK errors onto the shared taxonomy. 429 becomes the
// retryable rate-limit kind; everything else is a generic provider failure.
func classifyAPIErr(err error) error {
	if err == nil {
		return nil
	}
	var ae *aerrors.Error
	if errors.As(err, &ae) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return aerrors.Wrap(aerrors.KindCancelled, "completion cancelled", err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusTooManyRequests {
			return aerrors.Wrap(aerrors.KindLLMRateLimit, "provider rate limited", err)
		}
		return aerrors.Wrap(aerrors.KindLLMError, "provider request failed", err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return aerrors.Wrap(aerrors.KindLLMRateLimit, "provider rate limited", err)
	}
	return aerrors.Wrap(aerrors.KindLLMError, "provider request failed", err)
}

func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}
