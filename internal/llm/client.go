// Package llm implements the LLM Client (C1): chat and streaming chat
// against an OpenAI-compatible endpoint, with retrying, token accounting
// and structured-output support.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/invopop/jsonschema"
	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"deepresearch/internal/apperrors"
)

// Message is one turn in a chat transcript.
type Message struct {
	Role    string // system, user, assistant, tool
	Content string
}

// ToolSchema describes a function-calling tool exposed to the model.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// StructuredSchema requests constrained JSON output matching the given
// JSON-schema fragment, generated from a Go type via GenerateSchema.
type StructuredSchema struct {
	Name   string
	Schema any
}

// Options configures one chat call. The zero value is a reasonable
// default, so every ChatClient method takes Options variadically.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	Tools       []ToolSchema
	Structured  *StructuredSchema
	// Scope attributes token usage to a named location (e.g.
	// "search/2/iter-1") for the cost callback.
	Scope string
}

func firstOptions(opts []Options) Options {
	if len(opts) == 0 {
		return Options{}
	}
	return opts[0]
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ToolCall is a single function-call request from the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // raw JSON
}

// ResponseMessage is the assistant turn inside a Choice.
type ResponseMessage struct {
	Content   string
	ToolCalls []ToolCall
}

// Choice mirrors the OpenAI chat-completion choice shape so callers across
// the agent family share one response contract regardless of backend.
type Choice struct {
	Message      ResponseMessage
	FinishReason string
}

// Response is the result of a chat call.
type Response struct {
	Choices []Choice
	Usage   Usage
}

// CostCallback is invoked after every LLM call with the scope and usage so
// the Orchestrator can aggregate cost.
type CostCallback func(scope string, usage Usage, costUSD float64)

// ChatClient is the contract every LLM backend implements. It
// is the seam mocked out in agent tests. Options is variadic so existing
// call sites that don't need per-call tuning can omit it entirely.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, opts ...Options) (*Response, error)
	StreamChat(ctx context.Context, messages []Message, onChunk func(chunk string) error, opts ...Options) (*Response, error)
	GetModel() string
}

// Client is the OpenAI-compatible implementation of ChatClient.
type Client struct {
	api          openai.Client
	model        string
	timeout      time.Duration
	onCost       CostCallback
	retryBase    time.Duration
	retryFactor  float64
	retryCap     time.Duration
	retryMaxTrys int
}

// NewClient builds a Client against an OpenAI-compatible endpoint. baseURL
// may be empty to use the default OpenAI API, or point at any
// OpenAI-compatible router (e.g. OpenRouter).
func NewClient(apiKey, baseURL, model string, timeout time.Duration, onCost CostCallback) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultModel
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		api:          openai.NewClient(opts...),
		model:        model,
		timeout:      timeout,
		onCost:       onCost,
		retryBase:    500 * time.Millisecond,
		retryFactor:  2,
		retryCap:     30 * time.Second,
		retryMaxTrys: 5,
	}
}

// GetModel returns the default model name this client was configured with.
func (c *Client) GetModel() string { return c.model }

// GenerateSchema reflects a Go type into a JSON-schema fragment suitable
// for Options.Structured, mirroring the reflector configuration used
// pack-wide for strict structured output.
func GenerateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

func (c *Client) buildParams(messages []Message, opts Options) openai.ChatCompletionNewParams {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	modelCfg := ModelConfigFor(model)

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = modelCfg.MaxTokens
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = modelCfg.Temperature
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "tool":
			msgs = append(msgs, openai.ToolMessage(m.Content, ""))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    msgs,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(maxTokens),
	}

	if len(opts.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(opts.Tools))
		for i, t := range opts.Tools {
			var params shared.FunctionParameters
			data, _ := json.Marshal(t.Parameters)
			_ = json.Unmarshal(data, &params)
			tools[i] = openai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        t.Name,
					Description: openai.String(t.Description),
					Parameters:  params,
				},
			}
		}
		params.Tools = tools
	}

	if opts.Structured != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        opts.Structured.Name,
					Description: openai.String("Structured response schema"),
					Schema:      opts.Structured.Schema,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	return params
}

// Chat sends one non-streaming chat completion request, retrying
// Transient errors (rate limits, provider unavailability) with bounded
// exponential backoff: base 500ms, factor 2, cap 30s, max 5 tries.
func (c *Client) Chat(ctx context.Context, messages []Message, optsList ...Options) (*Response, error) {
	opts := firstOptions(optsList)
	params := c.buildParams(messages, opts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.ChatCompletion
	err := c.withRetry(ctx, func() error {
		r, callErr := c.api.Chat.Completions.New(ctx, params)
		if callErr != nil {
			return classifyOpenAIError(callErr)
		}
		resp = *r
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.New(apperrors.MalformedResponse, opts.Scope, errors.New("no choices in response"))
	}

	out := &Response{
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, choice := range resp.Choices {
		rc := Choice{
			Message:      ResponseMessage{Content: choice.Message.Content},
			FinishReason: string(choice.FinishReason),
		}
		for _, tc := range choice.Message.ToolCalls {
			rc.Message.ToolCalls = append(rc.Message.ToolCalls, ToolCall{
				ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments,
			})
		}
		out.Choices = append(out.Choices, rc)
	}

	c.reportCost(opts, ModelConfigFor(pickModel(opts, c.model)), out.Usage)
	return out, nil
}

// StreamChat sends a streaming chat completion and invokes onChunk for
// every text delta, re-emittable by the caller as LLMChunk events. The
// returned Response carries the fully assembled content and final usage.
func (c *Client) StreamChat(ctx context.Context, messages []Message, onChunk func(chunk string) error, optsList ...Options) (*Response, error) {
	opts := firstOptions(optsList)
	params := c.buildParams(messages, opts)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var out *Response
	err := c.withRetry(ctx, func() error {
		stream := c.api.Chat.Completions.NewStreaming(ctx, params)
		acc := openai.ChatCompletionAccumulator{}
		var content string

		for stream.Next() {
			chunk := stream.Current()
			acc.AddChunk(chunk)
			if len(chunk.Choices) > 0 {
				delta := chunk.Choices[0].Delta.Content
				if delta != "" {
					content += delta
					if onChunk != nil {
						if cbErr := onChunk(delta); cbErr != nil {
							return apperrors.New(apperrors.Cancelled, opts.Scope, cbErr)
						}
					}
				}
			}
		}
		if streamErr := stream.Err(); streamErr != nil {
			return classifyOpenAIError(streamErr)
		}

		rc := Choice{Message: ResponseMessage{Content: content}}
		if len(acc.Choices) > 0 {
			rc.FinishReason = string(acc.Choices[0].FinishReason)
		}
		out = &Response{
			Choices: []Choice{rc},
			Usage: Usage{
				PromptTokens:     int(acc.Usage.PromptTokens),
				CompletionTokens: int(acc.Usage.CompletionTokens),
				TotalTokens:      int(acc.Usage.TotalTokens),
			},
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.reportCost(opts, ModelConfigFor(pickModel(opts, c.model)), out.Usage)
	return out, nil
}

func pickModel(opts Options, fallback string) string {
	if opts.Model != "" {
		return opts.Model
	}
	return fallback
}

func (c *Client) reportCost(opts Options, modelCfg ModelConfig, usage Usage) {
	if c.onCost == nil {
		return
	}
	cost := modelCfg.CostUSD(usage.PromptTokens, usage.CompletionTokens)
	c.onCost(opts.Scope, usage, cost)
}

// withRetry runs fn, retrying apperrors.Transient failures with bounded
// exponential backoff. Any other classified error is returned immediately.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	delay := c.retryBase
	var lastErr error
	for attempt := 0; attempt < c.retryMaxTrys; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return apperrors.New(apperrors.Cancelled, "", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(math.Min(float64(c.retryCap), float64(delay)*c.retryFactor))
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return apperrors.New(apperrors.Cancelled, "", ctx.Err())
		}
		if !apperrors.As(err, apperrors.Transient) {
			return err
		}
	}
	return fmt.Errorf("exhausted %d retries: %w", c.retryMaxTrys, lastErr)
}

// classifyOpenAIError maps a raw SDK/HTTP error into the apperrors
// taxonomy: rate limits and 5xx/connection failures are Transient,
// everything else surfaces as a malformed-response condition.
func classifyOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return apperrors.New(apperrors.Transient, "", err)
		case apiErr.StatusCode >= 500:
			return apperrors.New(apperrors.Transient, "", err)
		default:
			return apperrors.New(apperrors.MalformedResponse, "", err)
		}
	}
	// Network-level failures (timeouts, connection refused, DNS) are
	// treated as Transient ProviderUnavailable conditions.
	return apperrors.New(apperrors.Transient, "", err)
}
