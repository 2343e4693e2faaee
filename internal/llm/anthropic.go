package llm

import (
	"context"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"deepresearch/internal/apperrors"
)

// AnthropicClient implements ChatClient against the Anthropic Messages API.
// It is selected instead of Client when LLM_PROVIDER=anthropic, giving the
// runtime a fallback provider that does not depend on OpenAI-compatible
// routing.
type AnthropicClient struct {
	api     anthropic.Client
	model   string
	timeout time.Duration
	onCost  CostCallback
}

// NewAnthropicClient builds an AnthropicClient for the given model.
func NewAnthropicClient(apiKey, model string, timeout time.Duration, onCost CostCallback) *AnthropicClient {
	if model == "" {
		model = "claude-3-5-haiku-20241022"
	}
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &AnthropicClient{
		api:     anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
		onCost:  onCost,
	}
}

// GetModel returns the model this client was configured with.
func (c *AnthropicClient) GetModel() string { return c.model }

func (c *AnthropicClient) convert(messages []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Type: "text", Text: m.Content})
		case "assistant":
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		default:
			out = append(out, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)},
			})
		}
	}
	return system, out
}

// Chat sends one request against the Anthropic Messages API.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, optsList ...Options) (*Response, error) {
	opts := firstOptions(optsList)
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	system, msgs := c.convert(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}

	resp, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return nil, apperrors.New(apperrors.Transient, opts.Scope, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	usage := Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	if c.onCost != nil {
		cfg := ModelConfigFor(model)
		c.onCost(opts.Scope, usage, cfg.CostUSD(usage.PromptTokens, usage.CompletionTokens))
	}

	return &Response{
		Choices: []Choice{{
			Message:      ResponseMessage{Content: content},
			FinishReason: string(resp.StopReason),
		}},
		Usage: usage,
	}, nil
}

// StreamChat is not truly streaming for the Anthropic fallback; it performs
// one request and replays the full content as a single chunk so callers can
// treat every ChatClient uniformly.
func (c *AnthropicClient) StreamChat(ctx context.Context, messages []Message, onChunk func(string) error, optsList ...Options) (*Response, error) {
	opts := firstOptions(optsList)
	resp, err := c.Chat(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && len(resp.Choices) > 0 && resp.Choices[0].Message.Content != "" {
		if err := onChunk(resp.Choices[0].Message.Content); err != nil {
			return nil, apperrors.New(apperrors.Cancelled, opts.Scope, err)
		}
	}
	return resp, nil
}
