package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"deepresearch/internal/config"
	"deepresearch/internal/llm"
)

// MockLLMClient implements llm.ChatClient with a queue of canned responses,
// one per call, so a test can script an entire multi-stage research run.
type MockLLMClient struct {
	Responses    []string
	ResponseIdx  int
	CallCount    int
	LastMessages []llm.Message
}

func NewMockLLMClient(responses ...string) *MockLLMClient {
	return &MockLLMClient{Responses: responses}
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Options) (*llm.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	m.CallCount++
	m.LastMessages = messages

	if m.ResponseIdx >= len(m.Responses) {
		return nil, fmt.Errorf("mock: no more responses configured")
	}

	response := m.Responses[m.ResponseIdx]
	m.ResponseIdx++

	return &llm.Response{
		Choices: []llm.Choice{
			{Message: llm.ResponseMessage{Content: response}},
		},
		Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
	}, nil
}

func (m *MockLLMClient) StreamChat(ctx context.Context, messages []llm.Message, onChunk func(chunk string) error, opts ...llm.Options) (*llm.Response, error) {
	resp, err := m.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, err
	}
	if onChunk != nil && len(resp.Choices) > 0 {
		if cbErr := onChunk(resp.Choices[0].Message.Content); cbErr != nil {
			return nil, cbErr
		}
	}
	return resp, nil
}

func (m *MockLLMClient) GetModel() string { return "mock-model" }

// MockToolExecutor implements tools.ToolExecutor with fixed search/fetch
// results, enough to drive the Search agent's ReAct loop to completion.
type MockToolExecutor struct {
	Results   map[string]string
	CallCount int
	LastTool  string
	LastArgs  map[string]interface{}
}

func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		Results: map[string]string{
			"search": `1. Example Result
   URL: https://example.com/article
   This is a sample search result about the topic.

2. Another Result
   URL: https://example.com/article2
   More information about the research topic.`,
			"fetch": `This is the content of the fetched webpage.
It contains detailed information about the research topic.
Key findings include several important points.`,
		},
	}
}

func (m *MockToolExecutor) Execute(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	m.CallCount++
	m.LastTool = name
	m.LastArgs = args

	if result, ok := m.Results[name]; ok {
		return result, nil
	}
	return "", fmt.Errorf("mock: unknown tool %s", name)
}

func (m *MockToolExecutor) ToolNames() []string {
	return []string{"search", "fetch"}
}

func testConfig() *config.Config {
	tmpDir, _ := os.MkdirTemp("", "research-test-*")
	return &config.Config{
		LLMAPIKey:      "test-key",
		SearchAPIKey:   "test-search-key",
		VaultPath:      filepath.Join(tmpDir, "vault"),
		HistoryFile:    filepath.Join(tmpDir, ".history"),
		EventStoreDir:  filepath.Join(tmpDir, "events"),
		ToolTimeout:    20 * time.Second,
		LLMTimeout:     1 * time.Minute,
		WorkerTimeout:  5 * time.Minute,
		SessionTimeout: 2 * time.Hour,
		MaxIterations:  5,
		MaxWorkers:     3,
		MaxConcurrency: 3,
		MaxRetries:     2,
		HeavyFanout:    1,
		Mode:           config.ModeDeep,
		Model:          "test-model",
		Verbose:        false,
	}
}
