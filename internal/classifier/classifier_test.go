package classifier

import (
	"context"
	"testing"

	"deepresearch/internal/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChatClient struct {
	responses []string
	callCount int
}

func (m *mockChatClient) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Options) (*llm.Response, error) {
	content := "{}"
	if m.callCount < len(m.responses) {
		content = m.responses[m.callCount]
	} else if len(m.responses) > 0 {
		content = m.responses[len(m.responses)-1]
	}
	m.callCount++
	return &llm.Response{Choices: []llm.Choice{{Message: llm.ResponseMessage{Content: content}}}}, nil
}

func (m *mockChatClient) StreamChat(ctx context.Context, messages []llm.Message, onChunk func(chunk string) error, opts ...llm.Options) (*llm.Response, error) {
	return m.Chat(ctx, messages, opts...)
}

func (m *mockChatClient) GetModel() string { return "test-model" }

func TestClassifyResearch(t *testing.T) {
	client := &mockChatClient{responses: []string{`{"intent":"RESEARCH","confidence":0.9,"topic":"quantum computing"}`}}
	c := New(client, "test-model")

	result, err := c.Classify(context.Background(), "tell me about quantum computing", false, "")
	require.NoError(t, err)
	assert.Equal(t, Research, result.Type)
	assert.Equal(t, "quantum computing", result.Topic)
}

func TestClassifyQuestionWithSessionBias(t *testing.T) {
	client := &mockChatClient{responses: []string{`{"intent":"QUESTION","confidence":0.8,"topic":""}`}}
	c := New(client, "test-model")

	result, err := c.Classify(context.Background(), "what did you find?", true, "quantum computing advances")
	require.NoError(t, err)
	assert.Equal(t, Question, result.Type)
}

func TestClassifyHandlesMarkdownFence(t *testing.T) {
	client := &mockChatClient{responses: []string{"```json\n{\"intent\":\"EXPAND\",\"confidence\":0.7,\"topic\":\"qubits\"}\n```"}}
	c := New(client, "test-model")

	result, err := c.Classify(context.Background(), "dig deeper into qubits", true, "quantum computing")
	require.NoError(t, err)
	assert.Equal(t, Expand, result.Type)
	assert.Equal(t, "qubits", result.Topic)
}

func TestClassifyAutoRepairsOnMalformedFirstResponse(t *testing.T) {
	client := &mockChatClient{responses: []string{
		"not json at all",
		`{"intent":"RESEARCH","confidence":0.5,"topic":"fallback"}`,
	}}
	c := New(client, "test-model")

	result, err := c.Classify(context.Background(), "some query", false, "")
	require.NoError(t, err)
	assert.Equal(t, Research, result.Type)
	assert.Equal(t, 2, client.callCount)
}

func TestClassifySurfacesMalformedResponseAfterRetryFails(t *testing.T) {
	client := &mockChatClient{responses: []string{"still not json", "nope"}}
	c := New(client, "test-model")

	_, err := c.Classify(context.Background(), "some query", false, "")
	require.Error(t, err)
}

func TestClassifyUnknownIntentIsMalformed(t *testing.T) {
	client := &mockChatClient{responses: []string{`{"intent":"MAYBE","confidence":0.1}`, `{"intent":"MAYBE","confidence":0.1}`}}
	c := New(client, "test-model")

	_, err := c.Classify(context.Background(), "some query", false, "")
	require.Error(t, err)
}
