// Package classifier implements the optional query-classification API from
// Given a query and whether a session with a report already
// exists, decide whether the input is a brand-new Research query, a
// Question answerable from the existing report, or a request to Expand a
// specific topic within it. Grounded on the source tree's REPL-coupled
// classifier, pulled out into a pure, injectable component.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deepresearch/internal/apperrors"
	"deepresearch/internal/llm"
)

// Type is the classified intent of a user query.
type Type string

const (
	Research Type = "research"
	Question Type = "question"
	Expand   Type = "expand"
)

// Result is the outcome of Classify.
type Result struct {
	Type       Type
	Confidence float64
	Topic      string
}

// Classifier classifies queries using a (usually cheaper) dedicated model.
type Classifier struct {
	client llm.ChatClient
	model  string
}

// New builds a Classifier against the given model, independent of whatever
// model the caller's main chat client defaults to.
func New(client llm.ChatClient, model string) *Classifier {
	return &Classifier{client: client, model: model}
}

// Classify determines the intent of query. When hasSession is true and
// sessionSummary is non-empty, the prompt is biased toward Question: most
// follow-ups on an existing report should be answered from it rather than
// re-researched. On a malformed LLM response, Classify makes one
// auto-repair attempt with a stricter prompt before surfacing the error; per
// the caller should then default to treating the query as Research.
func (c *Classifier) Classify(ctx context.Context, query string, hasSession bool, sessionSummary string) (*Result, error) {
	resp, err := c.ask(ctx, c.prompt(query, hasSession, sessionSummary, false))
	if err != nil {
		return nil, err
	}

	result, err := parse(resp)
	if err != nil {
		// One auto-repair retry with a stricter "JSON only" prompt.
		resp, retryErr := c.ask(ctx, c.prompt(query, hasSession, sessionSummary, true))
		if retryErr != nil {
			return nil, apperrors.New(apperrors.MalformedResponse, "classify", err)
		}
		result, err = parse(resp)
		if err != nil {
			return nil, apperrors.New(apperrors.MalformedResponse, "classify", err)
		}
	}
	return result, nil
}

func (c *Classifier) ask(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.Chat(ctx, []llm.Message{{Role: "user", Content: prompt}}, llm.Options{
		Model: c.model,
		Scope: "classify",
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("classify: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *Classifier) prompt(query string, hasSession bool, sessionSummary string, strict bool) string {
	var context, bias string
	switch {
	case hasSession && sessionSummary != "":
		context = fmt.Sprintf("The user has an active research session about: %s", sessionSummary)
		bias = "Since research already exists, strongly prefer QUESTION over EXPAND or RESEARCH. " +
			"Only use EXPAND for an explicit request to research more. Only use RESEARCH for a clearly unrelated topic."
	case hasSession:
		context = "The user has an active research session."
		bias = "Prefer QUESTION when the query relates to the session topic."
	default:
		context = "The user has no active research session."
	}

	strictness := ""
	if strict {
		strictness = " Return ONLY the JSON object matching the schema below — no prose, no markdown fences."
	}

	return fmt.Sprintf(`Classify the following user query into one of three categories:

1. QUESTION - answerable from existing research (e.g. "what did you find?", "summarize", any follow-up)
2. EXPAND - an explicit request for more research on a specific topic
3. RESEARCH - a brand-new topic unrelated to any existing session

Context: %s
%s

User query: %q
%s
Respond ONLY with JSON: {"intent": "QUESTION"|"EXPAND"|"RESEARCH", "confidence": 0.0-1.0, "topic": ""}`,
		context, bias, query, strictness)
}

type rawResult struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Topic      string  `json:"topic"`
}

func parse(content string) (*Result, error) {
	content = strings.TrimSpace(content)
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		content = content[start : end+1]
	}

	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse classification response: %w", err)
	}

	var t Type
	switch strings.ToUpper(raw.Intent) {
	case "RESEARCH":
		t = Research
	case "QUESTION":
		t = Question
	case "EXPAND":
		t = Expand
	default:
		return nil, fmt.Errorf("unknown intent %q", raw.Intent)
	}

	return &Result{Type: t, Confidence: raw.Confidence, Topic: raw.Topic}, nil
}
