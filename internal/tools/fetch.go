package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
)

const defaultMaxFetchBytes = 1_000_000

// FetchTool retrieves a URL and extracts readable text
// (fetch(url, max_bytes=1_000_000)), guarded per-host by a rate limiter and a
// circuit breaker so one unreliable host cannot starve other fetches.
type FetchTool struct {
	httpClient *http.Client
	limiters   *hostLimiters
	breakers   *hostBreakers
}

// NewFetchTool creates a fetch tool.
func NewFetchTool(limiters *hostLimiters, breakers *hostBreakers) *FetchTool {
	return &FetchTool{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiters:   limiters,
		breakers:   breakers,
	}
}

func (t *FetchTool) Name() string { return "fetch" }

func (t *FetchTool) Description() string {
	return `Fetch and extract text content from a web page. Args: {"url": "https://...", "max_bytes": 1000000}`
}

func (t *FetchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	urlStr, ok := args["url"].(string)
	if !ok || urlStr == "" {
		return "", newToolError(t.Name(), ErrKindInvalidArgs, "'url' argument required")
	}
	maxBytes := int64(defaultMaxFetchBytes)
	if v, ok := args["max_bytes"].(float64); ok && v > 0 {
		maxBytes = int64(v)
	}

	host := hostOf(urlStr)
	limiter := t.limiters.forHost(host)
	if err := limiter.Wait(ctx); err != nil {
		return "", newToolError(t.Name(), ErrKindRateLimited, err.Error())
	}

	return t.breakers.run(host, func() (string, error) {
		return t.doFetch(ctx, urlStr, maxBytes)
	})
}

func (t *FetchTool) doFetch(ctx context.Context, urlStr string, maxBytes int64) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return "", newToolError(t.Name(), ErrKindInvalidArgs, err.Error())
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; DeepResearchBot/1.0)")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", newToolError(t.Name(), ErrKindUnreachable, err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", newToolError(t.Name(), ErrKindBadStatus, fmt.Sprintf("%d for %s", resp.StatusCode, urlStr))
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "html") && !strings.Contains(contentType, "text") && contentType != "" {
		return "", newToolError(t.Name(), ErrKindUnsupportedFormat, "unsupported content-type: "+contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", newToolError(t.Name(), ErrKindUnreachable, "read body: "+err.Error())
	}

	text := extractText(string(body))
	const maxChars = 10000
	if len(text) > maxChars {
		text = text[:maxChars] + "\n...[truncated]"
	}
	return text, nil
}

func extractText(htmlContent string) string {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		re := regexp.MustCompile(`<[^>]*>`)
		return cleanWhitespace(re.ReplaceAllString(htmlContent, ""))
	}

	var text strings.Builder
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteString(" ")
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "noscript") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)
	return cleanWhitespace(text.String())
}

func cleanWhitespace(s string) string {
	re := regexp.MustCompile(`\s+`)
	return strings.TrimSpace(re.ReplaceAllString(s, " "))
}
