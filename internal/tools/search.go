package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const braveSearchURL = "https://api.search.brave.com/res/v1/web/search"

// SearchTool implements web search (search(query, top_k=5)),
// deduplicating results by URL and dropping blacklisted hosts.
type SearchTool struct {
	apiKey     string
	httpClient *http.Client
	limiters   *hostLimiters
	blacklist  map[string]bool
}

// NewSearchTool creates a Brave Search-backed search tool.
func NewSearchTool(apiKey string, limiters *hostLimiters, blacklist map[string]bool) *SearchTool {
	return &SearchTool{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiters:   limiters,
		blacklist:  blacklist,
	}
}

func (t *SearchTool) Name() string { return "search" }

func (t *SearchTool) Description() string {
	return `Search the web. Args: {"query": "search terms", "top_k": 5}`
}

type braveSearchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", newToolError(t.Name(), ErrKindInvalidArgs, "'query' argument required")
	}

	topK := 5
	if v, ok := args["top_k"].(float64); ok && v > 0 {
		topK = int(v)
	}

	limiter := t.limiters.forHost("api.search.brave.com")
	if err := limiter.Wait(ctx); err != nil {
		return "", newToolError(t.Name(), ErrKindRateLimited, err.Error())
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", topK*2))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", newToolError(t.Name(), ErrKindInvalidArgs, err.Error())
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", newToolError(t.Name(), ErrKindUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", newToolError(t.Name(), ErrKindBadStatus, fmt.Sprintf("%d: %s", resp.StatusCode, string(body)))
	}

	var parsed braveSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", newToolError(t.Name(), ErrKindBadStatus, "decode response: "+err.Error())
	}

	seen := make(map[string]bool)
	var results []string
	for _, r := range parsed.Web.Results {
		if len(results) >= topK {
			break
		}
		host := hostOf(r.URL)
		if t.blacklist[host] || seen[r.URL] {
			continue
		}
		seen[r.URL] = true
		results = append(results, fmt.Sprintf("%d. %s\n   URL: %s\n   %s\n",
			len(results)+1, r.Title, r.URL, r.Description))
	}

	if len(results) == 0 {
		return "No results found.", nil
	}
	return strings.Join(results, "\n"), nil
}

// ExtractURLs pulls URL lines out of a search tool's formatted output.
func ExtractURLs(searchResults string) []string {
	var urls []string
	for _, line := range strings.Split(searchResults, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "URL: ") {
			urls = append(urls, strings.TrimPrefix(strings.TrimSpace(line), "URL: "))
		}
	}
	return urls
}
