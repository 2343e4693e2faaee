package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"deepresearch/internal/events"
	"deepresearch/internal/llm"
	"deepresearch/internal/session"
)

// AnalysisAgent cross-validates facts and identifies contradictions and knowledge gaps.
type AnalysisAgent struct {
	client     llm.ChatClient
	model      string
	bus        *events.Bus
	httpClient *http.Client
}

// NewAnalysisAgent creates a new analysis agent with the given LLM client.
func NewAnalysisAgent(client llm.ChatClient) *AnalysisAgent {
	return &AnalysisAgent{
		client:     client,
		model:      client.GetModel(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// NewAnalysisAgentWithBus creates an analysis agent with event bus for progress reporting
func NewAnalysisAgentWithBus(client llm.ChatClient, bus *events.Bus) *AnalysisAgent {
	return &AnalysisAgent{
		client:     client,
		model:      client.GetModel(),
		bus:        bus,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// AnalysisResult contains the output of the analysis process.
type AnalysisResult struct {
	ValidatedFacts []ValidatedFact
	Contradictions []Contradiction
	KnowledgeGaps  []KnowledgeGap
	SourceQuality  map[string]float64
	Cost           session.CostBreakdown
}

// ValidatedFact is a fact with cross-validation information.
type ValidatedFact struct {
	Fact
	ValidationScore float64  `json:"validation_score"`
	CorroboratedBy  []string `json:"corroborated_by"`
}

// Contradiction represents conflicting claims from different sources.
type Contradiction struct {
	Claim1  string `json:"claim1"`
	Source1 string `json:"source1"`
	Claim2  string `json:"claim2"`
	Source2 string `json:"source2"`
	Nature  string `json:"nature"` // direct, nuanced, scope
}

// KnowledgeGap represents missing information with suggested follow-up queries.
type KnowledgeGap struct {
	Description      string   `json:"description"`
	Importance       float64  `json:"importance"`
	SuggestedQueries []string `json:"suggested_queries"`
}

// Analyze performs cross-validation, contradiction detection, and gap identification.
func (a *AnalysisAgent) Analyze(ctx context.Context, topic string, facts []Fact, expectedCoverage []string) (*AnalysisResult, error) {
	result := &AnalysisResult{
		SourceQuality: make(map[string]float64),
	}

	var totalCost session.CostBreakdown
	totalSteps := 3 // cross-validate, contradictions, gaps

	// Emit overall start
	a.emitCrossValidationStarted(len(facts), totalSteps)

	// 1. Cross-validate facts (step 1/3)
	a.emitCrossValidationProgress("cross-validate", 1, totalSteps, "Cross-validating facts for mutual corroboration...", 0.0)
	validatedFacts, cost, err := a.crossValidateWithProgress(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("cross-validation: %w", err)
	}
	result.ValidatedFacts = validatedFacts
	totalCost.Add(cost)
	a.emitCrossValidationProgress("cross-validate", 1, totalSteps, fmt.Sprintf("Validated %d facts", len(validatedFacts)), 0.33)

	// 2. Detect contradictions (step 2/3)
	a.emitCrossValidationProgress("detect-contradictions", 2, totalSteps, "Scanning for contradictions between sources...", 0.33)
	contradictions, cost, err := a.detectContradictionsWithProgress(ctx, facts)
	if err != nil {
		return nil, fmt.Errorf("contradiction detection: %w", err)
	}
	result.Contradictions = contradictions
	totalCost.Add(cost)
	a.emitCrossValidationProgress("detect-contradictions", 2, totalSteps, fmt.Sprintf("Found %d contradictions", len(contradictions)), 0.66)

	// 3. Identify knowledge gaps (step 3/3)
	a.emitCrossValidationProgress("identify-gaps", 3, totalSteps, "Identifying knowledge gaps and missing coverage...", 0.66)
	gaps, cost, err := a.identifyKnowledgeGapsWithProgress(ctx, topic, facts, expectedCoverage)
	if err != nil {
		return nil, fmt.Errorf("gap identification: %w", err)
	}
	result.KnowledgeGaps = gaps
	totalCost.Add(cost)
	a.emitCrossValidationProgress("identify-gaps", 3, totalSteps, fmt.Sprintf("Identified %d knowledge gaps", len(gaps)), 1.0)

	// 4. Assess source quality: a fixed heuristic over host diversity,
	// recency and HTTP reachability, no LLM call involved.
	result.SourceQuality = a.assessSourceQuality(ctx, facts)
	result.Cost = totalCost

	// Emit completion
	a.emitCrossValidationComplete(len(validatedFacts), len(contradictions), len(gaps))

	return result, nil
}

// emitCrossValidationStarted emits event when cross-validation begins
func (a *AnalysisAgent) emitCrossValidationStarted(factCount, totalSteps int) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.Event{
		Type:      events.EventCrossValidationStarted,
		Timestamp: time.Now(),
		Data: events.CrossValidationProgressData{
			Total:   factCount,
			Message: fmt.Sprintf("Starting analysis of %d facts in %d phases", factCount, totalSteps),
		},
	})
}

// emitCrossValidationProgress emits progress during cross-validation phases
func (a *AnalysisAgent) emitCrossValidationProgress(phase string, current, total int, message string, progress float64) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.Event{
		Type:      events.EventCrossValidationProgress,
		Timestamp: time.Now(),
		Data: events.CrossValidationProgressData{
			Phase:    phase,
			Current:  current,
			Total:    total,
			Message:  message,
			Progress: progress,
		},
	})
}

// emitCrossValidationComplete emits event when cross-validation finishes
func (a *AnalysisAgent) emitCrossValidationComplete(validated, contradictions, gaps int) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(events.Event{
		Type:      events.EventCrossValidationComplete,
		Timestamp: time.Now(),
		Data: events.CrossValidationProgressData{
			Progress: 1.0,
			Message:  fmt.Sprintf("Analysis complete: %d validated, %d contradictions, %d gaps", validated, contradictions, gaps),
		},
	})
}

// crossValidateWithProgress analyzes facts in batches with progress reporting
func (a *AnalysisAgent) crossValidateWithProgress(ctx context.Context, facts []Fact) ([]ValidatedFact, session.CostBreakdown, error) {
	if len(facts) == 0 {
		return nil, session.CostBreakdown{}, nil
	}

	// For larger sets, process in batches to show progress
	batchSize := 15
	if len(facts) <= batchSize {
		// Small set - process all at once with fact-by-fact progress simulation
		return a.crossValidateBatchWithProgress(ctx, facts, 0, len(facts))
	}

	// Process in batches
	var allValidated []ValidatedFact
	var totalCost session.CostBreakdown

	for i := 0; i < len(facts); i += batchSize {
		end := i + batchSize
		if end > len(facts) {
			end = len(facts)
		}
		batch := facts[i:end]

		validated, cost, err := a.crossValidateBatchWithProgress(ctx, batch, i, len(facts))
		if err != nil {
			return allValidated, totalCost, err
		}
		allValidated = append(allValidated, validated...)
		totalCost.Add(cost)
	}

	return allValidated, totalCost, nil
}

// crossValidateBatchWithProgress validates a batch while emitting per-fact progress
func (a *AnalysisAgent) crossValidateBatchWithProgress(ctx context.Context, facts []Fact, startIdx, totalFacts int) ([]ValidatedFact, session.CostBreakdown, error) {
	// Emit progress for each fact we're about to validate
	for i, f := range facts {
		factIdx := startIdx + i
		progress := float64(factIdx) / float64(totalFacts) * 0.33 // Cross-validation is 0-33% of total
		truncContent := f.Content
		if len(truncContent) > 60 {
			truncContent = truncContent[:57] + "..."
		}
		a.emitCrossValidationProgress(
			"cross-validate",
			factIdx+1,
			totalFacts,
			fmt.Sprintf("Checking: %s", truncContent),
			progress,
		)
		// Small delay to make the streaming visible
		time.Sleep(30 * time.Millisecond)
	}

	var factsText strings.Builder
	for i, f := range facts {
		factsText.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, f.Source, f.Content))
	}

	prompt := fmt.Sprintf(`Cross-validate these facts. For each fact, determine:
1. Validation score (0-1): How well-supported is this claim?
2. Corroborating facts: Which other facts support this one?

Facts:
%s

Return JSON array:
[
  {
    "content": "original fact",
    "source": "original source",
    "confidence": 0.8,
    "validation_score": 0.8,
    "corroborated_by": ["source1", "source2"]
  }
]

Include all facts in the output.`, factsText.String())

	resp, err := a.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, session.CostBreakdown{}, err
	}

	if len(resp.Choices) == 0 {
		return nil, session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens), nil
	}

	cost := session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	return parseValidatedFacts(resp.Choices[0].Message.Content), cost, nil
}

// detectContradictionsWithProgress finds conflicting claims with progress reporting
func (a *AnalysisAgent) detectContradictionsWithProgress(ctx context.Context, facts []Fact) ([]Contradiction, session.CostBreakdown, error) {
	if len(facts) < 2 {
		return nil, session.CostBreakdown{}, nil
	}

	// Emit progress as we scan through fact pairs
	totalPairs := len(facts) * (len(facts) - 1) / 2
	if totalPairs > 0 {
		pairNum := 0
		for i := 0; i < len(facts); i++ {
			for j := i + 1; j < len(facts); j++ {
				pairNum++
				if pairNum%5 == 0 || pairNum == 1 { // Emit every 5th pair to avoid spam
					progress := 0.33 + (float64(pairNum)/float64(totalPairs))*0.33 // Contradiction detection is 33-66%
					a.emitCrossValidationProgress(
						"detect-contradictions",
						pairNum,
						totalPairs,
						fmt.Sprintf("Comparing pair %d/%d for contradictions...", pairNum, totalPairs),
						progress,
					)
					time.Sleep(20 * time.Millisecond)
				}
			}
		}
	}

	var factsText strings.Builder
	for i, f := range facts {
		factsText.WriteString(fmt.Sprintf("%d. [%s] %s\n", i+1, f.Source, f.Content))
	}

	prompt := fmt.Sprintf(`Identify any contradictions between these facts:

%s

Look for:
- Direct contradictions (opposite claims)
- Nuanced contradictions (different implications)
- Scope contradictions (claims that don't match in scope)

Return JSON array (empty if none found):
[
  {
    "claim1": "first claim",
    "source1": "source of first",
    "claim2": "contradicting claim",
    "source2": "source of second",
    "nature": "direct|nuanced|scope"
  }
]`, factsText.String())

	resp, err := a.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, session.CostBreakdown{}, err
	}

	if len(resp.Choices) == 0 {
		return nil, session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens), nil
	}

	cost := session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	return parseContradictions(resp.Choices[0].Message.Content), cost, nil
}

// identifyKnowledgeGapsWithProgress finds important areas not yet covered with progress reporting
func (a *AnalysisAgent) identifyKnowledgeGapsWithProgress(ctx context.Context, topic string, facts []Fact, expectedCoverage []string) ([]KnowledgeGap, session.CostBreakdown, error) {
	// Emit progress for each coverage area we're checking
	if len(expectedCoverage) > 0 {
		for i, area := range expectedCoverage {
			progress := 0.66 + (float64(i)/float64(len(expectedCoverage)))*0.34 // Gap identification is 66-100%
			truncArea := area
			if len(truncArea) > 50 {
				truncArea = truncArea[:47] + "..."
			}
			a.emitCrossValidationProgress(
				"identify-gaps",
				i+1,
				len(expectedCoverage),
				fmt.Sprintf("Checking coverage: %s", truncArea),
				progress,
			)
			time.Sleep(25 * time.Millisecond)
		}
	}

	var factsText strings.Builder
	for _, f := range facts {
		factsText.WriteString(fmt.Sprintf("- %s\n", f.Content))
	}

	var coverageText string
	if len(expectedCoverage) > 0 {
		coverageText = strings.Join(expectedCoverage, "\n- ")
	} else {
		coverageText = "General comprehensive coverage of the topic"
	}

	prompt := fmt.Sprintf(`Topic: %s

Expected coverage areas:
- %s

Facts gathered:
%s

Identify knowledge gaps - important areas not yet covered.

Return JSON array:
[
  {
    "description": "what's missing",
    "importance": 0.8,
    "suggested_queries": ["search query 1", "search query 2"]
  }
]
Return empty array if coverage is sufficient.`, topic, coverageText, factsText.String())

	resp, err := a.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return nil, session.CostBreakdown{}, err
	}

	if len(resp.Choices) == 0 {
		return nil, session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens), nil
	}

	cost := session.NewCostBreakdown(a.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	return parseKnowledgeGaps(resp.Choices[0].Message.Content), cost, nil
}

// sourceStat accumulates the per-source inputs to the quality heuristic.
type sourceStat struct {
	host          string
	confidenceSum float64
	count         int
	latestFetch   time.Time
}

// assessSourceQuality scores each source from host diversity, recency and
// HTTP reachability — a fixed heuristic, not an LLM judgment, so it stays
// cheap enough to run on every analysis pass. The mean confidence of the
// source's facts (the teacher's original signal) is folded in as a fourth
// input; how many facts cite the source is not itself an input.
func (a *AnalysisAgent) assessSourceQuality(ctx context.Context, facts []Fact) map[string]float64 {
	bySource := make(map[string]*sourceStat)
	hostCounts := make(map[string]int)

	for _, f := range facts {
		if f.Source == "" || f.Source == "unknown" {
			continue
		}
		host := hostOf(f.Source)
		st, ok := bySource[f.Source]
		if !ok {
			st = &sourceStat{host: host}
			bySource[f.Source] = st
		}
		st.confidenceSum += f.Confidence
		st.count++
		if f.FetchedAt.After(st.latestFetch) {
			st.latestFetch = f.FetchedAt
		}
		hostCounts[host]++
	}
	if len(bySource) == 0 {
		return map[string]float64{}
	}

	statuses := a.probeReachability(ctx, bySource)

	var oldest, newest time.Time
	for _, st := range bySource {
		if st.latestFetch.IsZero() {
			continue
		}
		if oldest.IsZero() || st.latestFetch.Before(oldest) {
			oldest = st.latestFetch
		}
		if st.latestFetch.After(newest) {
			newest = st.latestFetch
		}
	}
	span := newest.Sub(oldest).Seconds()

	quality := make(map[string]float64, len(bySource))
	for source, st := range bySource {
		confidenceScore := st.confidenceSum / float64(st.count)

		// Host diversity: a source on a host that dominates the fact pool
		// is penalized relative to one on a rarely-seen host.
		diversityScore := 1.0 / float64(hostCounts[st.host])

		recencyScore := 1.0
		if span > 0 && !st.latestFetch.IsZero() {
			recencyScore = st.latestFetch.Sub(oldest).Seconds() / span
		}

		reachScore := statuses[st.host]

		blended, err := stats.Mean([]float64{confidenceScore, diversityScore, recencyScore, reachScore})
		if err != nil {
			blended = confidenceScore
		}
		quality[source] = minFloat(blended, 1.0)
	}

	return quality
}

// probeReachability issues one bounded HEAD request per distinct host
// behind the given sources, scoring 1.0 for a 2xx/3xx response, 0.3 for
// anything else including failures to reach it at all. Bounded
// concurrency keeps a session with dozens of sources from opening dozens
// of sockets at once.
func (a *AnalysisAgent) probeReachability(ctx context.Context, bySource map[string]*sourceStat) map[string]float64 {
	hosts := make(map[string]bool)
	for _, st := range bySource {
		hosts[st.host] = true
	}

	scores := make(map[string]float64, len(hosts))
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, 4)

	for host := range hosts {
		wg.Add(1)
		sem <- struct{}{}
		go func(h string) {
			defer wg.Done()
			defer func() { <-sem }()
			score := a.probeHost(ctx, h)
			mu.Lock()
			scores[h] = score
			mu.Unlock()
		}(host)
	}
	wg.Wait()
	return scores
}

func (a *AnalysisAgent) probeHost(ctx context.Context, host string) float64 {
	if host == "" {
		return 0.3
	}
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, "https://"+host, nil)
	if err != nil {
		return 0.3
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return 0.3
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 400 {
		return 1.0
	}
	return 0.3
}

// hostOf extracts the bare host from a source URL, tolerating sources
// that are bare hostnames or malformed URLs rather than erroring out.
func hostOf(source string) string {
	u, err := url.Parse(source)
	if err != nil || u.Host == "" {
		return source
	}
	return u.Host
}

// minFloat returns the smaller of two float64 values.
func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// parseValidatedFacts extracts validated facts from LLM response.
func parseValidatedFacts(content string) []ValidatedFact {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]") + 1
	if start < 0 || end <= start {
		return nil
	}
	var facts []ValidatedFact
	if err := json.Unmarshal([]byte(content[start:end]), &facts); err != nil {
		return nil
	}
	return facts
}

// parseContradictions extracts contradictions from LLM response.
func parseContradictions(content string) []Contradiction {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]") + 1
	if start < 0 || end <= start {
		return nil
	}
	var contradictions []Contradiction
	if err := json.Unmarshal([]byte(content[start:end]), &contradictions); err != nil {
		return nil
	}
	return contradictions
}

// parseKnowledgeGaps extracts knowledge gaps from LLM response.
func parseKnowledgeGaps(content string) []KnowledgeGap {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]") + 1
	if start < 0 || end <= start {
		return nil
	}
	var gaps []KnowledgeGap
	if err := json.Unmarshal([]byte(content[start:end]), &gaps); err != nil {
		return nil
	}
	return gaps
}
