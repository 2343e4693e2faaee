package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"deepresearch/internal/events"
	"deepresearch/internal/llm"
	"deepresearch/internal/planning"
	"deepresearch/internal/session"
)

// SynthesisAgent generates structured reports with proper citations from research findings.
type SynthesisAgent struct {
	client llm.ChatClient
	bus    *events.Bus
	model  string
}

// NewSynthesisAgent creates a new synthesis agent with the given LLM client.
func NewSynthesisAgent(client llm.ChatClient) *SynthesisAgent {
	return &SynthesisAgent{client: client, model: client.GetModel()}
}

// NewSynthesisAgentWithBus creates a new synthesis agent with event bus for progress reporting.
func NewSynthesisAgentWithBus(client llm.ChatClient, bus *events.Bus) *SynthesisAgent {
	return &SynthesisAgent{client: client, bus: bus, model: client.GetModel()}
}

// Report represents the final synthesized research report.
type Report struct {
	Title       string
	Summary     string
	Outline     []Section
	FullContent string
	Citations   []Citation
	Cost        session.CostBreakdown
}

// OutlineSection is a single entry of the report outline. Subsections and
// KeyFactsRefs let the outline carry structure and grounding hints through
// to section writing instead of being a flat list of headings.
type OutlineSection struct {
	Section      string   `json:"section"`
	Subsections  []string `json:"subsections"`
	KeyFactsRefs []string `json:"key_facts_refs"`
}

// Section represents a section of the report.
type Section struct {
	Heading     string
	Subsections []string
	Content     string
	Sources     []string
}

// Citation represents a cited source in the report.
type Citation struct {
	ID    int
	URL   string
	Title string
	Used  []string // Where this citation is used
}

const (
	minOutlineSections = 4
	maxOutlineSections = 7
	maxSectionRetries  = 2
)

// Synthesize generates a comprehensive research report from the research plan and findings.
func (s *SynthesisAgent) Synthesize(ctx context.Context, plan *planning.ResearchPlan, searchResults map[string]*SearchResult, analysisResult *AnalysisResult) (*Report, error) {
	var totalCost session.CostBreakdown

	// 1. Citations are assigned first, in first-appearance order across the
	// search results, so every section writer can be told the canonical
	// [n] for a source before it writes a single word.
	citations, urlToID := s.extractCitations(searchResults)

	// 2. Generate outline based on perspectives
	outline, outlineCost, err := s.generateOutline(ctx, plan, searchResults)
	if err != nil {
		return nil, fmt.Errorf("outline generation: %w", err)
	}
	totalCost.Add(outlineCost)

	// 3. Write each section
	sections, sectionCost, err := s.writeSections(ctx, plan.Topic, outline, searchResults, analysisResult, urlToID)
	if err != nil {
		return nil, fmt.Errorf("section writing: %w", err)
	}
	totalCost.Add(sectionCost)

	// 4. Compile final report
	report := s.compileReport(plan.Topic, sections, citations, analysisResult, totalCost)

	return report, nil
}

// generateOutline creates a logical, hierarchical outline for the report
// based on perspectives and findings, enforcing a 4-7 section count the way
// a human editor would trim or pad a draft table of contents.
func (s *SynthesisAgent) generateOutline(ctx context.Context, plan *planning.ResearchPlan, searchResults map[string]*SearchResult) ([]OutlineSection, session.CostBreakdown, error) {
	var perspectiveInfo strings.Builder
	for _, p := range plan.Perspectives {
		perspectiveInfo.WriteString(fmt.Sprintf("- %s: %s\n", p.Name, p.Focus))
	}

	// Summarize available facts
	var factCount int
	for _, sr := range searchResults {
		factCount += len(sr.Facts)
	}

	prompt := fmt.Sprintf(`Create an outline for a comprehensive research report on: %s

Perspectives covered:
%s

Total facts gathered: %d

Generate a logical outline with between %d and %d main sections. For each
section, list its subsections and the key facts it should draw on.
Return a JSON array:
[
  {"section": "Introduction", "subsections": ["Background", "Scope"], "key_facts_refs": ["short phrase naming a fact to cover"]}
]`, plan.Topic, perspectiveInfo.String(), factCount, minOutlineSections, maxOutlineSections)

	resp, err := s.client.Chat(ctx, []llm.Message{
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return defaultOutline(), session.CostBreakdown{}, nil
	}

	cost := session.NewCostBreakdown(s.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)

	if len(resp.Choices) == 0 {
		return defaultOutline(), cost, nil
	}

	outline := parseOutlineArray(resp.Choices[0].Message.Content)
	if len(outline) == 0 {
		return defaultOutline(), cost, nil
	}

	return clampOutline(outline), cost, nil
}

// clampOutline trims an oversized outline to the max section count and pads
// an undersized one with defaultOutline's generic sections, taken in order
// from its first entry, so downstream writers can
// always assume a 4-7 entry outline regardless of what the LLM returned.
func clampOutline(outline []OutlineSection) []OutlineSection {
	if len(outline) > maxOutlineSections {
		return outline[:maxOutlineSections]
	}
	if len(outline) < minOutlineSections {
		padding := defaultOutline()
		for _, p := range padding {
			if len(outline) >= minOutlineSections {
				break
			}
			outline = append(outline, p)
		}
	}
	return outline
}

// writeSections generates content for each section of the report.
func (s *SynthesisAgent) writeSections(ctx context.Context, topic string, outline []OutlineSection, searchResults map[string]*SearchResult, analysisResult *AnalysisResult, urlToID map[string]int) ([]Section, session.CostBreakdown, error) {
	// Gather all validated facts
	var allFacts []ValidatedFact
	if analysisResult != nil {
		allFacts = analysisResult.ValidatedFacts
	}

	// Also gather raw facts if validation is empty
	if len(allFacts) == 0 {
		for _, key := range sortedKeys(searchResults) {
			for _, f := range searchResults[key].Facts {
				allFacts = append(allFacts, ValidatedFact{Fact: f, ValidationScore: 0.5})
			}
		}
	}

	sections := make([]Section, len(outline))
	var totalCost session.CostBreakdown
	for i, entry := range outline {
		// Check for cancellation before each section
		select {
		case <-ctx.Done():
			return sections, totalCost, ctx.Err()
		default:
		}

		heading := entry.Section

		// Emit progress
		if s.bus != nil {
			s.bus.Publish(events.Event{
				Type:      events.EventSynthesisProgress,
				Timestamp: time.Now(),
				Data: map[string]interface{}{
					"section": i + 1,
					"total":   len(outline),
					"heading": heading,
					"message": fmt.Sprintf("Writing section %d/%d: %s...", i+1, len(outline), heading),
				},
			})
		}

		factsText := formatFactsWithCitationIDs(allFacts, urlToID)

		content, cost, err := s.writeSectionWithRetry(ctx, topic, entry, factsText, urlToID)
		if err != nil {
			if ctx.Err() != nil {
				return sections, totalCost, ctx.Err()
			}
		}
		totalCost.Add(cost)

		sections[i] = Section{
			Heading:     heading,
			Subsections: entry.Subsections,
			Content:     content,
		}
	}

	return sections, totalCost, nil
}

// writeSectionWithRetry asks the LLM to write one section, retrying up to
// maxSectionRetries times with a progressively tightened instruction before
// surfacing a placeholder. Every successful generation is passed through
// rewriteCitationMarkers so stray "[source URL]"-style references collapse
// to the canonical numeric IDs.
func (s *SynthesisAgent) writeSectionWithRetry(ctx context.Context, topic string, entry OutlineSection, factsText string, urlToID map[string]int) (string, session.CostBreakdown, error) {
	var totalCost session.CostBreakdown

	for attempt := 0; attempt <= maxSectionRetries; attempt++ {
		prompt := buildSectionPrompt(topic, entry, factsText, attempt)

		resp, err := s.client.Chat(ctx, []llm.Message{
			{Role: "user", Content: prompt},
		})
		if err != nil {
			if ctx.Err() != nil {
				return "Content could not be generated.", totalCost, ctx.Err()
			}
			continue
		}

		cost := session.NewCostBreakdown(s.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
		totalCost.Add(cost)

		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			continue
		}

		return rewriteCitationMarkers(resp.Choices[0].Message.Content, urlToID), totalCost, nil
	}

	return "Content could not be generated.", totalCost, nil
}

func buildSectionPrompt(topic string, entry OutlineSection, factsText string, attempt int) string {
	instruction := "Write 2-4 paragraphs. Cite sources inline using numeric markers like [1], [2], matching the numbers listed with each fact below. Focus on validated, high-confidence facts. Write in a clear, professional tone suitable for a research report."
	if attempt > 0 {
		instruction = fmt.Sprintf("Your previous attempt was empty or malformed. %s Do not omit the section body.", instruction)
	}

	var subsectionInfo string
	if len(entry.Subsections) > 0 {
		subsectionInfo = fmt.Sprintf("\nCover these subsections: %s\n", strings.Join(entry.Subsections, ", "))
	}

	return fmt.Sprintf(`Write the "%s" section of a research report on "%s".
%s
Available facts (each tagged with its citation number):
%s

%s`, entry.Section, topic, subsectionInfo, factsText, instruction)
}

// formatFactsWithCitationIDs renders facts for a section-writing prompt,
// tagging each with the canonical citation number for its source so the
// model can cite with "[n]" instead of inventing its own marker style.
func formatFactsWithCitationIDs(facts []ValidatedFact, urlToID map[string]int) string {
	var b strings.Builder
	for _, f := range facts {
		id, ok := urlToID[f.Source]
		marker := "[unknown]"
		if ok {
			marker = fmt.Sprintf("[%d]", id)
		}
		b.WriteString(fmt.Sprintf("- %s %s (confidence: %.1f)\n", f.Content, marker, f.ValidationScore))
	}
	return b.String()
}

var citationURLMarkerPattern = regexp.MustCompile(`\[(?:source:\s*)?(https?://[^\]\s]+)\]`)

// rewriteCitationMarkers collapses any "[source URL]"-style marker the model
// emits despite instructions into the canonical numeric "[n]" assigned to
// that URL during citation extraction. Markers for unrecognized URLs are
// left untouched rather than dropped.
func rewriteCitationMarkers(content string, urlToID map[string]int) string {
	return citationURLMarkerPattern.ReplaceAllStringFunc(content, func(match string) string {
		sub := citationURLMarkerPattern.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		if id, ok := urlToID[sub[1]]; ok {
			return fmt.Sprintf("[%d]", id)
		}
		return match
	})
}

// extractCitations collects all unique sources from search results in
// first-appearance order (iterating worker keys in sorted order for
// determinism) and assigns each a stable numeric ID. It returns both the
// citation list and a URL->ID lookup used to tag facts during section
// writing.
func (s *SynthesisAgent) extractCitations(searchResults map[string]*SearchResult) ([]Citation, map[string]int) {
	urlToID := make(map[string]int)
	var citations []Citation

	for _, key := range sortedKeys(searchResults) {
		for _, source := range searchResults[key].Sources {
			if _, seen := urlToID[source]; seen {
				continue
			}
			id := len(citations) + 1
			urlToID[source] = id
			citations = append(citations, Citation{ID: id, URL: source})
		}
	}
	return citations, urlToID
}

func sortedKeys(searchResults map[string]*SearchResult) []string {
	keys := make([]string, 0, len(searchResults))
	for k := range searchResults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compileReport assembles all sections and citations into a final report.
func (s *SynthesisAgent) compileReport(topic string, sections []Section, citations []Citation, analysisResult *AnalysisResult, cost session.CostBreakdown) *Report {
	var fullContent strings.Builder

	// Title
	fullContent.WriteString(fmt.Sprintf("# %s\n\n", topic))

	// Summary section
	fullContent.WriteString("## Executive Summary\n\n")
	if len(sections) > 0 {
		// Use first section intro as summary
		intro := sections[0].Content
		if len(intro) > 500 {
			intro = intro[:500] + "..."
		}
		fullContent.WriteString(intro + "\n\n")
	}

	// Main sections
	for _, section := range sections {
		fullContent.WriteString(fmt.Sprintf("## %s\n\n%s\n\n", section.Heading, section.Content))
	}

	// Contradictions/caveats if any
	if analysisResult != nil && len(analysisResult.Contradictions) > 0 {
		fullContent.WriteString("## Notes on Conflicting Information\n\n")
		for _, c := range analysisResult.Contradictions {
			fullContent.WriteString(fmt.Sprintf("- **%s**: \"%s\" vs \"%s\"\n", c.Nature, c.Claim1, c.Claim2))
		}
		fullContent.WriteString("\n")
	}

	// References
	fullContent.WriteString("## Sources\n\n")
	for _, c := range citations {
		fullContent.WriteString(fmt.Sprintf("%d. %s\n", c.ID, c.URL))
	}

	return &Report{
		Title:       topic,
		Outline:     sections,
		FullContent: fullContent.String(),
		Citations:   citations,
		Cost:        cost,
	}
}

// defaultOutline returns a standard report outline when LLM generation fails.
func defaultOutline() []OutlineSection {
	return []OutlineSection{
		{Section: "Introduction"},
		{Section: "Key Findings"},
		{Section: "Analysis"},
		{Section: "Implications"},
		{Section: "Conclusion"},
	}
}

// parseOutlineArray extracts a JSON array of OutlineSection from LLM
// response content, tolerating surrounding prose the way parseStringArray
// and parseFactsArray do.
func parseOutlineArray(content string) []OutlineSection {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]") + 1
	if start < 0 || end <= start {
		return nil
	}

	var outline []OutlineSection
	if err := json.Unmarshal([]byte(content[start:end]), &outline); err != nil {
		return nil
	}
	return outline
}
