package agents

import (
	"context"
	"testing"

	"deepresearch/internal/planning"
	"deepresearch/internal/session"
)

func TestNewSynthesisAgent(t *testing.T) {
	client := &mockChatClient{}
	agent := NewSynthesisAgent(client)

	if agent == nil {
		t.Fatal("expected agent to be created")
	}
	if agent.client != client {
		t.Error("expected client to be set")
	}
}

func TestSynthesisAgentGenerateOutline(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			`[
				{"section": "Introduction", "subsections": [], "key_facts_refs": []},
				{"section": "Technical Overview", "subsections": ["Architecture"], "key_facts_refs": ["Fact 1"]},
				{"section": "Use Cases", "subsections": [], "key_facts_refs": []},
				{"section": "Challenges", "subsections": [], "key_facts_refs": []},
				{"section": "Conclusion", "subsections": [], "key_facts_refs": []}
			]`,
		},
	}

	agent := NewSynthesisAgent(mockClient)

	plan := &planning.ResearchPlan{
		Topic: "Test Topic",
		Perspectives: []planning.Perspective{
			{Name: "Technical Expert", Focus: "Technical details"},
			{Name: "User Advocate", Focus: "Usability"},
		},
	}

	searchResults := map[string]*SearchResult{
		"search_0": {
			Facts: []Fact{
				{Content: "Fact 1", Source: "source1", Confidence: 0.9},
				{Content: "Fact 2", Source: "source2", Confidence: 0.8},
			},
		},
	}

	outline, cost, err := agent.generateOutline(context.Background(), plan, searchResults)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(outline) != 5 {
		t.Errorf("expected 5 sections in outline, got %d", len(outline))
	}
	if outline[0].Section != "Introduction" {
		t.Errorf("expected 'Introduction', got '%s'", outline[0].Section)
	}
	if len(outline[1].Subsections) != 1 {
		t.Errorf("expected outline entry to carry its subsections, got %d", len(outline[1].Subsections))
	}
	if cost.TotalTokens == 0 {
		t.Error("expected outline generation to produce cost")
	}
}

func TestSynthesisAgentGenerateOutlineClampsToMax(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			`[
				{"section": "S1"}, {"section": "S2"}, {"section": "S3"}, {"section": "S4"},
				{"section": "S5"}, {"section": "S6"}, {"section": "S7"}, {"section": "S8"}
			]`,
		},
	}

	agent := NewSynthesisAgent(mockClient)
	plan := &planning.ResearchPlan{Topic: "Test Topic"}

	outline, _, err := agent.generateOutline(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outline) != maxOutlineSections {
		t.Errorf("expected outline clamped to %d sections, got %d", maxOutlineSections, len(outline))
	}
}

func TestSynthesisAgentGenerateOutlinePadsToMin(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			`[{"section": "Only One"}]`,
		},
	}

	agent := NewSynthesisAgent(mockClient)
	plan := &planning.ResearchPlan{Topic: "Test Topic"}

	outline, _, err := agent.generateOutline(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outline) < minOutlineSections {
		t.Errorf("expected outline padded to at least %d sections, got %d", minOutlineSections, len(outline))
	}
	if outline[0].Section != "Only One" {
		t.Errorf("expected original section preserved first, got '%s'", outline[0].Section)
	}
}

func TestSynthesisAgentGenerateOutlineFallback(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			"invalid json response",
		},
	}

	agent := NewSynthesisAgent(mockClient)

	plan := &planning.ResearchPlan{
		Topic:        "Test Topic",
		Perspectives: []planning.Perspective{},
	}

	outline, cost, err := agent.generateOutline(context.Background(), plan, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Should fall back to default outline
	if len(outline) != 5 {
		t.Errorf("expected 5 sections in default outline, got %d", len(outline))
	}
	if outline[0].Section != "Introduction" {
		t.Errorf("expected 'Introduction', got '%s'", outline[0].Section)
	}
	if cost.TotalTokens == 0 {
		t.Error("expected fallback outline to still record cost")
	}
}

func TestSynthesisAgentWriteSections(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			"This is the introduction section content.",
			"These are the key findings from our research.",
			"Here is the analysis section.",
		},
	}

	agent := NewSynthesisAgent(mockClient)

	outline := []OutlineSection{{Section: "Introduction"}, {Section: "Key Findings"}, {Section: "Analysis"}}

	searchResults := map[string]*SearchResult{
		"search_0": {
			Facts: []Fact{
				{Content: "Fact 1", Source: "source1", Confidence: 0.9},
			},
		},
	}

	analysisResult := &AnalysisResult{
		ValidatedFacts: []ValidatedFact{
			{
				Fact:            Fact{Content: "Validated fact", Source: "source1", Confidence: 0.9},
				ValidationScore: 0.85,
			},
		},
	}

	sections, cost, err := agent.writeSections(context.Background(), "Test Topic", outline, searchResults, analysisResult, map[string]int{"source1": 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sections) != 3 {
		t.Errorf("expected 3 sections, got %d", len(sections))
	}

	if sections[0].Heading != "Introduction" {
		t.Errorf("expected heading 'Introduction', got '%s'", sections[0].Heading)
	}

	if sections[0].Content != "This is the introduction section content." {
		t.Errorf("unexpected content: '%s'", sections[0].Content)
	}
	if cost.TotalTokens == 0 {
		t.Error("expected cost for section writing")
	}
}

func TestSynthesisAgentWriteSectionsWithRawFacts(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			"Section content using raw facts.",
		},
	}

	agent := NewSynthesisAgent(mockClient)

	outline := []OutlineSection{{Section: "Introduction"}}

	searchResults := map[string]*SearchResult{
		"search_0": {
			Facts: []Fact{
				{Content: "Raw fact", Source: "source1", Confidence: 0.7},
			},
		},
	}

	// No validated facts, should use raw facts
	analysisResult := &AnalysisResult{
		ValidatedFacts: []ValidatedFact{},
	}

	sections, cost, err := agent.writeSections(context.Background(), "Test Topic", outline, searchResults, analysisResult, map[string]int{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sections) != 1 {
		t.Errorf("expected 1 section, got %d", len(sections))
	}
	if cost.TotalTokens == 0 {
		t.Error("expected section writing to record cost")
	}
}

func TestSynthesisAgentWriteSectionsRetriesOnEmptyResponse(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			"", // first attempt: empty content, should retry
			"Second attempt succeeds.",
		},
	}

	agent := NewSynthesisAgent(mockClient)
	outline := []OutlineSection{{Section: "Introduction"}}

	sections, _, err := agent.writeSections(context.Background(), "Test Topic", outline, nil, nil, map[string]int{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sections[0].Content != "Second attempt succeeds." {
		t.Errorf("expected retry to recover, got '%s'", sections[0].Content)
	}
}

func TestSynthesisAgentWriteSectionsExhaustsRetries(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{"", "", ""},
	}

	agent := NewSynthesisAgent(mockClient)
	outline := []OutlineSection{{Section: "Introduction"}}

	sections, _, err := agent.writeSections(context.Background(), "Test Topic", outline, nil, nil, map[string]int{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sections[0].Content != "Content could not be generated." {
		t.Errorf("expected placeholder after exhausting retries, got '%s'", sections[0].Content)
	}
}

func TestRewriteCitationMarkers(t *testing.T) {
	urlToID := map[string]int{"https://example.com/a": 1, "https://example.com/b": 2}

	content := "Revenue grew [https://example.com/a] while costs fell [source: https://example.com/b]. Unknown stays [https://other.com]."
	rewritten := rewriteCitationMarkers(content, urlToID)

	if !containsString(rewritten, "grew [1]") {
		t.Errorf("expected first marker rewritten to [1], got: %s", rewritten)
	}
	if !containsString(rewritten, "fell [2]") {
		t.Errorf("expected second marker rewritten to [2], got: %s", rewritten)
	}
	if !containsString(rewritten, "[https://other.com]") {
		t.Errorf("expected unrecognized URL marker left untouched, got: %s", rewritten)
	}
}

func TestSynthesisAgentExtractCitationsFirstAppearanceOrder(t *testing.T) {
	agent := &SynthesisAgent{}

	searchResults := map[string]*SearchResult{
		"search_0": {
			Sources: []string{"https://example.com/1", "https://example.com/2"},
		},
		"search_1": {
			Sources: []string{"https://example.com/2", "https://example.com/3"}, // Duplicate intentionally
		},
	}

	citations, urlToID := agent.extractCitations(searchResults)

	if len(citations) != 3 {
		t.Errorf("expected 3 unique citations, got %d", len(citations))
	}

	// Keys are visited in sorted order (search_0 before search_1), so IDs
	// must reflect first appearance within that deterministic order.
	if citations[0].URL != "https://example.com/1" || citations[0].ID != 1 {
		t.Errorf("expected first citation to be example.com/1 with ID 1, got %+v", citations[0])
	}
	if urlToID["https://example.com/2"] != citations[1].ID {
		t.Error("expected urlToID lookup to agree with citation list")
	}

	for _, c := range citations {
		if c.ID <= 0 {
			t.Error("expected positive citation ID")
		}
		if c.URL == "" {
			t.Error("expected URL to be set")
		}
	}
}

func TestSynthesisAgentExtractCitationsEmpty(t *testing.T) {
	agent := &SynthesisAgent{}

	citations, urlToID := agent.extractCitations(map[string]*SearchResult{})

	if len(citations) != 0 {
		t.Errorf("expected 0 citations, got %d", len(citations))
	}
	if len(urlToID) != 0 {
		t.Errorf("expected empty lookup, got %d entries", len(urlToID))
	}
}

func TestSynthesisAgentCompileReport(t *testing.T) {
	agent := &SynthesisAgent{}

	sections := []Section{
		{Heading: "Introduction", Content: "Intro content here."},
		{Heading: "Analysis", Content: "Analysis content here."},
	}

	citations := []Citation{
		{ID: 1, URL: "https://example.com/1"},
		{ID: 2, URL: "https://example.com/2"},
	}

	analysisResult := &AnalysisResult{
		Contradictions: []Contradiction{
			{
				Claim1:  "Claim A",
				Source1: "source1",
				Claim2:  "Claim B",
				Source2: "source2",
				Nature:  "direct",
			},
		},
	}

	report := agent.compileReport("Test Topic", sections, citations, analysisResult, session.CostBreakdown{TotalCost: 1})

	if report == nil {
		t.Fatal("expected report, got nil")
	}

	if report.Title != "Test Topic" {
		t.Errorf("expected title 'Test Topic', got '%s'", report.Title)
	}

	if len(report.Outline) != 2 {
		t.Errorf("expected 2 sections in outline, got %d", len(report.Outline))
	}

	if len(report.Citations) != 2 {
		t.Errorf("expected 2 citations, got %d", len(report.Citations))
	}

	// Check full content includes key parts
	if report.FullContent == "" {
		t.Error("expected FullContent to be populated")
	}

	// Should contain title
	if !containsString(report.FullContent, "# Test Topic") {
		t.Error("expected FullContent to contain title")
	}

	// Should contain section headings
	if !containsString(report.FullContent, "## Introduction") {
		t.Error("expected FullContent to contain Introduction heading")
	}

	// Should contain contradictions section
	if !containsString(report.FullContent, "## Notes on Conflicting Information") {
		t.Error("expected FullContent to contain contradictions section")
	}

	// Should contain sources section
	if !containsString(report.FullContent, "## Sources") {
		t.Error("expected FullContent to contain Sources section")
	}
}

func TestSynthesisAgentCompileReportNoContradictions(t *testing.T) {
	agent := &SynthesisAgent{}

	sections := []Section{
		{Heading: "Introduction", Content: "Intro content."},
	}

	citations := []Citation{}

	analysisResult := &AnalysisResult{
		Contradictions: []Contradiction{},
	}

	report := agent.compileReport("Test Topic", sections, citations, analysisResult, session.CostBreakdown{})

	// Should NOT contain contradictions section
	if containsString(report.FullContent, "## Notes on Conflicting Information") {
		t.Error("did not expect FullContent to contain contradictions section when empty")
	}
}

func TestSynthesisAgentCompileReportNilAnalysis(t *testing.T) {
	agent := &SynthesisAgent{}

	sections := []Section{
		{Heading: "Introduction", Content: "Intro content."},
	}

	citations := []Citation{}

	// nil analysis result should be handled gracefully
	report := agent.compileReport("Test Topic", sections, citations, nil, session.CostBreakdown{})

	if report == nil {
		t.Fatal("expected report, got nil")
	}
}

func TestSynthesisAgentFullSynthesize(t *testing.T) {
	mockClient := &mockChatClient{
		responses: []string{
			// Outline generation
			`[{"section": "Introduction"}, {"section": "Key Findings"}, {"section": "Conclusion"}]`,
			// Section writing (the 3-entry outline is padded to minOutlineSections;
			// the mock repeats its last response for the extra section)
			"Introduction section content [1].",
			"Key findings section content.",
			"Conclusion section content.",
		},
	}

	agent := NewSynthesisAgent(mockClient)

	plan := &planning.ResearchPlan{
		Topic: "Deep Research Test",
		Perspectives: []planning.Perspective{
			{Name: "Expert", Focus: "Technical"},
		},
	}

	searchResults := map[string]*SearchResult{
		"search_0": {
			Facts: []Fact{
				{Content: "Test fact", Source: "https://example.com", Confidence: 0.9},
			},
			Sources: []string{"https://example.com"},
		},
	}

	analysisResult := &AnalysisResult{
		ValidatedFacts: []ValidatedFact{
			{
				Fact:            Fact{Content: "Validated fact", Source: "https://example.com", Confidence: 0.9},
				ValidationScore: 0.85,
			},
		},
		Contradictions: []Contradiction{},
		KnowledgeGaps:  []KnowledgeGap{},
	}

	report, err := agent.Synthesize(context.Background(), plan, searchResults, analysisResult)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report == nil {
		t.Fatal("expected report, got nil")
	}

	if report.Title != "Deep Research Test" {
		t.Errorf("expected title 'Deep Research Test', got '%s'", report.Title)
	}

	if len(report.Outline) != minOutlineSections {
		t.Errorf("expected %d sections, got %d", minOutlineSections, len(report.Outline))
	}

	if len(report.Citations) != 1 {
		t.Errorf("expected 1 citation, got %d", len(report.Citations))
	}
	if report.Cost.TotalTokens == 0 {
		t.Error("expected report to include synthesis cost")
	}
}

func TestDefaultOutline(t *testing.T) {
	outline := defaultOutline()

	if len(outline) != 5 {
		t.Errorf("expected 5 sections, got %d", len(outline))
	}

	expected := []string{"Introduction", "Key Findings", "Analysis", "Implications", "Conclusion"}
	for i, section := range expected {
		if outline[i].Section != section {
			t.Errorf("expected '%s' at position %d, got '%s'", section, i, outline[i].Section)
		}
	}
}

// containsString checks if haystack contains needle
func containsString(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (haystack == needle || len(haystack) > 0 && (containsStringHelper(haystack, needle)))
}

func containsStringHelper(haystack, needle string) bool {
	for i := 0; i <= len(haystack)-len(needle); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
