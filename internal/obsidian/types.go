package obsidian

import "time"

// SourceType indicates the type of source that backed a finding.
type SourceType string

const (
	SourceTypeWeb      SourceType = "web"
	SourceTypeDocument SourceType = "document"
	SourceTypeAPI      SourceType = "api"
	SourceTypeFile     SourceType = "file"
)

// SourceReference carries enough detail about a source to cite it and to
// deduplicate repeated fetches of the same content.
type SourceReference struct {
	URL             string `json:"url,omitempty"`
	FilePath        string `json:"file_path,omitempty"`
	Type            SourceType `json:"type"`
	Title           string `json:"title,omitempty"`
	RawContent      string `json:"raw_content,omitempty"`
	RelevantExcerpt string `json:"relevant_excerpt,omitempty"`
	FetchedAt       time.Time `json:"fetched_at"`
	ContentHash     string `json:"content_hash,omitempty"`
}

// DataPoint is a specific value extracted from a source in support of a
// SubInsight.
type DataPoint struct {
	Label     string `json:"label"`
	Value     string `json:"value"`
	Context   string `json:"context,omitempty"`
	SourceRef string `json:"source_ref,omitempty"`
}

// SubInsight is one research finding with full source traceability, as
// handed to the Writer by the orchestrator once analysis completes.
type SubInsight struct {
	ID                string            `json:"id"`
	Topic             string            `json:"topic"`
	Title             string            `json:"title"`
	Finding           string            `json:"finding"`
	Implication       string            `json:"implication,omitempty"`
	SourceURL         string            `json:"source_url,omitempty"`
	SourceContent     string            `json:"source_content,omitempty"`
	Sources           []SourceReference `json:"sources,omitempty"`
	DataPoints        []DataPoint       `json:"data_points,omitempty"`
	AnalysisChain     []string          `json:"analysis_chain,omitempty"`
	RelatedInsightIDs []string          `json:"related_insight_ids,omitempty"`
	Confidence        float64           `json:"confidence"`
	Iteration         int               `json:"iteration"`
	ResearcherNum     int               `json:"researcher_num"`
	Timestamp         time.Time         `json:"timestamp"`
	ToolUsed          string            `json:"tool_used,omitempty"`
	QueryUsed         string            `json:"query_used,omitempty"`
}
