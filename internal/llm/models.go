package llm

// ModelConfig holds the generation defaults and pricing for one model.
type ModelConfig struct {
	Name             string
	Temperature      float64
	MaxTokens        int64
	InputCostPerMTok float64 // USD per 1M input tokens
	OutCostPerMTok   float64 // USD per 1M output tokens
}

// DefaultModel is used when the caller does not specify one.
const DefaultModel = "alibaba/tongyi-deepresearch-30b-a3b"

var catalog = map[string]ModelConfig{
	DefaultModel: {
		Name: DefaultModel, Temperature: 0.7, MaxTokens: 4096,
		InputCostPerMTok: 0.10, OutCostPerMTok: 0.30,
	},
	"openai/gpt-4o-mini": {
		Name: "openai/gpt-4o-mini", Temperature: 0.7, MaxTokens: 4096,
		InputCostPerMTok: 0.15, OutCostPerMTok: 0.60,
	},
	"anthropic/claude-3-5-haiku": {
		Name: "anthropic/claude-3-5-haiku", Temperature: 0.7, MaxTokens: 4096,
		InputCostPerMTok: 0.80, OutCostPerMTok: 4.00,
	},
}

// ModelConfigFor returns the known config for a model name, or a config with
// conservative defaults (and zero cost) if the model is unrecognized.
func ModelConfigFor(name string) ModelConfig {
	if cfg, ok := catalog[name]; ok {
		return cfg
	}
	return ModelConfig{Name: name, Temperature: 0.7, MaxTokens: 4096}
}

// CostUSD computes the dollar cost of a call given token counts.
func (m ModelConfig) CostUSD(inputTokens, outputTokens int) float64 {
	in := float64(inputTokens) / 1_000_000 * m.InputCostPerMTok
	out := float64(outputTokens) / 1_000_000 * m.OutCostPerMTok
	return in + out
}
