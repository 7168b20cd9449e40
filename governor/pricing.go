package governor

import "sync"

// ModelPricing is the input/output cost of one model, in USD per 1M
// tokens. The governor never calls a model provider directly (that loop
// is out of scope); these identifiers are only used as pricing-table
// keys, matching the model names a caller would pass to a chat-completion
// SDK's `Model`/`ChatModel` parameter.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

var pricingMu sync.RWMutex

var defaultPricing = map[string]ModelPricing{
	"gpt-4o":                     {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini":                {InputPer1M: 0.15, OutputPer1M: 0.60},
	"gpt-4-turbo":                {InputPer1M: 10.00, OutputPer1M: 30.00},
	"gpt-3.5-turbo":              {InputPer1M: 0.50, OutputPer1M: 1.50},
	"claude-sonnet-4-5-20250929": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-5-sonnet-20241022": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-3-opus-20240229":     {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-3-haiku-20240307":    {InputPer1M: 0.25, OutputPer1M: 1.25},
	"gemini-1.5-pro":             {InputPer1M: 1.25, OutputPer1M: 5.00},
	"gemini-1.5-flash":           {InputPer1M: 0.075, OutputPer1M: 0.30},
	"gemini-1.0-pro":             {InputPer1M: 0.50, OutputPer1M: 1.50},
}

// EstimateCost returns the USD cost of inputTokens/outputTokens against
// model's pricing entry, or zero for an unrecognized model (the governor
// degrades to tracking raw token counts rather than failing a run over
// an unpriced model, matching the teacher's "record with zero cost"
// fallback in CostTracker.RecordLLMCall).
func EstimateCost(model string, inputTokens, outputTokens int64) float64 {
	pricingMu.RLock()
	p, ok := defaultPricing[model]
	pricingMu.RUnlock()
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1_000_000.0)*p.InputPer1M + (float64(outputTokens)/1_000_000.0)*p.OutputPer1M
}

// SetPricing overrides or adds a model's pricing entry, mirroring the
// teacher's CostTracker.SetCustomPricing for enterprise/custom rates.
func SetPricing(model string, inputPer1M, outputPer1M float64) {
	pricingMu.Lock()
	defer pricingMu.Unlock()
	defaultPricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}
