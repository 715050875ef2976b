package provider

// modelPrice is USD per million tokens.
type modelPrice struct {
	prompt     float64
	completion float64
}

// priceTable is the static per-model price list. Unlisted models (local
// models included) cost zero.
var priceTable = map[string]modelPrice{
	"gpt-4o":                  {prompt: 2.50, completion: 10.00},
	"gpt-4o-mini":             {prompt: 0.15, completion: 0.60},
	"gpt-4.1":                 {prompt: 2.00, completion: 8.00},
	"gpt-4.1-mini":            {prompt: 0.40, completion: 1.60},
	"claude-sonnet-4-5":       {prompt: 3.00, completion: 15.00},
	"claude-haiku-4-5":        {prompt: 1.00, completion: 5.00},
	"claude-3-5-haiku-latest": {prompt: 0.80, completion: 4.00},
}

// CostFor derives the dollar cost of a completion from the static price
// table. Callers log the result; it is never persisted by the router.
func CostFor(model string, usage Usage) float64 {
	p, ok := priceTable[model]
	if !ok {
		return 0
	}
	const perMillion = 1_000_000
	return float64(usage.PromptTokens)*p.prompt/perMillion +
		float64(usage.CompletionTokens)*p.completion/perMillion
}
