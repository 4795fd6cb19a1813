package cost

// providerRate prices one (provider, model) pair. Embedding and completion
// usage is priced per 1K tokens; reranking is priced per request.
type providerRate struct {
	perThousandTokens float64
	perRequest        float64
}

// Published provider list prices in USD.
var rates = map[string]providerRate{
	"openai/text-embedding-3-small":     {perThousandTokens: 0.00002},
	"voyage/voyage-code-2":              {perThousandTokens: 0.00012},
	"cohere/rerank-english-v3.0":        {perRequest: 0.002},
	"anthropic/claude-3-5-haiku-latest": {perThousandTokens: 0.0008},
}

// localProviders never bill.
var localProviders = map[string]bool{
	"local":        true,
	"ollama":       true,
	"local_rerank": true,
	"none":         true,
}

// Price returns the charge for one call and whether the (provider, model)
// pair had a pricing entry.
func Price(provider, model string, tokens int) (float64, bool) {
	if localProviders[provider] {
		return 0, true
	}
	rate, ok := rates[provider+"/"+model]
	if !ok {
		return 0, false
	}
	return rate.perThousandTokens*float64(tokens)/1000 + rate.perRequest, true
}
