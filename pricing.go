package agentpod

import (
	"fmt"
	"sort"
	"strings"
)

// Known model identifiers.
const (
	ModelGPT4o          = "gpt-4o"
	ModelGPT4oMini      = "gpt-4o-mini"
	ModelO3Mini         = "o3-mini"
	ModelAzureGPT4o     = "azure/gpt-4o"
	ModelAzureGPT4oMini = "azure/gpt-4o-mini"
	ModelAzureO3Mini    = "azure/o3-mini"
)

// DefaultModel is used when no model is configured.
const DefaultModel = ModelGPT4oMini

// Pricing holds per-million-token rates in dollars.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var defaultPricing = map[string]Pricing{
	ModelGPT4o:          {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	ModelGPT4oMini:      {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	ModelO3Mini:         {InputPerMillion: 1.10, OutputPerMillion: 4.40},
	ModelAzureGPT4o:     {InputPerMillion: 2.50, OutputPerMillion: 10.00},
	ModelAzureGPT4oMini: {InputPerMillion: 0.15, OutputPerMillion: 0.60},
	ModelAzureO3Mini:    {InputPerMillion: 1.10, OutputPerMillion: 4.40},
}

// pricingPrefixes lists known models longest first so that "gpt-4o-mini-2024-07-18"
// resolves to gpt-4o-mini rather than gpt-4o.
var pricingPrefixes = func() []string {
	keys := make([]string, 0, len(defaultPricing))
	for k := range defaultPricing {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	return keys
}()

// LookupPricing returns the built-in rates for model. Dated snapshots such as
// "gpt-4o-2024-08-06" match their base model.
func LookupPricing(model string) (Pricing, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := defaultPricing[model]; ok {
		return p, true
	}
	for _, k := range pricingPrefixes {
		if strings.HasPrefix(model, k+"-") {
			return defaultPricing[k], true
		}
	}
	return Pricing{}, false
}

// CostForUsage converts reported token usage into dollars.
func CostForUsage(p Pricing, promptTokens, completionTokens int) (float64, error) {
	if promptTokens < 0 || completionTokens < 0 {
		return 0, fmt.Errorf("%w: prompt=%d completion=%d tokens", ErrNegativeCost, promptTokens, completionTokens)
	}
	if err := ValidateCost(p.InputPerMillion); err != nil {
		return 0, fmt.Errorf("input rate: %w", err)
	}
	if err := ValidateCost(p.OutputPerMillion); err != nil {
		return 0, fmt.Errorf("output rate: %w", err)
	}
	cost := float64(promptTokens)*p.InputPerMillion/1e6 + float64(completionTokens)*p.OutputPerMillion/1e6
	return cost, nil
}
