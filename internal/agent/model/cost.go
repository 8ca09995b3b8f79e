package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Pricing is the USD price of one million text tokens.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Cost prices one call. A nil usage costs nothing.
func (p Pricing) Cost(usage *schema.TokenUsage) float64 {
	if usage == nil {
		return 0
	}
	return (p.InputPerM*float64(usage.PromptTokens) + p.OutputPerM*float64(usage.CompletionTokens)) / 1_000_000
}

// PriceList maps model families to their pricing.
type PriceList map[string]Pricing

// DefaultPrices covers the models the agent is configured with.
var DefaultPrices = PriceList{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
	"claude-sonnet-4-5":     {InputPerM: 3.00, OutputPerM: 15.00},
	"claude-haiku-4-5":      {InputPerM: 1.00, OutputPerM: 5.00},
	"claude-opus-4-1":       {InputPerM: 15.00, OutputPerM: 75.00},
}

// Lookup finds the pricing of a model id. Dated snapshots such as
// "claude-haiku-4-5-20251001" fall back to the longest matching family.
// Unknown models report ok=false and cost nothing.
func (l PriceList) Lookup(model string) (p Pricing, ok bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok = l[model]; ok {
		return p, true
	}
	family := ""
	for name := range l {
		if strings.HasPrefix(model, name+"-") && len(name) > len(family) {
			family = name
		}
	}
	if family == "" {
		return Pricing{}, false
	}
	return l[family], true
}

// CostOf prices one call of model against the default list.
func CostOf(model string, usage *schema.TokenUsage) float64 {
	p, _ := DefaultPrices.Lookup(model)
	return p.Cost(usage)
}
