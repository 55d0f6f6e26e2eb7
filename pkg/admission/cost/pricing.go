package cost

import (
	"log/slog"
	"strings"
	"sync"
)

// ModelPrice holds per-million-token pricing for a model.
type ModelPrice struct {
	// InputPerMTok is USD per million prompt tokens.
	InputPerMTok float64 `yaml:"input_per_mtok"`

	// OutputPerMTok is USD per million completion tokens.
	OutputPerMTok float64 `yaml:"output_per_mtok"`
}

// Pricing resolves a model name to its price. Lookup order: exact
// match, then longest family prefix, then the default price. Unknown
// models never fail a request; they are billed at the default price and
// logged, trading pricing precision for availability.
type Pricing struct {
	mu       sync.RWMutex
	exact    map[string]ModelPrice
	family   map[string]ModelPrice
	fallback ModelPrice
	logger   *slog.Logger

	warnedMu sync.Mutex
	warned   map[string]struct{}
}

// DefaultPrice is the conservative fallback for unknown models,
// priced at the top of the market to prevent silent overspend.
var DefaultPrice = ModelPrice{InputPerMTok: 15, OutputPerMTok: 75}

// defaultExactPrices is example policy input; deployments override it
// via configuration.
func defaultExactPrices() map[string]ModelPrice {
	return map[string]ModelPrice{
		"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
		"claude-3-5-haiku-20241022":  {InputPerMTok: 1, OutputPerMTok: 5},
		"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

		"gpt-4o":      {InputPerMTok: 2.5, OutputPerMTok: 10},
		"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	}
}

// defaultFamilyPrices maps model family prefixes to prices. Longest
// prefix wins so a specific family beats its broad parent.
func defaultFamilyPrices() map[string]ModelPrice {
	return map[string]ModelPrice{
		"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
		"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
		"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

		"claude-opus":   {InputPerMTok: 15, OutputPerMTok: 75},
		"claude-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
		"claude-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},

		"gpt-4o-mini": {InputPerMTok: 0.15, OutputPerMTok: 0.60},
		"gpt-4o":      {InputPerMTok: 2.5, OutputPerMTok: 10},
		"gpt-4":       {InputPerMTok: 10, OutputPerMTok: 30},
	}
}

// NewPricing creates a pricing table with the built-in model prices.
func NewPricing(logger *slog.Logger) *Pricing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pricing{
		exact:    defaultExactPrices(),
		family:   defaultFamilyPrices(),
		fallback: DefaultPrice,
		logger:   logger.With("component", "admission.cost.pricing"),
		warned:   make(map[string]struct{}),
	}
}

// Override replaces exact-match prices and, if fallback is non-zero,
// the default price. Family prefixes are left intact. Hot-swappable.
func (p *Pricing) Override(exact map[string]ModelPrice, fallback ModelPrice) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if exact != nil {
		merged := make(map[string]ModelPrice, len(p.exact)+len(exact))
		for k, v := range p.exact {
			merged[k] = v
		}
		for k, v := range exact {
			merged[k] = v
		}
		p.exact = merged
	}
	if fallback.InputPerMTok > 0 || fallback.OutputPerMTok > 0 {
		p.fallback = fallback
	}
}

// PriceFor returns the price for a model and whether the model was
// recognized (exact or family match).
func (p *Pricing) PriceFor(model string) (ModelPrice, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if price, ok := p.exact[model]; ok {
		return price, true
	}

	bestPrefix := ""
	var bestPrice ModelPrice
	for prefix, price := range p.family {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPrice = price
		}
	}
	if bestPrefix != "" {
		return bestPrice, true
	}

	return p.fallback, false
}

// Calculate computes the USD cost for a request. Unknown models are
// billed at the default price with a once-per-model warning.
func (p *Pricing) Calculate(model string, inputTokens, outputTokens int) float64 {
	price, known := p.PriceFor(model)
	if !known {
		p.warnOnce(model)
	}

	inputCost := float64(inputTokens) / 1_000_000 * price.InputPerMTok
	outputCost := float64(outputTokens) / 1_000_000 * price.OutputPerMTok
	return inputCost + outputCost
}

func (p *Pricing) warnOnce(model string) {
	p.warnedMu.Lock()
	defer p.warnedMu.Unlock()

	if _, seen := p.warned[model]; seen {
		return
	}
	p.warned[model] = struct{}{}
	p.logger.Warn("unknown model, billing at default price",
		"model", model,
		"input_per_mtok", p.fallback.InputPerMTok,
		"output_per_mtok", p.fallback.OutputPerMTok,
	)
}
