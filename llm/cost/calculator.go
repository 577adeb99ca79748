package cost

import (
	"fmt"

	"github.com/nexusgate/gateway/llm/catalog"
)

// OutputToInputRatio is the default output-to-input token ratio RankingCost
// applies when called with a non-positive ratio.
const OutputToInputRatio = 3

// CostBreakdown is the priced result for one request's usage.
type CostBreakdown struct {
	InputCost  float64
	OutputCost float64
	TotalCost  float64
	Currency   string
}

// Calculator prices TokenUsage against a read-only catalog.Registry.
type Calculator struct {
	registry *catalog.Registry
}

// NewCalculator builds a Calculator over the given catalog.
func NewCalculator(registry *catalog.Registry) *Calculator {
	return &Calculator{registry: registry}
}

// Price returns the CostBreakdown for actual prompt/completion token counts
// against the named provider+model.
func (c *Calculator) Price(provider, model string, promptTokens, completionTokens int) (CostBreakdown, error) {
	info, ok := c.registry.Lookup(provider, model)
	if !ok {
		return CostBreakdown{}, fmt.Errorf("no pricing for model %s", model)
	}

	input := float64(promptTokens) * info.CostPerInputToken
	output := float64(completionTokens) * info.CostPerOutputToken
	return CostBreakdown{
		InputCost:  input,
		OutputCost: output,
		TotalCost:  input + output,
		Currency:   "USD",
	}, nil
}

// EstimateCost pre-flights the cost of a request before dispatch, using an
// input-token estimate (from EstimateInputTokens) and a caller-supplied
// estimate of output tokens. If estOutputTokens is not known, callers should
// pass inputTokens as a conservative stand-in.
func (c *Calculator) EstimateCost(provider, model string, inputTokens, estOutputTokens int) (CostBreakdown, error) {
	if estOutputTokens <= 0 {
		estOutputTokens = inputTokens
	}
	return c.Price(provider, model, inputTokens, estOutputTokens)
}

// RankingCost returns the per-token comparison value the CostOptimized
// router strategy uses to rank candidate models: cost_per_input_token +
// cost_per_output_token * ratio, where ratio defaults to OutputToInputRatio.
func RankingCost(info catalog.ModelInfo, ratio float64) float64 {
	if ratio <= 0 {
		ratio = OutputToInputRatio
	}
	return info.CostPerInputToken + info.CostPerOutputToken*ratio
}
