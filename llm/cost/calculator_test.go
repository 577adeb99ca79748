package cost

import (
	"testing"

	"github.com/nexusgate/gateway/llm/catalog"
	"github.com/pkoukk/tiktoken-go"
)

func newTestCalculator() *Calculator {
	reg := catalog.NewRegistry([]catalog.ModelInfo{
		{Provider: "openai", ModelID: "gpt-4o", CostPerInputToken: 0.000005, CostPerOutputToken: 0.000015},
	})
	return NewCalculator(reg)
}

func TestPrice(t *testing.T) {
	c := newTestCalculator()
	b, err := c.Price("openai", "gpt-4o", 1000, 500)
	if err != nil {
		t.Fatal(err)
	}
	if b.Currency != "USD" {
		t.Fatalf("unexpected currency: %s", b.Currency)
	}
	want := 1000*0.000005 + 500*0.000015
	if b.TotalCost != want {
		t.Fatalf("want %v got %v", want, b.TotalCost)
	}
}

func TestPrice_UnknownModel(t *testing.T) {
	c := newTestCalculator()
	if _, err := c.Price("openai", "unknown-model", 1, 1); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestEstimateInputTokens_Heuristic(t *testing.T) {
	n := EstimateInputTokens("claude-3-5-sonnet", []string{"abcdefgh"})
	if n != 2 {
		t.Fatalf("expected ceil(8/4)=2, got %d", n)
	}
}

func TestEstimateInputTokens_Tiktoken(t *testing.T) {
	n := EstimateInputTokens("gpt-4", []string{"hello world"})
	if n <= 0 {
		t.Fatalf("expected positive token count, got %d", n)
	}
}

func TestEstimateInputTokens_LongestPrefixWins(t *testing.T) {
	// "gpt-4" is itself a prefix of "gpt-4o", so resolving the model's
	// encoding must pick the longer, more specific match (o200k_base)
	// deterministically rather than depending on map iteration order.
	text := "hello there, this is a test string for tokenizer comparison"

	o200k, err := tiktoken.GetEncoding("o200k_base")
	if err != nil {
		t.Fatalf("failed to load o200k_base: %v", err)
	}
	want := len(o200k.Encode(text, nil, nil))

	for _, model := range []string{"gpt-4o", "gpt-4o-mini", "gpt-4o-2024-08-06"} {
		if got := EstimateInputTokens(model, []string{text}); got != want {
			t.Fatalf("%s: want %d tokens (o200k_base), got %d", model, want, got)
		}
	}
}
