package router

import (
	"context"
	"testing"
	"time"

	"github.com/nexusgate/gateway/llm"
	"github.com/nexusgate/gateway/llm/catalog"
	"github.com/nexusgate/gateway/llm/cost"
	"github.com/nexusgate/gateway/llm/health"
	"github.com/nexusgate/gateway/types"
)

func testRegistry() *catalog.Registry {
	return catalog.NewRegistry([]catalog.ModelInfo{
		{Provider: "openai", ModelID: "gpt-4o", CostPerInputToken: 0.000005, CostPerOutputToken: 0.000015, Capabilities: map[catalog.Capability]bool{catalog.CapCode: true}},
		{Provider: "anthropic", ModelID: "gpt-4o", CostPerInputToken: 0.000003, CostPerOutputToken: 0.000010, Capabilities: map[catalog.Capability]bool{catalog.CapCode: true}},
	})
}

func TestSelect_CostOptimizedPrefersCheaperProvider(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)

	decision, err := r.Select(RouteRequest{Model: "gpt-4o", Strategy: CostOptimized})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Primary.Provider != "anthropic" {
		t.Fatalf("expected anthropic (cheaper), got %s", decision.Primary.Provider)
	}
	if len(decision.Fallbacks) != 1 || decision.Fallbacks[0].Provider != "openai" {
		t.Fatalf("expected openai as fallback, got %+v", decision.Fallbacks)
	}
}

func TestSelect_FiltersUnhealthyCandidates(t *testing.T) {
	tracker := health.NewTracker()
	tracker.Record("anthropic", time.Millisecond, false, "boom")
	tracker.Record("anthropic", time.Millisecond, false, "boom")
	tracker.Record("anthropic", time.Millisecond, false, "boom")

	r := NewRouter(testRegistry(), tracker, cost.NewCalculator(testRegistry()), nil, nil, nil)

	decision, err := r.Select(RouteRequest{Model: "gpt-4o", Strategy: CostOptimized})
	if err != nil {
		t.Fatal(err)
	}
	if decision.Primary.Provider != "openai" {
		t.Fatalf("expected openai since anthropic is unhealthy, got %s", decision.Primary.Provider)
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)
	_, err := r.Select(RouteRequest{Model: "nonexistent", Strategy: CostOptimized})
	if err != ErrNoAvailableModel {
		t.Fatalf("expected ErrNoAvailableModel, got %v", err)
	}
}

func TestSelect_LoadBalancedRoundRobins(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)

	first, _ := r.Select(RouteRequest{Model: "gpt-4o", Strategy: LoadBalanced})
	second, _ := r.Select(RouteRequest{Model: "gpt-4o", Strategy: LoadBalanced})
	if first.Primary.Provider == second.Primary.Provider {
		t.Fatalf("expected round robin to alternate providers, got %s twice", first.Primary.Provider)
	}
}

type fakeBudget struct {
	rejectAll bool
	recorded  []cost.CostBreakdown
}

func (f *fakeBudget) Admit(scope string, estimated cost.CostBreakdown) error {
	if f.rejectAll {
		return types.NewError(types.ErrRateLimit, "budget exceeded")
	}
	return nil
}

func (f *fakeBudget) Record(scope string, actual cost.CostBreakdown) {
	f.recorded = append(f.recorded, actual)
}

func TestSelect_BudgetRejection(t *testing.T) {
	budget := &fakeBudget{rejectAll: true}
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), budget, nil, nil)

	_, err := r.Select(RouteRequest{Model: "gpt-4o", Strategy: CostOptimized, BudgetScope: "user:1", EstimatedInputTokens: 100})
	if err == nil {
		t.Fatal("expected budget rejection error")
	}
}

func TestDispatch_FallsThroughOnRetryableError(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)
	decision := &Decision{
		Primary:   Candidate{Provider: "anthropic", Model: catalog.ModelInfo{ModelID: "gpt-4o"}},
		Fallbacks: []Candidate{{Provider: "openai", Model: catalog.ModelInfo{ModelID: "gpt-4o"}}},
	}

	calls := 0
	resp, err := r.Dispatch(context.Background(), decision, func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error) {
		calls++
		if provider == "anthropic" {
			return nil, types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)
		}
		return &llm.ChatResponse{Provider: provider}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "openai" {
		t.Fatalf("expected fallback to openai, got %s", resp.Provider)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestDispatch_DoesNotFailoverOnValidation(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)
	decision := &Decision{
		Primary:   Candidate{Provider: "anthropic", Model: catalog.ModelInfo{ModelID: "gpt-4o"}},
		Fallbacks: []Candidate{{Provider: "openai", Model: catalog.ModelInfo{ModelID: "gpt-4o"}}},
	}

	calls := 0
	_, err := r.Dispatch(context.Background(), decision, func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error) {
		calls++
		return nil, types.NewError(types.ErrValidation, "bad request")
	})
	if err == nil {
		t.Fatal("expected validation error to propagate")
	}
	if calls != 1 {
		t.Fatalf("expected no failover on validation error, got %d calls", calls)
	}
}

func TestDispatch_OpenBreakerFallsThroughToNextCandidate(t *testing.T) {
	r := NewRouter(testRegistry(), health.NewTracker(), cost.NewCalculator(testRegistry()), nil, nil, nil)
	failingDecision := &Decision{Primary: Candidate{Provider: "anthropic", Model: catalog.ModelInfo{ModelID: "gpt-4o"}}}

	// Trip anthropic's breaker open by exhausting DefaultConfig's failure
	// threshold with retryable errors before any fallback exists.
	for i := 0; i < 5; i++ {
		_, err := r.Dispatch(context.Background(), failingDecision, func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error) {
			return nil, types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)
		})
		if err == nil {
			t.Fatal("expected failure while tripping the breaker")
		}
	}

	decision := &Decision{
		Primary:   Candidate{Provider: "anthropic", Model: catalog.ModelInfo{ModelID: "gpt-4o"}},
		Fallbacks: []Candidate{{Provider: "openai", Model: catalog.ModelInfo{ModelID: "gpt-4o"}}},
	}

	var anthropicCalled bool
	resp, err := r.Dispatch(context.Background(), decision, func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error) {
		if provider == "anthropic" {
			anthropicCalled = true
			return nil, types.NewError(types.ErrUpstreamError, "boom").WithRetryable(true)
		}
		return &llm.ChatResponse{Provider: provider}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Provider != "openai" {
		t.Fatalf("expected fallback to openai once anthropic's breaker is open, got %s", resp.Provider)
	}
	if anthropicCalled {
		t.Fatal("expected the open breaker to short-circuit the call instead of invoking it")
	}
}
