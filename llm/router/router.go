// Package router selects an upstream provider for an LLM request: by cost,
// by latency, by round robin, by an explicit failover chain, or by a
// capability hint with a cost/latency tiebreak.
package router

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/nexusgate/gateway/llm"
	"github.com/nexusgate/gateway/llm/catalog"
	"github.com/nexusgate/gateway/llm/circuitbreaker"
	"github.com/nexusgate/gateway/llm/config"
	"github.com/nexusgate/gateway/llm/cost"
	"github.com/nexusgate/gateway/llm/health"
	"github.com/nexusgate/gateway/types"
	"go.uber.org/zap"
)

// ErrNoAvailableModel is returned when no healthy candidate advertises the
// requested model under the given strategy.
var ErrNoAvailableModel = errors.New("no available model")

// Strategy selects the policy the router uses to order eligible candidates.
type Strategy string

const (
	CostOptimized    Strategy = "cost_optimized"
	LatencyOptimized Strategy = "latency_optimized"
	LoadBalanced     Strategy = "load_balanced"
	FailoverChain    Strategy = "failover_chain"
	Smart            Strategy = "smart"
)

// TaskHint narrows the candidate set for the Smart strategy.
type TaskHint string

const (
	HintReasoning      TaskHint = "reasoning"
	HintCode           TaskHint = "code"
	HintConversational TaskHint = "conversational"
	HintFast           TaskHint = "fast"
	HintCheap          TaskHint = "cheap"
	HintVision         TaskHint = "vision"
	HintEmbedding      TaskHint = "embedding"
)

// hintCapability maps a task hint to the catalog capability it filters on.
// Hints with no direct capability analogue (Fast, Cheap, Conversational)
// pass every candidate through and rely on the cost/latency tiebreak.
var hintCapability = map[TaskHint]catalog.Capability{
	HintReasoning: catalog.CapReasoning,
	HintCode:      catalog.CapCode,
	HintVision:    catalog.CapVision,
	HintEmbedding: catalog.CapEmbedding,
}

// Budget is the admission-check contract the router consults before
// dispatch. llm/budget.MemoryLedger and llm/budget.GormLedger satisfy it.
type Budget interface {
	Admit(scope string, estimated cost.CostBreakdown) error
	Record(scope string, actual cost.CostBreakdown)
}

// Candidate is one (provider, model) pair eligible to serve a request.
type Candidate struct {
	Provider string
	Model    catalog.ModelInfo
}

// RouteRequest describes what the caller wants routed.
type RouteRequest struct {
	Model                string
	Strategy             Strategy
	TaskHint             TaskHint
	FailoverOrder        []string // explicit provider order, for FailoverChain
	BudgetScope          string
	EstimatedInputTokens int
	EstOutputTokens      int
	AllowOverBudget      bool
}

// Decision is the router's chosen primary candidate plus an ordered list of
// fallbacks to try on a retryable failure.
type Decision struct {
	Primary   Candidate
	Fallbacks []Candidate
}

// Router picks providers from a read-only catalog.Registry, gated by a
// health.Tracker and a Budget, and dispatches with the retry/backoff policy
// spec.md §4.D describes.
type Router struct {
	catalog   *catalog.Registry
	health    *health.Tracker
	cost      *cost.Calculator
	budget    Budget
	providers map[string]llm.Provider
	logger    *zap.Logger
	policies  *config.PolicyManager

	mu       sync.Mutex
	rrIndex  map[string]int
	rng      *rand.Rand
	breakers map[string]circuitbreaker.CircuitBreaker

	prefixRouter *PrefixRouter
}

// SetPrefixRouter wires a PrefixRouter consulted whenever the catalog has
// no entry for the requested model ID, so a model a deployment hasn't
// added to the catalog yet (e.g. a same-day provider release) still routes
// by its ID prefix instead of failing closed.
func (r *Router) SetPrefixRouter(pr *PrefixRouter) {
	r.prefixRouter = pr
}

// SetPolicies wires a PolicyManager into FailoverChain requests that don't
// carry an explicit FailoverOrder: the chain is derived from whichever
// FallbackPolicy matches the requested model, in priority order.
func (r *Router) SetPolicies(pm *config.PolicyManager) {
	r.policies = pm
}

// NewRouter builds a Router. providers maps provider name to the live
// llm.Provider used for dispatch; catalog and health sources are read-only
// from the router's perspective.
func NewRouter(reg *catalog.Registry, tracker *health.Tracker, calc *cost.Calculator, budget Budget, providers map[string]llm.Provider, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		catalog:   reg,
		health:    tracker,
		cost:      calc,
		budget:    budget,
		providers: providers,
		logger:    logger,
		rrIndex:   make(map[string]int),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		breakers:  make(map[string]circuitbreaker.CircuitBreaker),
	}
}

// breakerFor lazily creates a per-provider circuit breaker on first use, so
// a provider with repeated failures stops being dispatched to even during
// the window before the health tracker's rolling score catches up.
func (r *Router) breakerFor(provider string) circuitbreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(), r.logger)
	r.breakers[provider] = b
	return b
}

// Select runs the firing order from spec.md §4.D steps 2-5: resolve
// candidates, filter by health, apply strategy, budget check. It does not
// dispatch — call Dispatch with the returned Decision.
func (r *Router) Select(req RouteRequest) (*Decision, error) {
	req.FailoverOrder = r.resolveFailoverOrder(req)
	candidates := r.candidatesFor(req)
	candidates = r.filterHealthy(candidates)
	if len(candidates) == 0 {
		return nil, ErrNoAvailableModel
	}

	ordered := r.applyStrategy(req, candidates)
	if len(ordered) == 0 {
		return nil, ErrNoAvailableModel
	}

	primary := ordered[0]
	fallbacks := ordered[1:]

	if r.budget != nil && req.BudgetScope != "" {
		estimate, err := r.cost.EstimateCost(primary.Provider, primary.Model.ModelID, req.EstimatedInputTokens, req.EstOutputTokens)
		if err == nil {
			if admitErr := r.budget.Admit(req.BudgetScope, estimate); admitErr != nil && !req.AllowOverBudget {
				return nil, types.NewError(types.ErrRateLimit, "budget exceeded").WithRetryable(false)
			}
		}
	}

	return &Decision{Primary: primary, Fallbacks: fallbacks}, nil
}

// resolveFailoverOrder fills in FailoverOrder from the wired PolicyManager
// when the caller did not supply one explicitly.
func (r *Router) resolveFailoverOrder(req RouteRequest) []string {
	if req.Strategy != FailoverChain || len(req.FailoverOrder) > 0 || r.policies == nil {
		return req.FailoverOrder
	}
	var order []string
	for _, policy := range r.policies.GetFallbackChain("", req.Model) {
		if policy.FallbackType == config.FallbackProvider && policy.FallbackTarget != "" {
			order = append(order, policy.FallbackTarget)
		}
	}
	return order
}

func (r *Router) candidatesFor(req RouteRequest) []Candidate {
	var entries []catalog.ModelInfo
	if req.Strategy == Smart {
		if cp, ok := hintCapability[req.TaskHint]; ok {
			entries = r.catalog.WithCapability(req.Model, cp)
		} else {
			entries = r.catalog.WithCapability(req.Model)
		}
	} else {
		entries = r.catalog.WithCapability(req.Model)
	}

	if len(entries) == 0 && r.prefixRouter != nil && req.Model != "" {
		if provider, ok := r.prefixRouter.RouteByModelID(req.Model); ok {
			if _, hasClient := r.providers[provider]; hasClient {
				entries = []catalog.ModelInfo{{Provider: provider, ModelID: req.Model}}
			}
		}
	}

	if req.Strategy == FailoverChain && len(req.FailoverOrder) > 0 {
		allowed := make(map[string]bool, len(req.FailoverOrder))
		for _, p := range req.FailoverOrder {
			allowed[p] = true
		}
		filtered := entries[:0:0]
		for _, e := range entries {
			if allowed[e.Provider] {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		out = append(out, Candidate{Provider: e.Provider, Model: e})
	}
	return out
}

func (r *Router) filterHealthy(candidates []Candidate) []Candidate {
	if r.health == nil {
		return candidates
	}
	out := candidates[:0:0]
	for _, c := range candidates {
		if r.health.Snapshot(c.Provider).Healthy {
			out = append(out, c)
		}
	}
	return out
}

func (r *Router) applyStrategy(req RouteRequest, candidates []Candidate) []Candidate {
	switch req.Strategy {
	case CostOptimized, Smart:
		sorted := append([]Candidate(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return cost.RankingCost(sorted[i].Model, 0) < cost.RankingCost(sorted[j].Model, 0)
		})
		return sorted
	case LatencyOptimized:
		sorted := append([]Candidate(nil), candidates...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return r.health.Snapshot(sorted[i].Provider).ResponseTimeMs < r.health.Snapshot(sorted[j].Provider).ResponseTimeMs
		})
		return sorted
	case LoadBalanced:
		return r.roundRobin(req.Model, candidates)
	case FailoverChain:
		return r.inFailoverOrder(req.FailoverOrder, candidates)
	default:
		return candidates
	}
}

func (r *Router) roundRobin(model string, candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return candidates
	}
	r.mu.Lock()
	idx := r.rrIndex[model] % len(candidates)
	r.rrIndex[model] = idx + 1
	r.mu.Unlock()

	out := make([]Candidate, 0, len(candidates))
	out = append(out, candidates[idx:]...)
	out = append(out, candidates[:idx]...)
	return out
}

func (r *Router) inFailoverOrder(order []string, candidates []Candidate) []Candidate {
	if len(order) == 0 {
		return candidates
	}
	byProvider := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		byProvider[c.Provider] = c
	}
	out := make([]Candidate, 0, len(candidates))
	for _, p := range order {
		if c, ok := byProvider[p]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Backoff parameters between fallback attempts, per spec.md §4.D.
const (
	backoffBase   = 250 * time.Millisecond
	backoffCap    = 4 * time.Second
	backoffJitter = 0.2
)

func backoffDelay(attempt int, rng *rand.Rand) time.Duration {
	d := backoffBase << attempt
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}
	jitter := 1 + (rng.Float64()*2-1)*backoffJitter
	return time.Duration(float64(d) * jitter)
}

// Dispatch tries the primary candidate and then each fallback in order,
// classifying failures per spec.md §4.D: Network/Timeout/Server(5xx)/RateLimit
// fall through to the next candidate; Validation/Auth/Parse do not. Health
// is recorded on every attempt; cost is recorded for the successful one.
func (r *Router) Dispatch(ctx context.Context, decision *Decision, call func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error)) (*llm.ChatResponse, error) {
	attempts := append([]Candidate{decision.Primary}, decision.Fallbacks...)

	var lastErr error
	for i, c := range attempts {
		start := time.Now()
		resp, err := r.callThroughBreaker(ctx, c, call)
		latency := time.Since(start)

		if err == nil {
			if r.health != nil {
				r.health.Record(c.Provider, latency, true, "")
			}
			if r.budget != nil && resp != nil {
				if breakdown, priceErr := r.cost.Price(c.Provider, c.Model.ModelID, resp.Usage.PromptTokens, resp.Usage.CompletionTokens); priceErr == nil {
					r.budget.Record("", breakdown)
				}
			}
			return resp, nil
		}

		if r.health != nil {
			r.health.Record(c.Provider, latency, false, err.Error())
		}
		lastErr = err

		if !isRetryableFailover(err) {
			return nil, err
		}
		if i == len(attempts)-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoffDelay(i, r.rng)):
		}
	}

	return nil, lastErr
}

// callThroughBreaker runs call behind the candidate's provider-scoped
// circuit breaker, so a provider stuck failing trips open and short-circuits
// further attempts (returned as a retryable error, so Dispatch falls through
// to the next candidate) without waiting on its own HTTP timeout each time.
func (r *Router) callThroughBreaker(ctx context.Context, c Candidate, call func(ctx context.Context, provider string, model catalog.ModelInfo) (*llm.ChatResponse, error)) (*llm.ChatResponse, error) {
	b := r.breakerFor(c.Provider)
	return circuitbreaker.CallWithResultTyped(b, ctx, func() (*llm.ChatResponse, error) {
		return call(ctx, c.Provider, c.Model)
	})
}

// StartHealthProbe runs a background loop that actively calls HealthCheck on
// every registered provider, adapted from the teacher router's probeAll
// loop: instead of writing into a GORM-backed health score table, it feeds
// results straight into the shared health.Tracker.
func (r *Router) StartHealthProbe(ctx context.Context, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeAll(ctx, timeout)
		}
	}
}

func (r *Router) probeAll(ctx context.Context, timeout time.Duration) {
	for name, p := range r.providers {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		start := time.Now()
		status, err := p.HealthCheck(probeCtx)
		cancel()

		latency := time.Since(start)
		if status != nil && status.Latency > 0 {
			latency = status.Latency
		}
		success := err == nil && (status == nil || status.Healthy)

		msg := ""
		if err != nil {
			msg = err.Error()
		}
		r.health.Record(name, latency, success, msg)
	}
}

func isRetryableFailover(err error) bool {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyCallsInHalfOpen) {
		return true
	}
	var llmErr *types.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case types.ErrValidation, types.ErrAuthentication, types.ErrUnauthorized, types.ErrForbidden, types.ErrInvalidRequest:
			return false
		}
		return llmErr.Retryable
	}
	return false
}
