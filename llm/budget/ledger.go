package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/llm/cost"
)

// Ledger tracks spend against named budget scopes. It satisfies both
// llm/router.Budget and llm/streaming.Budget, whose Admit/Record method
// sets are declared locally in those packages to avoid importing this one.
type Ledger interface {
	// Admit checks whether estimated spend would push scope over its cap,
	// returning an error if so. A scope with no configured Constraint is
	// treated as unbounded and always admits.
	Admit(scope string, estimated cost.CostBreakdown) error
	// Record books actual spend against scope after a call completes.
	Record(scope string, actual cost.CostBreakdown)
	// Snapshot returns scope's current Constraint, or false if unconfigured.
	Snapshot(scope string) (Constraint, bool)
}

// scopeState is one scope's window-relative spend, guarded by the owning
// MemoryLedger's mutex. Window resets are lazy: the window is rolled
// forward the next time the scope is touched, the same lazy-reset idiom
// the teacher's TokenBudgetManager uses for its minute/hour/day windows.
type scopeState struct {
	maxUSD      float64
	window      time.Duration
	windowStart time.Time
	spend       float64
}

// MemoryLedger is a single-writer-serialized in-memory Ledger: every
// mutation of a scope's state happens under one mutex, matching the
// teacher's atomic-counter-with-lazy-reset style in token_budget.go, just
// keyed per scope instead of per fixed minute/hour/day window.
type MemoryLedger struct {
	mu      sync.Mutex
	scopes  map[string]*scopeState
	metrics *metrics.Collector
}

// NewMemoryLedger returns an empty MemoryLedger. Scopes admit unconditionally
// until Configure is called for them.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{scopes: make(map[string]*scopeState)}
}

// SetCollector wires a Collector so every Record also exports
// llm_budget_spend_usd_total. Optional.
func (l *MemoryLedger) SetCollector(c *metrics.Collector) {
	l.mu.Lock()
	l.metrics = c
	l.mu.Unlock()
}

// Configure sets or replaces scope's cap and rolling window. Calling it
// again resets the scope's accumulated spend and window start.
func (l *MemoryLedger) Configure(scope string, maxUSD float64, window time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.scopes[scope] = &scopeState{maxUSD: maxUSD, window: window, windowStart: time.Now()}
}

func (l *MemoryLedger) Admit(scope string, estimated cost.CostBreakdown) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.scopes[scope]
	if !ok {
		return nil
	}
	l.resetIfElapsed(state)

	if state.spend+estimated.TotalCost > state.maxUSD {
		return fmt.Errorf("budget scope %q: current spend %.4f + estimate %.4f exceeds cap %.4f",
			scope, state.spend, estimated.TotalCost, state.maxUSD)
	}
	return nil
}

func (l *MemoryLedger) Record(scope string, actual cost.CostBreakdown) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.scopes[scope]
	if !ok {
		return
	}
	l.resetIfElapsed(state)
	state.spend += actual.TotalCost
	l.metrics.AddBudgetSpend(scope, actual.TotalCost)
}

func (l *MemoryLedger) Snapshot(scope string) (Constraint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.scopes[scope]
	if !ok {
		return Constraint{}, false
	}
	l.resetIfElapsed(state)
	return Constraint{Scope: scope, MaxUSD: state.maxUSD, Window: state.window, CurrentSpend: state.spend}, true
}

// resetIfElapsed must be called with l.mu held.
func (l *MemoryLedger) resetIfElapsed(state *scopeState) {
	if state.window <= 0 {
		return
	}
	if time.Since(state.windowStart) >= state.window {
		state.spend = 0
		state.windowStart = time.Now()
	}
}
