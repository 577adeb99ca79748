package budget

import "time"

// Scope identifies the tier a BudgetConstraint applies to. Ledger keys are
// free-form strings (e.g. "user:42", "project:acme", "global") rather than
// this type, so a Ledger can host constraints a caller names however its
// deployment organizes scopes; Scope documents the three tiers spec.md's
// BudgetConstraint names.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeProject Scope = "project"
	ScopeGlobal  Scope = "global"
)

// Constraint mirrors spec.md's BudgetConstraint: a named scope's spend cap
// over a rolling window, and the spend recorded against it so far.
//
// Invariant: CurrentSpend <= MaxUSD holds at the instant a request is
// admitted. Under concurrency this is enforced best-effort by serializing
// all mutation of one scope's state behind a single critical section (see
// MemoryLedger), matching spec.md's "monotonic best-effort under
// concurrency" language.
type Constraint struct {
	Scope        string
	MaxUSD       float64
	Window       time.Duration
	CurrentSpend float64
}
