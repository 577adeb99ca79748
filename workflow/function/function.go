// Package function registers event-triggered function definitions and
// dispatches them to an opaque Executor, supporting chained invocations
// with delay and condition gating.
package function

import (
	"time"

	"github.com/nexusgate/gateway/workflow/petri"
	"github.com/nexusgate/gateway/workflow/rules"
)

// TriggerKind enumerates the events an EventTrigger can fire on.
type TriggerKind string

const (
	TriggerTokenCreated      TriggerKind = "token_created"
	TriggerTokenTransitioned TriggerKind = "token_transitioned"
	TriggerFunctionCompleted TriggerKind = "function_completed"
)

// InputMappingKind discriminates how a trigger or chain builds its target
// function's input payload.
type InputMappingKind string

const (
	// MergedData unions the triggering token's data and metadata.
	MergedData InputMappingKind = "merged_data"
	// FullOutput passes through the previous function's entire output.
	FullOutput InputMappingKind = "full_output"
	// FieldMapping renames/selects fields: {target_key: source_key}, where
	// source_key is a top-level key of the merged data, metadata and output;
	// dotted paths are not resolved.
	FieldMapping InputMappingKind = "field_mapping"
)

// InputMapping describes how to build a target function's input.
type InputMapping struct {
	Kind    InputMappingKind
	Mapping map[string]string // target_key -> source_key, for FieldMapping
}

// EventTrigger matches incoming bus events to a function. PlaceFilter, when
// set, restricts TokenCreated/TokenTransitioned triggers to that place; for
// TriggerFunctionCompleted, SourceFunction must match and RequireSuccess
// restricts the match to successful completions only.
type EventTrigger struct {
	ID             string
	Kind           TriggerKind
	PlaceFilter    petri.PlaceID // optional, for TokenCreated/TokenTransitioned
	SourceFunction string        // required for TriggerFunctionCompleted
	RequireSuccess bool
	InputMapping   InputMapping
}

// ChainConditionKind enumerates when a FunctionChain fires relative to its
// parent's outcome.
type ChainConditionKind string

const (
	ChainAlways      ChainConditionKind = "always"
	ChainOnSuccess   ChainConditionKind = "on_success"
	ChainOnFailure   ChainConditionKind = "on_failure"
	ChainRuleMatches ChainConditionKind = "rule_matches"
)

// ChainCondition gates whether a FunctionChain fires.
type ChainCondition struct {
	Kind ChainConditionKind
	Rule *rules.Rule // for ChainRuleMatches, evaluated against the parent's output
}

// FunctionChain schedules target_function after its parent completes, once
// Condition is satisfied.
type FunctionChain struct {
	TargetFunction string
	Condition      ChainCondition
	InputMapping   InputMapping
	Delay          time.Duration
}

// Definition is a registered function: its triggers, its chains, and
// optional input/output JSON Schemas validated around each Execution.
type Definition struct {
	ID           string
	Name         string
	Tags         []string
	InputSchema  []byte // raw JSON Schema, nil to skip validation
	OutputSchema []byte
	Triggers     []EventTrigger
	Chains       []FunctionChain
}

// Status is the lifecycle state of one Execution.
type Status string

const (
	StatusPending          Status = "pending"
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusValidationFailed Status = "validation_failed"
)

// Execution is one dispatch of a Definition.
type Execution struct {
	ID          string
	FunctionID  string
	Input       map[string]any
	Output      map[string]any
	Status      Status
	Error       string
	CreatedAt   time.Time
	CompletedAt time.Time
}
