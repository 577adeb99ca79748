package function

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusgate/gateway/eventbus"
	"github.com/nexusgate/gateway/workflow/petri"
	"github.com/nexusgate/gateway/workflow/rules"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxChainDepth bounds how many FunctionChain hops a single triggering
// event may cause before the engine aborts the chain.
const MaxChainDepth = 32

// Engine subscribes to a bus, matches incoming events against registered
// Definitions' triggers, and dispatches matching executions to an
// Executor, following chains on completion.
type Engine struct {
	storage  Storage
	executor Executor
	bus      *eventbus.Bus
	logger   *zap.Logger
}

// NewEngine wires storage, an executor, and the bus the engine both
// consumes triggering events from and publishes function.completed.<id>
// events to.
func NewEngine(storage Storage, executor Executor, bus *eventbus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{storage: storage, executor: executor, bus: bus, logger: logger}
}

// CreateFunction registers a new Definition.
func (e *Engine) CreateFunction(def Definition) error {
	return e.storage.CreateFunction(def)
}

// ListFunctions returns every registered Definition.
func (e *Engine) ListFunctions() []Definition {
	return e.storage.ListFunctions()
}

// GetExecution looks up a past Execution by ID.
func (e *Engine) GetExecution(id string) (Execution, bool) {
	return e.storage.GetExecution(id)
}

// triggerEvent is the normalized shape an incoming bus event is reduced to
// before trigger matching, independent of whether it originated from a
// petri.TransitionedEvent, a petri.CompletedEvent, or a function
// completion.
type triggerEvent struct {
	kind           TriggerKind
	place          petri.PlaceID
	sourceFunction string
	success        bool
	data           map[string]any
	metadata       map[string]any
	output         map[string]any
}

// Start subscribes to workflow.transitioned, workflow.completed, and
// function.completed.** on the bus and begins processing matching triggers
// until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) {
	transitioned := e.bus.Subscribe(eventbus.SubscribeOptions{Pattern: petri.TopicTransitioned})
	completed := e.bus.Subscribe(eventbus.SubscribeOptions{Pattern: petri.TopicCompleted})
	functionDone := e.bus.Subscribe(eventbus.SubscribeOptions{Pattern: "function.completed.**"})

	go e.drain(ctx, transitioned, func(payload any) (triggerEvent, bool) {
		evt, ok := payload.(petri.TransitionedEvent)
		if !ok {
			return triggerEvent{}, false
		}
		return triggerEvent{
			kind:     TriggerTokenTransitioned,
			place:    evt.To,
			data:     evt.Token.Data,
			metadata: evt.Token.Metadata,
		}, true
	})

	go e.drain(ctx, completed, func(payload any) (triggerEvent, bool) {
		evt, ok := payload.(petri.CompletedEvent)
		if !ok {
			return triggerEvent{}, false
		}
		return triggerEvent{
			kind:     TriggerTokenCreated,
			place:    evt.Token.CurrentPlace,
			data:     evt.Token.Data,
			metadata: evt.Token.Metadata,
		}, true
	})

	go e.drain(ctx, functionDone, func(payload any) (triggerEvent, bool) {
		evt, ok := payload.(FunctionCompletedEvent)
		if !ok {
			return triggerEvent{}, false
		}
		return triggerEvent{
			kind:           TriggerFunctionCompleted,
			sourceFunction: evt.FunctionID,
			success:        evt.Success,
			output:         evt.Output,
		}, true
	})
}

func (e *Engine) drain(ctx context.Context, sub *eventbus.Subscription, decode func(any) (triggerEvent, bool)) {
	for {
		event, ok := sub.Next(ctx)
		if !ok {
			return
		}
		te, ok := decode(event.Payload)
		if !ok {
			continue
		}
		e.ProcessEvent(ctx, te, 0)
	}
}

// FunctionCompletedEvent is published by the engine on
// function.completed.<function_id> when an Execution finishes.
type FunctionCompletedEvent struct {
	FunctionID  string
	ExecutionID string
	Success     bool
	Output      map[string]any
}

// ProcessEvent matches te against every registered function's triggers and
// dispatches an Execution for each match. depth tracks how many chain hops
// produced this call, for cycle protection.
func (e *Engine) ProcessEvent(ctx context.Context, te triggerEvent, depth int) []string {
	if depth > MaxChainDepth {
		e.logger.Warn("function chain depth exceeded", zap.Int("depth", depth))
		return nil
	}

	var executionIDs []string
	for _, def := range e.storage.ListFunctions() {
		for _, trigger := range def.Triggers {
			if !triggerMatches(trigger, te) {
				continue
			}
			input, err := buildInput(trigger.InputMapping, te.data, te.metadata, te.output)
			if err != nil {
				e.logger.Error("build trigger input", zap.String("function_id", def.ID), zap.Error(err))
				continue
			}
			id := e.dispatch(ctx, def, input, depth)
			executionIDs = append(executionIDs, id)
		}
	}
	return executionIDs
}

func triggerMatches(trigger EventTrigger, te triggerEvent) bool {
	if trigger.Kind != te.kind {
		return false
	}
	switch trigger.Kind {
	case TriggerTokenCreated, TriggerTokenTransitioned:
		return trigger.PlaceFilter == "" || trigger.PlaceFilter == te.place
	case TriggerFunctionCompleted:
		if trigger.SourceFunction != te.sourceFunction {
			return false
		}
		return !trigger.RequireSuccess || te.success
	default:
		return false
	}
}

func buildInput(mapping InputMapping, data, metadata, output map[string]any) (map[string]any, error) {
	switch mapping.Kind {
	case FullOutput:
		return output, nil
	case FieldMapping:
		merged := mergeMaps(data, metadata, output)
		result := make(map[string]any, len(mapping.Mapping))
		for target, source := range mapping.Mapping {
			if v, ok := merged[source]; ok {
				result[target] = v
			}
		}
		return result, nil
	case MergedData:
		return mergeMaps(data, metadata), nil
	default:
		return nil, fmt.Errorf("unknown input mapping kind %q", mapping.Kind)
	}
}

func mergeMaps(maps ...map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// dispatch validates input, runs the executor synchronously, validates
// output, persists the Execution, publishes function.completed.<id>, and
// schedules any chains. It returns the Execution ID.
func (e *Engine) dispatch(ctx context.Context, def Definition, input map[string]any, depth int) string {
	exec := Execution{
		ID:         uuid.NewString(),
		FunctionID: def.ID,
		Input:      input,
		Status:     StatusPending,
		CreatedAt:  time.Now(),
	}

	if err := validatePayload(def.InputSchema, input); err != nil {
		exec.Status = StatusValidationFailed
		exec.Error = err.Error()
		_ = e.storage.SaveExecution(exec)
		return exec.ID
	}

	exec.Status = StatusRunning
	_ = e.storage.SaveExecution(exec)

	output, err := e.executor.Execute(ctx, def, input)
	exec.CompletedAt = time.Now()

	success := err == nil
	if err != nil {
		exec.Status = StatusFailed
		exec.Error = err.Error()
	} else if verr := validatePayload(def.OutputSchema, output); verr != nil {
		exec.Status = StatusValidationFailed
		exec.Error = verr.Error()
		success = false
	} else {
		exec.Status = StatusCompleted
		exec.Output = output
	}
	_ = e.storage.SaveExecution(exec)

	if e.bus != nil {
		e.bus.Publish(ctx, fmt.Sprintf("function.completed.%s", def.ID), FunctionCompletedEvent{
			FunctionID:  def.ID,
			ExecutionID: exec.ID,
			Success:     success,
			Output:      exec.Output,
		})
	}

	e.scheduleChains(ctx, def, exec, success, depth)
	return exec.ID
}

// scheduleChains runs every chain whose condition is met concurrently via
// an errgroup, so a slow or delayed chain never blocks its siblings. The
// group is waited on in its own goroutine: chain dispatch is fire-and-forget
// from dispatch's point of view.
func (e *Engine) scheduleChains(ctx context.Context, def Definition, exec Execution, success bool, depth int) {
	var g errgroup.Group
	for _, chain := range def.Chains {
		if !chainConditionMet(chain.Condition, exec, success) {
			continue
		}

		chain := chain
		g.Go(func() error {
			if chain.Delay > 0 {
				timer := time.NewTimer(chain.Delay)
				defer timer.Stop()
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-timer.C:
				}
			}

			input, err := buildInput(chain.InputMapping, exec.Input, nil, exec.Output)
			if err != nil {
				e.logger.Error("build chain input", zap.String("target", chain.TargetFunction), zap.Error(err))
				return nil
			}
			target, ok := e.storage.GetFunction(chain.TargetFunction)
			if !ok {
				e.logger.Warn("chain target function not registered", zap.String("target", chain.TargetFunction))
				return nil
			}
			e.dispatch(ctx, target, input, depth+1)
			return nil
		})
	}

	go func() {
		if err := g.Wait(); err != nil {
			e.logger.Warn("function chain aborted", zap.String("function_id", def.ID), zap.Error(err))
		}
	}()
}

func chainConditionMet(cond ChainCondition, exec Execution, success bool) bool {
	switch cond.Kind {
	case ChainAlways:
		return true
	case ChainOnSuccess:
		return success
	case ChainOnFailure:
		return !success
	case ChainRuleMatches:
		if cond.Rule == nil {
			return false
		}
		return rules.Evaluate(*cond.Rule, rules.View{Data: exec.Output}).Passed
	default:
		return false
	}
}
