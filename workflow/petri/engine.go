package petri

import (
	"context"
	"fmt"
	"time"

	"github.com/nexusgate/gateway/workflow/rules"
)

// Publisher emits a domain event onto the event bus. Declared locally, as
// llm/streaming.Publisher is, so this package never imports eventbus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

const (
	TopicTransitioned = "workflow.transitioned"
	TopicCompleted    = "workflow.completed"
)

// TransitionedEvent is published every time fire succeeds.
type TransitionedEvent struct {
	Token        Token
	TransitionID string
	From         PlaceID
	To           PlaceID
}

// CompletedEvent is published when a token lands in a place with no
// outgoing transitions.
type CompletedEvent struct {
	Token Token
}

// Engine evaluates transition fireability and fires transitions against
// tokens of a fixed WorkflowDefinition.
type Engine struct {
	workflow  WorkflowDefinition
	publisher Publisher
}

// NewEngine builds an Engine for workflow, validating its structure.
// pub may be nil, in which case fire proceeds without publishing events.
func NewEngine(workflow WorkflowDefinition, pub Publisher) (*Engine, error) {
	if err := workflow.Validate(); err != nil {
		return nil, err
	}
	return &Engine{workflow: workflow, publisher: pub}, nil
}

// TransitionResult is the detailed outcome of evaluating one transition
// against a token, independent of whether it ultimately fires.
type TransitionResult struct {
	TransitionID    string
	PlaceCompatible bool
	CanFire         bool
	Explanation     string
	RuleResults     []rules.Result
}

// EvaluationReport is the detailed evaluation of every transition defined
// on the workflow against one token.
type EvaluationReport struct {
	TransitionResults []TransitionResult
	AvailableCount    int
	BlockedCount      int
}

// AvailableTransitions returns every transition fireable for token, i.e.
// token.CurrentPlace is among transition.From and every rule passes.
func (e *Engine) AvailableTransitions(token *Token) []TransitionDefinition {
	place := token.currentPlace()
	view := token.View()

	var out []TransitionDefinition
	for _, tr := range e.workflow.transitionsFrom(place) {
		if rulesPass(tr.Rules, view) {
			out = append(out, tr)
		}
	}
	return out
}

// EvaluateAll reports, for every transition in the workflow, whether it is
// place-compatible and whether its rules pass, with full per-rule detail.
func (e *Engine) EvaluateAll(token *Token) EvaluationReport {
	place := token.currentPlace()
	view := token.View()

	report := EvaluationReport{}
	for _, tr := range e.workflow.Transitions {
		compatible := placeMatches(tr.From, place)

		var ruleResults []rules.Result
		canFire := compatible
		for _, r := range tr.Rules {
			res := rules.Evaluate(r, view)
			ruleResults = append(ruleResults, res)
			if !res.Passed {
				canFire = false
			}
		}

		explanation := "place mismatch"
		if compatible {
			if canFire {
				explanation = "all rules passed"
			} else {
				explanation = "one or more rules failed"
			}
		}

		report.TransitionResults = append(report.TransitionResults, TransitionResult{
			TransitionID:    tr.ID,
			PlaceCompatible: compatible,
			CanFire:         canFire,
			Explanation:     explanation,
			RuleResults:     ruleResults,
		})

		if canFire {
			report.AvailableCount++
		} else {
			report.BlockedCount++
		}
	}
	return report
}

// Fire fires transitionID against token: it re-checks fireability under
// the token's exclusive lock (race-safe against concurrent fire calls on
// the same token), mutates the token's place, appends a history entry, and
// publishes workflow.transitioned (then workflow.completed if the new
// place is terminal).
func (e *Engine) Fire(ctx context.Context, token *Token, transitionID string) error {
	tr, ok := e.transitionByID(transitionID)
	if !ok {
		return fmt.Errorf("unknown transition %q", transitionID)
	}

	token.mu.Lock()
	if !placeMatches(tr.From, token.CurrentPlace) || !rulesPassLocked(tr.Rules, token) {
		token.mu.Unlock()
		return &ValidationError{Reason: "transition no longer fireable"}
	}

	from := token.CurrentPlace
	token.CurrentPlace = tr.To
	token.History = append(token.History, HistoryEvent{
		TransitionID: tr.ID,
		From:         from,
		To:           tr.To,
		Timestamp:    time.Now(),
	})
	snapshot := token.snapshotLocked()
	token.mu.Unlock()

	if e.publisher != nil {
		e.publisher.Publish(ctx, TopicTransitioned, TransitionedEvent{
			Token:        snapshot,
			TransitionID: tr.ID,
			From:         from,
			To:           tr.To,
		})
	}

	if e.workflow.isTerminal(tr.To) && e.publisher != nil {
		e.publisher.Publish(ctx, TopicCompleted, CompletedEvent{Token: snapshot})
	}

	return nil
}

func (e *Engine) transitionByID(id string) (TransitionDefinition, bool) {
	for _, tr := range e.workflow.Transitions {
		if tr.ID == id {
			return tr, true
		}
	}
	return TransitionDefinition{}, false
}

func rulesPass(rs []rules.Rule, view rules.View) bool {
	for _, r := range rs {
		if !rules.Evaluate(r, view).Passed {
			return false
		}
	}
	return true
}

// rulesPassLocked evaluates rs against token's current data while the
// caller already holds token.mu.
func rulesPassLocked(rs []rules.Rule, token *Token) bool {
	view := rules.View{Data: token.Data, Metadata: token.Metadata}
	return rulesPass(rs, view)
}

func placeMatches(from []PlaceID, place PlaceID) bool {
	for _, p := range from {
		if p == place {
			return true
		}
	}
	return false
}

func (t *Token) currentPlace() PlaceID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentPlace
}

func (t *Token) snapshotLocked() Token {
	history := make([]HistoryEvent, len(t.History))
	copy(history, t.History)
	return Token{
		ID:           t.ID,
		WorkflowID:   t.WorkflowID,
		CurrentPlace: t.CurrentPlace,
		Data:         t.Data,
		Metadata:     t.Metadata,
		History:      history,
	}
}
