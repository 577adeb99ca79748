// Package petri implements a Petri-net style workflow engine: tokens move
// between named places along transitions gated by rules.Rule predicates
// over token data.
package petri

import (
	"time"

	"github.com/nexusgate/gateway/workflow/rules"
)

// PlaceID names a place in a WorkflowDefinition.
type PlaceID string

// TransitionDefinition connects one or more from-places to a single
// to-place, gated by zero or more rules. A transition with no rules is
// always fireable from a matching place.
type TransitionDefinition struct {
	ID    string
	From  []PlaceID
	To    PlaceID
	Rules []rules.Rule
}

// WorkflowDefinition is the static shape of a workflow: its places, the
// transitions between them, and the place new tokens start in.
type WorkflowDefinition struct {
	ID           string
	Name         string
	Places       []PlaceID
	Transitions  []TransitionDefinition
	InitialPlace PlaceID
}

// Validate checks the structural invariants: the initial place and every
// transition's from/to places are members of Places.
func (w WorkflowDefinition) Validate() error {
	known := make(map[PlaceID]bool, len(w.Places))
	for _, p := range w.Places {
		known[p] = true
	}
	if !known[w.InitialPlace] {
		return &ValidationError{Reason: "initial place not in workflow places"}
	}
	for _, tr := range w.Transitions {
		for _, from := range tr.From {
			if !known[from] {
				return &ValidationError{Reason: "transition " + tr.ID + " has unknown from-place " + string(from)}
			}
		}
		if !known[tr.To] {
			return &ValidationError{Reason: "transition " + tr.ID + " has unknown to-place " + string(tr.To)}
		}
	}
	return nil
}

// transitionsFrom returns every transition whose From set contains place.
func (w WorkflowDefinition) transitionsFrom(place PlaceID) []TransitionDefinition {
	var out []TransitionDefinition
	for _, tr := range w.Transitions {
		for _, from := range tr.From {
			if from == place {
				out = append(out, tr)
				break
			}
		}
	}
	return out
}

// isTerminal reports whether place has no outgoing transitions.
func (w WorkflowDefinition) isTerminal(place PlaceID) bool {
	return len(w.transitionsFrom(place)) == 0
}

// HistoryEvent records one completed transition in a token's lifetime.
type HistoryEvent struct {
	TransitionID string
	From         PlaceID
	To           PlaceID
	Timestamp    time.Time
}

// ValidationError reports a workflow structure or firing-discipline
// violation.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }
