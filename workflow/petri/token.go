package petri

import (
	"sync"

	"github.com/nexusgate/gateway/workflow/rules"
)

// Token is a single workflow instance: it occupies exactly one place at a
// time and is mutated only through transitions fired by an Engine. Every
// mutation path holds the token's own mutex so concurrent fire calls on
// the same token serialize.
type Token struct {
	ID           string
	WorkflowID   string
	CurrentPlace PlaceID
	Data         map[string]any
	Metadata     map[string]any
	History      []HistoryEvent

	mu sync.Mutex
}

// NewToken creates a token starting in place, with empty data/metadata.
func NewToken(id, workflowID string, place PlaceID) *Token {
	return &Token{
		ID:           id,
		WorkflowID:   workflowID,
		CurrentPlace: place,
		Data:         make(map[string]any),
		Metadata:     make(map[string]any),
	}
}

// SetMetadata sets a single metadata key. Safe for concurrent callers.
func (t *Token) SetMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Metadata[key] = value
}

// View returns a rules.View over the token's data and metadata as they
// stand at the time of the call. Callers that need a consistent snapshot
// across a fireability check and a fire should not mix Snapshot/View reads
// with concurrent mutation outside the engine's lock.
func (t *Token) View() rules.View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return rules.View{Data: t.Data, Metadata: t.Metadata}
}

// Snapshot returns a shallow copy of the token's public fields, safe to
// hand to an event publisher without racing subsequent mutation.
func (t *Token) Snapshot() Token {
	t.mu.Lock()
	defer t.mu.Unlock()
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
