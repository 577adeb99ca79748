package streaming

import (
	"context"

	"github.com/nexusgate/gateway/llm"
	"github.com/nexusgate/gateway/llm/cost"
)

// Publisher emits a domain event onto the event bus. It is satisfied by
// eventbus.Bus; declared locally so this package never imports eventbus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

// Budget admits and records spend against a scope. Satisfied by
// router.Budget / llm/budget.Ledger implementations.
type Budget interface {
	Admit(scope string, estimated cost.CostBreakdown) error
	Record(scope string, actual cost.CostBreakdown)
}

// CompletedEvent is published once per stream, when its terminal chunk is
// observed, carrying the finalized usage and cost.
type CompletedEvent struct {
	Provider string
	Model    string
	Usage    llm.ChatUsage
	Cost     cost.CostBreakdown
}

// FailedEvent is published once per stream that ends without a clean
// terminal chunk: either the provider's terminal chunk carried an error, or
// the stream was abandoned (context cancelled, upstream closed) before one
// ever arrived. Usage/Cost reflect whatever was known at that point, which
// is the zero value when the stream never reached a terminal chunk.
type FailedEvent struct {
	Provider string
	Model    string
	Usage    llm.ChatUsage
	Cost     cost.CostBreakdown
	Reason   string
	Err      error
}

// TopicCompleted is the event bus topic a Session publishes to on
// terminal-chunk finalization.
const TopicCompleted = "llm.completed"

// TopicFailed is the event bus topic a Session publishes to when a stream
// ends in error or is abandoned before a terminal chunk arrives.
const TopicFailed = "llm.failed"

// Failure reasons carried on FailedEvent.Reason.
const (
	ReasonUpstreamError = "upstream_error"
	ReasonCancelled     = "cancelled"
)

// Session drives one provider Stream call through a BackpressureStream,
// optionally fanning chunks out to dashboard subscribers via a
// StreamMultiplexer, and performs terminal-chunk finalization: pricing the
// realized usage, recording it against a budget scope, and publishing a
// CompletedEvent.
type Session struct {
	Provider string
	Model    string

	Calc        *cost.Calculator
	Budget      Budget
	BudgetScope string
	Publisher   Publisher

	primary *BackpressureStream
	mux     *StreamMultiplexer
}

// NewSession builds a Session with a primary buffer sized per
// DefaultBackpressureConfig and a multiplexer ready to accept dashboard
// subscribers.
func NewSession(provider, model string, calc *cost.Calculator, budget Budget, budgetScope string, pub Publisher) *Session {
	primary := NewBackpressureStream(DefaultBackpressureConfig())
	return &Session{
		Provider:    provider,
		Model:       model,
		Calc:        calc,
		Budget:      budget,
		BudgetScope: budgetScope,
		Publisher:   pub,
		primary:     primary,
		mux:         NewStreamMultiplexer(primary),
	}
}

// Subscribe registers a best-effort dashboard consumer and returns its read
// side.
func (s *Session) Subscribe() *BackpressureStream {
	return s.mux.AddConsumer(SubscriberConfig())
}

// DroppedSubscribers reports how many fan-out sends were dropped for slow
// dashboard subscribers.
func (s *Session) DroppedSubscribers() int64 {
	return s.mux.DroppedSubscribers()
}

// Consume reads chunks from upstream, forwards each to the primary buffer
// and the multiplexer, and runs terminal-chunk finalization exactly once.
// It returns the finalized usage, or an error if the stream ended with one.
func (s *Session) Consume(ctx context.Context, upstream <-chan llm.StreamChunk) (llm.ChatUsage, error) {
	s.mux.Start(ctx)
	defer s.primary.Close()

	for chunk := range upstream {
		if err := s.primary.Write(ctx, chunk); err != nil {
			s.finalizeFailed(ctx, llm.ChatUsage{}, ReasonCancelled, err)
			return llm.ChatUsage{}, err
		}

		if !chunk.Terminal {
			continue
		}

		usage := llm.ChatUsage{}
		if chunk.Usage != nil {
			usage = *chunk.Usage
		}

		if chunk.Err != nil {
			s.finalizeFailed(ctx, usage, ReasonUpstreamError, chunk.Err)
			return llm.ChatUsage{}, chunk.Err
		}

		s.finalize(ctx, usage)
		return usage, nil
	}

	// Upstream closed without ever sending a terminal chunk: the caller's
	// own context is the only plausible cause left (Write would otherwise
	// have already surfaced a cancellation above).
	s.finalizeFailed(ctx, llm.ChatUsage{}, ReasonCancelled, ctx.Err())
	return llm.ChatUsage{}, nil
}

func (s *Session) finalize(ctx context.Context, usage llm.ChatUsage) {
	var breakdown cost.CostBreakdown
	if s.Calc != nil {
		if priced, err := s.Calc.Price(s.Provider, s.Model, usage.PromptTokens, usage.CompletionTokens); err == nil {
			breakdown = priced
		}
	}

	if s.Budget != nil && s.BudgetScope != "" {
		s.Budget.Record(s.BudgetScope, breakdown)
	}

	if s.Publisher != nil {
		s.Publisher.Publish(ctx, TopicCompleted, CompletedEvent{
			Provider: s.Provider,
			Model:    s.Model,
			Usage:    usage,
			Cost:     breakdown,
		})
	}
}

// finalizeFailed mirrors finalize for a stream that never reached a clean
// terminal chunk: it still prices and records whatever usage is known (the
// zero value, if none was ever observed) and publishes a FailedEvent instead
// of a CompletedEvent.
func (s *Session) finalizeFailed(ctx context.Context, usage llm.ChatUsage, reason string, err error) {
	var breakdown cost.CostBreakdown
	if s.Calc != nil {
		if priced, cerr := s.Calc.Price(s.Provider, s.Model, usage.PromptTokens, usage.CompletionTokens); cerr == nil {
			breakdown = priced
		}
	}

	if s.Budget != nil && s.BudgetScope != "" {
		s.Budget.Record(s.BudgetScope, breakdown)
	}

	if s.Publisher != nil {
		s.Publisher.Publish(ctx, TopicFailed, FailedEvent{
			Provider: s.Provider,
			Model:    s.Model,
			Usage:    usage,
			Cost:     breakdown,
			Reason:   reason,
			Err:      err,
		})
	}
}
