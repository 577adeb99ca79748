package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// ReplayStart selects where a new JetStreamBackend consumer begins reading
// a stream's history.
type ReplayStart int

const (
	FromNow ReplayStart = iota
	FromBeginning
	FromSequence
)

// ReplayPolicy pairs a ReplayStart with the sequence number FromSequence
// needs.
type ReplayPolicy struct {
	Start    ReplayStart
	Sequence uint64
}

// wireEvent is Event's JetStream wire representation.
type wireEvent struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// JetStreamBackend persists published events to a named JetStream stream
// and replays them to subscribers from a configurable start position. It
// is the durable backend referenced by the bus's Optional durable backend
// note; callers wire it in place of, or in front of, an in-memory Bus when
// cross-process durability is required.
type JetStreamBackend struct {
	js            jetstream.JetStream
	streamName    string
	subjectPrefix string
}

// NewJetStreamBackend connects to a NATS server and ensures the named
// stream exists, capturing subjectPrefix + ".>" as its subject filter
// (e.g. "events" captures "events.workflow.transitioned").
func NewJetStreamBackend(ctx context.Context, natsURL, streamName, subjectPrefix string) (*JetStreamBackend, error) {
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("eventbus: init jetstream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: create stream %s: %w", streamName, err)
	}

	return &JetStreamBackend{js: js, streamName: streamName, subjectPrefix: subjectPrefix}, nil
}

// Publish persists event under subject "<prefix>.<topic-with-dots>".
func (b *JetStreamBackend) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload: %w", err)
	}

	wire := wireEvent{ID: uuid.NewString(), Topic: topic, Payload: raw, Timestamp: time.Now()}
	data, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("eventbus: marshal event: %w", err)
	}

	_, err = b.js.Publish(ctx, b.subjectPrefix+"."+topic, data)
	return err
}

// Replay creates a durable or ephemeral consumer on the stream starting
// from policy and returns a channel of Events whose Payload is the JSON
// payload decoded into a generic value (map[string]any, []any, string,
// float64, bool or nil).
func (b *JetStreamBackend) Replay(ctx context.Context, consumerName string, policy ReplayPolicy) (<-chan Event, error) {
	cfg := jetstream.ConsumerConfig{Durable: consumerName}
	switch policy.Start {
	case FromBeginning:
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	case FromSequence:
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = policy.Sequence
	default:
		cfg.DeliverPolicy = jetstream.DeliverNewPolicy
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.streamName, cfg)
	if err != nil {
		return nil, fmt.Errorf("eventbus: create consumer %s: %w", consumerName, err)
	}

	out := make(chan Event, DefaultQueueSize)
	_, err = consumer.Consume(func(msg jetstream.Msg) {
		var wire wireEvent
		if err := json.Unmarshal(msg.Data(), &wire); err != nil {
			msg.Nak()
			return
		}
		var payload any
		_ = json.Unmarshal(wire.Payload, &payload)

		select {
		case out <- Event{ID: wire.ID, Topic: wire.Topic, Payload: payload, Timestamp: wire.Timestamp}:
			msg.Ack()
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("eventbus: consume %s: %w", consumerName, err)
	}

	return out, nil
}
