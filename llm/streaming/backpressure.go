// Package streaming bridges a single upstream provider byte stream into the
// originating consumer's chunk stream and, best-effort, into zero or more
// dashboard subscribers on the event bus.
package streaming

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexusgate/gateway/llm"
)

var (
	ErrBufferFull   = errors.New("buffer full, backpressure applied")
	ErrStreamClosed = errors.New("stream closed")
)

// BackpressureConfig configures backpressure behavior.
type BackpressureConfig struct {
	BufferSize      int           `json:"buffer_size"`
	HighWaterMark   float64       `json:"high_water_mark"` // 0.0-1.0
	LowWaterMark    float64       `json:"low_water_mark"`  // 0.0-1.0
	SlowConsumerTTL time.Duration `json:"slow_consumer_ttl"`
	DropPolicy      DropPolicy    `json:"drop_policy"`
}

// DropPolicy defines what to do when buffer is full.
type DropPolicy int

const (
	DropPolicyBlock  DropPolicy = iota // Block producer
	DropPolicyOldest                   // Drop oldest chunk
	DropPolicyNewest                   // Drop newest chunk
	DropPolicyError                    // Return error
)

// PrimaryBufferSize is the bounded buffer between the upstream reader and
// the originating consumer (spec.md §4.E: N=64 chunks per stream).
const PrimaryBufferSize = 64

// DefaultBackpressureConfig returns the primary-consumer default: a bounded
// 64-chunk buffer that blocks the upstream reader when full.
func DefaultBackpressureConfig() BackpressureConfig {
	return BackpressureConfig{
		BufferSize:      PrimaryBufferSize,
		HighWaterMark:   0.8,
		LowWaterMark:    0.2,
		SlowConsumerTTL: 30 * time.Second,
		DropPolicy:      DropPolicyBlock,
	}
}

// SubscriberConfig is the default for best-effort dashboard subscribers:
// small buffer, drop newest on overflow, never blocks the primary consumer.
func SubscriberConfig() BackpressureConfig {
	return BackpressureConfig{
		BufferSize: 256,
		DropPolicy: DropPolicyNewest,
	}
}

// BackpressureStream implements backpressure-aware llm.StreamChunk delivery.
type BackpressureStream struct {
	config BackpressureConfig
	buffer chan llm.StreamChunk
	done   chan struct{}
	closed atomic.Bool

	produced  atomic.Int64
	consumed  atomic.Int64
	dropped   atomic.Int64
	blocked   atomic.Int64
	lastWrite atomic.Int64
	lastRead  atomic.Int64

	paused atomic.Bool
}

// NewBackpressureStream creates a new backpressure-aware stream.
func NewBackpressureStream(config BackpressureConfig) *BackpressureStream {
	if config.BufferSize <= 0 {
		config.BufferSize = PrimaryBufferSize
	}
	return &BackpressureStream{
		config: config,
		buffer: make(chan llm.StreamChunk, config.BufferSize),
		done:   make(chan struct{}),
	}
}

// Write sends a chunk to the stream with backpressure handling.
func (s *BackpressureStream) Write(ctx context.Context, chunk llm.StreamChunk) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}

	s.lastWrite.Store(time.Now().UnixNano())

	level := float64(len(s.buffer)) / float64(s.config.BufferSize)

	if level >= s.config.HighWaterMark {
		s.paused.Store(true)
		s.blocked.Add(1)

		switch s.config.DropPolicy {
		case DropPolicyBlock:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return ErrStreamClosed
			case s.buffer <- chunk:
				s.produced.Add(1)
				return nil
			}

		case DropPolicyOldest:
			select {
			case <-s.buffer:
				s.dropped.Add(1)
			default:
			}
			s.buffer <- chunk
			s.produced.Add(1)
			return nil

		case DropPolicyNewest:
			s.dropped.Add(1)
			return nil

		case DropPolicyError:
			return ErrBufferFull
		}
	}

	if level <= s.config.LowWaterMark {
		s.paused.Store(false)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStreamClosed
	case s.buffer <- chunk:
		s.produced.Add(1)
		return nil
	default:
		// Buffer is full and policy isn't Block: apply it immediately
		// rather than falling through to an unconditional blocking send.
		switch s.config.DropPolicy {
		case DropPolicyOldest:
			select {
			case <-s.buffer:
				s.dropped.Add(1)
			default:
			}
			s.buffer <- chunk
			s.produced.Add(1)
			return nil
		case DropPolicyNewest:
			s.dropped.Add(1)
			return nil
		case DropPolicyError:
			return ErrBufferFull
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-s.done:
				return ErrStreamClosed
			case s.buffer <- chunk:
				s.produced.Add(1)
				return nil
			}
		}
	}
}

// TryWrite attempts a non-blocking send, for the fan-out path where a slow
// subscriber must never block the primary consumer.
func (s *BackpressureStream) TryWrite(chunk llm.StreamChunk) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.buffer <- chunk:
		s.produced.Add(1)
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Read receives a chunk from the stream.
func (s *BackpressureStream) Read(ctx context.Context) (llm.StreamChunk, error) {
	s.lastRead.Store(time.Now().UnixNano())

	select {
	case <-ctx.Done():
		return llm.StreamChunk{}, ctx.Err()
	case chunk, ok := <-s.buffer:
		if !ok {
			return llm.StreamChunk{}, ErrStreamClosed
		}
		s.consumed.Add(1)
		return chunk, nil
	}
}

// ReadChan returns a channel for reading chunks.
func (s *BackpressureStream) ReadChan() <-chan llm.StreamChunk {
	return s.buffer
}

// Close closes the stream. Safe to call more than once.
func (s *BackpressureStream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.done)
	close(s.buffer)
	return nil
}

// IsPaused returns whether the stream is paused due to backpressure.
func (s *BackpressureStream) IsPaused() bool {
	return s.paused.Load()
}

// BufferLevel returns the current buffer utilization (0.0-1.0).
func (s *BackpressureStream) BufferLevel() float64 {
	return float64(len(s.buffer)) / float64(s.config.BufferSize)
}

// Stats returns stream statistics.
func (s *BackpressureStream) Stats() StreamStats {
	return StreamStats{
		Produced:   s.produced.Load(),
		Consumed:   s.consumed.Load(),
		Dropped:    s.dropped.Load(),
		Blocked:    s.blocked.Load(),
		BufferSize: len(s.buffer),
		BufferCap:  s.config.BufferSize,
		IsPaused:   s.paused.Load(),
		LastWrite:  time.Unix(0, s.lastWrite.Load()),
		LastRead:   time.Unix(0, s.lastRead.Load()),
	}
}

// StreamStats contains stream statistics.
type StreamStats struct {
	Produced   int64     `json:"produced"`
	Consumed   int64     `json:"consumed"`
	Dropped    int64     `json:"dropped"`
	Blocked    int64     `json:"blocked"`
	BufferSize int       `json:"buffer_size"`
	BufferCap  int       `json:"buffer_cap"`
	IsPaused   bool      `json:"is_paused"`
	LastWrite  time.Time `json:"last_write"`
	LastRead   time.Time `json:"last_read"`
}

// SubscriberTokensPerSec and SubscriberBurst bound how fast the multiplexer
// will hand chunks to any one dashboard subscriber, independent of that
// subscriber's buffer capacity: a subscriber that drains its buffer fast but
// still can't keep up with upstream token-by-token chunks gets shed the same
// as one with a full buffer.
const (
	SubscriberTokensPerSec = 200.0
	SubscriberBurst        = 256.0
)

// subscriber pairs a dashboard consumer's stream with the rate limiter that
// throttles how often broadcast is willing to write to it.
type subscriber struct {
	stream  *BackpressureStream
	limiter *RateLimiter
}

// StreamMultiplexer fans a single upstream chunk source out to the
// originating consumer plus zero or more best-effort dashboard subscribers.
// Slow subscribers are dropped and counted, never blocking the consumer.
type StreamMultiplexer struct {
	source    *BackpressureStream
	consumers []*subscriber
	mu        sync.RWMutex
	running   atomic.Bool

	droppedSubscribers atomic.Int64
}

// NewStreamMultiplexer creates a new multiplexer over the primary consumer
// stream.
func NewStreamMultiplexer(source *BackpressureStream) *StreamMultiplexer {
	return &StreamMultiplexer{
		source:    source,
		consumers: make([]*subscriber, 0),
	}
}

// AddConsumer registers a new dashboard subscriber stream, rate-limited
// independently of its buffer so a subscriber can be shed for falling behind
// even while its buffer still has room.
func (m *StreamMultiplexer) AddConsumer(config BackpressureConfig) *BackpressureStream {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := NewBackpressureStream(config)
	m.consumers = append(m.consumers, &subscriber{
		stream:  stream,
		limiter: NewRateLimiter(SubscriberTokensPerSec, SubscriberBurst),
	})
	return stream
}

// Start begins multiplexing chunks from source until ctx is cancelled or the
// source closes.
func (m *StreamMultiplexer) Start(ctx context.Context) {
	if m.running.Swap(true) {
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				m.closeAll()
				return
			case chunk, ok := <-m.source.ReadChan():
				if !ok {
					m.closeAll()
					return
				}
				m.broadcast(chunk)
			}
		}
	}()
}

func (m *StreamMultiplexer) broadcast(chunk llm.StreamChunk) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, sub := range m.consumers {
		if !sub.limiter.Allow() {
			m.droppedSubscribers.Add(1)
			continue
		}
		if !sub.stream.TryWrite(chunk) {
			m.droppedSubscribers.Add(1)
		}
	}
}

// DroppedSubscribers returns the running count of fan-out sends dropped
// because a subscriber's rate limiter refused it or its buffer was full.
func (m *StreamMultiplexer) DroppedSubscribers() int64 {
	return m.droppedSubscribers.Load()
}

func (m *StreamMultiplexer) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sub := range m.consumers {
		sub.stream.Close()
	}
	m.running.Store(false)
}
