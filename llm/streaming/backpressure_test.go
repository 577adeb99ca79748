package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexusgate/gateway/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(content string, index int) llm.StreamChunk {
	return llm.StreamChunk{Delta: llm.Message{Content: content}, Index: index}
}

// TestDropPolicyOldest_ConcurrentWrite verifies that DropPolicyOldest does not
// block permanently when multiple goroutines write concurrently. Before the
// fix, the bare channel send `s.buffer <- chunk` after draining could block
// forever if another goroutine filled the buffer in between.
func TestDropPolicyOldest_ConcurrentWrite(t *testing.T) {
	config := BackpressureConfig{
		BufferSize:    4,
		HighWaterMark: 0.5, // triggers at 2/4 = 50%
		LowWaterMark:  0.1,
		DropPolicy:    DropPolicyOldest,
	}
	stream := NewBackpressureStream(config)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Pre-fill the buffer to the high water mark so DropPolicyOldest kicks in.
	for i := 0; i < config.BufferSize; i++ {
		err := stream.Write(ctx, chunk("prefill", i))
		require.NoError(t, err)
	}

	// Launch multiple concurrent writers. Before the fix, some of these could
	// deadlock on the bare `s.buffer <- chunk` send.
	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			writeCtx, writeCancel := context.WithTimeout(ctx, 1*time.Second)
			defer writeCancel()
			errs[idx] = stream.Write(writeCtx, chunk("concurrent", 100+idx))
		}(i)
	}

	// Drain some chunks so writers can make progress.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-stream.ReadChan():
				if !ok {
					return
				}
			}
		}
	}()

	wg.Wait()

	// All writes should have completed (no deadlock) and returned nil or a
	// context/stream error — never hung.
	for i, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, context.DeadlineExceeded,
				"writer %d returned unexpected error: %v", i, err)
		}
	}
}

// TestDropPolicyOldest_DropsOldestChunk verifies that the oldest chunk is
// discarded and the new chunk is written when the buffer is full.
func TestDropPolicyOldest_DropsOldestChunk(t *testing.T) {
	config := BackpressureConfig{
		BufferSize:    3,
		HighWaterMark: 0.9, // triggers only when buffer is nearly full (3/3 = 1.0 >= 0.9)
		LowWaterMark:  0.1,
		DropPolicy:    DropPolicyOldest,
	}
	stream := NewBackpressureStream(config)
	ctx := context.Background()

	// Fill the buffer completely (3 chunks). The first two writes go through
	// the normal path (level < 0.9). The third write fills the buffer.
	require.NoError(t, stream.Write(ctx, chunk("a", 0)))
	require.NoError(t, stream.Write(ctx, chunk("b", 1)))
	require.NoError(t, stream.Write(ctx, chunk("c", 2)))

	// Now the buffer is full (3/3 = 1.0 >= 0.9), so the next write triggers
	// DropPolicyOldest: it drains "a", then writes "d".
	require.NoError(t, stream.Write(ctx, chunk("d", 3)))

	stats := stream.Stats()
	assert.Equal(t, int64(1), stats.Dropped, "should have dropped 1 chunk")

	// Read remaining chunks — should be "b", "c", "d".
	c1, err := stream.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", c1.Delta.Content)

	c2, err := stream.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", c2.Delta.Content)

	c3, err := stream.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "d", c3.Delta.Content)
}

func TestDropPolicyNewest_DropsIncomingAtHighWaterMark(t *testing.T) {
	config := BackpressureConfig{
		BufferSize:    2,
		HighWaterMark: 0.5,
		LowWaterMark:  0.1,
		DropPolicy:    DropPolicyNewest,
	}
	stream := NewBackpressureStream(config)
	ctx := context.Background()

	require.NoError(t, stream.Write(ctx, chunk("a", 0)))
	require.NoError(t, stream.Write(ctx, chunk("b", 1)))
	require.NoError(t, stream.Write(ctx, chunk("c", 2)))

	// "b" arrives at 1/2 = HighWaterMark and "c" at the same level, so both
	// are dropped.
	stats := stream.Stats()
	assert.Equal(t, int64(2), stats.Dropped)

	c1, err := stream.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", c1.Delta.Content)
}

func TestMultiplexer_DropsSlowSubscriberWithoutBlockingPrimary(t *testing.T) {
	source := NewBackpressureStream(DefaultBackpressureConfig())
	mux := NewStreamMultiplexer(source)

	slow := mux.AddConsumer(BackpressureConfig{BufferSize: 1, DropPolicy: DropPolicyNewest})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mux.Start(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, source.Write(ctx, chunk("x", i)))
	}

	// Give the multiplexer goroutine a moment to drain source into subscribers.
	time.Sleep(50 * time.Millisecond)

	assert.Greater(t, mux.DroppedSubscribers(), int64(0))
	assert.NotNil(t, slow)
}

func TestRateLimiter_AllowsBurstThenThrottles(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())
}
