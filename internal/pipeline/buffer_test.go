package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/connector/destinations/kinesis"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

type recordingSink struct {
	mu     sync.Mutex
	chunks [][]kinesis.Event
	err    error
	// failAt fails the n-th write (1-based) only
	failAt int
	calls  int
	// delivered holds the chunks that were accepted
	delivered [][]kinesis.Event
}

func (s *recordingSink) Write(_ context.Context, events []kinesis.Event) (kinesis.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.chunks = append(s.chunks, events)
	if s.err != nil {
		return kinesis.Result{Failed: len(events)}, s.err
	}
	if s.calls == s.failAt {
		return kinesis.Result{Failed: len(events)}, fmt.Errorf("throttled")
	}
	s.delivered = append(s.delivered, events)
	return kinesis.Result{Delivered: len(events)}, nil
}

func (s *recordingSink) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *recordingSink) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *recordingSink) deliveredIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int
	for _, c := range s.delivered {
		for _, ev := range c {
			ids = append(ids, ev.Record["id"].(int))
		}
	}
	return ids
}

func (s *recordingSink) ids() [][]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]int
	for _, c := range s.chunks {
		var ids []int
		for _, ev := range c {
			ids = append(ids, ev.Record["id"].(int))
		}
		out = append(out, ids)
	}
	return out
}

func batchOf(tag string, from, to int) core.RecordBatch {
	b := core.RecordBatch{Tag: tag}
	for i := from; i < to; i++ {
		b.Records = append(b.Records, core.ExtractedRecord{
			Time:   time.Unix(int64(i), 0),
			Fields: map[string]interface{}{"id": i},
		})
	}
	return b
}

func TestBufferFlushesFullChunksOnEmit(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 3, FlushInterval: time.Hour}, zap.NewNop())

	require.NoError(t, b.Emit(context.Background(), batchOf("db.users", 0, 2)))
	assert.Empty(t, sink.ids())

	require.NoError(t, b.Emit(context.Background(), batchOf("db.users", 2, 9)))
	assert.Equal(t, [][]int{{0, 1, 2}, {3, 4, 5}, {6, 7, 8}}, sink.ids())
	assert.Equal(t, 0, b.Len())
}

func TestBufferConvertsRecordsToEvents(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 1}, nil)

	require.NoError(t, b.Emit(context.Background(), batchOf("db.orders", 5, 6)))
	require.Len(t, sink.chunks, 1)
	ev := sink.chunks[0][0]
	assert.Equal(t, "db.orders", ev.Tag)
	assert.Equal(t, time.Unix(5, 0), ev.Time)
	assert.Equal(t, map[string]interface{}{"id": 5}, ev.Record)
}

func TestBufferReturnsDeliveryErrors(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("stream unavailable")}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 2, FlushInterval: time.Hour}, nil)

	assert.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 1)))
	assert.Error(t, b.Emit(context.Background(), batchOf("t", 1, 2)))

	// the refused batch is dropped, the earlier accepted event is kept
	assert.Equal(t, 1, b.Len())
	sink.setErr(nil)
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, []int{0}, sink.deliveredIDs())
}

func TestBufferKeepsEventsAfterFailedFlush(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("stream unavailable")}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 100, FlushInterval: time.Hour}, nil)

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 10)))
	require.Error(t, b.Flush(context.Background()))
	assert.Equal(t, 10, b.Len())

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 10, 12)))
	sink.setErr(nil)
	require.NoError(t, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())

	var want []int
	for i := 0; i < 12; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, sink.deliveredIDs())
}

func TestBufferIntervalFlushRetriesFailedEvents(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("stream unavailable")}
	b := NewBuffer(sink, BufferConfig{
		ChunkLimit:       100,
		FlushInterval:    5 * time.Millisecond,
		MaxRetryInterval: 20 * time.Millisecond,
	}, nil)
	b.Start()
	defer func() { _ = b.Close(context.Background()) }()

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 3)))
	require.Eventually(t, func() bool {
		return sink.attempts() >= 2
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, b.Len())

	sink.setErr(nil)
	require.Eventually(t, func() bool {
		return b.Len() == 0
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []int{0, 1, 2}, sink.deliveredIDs())
}

func TestBufferRefusesBatchesOverQueueLimit(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("stream unavailable")}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 3, QueueLimit: 4, FlushInterval: time.Hour}, nil)
	ctx := context.Background()

	require.NoError(t, b.Emit(ctx, batchOf("t", 0, 2)))
	require.Error(t, b.Flush(ctx))
	assert.Equal(t, 2, b.Len())

	// fills a chunk whose write fails: the batch is refused as a whole
	require.Error(t, b.Emit(ctx, batchOf("t", 2, 4)))
	assert.Equal(t, 2, b.Len())

	err := b.Emit(ctx, batchOf("t", 2, 5))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))
	assert.Equal(t, 2, b.Len())

	sink.setErr(nil)
	require.NoError(t, b.Emit(ctx, batchOf("t", 2, 3)))
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []int{0, 1, 2}, sink.deliveredIDs())
}

func TestBufferPartialChunkFailureDropsOnlyUndelivered(t *testing.T) {
	sink := &recordingSink{failAt: 2}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 2, FlushInterval: time.Hour}, nil)
	ctx := context.Background()

	require.NoError(t, b.Emit(ctx, batchOf("t", 0, 1)))
	require.Error(t, b.Emit(ctx, batchOf("t", 1, 5)))

	// [0 1] went out, [2 3] failed; the batch is re-read by its caller
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, []int{0, 1}, sink.deliveredIDs())
}

func TestBufferCloseReportsUndelivered(t *testing.T) {
	sink := &recordingSink{err: fmt.Errorf("stream unavailable")}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 100, FlushInterval: time.Hour}, nil)

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 4)))
	err := b.Close(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDelivery))
	assert.Equal(t, 4, b.Len())
}

func TestBufferIntervalFlush(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 100, FlushInterval: 10 * time.Millisecond}, nil)
	b.Start()
	defer func() { _ = b.Close(context.Background()) }()

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 2)))
	require.Eventually(t, func() bool {
		return len(sink.ids()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]int{{0, 1}}, sink.ids())
}

func TestBufferCloseFlushesRemainder(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 100, FlushInterval: time.Hour}, nil)
	b.Start()

	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 4)))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, [][]int{{0, 1, 2, 3}}, sink.ids())

	assert.Error(t, b.Emit(context.Background(), batchOf("t", 4, 5)))
	assert.NoError(t, b.Close(context.Background()))
}

func TestBufferCloseWithoutStart(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{}, nil)
	require.NoError(t, b.Emit(context.Background(), batchOf("t", 0, 1)))
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, [][]int{{0}}, sink.ids())
}

func TestBufferPreservesOrderUnderConcurrentFlush(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer(sink, BufferConfig{ChunkLimit: 7, FlushInterval: time.Millisecond}, nil)
	b.Start()

	for i := 0; i < 200; i += 5 {
		require.NoError(t, b.Emit(context.Background(), batchOf("t", i, i+5)))
	}
	require.NoError(t, b.Close(context.Background()))

	var all []int
	for _, c := range sink.ids() {
		all = append(all, c...)
	}
	require.Len(t, all, 200)
	for i, id := range all {
		assert.Equal(t, i, id)
	}
}
