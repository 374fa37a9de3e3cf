package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/connector/destinations/kinesis"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
)

// Sink receives flushed chunks
type Sink interface {
	Write(ctx context.Context, events []kinesis.Event) (kinesis.Result, error)
}

// BufferConfig controls chunking
type BufferConfig struct {
	// ChunkLimit is the number of events that triggers a flush
	ChunkLimit int
	// QueueLimit is the most events held while the sink is failing
	QueueLimit int
	// FlushInterval is the longest an event waits in the buffer
	FlushInterval time.Duration
	// MaxRetryInterval caps the wait between flushes after a failure
	MaxRetryInterval time.Duration
}

// Buffer collects emitted batches into chunks for the sink. It implements
// core.Router.
//
// A chunk is written when it reaches ChunkLimit events (synchronously, in the
// emitting goroutine) or when FlushInterval elapses (by the background
// flusher). Writes are serialized so the sink sees events in emit order.
//
// Events whose write fails stay at the head of the queue and are retried by
// the flusher with exponential backoff. Emit accepts a batch completely or
// not at all: it refuses a batch that does not fit under QueueLimit, and a
// batch whose own chunk failed is removed again and reported, so the caller
// keeps its checkpoint and reads the rows again.
type Buffer struct {
	sink   Sink
	config BufferConfig
	logger *zap.Logger

	mu     sync.Mutex
	chunk  []kinesis.Event
	closed bool

	// flushMu serializes sink writes; it is always taken before mu
	flushMu sync.Mutex

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewBuffer creates a buffer in front of sink
func NewBuffer(sink Sink, cfg BufferConfig, log *zap.Logger) *Buffer {
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = kinesis.MaxRecordsPerBatch
	}
	if cfg.QueueLimit < cfg.ChunkLimit {
		cfg.QueueLimit = 20 * cfg.ChunkLimit
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.MaxRetryInterval < cfg.FlushInterval {
		cfg.MaxRetryInterval = 30 * cfg.FlushInterval
	}

	return &Buffer{
		sink:   sink,
		config: cfg,
		logger: logger.OrNop(log).With(zap.String("component", "buffer")),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the interval flusher
func (b *Buffer) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	go b.flushLoop()
}

func (b *Buffer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.config.FlushInterval
	bo.MaxInterval = b.config.MaxRetryInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func (b *Buffer) flushLoop() {
	defer close(b.doneCh)

	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	bo := b.newBackOff()
	var retryAt time.Time

	for {
		select {
		case <-b.stopCh:
			return
		case now := <-ticker.C:
			if now.Before(retryAt) {
				continue
			}
			if err := b.Flush(context.Background()); err != nil {
				wait := bo.NextBackOff()
				retryAt = now.Add(wait)
				b.logger.Error("interval flush failed, events kept for retry",
					zap.Int("buffered", b.Len()),
					zap.Duration("retry_in", wait),
					zap.String("error_class", string(errors.TypeOf(err))),
					zap.Error(err))
				continue
			}
			if !retryAt.IsZero() {
				b.logger.Info("buffer recovered", zap.Int("buffered", b.Len()))
				retryAt = time.Time{}
				bo.Reset()
			}
		}
	}
}

// Emit appends the batch to the current chunk. When the chunk is full it is
// written before Emit returns. An error means none of the batch's events are
// kept, so the caller must not commit progress for it.
func (b *Buffer) Emit(ctx context.Context, batch core.RecordBatch) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	n := len(batch.Records)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New(errors.ErrorTypeDelivery, "buffer is closed")
	}
	ahead := len(b.chunk)
	if ahead > 0 && ahead+n > b.config.QueueLimit {
		b.mu.Unlock()
		return errors.New(errors.ErrorTypeRateLimit, "buffer is full").
			WithDetail("buffered", ahead).
			WithDetail("queue_limit", b.config.QueueLimit)
	}

	for _, rec := range batch.Records {
		b.chunk = append(b.chunk, kinesis.Event{
			Tag:    batch.Tag,
			Time:   rec.Time,
			Record: rec.Fields,
		})
	}

	if len(b.chunk) < b.config.ChunkLimit {
		b.mu.Unlock()
		return nil
	}
	pending := b.chunk
	b.chunk = nil
	b.mu.Unlock()

	written, err := b.writeChunks(ctx, pending, true)
	if err == nil {
		return nil
	}

	// Delivered events are ordered first, so anything of this batch still
	// queued sits at the tail.
	delivered := written - ahead
	if delivered < 0 {
		delivered = 0
	}
	b.mu.Lock()
	b.chunk = b.chunk[:len(b.chunk)-(n-delivered)]
	b.mu.Unlock()
	return err
}

// Flush writes whatever is buffered. Events that could not be written stay
// buffered.
func (b *Buffer) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	pending := b.chunk
	b.chunk = nil
	b.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	_, err := b.writeChunks(ctx, pending, false)
	return err
}

// writeChunks writes pending in ChunkLimit slices and returns the number of
// events written. With fullOnly set, a trailing partial slice is queued
// instead of written. On failure the unwritten events are put back at the
// head of the queue. flushMu must be held.
func (b *Buffer) writeChunks(ctx context.Context, pending []kinesis.Event, fullOnly bool) (int, error) {
	limit := b.config.ChunkLimit
	written := 0
	for len(pending) > 0 {
		if fullOnly && len(pending) < limit {
			break
		}
		size := limit
		if len(pending) < size {
			size = len(pending)
		}
		if err := b.write(ctx, pending[:size:size]); err != nil {
			b.requeue(pending)
			return written, err
		}
		written += size
		pending = pending[size:]
	}
	b.requeue(pending)
	return written, nil
}

func (b *Buffer) requeue(events []kinesis.Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunk = append(append(make([]kinesis.Event, 0, len(events)+len(b.chunk)), events...), b.chunk...)
}

// Len returns the number of buffered events
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.chunk)
}

// write must be called with flushMu held
func (b *Buffer) write(ctx context.Context, chunk []kinesis.Event) error {
	result, err := b.sink.Write(ctx, chunk)
	b.logger.Debug("chunk written",
		zap.Int("events", len(chunk)),
		zap.Int("delivered", result.Delivered),
		zap.Int("rejected", result.Rejected),
		zap.Int("failed", result.Failed))
	return err
}

// Close stops the flusher, waits for it and writes the remaining events.
// Emit fails once Close has been called. Events that still cannot be written
// are counted in the returned error.
func (b *Buffer) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	started := b.started
	b.mu.Unlock()

	b.stopOnce.Do(func() { close(b.stopCh) })
	if started {
		<-b.doneCh
	}
	if err := b.Flush(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeDelivery, "final flush failed").
			WithDetail("undelivered", b.Len())
	}
	return nil
}

var _ core.Router = (*Buffer)(nil)
