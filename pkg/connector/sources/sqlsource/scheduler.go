package sqlsource

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
	"github.com/ajitpratap0/sqlstream/pkg/metrics"
	"github.com/ajitpratap0/sqlstream/pkg/watermark"
)

// SchedulerConfig controls the polling loop
type SchedulerConfig struct {
	Interval  time.Duration
	Limit     int
	TagPrefix string
}

// Scheduler polls every active table once per interval on a single
// background goroutine
type Scheduler struct {
	db         core.Database
	store      watermark.Store
	extractors []*TableExtractor
	active     []*TableExtractor
	config     SchedulerConfig
	logger     *zap.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewScheduler creates a scheduler. Extractors are polled in the given order.
func NewScheduler(db core.Database, store watermark.Store, extractors []*TableExtractor, cfg SchedulerConfig, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = config.DefaultSelectInterval
	}

	return &Scheduler{
		db:         db,
		store:      store,
		extractors: extractors,
		config:     cfg,
		logger:     logger.OrNop(log).With(zap.String("component", "scheduler")),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Initialize resolves every table. Tables that fail are logged and dropped
// from the active set for the lifetime of the scheduler.
func (s *Scheduler) Initialize(ctx context.Context) {
	s.active = s.active[:0]
	for _, e := range s.extractors {
		switch e.State() {
		case StateReady:
			s.active = append(s.active, e)
			continue
		case StateFailed:
			continue
		}

		if err := e.Initialize(ctx, s.config.TagPrefix); err != nil {
			s.logger.Error("can't handle table; table disabled",
				zap.String("table", e.Table()),
				zap.String("error_class", string(errors.TypeOf(err))),
				zap.Error(err))
			continue
		}
		s.active = append(s.active, e)
	}
	metrics.ActiveTables.Set(float64(len(s.active)))
}

// Start initializes the tables and launches the polling goroutine. The loop
// exits when Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.started {
		return errors.New(errors.ErrorTypeValidation, "scheduler already started")
	}
	s.started = true

	s.Initialize(ctx)
	s.logger.Info("scheduler started",
		zap.Int("active_tables", len(s.active)),
		zap.Duration("interval", s.config.Interval),
		zap.Int("limit", s.config.Limit))

	go s.loop(ctx)
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	timer := time.NewTimer(s.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// A running cycle completes every table it started even when
		// shutdown is requested meanwhile.
		if err := s.RunCycle(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("cycle skipped", zap.Error(err))
		}

		select {
		case <-s.stopCh:
			return
		default:
		}
		timer.Reset(s.config.Interval)
	}
}

// RunCycle polls every active table once. A connectivity failure that a
// single reconnect cannot fix skips the whole cycle and is returned; per-table
// failures are logged and never returned.
func (s *Scheduler) RunCycle(ctx context.Context) error {
	if err := s.ensureConnection(ctx); err != nil {
		metrics.Cycles.WithLabelValues(metrics.CycleSkipped).Inc()
		return err
	}

	// a cycle always covers every table; Stop takes effect between cycles
	for _, e := range s.active {
		s.pollTable(ctx, e)
	}

	metrics.Cycles.WithLabelValues(metrics.CycleCompleted).Inc()
	return nil
}

func (s *Scheduler) ensureConnection(ctx context.Context) error {
	err := s.db.Ping(ctx)
	if err == nil {
		return nil
	}

	s.logger.Warn("database connection lost, reconnecting", zap.Error(err))
	if rerr := s.db.Reconnect(ctx); rerr != nil {
		return errors.Wrap(rerr, errors.ErrorTypeConnection, "can't connect to database; skipping cycle")
	}
	return nil
}

func (s *Scheduler) pollTable(ctx context.Context, e *TableExtractor) {
	log := s.logger.With(zap.String("table", e.Table()))

	checkpoint, _ := s.store.Get(e.Table())

	timer := metrics.NewTimer()
	batch, next, err := e.ExtractNext(ctx, checkpoint, s.config.Limit)
	timer.ObserveDuration(metrics.ExtractionDuration.WithLabelValues(e.Table()))
	if err != nil {
		metrics.TableErrors.WithLabelValues(e.Table()).Inc()
		log.Error("unexpected error while polling table",
			zap.String("error_class", string(errors.TypeOf(err))),
			zap.Error(err))
		return
	}

	if batch.Len() == 0 {
		return
	}

	s.store.Set(e.Table(), next)
	if err := s.store.Persist(); err != nil {
		metrics.WatermarkPersists.WithLabelValues("error").Inc()
		metrics.TableErrors.WithLabelValues(e.Table()).Inc()
		log.Error("failed to persist watermark",
			zap.String("error_class", string(errors.TypeOf(err))),
			zap.Error(err))
		return
	}
	metrics.WatermarkPersists.WithLabelValues("ok").Inc()

	log.Debug("table polled",
		zap.Int("rows", batch.Len()),
		zap.Any("checkpoint", next))
}

// Stop signals the loop and waits for it to exit. An in-flight cycle
// finishes all of its tables first; the wait between cycles is interrupted.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	if s.started {
		<-s.doneCh
	}
}

// ActiveTables returns the tables that passed initialization
func (s *Scheduler) ActiveTables() []string {
	names := make([]string, 0, len(s.active))
	for _, e := range s.active {
		names = append(names, e.Table())
	}
	return names
}
