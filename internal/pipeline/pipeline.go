// Package pipeline wires the table poller to the stream writer.
//
// The extraction side (database, watermark store, table extractors and the
// polling scheduler) emits batches into a Buffer, which chunks them and hands
// them to the Kinesis writer:
//
//	scheduler -> extractor -> Buffer -> Writer -> PutRecords
//	                 |
//	           watermark store
//
// # Basic Usage
//
//	p, err := pipeline.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	return p.Run(ctx) // blocks until ctx is cancelled
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/base"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/connector/destinations/kinesis"
	"github.com/ajitpratap0/sqlstream/pkg/connector/sources/sqlsource"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
	"github.com/ajitpratap0/sqlstream/pkg/watermark"
)

// shutdownTimeout bounds the final buffer flush
const shutdownTimeout = 30 * time.Second

// Dependencies are the external collaborators of a pipeline
type Dependencies struct {
	Database     core.Database
	Store        watermark.Store
	StreamClient core.StreamClient
}

// Pipeline owns every component of a running sqlstream process
type Pipeline struct {
	config    *config.Config
	logger    *zap.Logger
	db        core.Database
	store     watermark.Store
	buffer    *Buffer
	writer    *kinesis.Writer
	scheduler *sqlsource.Scheduler
}

// New opens the watermark store, the stream connection and the source
// database described by cfg and builds the pipeline. Errors are fatal
// startup errors.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Pipeline, error) {
	log = logger.OrNop(log)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store, volatile, err := watermark.Open(cfg.Source.StateFile)
	if err != nil {
		return nil, err
	}
	if volatile {
		log.Warn("'state_file' is not set; extraction progress will not survive a restart")
	}

	conn, err := kinesis.Connect(ctx, kinesis.ConnectionConfigFromSink(cfg.Sink), log)
	if err != nil {
		return nil, err
	}
	if cfg.Sink.EnsureStreamConnection {
		if err := conn.Validate(ctx, cfg.Sink.StreamName); err != nil {
			return nil, err
		}
	}

	db, err := sqlsource.Open(ctx, sqlsource.OptionsFromConfig(cfg.Source), log)
	if err != nil {
		var se *errors.Error
		if errors.As(err, &se) {
			se.WithDetail(errors.DetailStage, errors.StageStartup)
		}
		return nil, err
	}

	p, err := Build(cfg, Dependencies{
		Database:     db,
		Store:        store,
		StreamClient: conn.Client(),
	}, log)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// Build assembles a pipeline from already opened collaborators
func Build(cfg *config.Config, deps Dependencies, log *zap.Logger) (*Pipeline, error) {
	log = logger.OrNop(log)

	writer, err := kinesis.NewWriter(deps.StreamClient, kinesis.WriterConfig{
		StreamName: cfg.Sink.StreamName,
		Formatter:  kinesis.NewFormatter(kinesis.FormatterConfigFromSink(cfg.Sink)),
		Retry:      base.NewRetryPolicy(cfg.Sink.Retry),
	}, log.With(zap.String("component", "writer")))
	if err != nil {
		return nil, err
	}

	buffer := NewBuffer(writer, BufferConfig{
		ChunkLimit:    cfg.Sink.Buffer.ChunkLimit,
		QueueLimit:    cfg.Sink.Buffer.QueueLimit,
		FlushInterval: cfg.Sink.Buffer.FlushInterval,
	}, log)

	extractors := make([]*sqlsource.TableExtractor, 0, len(cfg.Source.Tables))
	for _, t := range cfg.Source.Tables {
		extractors = append(extractors, sqlsource.NewTableExtractor(
			sqlsource.DescriptorFromConfig(t), deps.Database, buffer, log))
	}

	scheduler := sqlsource.NewScheduler(deps.Database, deps.Store, extractors, sqlsource.SchedulerConfig{
		Interval:  cfg.Source.SelectInterval,
		Limit:     cfg.Source.SelectLimit,
		TagPrefix: cfg.Source.TagPrefix,
	}, log)

	return &Pipeline{
		config:    cfg,
		logger:    log.With(zap.String("component", "pipeline")),
		db:        deps.Database,
		store:     deps.Store,
		buffer:    buffer,
		writer:    writer,
		scheduler: scheduler,
	}, nil
}

// Run starts polling and blocks until ctx is cancelled. Shutdown stops the
// scheduler (waiting for an in-flight table), flushes the buffer and closes
// the database.
func (p *Pipeline) Run(ctx context.Context) error {
	p.buffer.Start()
	if err := p.scheduler.Start(ctx); err != nil {
		return err
	}
	p.logger.Info("pipeline started",
		zap.Strings("tables", p.scheduler.ActiveTables()),
		zap.String("stream", p.config.Sink.StreamName))

	<-ctx.Done()
	return p.shutdown()
}

func (p *Pipeline) shutdown() error {
	p.logger.Info("shutting down")
	p.scheduler.Stop()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	flushErr := p.buffer.Close(flushCtx)
	if flushErr != nil {
		p.logger.Error("final flush failed", zap.Error(flushErr))
	}

	if err := p.db.Close(); err != nil {
		p.logger.Warn("failed to close database", zap.Error(err))
	}

	p.logger.Info("pipeline stopped")
	return flushErr
}

// Scheduler exposes the polling scheduler
func (p *Pipeline) Scheduler() *sqlsource.Scheduler {
	return p.scheduler
}
