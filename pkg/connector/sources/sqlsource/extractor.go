package sqlsource

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	jsonpool "github.com/ajitpratap0/sqlstream/pkg/json"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
	"github.com/ajitpratap0/sqlstream/pkg/metrics"
)

// TableDescriptor describes one polled table
type TableDescriptor struct {
	Table string
	// Tag overrides the table name in the emitted tag
	Tag string
	// UpdateColumn orders and bounds the incremental query. Defaults to the
	// table's single-column primary key.
	UpdateColumn string
	// TimeColumn provides event times; rows without a parseable value use
	// the cycle start time.
	TimeColumn string
	// PrimaryKey overrides primary key discovery
	PrimaryKey string
}

// DescriptorFromConfig converts a table section
func DescriptorFromConfig(t config.TableConfig) TableDescriptor {
	return TableDescriptor{
		Table:        t.Table,
		Tag:          t.Tag,
		UpdateColumn: t.UpdateColumn,
		TimeColumn:   t.TimeColumn,
		PrimaryKey:   t.PrimaryKey,
	}
}

// State is the lifecycle state of a TableExtractor
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateExtracting
	// StateFailed is terminal: the table is skipped for the rest of the run
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateExtracting:
		return "extracting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// timeLayouts are tried in order when a time column holds text
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// TableExtractor reads the rows of one table that follow a checkpoint
type TableExtractor struct {
	desc   TableDescriptor
	db     core.Database
	router core.Router
	logger *zap.Logger
	now    func() time.Time

	state        State
	updateColumn string
	tag          string
}

// NewTableExtractor creates an uninitialized extractor
func NewTableExtractor(desc TableDescriptor, db core.Database, router core.Router, log *zap.Logger) *TableExtractor {
	return &TableExtractor{
		desc:   desc,
		db:     db,
		router: router,
		logger: logger.OrNop(log).With(zap.String("table", desc.Table)),
		now:    time.Now,
		state:  StateUninitialized,
	}
}

// Table returns the table name
func (e *TableExtractor) Table() string { return e.desc.Table }

// Tag returns the resolved destination tag; empty before Initialize
func (e *TableExtractor) Tag() string { return e.tag }

// UpdateColumn returns the effective update column; empty before Initialize
func (e *TableExtractor) UpdateColumn() string { return e.updateColumn }

// State returns the lifecycle state
func (e *TableExtractor) State() State { return e.state }

// Initialize resolves the tag and the effective update column. A table whose
// update column cannot be derived moves to StateFailed permanently.
func (e *TableExtractor) Initialize(ctx context.Context, tagPrefix string) error {
	if e.state != StateUninitialized {
		return errors.Newf(errors.ErrorTypeValidation, "table %s already initialized (state %s)", e.desc.Table, e.state)
	}

	e.tag = resolveTag(tagPrefix, e.desc)

	column, err := e.resolveUpdateColumn(ctx)
	if err != nil {
		e.state = StateFailed
		return errors.Wrap(err, errors.ErrorTypeTableInit, "can't handle table").
			WithDetail("table", e.desc.Table)
	}

	e.updateColumn = column
	e.state = StateReady
	e.logger.Info("table initialized",
		zap.String("tag", e.tag),
		zap.String("update_column", e.updateColumn),
		zap.String("time_column", e.desc.TimeColumn))
	return nil
}

func resolveTag(prefix string, desc TableDescriptor) string {
	tag := desc.Tag
	if tag == "" {
		tag = desc.Table
	}
	if prefix != "" {
		return prefix + "." + tag
	}
	return tag
}

func (e *TableExtractor) resolveUpdateColumn(ctx context.Context) (string, error) {
	if e.desc.UpdateColumn != "" {
		return e.desc.UpdateColumn, nil
	}

	var pk []string
	if e.desc.PrimaryKey != "" {
		for _, col := range strings.Split(e.desc.PrimaryKey, ",") {
			pk = append(pk, strings.TrimSpace(col))
		}
	} else {
		discovered, err := e.db.PrimaryKey(ctx, e.desc.Table)
		if err != nil {
			return "", err
		}
		pk = discovered
	}

	switch len(pk) {
	case 0:
		return "", errors.New(errors.ErrorTypeConfig,
			"table has no primary key. Set update_column parameter to <table> section.")
	case 1:
		return pk[0], nil
	default:
		return "", errors.New(errors.ErrorTypeConfig,
			"composite primary key is not supported. Set update_column parameter to <table> section.").
			WithDetail("primary_key", pk)
	}
}

// ExtractNext reads up to limit rows whose update column is greater than
// checkpoint (all rows when checkpoint is nil), emits them to the router as
// one batch and returns the batch with the new checkpoint.
//
// The new checkpoint is the update-column value of the last row as read from
// the database. Without rows the input checkpoint is returned unchanged.
// Nothing is emitted and the checkpoint does not advance when an error is
// returned.
func (e *TableExtractor) ExtractNext(ctx context.Context, checkpoint interface{}, limit int) (core.RecordBatch, interface{}, error) {
	if e.state != StateReady {
		return core.RecordBatch{}, checkpoint, errors.Newf(errors.ErrorTypeExtraction,
			"table %s is not ready (state %s)", e.desc.Table, e.state)
	}

	e.state = StateExtracting
	defer func() { e.state = StateReady }()

	batch, next, err := e.read(ctx, checkpoint, limit)
	if err != nil {
		return core.RecordBatch{}, checkpoint, err
	}

	if batch.Len() > 0 {
		if err := e.router.Emit(ctx, batch); err != nil {
			return core.RecordBatch{}, checkpoint, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to emit records").
				WithDetail("table", e.desc.Table).
				WithDetail("tag", e.tag)
		}
		metrics.RowsExtracted.WithLabelValues(e.desc.Table).Add(float64(batch.Len()))
	}

	return batch, next, nil
}

func (e *TableExtractor) read(ctx context.Context, checkpoint interface{}, limit int) (core.RecordBatch, interface{}, error) {
	rows, err := e.db.QueryIncremental(ctx, core.Query{
		Table:        e.desc.Table,
		UpdateColumn: e.updateColumn,
		After:        checkpoint,
		HasAfter:     checkpoint != nil,
		Limit:        limit,
	})
	if err != nil {
		return core.RecordBatch{}, nil, errors.Wrap(err, errors.ErrorTypeExtraction, "query failed").
			WithDetail("table", e.desc.Table)
	}
	defer rows.Close()

	now := e.now()
	batch := core.RecordBatch{Tag: e.tag}
	next := checkpoint
	skipped := 0

	for rows.Next() {
		row, err := rows.Row()
		if err != nil {
			skipped++
			e.logger.Debug("skipping row that could not be converted", zap.Error(err))
			continue
		}

		if v := row[e.updateColumn]; v != nil {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			next = v
		}

		batch.Records = append(batch.Records, core.ExtractedRecord{
			Time:   e.eventTime(row, now),
			Fields: serializeRow(row),
		})
	}
	if err := rows.Err(); err != nil {
		return core.RecordBatch{}, nil, errors.Wrap(err, errors.ErrorTypeExtraction, "failed to read rows").
			WithDetail("table", e.desc.Table)
	}

	if skipped > 0 {
		metrics.RowsSkipped.WithLabelValues(e.desc.Table).Add(float64(skipped))
	}
	return batch, next, nil
}

func (e *TableExtractor) eventTime(row map[string]interface{}, now time.Time) time.Time {
	if e.desc.TimeColumn == "" {
		return now
	}

	switch v := row[e.desc.TimeColumn].(type) {
	case time.Time:
		return v
	case string:
		return parseTime(v, now)
	case []byte:
		return parseTime(string(v), now)
	default:
		return now
	}
}

func parseTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// serializeRow copies a row into record fields with times rendered as text
func serializeRow(row map[string]interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(row))
	for k, v := range row {
		fields[k] = jsonpool.NormalizeValue(v)
	}
	return fields
}
