// Package core defines the types and interfaces shared by sources and
// destinations.
package core

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kinesis"
)

// Checkpoint is the last-seen value of a table's update column. It holds
// whatever scalar the driver returned (integers, floats, strings, times).
type Checkpoint = interface{}

// ExtractedRecord is one table row with its event time
type ExtractedRecord struct {
	Time   time.Time
	Fields map[string]interface{}
}

// RecordBatch is an ordered set of records sharing one destination tag
type RecordBatch struct {
	Tag     string
	Records []ExtractedRecord
}

// Len returns the number of records in the batch
func (b RecordBatch) Len() int {
	return len(b.Records)
}

// Router receives extracted batches for downstream delivery
type Router interface {
	Emit(ctx context.Context, batch RecordBatch) error
}

// RouterFunc adapts a function to the Router interface
type RouterFunc func(ctx context.Context, batch RecordBatch) error

// Emit calls f
func (f RouterFunc) Emit(ctx context.Context, batch RecordBatch) error {
	return f(ctx, batch)
}

// Query describes an ordered, range-filtered, limited select
type Query struct {
	Table        string
	UpdateColumn string
	// After is only applied when HasAfter is set
	After    Checkpoint
	HasAfter bool
	// Limit <= 0 means unbounded
	Limit int
}

// Rows iterates over query results. Row returns an error for rows that could
// not be converted; iteration may continue after such an error.
type Rows interface {
	Next() bool
	Row() (map[string]interface{}, error)
	Err() error
	Close()
}

// Database is the source relational database
type Database interface {
	// Ping reports whether the connection is alive
	Ping(ctx context.Context) error
	// Reconnect drops the current connection and opens a new one
	Reconnect(ctx context.Context) error
	// PrimaryKey returns the primary key columns of a table in key order
	PrimaryKey(ctx context.Context, table string) ([]string, error)
	// QueryIncremental runs q and streams the resulting rows
	QueryIncremental(ctx context.Context, q Query) (Rows, error)
	Close() error
}

// StreamClient is the part of the Kinesis API used for delivery
type StreamClient interface {
	DescribeStreamSummary(ctx context.Context, params *kinesis.DescribeStreamSummaryInput, optFns ...func(*kinesis.Options)) (*kinesis.DescribeStreamSummaryOutput, error)
	PutRecords(ctx context.Context, params *kinesis.PutRecordsInput, optFns ...func(*kinesis.Options)) (*kinesis.PutRecordsOutput, error)
}
