// Package connector groups the two ends of sqlstream.
//
// # Layout
//
//   - core: the collaborator interfaces shared by both ends (Database, Rows,
//     Router, StreamClient) and the record types passed between them.
//
//   - sources/sqlsource: incremental table polling. A TableExtractor reads
//     the rows of one table that follow its checkpoint; a Scheduler runs one
//     cycle per interval over every table and persists checkpoints through
//     a watermark store.
//
//   - destinations/kinesis: delivery to an Amazon Kinesis data stream. Events
//     are formatted into payload and partition key, grouped into PutRecords
//     batches under the count and size limits, and sent with retries of the
//     records the stream refused.
//
//   - base: the retry policy used by delivery.
//
// # Delivery Semantics
//
// A table's checkpoint is persisted only after its batch was accepted by the
// router. The router keeps accepted events until the stream takes them and
// refuses batches it cannot hold, so a refused batch is read again on the
// next cycle. Rows can be delivered more than once; only events still queued
// in memory when the process dies are lost.
//
// # Errors
//
// Every component returns *errors.Error values. Configuration errors, corrupt
// watermark state and a failed startup stream check are fatal
// (errors.IsFatal); everything else is logged with the table or stream name
// and retried on the next cycle or flush.
package connector
