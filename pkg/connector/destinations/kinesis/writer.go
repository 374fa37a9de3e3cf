package kinesis

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/connector/base"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
	"github.com/ajitpratap0/sqlstream/pkg/metrics"
)

// WriterConfig configures a Writer
type WriterConfig struct {
	StreamName string
	Formatter  *Formatter
	// Retry applies to throttled records and failed requests; nil means
	// base.DefaultRetryPolicy
	Retry *base.RetryPolicy
}

// Result counts the outcome of one Write call
type Result struct {
	Delivered int
	// Rejected records could not be formatted or exceed the size limit
	Rejected int
	// Failed records were still refused after every retry
	Failed int
}

// Total returns the number of records the call handled
func (r Result) Total() int {
	return r.Delivered + r.Rejected + r.Failed
}

// Writer sends events to a stream with PutRecords
type Writer struct {
	client    core.StreamClient
	stream    string
	formatter *Formatter
	retry     *base.RetryPolicy
	logger    *zap.Logger
}

// NewWriter creates a writer
func NewWriter(client core.StreamClient, cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if client == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "kinesis client is required")
	}
	if cfg.StreamName == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "'stream_name' is required")
	}
	if cfg.Formatter == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "formatter is required")
	}
	if cfg.Retry == nil {
		cfg.Retry = base.DefaultRetryPolicy()
	}

	return &Writer{
		client:    client,
		stream:    cfg.StreamName,
		formatter: cfg.Formatter,
		retry:     cfg.Retry,
		logger:    logger.OrNop(log).With(zap.String("stream", cfg.StreamName)),
	}, nil
}

// Write formats, batches and sends events. Unformattable and oversized
// records are logged and counted as rejected; they are never retried. The
// returned error is non-nil when any record failed delivery.
func (w *Writer) Write(ctx context.Context, events []Event) (Result, error) {
	var result Result

	units := make([]DeliveryUnit, 0, len(events))
	for _, ev := range events {
		u, err := w.formatter.Format(ev)
		if err != nil {
			result.Rejected++
			w.logger.Error("failed to format record",
				zap.String("tag", ev.Tag),
				zap.String("error_class", string(errors.TypeOf(err))),
				zap.Error(err))
			continue
		}
		units = append(units, u)
	}

	batches, rejected := Assemble(units)
	for _, r := range rejected {
		result.Rejected++
		w.logger.Error("record too large, dropped",
			zap.Int("size", len(r.Unit.Data)),
			zap.Int("limit", MaxRecordSize),
			zap.String("partition_key", r.Unit.PartitionKey),
			zap.Error(r.Err))
	}

	var lastErr error
	for _, batch := range batches {
		delivered, failed, err := w.putBatch(ctx, batch)
		result.Delivered += delivered
		result.Failed += failed
		if err != nil {
			lastErr = err
		}
	}

	metrics.RecordsDelivered.WithLabelValues(w.stream, metrics.DeliveryDelivered).Add(float64(result.Delivered))
	metrics.RecordsDelivered.WithLabelValues(w.stream, metrics.DeliveryRejected).Add(float64(result.Rejected))
	metrics.RecordsDelivered.WithLabelValues(w.stream, metrics.DeliveryFailed).Add(float64(result.Failed))

	if result.Failed > 0 {
		return result, errors.Wrap(lastErr, errors.ErrorTypeDelivery, "records were not delivered").
			WithDetail("failed", result.Failed).
			WithDetail("delivered", result.Delivered)
	}
	return result, nil
}

// putBatch sends one batch, re-sending only the records the stream refused
func (w *Writer) putBatch(ctx context.Context, batch DeliveryBatch) (delivered, failed int, err error) {
	pending := batch.Units

	err = w.retry.Execute(ctx, func(attempt int) error {
		if attempt > 0 {
			metrics.RecordsRetried.WithLabelValues(w.stream).Add(float64(len(pending)))
			w.logger.Debug("retrying records", zap.Int("attempt", attempt), zap.Int("records", len(pending)))
		}

		timer := metrics.NewTimer()
		out, err := w.client.PutRecords(ctx, w.request(pending))
		timer.ObserveDuration(metrics.PutLatency.WithLabelValues(w.stream))
		if err != nil {
			return classifyRequestError(err)
		}
		if len(out.Records) != len(pending) {
			return errors.Newf(errors.ErrorTypeInternal, "PutRecords returned %d results for %d records", len(out.Records), len(pending))
		}

		var refused []DeliveryUnit
		var cause error
		for i, entry := range out.Records {
			if entry.ErrorCode == nil {
				delivered++
				continue
			}
			refused = append(refused, pending[i])
			cause = recordError(entry)
		}
		pending = refused

		if len(pending) > 0 {
			return errors.Wrap(cause, errors.TypeOf(cause), "stream refused records").
				WithDetail("refused", len(pending))
		}
		return nil
	})

	failed = len(pending)
	if err != nil {
		w.logger.Error("failed to deliver records",
			zap.Int("failed", failed),
			zap.String("error_class", string(errors.TypeOf(err))),
			zap.Error(err))
	}
	return delivered, failed, err
}

func (w *Writer) request(units []DeliveryUnit) *kinesis.PutRecordsInput {
	entries := make([]types.PutRecordsRequestEntry, len(units))
	for i, u := range units {
		entries[i] = types.PutRecordsRequestEntry{
			Data:         u.Data,
			PartitionKey: aws.String(u.PartitionKey),
		}
	}
	return &kinesis.PutRecordsInput{
		StreamName: aws.String(w.stream),
		Records:    entries,
	}
}

// recordError classifies a per-record failure. Kinesis reports throttling
// and internal failures here; both are worth another attempt.
func recordError(entry types.PutRecordsResultEntry) error {
	code := aws.ToString(entry.ErrorCode)
	errType := errors.ErrorTypeDelivery
	if code == "ProvisionedThroughputExceededException" {
		errType = errors.ErrorTypeRateLimit
	}
	return errors.Newf(errType, "%s: %s", code, aws.ToString(entry.ErrorMessage)).
		WithDetail("error_code", code)
}

// classifyRequestError maps a failed PutRecords call to an error type that
// decides whether it is retried
func classifyRequestError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return errors.Wrap(err, errors.ErrorTypeConnection, "PutRecords request failed")
	}

	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException", "LimitExceededException", "ThrottlingException":
		return errors.Wrap(err, errors.ErrorTypeRateLimit, "PutRecords throttled")
	case "ResourceNotFoundException", "InvalidArgumentException", "AccessDeniedException",
		"KMSAccessDeniedException", "KMSDisabledException", "KMSInvalidStateException",
		"KMSNotFoundException", "KMSOptInRequired", "ValidationException":
		return errors.Wrap(err, errors.ErrorTypeValidation, "PutRecords rejected")
	}

	if apiErr.ErrorFault() == smithy.FaultClient {
		return errors.Wrap(err, errors.ErrorTypeValidation, "PutRecords rejected")
	}
	return errors.Wrap(err, errors.ErrorTypeDelivery, "PutRecords failed")
}
