package kinesis

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kinesis"
	"github.com/aws/aws-sdk-go-v2/service/kinesis/types"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
)

// ConnectionConfig holds the client options
type ConnectionConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Endpoint overrides the service endpoint
	Endpoint string
	// Debug logs every request and response through the SDK logger
	Debug bool
}

// ConnectionConfigFromSink extracts client options from the sink section
func ConnectionConfigFromSink(s config.SinkConfig) ConnectionConfig {
	return ConnectionConfig{
		Region:          s.Region,
		AccessKeyID:     s.AWSKeyID,
		SecretAccessKey: s.AWSSecKey,
		Endpoint:        s.Endpoint,
		Debug:           s.Debug,
	}
}

// loadOptions translates cfg into SDK config options. Unset fields fall back
// to the default credential and region chain.
func (cfg ConnectionConfig) loadOptions(log *zap.Logger) []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	if cfg.Debug {
		opts = append(opts,
			awsconfig.WithLogger(logger.NewAWSLogger(log)),
			awsconfig.WithClientLogMode(aws.LogRequestWithBody|aws.LogResponseWithBody|aws.LogRetries),
		)
	}
	return opts
}

// Connection owns the stream client
type Connection struct {
	client core.StreamClient
	logger *zap.Logger
}

// Connect builds a Kinesis client. No request is made; use Validate to check
// that the stream is reachable.
func Connect(ctx context.Context, cfg ConnectionConfig, log *zap.Logger) (*Connection, error) {
	log = logger.OrNop(log).With(zap.String("component", "kinesis"))

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, cfg.loadOptions(log)...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
	}

	client := kinesis.NewFromConfig(awsCfg, func(o *kinesis.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	log.Info("kinesis client created",
		zap.String("region", awsCfg.Region),
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("debug", cfg.Debug))
	return NewConnection(client, log), nil
}

// NewConnection wraps an existing client
func NewConnection(client core.StreamClient, log *zap.Logger) *Connection {
	return &Connection{client: client, logger: logger.OrNop(log)}
}

// Client returns the underlying client
func (c *Connection) Client() core.StreamClient {
	return c.client
}

// Validate describes the stream and checks that it accepts writes. Errors
// are startup connectivity errors.
func (c *Connection) Validate(ctx context.Context, streamName string) error {
	out, err := c.client.DescribeStreamSummary(ctx, &kinesis.DescribeStreamSummaryInput{
		StreamName: aws.String(streamName),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to describe stream").
			WithDetail("stream", streamName).
			WithDetail(errors.DetailStage, errors.StageStartup)
	}

	var status types.StreamStatus
	if out.StreamDescriptionSummary != nil {
		status = out.StreamDescriptionSummary.StreamStatus
	}
	switch status {
	case types.StreamStatusActive, types.StreamStatusUpdating:
	default:
		return errors.Newf(errors.ErrorTypeConnection, "stream %s is not writable (status %q)", streamName, status).
			WithDetail("stream", streamName).
			WithDetail(errors.DetailStage, errors.StageStartup)
	}

	c.logger.Info("stream validated",
		zap.String("stream", streamName),
		zap.String("status", string(status)))
	return nil
}
