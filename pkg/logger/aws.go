package logger

import (
	"fmt"

	"github.com/aws/smithy-go/logging"
	"go.uber.org/zap"
)

// AWSLogger routes AWS SDK client logs into zap
type AWSLogger struct {
	logger *zap.Logger
}

// NewAWSLogger wraps l as an AWS SDK logger
func NewAWSLogger(l *zap.Logger) *AWSLogger {
	return &AWSLogger{logger: OrNop(l).With(zap.String("component", "aws_sdk"))}
}

// Logf implements logging.Logger
func (a *AWSLogger) Logf(classification logging.Classification, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	switch classification {
	case logging.Warn:
		a.logger.Warn(msg)
	default:
		a.logger.Debug(msg)
	}
}

var _ logging.Logger = (*AWSLogger)(nil)
