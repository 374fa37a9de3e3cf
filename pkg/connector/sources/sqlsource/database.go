// Package sqlsource polls relational tables incrementally.
//
// Each configured table is read in update-column order starting after the
// last checkpoint; the rows are handed to a router as one tagged batch and
// the new checkpoint is persisted through a watermark store. A Scheduler runs
// one polling cycle per interval on a single background goroutine.
//
// MySQL (go-sql-driver/mysql) and PostgreSQL (pgx) are supported.
package sqlsource

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/logger"
)

// Options holds the connection parameters of the source database
type Options struct {
	Adapter  string
	Host     string
	Port     int
	Database string
	Username string
	Password string
	// Socket is a unix socket path (MySQL) or socket directory (PostgreSQL)
	Socket string
	// ConnectTimeout bounds the initial connection attempts
	ConnectTimeout time.Duration
}

// OptionsFromConfig extracts connection options from the source section
func OptionsFromConfig(c config.SourceConfig) Options {
	return Options{
		Adapter:        c.Adapter,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		Username:       c.Username,
		Password:       c.Password,
		Socket:         c.Socket,
		ConnectTimeout: c.ConnectTimeout,
	}
}

// connectFunc opens a database without retries
type connectFunc func(ctx context.Context, opts Options, log *zap.Logger) (core.Database, error)

var connectors = map[string]connectFunc{
	config.AdapterMySQL:      openMySQL,
	config.AdapterPostgreSQL: openPostgres,
}

// Open connects to the source database, retrying with exponential backoff
// until ConnectTimeout elapses.
func Open(ctx context.Context, opts Options, log *zap.Logger) (core.Database, error) {
	log = logger.OrNop(log).With(zap.String("component", "sql_source"), zap.String("adapter", opts.Adapter))

	connect, ok := connectors[opts.Adapter]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported adapter %q", opts.Adapter)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = opts.ConnectTimeout
	if b.MaxElapsedTime <= 0 {
		b.MaxElapsedTime = 30 * time.Second
	}

	var db core.Database
	operation := func() error {
		var err error
		db, err = connect(ctx, opts, log)
		if err != nil {
			log.Warn("failed to connect to database", zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to source database").
			WithDetail("host", opts.Host).
			WithDetail("database", opts.Database)
	}

	log.Info("connected to source database",
		zap.String("host", opts.Host),
		zap.Int("port", opts.Port),
		zap.String("database", opts.Database))
	return db, nil
}
