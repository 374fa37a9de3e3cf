package sqlsource

import (
	"context"
	"database/sql/driver"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

const defaultPostgresPort = 5432

// postgresDatabase implements core.Database on a pgx pool
type postgresDatabase struct {
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, opts Options, log *zap.Logger) (core.Database, error) {
	p := &postgresDatabase{opts: opts, logger: log}
	pool, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// postgresPoolConfig builds the pool configuration from connection options
func postgresPoolConfig(opts Options) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to build connection config")
	}

	cc := poolConfig.ConnConfig
	cc.Database = opts.Database
	cc.User = opts.Username
	cc.Password = opts.Password
	if opts.Socket != "" {
		// pgx treats an absolute host as a unix socket directory
		cc.Host = opts.Socket
	} else {
		cc.Host = opts.Host
	}
	cc.Fallbacks = nil
	cc.Port = defaultPostgresPort
	if opts.Port > 0 {
		cc.Port = uint16(opts.Port)
	}
	if opts.ConnectTimeout > 0 {
		cc.ConnectTimeout = opts.ConnectTimeout
	}
	// time checkpoints are UTC wall-clock text, so timestamptz comparisons
	// must not depend on the server's default TimeZone
	if cc.RuntimeParams == nil {
		cc.RuntimeParams = make(map[string]string)
	}
	cc.RuntimeParams["timezone"] = "UTC"

	// one connection shared by every table, used only by the polling goroutine
	poolConfig.MaxConns = 1
	poolConfig.MinConns = 0
	return poolConfig, nil
}

func (p *postgresDatabase) connect(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := postgresPoolConfig(p.opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "postgresql ping failed")
	}
	return pool, nil
}

func (p *postgresDatabase) handle() *pgxpool.Pool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pool
}

// Ping checks the connection is alive
func (p *postgresDatabase) Ping(ctx context.Context) error {
	if err := p.handle().Ping(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "postgresql connection is not active")
	}
	return nil
}

// Reconnect replaces the pool with a fresh one
func (p *postgresDatabase) Reconnect(ctx context.Context) error {
	pool, err := p.connect(ctx)
	if err != nil {
		return err
	}

	p.mu.Lock()
	old := p.pool
	p.pool = pool
	p.mu.Unlock()

	if old != nil {
		old.Close()
	}
	p.logger.Info("reconnected to postgresql")
	return nil
}

// PrimaryKey returns the primary key columns in key order
func (p *postgresDatabase) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	const query = `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = $1::regclass AND i.indisprimary
		ORDER BY array_position(i.indkey::int2[], a.attnum)
	`

	// regclass resolves the same quoted, schema-qualified form used in queries
	qualified, _ := newSQLBuilder(postgresDialect).WriteIdentifier(table).Build()

	rows, err := p.handle().Query(ctx, query, qualified)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query primary key").
			WithDetail("table", table)
	}

	columns, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read primary key columns").
			WithDetail("table", table)
	}
	return columns, nil
}

// QueryIncremental runs the ordered range query
func (p *postgresDatabase) QueryIncremental(ctx context.Context, q core.Query) (core.Rows, error) {
	query, args := postgresDialect.buildIncrementalQuery(q)

	rows, err := p.handle().Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "incremental query failed").
			WithDetail("table", q.Table).
			WithDetail("query", query)
	}

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = fd.Name
	}
	return &pgxRows{rows: rows, names: names}, nil
}

// Close closes the pool
func (p *postgresDatabase) Close() error {
	p.handle().Close()
	return nil
}

// pgxRows adapts pgx.Rows to core.Rows
type pgxRows struct {
	rows  pgx.Rows
	names []string
}

func (r *pgxRows) Next() bool { return r.rows.Next() }
func (r *pgxRows) Err() error { return r.rows.Err() }
func (r *pgxRows) Close()     { r.rows.Close() }

// Row decodes the current row into a column map
func (r *pgxRows) Row() (map[string]interface{}, error) {
	values, err := r.rows.Values()
	if err != nil {
		return nil, err
	}

	row := make(map[string]interface{}, len(r.names))
	for i, name := range r.names {
		v, err := convertPostgresValue(values[i])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to convert column").
				WithDetail("column", name)
		}
		row[name] = v
	}
	return row, nil
}

// convertPostgresValue flattens pgx values that have no natural scalar form
func convertPostgresValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String(), nil
	case int32:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case float32:
		return float64(val), nil
	case driver.Valuer:
		// numeric, intervals and other pgtype values
		return val.Value()
	default:
		return v, nil
	}
}
