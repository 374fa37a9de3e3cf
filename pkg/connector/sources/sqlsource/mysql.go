package sqlsource

import (
	"context"
	"database/sql"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

const defaultMySQLPort = 3306

// mysqlDatabase implements core.Database on database/sql
type mysqlDatabase struct {
	opts   Options
	logger *zap.Logger

	mu sync.Mutex
	db *sql.DB
}

func openMySQL(ctx context.Context, opts Options, log *zap.Logger) (core.Database, error) {
	m := &mysqlDatabase{opts: opts, logger: log}
	db, err := m.connect(ctx)
	if err != nil {
		return nil, err
	}
	m.db = db
	return m, nil
}

// mysqlConfig builds the driver configuration from connection options
func mysqlConfig(opts Options) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = opts.Username
	cfg.Passwd = opts.Password
	cfg.DBName = opts.Database
	cfg.ParseTime = true
	// time checkpoints are UTC wall-clock text; TIMESTAMP columns must be
	// compared and scanned in UTC too
	cfg.Loc = time.UTC
	cfg.Params = map[string]string{"time_zone": "'+00:00'"}
	if opts.Socket != "" {
		cfg.Net = "unix"
		cfg.Addr = opts.Socket
	} else {
		port := opts.Port
		if port == 0 {
			port = defaultMySQLPort
		}
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(opts.Host, strconv.Itoa(port))
	}
	return cfg
}

func (m *mysqlDatabase) connect(ctx context.Context) (*sql.DB, error) {
	connector, err := mysql.NewConnector(mysqlConfig(m.opts))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid mysql configuration")
	}

	db := sql.OpenDB(connector)
	// one connection shared by every table, used only by the polling goroutine
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "mysql ping failed")
	}
	return db, nil
}

func (m *mysqlDatabase) handle() *sql.DB {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db
}

// Ping checks the connection is alive
func (m *mysqlDatabase) Ping(ctx context.Context) error {
	if err := m.handle().PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "mysql connection is not active")
	}
	return nil
}

// Reconnect replaces the connection pool with a fresh one
func (m *mysqlDatabase) Reconnect(ctx context.Context) error {
	db, err := m.connect(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	old := m.db
	m.db = db
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.logger.Info("reconnected to mysql")
	return nil
}

// PrimaryKey returns the primary key columns in key order
func (m *mysqlDatabase) PrimaryKey(ctx context.Context, table string) ([]string, error) {
	schema, name := splitTableName(table)

	sb := newSQLBuilder(mysqlDialect).
		WriteQuery("SELECT COLUMN_NAME FROM information_schema.KEY_COLUMN_USAGE WHERE TABLE_SCHEMA = ")
	if schema != "" {
		sb.WriteArg(schema)
	} else {
		sb.WriteQuery("DATABASE()")
	}
	query, args := sb.WriteQuery(" AND TABLE_NAME = ").
		WriteArg(name).
		WriteQuery(" AND CONSTRAINT_NAME = 'PRIMARY' ORDER BY ORDINAL_POSITION").
		Build()

	rows, err := m.handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to query primary key").
			WithDetail("table", table)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan primary key column")
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "error iterating primary key columns")
	}
	return columns, nil
}

// QueryIncremental runs the ordered range query
func (m *mysqlDatabase) QueryIncremental(ctx context.Context, q core.Query) (core.Rows, error) {
	query, args := mysqlDialect.buildIncrementalQuery(q)

	rows, err := m.handle().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "incremental query failed").
			WithDetail("table", q.Table).
			WithDetail("query", query)
	}

	columns, err := rows.ColumnTypes()
	if err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read column types").
			WithDetail("table", q.Table)
	}

	r := &sqlRows{rows: rows}
	for _, c := range columns {
		r.names = append(r.names, c.Name())
		r.types = append(r.types, strings.ToUpper(c.DatabaseTypeName()))
	}
	return r, nil
}

// Close closes the connection pool
func (m *mysqlDatabase) Close() error {
	return m.handle().Close()
}

// sqlRows adapts *sql.Rows to core.Rows
type sqlRows struct {
	rows  *sql.Rows
	names []string
	types []string
}

func (r *sqlRows) Next() bool { return r.rows.Next() }
func (r *sqlRows) Err() error { return r.rows.Err() }
func (r *sqlRows) Close()     { _ = r.rows.Close() }

// Row scans the current row into a column map
func (r *sqlRows) Row() (map[string]interface{}, error) {
	values := make([]interface{}, len(r.names))
	ptrs := make([]interface{}, len(r.names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]interface{}, len(r.names))
	for i, name := range r.names {
		v, err := convertMySQLValue(r.types[i], values[i])
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to convert column").
				WithDetail("column", name)
		}
		row[name] = v
	}
	return row, nil
}

// convertMySQLValue turns text-protocol byte slices into typed values so a
// column yields the same Go type whether or not the query had arguments.
func convertMySQLValue(typeName string, v interface{}) (interface{}, error) {
	b, ok := v.([]byte)
	if !ok {
		return v, nil
	}

	s := string(b)
	if strings.HasPrefix(typeName, "UNSIGNED ") {
		return strconv.ParseUint(s, 10, 64)
	}

	switch typeName {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		return strconv.ParseInt(s, 10, 64)
	case "FLOAT", "DOUBLE":
		return strconv.ParseFloat(s, 64)
	default:
		// DECIMAL stays textual to keep its precision
		return s, nil
	}
}
