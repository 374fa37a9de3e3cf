package sqlsource

import (
	"strconv"
	"strings"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
)

// dialect captures the syntax differences between the supported databases
type dialect struct {
	name string
	// identQuote wraps identifiers: '`' for MySQL, '"' for PostgreSQL
	identQuote byte
	// positional selects $1-style placeholders instead of ?
	positional bool
}

var (
	mysqlDialect    = dialect{name: "mysql", identQuote: '`'}
	postgresDialect = dialect{name: "postgresql", identQuote: '"', positional: true}
)

// sqlBuilder provides fluent SQL query building
type sqlBuilder struct {
	d     dialect
	b     strings.Builder
	args  []interface{}
	nargs int
}

func newSQLBuilder(d dialect) *sqlBuilder {
	sb := &sqlBuilder{d: d}
	sb.b.Grow(128)
	return sb
}

// WriteQuery writes a SQL query part
func (sb *sqlBuilder) WriteQuery(query string) *sqlBuilder {
	sb.b.WriteString(query)
	return sb
}

// WriteIdentifier writes a quoted, possibly schema-qualified identifier.
// Embedded quote characters are doubled.
func (sb *sqlBuilder) WriteIdentifier(name string) *sqlBuilder {
	q := string(sb.d.identQuote)
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			sb.b.WriteByte('.')
		}
		sb.b.WriteString(q)
		sb.b.WriteString(strings.ReplaceAll(part, q, q+q))
		sb.b.WriteString(q)
	}
	return sb
}

// WriteArg writes a placeholder and records its argument
func (sb *sqlBuilder) WriteArg(v interface{}) *sqlBuilder {
	sb.nargs++
	if sb.d.positional {
		sb.b.WriteByte('$')
		sb.b.WriteString(strconv.Itoa(sb.nargs))
	} else {
		sb.b.WriteByte('?')
	}
	sb.args = append(sb.args, v)
	return sb
}

// WriteInt writes an integer value
func (sb *sqlBuilder) WriteInt(value int64) *sqlBuilder {
	sb.b.WriteString(strconv.FormatInt(value, 10))
	return sb
}

// Build returns the query text and its arguments
func (sb *sqlBuilder) Build() (string, []interface{}) {
	return sb.b.String(), sb.args
}

// buildIncrementalQuery renders
//
//	SELECT * FROM t [WHERE uc > ?] ORDER BY uc ASC [LIMIT n]
func (d dialect) buildIncrementalQuery(q core.Query) (string, []interface{}) {
	sb := newSQLBuilder(d).
		WriteQuery("SELECT * FROM ").
		WriteIdentifier(q.Table)

	if q.HasAfter {
		sb.WriteQuery(" WHERE ").
			WriteIdentifier(q.UpdateColumn).
			WriteQuery(" > ").
			WriteArg(q.After)
	}

	sb.WriteQuery(" ORDER BY ").
		WriteIdentifier(q.UpdateColumn).
		WriteQuery(" ASC")

	if q.Limit > 0 {
		sb.WriteQuery(" LIMIT ").WriteInt(int64(q.Limit))
	}

	return sb.Build()
}

// splitTableName separates an optional schema qualifier from a table name
func splitTableName(name string) (schema, table string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}
