package sqlsource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/sqlstream/pkg/connector/core"
)

// fakeDatabase is an in-memory core.Database. Update columns hold int64 or
// string values.
type fakeDatabase struct {
	mu           sync.Mutex
	tables       map[string][]map[string]interface{}
	primaryKeys  map[string][]string
	badRows      map[string]map[int]bool
	pingErr      error
	reconnectErr error
	queryErr     map[string]error

	pings      int
	reconnects int
	queries    []core.Query
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		tables:      make(map[string][]map[string]interface{}),
		primaryKeys: make(map[string][]string),
		badRows:     make(map[string]map[int]bool),
		queryErr:    make(map[string]error),
	}
}

func (f *fakeDatabase) addTable(name string, pk []string, rows ...map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tables[name] = append(f.tables[name], rows...)
	f.primaryKeys[name] = pk
}

func (f *fakeDatabase) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return f.pingErr
}

func (f *fakeDatabase) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	if f.reconnectErr == nil {
		f.pingErr = nil
	}
	return f.reconnectErr
}

func (f *fakeDatabase) PrimaryKey(_ context.Context, table string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk, ok := f.primaryKeys[table]
	if !ok {
		return nil, fmt.Errorf("table %q doesn't exist", table)
	}
	return pk, nil
}

func (f *fakeDatabase) QueryIncremental(_ context.Context, q core.Query) (core.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	if err := f.queryErr[q.Table]; err != nil {
		return nil, err
	}

	type indexed struct {
		row map[string]interface{}
		bad bool
	}
	var selected []indexed
	for i, row := range f.tables[q.Table] {
		if q.HasAfter && compareValues(row[q.UpdateColumn], q.After) <= 0 {
			continue
		}
		selected = append(selected, indexed{row: row, bad: f.badRows[q.Table][i]})
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return compareValues(selected[i].row[q.UpdateColumn], selected[j].row[q.UpdateColumn]) < 0
	})
	if q.Limit > 0 && len(selected) > q.Limit {
		selected = selected[:q.Limit]
	}

	rows := &fakeRows{pos: -1}
	for _, s := range selected {
		copied := make(map[string]interface{}, len(s.row))
		for k, v := range s.row {
			copied[k] = v
		}
		rows.rows = append(rows.rows, copied)
		rows.bad = append(rows.bad, s.bad)
	}
	return rows, nil
}

func (f *fakeDatabase) Close() error { return nil }

func (f *fakeDatabase) queryCount(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.queries {
		if q.Table == table {
			n++
		}
	}
	return n
}

func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == b:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}

	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case string:
		bv, _ := b.(string)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("unsupported update column value %T", a))
}

type fakeRows struct {
	rows []map[string]interface{}
	bad  []bool
	pos  int
	err  error
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Row() (map[string]interface{}, error) {
	if r.bad[r.pos] {
		return nil, fmt.Errorf("row %d: unsupported column type", r.pos)
	}
	return r.rows[r.pos], nil
}

func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) Close()     {}
